package dialog

import (
	"encoding/json"
	"time"

	"github.com/hermodvoice/hermod/pkg/action"
)

// State is the dialog manager position in the spoken interaction cycle.
type State int

const (
	Idle State = iota
	AwaitingHotWord
	RecordingIntent
	TranscribingIntent
	RecognizingIntent
	HandlingIntent
	PlayingAudio
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingHotWord:
		return "awaiting_hot_word"
	case RecordingIntent:
		return "recording_intent"
	case TranscribingIntent:
		return "transcribing_intent"
	case RecognizingIntent:
		return "recognizing_intent"
	case HandlingIntent:
		return "handling_intent"
	case PlayingAudio:
		return "playing_audio"
	default:
		return "unknown"
	}
}

// Goal is what a session was started to produce. A full spoken interaction
// runs to GoalIntent; sessions seeded by the HTTP API may stop earlier.
type Goal int

const (
	// GoalIntent is the full cycle: record, transcribe, recognize, handle,
	// respond.
	GoalIntent Goal = iota
	// GoalTranscript stops after transcription.
	GoalTranscript
	// GoalSpeak synthesizes and plays a given text, then ends.
	GoalSpeak
	// GoalPlay plays given audio, then ends.
	GoalPlay
)

// Session is the bookkeeping for one end-to-end interaction. It is mutated
// exclusively by the dialog manager on the serialized action path, so no
// locking is needed.
type Session struct {
	ID      string
	Source  action.Source
	Goal    Goal
	Started time.Time

	Transcript string
	IntentName string
	Intent     json.RawMessage

	// RequestID tracks a remote playBytes request that must be
	// acknowledged after playback.
	RequestID string
}
