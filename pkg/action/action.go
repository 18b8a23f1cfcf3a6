// Package action defines the closed set of dialog actions that drive the
// session state machine. Actions are immutable commands produced by the
// local UI/hardware, the Hermes MQTT transport, or the embedded web server,
// and are funneled through the service middleware one at a time.
package action

import "encoding/json"

// Source identifies the channel an action originated from.
type Source int

const (
	SourceLocal Source = iota
	SourceMqtt
	SourceHTTPAPI
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceMqtt:
		return "mqtt"
	case SourceHTTPAPI:
		return "http_api"
	default:
		return "unknown"
	}
}

// Kind enumerates every dialog action.
type Kind int

const (
	// StartListening begins a new session: user pressed the microphone,
	// a remote peer requested a session, or an HTTP caller posted input.
	StartListening Kind = iota
	// StopListening ends the recording stage (button release, silence
	// detected locally, or a remote stopListening message).
	StopListening
	// HotWordDetected fires when a wake word was spotted.
	HotWordDetected
	// HotWordError reports a wake word engine failure.
	HotWordError
	// AsrTextCaptured carries a finished transcription.
	AsrTextCaptured
	// AsrError reports a failed transcription.
	AsrError
	// IntentRecognized carries a recognized intent payload.
	IntentRecognized
	// IntentNotRecognized reports that no intent matched the transcript.
	IntentNotRecognized
	// IntentHandled reports intent handling completion; Text carries an
	// optional spoken response.
	IntentHandled
	// SayText asks for a text to be synthesized and played outside a
	// recognition cycle.
	SayText
	// PlayAudio carries synthesized or remote audio to play.
	PlayAudio
	// PlayFinished reports that audio playback completed.
	PlayFinished
	// Abort cancels the active session unconditionally.
	Abort
)

func (k Kind) String() string {
	switch k {
	case StartListening:
		return "startListening"
	case StopListening:
		return "stopListening"
	case HotWordDetected:
		return "hotWordDetected"
	case HotWordError:
		return "hotWordError"
	case AsrTextCaptured:
		return "asrTextCaptured"
	case AsrError:
		return "asrError"
	case IntentRecognized:
		return "intentRecognized"
	case IntentNotRecognized:
		return "intentNotRecognized"
	case IntentHandled:
		return "intentHandled"
	case SayText:
		return "sayText"
	case PlayAudio:
		return "playAudio"
	case PlayFinished:
		return "playFinished"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Action is one immutable command for the dialog manager.
//
// SessionID is empty for actions that either start a session or belong to
// local flows without remote session semantics; the manager adopts the
// active session in that case. A non-empty SessionID that does not match
// the active session marks the action stale and it is dropped.
type Action struct {
	Kind      Kind
	Source    Source
	SessionID string

	// Text carries a transcript, the text to recognize, or a spoken
	// response depending on Kind.
	Text string

	// IntentName and Intent carry the recognized intent for
	// IntentRecognized and IntentHandled.
	IntentName string
	Intent     json.RawMessage

	// Audio carries prerecorded input for StartListening or WAV data for
	// PlayAudio.
	Audio []byte

	// WakeWordID names the detected wake word model.
	WakeWordID string

	// RequestID correlates PlayAudio/PlayFinished with a remote playBytes
	// request.
	RequestID string

	// Correlation ties a blocking web request to the session its seed
	// action opens. Set by the middleware on the seed, echoed back when
	// the session starts.
	Correlation string

	// Err carries the cause for error kinds.
	Err error
}
