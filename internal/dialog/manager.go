// Package dialog implements the session state machine that orchestrates
// the voice pipeline. The manager consumes actions one at a time from the
// service middleware, advances the active session through the recording,
// transcription, recognition, handling and playback stages, and publishes
// one event per transition.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/pkg/action"
	"github.com/hermodvoice/hermod/pkg/events"
)

// ErrAborted ends a session that was cancelled before completing.
var ErrAborted = errors.New("session aborted")

// ErrSuperseded ends a session that was replaced by a newer start request.
var ErrSuperseded = errors.New("session superseded")

// ErrTimeout ends a session that exceeded the session timeout.
var ErrTimeout = errors.New("session timed out")

// SpeechToText is the transcription stage as seen by the manager.
type SpeechToText interface {
	Enabled() bool
	Start(ctx context.Context, sessionID string) error
	End(ctx context.Context, sessionID string, fromMqtt bool)
	Transcribe(ctx context.Context, sessionID string, pcm []byte) error
	Abort(sessionID string)
}

// IntentRecognition is the recognition stage.
type IntentRecognition interface {
	Enabled() bool
	Recognize(ctx context.Context, sessionID, text string) error
}

// IntentHandling is the handling stage.
type IntentHandling interface {
	Enabled() bool
	Handle(ctx context.Context, sessionID, intentName string, intent json.RawMessage)
}

// TextToSpeech is the synthesis stage.
type TextToSpeech interface {
	Enabled() bool
	Say(ctx context.Context, sessionID, text string) error
}

// AudioPlaying is the playback stage.
type AudioPlaying interface {
	Enabled() bool
	Play(ctx context.Context, sessionID, requestID string, wav []byte) error
}

// WakeWord is the wake word stage.
type WakeWord interface {
	Enabled() bool
	StartDetection(ctx context.Context) error
	StopDetection()
}

// Notifier receives session milestones. The middleware uses it to resolve
// blocked web requests; a nil notifier is valid.
type Notifier interface {
	SessionStarted(sessionID string, source action.Source, correlation string)
	TranscriptReady(sessionID, text string)
	IntentReady(sessionID, intentName string, intent json.RawMessage)
	SessionEnded(sessionID string, err error)
}

// Aborter lets the manager cancel its own session asynchronously, from the
// session timeout timer. The middleware queue satisfies it.
type Aborter interface {
	Dispatch(a action.Action)
}

// Manager is the dialog state machine. Handle must only be called from the
// middleware consumer goroutine; state and session are written only there,
// behind mu so the snapshot accessors can be read from any goroutine.
type Manager struct {
	cfg  *config.Config
	bus  *events.Bus
	log  *slog.Logger
	stt  SpeechToText
	nlu  IntentRecognition
	hand IntentHandling
	tts  TextToSpeech
	play AudioPlaying
	wake WakeWord

	notifier Notifier
	aborter  Aborter

	mu      sync.Mutex
	state   State
	session *Session
	timer   *time.Timer
}

// New builds a manager over the pipeline services.
func New(cfg *config.Config, bus *events.Bus, stt SpeechToText, nlu IntentRecognition,
	hand IntentHandling, tts TextToSpeech, play AudioPlaying, wake WakeWord) *Manager {
	return &Manager{
		cfg:   cfg,
		bus:   bus,
		log:   slog.Default().With("component", "dialog"),
		stt:   stt,
		nlu:   nlu,
		hand:  hand,
		tts:   tts,
		play:  play,
		wake:  wake,
		state: Idle,
	}
}

// SetNotifier registers the session milestone sink. Must be called before
// the first action is handled.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetAborter registers the queue used for self-dispatched timeouts.
func (m *Manager) SetAborter(a Aborter) { m.aborter = a }

// State reports the current machine state. Safe to call from any goroutine.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID reports the active session id, or empty when idle. Safe to call
// from any goroutine.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setSession(s *Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}

// Start arms wake word detection when one is configured and the manager
// owns the dialog locally.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.DialogManagement != config.DialogManagementLocal {
		return nil
	}
	if !m.wake.Enabled() {
		return nil
	}
	if err := m.wake.StartDetection(ctx); err != nil {
		return fmt.Errorf("start wake word detection: %w", err)
	}
	m.setState(AwaitingHotWord)
	return nil
}

// Stop cancels any active session and disarms wake word detection.
func (m *Manager) Stop(ctx context.Context) {
	if m.session != nil {
		m.endSession(ctx, ErrAborted, true)
	}
	m.wake.StopDetection()
	m.setState(Idle)
}

// Handle advances the state machine by one action.
func (m *Manager) Handle(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.Abort:
		m.handleAbort(ctx, a)
		return
	case action.StartListening:
		m.handleStartListening(ctx, a)
		return
	case action.HotWordError:
		m.log.Warn("wake word error", "error", a.Err)
		return
	}

	// A fresh web seed supersedes whatever is running, like StartListening.
	if a.Source == action.SourceHTTPAPI && a.SessionID == "" && m.session != nil {
		switch a.Kind {
		case action.AsrTextCaptured, action.SayText, action.PlayAudio:
			m.endSession(ctx, ErrSuperseded, true)
			m.startSession(ctx, a)
			return
		}
	}

	if m.dropStale(a) {
		return
	}

	switch m.state {
	case Idle, AwaitingHotWord:
		m.handleWhileIdle(ctx, a)
	case RecordingIntent:
		m.handleWhileRecording(ctx, a)
	case TranscribingIntent:
		m.handleWhileTranscribing(ctx, a)
	case RecognizingIntent:
		m.handleWhileRecognizing(ctx, a)
	case HandlingIntent:
		m.handleWhileHandling(ctx, a)
	case PlayingAudio:
		m.handleWhilePlaying(ctx, a)
	}
}

// dropStale filters actions carrying a session id that is not the active
// session. Stale actions produce no transition; only an ignored marker.
func (m *Manager) dropStale(a action.Action) bool {
	if a.SessionID == "" {
		return false
	}
	if m.session != nil && m.session.ID == a.SessionID {
		return false
	}
	// PlayAudio for a remote playBytes request has no session to match.
	if a.Kind == action.PlayAudio && a.RequestID != "" && m.session == nil {
		return false
	}
	m.log.Debug("ignoring stale action",
		"kind", a.Kind.String(), "session_id", a.SessionID, "state", m.state.String())
	m.publish(events.Event{
		Type:        events.ActionIgnored,
		Description: a.Kind.String(),
		SessionID:   a.SessionID,
		Status:      events.StatusSuccess,
	})
	return true
}

func (m *Manager) handleAbort(ctx context.Context, a action.Action) {
	if m.session == nil {
		return
	}
	if a.SessionID != "" && a.SessionID != m.session.ID {
		return
	}
	m.endSession(ctx, ErrAborted, true)
}

// handleStartListening starts a new session. An active session is
// superseded first; a new start always wins.
func (m *Manager) handleStartListening(ctx context.Context, a action.Action) {
	if m.cfg.DialogManagement != config.DialogManagementLocal {
		m.log.Debug("dialog management is remote, ignoring start", "source", a.Source.String())
		return
	}
	if m.session != nil {
		m.endSession(ctx, ErrSuperseded, true)
	}
	m.startSession(ctx, a)
}

// handleWhileIdle covers seeds that open a session without an explicit
// start: a wake word, text to recognize, text to speak, or audio to play.
func (m *Manager) handleWhileIdle(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.HotWordDetected:
		if m.cfg.DialogManagement != config.DialogManagementLocal {
			return
		}
		m.startSession(ctx, a)
	case action.AsrTextCaptured, action.SayText, action.PlayAudio:
		m.startSession(ctx, a)
	default:
		m.unexpected(a)
	}
}

func (m *Manager) handleWhileRecording(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.StopListening:
		m.setState(TranscribingIntent)
		m.publish(events.Event{
			Type:      events.RecordingStopped,
			SessionID: m.session.ID,
			Status:    events.StatusLoading,
		})
		m.stt.End(ctx, m.session.ID, a.Source == action.SourceMqtt)
	case action.AsrError:
		m.fail(ctx, events.AsrError, a.Err)
	default:
		m.unexpected(a)
	}
}

func (m *Manager) handleWhileTranscribing(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.AsrTextCaptured:
		m.session.Transcript = a.Text
		if m.notifier != nil {
			m.notifier.TranscriptReady(m.session.ID, a.Text)
		}
		if m.session.Goal == GoalTranscript {
			m.endSession(ctx, nil, true)
			return
		}
		m.setState(RecognizingIntent)
		m.publish(events.Event{
			Type:        events.AsrTextCaptured,
			Description: a.Text,
			SessionID:   m.session.ID,
			Status:      events.StatusSuccess,
		})
		if err := m.nlu.Recognize(ctx, m.session.ID, a.Text); err != nil {
			m.fail(ctx, events.IntentNotRecognized, err)
		}
	case action.AsrError:
		m.fail(ctx, events.AsrError, a.Err)
	case action.StopListening:
		// Already stopping; silence detection and a button release can race.
		m.log.Debug("duplicate stop while transcribing", "session_id", m.session.ID)
	default:
		m.unexpected(a)
	}
}

func (m *Manager) handleWhileRecognizing(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.IntentRecognized:
		m.session.IntentName = a.IntentName
		m.session.Intent = a.Intent
		if m.notifier != nil {
			m.notifier.IntentReady(m.session.ID, a.IntentName, a.Intent)
		}
		m.setState(HandlingIntent)
		m.publish(events.Event{
			Type:        events.IntentRecognized,
			Description: a.IntentName,
			SessionID:   m.session.ID,
			Status:      events.StatusSuccess,
		})
		m.hand.Handle(ctx, m.session.ID, a.IntentName, a.Intent)
	case action.IntentNotRecognized:
		err := a.Err
		if err == nil {
			err = errors.New("no intent recognized")
		}
		m.fail(ctx, events.IntentNotRecognized, err)
	default:
		m.unexpected(a)
	}
}

func (m *Manager) handleWhileHandling(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.IntentHandled:
		if a.Text != "" && m.tts.Enabled() {
			m.setState(PlayingAudio)
			m.publish(events.Event{
				Type:      events.IntentHandled,
				SessionID: m.session.ID,
				Status:    events.StatusSuccess,
			})
			if err := m.tts.Say(ctx, m.session.ID, a.Text); err != nil {
				m.endSession(ctx, nil, true)
			}
			return
		}
		m.endSession(ctx, nil, true)
	default:
		m.unexpected(a)
	}
}

func (m *Manager) handleWhilePlaying(ctx context.Context, a action.Action) {
	switch a.Kind {
	case action.PlayAudio:
		if a.RequestID != "" {
			m.session.RequestID = a.RequestID
		}
		m.publish(events.Event{
			Type:      events.PlayStarted,
			SessionID: m.session.ID,
			Status:    events.StatusLoading,
		})
		if err := m.play.Play(ctx, m.session.ID, m.session.RequestID, a.Audio); err != nil {
			m.endSession(ctx, nil, true)
		}
	case action.PlayFinished:
		if a.Err != nil {
			m.log.Warn("playback failed", "session_id", m.session.ID, "error", a.Err)
		}
		m.endSession(ctx, nil, true)
	default:
		m.unexpected(a)
	}
}

// startSession opens a session from a seed action and moves straight to the
// stage the seed implies.
func (m *Manager) startSession(ctx context.Context, a action.Action) {
	id := a.SessionID
	if id == "" {
		id = xid.New().String()
	}
	s := &Session{
		ID:      id,
		Source:  a.Source,
		Started: time.Now(),
	}
	m.setSession(s)
	m.armTimeout(id)

	if m.notifier != nil {
		m.notifier.SessionStarted(id, a.Source, a.Correlation)
	}

	switch {
	case a.Kind == action.PlayAudio:
		s.Goal = GoalPlay
		s.RequestID = a.RequestID
		m.setState(PlayingAudio)
		m.publish(events.Event{Type: events.PlayStarted, SessionID: id, Status: events.StatusLoading})
		if err := m.play.Play(ctx, id, a.RequestID, a.Audio); err != nil {
			m.fail(ctx, events.PlayFinished, err)
		}

	case a.Kind == action.SayText:
		s.Goal = GoalSpeak
		m.setState(PlayingAudio)
		m.publish(events.Event{Type: events.SessionStarted, SessionID: id, Status: events.StatusLoading})
		if err := m.tts.Say(ctx, id, a.Text); err != nil {
			m.fail(ctx, events.PlayFinished, err)
		}

	case a.Kind == action.AsrTextCaptured:
		// Text seed: skip capture and transcription.
		s.Goal = GoalIntent
		s.Transcript = a.Text
		m.setState(RecognizingIntent)
		m.publish(events.Event{Type: events.SessionStarted, SessionID: id, Status: events.StatusLoading})
		if err := m.nlu.Recognize(ctx, id, a.Text); err != nil {
			m.fail(ctx, events.IntentNotRecognized, err)
		}

	case len(a.Audio) > 0:
		// Prerecorded audio seed: transcription only.
		s.Goal = GoalTranscript
		m.setState(TranscribingIntent)
		m.publish(events.Event{Type: events.SessionStarted, SessionID: id, Status: events.StatusLoading})
		if err := m.stt.Transcribe(ctx, id, a.Audio); err != nil {
			m.fail(ctx, events.AsrError, err)
		}

	default:
		// Microphone seed: start recording.
		s.Goal = GoalIntent
		m.setState(RecordingIntent)
		typ := events.SessionStarted
		if a.Kind == action.HotWordDetected {
			typ = events.HotWordDetected
		}
		m.publish(events.Event{Type: typ, Description: a.WakeWordID, SessionID: id, Status: events.StatusLoading})
		if err := m.stt.Start(ctx, id); err != nil {
			m.fail(ctx, events.AsrError, err)
		}
	}
}

// fail ends the session on a pipeline error, publishing exactly one error
// event for the failed stage.
func (m *Manager) fail(ctx context.Context, typ events.Type, err error) {
	m.log.Warn("session failed", "session_id", m.session.ID, "stage", string(typ), "error", err)
	m.publish(events.Event{
		Type:        typ,
		Description: err.Error(),
		SessionID:   m.session.ID,
		Status:      events.StatusError,
	})
	m.endSessionErr(ctx, err)
}

// endSession finishes the active session. When publishEnded is set a
// session ended event is published; error paths publish their own stage
// event instead and go through endSessionErr.
func (m *Manager) endSession(ctx context.Context, cause error, publishEnded bool) {
	s := m.session
	if s == nil {
		return
	}
	if publishEnded {
		ev := events.Event{Type: events.SessionEnded, SessionID: s.ID, Status: events.StatusSuccess}
		if cause != nil {
			ev.Status = events.StatusError
			ev.Description = cause.Error()
		}
		m.publish(ev)
	}
	m.endSessionErr(ctx, cause)
}

func (m *Manager) endSessionErr(ctx context.Context, cause error) {
	s := m.session
	if s == nil {
		return
	}
	m.disarmTimeout()
	m.stt.Abort(s.ID)
	m.setSession(nil)
	if m.wake.Enabled() && m.cfg.DialogManagement == config.DialogManagementLocal {
		m.setState(AwaitingHotWord)
	} else {
		m.setState(Idle)
	}
	if m.notifier != nil {
		m.notifier.SessionEnded(s.ID, cause)
	}
	m.log.Info("session ended",
		"session_id", s.ID,
		"source", s.Source.String(),
		"duration", time.Since(s.Started),
		"error", cause)
}

// Reset force-ends the active session after a pipeline fault and returns
// the machine to its rest state. The middleware calls it from panic
// recovery, on the consumer goroutine.
func (m *Manager) Reset(ctx context.Context, cause error) {
	if m.session != nil {
		m.endSessionErr(ctx, cause)
		return
	}
	if m.wake.Enabled() && m.cfg.DialogManagement == config.DialogManagementLocal {
		m.setState(AwaitingHotWord)
	} else {
		m.setState(Idle)
	}
}

func (m *Manager) armTimeout(sessionID string) {
	m.disarmTimeout()
	if m.aborter == nil || m.cfg.SessionTimeout <= 0 {
		return
	}
	m.timer = time.AfterFunc(m.cfg.SessionTimeout, func() {
		m.aborter.Dispatch(action.Action{
			Kind:      action.Abort,
			Source:    action.SourceLocal,
			SessionID: sessionID,
			Err:       ErrTimeout,
		})
	})
}

func (m *Manager) disarmTimeout() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) unexpected(a action.Action) {
	m.log.Debug("action not valid in state",
		"kind", a.Kind.String(), "state", m.state.String())
	m.publish(events.Event{
		Type:        events.ActionIgnored,
		Description: a.Kind.String(),
		SessionID:   a.SessionID,
		Status:      events.StatusSuccess,
	})
}

func (m *Manager) publish(ev events.Event) {
	ev.Timestamp = time.Now()
	m.bus.Publish(ev)
}
