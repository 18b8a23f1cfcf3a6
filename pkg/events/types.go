package events

import "time"

// Type identifies the kind of event flowing through the system.
type Type string

const (
	SessionStarted      Type = "session.started"
	SessionEnded        Type = "session.ended"
	HotWordDetected     Type = "hotword.detected"
	RecordingStopped    Type = "recording.stopped"
	AsrTextCaptured     Type = "asr.textCaptured"
	AsrError            Type = "asr.error"
	IntentRecognized    Type = "intent.recognized"
	IntentNotRecognized Type = "intent.notRecognized"
	IntentHandled       Type = "intent.handled"
	PlayStarted         Type = "play.started"
	PlayFinished        Type = "play.finished"
	ServiceStateChanged Type = "service.stateChanged"
	MiddlewareException Type = "middleware.exception"
	ActionIgnored       Type = "action.ignored"
)

// Status reports the progress stage an event describes.
type Status int

const (
	StatusLoading Status = iota
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an immutable record published after every meaningful transition.
type Event struct {
	Type        Type      `json:"type"`
	Description string    `json:"description,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Status      Status    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}
