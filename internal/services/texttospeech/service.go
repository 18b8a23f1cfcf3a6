// Package texttospeech synthesizes a spoken response. The HTTP backend
// returns WAV audio directly; the MQTT backend publishes a Hermes say
// request and the audio comes back on the site's playBytes topic.
package texttospeech

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
)

// ErrDisabled is returned when the stage is intentionally turned off.
var ErrDisabled = errors.New("text to speech disabled")

// HTTPClient is the remote HTTP backend contract.
type HTTPClient interface {
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

// MQTTClient is the remote MQTT backend contract.
type MQTTClient interface {
	Say(sessionID, text string) services.State
}

// Service is the text-to-speech pipeline stage.
type Service struct {
	opt     config.TextToSpeechOption
	http    HTTPClient
	mqtt    MQTTClient
	emitter services.Emitter

	mu    sync.Mutex
	state services.State
}

// New creates the service for the configured backend.
func New(opt config.TextToSpeechOption, http HTTPClient, mqtt MQTTClient, emitter services.Emitter) *Service {
	st := services.Success()
	if opt == config.TextToSpeechDisabled {
		st = services.Disabled()
	}
	return &Service{opt: opt, http: http, mqtt: mqtt, emitter: emitter, state: st}
}

// Enabled reports whether this stage can synthesize at all.
func (s *Service) Enabled() bool { return s.opt != config.TextToSpeechDisabled }

// State returns the service health.
func (s *Service) State() services.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st services.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Say synthesizes text; the audio re-enters the dialog as a PlayAudio
// action (HTTP) or through the MQTT playBytes subscription.
func (s *Service) Say(ctx context.Context, sessionID, text string) error {
	if !s.Enabled() {
		s.setState(services.Disabled())
		return ErrDisabled
	}
	slog.DebugContext(ctx, "texttospeech: say",
		slog.String("session_id", sessionID), slog.String("text", text))

	switch s.opt {
	case config.TextToSpeechRemoteHTTP:
		go func() {
			wav, err := s.http.TextToSpeech(ctx, text)
			if err != nil {
				s.setState(services.Exception(err))
				s.emitter.Dispatch(action.Action{
					Kind:      action.PlayFinished,
					Source:    action.SourceHTTPAPI,
					SessionID: sessionID,
					Err:       err,
				})
				return
			}
			s.setState(services.Success())
			s.emitter.Dispatch(action.Action{
				Kind:      action.PlayAudio,
				Source:    action.SourceHTTPAPI,
				SessionID: sessionID,
				Audio:     wav,
			})
		}()

	case config.TextToSpeechRemoteMQTT:
		s.setState(s.mqtt.Say(sessionID, text))
	}
	return nil
}
