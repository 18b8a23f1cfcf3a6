// Package audioplaying plays WAV audio through the configured backend:
// the local speaker, a remote HTTP play-wav endpoint, or a remote Hermes
// audio server.
package audioplaying

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rs/xid"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
)

// ErrDisabled is returned when the stage is intentionally turned off.
var ErrDisabled = errors.New("audio playing disabled")

// Player is the local playback collaborator. Play blocks until the audio
// finished.
type Player interface {
	Play(wav []byte) error
}

// HTTPClient is the remote HTTP backend contract.
type HTTPClient interface {
	PlayWav(ctx context.Context, wav []byte) error
}

// MQTTClient is the remote MQTT backend contract.
type MQTTClient interface {
	PlayBytes(requestID string, wav []byte) services.State
	PlayFinished(sessionID, requestID string) services.State
}

// Service is the audio playing pipeline stage.
type Service struct {
	opt     config.AudioPlayingOption
	player  Player
	http    HTTPClient
	mqtt    MQTTClient
	emitter services.Emitter

	mu    sync.Mutex
	state services.State
}

// New creates the service for the configured backend.
func New(opt config.AudioPlayingOption, player Player, http HTTPClient, mqtt MQTTClient, emitter services.Emitter) *Service {
	st := services.Success()
	if opt == config.AudioPlayingDisabled {
		st = services.Disabled()
	}
	return &Service{opt: opt, player: player, http: http, mqtt: mqtt, emitter: emitter, state: st}
}

// Enabled reports whether this stage can play at all.
func (s *Service) Enabled() bool { return s.opt != config.AudioPlayingDisabled }

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

// Play plays WAV audio and reports completion as a PlayFinished action.
// requestID is set when the audio came from a remote playBytes request and
// must be acknowledged over MQTT after local playback.
func (s *Service) Play(ctx context.Context, sessionID, requestID string, wav []byte) error {
	if !s.Enabled() {
		s.setState(services.Disabled())
		return ErrDisabled
	}
	slog.DebugContext(ctx, "audioplaying: play",
		slog.String("session_id", sessionID), slog.Int("data_size", len(wav)))

	switch s.opt {
	case config.AudioPlayingLocal:
		go func() {
			err := s.player.Play(wav)
			if err != nil {
				s.setState(services.Exception(err))
			} else {
				s.setState(services.Success())
			}
			if requestID != "" && s.mqtt != nil {
				s.mqtt.PlayFinished(sessionID, requestID)
			}
			s.finished(sessionID, requestID, err)
		}()

	case config.AudioPlayingRemoteHTTP:
		go func() {
			err := s.http.PlayWav(ctx, wav)
			if err != nil {
				s.setState(services.Exception(err))
			} else {
				s.setState(services.Success())
			}
			s.finished(sessionID, requestID, err)
		}()

	case config.AudioPlayingRemoteMQTT:
		// Fire and forget: the remote audio server owns completion; the
		// dialog does not wait for its playFinished.
		id := requestID
		if id == "" {
			id = xid.New().String()
		}
		st := s.mqtt.PlayBytes(id, wav)
		s.setState(st)
		s.finished(sessionID, requestID, st.Err)
	}
	return nil
}

func (s *Service) finished(sessionID, requestID string, err error) {
	s.emitter.Dispatch(action.Action{
		Kind:      action.PlayFinished,
		Source:    action.SourceLocal,
		SessionID: sessionID,
		RequestID: requestID,
		Err:       err,
	})
}
