// Package wakeword arms the wake word stage. The local backend drives an
// injected detection engine; the remote MQTT backend relies on hotword
// detected messages arriving over Hermes, so there is nothing to run
// locally beyond the toggle state.
package wakeword

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
var ErrDisabled = errors.New("wake word disabled")

// Detector is a local wake word engine. Start keeps detecting until the
// context is cancelled and invokes onDetected for every hit.
type Detector interface {
	Start(ctx context.Context, onDetected func(wakewordID string)) error
	Stop()
}

// Announcer publishes local detections over Hermes for other sites.
type Announcer interface {
	HotWordDetected(wakewordID string) services.State
}

// Service is the wake word pipeline stage.
type Service struct {
	opt       config.WakeWordOption
	detector  Detector
	announcer Announcer
	emitter   services.Emitter

	mu      sync.Mutex
	state   services.State
	running bool
	cancel  context.CancelFunc
}

// New creates the service for the configured backend.
func New(opt config.WakeWordOption, detector Detector, announcer Announcer, emitter services.Emitter) *Service {
	st := services.Pending()
	if opt == config.WakeWordDisabled {
		st = services.Disabled()
	}
	return &Service{opt: opt, detector: detector, announcer: announcer, emitter: emitter, state: st}
}

// Enabled reports whether wake word detection is configured.
func (s *Service) Enabled() bool { return s.opt != config.WakeWordDisabled }

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

// StartDetection arms the wake word engine.
func (s *Service) StartDetection(ctx context.Context) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	detectCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	if s.opt == config.WakeWordRemoteMQTT {
		// Detections arrive over Hermes; nothing to run locally.
		s.setState(services.Success())
		return nil
	}

	s.setState(services.Loading())
	go func() {
		err := s.detector.Start(detectCtx, s.onDetected)
		if err != nil && detectCtx.Err() == nil {
			slog.Warn("wakeword: detector failed", slog.String("error", err.Error()))
			s.setState(services.Exception(err))
			s.emitter.Dispatch(action.Action{
				Kind:   action.HotWordError,
				Source: action.SourceLocal,
				Err:    err,
			})
		}
	}()
	s.setState(services.Success())
	return nil
}

// StopDetection disarms the engine.
func (s *Service) StopDetection() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.opt == config.WakeWordLocal && s.detector != nil {
		s.detector.Stop()
	}
}

func (s *Service) onDetected(wakewordID string) {
	slog.Info("wakeword: detected", slog.String("wakeword_id", wakewordID))
	if s.announcer != nil {
		s.announcer.HotWordDetected(wakewordID)
	}
	s.emitter.Dispatch(action.Action{
		Kind:       action.HotWordDetected,
		Source:     action.SourceLocal,
		WakeWordID: wakewordID,
	})
}
