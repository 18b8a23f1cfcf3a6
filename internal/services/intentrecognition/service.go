// Package intentrecognition resolves a transcript into a structured intent
// through the configured backend.
package intentrecognition

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
)

// ErrDisabled is returned when the stage is intentionally turned off.
var ErrDisabled = errors.New("intent recognition disabled")

// HTTPClient is the remote HTTP backend contract.
type HTTPClient interface {
	RecognizeIntent(ctx context.Context, text string) ([]byte, error)
}

// MQTTClient is the remote MQTT backend contract. The recognition result
// arrives asynchronously on the Hermes intent topics.
type MQTTClient interface {
	Query(sessionID, text string) services.State
}

// Service is the intent recognition pipeline stage.
type Service struct {
	opt     config.IntentRecognitionOption
	http    HTTPClient
	mqtt    MQTTClient
	emitter services.Emitter

	mu    sync.Mutex
	state services.State
}

// New creates the service for the configured backend.
func New(opt config.IntentRecognitionOption, http HTTPClient, mqtt MQTTClient, emitter services.Emitter) *Service {
	st := services.Success()
	if opt == config.IntentRecognitionDisabled {
		st = services.Disabled()
	}
	return &Service{opt: opt, http: http, mqtt: mqtt, emitter: emitter, state: st}
}

// Enabled reports whether this stage can recognize at all.
func (s *Service) Enabled() bool { return s.opt != config.IntentRecognitionDisabled }

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

// Recognize resolves text into an intent. The result re-enters the dialog
// as an IntentRecognized or IntentNotRecognized action.
func (s *Service) Recognize(ctx context.Context, sessionID, text string) error {
	if !s.Enabled() {
		s.setState(services.Disabled())
		return ErrDisabled
	}
	slog.DebugContext(ctx, "intentrecognition: recognize",
		slog.String("session_id", sessionID), slog.String("text", text))

	switch s.opt {
	case config.IntentRecognitionRemoteHTTP:
		go s.recognizeHTTP(ctx, sessionID, text)
	case config.IntentRecognitionRemoteMQTT:
		s.setState(s.mqtt.Query(sessionID, text))
	}
	return nil
}

// rhasspyIntent is the shape of a text-to-intent response.
type rhasspyIntent struct {
	Intent struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"intent"`
}

func (s *Service) recognizeHTTP(ctx context.Context, sessionID, text string) {
	body, err := s.http.RecognizeIntent(ctx, text)
	if err != nil {
		s.setState(services.Exception(err))
		s.emitter.Dispatch(action.Action{
			Kind:      action.IntentNotRecognized,
			Source:    action.SourceHTTPAPI,
			SessionID: sessionID,
			Text:      text,
			Err:       err,
		})
		return
	}
	s.setState(services.Success())

	var parsed rhasspyIntent
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Intent.Name == "" {
		s.emitter.Dispatch(action.Action{
			Kind:      action.IntentNotRecognized,
			Source:    action.SourceHTTPAPI,
			SessionID: sessionID,
			Text:      text,
		})
		return
	}

	s.emitter.Dispatch(action.Action{
		Kind:       action.IntentRecognized,
		Source:     action.SourceHTTPAPI,
		SessionID:  sessionID,
		Text:       text,
		IntentName: parsed.Intent.Name,
		Intent:     json.RawMessage(body),
	})
}
