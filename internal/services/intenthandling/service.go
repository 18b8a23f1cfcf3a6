// Package intenthandling forwards recognized intents to their handler: a
// remote HTTP endpoint, Home Assistant (as event or intent), or nobody.
// With the with_recognition mode the recognition server already handled
// the intent and this stage only acknowledges completion.
package intenthandling

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
var ErrDisabled = errors.New("intent handling disabled")

// HTTPClient covers the remote and Home Assistant handling calls. The
// remote handler returns its response body; a spoken answer is parsed from
// it.
type HTTPClient interface {
	IntentHandling(ctx context.Context, intent []byte) ([]byte, error)
	HassEvent(ctx context.Context, intent []byte, intentName string) error
	HassIntent(ctx context.Context, intent []byte) error
}

// Service is the intent handling pipeline stage.
type Service struct {
	opt     config.IntentHandlingOption
	http    HTTPClient
	emitter services.Emitter

	mu    sync.Mutex
	state services.State
}

// New creates the service for the configured mode.
func New(opt config.IntentHandlingOption, http HTTPClient, emitter services.Emitter) *Service {
	st := services.Success()
	if opt == config.IntentHandlingDisabled {
		st = services.Disabled()
	}
	return &Service{opt: opt, http: http, emitter: emitter, state: st}
}

// Enabled reports whether handling performs any work. with_recognition
// counts as enabled: completion is still reported.
func (s *Service) Enabled() bool { return s.opt != config.IntentHandlingDisabled }

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

// handlerResponse is the optional response of a remote intent handler;
// speech.text asks the dialog to speak an answer.
type handlerResponse struct {
	Speech struct {
		Text string `json:"text"`
	} `json:"speech"`
}

// Handle forwards the intent and reports completion as an IntentHandled
// action, carrying the spoken response when the handler provides one.
func (s *Service) Handle(ctx context.Context, sessionID, intentName string, intent json.RawMessage) {
	slog.DebugContext(ctx, "intenthandling: handle",
		slog.String("session_id", sessionID), slog.String("intent", intentName))

	switch s.opt {
	case config.IntentHandlingDisabled:
		s.complete(sessionID, nil, nil)

	case config.IntentHandlingWithRecognition:
		// Handled upstream; the recognition payload embeds the answer.
		s.complete(sessionID, intent, nil)

	case config.IntentHandlingRemoteHTTP:
		go func() {
			resp, err := s.http.IntentHandling(ctx, intent)
			s.finish(sessionID, resp, err)
		}()

	case config.IntentHandlingHassEvent:
		go func() {
			err := s.http.HassEvent(ctx, intent, intentName)
			s.finish(sessionID, nil, err)
		}()

	case config.IntentHandlingHassIntent:
		go func() {
			err := s.http.HassIntent(ctx, intent)
			s.finish(sessionID, nil, err)
		}()
	}
}

func (s *Service) finish(sessionID string, response json.RawMessage, err error) {
	if err != nil {
		s.setState(services.Exception(err))
	} else {
		s.setState(services.Success())
	}
	s.complete(sessionID, response, err)
}

// complete always reports IntentHandled: a failed handler ends the session
// normally, the failure is visible through the service state and event log.
// response carries the payload the spoken answer is parsed from: the
// handler's reply for remote_http, the recognition payload for
// with_recognition.
func (s *Service) complete(sessionID string, response json.RawMessage, err error) {
	var speech string
	if err == nil && len(response) > 0 {
		var resp handlerResponse
		if jsonErr := json.Unmarshal(response, &resp); jsonErr == nil {
			speech = resp.Speech.Text
		}
	}
	s.emitter.Dispatch(action.Action{
		Kind:      action.IntentHandled,
		Source:    action.SourceLocal,
		SessionID: sessionID,
		Text:      speech,
		Err:       err,
	})
}
