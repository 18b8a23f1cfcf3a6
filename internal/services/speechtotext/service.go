// Package speechtotext turns recorded audio into text through the
// configured backend. With a remote HTTP backend the accumulated audio is
// posted once at the end of recording; with a remote MQTT backend frames
// are streamed while recording and the transcript arrives asynchronously
// on the Hermes textCaptured topic.
package speechtotext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/audio"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
)

// ErrDisabled is returned when the stage is intentionally turned off.
var ErrDisabled = errors.New("speech to text disabled")

// HTTPClient is the remote HTTP backend contract.
type HTTPClient interface {
	SpeechToText(ctx context.Context, audio []byte) (string, error)
}

// MQTTClient is the remote MQTT backend contract.
type MQTTClient interface {
	StartListening(sessionID string) services.State
	StopListening(sessionID string) services.State
	AsrAudioFrame(sessionID string, wavChunk []byte) services.State
}

// Recorder is the audio capture collaborator.
type Recorder interface {
	Subscribe(id string) <-chan []byte
	Unsubscribe(id string)
	ToggleSilenceDetection(enabled bool)
}

// Service is the speech-to-text pipeline stage. The backend is fixed at
// construction.
type Service struct {
	opt     config.SpeechToTextOption
	rec     config.RecordingConfig
	http    HTTPClient
	mqtt    MQTTClient
	rcorder Recorder
	emitter services.Emitter

	mu        sync.Mutex
	state     services.State
	collected []byte
	cancel    context.CancelFunc
	session   string
}

// New creates the service for the configured backend.
func New(opt config.SpeechToTextOption, rec config.RecordingConfig, http HTTPClient, mqtt MQTTClient, recorder Recorder, emitter services.Emitter) *Service {
	st := services.Success()
	if opt == config.SpeechToTextDisabled {
		st = services.Disabled()
	}
	return &Service{
		opt:     opt,
		rec:     rec,
		http:    http,
		mqtt:    mqtt,
		rcorder: recorder,
		emitter: emitter,
		state:   st,
	}
}

// Enabled reports whether this stage can transcribe at all.
func (s *Service) Enabled() bool { return s.opt != config.SpeechToTextDisabled }

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

// Collected returns the number of accumulated audio bytes.
func (s *Service) Collected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collected)
}

// Start clears the buffer and begins collecting recorder frames for the
// session. For the MQTT backend every frame is also streamed to the remote
// ASR.
func (s *Service) Start(ctx context.Context, sessionID string) error {
	if !s.Enabled() {
		s.setState(services.Disabled())
		return ErrDisabled
	}
	slog.DebugContext(ctx, "speechtotext: start", slog.String("session_id", sessionID))

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil // collector already running
	}
	s.collected = nil
	s.session = sessionID
	collectCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	s.rcorder.ToggleSilenceDetection(true)
	frames := s.rcorder.Subscribe("stt-" + sessionID)

	go s.collect(collectCtx, sessionID, frames)

	if s.opt == config.SpeechToTextRemoteMQTT {
		s.setState(s.mqtt.StartListening(sessionID))
	} else {
		s.setState(services.Success())
	}
	return nil
}

func (s *Service) collect(ctx context.Context, sessionID string, frames <-chan []byte) {
	defer s.rcorder.Unsubscribe("stt-" + sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.mu.Lock()
			s.collected = append(s.collected, frame...)
			s.mu.Unlock()
			if s.opt == config.SpeechToTextRemoteMQTT {
				chunk := audio.EncodeWAV(frame, s.rec.SampleRate, s.rec.Channels, s.rec.BitDepth)
				s.setState(s.mqtt.AsrAudioFrame(sessionID, chunk))
			}
		}
	}
}

// End stops collecting and resolves the transcript. fromMqtt marks that the
// remote ASR already detected the end of speech, so no stopListening
// message must be sent back to it.
func (s *Service) End(ctx context.Context, sessionID string, fromMqtt bool) {
	slog.DebugContext(ctx, "speechtotext: end",
		slog.String("session_id", sessionID), slog.Bool("from_mqtt", fromMqtt))

	data := s.stopCollector()
	s.rcorder.ToggleSilenceDetection(false)

	switch s.opt {
	case config.SpeechToTextRemoteHTTP:
		go s.transcribeHTTP(ctx, sessionID, data)
	case config.SpeechToTextRemoteMQTT:
		if !fromMqtt {
			s.setState(s.mqtt.StopListening(sessionID))
		}
	case config.SpeechToTextDisabled:
		s.setState(services.Disabled())
	}
}

// Transcribe resolves prerecorded audio (an HTTP API upload) without going
// through the recorder. Uploads arrive as WAV files; the container is
// stripped first so the backends see the same raw PCM as recorded audio.
func (s *Service) Transcribe(ctx context.Context, sessionID string, data []byte) error {
	if !s.Enabled() {
		s.setState(services.Disabled())
		return ErrDisabled
	}
	pcm, err := audio.DecodePCM(data)
	if err != nil {
		s.setState(services.Exception(err))
		return fmt.Errorf("decode uploaded audio: %w", err)
	}
	switch s.opt {
	case config.SpeechToTextRemoteHTTP:
		go s.transcribeHTTP(ctx, sessionID, pcm)
	case config.SpeechToTextRemoteMQTT:
		go func() {
			s.mqtt.StartListening(sessionID)
			chunk := audio.EncodeWAV(pcm, s.rec.SampleRate, s.rec.Channels, s.rec.BitDepth)
			s.mqtt.AsrAudioFrame(sessionID, chunk)
			s.setState(s.mqtt.StopListening(sessionID))
		}()
	}
	return nil
}

// Abort cancels the collector and discards the buffer.
func (s *Service) Abort(sessionID string) {
	slog.Debug("speechtotext: abort", slog.String("session_id", sessionID))
	s.stopCollector()
	s.rcorder.ToggleSilenceDetection(false)
	s.clear()
}

func (s *Service) stopCollector() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return s.collected
}

func (s *Service) clear() {
	s.mu.Lock()
	s.collected = nil
	s.mu.Unlock()
}

func (s *Service) transcribeHTTP(ctx context.Context, sessionID string, data []byte) {
	text, err := s.http.SpeechToText(ctx, data)
	s.clear()
	if err != nil {
		s.setState(services.Exception(err))
		s.emitter.Dispatch(action.Action{
			Kind:      action.AsrError,
			Source:    action.SourceHTTPAPI,
			SessionID: sessionID,
			Err:       err,
		})
		return
	}
	s.setState(services.Success())
	s.emitter.Dispatch(action.Action{
		Kind:      action.AsrTextCaptured,
		Source:    action.SourceHTTPAPI,
		SessionID: sessionID,
		Text:      text,
	})
}
