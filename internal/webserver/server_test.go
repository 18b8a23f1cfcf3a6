package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/middleware"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/events"
)

type stubDialog struct {
	transcript string
	intentName string
	intent     json.RawMessage
	err        error

	gotWav  []byte
	gotText string
}

func (s *stubDialog) ListenForCommand(context.Context) (string, json.RawMessage, error) {
	return s.intentName, s.intent, s.err
}

func (s *stubDialog) SpeechToText(_ context.Context, wav []byte) (string, error) {
	s.gotWav = wav
	return s.transcript, s.err
}

func (s *stubDialog) TextToIntent(_ context.Context, text string) (string, json.RawMessage, error) {
	s.gotText = text
	return s.intentName, s.intent, s.err
}

func (s *stubDialog) TextToSpeech(_ context.Context, text string) error {
	s.gotText = text
	return s.err
}

func (s *stubDialog) PlayWav(_ context.Context, wav []byte) error {
	s.gotWav = wav
	return s.err
}

type stubReporter struct{ st services.State }

func (r stubReporter) State() services.State { return r.st }

func testServer(t *testing.T, d Dialog, reporters map[string]StateReporter) *httptest.Server {
	t.Helper()
	bus := events.NewBus(events.DefaultReplay)
	s := New(config.WebServerConfig{Addr: ":0"}, d, bus, reporters)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestSpeechToTextEndpoint(t *testing.T) {
	d := &stubDialog{transcript: "hello world"}
	srv := testServer(t, d, nil)

	resp, err := http.Post(srv.URL+"/api/speech-to-text", "audio/wav", strings.NewReader("RIFFdata"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello world" {
		t.Errorf("body = %q", body)
	}
	if string(d.gotWav) != "RIFFdata" {
		t.Errorf("dialog received %q", d.gotWav)
	}
}

func TestTextToIntentEndpoint(t *testing.T) {
	d := &stubDialog{
		intentName: "LightOn",
		intent:     json.RawMessage(`{"intent":{"intentName":"LightOn","confidenceScore":0.92}}`),
	}
	srv := testServer(t, d, nil)

	resp, err := http.Post(srv.URL+"/api/text-to-intent", "text/plain", strings.NewReader("turn on the light"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Intent struct {
			IntentName string `json:"intentName"`
		} `json:"intent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Intent.IntentName != "LightOn" {
		t.Errorf("intentName = %q", payload.Intent.IntentName)
	}
	if d.gotText != "turn on the light" {
		t.Errorf("dialog received %q", d.gotText)
	}
}

func TestTextToIntentWithoutPayloadSynthesizesOne(t *testing.T) {
	d := &stubDialog{intentName: "GetTime"}
	srv := testServer(t, d, nil)

	resp, err := http.Post(srv.URL+"/api/text-to-intent", "text/plain", strings.NewReader("what time is it"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Intent struct {
			IntentName string `json:"intentName"`
		} `json:"intent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Intent.IntentName != "GetTime" {
		t.Errorf("intentName = %q", payload.Intent.IntentName)
	}
}

func TestEmptyBodyRejected(t *testing.T) {
	srv := testServer(t, &stubDialog{}, nil)

	resp, err := http.Post(srv.URL+"/api/text-to-speech", "text/plain", strings.NewReader(""))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTimeoutMapsToGatewayTimeout(t *testing.T) {
	d := &stubDialog{err: middleware.ErrRequestTimeout}
	srv := testServer(t, d, nil)

	resp, err := http.Post(srv.URL+"/api/play-wav", "audio/wav", strings.NewReader("RIFFdata"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
}

func TestPipelineErrorMapsTo500(t *testing.T) {
	d := &stubDialog{err: errors.New("asr backend down")}
	srv := testServer(t, d, nil)

	resp, err := http.Post(srv.URL+"/api/speech-to-text", "audio/wav", strings.NewReader("RIFFdata"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestHealthReflectsServiceStates(t *testing.T) {
	srv := testServer(t, &stubDialog{}, map[string]StateReporter{
		"speech_to_text": stubReporter{services.Success()},
		"text_to_speech": stubReporter{services.Disabled()},
	})

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var payload struct {
		Healthy  bool                       `json:"healthy"`
		Services map[string]json.RawMessage `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !payload.Healthy {
		t.Error("healthy = false, want true")
	}
	if len(payload.Services) != 2 {
		t.Errorf("services = %d entries, want 2", len(payload.Services))
	}
}

func TestHealthDegradedOnException(t *testing.T) {
	srv := testServer(t, &stubDialog{}, map[string]StateReporter{
		"mqtt": stubReporter{services.Exception(errors.New("broker unreachable"))},
	})

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
