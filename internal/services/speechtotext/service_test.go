package speechtotext

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/audio"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
)

type fakeHTTP struct {
	mu    sync.Mutex
	audio []byte
	text  string
	err   error
}

func (f *fakeHTTP) SpeechToText(_ context.Context, audio []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append([]byte(nil), audio...)
	return f.text, f.err
}

type fakeMQTT struct {
	mu     sync.Mutex
	starts []string
	stops  []string
	frames [][]byte
}

func (f *fakeMQTT) StartListening(id string) services.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, id)
	return services.Success()
}

func (f *fakeMQTT) StopListening(id string) services.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, id)
	return services.Success()
}

func (f *fakeMQTT) AsrAudioFrame(_ string, chunk []byte) services.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), chunk...))
	return services.Success()
}

func (f *fakeMQTT) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeRecorder struct {
	mu      sync.Mutex
	frames  chan []byte
	silence []bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{frames: make(chan []byte, 32)}
}

func (f *fakeRecorder) Subscribe(string) <-chan []byte { return f.frames }

func (f *fakeRecorder) Unsubscribe(string) {}

func (f *fakeRecorder) ToggleSilenceDetection(enabled bool) {
	f.mu.Lock()
	f.silence = append(f.silence, enabled)
	f.mu.Unlock()
}

type captureEmitter struct {
	mu      sync.Mutex
	actions []action.Action
}

func (c *captureEmitter) Dispatch(a action.Action) {
	c.mu.Lock()
	c.actions = append(c.actions, a)
	c.mu.Unlock()
}

func (c *captureEmitter) wait(t *testing.T, kind action.Kind) action.Action {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, a := range c.actions {
			if a.Kind == kind {
				c.mu.Unlock()
				return a
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s action dispatched", kind)
	return action.Action{}
}

func recCfg() config.RecordingConfig {
	return config.RecordingConfig{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

func TestHTTPBackendTranscribesCollectedAudio(t *testing.T) {
	httpc := &fakeHTTP{text: "hello world"}
	rec := newFakeRecorder()
	em := &captureEmitter{}
	s := New(config.SpeechToTextRemoteHTTP, recCfg(), httpc, &fakeMQTT{}, rec, em)

	if err := s.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.frames <- []byte{1, 2, 3, 4}
	rec.frames <- []byte{5, 6}

	deadline := time.Now().Add(time.Second)
	for s.Collected() < 6 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s.Collected() != 6 {
		t.Fatalf("collected = %d bytes, want 6", s.Collected())
	}

	s.End(context.Background(), "s1", false)
	got := em.wait(t, action.AsrTextCaptured)
	if got.Text != "hello world" || got.SessionID != "s1" {
		t.Errorf("dispatched %q for %q", got.Text, got.SessionID)
	}
	if s.Collected() != 0 {
		t.Errorf("buffer not cleared after transcription: %d bytes", s.Collected())
	}
}

func TestHTTPBackendReportsAsrError(t *testing.T) {
	httpc := &fakeHTTP{err: errors.New("whisper down")}
	rec := newFakeRecorder()
	em := &captureEmitter{}
	s := New(config.SpeechToTextRemoteHTTP, recCfg(), httpc, &fakeMQTT{}, rec, em)

	if err := s.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.End(context.Background(), "s1", false)

	got := em.wait(t, action.AsrError)
	if got.Err == nil {
		t.Error("error action without cause")
	}
	if s.State().Kind != services.StateException {
		t.Errorf("state = %v, want exception", s.State().Kind)
	}
}

func TestMqttBackendStreamsFrames(t *testing.T) {
	mq := &fakeMQTT{}
	rec := newFakeRecorder()
	s := New(config.SpeechToTextRemoteMQTT, recCfg(), &fakeHTTP{}, mq, rec, &captureEmitter{})

	if err := s.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.frames <- []byte{1, 2}
	rec.frames <- []byte{3, 4}

	deadline := time.Now().Add(time.Second)
	for mq.frameCount() != 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	mq.mu.Lock()
	defer mq.mu.Unlock()
	if len(mq.starts) != 1 || mq.starts[0] != "s1" {
		t.Errorf("starts = %v", mq.starts)
	}
	if len(mq.frames) != 2 {
		t.Errorf("streamed frames = %d, want 2", len(mq.frames))
	}
}

func TestTranscribeStripsUploadedWavContainer(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	upload := audio.EncodeWAV(pcm, 16000, 1, 16)

	mq := &fakeMQTT{}
	s := New(config.SpeechToTextRemoteMQTT, recCfg(), &fakeHTTP{}, mq, newFakeRecorder(), &captureEmitter{})
	if err := s.Transcribe(context.Background(), "s1", upload); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for mq.frameCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if mq.frameCount() != 1 {
		t.Fatalf("streamed frames = %d, want 1", mq.frameCount())
	}

	mq.mu.Lock()
	chunk := mq.frames[0]
	mq.mu.Unlock()
	if !bytes.HasPrefix(chunk, []byte("RIFF")) {
		t.Fatal("audio frame not WAV framed")
	}
	if bytes.Contains(chunk[4:], []byte("RIFF")) {
		t.Error("audio frame carries a nested RIFF header")
	}
	if !bytes.Equal(chunk[44:], pcm) {
		t.Errorf("frame data = % x, want the uploaded samples % x", chunk[44:], pcm)
	}
}

func TestTranscribePostsRawSamplesForHTTP(t *testing.T) {
	pcm := []byte{9, 0, 8, 0, 7, 0}
	upload := audio.EncodeWAV(pcm, 16000, 1, 16)

	httpc := &fakeHTTP{text: "ok"}
	em := &captureEmitter{}
	s := New(config.SpeechToTextRemoteHTTP, recCfg(), httpc, &fakeMQTT{}, newFakeRecorder(), em)
	if err := s.Transcribe(context.Background(), "s1", upload); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	em.wait(t, action.AsrTextCaptured)

	httpc.mu.Lock()
	posted := httpc.audio
	httpc.mu.Unlock()
	if !bytes.Equal(posted, pcm) {
		t.Errorf("posted % x, want the headerless samples % x", posted, pcm)
	}
}

func TestMqttBackendSkipsStopWhenRemoteEndedFirst(t *testing.T) {
	mq := &fakeMQTT{}
	rec := newFakeRecorder()
	s := New(config.SpeechToTextRemoteMQTT, recCfg(), &fakeHTTP{}, mq, rec, &captureEmitter{})

	if err := s.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.End(context.Background(), "s1", true)

	mq.mu.Lock()
	stops := len(mq.stops)
	mq.mu.Unlock()
	if stops != 0 {
		t.Errorf("stopListening sent %d times after remote already stopped", stops)
	}

	if err := s.Start(context.Background(), "s2"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.End(context.Background(), "s2", false)
	mq.mu.Lock()
	stops = len(mq.stops)
	mq.mu.Unlock()
	if stops != 1 {
		t.Errorf("stopListening sent %d times for local stop, want 1", stops)
	}
}

func TestAbortClearsBuffer(t *testing.T) {
	rec := newFakeRecorder()
	s := New(config.SpeechToTextRemoteHTTP, recCfg(), &fakeHTTP{}, &fakeMQTT{}, rec, &captureEmitter{})

	if err := s.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.frames <- []byte{1, 2, 3, 4}
	deadline := time.Now().Add(time.Second)
	for s.Collected() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	s.Abort("s1")
	if s.Collected() != 0 {
		t.Errorf("collected = %d after abort, want 0", s.Collected())
	}

	rec.mu.Lock()
	silence := rec.silence
	rec.mu.Unlock()
	if len(silence) == 0 || silence[len(silence)-1] {
		t.Error("silence detection left armed after abort")
	}
}

func TestDisabledBackendRefusesToStart(t *testing.T) {
	s := New(config.SpeechToTextDisabled, recCfg(), &fakeHTTP{}, &fakeMQTT{}, newFakeRecorder(), &captureEmitter{})
	if err := s.Start(context.Background(), "s1"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	if s.State().Kind != services.StateDisabled {
		t.Errorf("state = %v, want disabled", s.State().Kind)
	}
}
