package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/dialog"
	"github.com/hermodvoice/hermod/pkg/action"
	"github.com/hermodvoice/hermod/pkg/events"
)

// The pipeline fakes push their results back through the middleware the
// same way the real services do.

type fakeSTT struct {
	mw     *Middleware
	mu     sync.Mutex
	silent bool // swallow requests so waiters time out
	panics bool
}

func (f *fakeSTT) Enabled() bool { return true }

func (f *fakeSTT) Start(context.Context, string) error { return nil }

func (f *fakeSTT) End(context.Context, string, bool) {}

func (f *fakeSTT) Abort(string) {}
func (f *fakeSTT) Transcribe(_ context.Context, id string, _ []byte) error {
	f.mu.Lock()
	silent, panics := f.silent, f.panics
	f.mu.Unlock()
	if panics {
		panic("transcriber blew up")
	}
	if silent {
		return nil
	}
	go f.mw.Dispatch(action.Action{Kind: action.AsrTextCaptured, SessionID: id, Text: "hello world"})
	return nil
}

type fakeNLU struct{ mw *Middleware }

func (f *fakeNLU) Enabled() bool { return true }
func (f *fakeNLU) Recognize(_ context.Context, id, text string) error {
	if text == "gibberish" {
		go f.mw.Dispatch(action.Action{Kind: action.IntentNotRecognized, SessionID: id})
		return nil
	}
	go f.mw.Dispatch(action.Action{
		Kind:       action.IntentRecognized,
		SessionID:  id,
		IntentName: "LightOn",
		Intent:     json.RawMessage(`{"intent":{"intentName":"LightOn"}}`),
	})
	return nil
}

type fakeHandler struct{ mw *Middleware }

func (f *fakeHandler) Enabled() bool { return true }
func (f *fakeHandler) Handle(_ context.Context, id, _ string, _ json.RawMessage) {
	go f.mw.Dispatch(action.Action{Kind: action.IntentHandled, SessionID: id})
}

type fakeTTS struct{ mw *Middleware }

func (f *fakeTTS) Enabled() bool { return true }
func (f *fakeTTS) Say(_ context.Context, id, _ string) error {
	go f.mw.Dispatch(action.Action{Kind: action.PlayAudio, SessionID: id, Audio: []byte("wav")})
	return nil
}

type fakePlayer struct{ mw *Middleware }

func (f *fakePlayer) Enabled() bool { return true }
func (f *fakePlayer) Play(_ context.Context, id, _ string, _ []byte) error {
	go f.mw.Dispatch(action.Action{Kind: action.PlayFinished, SessionID: id})
	return nil
}

type fakeWake struct{}

func (fakeWake) Enabled() bool { return false }

func (fakeWake) StartDetection(context.Context) error { return nil }

func (fakeWake) StopDetection() {}

type rig struct {
	mw  *Middleware
	mgr *dialog.Manager
	bus *events.Bus
	stt *fakeSTT
}

func newRig(t *testing.T, timeout time.Duration) *rig {
	t.Helper()
	cfg := &config.Config{
		SiteID:            "default",
		DialogManagement:  config.DialogManagementLocal,
		WebRequestTimeout: timeout,
	}
	bus := events.NewBus(events.DefaultReplay)
	mw := New(cfg, bus)

	stt := &fakeSTT{mw: mw}
	mgr := dialog.New(cfg, bus,
		stt,
		&fakeNLU{mw: mw},
		&fakeHandler{mw: mw},
		&fakeTTS{mw: mw},
		&fakePlayer{mw: mw},
		fakeWake{},
	)
	mw.Attach(mgr)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mw.Run(ctx)
	t.Cleanup(mw.Close)

	return &rig{mw: mw, mgr: mgr, bus: bus, stt: stt}
}

func TestSpeechToTextBlocksForTranscript(t *testing.T) {
	r := newRig(t, 2*time.Second)

	text, err := r.mw.SpeechToText(context.Background(), []byte("wavdata"))
	if err != nil {
		t.Fatalf("SpeechToText: %v", err)
	}
	if text != "hello world" {
		t.Errorf("transcript = %q, want %q", text, "hello world")
	}
}

func TestTextToIntentBlocksForIntent(t *testing.T) {
	r := newRig(t, 2*time.Second)

	name, intent, err := r.mw.TextToIntent(context.Background(), "turn on the light")
	if err != nil {
		t.Fatalf("TextToIntent: %v", err)
	}
	if name != "LightOn" {
		t.Errorf("intent name = %q, want LightOn", name)
	}
	if len(intent) == 0 {
		t.Error("intent payload empty")
	}
}

func TestTextToIntentFailsOnNoMatch(t *testing.T) {
	r := newRig(t, 2*time.Second)

	_, _, err := r.mw.TextToIntent(context.Background(), "gibberish")
	if err == nil {
		t.Fatal("expected error for unrecognized text")
	}
}

func TestTextToSpeechBlocksUntilPlayed(t *testing.T) {
	r := newRig(t, 2*time.Second)

	if err := r.mw.TextToSpeech(context.Background(), "good morning"); err != nil {
		t.Fatalf("TextToSpeech: %v", err)
	}
}

func TestWebRequestTimesOut(t *testing.T) {
	r := newRig(t, 50*time.Millisecond)
	r.stt.mu.Lock()
	r.stt.silent = true
	r.stt.mu.Unlock()

	_, err := r.mw.SpeechToText(context.Background(), []byte("wavdata"))
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}
}

func TestPanicRecoveredIntoIdle(t *testing.T) {
	r := newRig(t, time.Second)
	r.stt.mu.Lock()
	r.stt.panics = true
	r.stt.mu.Unlock()

	_, err := r.mw.SpeechToText(context.Background(), []byte("wavdata"))
	if err == nil {
		t.Fatal("expected error from panicking pipeline")
	}

	waitFor(t, func() bool {
		for _, ev := range r.bus.Recent() {
			if ev.Type == events.MiddlewareException {
				return true
			}
		}
		return false
	}, "middleware exception event")

	// The queue must stay alive after recovery.
	r.stt.mu.Lock()
	r.stt.panics = false
	r.stt.mu.Unlock()
	text, err := r.mw.SpeechToText(context.Background(), []byte("wavdata"))
	if err != nil {
		t.Fatalf("request after recovery: %v", err)
	}
	if text != "hello world" {
		t.Errorf("transcript after recovery = %q", text)
	}
}

func TestActionsAreSerialized(t *testing.T) {
	r := newRig(t, 2*time.Second)

	// Concurrent full cycles must not interleave destructively: each call
	// either completes or is superseded, and the rig ends idle.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = r.mw.TextToIntent(context.Background(), "turn on the light")
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return r.mgr.SessionID() == "" }, "manager to drain to idle")
}

func TestWaiterBindsBySeedCorrelationNotArrivalOrder(t *testing.T) {
	cfg := &config.Config{WebRequestTimeout: time.Second}
	mw := New(cfg, events.NewBus(events.DefaultReplay))

	// Two requests registered in one order, their sessions started in the
	// other. Each waiter must still receive its own transcript.
	wA := &waiter{kind: waitTranscript, ch: make(chan waitResult, 1)}
	wB := &waiter{kind: waitTranscript, ch: make(chan waitResult, 1)}
	mw.mu.Lock()
	mw.pending["corr-a"] = wA
	mw.pending["corr-b"] = wB
	mw.mu.Unlock()

	mw.SessionStarted("sess-b", action.SourceHTTPAPI, "corr-b")
	mw.SessionStarted("sess-a", action.SourceHTTPAPI, "corr-a")
	mw.TranscriptReady("sess-a", "alpha")
	mw.TranscriptReady("sess-b", "beta")

	if got := <-wA.ch; got.text != "alpha" || got.err != nil {
		t.Errorf("first request got %q/%v, want alpha", got.text, got.err)
	}
	if got := <-wB.ch; got.text != "beta" || got.err != nil {
		t.Errorf("second request got %q/%v, want beta", got.text, got.err)
	}
}

func TestSessionWithoutCorrelationBindsNothing(t *testing.T) {
	cfg := &config.Config{WebRequestTimeout: time.Second}
	mw := New(cfg, events.NewBus(events.DefaultReplay))

	w := &waiter{kind: waitTranscript, ch: make(chan waitResult, 1)}
	mw.mu.Lock()
	mw.pending["corr-a"] = w
	mw.mu.Unlock()

	// A hot word session carries no correlation and must not steal the
	// pending web waiter.
	mw.SessionStarted("sess-local", action.SourceLocal, "")
	mw.SessionStarted("sess-x", action.SourceHTTPAPI, "")
	mw.TranscriptReady("sess-local", "not yours")
	mw.TranscriptReady("sess-x", "not yours")

	select {
	case got := <-w.ch:
		t.Fatalf("waiter resolved with %q by an unrelated session", got.text)
	default:
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
