// Package middleware funnels every dialog action through a single queue
// consumed by one goroutine, so the dialog manager never sees concurrent
// actions. It also lets web requests block until the session they seeded
// produces a result, and recovers pipeline panics into a clean idle state.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/dialog"
	"github.com/hermodvoice/hermod/pkg/action"
	"github.com/hermodvoice/hermod/pkg/events"
)

const queueDepth = 256

// ErrRequestTimeout is returned when a blocking web request outlives the
// configured web request timeout.
var ErrRequestTimeout = errors.New("request timed out")

// ErrNoResult is returned when the seeded session ended without producing
// the awaited result.
var ErrNoResult = errors.New("session ended without a result")

type waitKind int

const (
	waitTranscript waitKind = iota
	waitIntent
	waitEnded
)

type waitResult struct {
	text       string
	intentName string
	intent     json.RawMessage
	err        error
}

type waiter struct {
	kind waitKind
	once sync.Once
	ch   chan waitResult
}

func (w *waiter) resolve(r waitResult) {
	w.once.Do(func() { w.ch <- r })
}

// Middleware is the serialized action path in front of the dialog manager.
type Middleware struct {
	cfg *config.Config
	bus *events.Bus
	log *slog.Logger
	mgr *dialog.Manager

	queue chan action.Action
	done  chan struct{}
	stop  sync.Once

	mu      sync.Mutex
	pending map[string]*waiter // awaiting session binding, by correlation id
	bound   map[string]*waiter // by session id
}

// New builds the queue. The manager is attached separately because the
// pipeline services are constructed against this middleware as their
// emitter before the manager exists.
func New(cfg *config.Config, bus *events.Bus) *Middleware {
	return &Middleware{
		cfg:   cfg,
		bus:   bus,
		log:   slog.Default().With("component", "middleware"),
		queue:   make(chan action.Action, queueDepth),
		done:    make(chan struct{}),
		pending: make(map[string]*waiter),
		bound:   make(map[string]*waiter),
	}
}

// Attach registers the manager and wires its notifier and aborter back
// here. Must be called before Run.
func (m *Middleware) Attach(mgr *dialog.Manager) {
	m.mgr = mgr
	mgr.SetNotifier(m)
	mgr.SetAborter(m)
}

// Dispatch enqueues an action as-is. Services report their results through
// this path; the action keeps the source it was built with.
func (m *Middleware) Dispatch(a action.Action) {
	select {
	case m.queue <- a:
	case <-m.done:
	}
}

// Local enqueues an action from the local UI or hardware.
func (m *Middleware) Local(a action.Action) {
	a.Source = action.SourceLocal
	m.Dispatch(a)
}

// Mqtt enqueues an action received over the Hermes MQTT transport.
func (m *Middleware) Mqtt(a action.Action) {
	a.Source = action.SourceMqtt
	m.Dispatch(a)
}

// Run consumes the queue until the context is cancelled. It must run in
// exactly one goroutine.
func (m *Middleware) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case a := <-m.queue:
			m.consume(ctx, a)
		}
	}
}

// Close stops the queue. Pending waiters are failed so no web request
// blocks past shutdown.
func (m *Middleware) Close() {
	m.stop.Do(func() {
		close(m.done)
		m.failAll(errors.New("shutting down"))
	})
}

func (m *Middleware) consume(ctx context.Context, a action.Action) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic on %s: %v", a.Kind, r)
			m.log.Error("recovered pipeline panic",
				"kind", a.Kind.String(), "panic", r, "stack", string(debug.Stack()))
			m.bus.Publish(events.Event{
				Type:        events.MiddlewareException,
				Description: err.Error(),
				SessionID:   a.SessionID,
				Status:      events.StatusError,
				Timestamp:   time.Now(),
			})
			m.failAll(err)
			m.mgr.Reset(ctx, err)
		}
	}()
	m.log.Debug("consuming action",
		"kind", a.Kind.String(), "source", a.Source.String(), "session_id", a.SessionID)
	m.mgr.Handle(ctx, a)
}

// ListenForCommand opens a microphone session and blocks until an intent
// is recognized.
func (m *Middleware) ListenForCommand(ctx context.Context) (string, json.RawMessage, error) {
	r, err := m.await(ctx, waitIntent, action.Action{Kind: action.StartListening})
	return r.intentName, r.intent, err
}

// SpeechToText transcribes prerecorded WAV audio and blocks for the text.
func (m *Middleware) SpeechToText(ctx context.Context, wav []byte) (string, error) {
	r, err := m.await(ctx, waitTranscript, action.Action{Kind: action.StartListening, Audio: wav})
	return r.text, err
}

// TextToIntent recognizes an intent from text and blocks for the result.
func (m *Middleware) TextToIntent(ctx context.Context, text string) (string, json.RawMessage, error) {
	r, err := m.await(ctx, waitIntent, action.Action{Kind: action.AsrTextCaptured, Text: text})
	return r.intentName, r.intent, err
}

// TextToSpeech synthesizes and plays text, blocking until playback ends.
func (m *Middleware) TextToSpeech(ctx context.Context, text string) error {
	_, err := m.await(ctx, waitEnded, action.Action{Kind: action.SayText, Text: text})
	return err
}

// PlayWav plays WAV audio, blocking until playback ends.
func (m *Middleware) PlayWav(ctx context.Context, wav []byte) error {
	_, err := m.await(ctx, waitEnded, action.Action{Kind: action.PlayAudio, Audio: wav})
	return err
}

func (m *Middleware) await(ctx context.Context, kind waitKind, a action.Action) (waitResult, error) {
	w := &waiter{kind: kind, ch: make(chan waitResult, 1)}
	corr := xid.New().String()
	m.mu.Lock()
	m.pending[corr] = w
	m.mu.Unlock()

	a.Source = action.SourceHTTPAPI
	a.Correlation = corr
	m.Dispatch(a)

	timer := time.NewTimer(m.cfg.WebRequestTimeout)
	defer timer.Stop()
	select {
	case r := <-w.ch:
		return r, r.err
	case <-timer.C:
		m.drop(w)
		return waitResult{}, ErrRequestTimeout
	case <-ctx.Done():
		m.drop(w)
		return waitResult{}, ctx.Err()
	}
}

// SessionStarted binds the waiter whose seed carried this correlation id to
// the session it opened. Sessions from other sources bind nothing; queue
// reordering between concurrent web requests cannot cross-bind them.
func (m *Middleware) SessionStarted(sessionID string, source action.Source, correlation string) {
	if source != action.SourceHTTPAPI || correlation == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.pending[correlation]
	if !ok {
		return
	}
	delete(m.pending, correlation)
	m.bound[sessionID] = w
}

// TranscriptReady resolves a transcript waiter bound to the session.
func (m *Middleware) TranscriptReady(sessionID, text string) {
	if w := m.take(sessionID, waitTranscript); w != nil {
		w.resolve(waitResult{text: text})
	}
}

// IntentReady resolves an intent waiter bound to the session.
func (m *Middleware) IntentReady(sessionID, intentName string, intent json.RawMessage) {
	if w := m.take(sessionID, waitIntent); w != nil {
		w.resolve(waitResult{intentName: intentName, intent: intent})
	}
}

// SessionEnded resolves whatever waiter is still bound to the session: an
// end waiter succeeds, anything else failed to get its result.
func (m *Middleware) SessionEnded(sessionID string, cause error) {
	m.mu.Lock()
	w, ok := m.bound[sessionID]
	if ok {
		delete(m.bound, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case cause != nil:
		w.resolve(waitResult{err: cause})
	case w.kind == waitEnded:
		w.resolve(waitResult{})
	default:
		w.resolve(waitResult{err: ErrNoResult})
	}
}

// take removes and returns the waiter bound to sessionID if it awaits kind.
func (m *Middleware) take(sessionID string, kind waitKind) *waiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.bound[sessionID]
	if !ok || w.kind != kind {
		return nil
	}
	delete(m.bound, sessionID)
	return w
}

func (m *Middleware) drop(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for corr, p := range m.pending {
		if p == w {
			delete(m.pending, corr)
			return
		}
	}
	for id, b := range m.bound {
		if b == w {
			delete(m.bound, id)
			return
		}
	}
}

func (m *Middleware) failAll(err error) {
	m.mu.Lock()
	pending := m.pending
	bound := m.bound
	m.pending = make(map[string]*waiter)
	m.bound = make(map[string]*waiter)
	m.mu.Unlock()
	for _, w := range pending {
		w.resolve(waitResult{err: err})
	}
	for _, w := range bound {
		w.resolve(waitResult{err: err})
	}
}
