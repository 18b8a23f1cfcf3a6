package intentrecognition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
)

type fakeHTTP struct {
	body []byte
	err  error
}

func (f *fakeHTTP) RecognizeIntent(context.Context, string) ([]byte, error) {
	return f.body, f.err
}

type fakeMQTT struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeMQTT) Query(_, text string) services.State {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	return services.Success()
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

func (c *captureEmitter) first(t *testing.T) action.Action {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.actions) > 0 {
			a := c.actions[0]
			c.mu.Unlock()
			return a
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no action dispatched")
	return action.Action{}
}

func TestHTTPRecognitionDispatchesIntent(t *testing.T) {
	body := []byte(`{"intent":{"name":"LightOn","confidence":0.91},"slots":[]}`)
	em := &captureEmitter{}
	s := New(config.IntentRecognitionRemoteHTTP, &fakeHTTP{body: body}, &fakeMQTT{}, em)

	if err := s.Recognize(context.Background(), "s1", "turn on the light"); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	a := em.first(t)
	if a.Kind != action.IntentRecognized {
		t.Fatalf("kind = %v, want IntentRecognized", a.Kind)
	}
	if a.IntentName != "LightOn" {
		t.Errorf("intent name = %q", a.IntentName)
	}
	if string(a.Intent) != string(body) {
		t.Error("raw intent payload not preserved")
	}
}

func TestHTTPRecognitionUnnamedIntentNotRecognized(t *testing.T) {
	em := &captureEmitter{}
	s := New(config.IntentRecognitionRemoteHTTP, &fakeHTTP{body: []byte(`{"intent":{"name":""}}`)}, &fakeMQTT{}, em)

	if err := s.Recognize(context.Background(), "s1", "gibberish"); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	a := em.first(t)
	if a.Kind != action.IntentNotRecognized {
		t.Fatalf("kind = %v, want IntentNotRecognized", a.Kind)
	}
}

func TestHTTPRecognitionErrorNotRecognized(t *testing.T) {
	em := &captureEmitter{}
	s := New(config.IntentRecognitionRemoteHTTP, &fakeHTTP{err: errors.New("503")}, &fakeMQTT{}, em)

	if err := s.Recognize(context.Background(), "s1", "hello"); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	a := em.first(t)
	if a.Kind != action.IntentNotRecognized || a.Err == nil {
		t.Fatalf("kind = %v, err = %v", a.Kind, a.Err)
	}
	if s.State().Kind != services.StateException {
		t.Errorf("state = %v, want exception", s.State().Kind)
	}
}

func TestMqttRecognitionQueries(t *testing.T) {
	mq := &fakeMQTT{}
	s := New(config.IntentRecognitionRemoteMQTT, &fakeHTTP{}, mq, &captureEmitter{})

	if err := s.Recognize(context.Background(), "s1", "what time is it"); err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if len(mq.queries) != 1 || mq.queries[0] != "what time is it" {
		t.Errorf("queries = %v", mq.queries)
	}
}

func TestDisabledRecognitionRefuses(t *testing.T) {
	s := New(config.IntentRecognitionDisabled, &fakeHTTP{}, &fakeMQTT{}, &captureEmitter{})
	if err := s.Recognize(context.Background(), "s1", "hello"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}
