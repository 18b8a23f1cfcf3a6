package mqtt

import (
	"sync"
	"testing"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/pkg/action"
	"github.com/hermodvoice/hermod/pkg/events"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type captureDispatcher struct {
	mu      sync.Mutex
	actions []action.Action
}

func (d *captureDispatcher) Mqtt(a action.Action) {
	d.mu.Lock()
	d.actions = append(d.actions, a)
	d.mu.Unlock()
}

func (d *captureDispatcher) all() []action.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]action.Action(nil), d.actions...)
}

func newTestClient(d Dispatcher) *Client {
	return New(config.MQTTConfig{}, "default", d, events.NewBus(events.DefaultReplay))
}

func TestSayFinishedEndsPlayback(t *testing.T) {
	d := &captureDispatcher{}
	c := newTestClient(d)

	c.handleSayFinished(nil, &fakeMessage{
		topic:   topicTtsSayFinished,
		payload: []byte(`{"siteId":"default","sessionId":"s1","id":"s1"}`),
	})

	got := d.all()
	if len(got) != 1 {
		t.Fatalf("dispatched %d actions, want 1", len(got))
	}
	if got[0].Kind != action.PlayFinished || got[0].SessionID != "s1" {
		t.Errorf("dispatched %s for %q, want playFinished for s1", got[0].Kind, got[0].SessionID)
	}
}

func TestSayFinishedFiltersOtherSites(t *testing.T) {
	d := &captureDispatcher{}
	c := newTestClient(d)

	c.handleSayFinished(nil, &fakeMessage{
		topic:   topicTtsSayFinished,
		payload: []byte(`{"siteId":"kitchen","sessionId":"s2"}`),
	})
	c.handleSayFinished(nil, &fakeMessage{
		topic:   topicTtsSayFinished,
		payload: []byte(`not json`),
	})

	if got := d.all(); len(got) != 0 {
		t.Errorf("dispatched %d actions for foreign or malformed messages", len(got))
	}
}
