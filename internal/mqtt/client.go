// Package mqtt is the Hermes MQTT transport: it publishes pipeline requests
// to a remote Rhasspy server and turns inbound Hermes messages into dialog
// actions. Connection state is owned here and serialized by the paho client.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/httpclient"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/action"
	"github.com/hermodvoice/hermod/pkg/events"
)

// Dispatcher accepts actions decoded from inbound Hermes messages.
type Dispatcher interface {
	Mqtt(a action.Action)
}

// Client wraps the paho MQTT client with Hermes semantics.
type Client struct {
	cfg    config.MQTTConfig
	siteID string
	bus    *events.Bus

	dispatcher Dispatcher

	mu              sync.RWMutex
	state           services.State
	onHotwordToggle func(enabled bool)

	cli pahomqtt.Client
}

// New creates a disconnected Hermes client. Call Connect before use.
func New(cfg config.MQTTConfig, siteID string, dispatcher Dispatcher, bus *events.Bus) *Client {
	return &Client{
		cfg:        cfg,
		siteID:     siteID,
		bus:        bus,
		dispatcher: dispatcher,
		state:      services.Pending(),
	}
}

// SetHotwordToggleHandler registers the callback for inbound
// hotword/toggleOn and toggleOff messages.
func (c *Client) SetHotwordToggleHandler(fn func(enabled bool)) {
	c.mu.Lock()
	c.onHotwordToggle = fn
	c.mu.Unlock()
}

// State returns the transport health.
func (c *Client) State() services.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s services.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	status := events.StatusSuccess
	if s.Kind == services.StateException {
		status = events.StatusError
	}
	c.bus.Publish(events.Event{
		Type:        events.ServiceStateChanged,
		Description: "mqtt: " + s.String(),
		Status:      status,
	})
}

// Connect dials the broker and subscribes to the inbound Hermes topics.
// Connection failures are classified into the transport error taxonomy.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(services.Loading())

	opts := pahomqtt.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetUsername(c.cfg.Username).
		SetPassword(c.cfg.Password).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(true)
	opts.OnConnect = func(pahomqtt.Client) {
		slog.InfoContext(ctx, "mqtt: connected", slog.String("broker", c.cfg.Broker))
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		slog.WarnContext(ctx, "mqtt: connection lost", slog.String("error", err.Error()))
		c.setState(services.Exception(httpclient.Classify(err)))
	}

	c.cli = pahomqtt.NewClient(opts)

	token := c.cli.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		err := fmt.Errorf("connect to %s: timeout", c.cfg.Broker)
		c.setState(services.Exception(err))
		return err
	}
	if err := token.Error(); err != nil {
		classified := httpclient.Classify(err)
		c.setState(services.Exception(classified))
		return classified
	}

	if err := c.subscribeAll(); err != nil {
		c.setState(services.Exception(err))
		return err
	}

	c.setState(services.Success())
	return nil
}

// Disconnect closes the broker connection.
func (c *Client) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
	c.setState(services.Pending())
}

func (c *Client) subscribeAll() error {
	subs := map[string]pahomqtt.MessageHandler{
		"hermes/hotword/+/detected":        c.handleHotwordDetected,
		topicHotwordToggleOn:               c.handleHotwordToggle(true),
		topicHotwordToggleOff:              c.handleHotwordToggle(false),
		topicAsrTextCaptured:               c.handleTextCaptured,
		topicAsrError:                      c.handleAsrError,
		topicAsrStopListening:              c.handleStopListening,
		topicIntentPrefix + "#":            c.handleIntent,
		topicNluIntentNotRecognized:        c.handleIntentNotRecognized,
		topicTtsSayFinished:                c.handleSayFinished,
		topicSessionStart:                  c.handleSessionStart,
		topicSessionEnd:                    c.handleSessionEnd,
		topicPlayBytes(c.siteID, "") + "#": c.handlePlayBytes,
	}
	for topic, handler := range subs {
		token := c.cli.Subscribe(topic, c.cfg.QOS, handler)
		if !token.WaitTimeout(c.cfg.ConnectTimeout) {
			return fmt.Errorf("subscribe %s: timeout", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// --- outbound operations ---

// StartListening asks the remote ASR to begin a session.
func (c *Client) StartListening(sessionID string) services.State {
	return c.publishJSON(topicAsrStartListening, asrStartListening{
		SiteID:            c.siteID,
		SessionID:         sessionID,
		StopOnSilence:     true,
		SendAudioCaptured: false,
	})
}

// StopListening asks the remote ASR to finish the session; the transcript
// arrives asynchronously on asr/textCaptured.
func (c *Client) StopListening(sessionID string) services.State {
	return c.publishJSON(topicAsrStopListening, asrStopListening{
		SiteID:    c.siteID,
		SessionID: sessionID,
	})
}

// AsrAudioFrame streams one WAV-framed audio chunk to the remote ASR.
// Frames are site-scoped; the session is tracked by start/stopListening.
func (c *Client) AsrAudioFrame(_ string, wavChunk []byte) services.State {
	return c.publishRaw(topicAudioFrame(c.siteID), wavChunk)
}

// Query asks the remote NLU to recognize an intent from text.
func (c *Client) Query(sessionID, text string) services.State {
	return c.publishJSON(topicNluQuery, nluQuery{
		Input:     text,
		SiteID:    c.siteID,
		SessionID: sessionID,
		ID:        sessionID,
	})
}

// Say asks the remote TTS to speak text; the audio comes back on our
// playBytes topic.
func (c *Client) Say(sessionID, text string) services.State {
	return c.publishJSON(topicTtsSay, ttsSay{
		Text:      text,
		SiteID:    c.siteID,
		SessionID: sessionID,
		ID:        sessionID,
	})
}

// PlayBytes publishes WAV audio for a remote audio server to play.
func (c *Client) PlayBytes(requestID string, wav []byte) services.State {
	return c.publishRaw(topicPlayBytes(c.siteID, requestID), wav)
}

// PlayFinished announces that a remote playBytes request was played.
func (c *Client) PlayFinished(sessionID, requestID string) services.State {
	return c.publishJSON(topicPlayFinished(c.siteID), playFinished{
		ID:        requestID,
		SiteID:    c.siteID,
		SessionID: sessionID,
	})
}

// HotWordDetected announces a locally detected wake word.
func (c *Client) HotWordDetected(wakewordID string) services.State {
	return c.publishJSON(topicHotwordDetected(wakewordID), hotwordDetected{
		SiteID:  c.siteID,
		ModelID: wakewordID,
	})
}

func (c *Client) publishJSON(topic string, payload any) services.State {
	data, err := json.Marshal(payload)
	if err != nil {
		return c.fail(topic, err)
	}
	return c.publishRaw(topic, data)
}

func (c *Client) publishRaw(topic string, payload []byte) services.State {
	if c.cli == nil {
		return c.fail(topic, fmt.Errorf("not connected"))
	}
	token := c.cli.Publish(topic, c.cfg.QOS, c.cfg.Retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return c.fail(topic, fmt.Errorf("publish timeout"))
	}
	if err := token.Error(); err != nil {
		return c.fail(topic, err)
	}
	c.setState(services.Success())
	return services.Success()
}

const publishTimeout = 5 * time.Second

func (c *Client) fail(topic string, err error) services.State {
	wrapped := fmt.Errorf("publish %s: %w", topic, err)
	slog.Warn("mqtt: publish failed", slog.String("topic", topic), slog.String("error", err.Error()))
	st := services.Exception(wrapped)
	c.setState(st)
	return st
}

// --- inbound handlers ---

func (c *Client) handleHotwordDetected(_ pahomqtt.Client, msg pahomqtt.Message) {
	wakewordID, ok := hotwordFromTopic(msg.Topic())
	if !ok {
		return
	}
	var payload hotwordDetected
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		slog.Warn("mqtt: bad hotword payload", slog.String("error", err.Error()))
		return
	}
	if payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:       action.HotWordDetected,
		Source:     action.SourceMqtt,
		WakeWordID: wakewordID,
	})
}

func (c *Client) handleHotwordToggle(enabled bool) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		var payload hotwordToggle
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			return
		}
		if payload.SiteID != "" && payload.SiteID != c.siteID {
			return
		}
		c.mu.RLock()
		fn := c.onHotwordToggle
		c.mu.RUnlock()
		if fn != nil {
			fn(enabled)
		}
	}
}

func (c *Client) handleTextCaptured(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload asrTextCaptured
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		slog.Warn("mqtt: bad textCaptured payload", slog.String("error", err.Error()))
		return
	}
	if payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.AsrTextCaptured,
		Source:    action.SourceMqtt,
		SessionID: payload.SessionID,
		Text:      payload.Text,
	})
}

func (c *Client) handleAsrError(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload asrError
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}
	if payload.SiteID != "" && payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.AsrError,
		Source:    action.SourceMqtt,
		SessionID: payload.SessionID,
		Err:       fmt.Errorf("remote asr: %s", payload.Error),
	})
}

func (c *Client) handleStopListening(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload asrStopListening
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}
	if payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.StopListening,
		Source:    action.SourceMqtt,
		SessionID: payload.SessionID,
	})
}

func (c *Client) handleIntent(_ pahomqtt.Client, msg pahomqtt.Message) {
	intentName, ok := intentFromTopic(msg.Topic())
	if !ok {
		return
	}
	var payload nluIntent
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		slog.Warn("mqtt: bad intent payload", slog.String("error", err.Error()))
		return
	}
	if payload.SiteID != "" && payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:       action.IntentRecognized,
		Source:     action.SourceMqtt,
		SessionID:  payload.SessionID,
		Text:       payload.Input,
		IntentName: intentName,
		Intent:     append(json.RawMessage(nil), msg.Payload()...),
	})
}

func (c *Client) handleIntentNotRecognized(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload nluIntentNotRecognized
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}
	if payload.SiteID != "" && payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.IntentNotRecognized,
		Source:    action.SourceMqtt,
		SessionID: payload.SessionID,
		Text:      payload.Input,
	})
}

// handleSayFinished closes the speak stage when the remote TTS played the
// answer itself instead of sending audio back on playBytes.
func (c *Client) handleSayFinished(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload ttsSayFinished
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}
	if payload.SiteID != "" && payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.PlayFinished,
		Source:    action.SourceMqtt,
		SessionID: payload.SessionID,
	})
}

func (c *Client) handleSessionStart(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload sessionStart
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}
	if payload.SiteID != "" && payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:   action.StartListening,
		Source: action.SourceMqtt,
	})
}

func (c *Client) handleSessionEnd(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload sessionEnd
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		return
	}
	if payload.SiteID != "" && payload.SiteID != c.siteID {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.Abort,
		Source:    action.SourceMqtt,
		SessionID: payload.SessionID,
	})
}

func (c *Client) handlePlayBytes(_ pahomqtt.Client, msg pahomqtt.Message) {
	_, requestID, ok := requestIDFromPlayBytes(msg.Topic())
	if !ok {
		return
	}
	c.dispatcher.Mqtt(action.Action{
		Kind:      action.PlayAudio,
		Source:    action.SourceMqtt,
		RequestID: requestID,
		Audio:     append([]byte(nil), msg.Payload()...),
	})
}
