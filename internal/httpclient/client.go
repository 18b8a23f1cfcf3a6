// Package httpclient talks to remote Hermes HTTP endpoints (a Rhasspy
// server or compatible services). One client instance is shared by all
// pipeline services; it is safe for concurrent use.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hermodvoice/hermod/config"
)

const maxResponseBytes = 1 << 24

// Client posts pipeline payloads to the configured endpoints and classifies
// failures into the closed error taxonomy.
type Client struct {
	hc  *http.Client
	cfg config.HTTPConfig

	handleDirectly bool
}

// New builds a client from the HTTP configuration. handleDirectly controls
// whether the recognition server also handles recognized intents.
func New(cfg config.HTTPConfig, handleDirectly bool) *Client {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     60 * time.Second,
	}
	if cfg.DisableTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		hc: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		cfg:            cfg,
		handleDirectly: handleDirectly,
	}
}

// SpeechToText posts raw 16-bit 16kHz mono audio and returns the
// transcription.
func (c *Client) SpeechToText(ctx context.Context, audio []byte) (string, error) {
	slog.DebugContext(ctx, "httpclient: speech to text", slog.Int("data_size", len(audio)))
	body, err := c.post(ctx, c.cfg.SpeechToTextURL(), "audio/wav", audio, nil)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RecognizeIntent posts text and returns the recognized intent JSON.
func (c *Client) RecognizeIntent(ctx context.Context, text string) ([]byte, error) {
	slog.DebugContext(ctx, "httpclient: recognize intent", slog.String("text", text))
	return c.post(ctx, c.cfg.IntentRecognitionURL(c.handleDirectly), "text/plain", []byte(text), nil)
}

// TextToSpeech posts text and returns synthesized WAV audio.
func (c *Client) TextToSpeech(ctx context.Context, text string) ([]byte, error) {
	slog.DebugContext(ctx, "httpclient: text to speech", slog.String("text", text))
	return c.post(ctx, c.cfg.TextToSpeechURL(), "text/plain", []byte(text), nil)
}

// PlayWav posts WAV data for remote playback.
func (c *Client) PlayWav(ctx context.Context, wav []byte) error {
	slog.DebugContext(ctx, "httpclient: play wav", slog.Int("data_size", len(wav)))
	_, err := c.post(ctx, c.cfg.AudioPlayingURL(), "audio/wav", wav, nil)
	return err
}

// IntentHandling posts the intent JSON to the remote handling endpoint and
// returns the handler's response body, which may carry a spoken answer.
func (c *Client) IntentHandling(ctx context.Context, intent []byte) ([]byte, error) {
	slog.DebugContext(ctx, "httpclient: intent handling", slog.Int("data_size", len(intent)))
	return c.post(ctx, c.cfg.IntentHandlingEndpoint, "application/json", intent, nil)
}

// HassEvent sends the intent as a Home Assistant event.
func (c *Client) HassEvent(ctx context.Context, intent []byte, intentName string) error {
	slog.DebugContext(ctx, "httpclient: hass event", slog.String("intent", intentName))
	_, err := c.post(ctx, c.cfg.HassEventURL(intentName), "application/json", intent, c.hassHeaders())
	return err
}

// HassIntent sends the intent to the Home Assistant intent endpoint.
func (c *Client) HassIntent(ctx context.Context, intent []byte) error {
	slog.DebugContext(ctx, "httpclient: hass intent", slog.Int("data_size", len(intent)))
	_, err := c.post(ctx, c.cfg.HassIntentURL(), "application/json", intent, c.hassHeaders())
	return err
}

func (c *Client) hassHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.HassAccessToken}
}

func (c *Client) post(ctx context.Context, url, contentType string, body []byte, headers map[string]string) ([]byte, error) {
	if url == "" {
		return nil, &Error{Type: ErrorConnect, Err: fmt.Errorf("endpoint not configured")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Type: ErrorConnect, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	// Drain remainder for connection reuse.
	io.Copy(io.Discard, resp.Body)
	if err != nil {
		return nil, Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Type: ErrorUnknown,
			Err:  fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)),
		}
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
