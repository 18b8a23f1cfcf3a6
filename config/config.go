// Package config holds the immutable runtime configuration. It is parsed
// once at startup from the environment and passed by injection; no
// component reads settings ambiently, and changing a backend option
// requires reconstructing the affected service.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend options per pipeline stage. Each service is constructed with
// exactly one active backend.
type (
	WakeWordOption          string
	SpeechToTextOption      string
	IntentRecognitionOption string
	IntentHandlingOption    string
	TextToSpeechOption      string
	AudioPlayingOption      string
	DialogManagementOption  string
)

const (
	WakeWordLocal      WakeWordOption = "local"
	WakeWordRemoteMQTT WakeWordOption = "remote_mqtt"
	WakeWordDisabled   WakeWordOption = "disabled"

	SpeechToTextRemoteHTTP SpeechToTextOption = "remote_http"
	SpeechToTextRemoteMQTT SpeechToTextOption = "remote_mqtt"
	SpeechToTextDisabled   SpeechToTextOption = "disabled"

	IntentRecognitionRemoteHTTP IntentRecognitionOption = "remote_http"
	IntentRecognitionRemoteMQTT IntentRecognitionOption = "remote_mqtt"
	IntentRecognitionDisabled   IntentRecognitionOption = "disabled"

	// IntentHandlingWithRecognition lets the recognition server handle the
	// intent itself (no separate handling call).
	IntentHandlingRemoteHTTP      IntentHandlingOption = "remote_http"
	IntentHandlingHassEvent       IntentHandlingOption = "hass_event"
	IntentHandlingHassIntent      IntentHandlingOption = "hass_intent"
	IntentHandlingWithRecognition IntentHandlingOption = "with_recognition"
	IntentHandlingDisabled        IntentHandlingOption = "disabled"

	TextToSpeechRemoteHTTP TextToSpeechOption = "remote_http"
	TextToSpeechRemoteMQTT TextToSpeechOption = "remote_mqtt"
	TextToSpeechDisabled   TextToSpeechOption = "disabled"

	AudioPlayingLocal      AudioPlayingOption = "local"
	AudioPlayingRemoteHTTP AudioPlayingOption = "remote_http"
	AudioPlayingRemoteMQTT AudioPlayingOption = "remote_mqtt"
	AudioPlayingDisabled   AudioPlayingOption = "disabled"

	DialogManagementLocal      DialogManagementOption = "local"
	DialogManagementRemoteMQTT DialogManagementOption = "remote_mqtt"
	DialogManagementDisabled   DialogManagementOption = "disabled"
)

// Config aggregates every runtime setting.
type Config struct {
	SiteID   string `envDefault:"default" env:"SITE_ID"`
	LogLevel string `envDefault:"info"    env:"LOG_LEVEL"`

	EventReplay       int           `envDefault:"10"  env:"EVENT_REPLAY"`
	WebRequestTimeout time.Duration `envDefault:"35s" env:"WEB_REQUEST_TIMEOUT"`
	SessionTimeout    time.Duration `envDefault:"30s" env:"SESSION_TIMEOUT"`

	DialogManagement DialogManagementOption `envDefault:"local" env:"DIALOG_MANAGEMENT"`

	WakeWord          WakeWordOption          `envDefault:"disabled" env:"WAKE_WORD"`
	SpeechToText      SpeechToTextOption      `envDefault:"disabled" env:"SPEECH_TO_TEXT"`
	IntentRecognition IntentRecognitionOption `envDefault:"disabled" env:"INTENT_RECOGNITION"`
	IntentHandling    IntentHandlingOption    `envDefault:"disabled" env:"INTENT_HANDLING"`
	TextToSpeech      TextToSpeechOption      `envDefault:"disabled" env:"TEXT_TO_SPEECH"`
	AudioPlaying      AudioPlayingOption      `envDefault:"local"    env:"AUDIO_PLAYING"`

	HTTP      HTTPConfig
	MQTT      MQTTConfig
	WebServer WebServerConfig
	Recording RecordingConfig
}

// HTTPConfig configures the remote Hermes HTTP client.
type HTTPConfig struct {
	// BaseURL is the Rhasspy server the default endpoint paths derive from.
	BaseURL string `envDefault:"http://localhost:12101" env:"HTTP_BASE_URL"`

	// Custom per-stage endpoints; empty means derive from BaseURL.
	SpeechToTextEndpoint      string `envDefault:"" env:"HTTP_SPEECH_TO_TEXT_ENDPOINT"`
	IntentRecognitionEndpoint string `envDefault:"" env:"HTTP_INTENT_RECOGNITION_ENDPOINT"`
	TextToSpeechEndpoint      string `envDefault:"" env:"HTTP_TEXT_TO_SPEECH_ENDPOINT"`
	AudioPlayingEndpoint      string `envDefault:"" env:"HTTP_AUDIO_PLAYING_ENDPOINT"`
	IntentHandlingEndpoint    string `envDefault:"" env:"HTTP_INTENT_HANDLING_ENDPOINT"`

	// Home Assistant intent handling.
	HassEndpoint    string `envDefault:"" env:"HASS_ENDPOINT"`
	HassAccessToken string `envDefault:"" env:"HASS_ACCESS_TOKEN"`

	Timeout          time.Duration `envDefault:"30s"   env:"HTTP_TIMEOUT"`
	DisableTLSVerify bool          `envDefault:"false" env:"HTTP_DISABLE_TLS_VERIFY"`
}

// MQTTConfig configures the Hermes MQTT transport.
type MQTTConfig struct {
	Broker         string        `envDefault:""       env:"MQTT_BROKER"`
	ClientID       string        `envDefault:"hermod" env:"MQTT_CLIENT_ID"`
	Username       string        `envDefault:""       env:"MQTT_USERNAME"`
	Password       string        `envDefault:""       env:"MQTT_PASSWORD"`
	ConnectTimeout time.Duration `envDefault:"10s"    env:"MQTT_CONNECT_TIMEOUT"`
	QOS            byte          `envDefault:"0"      env:"MQTT_QOS"`
	Retained       bool          `envDefault:"false"  env:"MQTT_RETAINED"`
}

// WebServerConfig configures the embedded Rhasspy-compatible HTTP API.
type WebServerConfig struct {
	Enabled bool   `envDefault:"true"  env:"WEBSERVER_ENABLED"`
	Addr    string `envDefault:":12101" env:"WEBSERVER_ADDR"`
}

// RecordingConfig configures audio capture and silence detection.
type RecordingConfig struct {
	SampleRate int `envDefault:"16000" env:"RECORDING_SAMPLE_RATE"`
	Channels   int `envDefault:"1"     env:"RECORDING_CHANNELS"`
	BitDepth   int `envDefault:"16"    env:"RECORDING_BIT_DEPTH"`

	SilenceDetection bool          `envDefault:"true"  env:"SILENCE_DETECTION"`
	SilenceThreshold float64       `envDefault:"40"    env:"SILENCE_THRESHOLD"`
	SilenceDuration  time.Duration `envDefault:"2s"    env:"SILENCE_DURATION"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values and endpoint URLs for consistency.
func (c *Config) Validate() error {
	switch c.WakeWord {
	case WakeWordLocal, WakeWordRemoteMQTT, WakeWordDisabled:
	default:
		return fmt.Errorf("invalid WAKE_WORD option %q", c.WakeWord)
	}
	switch c.SpeechToText {
	case SpeechToTextRemoteHTTP, SpeechToTextRemoteMQTT, SpeechToTextDisabled:
	default:
		return fmt.Errorf("invalid SPEECH_TO_TEXT option %q", c.SpeechToText)
	}
	switch c.IntentRecognition {
	case IntentRecognitionRemoteHTTP, IntentRecognitionRemoteMQTT, IntentRecognitionDisabled:
	default:
		return fmt.Errorf("invalid INTENT_RECOGNITION option %q", c.IntentRecognition)
	}
	switch c.IntentHandling {
	case IntentHandlingRemoteHTTP, IntentHandlingHassEvent, IntentHandlingHassIntent,
		IntentHandlingWithRecognition, IntentHandlingDisabled:
	default:
		return fmt.Errorf("invalid INTENT_HANDLING option %q", c.IntentHandling)
	}
	switch c.TextToSpeech {
	case TextToSpeechRemoteHTTP, TextToSpeechRemoteMQTT, TextToSpeechDisabled:
	default:
		return fmt.Errorf("invalid TEXT_TO_SPEECH option %q", c.TextToSpeech)
	}
	switch c.AudioPlaying {
	case AudioPlayingLocal, AudioPlayingRemoteHTTP, AudioPlayingRemoteMQTT, AudioPlayingDisabled:
	default:
		return fmt.Errorf("invalid AUDIO_PLAYING option %q", c.AudioPlaying)
	}
	switch c.DialogManagement {
	case DialogManagementLocal, DialogManagementRemoteMQTT, DialogManagementDisabled:
	default:
		return fmt.Errorf("invalid DIALOG_MANAGEMENT option %q", c.DialogManagement)
	}

	for name, raw := range map[string]string{
		"HTTP_BASE_URL": c.HTTP.BaseURL,
		"HASS_ENDPOINT": c.HTTP.HassEndpoint,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid %s %q", name, raw)
		}
	}

	if c.UsesMQTT() && c.MQTT.Broker == "" {
		return fmt.Errorf("MQTT_BROKER is required when a remote_mqtt backend is selected")
	}
	return nil
}

// UsesMQTT reports whether any configured backend needs the broker.
func (c *Config) UsesMQTT() bool {
	return c.WakeWord == WakeWordRemoteMQTT ||
		c.SpeechToText == SpeechToTextRemoteMQTT ||
		c.IntentRecognition == IntentRecognitionRemoteMQTT ||
		c.TextToSpeech == TextToSpeechRemoteMQTT ||
		c.AudioPlaying == AudioPlayingRemoteMQTT ||
		c.DialogManagement == DialogManagementRemoteMQTT
}

// SpeechToTextURL resolves the speech-to-text endpoint.
func (c *HTTPConfig) SpeechToTextURL() string {
	if c.SpeechToTextEndpoint != "" {
		return c.SpeechToTextEndpoint
	}
	return c.join("/api/speech-to-text") + "?noheader=true"
}

// IntentRecognitionURL resolves the text-to-intent endpoint. When the
// recognition server should not also handle the intent, nohass is appended.
func (c *HTTPConfig) IntentRecognitionURL(handleDirectly bool) string {
	u := c.IntentRecognitionEndpoint
	if u == "" {
		u = c.join("/api/text-to-intent")
	}
	if !handleDirectly {
		u += "?nohass=true"
	}
	return u
}

// TextToSpeechURL resolves the text-to-speech endpoint.
func (c *HTTPConfig) TextToSpeechURL() string {
	if c.TextToSpeechEndpoint != "" {
		return c.TextToSpeechEndpoint
	}
	return c.join("/api/text-to-speech")
}

// AudioPlayingURL resolves the play-wav endpoint.
func (c *HTTPConfig) AudioPlayingURL() string {
	if c.AudioPlayingEndpoint != "" {
		return c.AudioPlayingEndpoint
	}
	return c.join("/api/play-wav")
}

// HassEventURL builds the Home Assistant event endpoint for an intent name.
func (c *HTTPConfig) HassEventURL(intentName string) string {
	return strings.TrimSuffix(c.HassEndpoint, "/") + "/api/events/rhasspy_" + intentName
}

// HassIntentURL is the Home Assistant intent handling endpoint.
func (c *HTTPConfig) HassIntentURL() string {
	return strings.TrimSuffix(c.HassEndpoint, "/") + "/api/intent/handle"
}

func (c *HTTPConfig) join(path string) string {
	return strings.TrimSuffix(c.BaseURL, "/") + path
}
