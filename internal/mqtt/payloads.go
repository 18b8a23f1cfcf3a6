package mqtt

import "encoding/json"

// Hermes JSON payloads. Field names follow the protocol's camelCase.

type asrStartListening struct {
	SiteID            string `json:"siteId"`
	SessionID         string `json:"sessionId"`
	StopOnSilence     bool   `json:"stopOnSilence"`
	SendAudioCaptured bool   `json:"sendAudioCaptured"`
}

type asrStopListening struct {
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
}

type asrTextCaptured struct {
	Text       string  `json:"text"`
	Likelihood float64 `json:"likelihood"`
	Seconds    float64 `json:"seconds"`
	SiteID     string  `json:"siteId"`
	SessionID  string  `json:"sessionId"`
}

type asrError struct {
	Error     string `json:"error"`
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
}

type nluQuery struct {
	Input     string `json:"input"`
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`
}

type nluIntent struct {
	Input  string `json:"input"`
	Intent struct {
		IntentName      string  `json:"intentName"`
		ConfidenceScore float64 `json:"confidenceScore"`
	} `json:"intent"`
	Slots     json.RawMessage `json:"slots,omitempty"`
	SiteID    string          `json:"siteId"`
	SessionID string          `json:"sessionId"`
}

type nluIntentNotRecognized struct {
	Input     string `json:"input"`
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
}

type hotwordDetected struct {
	SiteID  string `json:"siteId"`
	ModelID string `json:"modelId"`
}

type hotwordToggle struct {
	SiteID string `json:"siteId"`
}

type ttsSay struct {
	Text      string `json:"text"`
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`
}

type ttsSayFinished struct {
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
	ID        string `json:"id"`
}

type playFinished struct {
	ID        string `json:"id"`
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
}

type sessionStart struct {
	SiteID string `json:"siteId"`
	Init   struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"init"`
}

type sessionEnd struct {
	SiteID    string `json:"siteId"`
	SessionID string `json:"sessionId"`
}
