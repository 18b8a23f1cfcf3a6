package mqtt

import "testing"

func TestHotwordFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		wantID string
		wantOK bool
	}{
		{"hermes/hotword/porcupine/detected", "porcupine", true},
		{"hermes/hotword/default/detected", "default", true},
		{"hermes/hotword/toggleOn", "", false},
		{"hermes/hotword/a/b/detected", "", false},
		{"hermes/asr/textCaptured", "", false},
	}
	for _, tt := range tests {
		id, ok := hotwordFromTopic(tt.topic)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("hotwordFromTopic(%q) = %q, %v; want %q, %v", tt.topic, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestIntentFromTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantName string
		wantOK   bool
	}{
		{"hermes/intent/LightOn", "LightOn", true},
		{"hermes/intent/", "", false},
		{"hermes/intent/LightOn/extra", "", false},
		{"hermes/nlu/query", "", false},
	}
	for _, tt := range tests {
		name, ok := intentFromTopic(tt.topic)
		if name != tt.wantName || ok != tt.wantOK {
			t.Errorf("intentFromTopic(%q) = %q, %v; want %q, %v", tt.topic, name, ok, tt.wantName, tt.wantOK)
		}
	}
}

func TestRequestIDFromPlayBytes(t *testing.T) {
	site, req, ok := requestIDFromPlayBytes("hermes/audioServer/default/playBytes/req-42")
	if !ok || site != "default" || req != "req-42" {
		t.Fatalf("got %q, %q, %v", site, req, ok)
	}
	if _, _, ok := requestIDFromPlayBytes("hermes/audioServer/default/playFinished"); ok {
		t.Error("playFinished parsed as playBytes")
	}
	if _, _, ok := requestIDFromPlayBytes("hermes/audioServer/default/playBytes"); ok {
		t.Error("topic without requestId accepted")
	}
}

func TestTopicBuilders(t *testing.T) {
	if got := topicHotwordDetected("snowboy"); got != "hermes/hotword/snowboy/detected" {
		t.Errorf("topicHotwordDetected = %q", got)
	}
	if got := topicAudioFrame("kitchen"); got != "hermes/audioServer/kitchen/audioFrame" {
		t.Errorf("topicAudioFrame = %q", got)
	}
	if got := topicPlayBytes("kitchen", "r1"); got != "hermes/audioServer/kitchen/playBytes/r1" {
		t.Errorf("topicPlayBytes = %q", got)
	}

	// Round trips through the parsers.
	if id, ok := hotwordFromTopic(topicHotwordDetected("snowboy")); !ok || id != "snowboy" {
		t.Errorf("round trip hotword = %q, %v", id, ok)
	}
	if site, req, ok := requestIDFromPlayBytes(topicPlayBytes("kitchen", "r1")); !ok || site != "kitchen" || req != "r1" {
		t.Errorf("round trip playBytes = %q, %q, %v", site, req, ok)
	}
}
