package mqtt

import "strings"

// Hermes protocol topics. Session-scoped messages carry siteId/sessionId in
// their JSON payload, not the topic.
const (
	topicAsrStartListening      = "hermes/asr/startListening"
	topicAsrStopListening       = "hermes/asr/stopListening"
	topicAsrTextCaptured        = "hermes/asr/textCaptured"
	topicAsrError               = "hermes/error/asr"
	topicNluQuery               = "hermes/nlu/query"
	topicNluIntentNotRecognized = "hermes/nlu/intentNotRecognized"
	topicIntentPrefix           = "hermes/intent/"
	topicHotwordToggleOn        = "hermes/hotword/toggleOn"
	topicHotwordToggleOff       = "hermes/hotword/toggleOff"
	topicTtsSay                 = "hermes/tts/say"
	topicTtsSayFinished         = "hermes/tts/sayFinished"
	topicSessionStart           = "hermes/dialogueManager/startSession"
	topicSessionEnd             = "hermes/dialogueManager/endSession"
)

func topicHotwordDetected(wakewordID string) string {
	return "hermes/hotword/" + wakewordID + "/detected"
}

func topicAudioFrame(siteID string) string {
	return "hermes/audioServer/" + siteID + "/audioFrame"
}

func topicPlayBytes(siteID, requestID string) string {
	return "hermes/audioServer/" + siteID + "/playBytes/" + requestID
}

func topicPlayFinished(siteID string) string {
	return "hermes/audioServer/" + siteID + "/playFinished"
}

// hotwordFromTopic extracts the wake word id from
// hermes/hotword/<id>/detected.
func hotwordFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "hermes" || parts[1] != "hotword" || parts[3] != "detected" {
		return "", false
	}
	return parts[2], true
}

// intentFromTopic extracts the intent name from hermes/intent/<name>.
func intentFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, topicIntentPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(topic, topicIntentPrefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// requestIDFromPlayBytes extracts siteId and requestId from
// hermes/audioServer/<siteId>/playBytes/<requestId>.
func requestIDFromPlayBytes(topic string) (siteID, requestID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != "hermes" || parts[1] != "audioServer" || parts[3] != "playBytes" {
		return "", "", false
	}
	return parts[2], parts[4], true
}
