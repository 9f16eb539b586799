package models

// MaxMessagePreviewLen caps the message text carried in a live-update
// content state. Longer texts are truncated at enqueue time.
const MaxMessagePreviewLen = 100

// AlertPayload addresses a regular (alert or silent) notification. The
// DeviceToken here is the standard APNs device token namespace and must
// never carry a push-to-start token.
type AlertPayload struct {
	DeviceToken      string            `json:"device_token"`
	Title            string            `json:"title,omitempty"`
	Body             string            `json:"body,omitempty"`
	Sound            string            `json:"sound,omitempty"`
	Badge            *int              `json:"badge,omitempty"`
	ContentAvailable bool              `json:"content_available,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}

// ContentState is the live-activity display state pushed to the device.
// Field order and names are a fixed contract with the client UI.
type ContentState struct {
	Sender        string `json:"sender"`
	Message       string `json:"message"`
	Timestamp     int64  `json:"timestamp"`
	IsDemo        bool   `json:"isDemo"`
	MessageIndex  int    `json:"messageIndex"`
	TotalMessages int    `json:"totalMessages"`
}

// LiveUpdatePayload addresses a push-to-start live activity. The
// PushToStartToken comes from a different token-issuing API than the
// device token and the two are never interchangeable.
type LiveUpdatePayload struct {
	PushToStartToken string       `json:"push_to_start_token"`
	State            ContentState `json:"state"`
	AlertTitle       string       `json:"alert_title,omitempty"`
	AlertBody        string       `json:"alert_body,omitempty"`
	// MessageID is job metadata for the alert fallback, not part of
	// the wire payload.
	MessageID string `json:"message_id,omitempty"`
}

// TruncateMessage clamps s to MaxMessagePreviewLen runes.
func TruncateMessage(s string) string {
	r := []rune(s)
	if len(r) <= MaxMessagePreviewLen {
		return s
	}
	return string(r[:MaxMessagePreviewLen])
}
