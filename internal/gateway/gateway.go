// Package gateway owns the persistent connection to the push gateway
// and the interpretation of its responses.
package gateway

import "context"

// Push-type header values understood by the gateway.
const (
	PushTypeAlert        = "alert"
	PushTypeBackground   = "background"
	PushTypeLiveActivity = "liveactivity"
)

// Delivery priorities. Immediate wakes the device now; Throttled lets
// the gateway coalesce background pushes.
const (
	PriorityImmediate = 10
	PriorityThrottled = 5
)

// Headers carries the per-request protocol metadata.
type Headers struct {
	Topic    string
	PushType string
	Priority int
}

// Response is the gateway's verdict on one send. A nil error with
// Accepted()==false means the gateway answered and rejected the push.
type Response struct {
	StatusCode int
	Reason     string
}

// Accepted reports whether the gateway took the notification.
func (r *Response) Accepted() bool {
	return r.StatusCode == 200
}

// Reason codes that mean the target token is permanently dead.
var invalidTokenReasons = map[string]bool{
	"BadDeviceToken":         true,
	"Unregistered":           true,
	"DeviceTokenNotForTopic": true,
}

// TokenInvalid reports whether the failure indicates an unusable target
// token. These failures are never retried; the token itself is the
// problem, not the attempt.
func (r *Response) TokenInvalid() bool {
	if r.Accepted() {
		return false
	}
	if invalidTokenReasons[r.Reason] {
		return true
	}
	return r.StatusCode == 400 || r.StatusCode == 410
}

// Transport is the send surface the worker pool and dispatch policy
// use. A returned error is a transport-level failure (dial, timeout);
// gateway rejections come back as a Response.
type Transport interface {
	Send(ctx context.Context, deviceToken string, payload []byte, h Headers) (*Response, error)
}
