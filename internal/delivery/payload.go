package delivery

import (
	"encoding/json"
	"fmt"

	"github.com/pagerapp/pushgate/internal/gateway"
	"github.com/pagerapp/pushgate/internal/models"
)

// Live-activity attribute metadata. These values are a fixed contract
// with the client-side activity UI and must not drift.
const (
	liveActivityAttributesType = "PagerActivityAttributes"
	liveActivityType           = "message"
)

type apsAlert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type liveActivityAPS struct {
	Timestamp    int64               `json:"timestamp"`
	Event        string              `json:"event"`
	ContentState models.ContentState `json:"content-state"`
	Alert        *apsAlert           `json:"alert,omitempty"`
	Sound        string              `json:"sound,omitempty"`
}

type liveActivityAttributes struct {
	ActivityType string `json:"activityType"`
}

type liveActivityEnvelope struct {
	APS            liveActivityAPS        `json:"aps"`
	AttributesType string                 `json:"attributes-type"`
	Attributes     liveActivityAttributes `json:"attributes"`
}

// BuildAlertPayload renders the aps dictionary for alert and silent
// jobs. Custom data rides at the top level next to aps.
func BuildAlertPayload(p *models.AlertPayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("alert payload missing")
	}
	if p.DeviceToken == "" {
		return nil, fmt.Errorf("alert payload has no device token")
	}

	aps := map[string]interface{}{}
	if p.Title != "" || p.Body != "" {
		aps["alert"] = apsAlert{Title: p.Title, Body: p.Body}
	}
	if p.Sound != "" {
		aps["sound"] = p.Sound
	}
	if p.Badge != nil {
		aps["badge"] = *p.Badge
	}
	if p.ContentAvailable {
		aps["content-available"] = 1
	}

	root := map[string]interface{}{"aps": aps}
	for k, v := range p.Data {
		if k == "aps" {
			continue
		}
		root[k] = v
	}
	return json.Marshal(root)
}

// BuildLiveUpdatePayload renders the push-to-start envelope. The shape
// is byte-exact against the client schema: aps carries a start event
// with the content state, and the attributes block names the activity
// type the client instantiates.
func BuildLiveUpdatePayload(p *models.LiveUpdatePayload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("live-update payload missing")
	}
	if p.PushToStartToken == "" {
		return nil, fmt.Errorf("live-update payload has no push-to-start token")
	}

	env := liveActivityEnvelope{
		APS: liveActivityAPS{
			Timestamp:    p.State.Timestamp,
			Event:        "start",
			ContentState: p.State,
			Sound:        "default",
		},
		AttributesType: liveActivityAttributesType,
		Attributes:     liveActivityAttributes{ActivityType: liveActivityType},
	}
	if p.AlertTitle != "" || p.AlertBody != "" {
		env.APS.Alert = &apsAlert{Title: p.AlertTitle, Body: p.AlertBody}
	}
	return json.Marshal(env)
}

// HeadersFor returns the protocol metadata for a job kind.
func HeadersFor(kind models.JobKind, bundleID string) gateway.Headers {
	switch kind {
	case models.KindLiveUpdateStart:
		return gateway.Headers{
			Topic:    bundleID + ".push-type.liveactivity",
			PushType: gateway.PushTypeLiveActivity,
			Priority: gateway.PriorityImmediate,
		}
	case models.KindSilent:
		return gateway.Headers{
			Topic:    bundleID,
			PushType: gateway.PushTypeBackground,
			Priority: gateway.PriorityThrottled,
		}
	default:
		return gateway.Headers{
			Topic:    bundleID,
			PushType: gateway.PushTypeAlert,
			Priority: gateway.PriorityImmediate,
		}
	}
}
