package delivery

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagerapp/pushgate/internal/gateway"
	"github.com/pagerapp/pushgate/internal/models"
)

func TestBuildAlertPayloadShape(t *testing.T) {
	badge := 3
	payload, err := BuildAlertPayload(&models.AlertPayload{
		DeviceToken: "device-token-1",
		Title:       "ABC123",
		Body:        "hi",
		Sound:       "default",
		Badge:       &badge,
		Data:        map[string]string{"type": "MESSAGE", "messageId": "m1"},
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))

	aps := got["aps"].(map[string]interface{})
	alert := aps["alert"].(map[string]interface{})
	assert.Equal(t, "ABC123", alert["title"])
	assert.Equal(t, "hi", alert["body"])
	assert.Equal(t, "default", aps["sound"])
	assert.EqualValues(t, 3, aps["badge"])
	assert.NotContains(t, aps, "content-available")

	assert.Equal(t, "MESSAGE", got["type"])
	assert.Equal(t, "m1", got["messageId"])
}

func TestBuildSilentPayloadShape(t *testing.T) {
	payload, err := BuildAlertPayload(&models.AlertPayload{
		DeviceToken:      "device-token-1",
		ContentAvailable: true,
		Data:             map[string]string{"type": "STATUS", "online": "true"},
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))

	aps := got["aps"].(map[string]interface{})
	assert.EqualValues(t, 1, aps["content-available"])
	assert.NotContains(t, aps, "alert")
	assert.Equal(t, "STATUS", got["type"])
}

func TestBuildAlertPayloadDataCannotOverrideAPS(t *testing.T) {
	payload, err := BuildAlertPayload(&models.AlertPayload{
		DeviceToken: "device-token-1",
		Title:       "t",
		Data:        map[string]string{"aps": "evil"},
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))
	_, isMap := got["aps"].(map[string]interface{})
	assert.True(t, isMap)
}

func TestBuildAlertPayloadValidation(t *testing.T) {
	_, err := BuildAlertPayload(nil)
	assert.Error(t, err)

	_, err = BuildAlertPayload(&models.AlertPayload{})
	assert.Error(t, err)
}

// The live-update envelope is a fixed external schema; this pins the
// exact bytes.
func TestBuildLiveUpdatePayloadExactBytes(t *testing.T) {
	payload, err := BuildLiveUpdatePayload(&models.LiveUpdatePayload{
		PushToStartToken: strings.Repeat("T", 40),
		State: models.ContentState{
			Sender:        "ABC123",
			Message:       "hi",
			Timestamp:     1700000000,
			IsDemo:        false,
			MessageIndex:  1,
			TotalMessages: 2,
		},
		AlertTitle: "ABC123",
		AlertBody:  "hi",
	})
	require.NoError(t, err)

	want := `{"aps":{"timestamp":1700000000,"event":"start","content-state":{"sender":"ABC123","message":"hi","timestamp":1700000000,"isDemo":false,"messageIndex":1,"totalMessages":2},"alert":{"title":"ABC123","body":"hi"},"sound":"default"},"attributes-type":"PagerActivityAttributes","attributes":{"activityType":"message"}}`
	assert.Equal(t, want, string(payload))
}

func TestBuildLiveUpdatePayloadOmitsEmptyAlert(t *testing.T) {
	payload, err := BuildLiveUpdatePayload(&models.LiveUpdatePayload{
		PushToStartToken: strings.Repeat("T", 40),
		State:            models.ContentState{Sender: "s", Message: "m", Timestamp: 1},
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))
	aps := got["aps"].(map[string]interface{})
	assert.NotContains(t, aps, "alert")
}

func TestBuildLiveUpdatePayloadValidation(t *testing.T) {
	_, err := BuildLiveUpdatePayload(nil)
	assert.Error(t, err)

	_, err = BuildLiveUpdatePayload(&models.LiveUpdatePayload{})
	assert.Error(t, err)
}

// Job construction must reference only the designated token namespace:
// live-update payloads carry the push-to-start token and never the
// device token, and vice versa.
func TestTokenNamespacesNeverConflated(t *testing.T) {
	const deviceToken = "DEVICE-SENTINEL-0000000000000000000000"
	const liveToken = "LIVEACT-SENTINEL-000000000000000000000"

	alertPayload, err := BuildAlertPayload(&models.AlertPayload{
		DeviceToken: deviceToken,
		Title:       "t",
		Body:        "b",
		Data:        map[string]string{"type": "MESSAGE"},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(alertPayload), liveToken)

	livePayload, err := BuildLiveUpdatePayload(&models.LiveUpdatePayload{
		PushToStartToken: liveToken,
		State:            models.ContentState{Sender: "s", Message: "m", Timestamp: 1},
	})
	require.NoError(t, err)
	assert.NotContains(t, string(livePayload), deviceToken)
}

func TestHeadersFor(t *testing.T) {
	const bundle = "com.example.pager"

	h := HeadersFor(models.KindLiveUpdateStart, bundle)
	assert.Equal(t, "com.example.pager.push-type.liveactivity", h.Topic)
	assert.Equal(t, gateway.PushTypeLiveActivity, h.PushType)
	assert.Equal(t, gateway.PriorityImmediate, h.Priority)

	h = HeadersFor(models.KindAlert, bundle)
	assert.Equal(t, bundle, h.Topic)
	assert.Equal(t, gateway.PushTypeAlert, h.PushType)
	assert.Equal(t, gateway.PriorityImmediate, h.Priority)

	h = HeadersFor(models.KindSilent, bundle)
	assert.Equal(t, bundle, h.Topic)
	assert.Equal(t, gateway.PushTypeBackground, h.PushType)
	assert.Equal(t, gateway.PriorityThrottled, h.Priority)
}

func TestBackoffDelay(t *testing.T) {
	base := DefaultBackoffBase
	assert.Equal(t, base, BackoffDelay(1, base))
	assert.Equal(t, 2*base, BackoffDelay(2, base))
	assert.Equal(t, 4*base, BackoffDelay(3, base))
	assert.Equal(t, base, BackoffDelay(0, base))
}
