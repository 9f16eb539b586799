package gateway

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseAccepted(t *testing.T) {
	assert.True(t, (&Response{StatusCode: 200}).Accepted())
	assert.False(t, (&Response{StatusCode: 503}).Accepted())
}

func TestResponseTokenInvalid(t *testing.T) {
	tests := []struct {
		name    string
		resp    Response
		invalid bool
	}{
		{"accepted", Response{StatusCode: 200}, false},
		{"bad device token reason", Response{StatusCode: 403, Reason: "BadDeviceToken"}, true},
		{"unregistered reason", Response{StatusCode: 410, Reason: "Unregistered"}, true},
		{"token not for topic", Response{StatusCode: 400, Reason: "DeviceTokenNotForTopic"}, true},
		{"bare 400", Response{StatusCode: 400}, true},
		{"bare 410", Response{StatusCode: 410}, true},
		{"server error", Response{StatusCode: 500}, false},
		{"service unavailable", Response{StatusCode: 503, Reason: "ServiceUnavailable"}, false},
		{"too many requests", Response{StatusCode: 429, Reason: "TooManyRequests"}, false},
		{"expired provider token", Response{StatusCode: 403, Reason: "ExpiredProviderToken"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.invalid, tt.resp.TokenInvalid())
		})
	}
}

func TestMockTransportAlwaysAccepts(t *testing.T) {
	mock := NewMockTransport(zerolog.New(os.Stderr))

	resp, err := mock.Send(context.Background(), "abcdef0123456789", []byte(`{"aps":{}}`), Headers{
		Topic:    "com.example.pager",
		PushType: PushTypeAlert,
		Priority: PriorityImmediate,
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.False(t, resp.TokenInvalid())
}
