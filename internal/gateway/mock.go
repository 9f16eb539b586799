package gateway

import (
	"context"

	"github.com/rs/zerolog"
)

// MockTransport logs intended sends and reports them all accepted. It
// stands in for the real session when no signing key is configured, so
// development environments never block on missing push credentials.
type MockTransport struct {
	log zerolog.Logger
}

func NewMockTransport(log zerolog.Logger) *MockTransport {
	return &MockTransport{log: log}
}

func (m *MockTransport) Send(ctx context.Context, deviceToken string, payload []byte, h Headers) (*Response, error) {
	m.log.Info().
		Str("device_token", truncateToken(deviceToken)).
		Str("push_type", h.PushType).
		Str("topic", h.Topic).
		Int("priority", h.Priority).
		Int("payload_bytes", len(payload)).
		Msg("mock push send (no signing key configured)")
	return &Response{StatusCode: 200}, nil
}

func truncateToken(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:8] + "..."
}
