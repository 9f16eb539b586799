package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/pagerapp/pushgate/internal/credential"
)

// Gateway hosts.
const (
	HostProduction = "api.push.apple.com"
	HostSandbox    = "api.sandbox.push.apple.com"
)

// SessionConfig configures the gateway session.
type SessionConfig struct {
	Host           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// Session holds at most one multiplexed HTTP/2 connection to the
// gateway. The connection handle is owned exclusively by the session;
// concurrent sends multiplex over it, and a single dial gate ensures
// only one reconnect is in flight at a time.
type Session struct {
	cfg       SessionConfig
	creds     *credential.Provider
	log       zerolog.Logger
	tlsConfig *tls.Config // overridden in tests

	mu      sync.Mutex
	cc      *http2.ClientConn
	dialing chan struct{} // non-nil while a connect attempt is in flight
}

func NewSession(cfg SessionConfig, creds *credential.Provider, log zerolog.Logger) *Session {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Session{
		cfg:   cfg,
		creds: creds,
		log:   log,
	}
}

// Send delivers one notification over the shared connection, dialing
// first if needed. Timeouts and dial failures return an error (a
// transient failure); a gateway rejection returns a Response.
func (s *Session) Send(ctx context.Context, deviceToken string, payload []byte, h Headers) (*Response, error) {
	cc, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	cred, err := s.creds.CurrentToken()
	if err != nil {
		return nil, fmt.Errorf("gateway credential: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	url := fmt.Sprintf("https://%s/3/device/%s", s.cfg.Host, deviceToken)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}

	req.Header.Set("authorization", "bearer "+cred.Token)
	req.Header.Set("apns-topic", h.Topic)
	req.Header.Set("apns-push-type", h.PushType)
	req.Header.Set("apns-priority", strconv.Itoa(h.Priority))
	// Zero expiration: discard if the notification cannot be delivered now.
	req.Header.Set("apns-expiration", "0")

	resp, err := cc.RoundTrip(req)
	if err != nil {
		s.dropIfDead(cc)
		return nil, fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	out := &Response{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Reason string `json:"reason"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err := json.Unmarshal(raw, &body); err == nil {
			out.Reason = body.Reason
		}
	}

	s.dropIfDead(cc)
	return out, nil
}

// ensureConnected returns a connection that can take a new request,
// dialing one if the session is disconnected. A caller that observes a
// dial already in flight waits for it instead of starting a second one.
func (s *Session) ensureConnected(ctx context.Context) (*http2.ClientConn, error) {
	for {
		s.mu.Lock()
		if s.cc != nil && s.cc.CanTakeNewRequest() {
			cc := s.cc
			s.mu.Unlock()
			return cc, nil
		}
		s.cc = nil

		if s.dialing != nil {
			wait := s.dialing
			s.mu.Unlock()
			select {
			case <-wait:
				continue // re-check: the dial either installed a conn or failed
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		done := make(chan struct{})
		s.dialing = done
		s.mu.Unlock()

		cc, err := s.dial(ctx)

		s.mu.Lock()
		s.dialing = nil
		if err == nil {
			s.cc = cc
		}
		s.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		return cc, nil
	}
}

func (s *Session) dial(ctx context.Context) (*http2.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	s.log.Debug().Str("host", s.cfg.Host).Msg("connecting to push gateway")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	cc, err := backoff.RetryWithData(func() (*http2.ClientConn, error) {
		return s.dialOnce(dialCtx)
	}, backoff.WithContext(bo, dialCtx))
	if err != nil {
		return nil, fmt.Errorf("connect to gateway %s: %w", s.cfg.Host, err)
	}

	s.log.Info().Str("host", s.cfg.Host).Msg("push gateway connected")
	return cc, nil
}

func (s *Session) dialOnce(ctx context.Context) (*http2.ClientConn, error) {
	addr := s.cfg.Host
	serverName := s.cfg.Host
	if host, _, err := net.SplitHostPort(s.cfg.Host); err == nil {
		serverName = host
	} else {
		addr = net.JoinHostPort(s.cfg.Host, "443")
	}

	tlsCfg := s.tlsConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{
			ServerName: serverName,
			NextProtos: []string{"h2"},
			MinVersion: tls.VersionTLS12,
		}
	}
	d := &tls.Dialer{Config: tlsCfg}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	t := &http2.Transport{ReadIdleTimeout: 60 * time.Second}
	cc, err := t.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return cc, nil
}

// dropIfDead clears the session handle when the connection has hit
// end-of-life (GOAWAY or close), so the next send reconnects. Teardown
// is graceful: streams still in flight on the old connection get to
// finish instead of surfacing as transient failures.
func (s *Session) dropIfDead(cc *http2.ClientConn) {
	if cc.CanTakeNewRequest() {
		return
	}
	s.mu.Lock()
	if s.cc == cc {
		s.cc = nil
		s.log.Warn().Str("host", s.cfg.Host).Msg("push gateway connection lost")
	}
	s.mu.Unlock()
	go cc.Shutdown(context.Background())
}

// Close tears down the current connection, if any. In-flight requests
// are allowed to finish by the caller draining workers first.
func (s *Session) Close() error {
	s.mu.Lock()
	cc := s.cc
	s.cc = nil
	s.mu.Unlock()
	if cc != nil {
		return cc.Close()
	}
	return nil
}
