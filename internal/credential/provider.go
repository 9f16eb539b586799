// Package credential mints and caches the short-lived signed token that
// authenticates every request to the push gateway.
package credential

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RefreshMargin is the age at which a cached token is discarded. The
// gateway accepts tokens for a nominal 60 minutes; refreshing at 50
// keeps every send comfortably inside that window.
const RefreshMargin = 50 * time.Minute

// Predefined errors for credential minting.
var (
	ErrNoSigningKey     = errors.New("no signing key configured")
	ErrInvalidKeyFormat = errors.New("signing key is not a valid EC private key")
)

// SignedCredential is an immutable token value. Readers always see a
// complete credential, never a partially refreshed one.
type SignedCredential struct {
	Token    string
	IssuedAt time.Time
}

// Provider caches one SignedCredential and re-mints it eagerly once its
// age exceeds RefreshMargin. Safe for concurrent use; two goroutines
// racing a refresh may both mint, which is wasteful but harmless.
type Provider struct {
	key    *ecdsa.PrivateKey
	keyID  string
	teamID string
	now    func() time.Time

	mu      sync.Mutex
	current *SignedCredential
}

// NewProvider builds a provider from a PEM-encoded EC private key.
func NewProvider(keyPEM []byte, keyID, teamID string) (*Provider, error) {
	if len(keyPEM) == 0 {
		return nil, ErrNoSigningKey
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeyFormat, err.Error())
	}
	return &Provider{
		key:    key,
		keyID:  keyID,
		teamID: teamID,
		now:    time.Now,
	}, nil
}

// NewProviderFromFile loads the signing key from disk.
func NewProviderFromFile(keyPath, keyID, teamID string) (*Provider, error) {
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return NewProvider(pem, keyID, teamID)
}

// CurrentToken returns the cached credential, minting a fresh one if
// none exists or the cached one has aged past RefreshMargin.
func (p *Provider) CurrentToken() (SignedCredential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.current != nil && now.Sub(p.current.IssuedAt) < RefreshMargin {
		return *p.current, nil
	}

	token, err := p.mint(now)
	if err != nil {
		return SignedCredential{}, err
	}
	p.current = &SignedCredential{Token: token, IssuedAt: now}
	return *p.current, nil
}

func (p *Provider) mint(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": p.teamID,
		"iat": now.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = p.keyID

	signed, err := tok.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("sign gateway token: %w", err)
	}
	return signed, nil
}
