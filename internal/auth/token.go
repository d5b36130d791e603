// Package auth issues and checks the compact HS256 tokens websocket clients present
// when they join a session.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("missing auth token")
)

// Audience is stamped on every session token.
const Audience = "coordinator"

// Claims is the token payload.
type Claims struct {
	Subject   string `json:"sub"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	Audience  string `json:"aud,omitempty"`
}

// Expiry returns the expiry as a time.
func (c Claims) Expiry() time.Time { return time.Unix(c.ExpiresAt, 0) }

// Tokens signs and verifies session tokens with one shared secret.
type Tokens struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewTokens builds a signer/verifier. leeway absorbs clock skew between hosts.
func NewTokens(secret string, leeway time.Duration) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Tokens{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the clock for deterministic tests.
func (t *Tokens) WithClock(clock func() time.Time) {
	if clock != nil {
		t.now = clock
	}
}

var encodedHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// Issue mints a token for subject valid for ttl.
func (t *Tokens) Issue(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := t.now()
	payload, err := json.Marshal(Claims{
		Subject:   subject,
		ExpiresAt: now.Add(ttl).Unix(),
		IssuedAt:  now.Unix(),
		Audience:  Audience,
	})
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	signingInput := encodedHeader + "." + base64.RawURLEncoding.EncodeToString(payload)
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(t.sign(signingInput)), nil
}

// Verify checks the signature and expiry and returns the embedded claims.
func (t *Tokens) Verify(token string) (Claims, error) {
	var claims Claims
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return claims, ErrInvalidToken
	}

	//1.- Header first so foreign algorithms are rejected before any HMAC work.
	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return claims, ErrInvalidToken
	}
	var header struct {
		Algorithm string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return claims, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return claims, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Signature.
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, t.sign(parts[0]+"."+parts[1])) {
		return claims, ErrInvalidToken
	}

	//3.- Claims.
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return claims, ErrInvalidToken
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt <= 0 {
		return Claims{}, ErrInvalidToken
	}
	if claims.Expiry().Add(t.leeway).Before(t.now()) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// Authenticate reads the token from the auth_token query parameter or the
// X-Auth-Token header and returns its subject.
func (t *Tokens) Authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := t.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (t *Tokens) sign(input string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(input))
	return mac.Sum(nil)
}
