// Package token issues and verifies the capability tokens that authenticate
// realtime bridge connections. A token is self-contained: the bridge can
// verify a connection from the token alone, without a session lookup or an
// extra round-trip. The trade-off is that a token cannot be revoked before it
// expires; the short TTL bounds the exposure.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 5 * time.Minute

// ErrInvalid is returned by Verify for every malformed, tampered or expired
// token. Callers fail closed on it without needing to distinguish the cause.
var ErrInvalid = errors.New("invalid capability token")

// Payload is the signed body of a capability token. Exp is epoch milliseconds.
type Payload struct {
	UserID      string `json:"userId"`
	ContainerID string `json:"containerId"`
	Exp         int64  `json:"exp"`
	Nonce       string `json:"nonce"`
}

type Service struct {
	secret []byte
	ttl    time.Duration

	// now is swapped out in tests to force expiry deterministically.
	now func() time.Time
}

func NewService(secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a token scoping userID to containerID until the TTL elapses.
// The wire format is base64url(payload JSON) + "." + base64url(HMAC-SHA256 of
// the encoded payload). The nonce only prevents two tokens issued in the same
// millisecond from being byte-identical.
func (s *Service) Issue(userID, containerID string) (string, error) {
	payload := Payload{
		UserID:      userID,
		ContainerID: containerID,
		Exp:         s.now().Add(s.ttl).UnixMilli(),
		Nonce:       uuid.NewString(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)

	return encoded + "." + s.sign(encoded), nil
}

// Verify checks the signature and expiry and returns the decoded payload.
// It never panics and returns ErrInvalid for anything that is not a currently
// valid token. Matching the payload's container against the requested one is
// the caller's job.
func (s *Service) Verify(value string) (Payload, error) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return Payload{}, ErrInvalid
	}

	expected := s.sign(parts[0])
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return Payload{}, ErrInvalid
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Payload{}, ErrInvalid
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, ErrInvalid
	}

	if payload.Exp <= s.now().UnixMilli() {
		return Payload{}, ErrInvalid
	}

	return payload, nil
}

func (s *Service) sign(encodedPayload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
