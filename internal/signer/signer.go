package signer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ms-checkout/internal/apperrors"
)

const (
	DefaultTicketValidity = 24 * time.Hour
	DefaultStreamValidity = 12 * time.Hour

	// future-dated tokens beyond this skew are rejected
	maxClockSkew = time.Minute
)

// Signer issues and verifies the two credential types handed to clients:
// QR ticket tokens and stream session tokens. Both are keyed by one secret.
type Signer struct {
	secret         []byte
	now            func() time.Time
	ticketValidity time.Duration
	streamValidity time.Duration
}

type Option func(*Signer)

func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func WithTicketValidity(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.ticketValidity = d
		}
	}
}

func WithStreamValidity(d time.Duration) Option {
	return func(s *Signer) {
		if d > 0 {
			s.streamValidity = d
		}
	}
}

func New(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signer: secret must not be empty")
	}
	s := &Signer{
		secret:         []byte(secret),
		now:            func() time.Time { return time.Now().UTC() },
		ticketValidity: DefaultTicketValidity,
		streamValidity: DefaultStreamValidity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) TicketValidity() time.Duration { return s.ticketValidity }
func (s *Signer) StreamValidity() time.Duration { return s.streamValidity }

// Sign returns the hex HMAC-SHA256 of the canonical JSON form of payload.
func (s *Signer) Sign(payload interface{}) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return s.signBytes(canonical), nil
}

func (s *Signer) signBytes(b []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyBytes compares in constant time; a malformed hex signature never matches.
func (s *Signer) verifyBytes(b []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(b)
	return hmac.Equal(mac.Sum(nil), got)
}

// Canonicalize renders payload as JSON with object keys sorted at every level
// and numbers kept verbatim, so equal payloads always produce equal bytes.
func Canonicalize(payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal payload: %w", err)
	}
	return canonicalizeJSON(raw)
}

func canonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("signer: decode payload: %w", err)
	}
	// encoding/json sorts map keys on output
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("signer: encode payload: %w", err)
	}
	return out, nil
}

// ManualCode derives the 8-digit code printed under a ticket's QR for manual entry.
func ManualCode(ticketID string) string {
	sum := sha256.Sum256([]byte(ticketID))
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:])[:8], 16, 64)
	return fmt.Sprintf("%08d", v%100000000)
}

func signatureError(op, format string, args ...interface{}) error {
	return apperrors.Signature(op, format, args...)
}

func expiredError(op, format string, args ...interface{}) error {
	return apperrors.New(apperrors.KindExpired, op, fmt.Sprintf(format, args...))
}
