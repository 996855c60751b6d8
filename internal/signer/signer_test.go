package signer_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/signer"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func newSigner(t *testing.T) (*signer.Signer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}
	s, err := signer.New("test-signing-secret", signer.WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func sampleClaims() signer.TicketClaims {
	return signer.TicketClaims{
		TicketID:     "tkt-1",
		OrderID:      "ord-1",
		OrderItemID:  "item-1",
		Sequence:     2,
		UserID:       "user-1",
		EventID:      "event-1",
		TicketTypeID: "vip",
	}
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := signer.New("")
	assert.Error(t, err)
}

func TestSignIsKeyOrderIndependent(t *testing.T) {
	s, _ := newSigner(t)

	a, err := s.Sign(map[string]interface{}{"b": 2, "a": "x", "nested": map[string]interface{}{"z": 1, "y": true}})
	require.NoError(t, err)
	b, err := s.Sign(map[string]interface{}{"nested": map[string]interface{}{"y": true, "z": 1}, "a": "x", "b": 2})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := s.Sign(map[string]interface{}{"a": "x", "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestTicketTokenRoundTrip(t *testing.T) {
	s, clock := newSigner(t)

	token, issued, err := s.IssueTicketToken(sampleClaims())
	require.NoError(t, err)
	assert.Equal(t, signer.TicketTokenType, issued.Type)
	assert.Equal(t, clock.t.UnixMilli(), issued.IssuedAt)

	claims, err := s.VerifyTicketToken(token)
	require.NoError(t, err)
	assert.Equal(t, "tkt-1", claims.TicketID)
	assert.Equal(t, "ord-1", claims.OrderID)
	assert.Equal(t, 2, claims.Sequence)
	assert.Equal(t, "vip", claims.TicketTypeID)
}

func TestTicketTokenValidityWindow(t *testing.T) {
	s, clock := newSigner(t)
	start := clock.t

	token, _, err := s.IssueTicketToken(sampleClaims())
	require.NoError(t, err)

	clock.t = start.Add(24*time.Hour - time.Second)
	_, err = s.VerifyTicketToken(token)
	assert.NoError(t, err)

	clock.t = start.Add(24*time.Hour + time.Second)
	_, err = s.VerifyTicketToken(token)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindExpired, apperrors.KindOf(err))
}

func TestTicketTokenRejectsTampering(t *testing.T) {
	s, _ := newSigner(t)

	token, _, err := s.IssueTicketToken(sampleClaims())
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)

	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &env))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env["payload"], &payload))
	payload["userId"] = "user-2"
	env["payload"], _ = json.Marshal(payload)

	forged, _ := json.Marshal(env)
	_, err = s.VerifyTicketToken(base64.StdEncoding.EncodeToString(forged))
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))

	_, err = s.VerifyTicketToken("not-base64!!")
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))
}

func TestTicketTokenRejectsOtherSecret(t *testing.T) {
	s, _ := newSigner(t)
	other, err := signer.New("another-secret")
	require.NoError(t, err)

	token, _, err := other.IssueTicketToken(sampleClaims())
	require.NoError(t, err)

	_, err = s.VerifyTicketToken(token)
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))
}

func TestStreamTokenRoundTrip(t *testing.T) {
	s, clock := newSigner(t)

	token, issued, err := s.IssueStreamToken("sess-1", "user-1", "event-1", "ppv-1")
	require.NoError(t, err)
	assert.Equal(t, clock.t.Add(12*time.Hour), issued.ExpiresAt.Time)

	claims, err := s.VerifyStreamToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID())
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "event-1", claims.EventID)
	assert.Equal(t, "ppv-1", claims.PpvPurchaseID)
}

func TestStreamTokenExpires(t *testing.T) {
	s, clock := newSigner(t)
	start := clock.t

	token, _, err := s.IssueStreamToken("sess-1", "user-1", "event-1", "")
	require.NoError(t, err)

	clock.t = start.Add(12*time.Hour - time.Second)
	_, err = s.VerifyStreamToken(token)
	assert.NoError(t, err)

	clock.t = start.Add(12*time.Hour + time.Second)
	_, err = s.VerifyStreamToken(token)
	assert.Equal(t, apperrors.KindExpired, apperrors.KindOf(err))
}

func TestTokensAreNotInterchangeable(t *testing.T) {
	s, clock := newSigner(t)

	ticketToken, _, err := s.IssueTicketToken(sampleClaims())
	require.NoError(t, err)
	_, err = s.VerifyStreamToken(ticketToken)
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))

	streamToken, _, err := s.IssueStreamToken("sess-1", "user-1", "event-1", "")
	require.NoError(t, err)
	_, err = s.VerifyTicketToken(streamToken)
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))

	// a correctly signed JWT with the wrong type tag
	wrongType := &signer.StreamClaims{
		UserID:  "user-1",
		EventID: "event-1",
		Type:    "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "sess-2",
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wrongType).SignedString([]byte("test-signing-secret"))
	require.NoError(t, err)
	_, err = s.VerifyStreamToken(forged)
	assert.Equal(t, apperrors.KindSignature, apperrors.KindOf(err))
}

func TestManualCode(t *testing.T) {
	code := signer.ManualCode("8d7f2b9c-0000-4000-8000-000000000001")
	assert.Len(t, code, 8)
	assert.Regexp(t, `^[0-9]{8}$`, code)
	assert.Equal(t, code, signer.ManualCode("8d7f2b9c-0000-4000-8000-000000000001"))
	assert.NotEqual(t, code, signer.ManualCode("8d7f2b9c-0000-4000-8000-000000000002"))
}
