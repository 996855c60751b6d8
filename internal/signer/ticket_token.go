package signer

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

const TicketTokenType = "ticket"

// TicketClaims is the payload carried inside a ticket QR code.
type TicketClaims struct {
	Type         string `json:"typ"`
	TicketID     string `json:"ticketId"`
	OrderID      string `json:"orderId"`
	OrderItemID  string `json:"orderItemId"`
	Sequence     int    `json:"sequence"`
	UserID       string `json:"userId"`
	EventID      string `json:"eventId"`
	TicketTypeID string `json:"ticketType"`
	IssuedAt     int64  `json:"iat"` // unix millis
}

func (c TicketClaims) IssuedTime() time.Time {
	return time.UnixMilli(c.IssuedAt).UTC()
}

type ticketEnvelope struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// IssueTicketToken stamps the claims with the current time, signs them and
// returns base64({payload, signature}).
func (s *Signer) IssueTicketToken(claims TicketClaims) (string, TicketClaims, error) {
	claims.Type = TicketTokenType
	claims.IssuedAt = s.now().UnixMilli()

	canonical, err := Canonicalize(claims)
	if err != nil {
		return "", claims, err
	}

	env, err := json.Marshal(ticketEnvelope{
		Payload:   canonical,
		Signature: s.signBytes(canonical),
	})
	if err != nil {
		return "", claims, err
	}
	return base64.StdEncoding.EncodeToString(env), claims, nil
}

// VerifyTicketToken rejects tampered tokens with a signature error and tokens
// older than the ticket validity window with an expired error.
func (s *Signer) VerifyTicketToken(token string) (*TicketClaims, error) {
	const op = "signer.VerifyTicketToken"

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, signatureError(op, "token is not valid base64")
	}

	var env ticketEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Payload) == 0 || env.Signature == "" {
		return nil, signatureError(op, "token envelope is malformed")
	}

	canonical, err := canonicalizeJSON(env.Payload)
	if err != nil {
		return nil, signatureError(op, "token payload is malformed")
	}
	if !s.verifyBytes(canonical, env.Signature) {
		return nil, signatureError(op, "token signature mismatch")
	}

	var claims TicketClaims
	if err := json.Unmarshal(canonical, &claims); err != nil {
		return nil, signatureError(op, "token payload is malformed")
	}
	if claims.Type != TicketTokenType {
		return nil, signatureError(op, "token type %q is not a ticket token", claims.Type)
	}

	now := s.now()
	issued := claims.IssuedTime()
	if issued.After(now.Add(maxClockSkew)) {
		return nil, signatureError(op, "token issued in the future")
	}
	if now.Sub(issued) > s.ticketValidity {
		return nil, expiredError(op, "ticket token expired at %s", issued.Add(s.ticketValidity).Format(time.RFC3339))
	}
	return &claims, nil
}
