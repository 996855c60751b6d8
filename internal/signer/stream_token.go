package signer

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

const StreamTokenType = "stream_access"

// StreamClaims is the JWT body of a stream session token. The session id is the jti.
type StreamClaims struct {
	UserID        string `json:"userId"`
	EventID       string `json:"eventId"`
	PpvPurchaseID string `json:"ppvPurchaseId,omitempty"`
	Type          string `json:"type"`
	jwt.RegisteredClaims
}

func (c *StreamClaims) SessionID() string {
	return c.ID
}

func (s *Signer) IssueStreamToken(sessionID, userID, eventID, ppvPurchaseID string) (string, *StreamClaims, error) {
	now := s.now()
	claims := &StreamClaims{
		UserID:        userID,
		EventID:       eventID,
		PpvPurchaseID: ppvPurchaseID,
		Type:          StreamTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.streamValidity)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

func (s *Signer) VerifyStreamToken(token string) (*StreamClaims, error) {
	const op = "signer.VerifyStreamToken"

	claims := &StreamClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, expiredError(op, "stream token expired")
		}
		return nil, signatureError(op, "invalid stream token: %v", err)
	}
	if claims.Type != StreamTokenType {
		return nil, signatureError(op, "token type %q is not a stream token", claims.Type)
	}
	if claims.ID == "" || claims.UserID == "" || claims.EventID == "" {
		return nil, signatureError(op, "stream token is missing required claims")
	}
	return claims, nil
}
