package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingToken    = errors.New("authorization header is missing")
	ErrMalformedHeader = errors.New("authorization header must be 'Bearer <token>'")
)

// ExtractTokenFromRequest returns the bearer token of r. The scheme is
// matched case-insensitively.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || token == "" || strings.ContainsAny(token, " \t") || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	return token, nil
}
