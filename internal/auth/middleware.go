package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	rolesKey  contextKey = "roles"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// Headers honoured only when authentication is disabled for local runs.
const (
	devUserHeader  = "X-User-ID"
	devRolesHeader = "X-User-Roles"
)

// Claims is the part of the identity provider's ID token the service reads.
type Claims struct {
	Sub         string `json:"sub"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Middleware verifies bearer tokens against the OIDC issuer and puts the
// subject and realm roles into the request context.
func Middleware(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Disabled {
		log.LogSecurity("AUTH_DISABLED", "authentication is disabled, identities are taken from request headers")
		return headerIdentity, nil
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer is not configured")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// an empty client id means any audience of this issuer is accepted
	verifier := provider.Verifier(&oidc.Config{
		ClientID:          cfg.ClientID,
		SkipClientIDCheck: cfg.ClientID == "",
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			idToken, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", err.Error())
				unauthorized(w, "invalid token")
				return
			}

			var claims Claims
			if err := idToken.Claims(&claims); err != nil || claims.Sub == "" {
				unauthorized(w, "failed to parse claims")
				return
			}

			ctx := WithUser(r.Context(), claims.Sub, claims.RealmAccess.Roles...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

func headerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(devUserHeader)
		if userID == "" {
			unauthorized(w, "missing "+devUserHeader+" header")
			return
		}
		var roles []string
		for _, role := range strings.Split(r.Header.Get(devRolesHeader), ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, roles...)))
	})
}

// RequireRole lets the request through when the caller holds any of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, role := range roles {
				if HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.WriteError(w, apperrors.New(apperrors.KindNoAccess, "auth.RequireRole",
				fmt.Sprintf("requires one of roles: %s", strings.Join(roles, ", "))))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("unauthorized", msg))
}

// WithUser stores an authenticated identity in ctx.
func WithUser(ctx context.Context, userID string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, rolesKey, roles)
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if uid, ok := ctx.Value(userIDKey).(string); ok {
		return uid
	}
	return ""
}

func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}

func HasRole(ctx context.Context, role string) bool {
	for _, r := range Roles(ctx) {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
