package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"lowercase scheme", "bearer abc", "abc", nil},
		{"missing", "", "", ErrMissingToken},
		{"wrong scheme", "Basic abc", "", ErrMalformedHeader},
		{"no token", "Bearer", "", ErrMalformedHeader},
		{"extra parts", "Bearer abc def", "", ErrMalformedHeader},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractTokenFromRequest(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithUserAndRoles(t *testing.T) {
	ctx := WithUser(context.Background(), "user-1", "Manager")

	assert.Equal(t, "user-1", UserID(ctx))
	assert.True(t, HasRole(ctx, RoleManager))
	assert.False(t, HasRole(ctx, RoleAdmin))
	assert.Empty(t, UserID(context.Background()))
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleManager, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodPost, "/tickets/scan", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(WithUser(r.Context(), "user-1")))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(WithUser(r.Context(), "user-1", RoleAdmin)))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDisabledMiddlewareUsesHeaders(t *testing.T) {
	mw, err := Middleware(context.Background(), config.AuthConfig{Disabled: true}, logger.Nop())
	require.NoError(t, err)

	var gotUser string
	var gotManager bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserID(r.Context())
		gotManager = HasRole(r.Context(), RoleManager)
	}))

	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("X-User-ID", "user-7")
	r.Header.Set("X-User-Roles", "user, manager")
	handler.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "user-7", gotUser)
	assert.True(t, gotManager)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
