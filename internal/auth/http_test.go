// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, static identity, and capability gates

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAuth(got **AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("user-123", []string{"memory"}, time.Hour)
	require.NoError(t, err)

	var got *AuthContext
	handler := HTTPAuthMiddleware(verifier)(captureAuth(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-123", got.UserID)
	assert.Equal(t, []string{"memory"}, got.Capabilities)
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	expired, err := verifier.Generate("user-123", nil, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantSubstr string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Basic abc", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"garbage token", "Bearer nope", "invalid token"},
		{"expired token", "Bearer " + expired, "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantSubstr)
		})
	}
}

func TestStaticAuthMiddleware(t *testing.T) {
	caps := []string{"workspace"}
	var got *AuthContext
	handler := StaticAuthMiddleware("local", caps)(captureAuth(&got))

	// Mutating the input slice must not leak into the middleware identity
	caps[0] = "changed"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Equal(t, "local", got.UserID)
	assert.Equal(t, []string{"workspace"}, got.Capabilities)
}

func TestRequireCapabilityHTTP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("no auth context", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireCapabilityHTTP("memory")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing capability", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h := StaticAuthMiddleware("u", []string{"workspace"})(RequireCapabilityHTTP("memory")(ok))
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "memory capability required")
	})

	t.Run("has capability", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h := StaticAuthMiddleware("u", []string{"memory"})(RequireCapabilityHTTP("memory")(ok))
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("wildcard", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h := StaticAuthMiddleware("u", []string{WildcardCapability})(RequireCapabilityHTTP("memory")(ok))
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
