package authctx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trustcore/identity-platform/internal/delegation"
)

func newTestFilter(t *testing.T) (*Filter, *delegation.Issuer) {
	t.Helper()
	secret := []byte("0123456789abcdef0123456789abcdef")
	issuer, err := delegation.NewIssuer(secret, "example.org", "user-service")
	require.NoError(t, err)

	validator := delegation.NewLocalValidator(secret)
	filter := NewFilter(validator, "spiffe://example.org/photo-service", "/health")
	return filter, issuer
}

func protectedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := FromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if !authCtx.HasAnyPermission("read:photos") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestFilterForwardsExemptPaths(t *testing.T) {
	filter, _ := newTestFilter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	filter.Middleware(protectedHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestFilterRejectsMissingBearerPrefix(t *testing.T) {
	filter, _ := newTestFilter(t)
	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	rec := httptest.NewRecorder()
	filter.Middleware(protectedHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFilterAcceptsValidDelegationToken(t *testing.T) {
	filter, issuer := newTestFilter(t)
	token, _, err := issuer.Issue("user-1", "photo-service", []string{"read:photos"}, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	filter.Middleware(protectedHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestFilterRejectsWrongAudience(t *testing.T) {
	filter, issuer := newTestFilter(t)
	token, _, err := issuer.Issue("user-1", "print-service", []string{"read:photos"}, 0)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	filter.Middleware(protectedHandler()).ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
