package authctx

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trustcore/identity-platform/internal/delegation"
)

// Filter is the Authentication Filter: it enforces spec.md §4.7's
// per-request algorithm in front of every non-exempt handler.
type Filter struct {
	validator                *delegation.Validator
	expectedAudienceSPIFFEID string
	exemptPaths              map[string]bool
}

// NewFilter creates an Auth Filter. expectedAudienceSPIFFEID is the
// verifying workload's own SPIFFE ID, checked against each token's aud
// claim. exemptPaths lists request paths forwarded unchanged (health,
// readiness, root).
func NewFilter(validator *delegation.Validator, expectedAudienceSPIFFEID string, exemptPaths ...string) *Filter {
	exempt := make(map[string]bool, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = true
	}
	return &Filter{
		validator:                validator,
		expectedAudienceSPIFFEID: expectedAudienceSPIFFEID,
		exemptPaths:              exempt,
	}
}

// Middleware returns the chi/http middleware implementing the five-step
// algorithm: exemption check, Bearer-prefix check, Delegation Validator
// invocation, context population, and context discard on return (the
// context is scoped to the request's own context.Context, so it is
// discarded automatically once the handler returns).
func (f *Filter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.exemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthError(w, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		result := f.validator.Validate(r.Context(), token, f.expectedAudienceSPIFFEID)
		if !result.Valid {
			writeAuthError(w, sanitize(result.Error))
			return
		}

		authCtx := Context{
			UserID:      result.UserID,
			Permissions: result.Permissions,
			RawToken:    token,
		}
		// Preserve a peer SPIFFE ID an earlier middleware (the mTLS
		// listener's AttachPeerIdentity) may have already attached.
		if existing, ok := FromContext(r.Context()); ok {
			authCtx.PeerServiceIdentity = existing.PeerServiceIdentity
		}

		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), authCtx)))
	})
}

func sanitize(message string) string {
	if message == "" {
		return "delegation token invalid"
	}
	return message
}

type authErrorBody struct {
	Error string `json:"error"`
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="trustcore"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(authErrorBody{Error: message})
}
