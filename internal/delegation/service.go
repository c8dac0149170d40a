package delegation

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/trustcore/identity-platform/internal/apierr"
	"github.com/trustcore/identity-platform/pkg/models"
)

// Service exposes the Delegation Issuer's mint endpoint and the Delegation
// Validator's remote /auth/validate endpoint.
type Service struct {
	issuer      *Issuer
	localSecret []byte
}

// NewService creates a delegation HTTP Service. secret is the same shared
// symmetric key issuer was constructed with, used here to validate the
// caller's user session token and to answer remote /auth/validate calls.
func NewService(issuer *Issuer, secret []byte) *Service {
	return &Service{issuer: issuer, localSecret: secret}
}

// Mount attaches /auth/delegate and /auth/validate onto r.
func (s *Service) Mount(r chi.Router) {
	r.Post("/auth/delegate", s.handleDelegate)
	r.Post("/auth/validate", s.handleValidate)
}

func (s *Service) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req models.DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidRequest, "malformed delegate request body")
		return
	}

	bearer := bearerToken(r)
	if bearer == "" {
		apierr.Write(w, apierr.TokenInvalid, "Authorization: Bearer <user_token> is required")
		return
	}
	userID, err := parseSessionTokenSubject(s.localSecret, bearer)
	if err != nil {
		apierr.Write(w, apierr.TokenInvalid, "invalid or expired user session token")
		return
	}
	if req.UserID != "" && req.UserID != userID {
		apierr.Write(w, apierr.PermissionDenied, "userId does not match the authenticated session")
		return
	}
	if req.TargetService == "" {
		apierr.Write(w, apierr.InvalidRequest, "targetService is required")
		return
	}

	token, expiresIn, err := s.issuer.Issue(userID, req.TargetService, req.Permissions, req.TTLSeconds)
	if err != nil {
		apierr.Write(w, apierr.SigningError, "failed to issue delegation token")
		return
	}

	apierr.WriteJSON(w, http.StatusOK, models.DelegateResponse{DelegationToken: token, ExpiresIn: expiresIn})
}

func (s *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req models.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.InvalidRequest, "malformed validate request body")
		return
	}
	if req.Token == "" {
		apierr.Write(w, apierr.InvalidRequest, "token is required")
		return
	}

	validator := NewLocalValidator(s.localSecret)
	result := validator.Validate(r.Context(), req.Token, "")
	if !result.Valid {
		apierr.WriteJSON(w, http.StatusOK, models.ValidateResponse{Valid: false, Error: result.Error})
		return
	}

	apierr.WriteJSON(w, http.StatusOK, models.ValidateResponse{
		Valid: true,
		Token: &models.ValidatedToken{
			UserID:      result.UserID,
			Permissions: result.Permissions,
			Audience:    result.Audience,
			ExpiresAt:   result.ExpiresAt,
		},
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// parseSessionTokenSubject verifies a user session token's signature and
// returns its subject (the user id).
func parseSessionTokenSubject(secret []byte, tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	return claims.Subject, nil
}
