package delegation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// remoteValidateTimeout bounds the Delegation Validator's remote fallback
// call to the issuer's /auth/validate endpoint.
const remoteValidateTimeout = 5 * time.Second

// Result is the outcome of a delegation-token validation attempt.
type Result struct {
	Valid       bool
	UserID      string
	Permissions []string
	Audience    []string
	ExpiresAt   time.Time
	Error       string
}

// Validator verifies delegation tokens at the point of use. If constructed
// with a signing secret it verifies locally and never falls through to the
// remote endpoint — a verifier that holds the secret treats a failed local
// check as invalid outright, to avoid oracle exposure. Without a secret it
// always verifies remotely against validateURL.
type Validator struct {
	secret      []byte
	validateURL string
	httpClient  *http.Client
}

// NewLocalValidator creates a Validator that verifies tokens against secret
// without any network I/O.
func NewLocalValidator(secret []byte) *Validator {
	return &Validator{secret: secret}
}

// NewRemoteValidator creates a Validator that verifies every token via a
// POST to validateURL (the issuer's /auth/validate endpoint), with the
// token carried in the JSON body, never a query string.
func NewRemoteValidator(validateURL string) *Validator {
	return &Validator{
		validateURL: validateURL,
		httpClient:  &http.Client{Timeout: remoteValidateTimeout},
	}
}

// Validate checks token and, when expectedAudienceSPIFFEID is non-empty,
// requires it to appear in the token's aud claim. Absent or mismatched
// audience is treated as invalid.
func (v *Validator) Validate(ctx context.Context, token, expectedAudienceSPIFFEID string) Result {
	if len(v.secret) > 0 {
		return v.validateLocal(token, expectedAudienceSPIFFEID)
	}
	return v.validateRemote(ctx, token, expectedAudienceSPIFFEID)
}

func (v *Validator) validateLocal(tokenString, expectedAudienceSPIFFEID string) Result {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Result{Valid: false, Error: "delegation token failed local verification"}
	}

	if !audienceMatches(claims.Audience, expectedAudienceSPIFFEID) {
		return Result{Valid: false, Error: "delegation token audience mismatch"}
	}

	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return Result{
		Valid:       true,
		UserID:      claims.UserID,
		Permissions: claims.Permissions,
		Audience:    []string(claims.Audience),
		ExpiresAt:   expiresAt,
	}
}

func audienceMatches(audience jwt.ClaimStrings, expected string) bool {
	if expected == "" {
		return true
	}
	for _, a := range audience {
		if a == expected {
			return true
		}
	}
	return false
}

type remoteValidateRequest struct {
	Token string `json:"token"`
}

type remoteValidateResponse struct {
	Valid bool `json:"valid"`
	Token *struct {
		UserID      string   `json:"user_id"`
		Permissions []string `json:"permissions"`
		Audience    []string `json:"audience"`
	} `json:"token"`
	Error string `json:"error"`
}

func (v *Validator) validateRemote(ctx context.Context, tokenString, expectedAudienceSPIFFEID string) Result {
	body, err := json.Marshal(remoteValidateRequest{Token: tokenString})
	if err != nil {
		return Result{Valid: false, Error: "failed to encode remote validate request"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.validateURL, bytes.NewReader(body))
	if err != nil {
		return Result{Valid: false, Error: "failed to build remote validate request"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Result{Valid: false, Error: "remote validate request failed"}
	}
	defer resp.Body.Close()

	var out remoteValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Valid: false, Error: "malformed remote validate response"}
	}

	if !out.Valid || out.Token == nil {
		return Result{Valid: false, Error: out.Error}
	}

	if expectedAudienceSPIFFEID != "" {
		found := false
		for _, a := range out.Token.Audience {
			if a == expectedAudienceSPIFFEID {
				found = true
				break
			}
		}
		if !found {
			return Result{Valid: false, Error: "delegation token audience mismatch"}
		}
	}

	return Result{
		Valid:       true,
		UserID:      out.Token.UserID,
		Permissions: out.Token.Permissions,
		Audience:    out.Token.Audience,
	}
}
