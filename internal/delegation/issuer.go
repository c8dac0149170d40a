package delegation

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTTLSeconds is used when an issue request specifies no TTL.
	DefaultTTLSeconds = 900
	// MaxTTLSeconds caps the TTL a caller may request.
	MaxTTLSeconds = 3600
)

// Issuer mints delegation tokens on behalf of authenticated users. It owns
// the shared symmetric signing secret and the issuer/subject SPIFFE ID
// ("iss" = "sub" = spiffe://<trust_domain>/<user-service-name>").
type Issuer struct {
	secret         []byte
	issuerSPIFFEID string
	trustDomain    string
}

// NewIssuer creates a delegation token Issuer. secret must be at least 256
// bits; trustDomain and userServiceName build the constant iss/sub SPIFFE
// ID every minted token carries.
func NewIssuer(secret []byte, trustDomain, userServiceName string) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("delegation: signing secret must be at least 256 bits")
	}
	return &Issuer{
		secret:         secret,
		issuerSPIFFEID: fmt.Sprintf("spiffe://%s/%s", trustDomain, userServiceName),
		trustDomain:    trustDomain,
	}, nil
}

// Issue mints a delegation token scoped to (userID, targetWorkloadName,
// permissions, ttlSeconds). An empty permissions slice defaults to
// ["read:photos"]. ttlSeconds of zero uses DefaultTTLSeconds; any value
// above MaxTTLSeconds is clamped down to it.
func (iss *Issuer) Issue(userID, targetWorkloadName string, permissions []string, ttlSeconds int) (string, int, error) {
	if userID == "" {
		return "", 0, fmt.Errorf("delegation: user_id is required")
	}
	if targetWorkloadName == "" {
		return "", 0, fmt.Errorf("delegation: target_workload_name is required")
	}

	if len(permissions) == 0 {
		permissions = defaultPermissions
	}

	switch {
	case ttlSeconds <= 0:
		ttlSeconds = DefaultTTLSeconds
	case ttlSeconds > MaxTTLSeconds:
		ttlSeconds = MaxTTLSeconds
	}

	audience := fmt.Sprintf("spiffe://%s/%s", iss.trustDomain, targetWorkloadName)
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.issuerSPIFFEID,
			Subject:   iss.issuerSPIFFEID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
			ID:        uuid.New().String(),
		},
		UserID:      userID,
		Permissions: permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		return "", 0, fmt.Errorf("delegation: sign token: %w", err)
	}

	return signed, ttlSeconds, nil
}

// IssueSessionToken mints a User Session Token: the same HS256-signed
// primitive as a delegation token, but scoped to the user alone (sub =
// userID, no aud, no permissions) rather than to a target workload.
func (iss *Issuer) IssueSessionToken(userID string, ttlSeconds int) (string, int, error) {
	if userID == "" {
		return "", 0, fmt.Errorf("delegation: user_id is required")
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.issuerSPIFFEID,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSeconds) * time.Second)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(iss.secret)
	if err != nil {
		return "", 0, fmt.Errorf("delegation: sign session token: %w", err)
	}

	return signed, ttlSeconds, nil
}
