// Package delegation implements the Delegation Issuer and Delegation
// Validator: minting and verifying the user-delegation tokens a downstream
// workload's Auth Filter consults on every request.
package delegation

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the delegation token's claim set: the registered JWT fields
// (iss, sub, aud, iat, exp) plus the two custom fields spec.md §3 requires.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// defaultPermissions is substituted when an issue request carries no
// permissions, for backward compatibility with the reference corpus (see
// DESIGN.md's Open Question resolution).
var defaultPermissions = []string{"read:photos"}
