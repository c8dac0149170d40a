// Package apierr maps the trust core's error taxonomy onto HTTP responses.
// It generalizes the writeError/writeAuthError helpers every HTTP surface in
// this repository used to hand-roll individually.
package apierr

import (
	"encoding/json"
	"net/http"

	"github.com/trustcore/identity-platform/pkg/models"
)

// Kind identifies one of the trust core's error kinds. Kinds are not Go
// error types: they're a closed taxonomy used to pick an HTTP status,
// never surfaced to a client beyond the status code and message.
type Kind string

const (
	ConfigError       Kind = "config_error"
	AttestationDenied Kind = "attestation_denied"
	TicketInvalid     Kind = "ticket_invalid"
	SigningError      Kind = "signing_error"
	BootstrapError    Kind = "bootstrap_error"
	NoIdentity        Kind = "no_identity"
	TokenInvalid      Kind = "token_invalid"
	PermissionDenied  Kind = "permission_denied"
	NotFound          Kind = "not_found"
	Internal          Kind = "internal"
	InvalidRequest    Kind = "invalid_request"
)

var statusByKind = map[Kind]int{
	ConfigError:       http.StatusInternalServerError,
	AttestationDenied: http.StatusUnauthorized,
	TicketInvalid:     http.StatusUnauthorized,
	SigningError:      http.StatusInternalServerError,
	BootstrapError:    http.StatusInternalServerError,
	NoIdentity:        http.StatusInternalServerError,
	TokenInvalid:      http.StatusUnauthorized,
	PermissionDenied:  http.StatusForbidden,
	NotFound:          http.StatusNotFound,
	Internal:          http.StatusInternalServerError,
	InvalidRequest:    http.StatusBadRequest,
}

// Status returns the HTTP status code for a Kind, defaulting to 500 for an
// unrecognized kind rather than panicking.
func (k Kind) Status() int {
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Write sends a JSON error envelope for the given kind. message is the
// client-facing text; it must already be sanitized of proof payloads,
// bearer tokens, and private key material.
func Write(w http.ResponseWriter, kind Kind, message string) {
	WriteJSON(w, kind.Status(), models.ErrorResponse{Error: message})
}

// WriteJSON writes an arbitrary JSON body with the given status, the shared
// helper every handler in the trust core uses in place of manual
// json.NewEncoder boilerplate.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
