package attestation

import (
	"errors"
)

// ErrSchemeUnavailable is returned by a named-but-unimplemented attestation
// scheme variant.
var ErrSchemeUnavailable = errors.New("attestation: scheme not implemented in this build")

// Proof is the claimant-supplied evidence passed to Scheme.Validate.
type Proof map[string]interface{}

// Scheme is the single polymorphic validation seam every attestation
// strategy implements: given a claimed workload name and proof, decide
// whether the claim holds.
//
// Source inheritance-flavored service wiring is expressed here as a tagged
// variant instead of a base class with overrides: new schemes are added by
// writing another Scheme implementation, not by subclassing a shared
// attester.
type Scheme interface {
	// Validate checks proof against workloadName. It returns nil if the
	// claim is accepted, or a non-nil error (AttestationDenied-class) if
	// not.
	Validate(workloadName string, proof Proof) error
}

// StaticSecretScheme is the development attestation scheme: proof must
// carry a "token" field equal to the per-workload pre-shared value.
type StaticSecretScheme struct {
	// Tokens maps workload name to its expected pre-shared secret.
	Tokens map[string]string
}

// Validate implements Scheme.
func (s *StaticSecretScheme) Validate(workloadName string, proof Proof) error {
	expected, known := s.Tokens[workloadName]
	if !known || expected == "" {
		return errors.New("attestation: no pre-shared token configured for workload")
	}

	got, _ := proof["token"].(string)
	if got == "" || got != expected {
		return errors.New("attestation: proof token does not match")
	}
	return nil
}

// ServiceAccountTokenScheme validates an orchestrator-issued service-account
// token (e.g. a Kubernetes projected ServiceAccount JWT). Not implemented
// in this build; see DESIGN.md.
type ServiceAccountTokenScheme struct{}

// Validate implements Scheme.
func (ServiceAccountTokenScheme) Validate(string, Proof) error { return ErrSchemeUnavailable }

// CloudInstanceIdentityScheme validates a cloud provider's signed
// instance-identity document. Not implemented in this build.
type CloudInstanceIdentityScheme struct{}

// Validate implements Scheme.
func (CloudInstanceIdentityScheme) Validate(string, Proof) error { return ErrSchemeUnavailable }

// ProcessAuthorityScheme validates a claimant via local process
// inspection (e.g. unix-socket peer credentials). Not implemented in this
// build.
type ProcessAuthorityScheme struct{}

// Validate implements Scheme.
func (ProcessAuthorityScheme) Validate(string, Proof) error { return ErrSchemeUnavailable }
