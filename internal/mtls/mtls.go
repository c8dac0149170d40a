// Package mtls builds client and server TLS configuration from an
// Identity Agent's current SVID, and extracts the peer SPIFFE ID from a
// verified mTLS handshake.
//
// Unlike the teacher's internal/spiffe/mtls.go, this package does not use
// go-spiffe's workloadapi.X509Source-backed tlsconfig.MTLSServerConfig
// helpers: the Identity Agent here is a client of this repository's own
// Workload API, not a SPIRE Agent, so there is no X509Source to hand it.
// The hand-rolled crypto/tls.Config construction below reuses the teacher's
// proven VerifyCertificate/PeerSPIFFEID SAN-scan logic, including its use of
// spiffeid.ID/spiffeid.TrustDomain to represent parsed identities.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"strings"

	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/trustcore/identity-platform/internal/authctx"
	"github.com/trustcore/identity-platform/internal/identityagent"
)

// CurrentSVID is the subset of identityagent.Agent that TLS config builders
// need: a re-read on every handshake/dial so rotation takes effect without
// restart.
type CurrentSVID interface {
	Current() (*identityagent.Bundle, error)
}

// ClientConfig builds an HTTPS client TLS config that presents the
// workload's current leaf, trusts the CA chain from the same bundle, and
// requires the server certificate to yield a SPIFFE ID in trustDomain via
// PeerSPIFFEID (its spiffe:// URI-SAN, or the common-name fallback when it
// has none).
// GetClientCertificate and VerifyPeerCertificate both re-read agent.Current()
// on every call, so a rotated identity takes effect without reconnecting.
func ClientConfig(agent CurrentSVID, trustDomain spiffeid.TrustDomain) *tls.Config {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true, // verification is done in VerifyPeerCertificate below
	}

	cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		bundle, err := agent.Current()
		if err != nil {
			return nil, fmt.Errorf("mtls: no identity available: %w", err)
		}
		return &bundle.Certificate, nil
	}

	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		bundle, err := agent.Current()
		if err != nil {
			return fmt.Errorf("mtls: no identity available: %w", err)
		}
		_, err = verifyChainAndExtractSPIFFEID(rawCerts, bundle.CACertPool, trustDomain)
		return err
	}

	return cfg
}

// ServerConfig builds a TLS listener config that presents the workload's
// current leaf, requires and verifies client certificates against the same
// CA, and rejects handshakes lacking a parseable SPIFFE ID. The accepted
// peer's SPIFFE ID is not available from tls.Config alone; callers extract
// it from the *tls.ConnectionState after Handshake via PeerSPIFFEID.
func ServerConfig(agent CurrentSVID, trustDomain spiffeid.TrustDomain) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequireAndVerifyClientCert,
	}

	cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		bundle, err := agent.Current()
		if err != nil {
			return nil, fmt.Errorf("mtls: no identity available: %w", err)
		}
		return &bundle.Certificate, nil
	}

	cfg.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		bundle, err := agent.Current()
		if err != nil {
			return nil, fmt.Errorf("mtls: no identity available: %w", err)
		}
		clone := cfg.Clone()
		clone.ClientCAs = bundle.CACertPool
		clone.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			_, err := verifyChainAndExtractSPIFFEID(rawCerts, bundle.CACertPool, trustDomain)
			return err
		}
		return clone, nil
	}

	return cfg
}

// verifyChainAndExtractSPIFFEID parses rawCerts[0], verifies it against
// roots, and returns its SPIFFE ID.
func verifyChainAndExtractSPIFFEID(rawCerts [][]byte, roots *x509.CertPool, trustDomain spiffeid.TrustDomain) (spiffeid.ID, error) {
	if len(rawCerts) == 0 {
		return spiffeid.ID{}, fmt.Errorf("mtls: no peer certificate presented")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return spiffeid.ID{}, fmt.Errorf("mtls: parse peer certificate: %w", err)
	}

	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		if cert, err := x509.ParseCertificate(raw); err == nil {
			intermediates.AddCert(cert)
		}
	}

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}); err != nil {
		return spiffeid.ID{}, fmt.Errorf("mtls: peer certificate chain verification failed: %w", err)
	}

	return PeerSPIFFEID(leaf, trustDomain)
}

// PeerSPIFFEID scans cert's SAN extension (OID 2.5.29.17) for a URI entry
// parseable as a spiffeid.ID in trustDomain, falling back to the Subject
// DN's common name for legacy paths. It rejects ids whose trust domain
// differs from trustDomain.
func PeerSPIFFEID(cert *x509.Certificate, trustDomain spiffeid.TrustDomain) (spiffeid.ID, error) {
	for _, uri := range cert.URIs {
		if uri.Scheme != "spiffe" {
			continue
		}
		id, err := spiffeid.FromURI(uri)
		if err != nil {
			continue
		}
		if id.TrustDomain() != trustDomain {
			return spiffeid.ID{}, fmt.Errorf("mtls: certificate trust domain %q does not match expected %q",
				id.TrustDomain().String(), trustDomain.String())
		}
		return id, nil
	}

	if cert.Subject.CommonName != "" {
		fallback := "spiffe://" + trustDomain.String() + "/" + strings.TrimPrefix(cert.Subject.CommonName, "/")
		if id, err := spiffeid.FromString(fallback); err == nil {
			return id, nil
		}
	}

	return spiffeid.ID{}, fmt.Errorf("mtls: no parseable SPIFFE ID found in certificate")
}

// AttachPeerIdentity is server-side middleware for the mTLS listener: it
// reads the already-verified peer certificate off the connection's
// tls.ConnectionState and attaches its SPIFFE ID to the request's
// Authentication Context as PeerServiceIdentity. Requests with no TLS state
// (the plain HTTP listener) pass through unchanged — this middleware is safe
// to mount on both listeners sharing one router.
func AttachPeerIdentity(trustDomain spiffeid.TrustDomain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
				if id, err := PeerSPIFFEID(r.TLS.PeerCertificates[0], trustDomain); err == nil {
					authCtx, _ := authctx.FromContext(r.Context())
					authCtx.PeerServiceIdentity = id.String()
					r = r.WithContext(authctx.WithContext(r.Context(), authCtx))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
