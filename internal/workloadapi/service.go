// Package workloadapi implements the Workload API Service HTTP surface:
// attestation, certificate issuance, and health, mounted by cmd/workload-api
// onto the shared ambient router.
package workloadapi

import (
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trustcore/identity-platform/internal/apierr"
	"github.com/trustcore/identity-platform/internal/attestation"
	"github.com/trustcore/identity-platform/internal/ca"
	"github.com/trustcore/identity-platform/pkg/models"
)

// Service wires the CA Core and the Attestation Registry into HTTP handlers.
type Service struct {
	ca       *ca.CA
	registry *attestation.Registry
	certTTL  time.Duration
}

// New creates a workload-api Service.
func New(c *ca.CA, registry *attestation.Registry, certTTL time.Duration) *Service {
	if certTTL <= 0 {
		certTTL = time.Hour
	}
	return &Service{ca: c, registry: registry, certTTL: certTTL}
}

// Mount attaches this service's routes onto r under /workload/v1.
func (s *Service) Mount(r chi.Router) {
	r.Route("/workload/v1", func(r chi.Router) {
		r.Post("/attest", s.handleAttest)
		r.Get("/certificates", s.handleCertificates)
		r.Get("/health", s.handleHealth)
	})
}

func (s *Service) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req models.AttestRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, apierr.InvalidRequest, "malformed attest request body")
		return
	}
	if req.ServiceName == "" {
		apierr.Write(w, apierr.InvalidRequest, "service_name is required")
		return
	}

	ticketID, err := s.registry.Attest(req.ServiceName, attestation.Proof(req.AttestationProof))
	if err != nil {
		apierr.Write(w, apierr.AttestationDenied, "attestation denied")
		return
	}

	apierr.WriteJSON(w, http.StatusOK, models.AttestResponse{Token: ticketID})
}

func (s *Service) handleCertificates(w http.ResponseWriter, r *http.Request) {
	ticketID := bearerTicket(r)
	serviceName := r.URL.Query().Get("service_name")
	if ticketID == "" || serviceName == "" {
		apierr.Write(w, apierr.InvalidRequest, "Authorization: Bearer <ticket> and service_name query parameter are required")
		return
	}

	if !s.registry.Redeem(ticketID, serviceName) {
		apierr.Write(w, apierr.TicketInvalid, "ticket invalid, expired, or already used")
		return
	}

	key, err := ca.NewWorkloadKeyPair()
	if err != nil {
		apierr.Write(w, apierr.SigningError, "failed to generate workload key pair")
		return
	}

	leaf, err := s.ca.Issue(serviceName, &key.PublicKey, s.certTTL)
	if err != nil {
		apierr.Write(w, apierr.SigningError, "failed to issue leaf certificate")
		return
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		apierr.Write(w, apierr.SigningError, "failed to marshal workload private key")
		return
	}

	leafPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.ca.CACertificate().Raw})

	spiffeID := ""
	if len(leaf.URIs) > 0 {
		spiffeID = leaf.URIs[0].String()
	}

	apierr.WriteJSON(w, http.StatusOK, models.SVIDBundle{
		SVID: models.SVID{
			Cert:     string(leafPEM),
			Key:      string(keyPEM),
			SPIFFEID: spiffeID,
		},
		CACerts:   []string{string(caPEM)},
		ExpiresAt: leaf.NotAfter,
		TTL:       int(s.certTTL.Seconds()),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	apierr.WriteJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy"})
}

// bearerTicket reads the attestation ticket from the Authorization header.
// The ticket is never accepted via query string: it would otherwise land in
// access logs and Referer headers, the same exposure spec.md forbids for
// delegation and session tokens.
func bearerTicket(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
