// Package ca implements the CA Core: the root key pair and the single
// signing primitive that issues workload leaf certificates.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/trustcore/identity-platform/internal/secretstore"
)

const (
	caKeyBits  = 2048
	caValidity = 365 * 24 * time.Hour
	svidBits   = 2048
)

// CA owns the root key pair and self-signed certificate, and issues
// workload leaf certificates under an internal mutex. Signing is CPU-only,
// but the mutex still prevents concurrent callers from racing on the same
// key handle, mirroring the Workload API process's single-CA-per-process
// model.
type CA struct {
	mu          sync.Mutex
	trustDomain string
	cert        *x509.Certificate
	key         *rsa.PrivateKey
	store       secretstore.SecureKeyStore
}

// Init is idempotent: it loads existing CA material from store if present,
// otherwise it generates a new key pair and self-signed certificate and
// persists it. Returns an error wrapping apierr.ConfigError semantics if
// storage is unreadable or corrupt — callers map that to ConfigError.
func Init(trustDomain string, store secretstore.SecureKeyStore) (*CA, error) {
	c := &CA{trustDomain: trustDomain, store: store}

	material, err := store.LoadCA()
	switch {
	case err == nil:
		c.cert = material.Certificate
		c.key = material.PrivateKey
		return c, nil
	case err == secretstore.ErrNotFound:
		// fall through to bootstrap
	default:
		return nil, fmt.Errorf("ca: load existing material: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, fmt.Errorf("ca: generate root key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("ca: generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "SPIFFE CA",
			Organization: []string{trustDomain},
		},
		NotBefore:             now,
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("ca: self-sign: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("ca: parse self-signed cert: %w", err)
	}

	if err := store.SaveCA(&secretstore.CAMaterial{Certificate: cert, PrivateKey: key}); err != nil {
		return nil, fmt.Errorf("ca: persist new material: %w", err)
	}

	c.cert = cert
	c.key = key
	return c, nil
}

// CACertificate returns the CA's own certificate.
func (c *CA) CACertificate() *x509.Certificate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cert
}

// Issue builds an X.509 v3 leaf certificate for workloadName: subject
// CN=<workloadName>, O=<trust_domain>, URI-SAN spiffe://<trust_domain>/<workloadName>,
// 1-hour validity (or ttl if non-zero), signed by the CA key. Pure function
// of inputs plus CA state.
func (c *CA) Issue(workloadName string, publicKey *rsa.PublicKey, ttl time.Duration) (*x509.Certificate, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("ca: generate serial: %w", err)
	}

	spiffeID, err := spiffeURI(c.trustDomain, workloadName)
	if err != nil {
		return nil, fmt.Errorf("ca: build spiffe id: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   workloadName,
			Organization: []string{c.trustDomain},
		},
		NotBefore:             now,
		NotAfter:              now.Add(ttl),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		URIs:                  []*url.URL{spiffeID},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.cert, publicKey, c.key)
	if err != nil {
		return nil, fmt.Errorf("ca: sign leaf: %w", err)
	}
	return x509.ParseCertificate(der)
}

// NewWorkloadKeyPair generates a fresh RSA key pair for a workload's leaf
// certificate. The private key never leaves the issuing process's response
// and the receiving workload's RAM (enforced by callers, not by this
// function).
func NewWorkloadKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, svidBits)
}

// spiffeURI builds the canonical spiffe://<trust-domain>/<workload-name> URI
// for a workload's SVID URI-SAN.
func spiffeURI(trustDomain, workloadName string) (*url.URL, error) {
	return url.Parse(fmt.Sprintf("spiffe://%s/%s", trustDomain, workloadName))
}

// randomSerial generates a random, non-zero 63-bit serial. Collision is
// tolerable within the 1-hour SVID validity window; uniqueness is
// best-effort, reseeded per process via crypto/rand.
func randomSerial() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 63)
	serial, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, err
	}
	if serial.Sign() == 0 {
		serial = big.NewInt(1)
	}
	return serial, nil
}
