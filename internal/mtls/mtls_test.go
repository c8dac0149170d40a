package mtls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/stretchr/testify/require"

	"github.com/trustcore/identity-platform/internal/authctx"
)

func selfSignedCAWithLeaf(t *testing.T, trustDomain, workloadName string) (*x509.Certificate, *x509.Certificate, *x509.CertPool) {
	t.Helper()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	spiffeURI, err := url.Parse("spiffe://" + trustDomain + "/" + workloadName)
	require.NoError(t, err)

	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: workloadName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		URIs:         []*url.URL{spiffeURI},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)
	leafCert, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return caCert, leafCert, pool
}

func mustTrustDomain(t *testing.T, s string) spiffeid.TrustDomain {
	t.Helper()
	td, err := spiffeid.TrustDomainFromString(s)
	require.NoError(t, err)
	return td
}

func TestPeerSPIFFEIDExtractsURISAN(t *testing.T) {
	_, leaf, _ := selfSignedCAWithLeaf(t, "example.org", "photo-service")
	id, err := PeerSPIFFEID(leaf, mustTrustDomain(t, "example.org"))
	require.NoError(t, err)
	require.Equal(t, "spiffe://example.org/photo-service", id.String())
}

func TestPeerSPIFFEIDRejectsTrustDomainMismatch(t *testing.T) {
	_, leaf, _ := selfSignedCAWithLeaf(t, "other.org", "photo-service")
	_, err := PeerSPIFFEID(leaf, mustTrustDomain(t, "example.org"))
	require.Error(t, err)
}

func TestVerifyChainAndExtractSPIFFEIDAcceptsValidChain(t *testing.T) {
	_, leaf, pool := selfSignedCAWithLeaf(t, "example.org", "photo-service")
	id, err := verifyChainAndExtractSPIFFEID([][]byte{leaf.Raw}, pool, mustTrustDomain(t, "example.org"))
	require.NoError(t, err)
	require.Equal(t, "spiffe://example.org/photo-service", id.String())
}

func TestVerifyChainAndExtractSPIFFEIDRejectsUntrustedChain(t *testing.T) {
	_, leaf, _ := selfSignedCAWithLeaf(t, "example.org", "photo-service")
	_, _, otherPool := selfSignedCAWithLeaf(t, "example.org", "other-service")
	_, err := verifyChainAndExtractSPIFFEID([][]byte{leaf.Raw}, otherPool, mustTrustDomain(t, "example.org"))
	require.Error(t, err)
}

func TestAttachPeerIdentitySetsPeerServiceIdentityFromTLSState(t *testing.T) {
	_, leaf, _ := selfSignedCAWithLeaf(t, "example.org", "photo-service")

	var gotAuthCtx authctx.Context
	handler := AttachPeerIdentity(mustTrustDomain(t, "example.org"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx, _ = authctx.FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, "spiffe://example.org/photo-service", gotAuthCtx.PeerServiceIdentity)
}

func TestAttachPeerIdentityPassesThroughWithoutTLSState(t *testing.T) {
	called := false
	handler := AttachPeerIdentity(mustTrustDomain(t, "example.org"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := authctx.FromContext(r.Context())
		require.False(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, called)
}

func TestAttachPeerIdentityIgnoresUnverifiableCertWithoutBlocking(t *testing.T) {
	_, leaf, _ := selfSignedCAWithLeaf(t, "other.org", "rogue-service")

	called := false
	handler := AttachPeerIdentity(mustTrustDomain(t, "example.org"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{leaf}}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.True(t, called)
}
