package ca

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustcore/identity-platform/internal/secretstore"
)

func newTestCA(t *testing.T) *CA {
	t.Helper()
	store, err := secretstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c, err := Init("example.org", store)
	require.NoError(t, err)
	return c
}

func TestInitGeneratesSelfSignedCA(t *testing.T) {
	c := newTestCA(t)

	cert := c.CACertificate()
	require.True(t, cert.IsCA)
	require.Equal(t, "SPIFFE CA", cert.Subject.CommonName)
	require.Equal(t, []string{"example.org"}, cert.Subject.Organization)
	require.WithinDuration(t, time.Now().Add(caValidity), cert.NotAfter, time.Minute)
}

func TestInitIsIdempotentAcrossRestarts(t *testing.T) {
	store, err := secretstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	first, err := Init("example.org", store)
	require.NoError(t, err)

	second, err := Init("example.org", store)
	require.NoError(t, err)

	require.Equal(t, first.CACertificate().SerialNumber, second.CACertificate().SerialNumber)
}

func TestIssueBuildsLeafWithSPIFFEURISAN(t *testing.T) {
	c := newTestCA(t)

	key, err := NewWorkloadKeyPair()
	require.NoError(t, err)

	leaf, err := c.Issue("print-service", &key.PublicKey, time.Hour)
	require.NoError(t, err)

	require.Equal(t, "print-service", leaf.Subject.CommonName)
	require.Len(t, leaf.URIs, 1)
	require.Equal(t, "spiffe://example.org/print-service", leaf.URIs[0].String())
	require.WithinDuration(t, leaf.NotAfter, leaf.NotBefore.Add(time.Hour), time.Second)

	roots := x509.NewCertPool()
	roots.AddCert(c.CACertificate())
	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	require.NoError(t, err)
}

func TestIssueSerialsAreNonZero(t *testing.T) {
	c := newTestCA(t)
	key, err := NewWorkloadKeyPair()
	require.NoError(t, err)

	leaf, err := c.Issue("photo-service", &key.PublicKey, time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, 0, leaf.SerialNumber.Sign())
}
