package workloadapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/trustcore/identity-platform/internal/attestation"
	"github.com/trustcore/identity-platform/internal/ca"
	"github.com/trustcore/identity-platform/internal/secretstore"
	"github.com/trustcore/identity-platform/pkg/models"
)

func newTestService(t *testing.T) (*Service, *chi.Mux) {
	t.Helper()
	store, err := secretstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	c, err := ca.Init("example.org", store)
	require.NoError(t, err)

	registry := attestation.NewRegistry(&attestation.StaticSecretScheme{
		Tokens: map[string]string{"photo-service": "shh"},
	})

	svc := New(c, registry, time.Hour)
	r := chi.NewRouter()
	svc.Mount(r)
	return svc, r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	return doJSONWithBearer(r, method, path, body, "")
}

func doJSONWithBearer(r http.Handler, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAttestAndFetchCertificatesHappyPath(t *testing.T) {
	_, r := newTestService(t)

	rec := doJSON(r, http.MethodPost, "/workload/v1/attest", models.AttestRequest{
		ServiceName:      "photo-service",
		AttestationProof: map[string]interface{}{"token": "shh"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var attestResp models.AttestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attestResp))
	require.NotEmpty(t, attestResp.Token)

	rec = doJSONWithBearer(r, http.MethodGet, "/workload/v1/certificates?service_name=photo-service", nil, attestResp.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	var bundle models.SVIDBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	require.Equal(t, "spiffe://example.org/photo-service", bundle.SVID.SPIFFEID)
	require.NotEmpty(t, bundle.SVID.Cert)
	require.NotEmpty(t, bundle.SVID.Key)
	require.Len(t, bundle.CACerts, 1)
}

func TestAttestDeniedWithBadProof(t *testing.T) {
	_, r := newTestService(t)

	rec := doJSON(r, http.MethodPost, "/workload/v1/attest", models.AttestRequest{
		ServiceName:      "photo-service",
		AttestationProof: map[string]interface{}{"token": "wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCertificatesRejectsReusedTicket(t *testing.T) {
	_, r := newTestService(t)

	rec := doJSON(r, http.MethodPost, "/workload/v1/attest", models.AttestRequest{
		ServiceName:      "photo-service",
		AttestationProof: map[string]interface{}{"token": "shh"},
	})
	var attestResp models.AttestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &attestResp))

	path := "/workload/v1/certificates?service_name=photo-service"
	rec = doJSONWithBearer(r, http.MethodGet, path, nil, attestResp.Token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSONWithBearer(r, http.MethodGet, path, nil, attestResp.Token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestService(t)
	rec := doJSON(r, http.MethodGet, "/workload/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
