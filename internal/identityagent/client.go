package identityagent

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/trustcore/identity-platform/pkg/models"
)

// workloadAPICallTimeout bounds a single attest or certificate-fetch call
// to the Workload API.
const workloadAPICallTimeout = 10 * time.Second

// WorkloadAPIClient implements Fetcher against a running Workload API
// Service: POST /workload/v1/attest, then GET /workload/v1/certificates.
type WorkloadAPIClient struct {
	baseURL          string
	attestationProof map[string]interface{}
	httpClient       *http.Client
}

// NewWorkloadAPIClient creates a client that attests with attestationProof
// (e.g. {"token": "..."} for the static-secret scheme) against the
// Workload API Service at baseURL.
func NewWorkloadAPIClient(baseURL string, attestationProof map[string]interface{}) *WorkloadAPIClient {
	return &WorkloadAPIClient{
		baseURL:          baseURL,
		attestationProof: attestationProof,
		httpClient:       &http.Client{Timeout: workloadAPICallTimeout},
	}
}

// FetchBundle implements Fetcher: attest, then redeem the resulting ticket
// for a fresh certificate bundle.
func (c *WorkloadAPIClient) FetchBundle(ctx context.Context, serviceName string) (*Bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, workloadAPICallTimeout)
	defer cancel()

	ticket, err := c.attest(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return c.fetchCertificates(ctx, serviceName, ticket)
}

func (c *WorkloadAPIClient) attest(ctx context.Context, serviceName string) (string, error) {
	reqBody, err := json.Marshal(models.AttestRequest{
		ServiceName:      serviceName,
		AttestationProof: c.attestationProof,
	})
	if err != nil {
		return "", fmt.Errorf("identityagent: encode attest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workload/v1/attest", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("identityagent: build attest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("identityagent: attest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identityagent: attestation denied: status %d", resp.StatusCode)
	}

	var attestResp models.AttestResponse
	if err := json.NewDecoder(resp.Body).Decode(&attestResp); err != nil {
		return "", fmt.Errorf("identityagent: decode attest response: %w", err)
	}
	return attestResp.Token, nil
}

func (c *WorkloadAPIClient) fetchCertificates(ctx context.Context, serviceName, ticket string) (*Bundle, error) {
	endpoint := fmt.Sprintf("%s/workload/v1/certificates?service_name=%s",
		c.baseURL, url.QueryEscape(serviceName))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("identityagent: build certificates request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ticket)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identityagent: certificates request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identityagent: certificate fetch failed: status %d", resp.StatusCode)
	}

	var svidBundle models.SVIDBundle
	if err := json.NewDecoder(resp.Body).Decode(&svidBundle); err != nil {
		return nil, fmt.Errorf("identityagent: decode certificates response: %w", err)
	}

	return bundleFromWire(svidBundle)
}

func bundleFromWire(wire models.SVIDBundle) (*Bundle, error) {
	cert, err := tls.X509KeyPair([]byte(wire.SVID.Cert), []byte(wire.SVID.Key))
	if err != nil {
		return nil, fmt.Errorf("identityagent: parse leaf key pair: %w", err)
	}

	pool := x509.NewCertPool()
	for _, caPEM := range wire.CACerts {
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, fmt.Errorf("identityagent: failed to parse CA certificate")
		}
	}

	block, _ := pem.Decode([]byte(wire.SVID.Cert))
	if block == nil {
		return nil, fmt.Errorf("identityagent: leaf certificate is not valid PEM")
	}

	return &Bundle{
		Certificate: cert,
		CACertPool:  pool,
		SPIFFEID:    wire.SVID.SPIFFEID,
		ExpiresAt:   wire.ExpiresAt,
		InitialTTL:  time.Duration(wire.TTL) * time.Second,
	}, nil
}
