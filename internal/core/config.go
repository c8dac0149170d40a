package core

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the trust core's per-process configuration surface, loaded
// from environment variables prefixed TRUSTCORE_.
type Config struct {
	// Environment (development, production)
	Environment string

	// Plain HTTP listen address for this process's API surface.
	ListenAddr string

	// Base URL for constructing absolute URLs (e.g. audience/issuer strings).
	BaseURL string

	// CORS allowed origins.
	CORSOrigins []string

	// Enable debug logging.
	Debug bool

	// TrustDomain labels every SPIFFE ID minted or verified by this process.
	TrustDomain string

	// WorkloadAPIURL is the base URL an Identity Agent attests and fetches
	// certificates against.
	WorkloadAPIURL string

	// ServiceName is this workload's own name, used to build its SPIFFE ID
	// and as the attestation claimant.
	ServiceName string

	// AttestationToken is the static pre-shared secret used by the dev
	// attestation scheme. Required when that scheme is selected.
	AttestationToken string

	// DelegationSigningKey is the base64 symmetric secret shared between
	// the Delegation Issuer and any validator that opts into local
	// verification. Minimum 256 bits.
	DelegationSigningKey string

	// DefaultCertificateTTLSeconds is the SVID validity window.
	DefaultCertificateTTLSeconds int

	// RotationFraction is the fraction of TTL at which the Identity Agent
	// schedules its next refresh.
	RotationFraction float64

	// DefaultDelegationTTLSeconds is loaded from the environment but not
	// read by the Delegation Issuer, which applies
	// delegation.DefaultTTLSeconds (900) instead.
	DefaultDelegationTTLSeconds int

	// MaxDelegationTTLSeconds is loaded from the environment but not read
	// by the Delegation Issuer, which caps requested TTLs at
	// delegation.MaxTTLSeconds (3600) instead.
	MaxDelegationTTLSeconds int

	// MTLSPort is the separate TLS listener port, distinct from ListenAddr.
	MTLSPort string

	// CAKeyStoreDir is the filesystem directory backing the dev
	// SecureKeyStore variant.
	CAKeyStoreDir string
}

// LoadConfig loads configuration from environment variables with sensible
// defaults matching spec.md's configuration surface.
func LoadConfig() *Config {
	cfg := &Config{
		Environment:                  getEnv("TRUSTCORE_ENV", "development"),
		ListenAddr:                   getEnv("TRUSTCORE_LISTEN_ADDR", ":8080"),
		BaseURL:                      getEnv("TRUSTCORE_BASE_URL", "http://localhost:8080"),
		CORSOrigins:                  getEnvList("TRUSTCORE_CORS_ORIGINS", []string{"http://localhost:3000"}),
		Debug:                        getEnvBool("TRUSTCORE_DEBUG", false),
		TrustDomain:                  getEnv("TRUSTCORE_TRUST_DOMAIN", "example.org"),
		WorkloadAPIURL:               getEnv("TRUSTCORE_WORKLOAD_API_URL", "http://localhost:8080"),
		ServiceName:                  getEnv("TRUSTCORE_SERVICE_NAME", ""),
		AttestationToken:             getEnv("TRUSTCORE_ATTESTATION_TOKEN", ""),
		DelegationSigningKey:         getEnv("TRUSTCORE_DELEGATION_SIGNING_KEY", ""),
		DefaultCertificateTTLSeconds: getEnvInt("TRUSTCORE_CERT_TTL_SECONDS", 3600),
		RotationFraction:             getEnvFloat("TRUSTCORE_ROTATION_FRACTION", 0.8),
		DefaultDelegationTTLSeconds:  getEnvInt("TRUSTCORE_DELEGATION_TTL_SECONDS", 900),
		MaxDelegationTTLSeconds:      getEnvInt("TRUSTCORE_DELEGATION_TTL_MAX_SECONDS", 3600),
		MTLSPort:                     getEnv("TRUSTCORE_MTLS_PORT", ":8443"),
		CAKeyStoreDir:                getEnv("TRUSTCORE_CA_KEY_STORE_DIR", "./var/ca"),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
