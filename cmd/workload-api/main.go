// Command workload-api runs the CA Core, the Attestation Registry, and the
// Workload API Service HTTP surface every workload's Identity Agent
// attests and fetches certificates against.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/trustcore/identity-platform/internal/attestation"
	"github.com/trustcore/identity-platform/internal/ca"
	"github.com/trustcore/identity-platform/internal/core"
	"github.com/trustcore/identity-platform/internal/secretstore"
	"github.com/trustcore/identity-platform/internal/workloadapi"
)

func main() {
	cfg := core.LoadConfig()

	store, err := secretstore.NewFileStore(cfg.CAKeyStoreDir)
	if err != nil {
		log.Fatalf("workload-api: failed to open key store: %v", err)
	}

	certAuthority, err := ca.Init(cfg.TrustDomain, store)
	if err != nil {
		log.Fatalf("workload-api: failed to initialize CA: %v", err)
	}
	log.Printf("CA initialized for trust domain %s", cfg.TrustDomain)

	scheme := &attestation.StaticSecretScheme{
		Tokens: staticTokensFromEnv(cfg.ServiceName, cfg.AttestationToken),
	}
	registry := attestation.NewRegistry(scheme)

	certTTL := time.Duration(cfg.DefaultCertificateTTLSeconds) * time.Second
	service := workloadapi.New(certAuthority, registry, certTTL)

	router := core.NewRouter(cfg)
	service.Mount(router)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Workload API Service starting on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("workload-api: server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down Workload API Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("workload-api: forced to shutdown: %v", err)
	}
	log.Println("Workload API Service exited gracefully")
}

// staticTokensFromEnv builds the dev static-secret attestation table.
// Multiple "name=token" pairs may be comma-separated in
// TRUSTCORE_ATTESTATION_TOKEN; a single bare token applies to serviceName.
func staticTokensFromEnv(serviceName, raw string) map[string]string {
	tokens := make(map[string]string)
	if raw == "" {
		return tokens
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if name, token, ok := strings.Cut(entry, "="); ok {
			tokens[name] = token
			continue
		}
		if serviceName != "" {
			tokens[serviceName] = entry
		}
	}
	return tokens
}
