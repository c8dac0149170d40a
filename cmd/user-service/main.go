// Command user-service runs the User Auth shell, the Delegation Issuer,
// and the Delegation Validator's remote /auth/validate endpoint.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trustcore/identity-platform/internal/apierr"
	"github.com/trustcore/identity-platform/internal/core"
	"github.com/trustcore/identity-platform/internal/delegation"
	"github.com/trustcore/identity-platform/internal/userauth"
	"github.com/trustcore/identity-platform/pkg/models"
)

func main() {
	cfg := core.LoadConfig()

	secret, err := signingSecret(cfg.DelegationSigningKey)
	if err != nil {
		log.Fatalf("user-service: %v", err)
	}

	issuer, err := delegation.NewIssuer(secret, cfg.TrustDomain, "user-service")
	if err != nil {
		log.Fatalf("user-service: failed to construct delegation issuer: %v", err)
	}

	authShell := userauth.NewShell(issuer)

	router := core.NewRouter(cfg)
	userauth.NewService(authShell).Mount(router)
	delegation.NewService(issuer, secret).Mount(router)
	// /auth/health mirrors the generic /health liveness check under the
	// auth-prefixed path documented for this process's external interface.
	router.Get("/auth/health", func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteJSON(w, http.StatusOK, models.HealthResponse{Status: "healthy"})
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("User Service starting on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("user-service: server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down User Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("user-service: forced to shutdown: %v", err)
	}
	log.Println("User Service exited gracefully")
}

// signingSecret decodes the configured base64 symmetric key. If none is
// configured, a random 256-bit key is generated for this process's
// lifetime — adequate for a single-process development run, but any
// restart invalidates outstanding tokens.
func signingSecret(configured string) ([]byte, error) {
	if configured == "" {
		log.Printf("user-service: TRUSTCORE_DELEGATION_SIGNING_KEY not set, generating an ephemeral development key")
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		return secret, nil
	}
	return base64.StdEncoding.DecodeString(configured)
}
