// Command workload is the generic workload process: it boots an Identity
// Agent against the Workload API, serves an Auth Filter-protected HTTP API
// over both plain HTTP and an mTLS listener, and exposes one demo handler
// gated on a configurable required permission. print-service and
// photo-service in the end-to-end scenarios are instances of this binary.
package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/trustcore/identity-platform/internal/apierr"
	"github.com/trustcore/identity-platform/internal/authctx"
	"github.com/trustcore/identity-platform/internal/core"
	"github.com/trustcore/identity-platform/internal/delegation"
	"github.com/trustcore/identity-platform/internal/identityagent"
	"github.com/trustcore/identity-platform/internal/mtls"
	"github.com/trustcore/identity-platform/pkg/models"
)

func main() {
	cfg := core.LoadConfig()
	if cfg.ServiceName == "" {
		log.Fatalf("workload: TRUSTCORE_SERVICE_NAME is required")
	}

	agent := identityagent.New(
		identityagent.NewWorkloadAPIClient(cfg.WorkloadAPIURL, map[string]interface{}{
			"token": cfg.AttestationToken,
		}),
		cfg.ServiceName,
		cfg.RotationFraction,
	)

	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := agent.Start(bootstrapCtx); err != nil {
		log.Fatalf("workload: identity agent bootstrap failed: %v", err)
	}
	defer agent.Stop()

	trustDomain, err := spiffeid.TrustDomainFromString(cfg.TrustDomain)
	if err != nil {
		log.Fatalf("workload: invalid TRUSTCORE_TRUST_DOMAIN: %v", err)
	}
	selfSPIFFEID := "spiffe://" + cfg.TrustDomain + "/" + cfg.ServiceName

	validator := delegation.NewLocalValidator(mustDecodeSecret(cfg.DelegationSigningKey))
	filter := authctx.NewFilter(validator, selfSPIFFEID, "/health")

	requiredPermission := os.Getenv("TRUSTCORE_REQUIRED_PERMISSION")
	if requiredPermission == "" {
		requiredPermission = "read:photos"
	}

	router := core.NewRouter(cfg)
	router.Group(func(r chi.Router) {
		r.Use(mtls.AttachPeerIdentity(trustDomain))
		r.Use(filter.Middleware)
		mountDemoHandler(r, requiredPermission)
	})

	plainServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mtlsListener, err := tls.Listen("tcp", cfg.MTLSPort, mtls.ServerConfig(agent, trustDomain))
	if err != nil {
		log.Fatalf("workload: failed to start mTLS listener: %v", err)
	}
	mtlsServer := &http.Server{Handler: router}

	go func() {
		log.Printf("%s: plain HTTP listening on %s", cfg.ServiceName, cfg.ListenAddr)
		if err := plainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("workload: plain server failed: %v", err)
		}
	}()

	go func() {
		log.Printf("%s: mTLS listening on %s", cfg.ServiceName, cfg.MTLSPort)
		if err := mtlsServer.Serve(mtlsListener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("workload: mTLS server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("%s: shutting down...", cfg.ServiceName)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := plainServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("workload: plain server shutdown error: %v", err)
	}
	if err := mtlsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("workload: mTLS server shutdown error: %v", err)
	}
	log.Printf("%s: exited gracefully", cfg.ServiceName)
}

// mountDemoHandler exposes GET /resource, gated on requiredPermission via
// the Authentication Context the Auth Filter populated.
func mountDemoHandler(r chi.Router, requiredPermission string) {
	r.Get("/resource", func(w http.ResponseWriter, req *http.Request) {
		authCtx, ok := authctx.FromContext(req.Context())
		if !ok {
			apierr.Write(w, apierr.Internal, "authentication context missing")
			return
		}
		if !authCtx.HasAnyPermission(requiredPermission) {
			apierr.Write(w, apierr.PermissionDenied, "missing required permission")
			return
		}
		apierr.WriteJSON(w, http.StatusOK, models.HealthResponse{Status: "ok"})
	})
}

func mustDecodeSecret(base64Secret string) []byte {
	secret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		log.Fatalf("workload: invalid TRUSTCORE_DELEGATION_SIGNING_KEY: %v", err)
	}
	return secret
}
