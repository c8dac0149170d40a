// Package identityagent implements the Identity Agent: the workload-side
// process that attests to the Workload API, fetches and holds the current
// SVID in memory, and schedules its own rotation.
package identityagent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"sync"
	"time"
)

// Bundle is the Identity Agent's in-memory view of the current SVID: a
// ready-to-use tls.Certificate plus the CA pool peers should be verified
// against, and the metadata handlers and mTLS Transport need.
type Bundle struct {
	Certificate tls.Certificate
	CACertPool  *x509.CertPool
	SPIFFEID    string
	ExpiresAt   time.Time

	// InitialTTL is the certificate's total validity window as issued,
	// used by Current to compute the last-20%-of-TTL freshness threshold.
	InitialTTL time.Duration
}

// TTL is the certificate's remaining validity window as of now.
func (b *Bundle) TTL() time.Duration {
	return time.Until(b.ExpiresAt)
}

// ErrNoIdentity is returned by Current when no bundle is held (the first
// attest/fetch cycle has not succeeded) or the held bundle has expired, and
// the synchronous refresh Current attempts also fails.
var ErrNoIdentity = fmt.Errorf("identityagent: no identity bundle available yet")

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Agent holds the current SVID bundle behind a RWMutex, refreshing it on a
// timer scheduled at rotationFraction of the certificate's TTL and retrying
// with true exponential backoff (capped at 30s) on failure — diverging from
// the reference implementation's flat 30s retry (see DESIGN.md).
type Agent struct {
	fetcher          Fetcher
	serviceName      string
	rotationFraction float64

	mu     sync.RWMutex
	bundle *Bundle

	cancel context.CancelFunc
	done   chan struct{}
}

// Fetcher performs one attest-then-fetch cycle against the Workload API. It
// is implemented by internal/identityagent/client.go's WorkloadAPIClient;
// the interface seam exists so tests can supply a stub.
type Fetcher interface {
	FetchBundle(ctx context.Context, serviceName string) (*Bundle, error)
}

// New creates an Agent. rotationFraction is the fraction of TTL at which
// the next refresh is scheduled (spec.md default: 0.8).
func New(fetcher Fetcher, serviceName string, rotationFraction float64) *Agent {
	if rotationFraction <= 0 || rotationFraction >= 1 {
		rotationFraction = 0.8
	}
	return &Agent{
		fetcher:          fetcher,
		serviceName:      serviceName,
		rotationFraction: rotationFraction,
	}
}

// Start performs the initial attest/fetch synchronously — so callers can
// treat a returned error as a fatal BootstrapError — then launches the
// background rotation loop.
func (a *Agent) Start(ctx context.Context) error {
	bundle, err := a.fetcher.FetchBundle(ctx, a.serviceName)
	if err != nil {
		return fmt.Errorf("identityagent: bootstrap: %w", err)
	}
	a.setBundle(bundle)

	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.rotationLoop(loopCtx, bundle.TTL())

	return nil
}

// Stop cancels the rotation loop and waits for it to exit.
func (a *Agent) Stop() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
}

// Current returns the current SVID bundle. If none exists yet, or the held
// bundle is within the last 20% of its TTL (per rotationFraction), it
// performs a synchronous refresh under a write lock before returning, so a
// rotation loop that has fallen behind or is stuck in backoff does not delay
// the refresh. If that refresh fails, the held bundle is still returned as
// long as it has not expired; once it has expired, Current fails closed with
// ErrNoIdentity.
func (a *Agent) Current() (*Bundle, error) {
	a.mu.RLock()
	bundle := a.bundle
	a.mu.RUnlock()

	if bundle == nil || needsRefresh(bundle, a.rotationFraction) {
		refreshed, err := a.refreshSync(bundle)
		if err != nil {
			if bundle == nil || bundle.TTL() <= 0 {
				return nil, ErrNoIdentity
			}
			return bundle, nil
		}
		return refreshed, nil
	}

	return bundle, nil
}

// needsRefresh reports whether b is within the last (1-rotationFraction)
// fraction of its TTL, or already expired.
func needsRefresh(b *Bundle, rotationFraction float64) bool {
	remaining := b.TTL()
	if remaining <= 0 {
		return true
	}
	if b.InitialTTL <= 0 {
		return false
	}
	threshold := time.Duration(float64(b.InitialTTL) * (1 - rotationFraction))
	return remaining <= threshold
}

// refreshSync performs a synchronous attest/fetch under the write lock.
// stale is the bundle Current observed before taking the lock; if another
// goroutine already refreshed past it and the result is fresh, that result
// is reused instead of fetching again.
func (a *Agent) refreshSync(stale *Bundle) (*Bundle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bundle != nil && a.bundle != stale && !needsRefresh(a.bundle, a.rotationFraction) {
		return a.bundle, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), workloadAPICallTimeout)
	defer cancel()

	bundle, err := a.fetcher.FetchBundle(ctx, a.serviceName)
	if err != nil {
		return nil, fmt.Errorf("identityagent: synchronous refresh: %w", err)
	}
	a.bundle = bundle
	return bundle, nil
}

func (a *Agent) setBundle(b *Bundle) {
	a.mu.Lock()
	a.bundle = b
	a.mu.Unlock()
}

func (a *Agent) rotationLoop(ctx context.Context, initialTTL time.Duration) {
	defer close(a.done)

	timer := time.NewTimer(rotationDelay(initialTTL, a.rotationFraction))
	defer timer.Stop()

	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			bundle, err := a.fetcher.FetchBundle(ctx, a.serviceName)
			if err != nil {
				log.Printf("identityagent: rotation fetch failed, retrying in %s: %v", backoff, err)
				timer.Reset(backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			a.setBundle(bundle)
			backoff = minBackoff
			timer.Reset(rotationDelay(bundle.TTL(), a.rotationFraction))
		}
	}
}

// rotationDelay schedules the next refresh at rotationFraction of ttl,
// never scheduling a non-positive delay.
func rotationDelay(ttl time.Duration, rotationFraction float64) time.Duration {
	delay := time.Duration(float64(ttl) * rotationFraction)
	if delay <= 0 {
		delay = time.Second
	}
	return delay
}
