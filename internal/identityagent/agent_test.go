package identityagent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls     int32
	failUntil int32
	ttl       time.Duration
}

func (f *stubFetcher) FetchBundle(ctx context.Context, serviceName string) (*Bundle, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failUntil {
		return nil, errors.New("simulated workload-api failure")
	}
	return &Bundle{
		Certificate: tls.Certificate{},
		CACertPool:  x509.NewCertPool(),
		SPIFFEID:    "spiffe://example.org/photo-service",
		ExpiresAt:   time.Now().Add(f.ttl),
		InitialTTL:  f.ttl,
	}, nil
}

func TestStartFailsFastOnBootstrapError(t *testing.T) {
	fetcher := &stubFetcher{failUntil: 100, ttl: time.Hour}
	agent := New(fetcher, "photo-service", 0.8)

	err := agent.Start(context.Background())
	require.Error(t, err)

	_, err = agent.Current()
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestStartPopulatesCurrentBundle(t *testing.T) {
	fetcher := &stubFetcher{ttl: time.Hour}
	agent := New(fetcher, "photo-service", 0.8)

	require.NoError(t, agent.Start(context.Background()))
	defer agent.Stop()

	bundle, err := agent.Current()
	require.NoError(t, err)
	require.Equal(t, "spiffe://example.org/photo-service", bundle.SPIFFEID)
}

func TestCurrentSynchronouslyRefreshesWhenWithinLast20PercentOfTTL(t *testing.T) {
	fetcher := &stubFetcher{ttl: 100 * time.Second}
	agent := New(fetcher, "photo-service", 0.8)
	require.NoError(t, agent.Start(context.Background()))
	agent.Stop() // stop the background loop so only Current's synchronous path refreshes

	agent.mu.Lock()
	agent.bundle.ExpiresAt = time.Now().Add(10 * time.Second) // within the last 20% of a 100s TTL
	agent.mu.Unlock()

	callsBefore := atomic.LoadInt32(&fetcher.calls)
	bundle, err := agent.Current()
	require.NoError(t, err)
	require.Greater(t, atomic.LoadInt32(&fetcher.calls), callsBefore)
	require.Greater(t, bundle.TTL(), 50*time.Second)
}

func TestCurrentFailsClosedWhenExpiredAndRefreshFails(t *testing.T) {
	fetcher := &stubFetcher{ttl: 100 * time.Second}
	agent := New(fetcher, "photo-service", 0.8)
	require.NoError(t, agent.Start(context.Background()))
	agent.Stop()

	agent.mu.Lock()
	agent.bundle.ExpiresAt = time.Now().Add(-time.Second) // already expired
	agent.mu.Unlock()

	atomic.StoreInt32(&fetcher.failUntil, 1<<30) // every subsequent fetch fails

	_, err := agent.Current()
	require.ErrorIs(t, err, ErrNoIdentity)
}

func TestCurrentToleratesTransientRefreshFailureWhenNotYetExpired(t *testing.T) {
	fetcher := &stubFetcher{ttl: 100 * time.Second}
	agent := New(fetcher, "photo-service", 0.8)
	require.NoError(t, agent.Start(context.Background()))
	agent.Stop()

	agent.mu.Lock()
	agent.bundle.ExpiresAt = time.Now().Add(10 * time.Second) // within refresh window, not expired
	agent.mu.Unlock()

	atomic.StoreInt32(&fetcher.failUntil, 1<<30)

	bundle, err := agent.Current()
	require.NoError(t, err)
	require.NotNil(t, bundle)
}

func TestRotationDelayIsFractionOfTTL(t *testing.T) {
	delay := rotationDelay(10*time.Second, 0.8)
	require.Equal(t, 8*time.Second, delay)
}

func TestRotationDelayNeverNonPositive(t *testing.T) {
	delay := rotationDelay(-5*time.Second, 0.8)
	require.Greater(t, delay, time.Duration(0))
}
