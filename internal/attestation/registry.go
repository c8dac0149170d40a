// Package attestation decides whether a workload's claimed identity holds,
// and mints short-lived attestation tickets binding an attested workload
// name to a certificate-fetch right.
package attestation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const ticketTTL = 5 * time.Minute

type ticket struct {
	workloadName string
	expiresAt    time.Time
}

// Registry validates attestation claims and tracks issued tickets in a
// concurrency-safe in-memory map keyed by random UUID, with lazy eviction
// at read time.
type Registry struct {
	scheme Scheme

	mu      sync.Mutex
	tickets map[string]ticket
}

// NewRegistry creates a Registry backed by the given attestation scheme.
func NewRegistry(scheme Scheme) *Registry {
	return &Registry{
		scheme:  scheme,
		tickets: make(map[string]ticket),
	}
}

// Attest validates proof for workloadName against the configured scheme.
// On success it mints and stores a ticket with a 5-minute TTL.
func (r *Registry) Attest(workloadName string, proof Proof) (string, error) {
	if err := r.scheme.Validate(workloadName, proof); err != nil {
		return "", err
	}

	id := uuid.New().String()

	r.mu.Lock()
	r.tickets[id] = ticket{
		workloadName: workloadName,
		expiresAt:    time.Now().Add(ticketTTL),
	}
	r.mu.Unlock()

	return id, nil
}

// Redeem performs a single-use-within-TTL check: it returns true only if
// ticketID exists, has not expired, and names expectedWorkloadName. The
// ticket is removed whether or not it is found valid, so a ticket redeems
// at most once.
func (r *Registry) Redeem(ticketID, expectedWorkloadName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[ticketID]
	delete(r.tickets, ticketID)
	if !ok {
		return false
	}
	if time.Now().After(t.expiresAt) {
		return false
	}
	return t.workloadName == expectedWorkloadName
}
