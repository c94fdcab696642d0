package auth

import (
	"sync"
	"time"
)

// RevocationSet tracks revoked token ids until their natural expiry.
// In-process only; a restart clears it, and outstanding tokens simply run
// out their lifetimes.
type RevocationSet struct {
	mu         sync.Mutex
	entries    map[string]time.Time // jti -> expiry
	lastSweep  time.Time
	sweepEvery time.Duration
}

// NewRevocationSet returns an empty set.
func NewRevocationSet() *RevocationSet {
	return &RevocationSet{
		entries:    make(map[string]time.Time),
		lastSweep:  time.Now(),
		sweepEvery: 10 * time.Minute,
	}
}

// Add revokes a token id until exp.
func (r *RevocationSet) Add(jti string, exp time.Time) {
	if jti == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[jti] = exp
	r.sweepLocked()
}

// Contains reports whether jti is currently revoked.
func (r *RevocationSet) Contains(jti string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	exp, ok := r.entries[jti]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(r.entries, jti)
		return false
	}
	return true
}

// Len returns the number of tracked ids.
func (r *RevocationSet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sweepLocked drops expired entries, at most once per sweep interval.
func (r *RevocationSet) sweepLocked() {
	if time.Since(r.lastSweep) < r.sweepEvery {
		return
	}
	now := time.Now()
	for jti, exp := range r.entries {
		if exp.Before(now) {
			delete(r.entries, jti)
		}
	}
	r.lastSweep = now
}
