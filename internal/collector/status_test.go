package collector

import (
	"errors"
	"strings"
	"testing"
	"time"

	"pgmon/internal/domain"
)

func TestPGFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "timeout",
			err:  errors.New("read tcp 10.0.0.1:5432: i/o timeout"),
			want: "PostgreSQL: operation timeout",
		},
		{
			name: "statement timeout",
			err:  errors.New("ERROR: canceling statement due to statement TIMEOUT"),
			want: "PostgreSQL: operation timeout",
		},
		{
			name: "short error",
			err:  errors.New("password authentication failed"),
			want: "PostgreSQL: password authentication failed",
		},
		{
			name: "long error is cut",
			err:  errors.New(strings.Repeat("x", 80)),
			want: "PostgreSQL: " + strings.Repeat("x", 50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pgFailure(tt.err); got != tt.want {
				t.Errorf("pgFailure() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusCache(t *testing.T) {
	c := &Collector{statusCache: make(map[string]statusEntry)}
	srv := &domain.Server{Name: "prod", Host: "10.0.0.1", Port: 5432}
	key := statusKey(srv)

	if _, ok := c.cachedStatus(key); ok {
		t.Fatal("cachedStatus() reported a hit on an empty cache")
	}

	c.storeStatus(key, TargetStatus{Status: "ok"})
	got, ok := c.cachedStatus(key)
	if !ok {
		t.Fatal("cachedStatus() missed a fresh entry")
	}
	if got.Status != "ok" {
		t.Errorf("Status = %q, want %q", got.Status, "ok")
	}

	// Expired entries are misses.
	c.statusCache[key] = statusEntry{status: got, at: time.Now().Add(-2 * statusCacheTTL)}
	if _, ok := c.cachedStatus(key); ok {
		t.Error("cachedStatus() served an expired entry")
	}

	c.storeStatus(key, TargetStatus{Status: "ok"})
	c.InvalidateStatus(srv)
	if _, ok := c.cachedStatus(key); ok {
		t.Error("cachedStatus() served an invalidated entry")
	}
}

func TestStatusKey(t *testing.T) {
	srv := &domain.Server{Name: "prod", Host: "db.internal", Port: 5433}
	if got, want := statusKey(srv), "db.internal:5433"; got != want {
		t.Errorf("statusKey() = %q, want %q", got, want)
	}
}
