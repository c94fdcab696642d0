package scheduler

import (
	"context"
	"reflect"
	"testing"
	"time"

	"pgmon/internal/collector"
)

func TestSleepElapses(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Error("sleep = false, want true after full wait")
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if sleep(ctx, time.Hour) {
		t.Error("sleep = true, want false on cancelled context")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("sleep blocked for %v after cancel", elapsed)
	}
}

func TestClampToBounds(t *testing.T) {
	tests := []struct {
		name string
		key  string
		n    int64
		want int64
	}{
		{"below minimum", "collect_interval", 5, 60},
		{"above maximum", "collect_interval", 1000000, 86400},
		{"in range", "collect_interval", 600, 600},
		{"unbounded key passes through", "no_such_setting", -42, -42},
		{"retention below minimum", "retention_months", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampToBounds(tt.key, tt.n); got != tt.want {
				t.Errorf("clampToBounds(%q, %d) = %d, want %d", tt.key, tt.n, got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	results := []*collector.Result{
		{Server: "alpha", Inserted: 3},
		{Server: "beta", Errors: []string{"dial timeout"}},
		{Server: "gamma", Errors: []string{"no databases", "panic: nil map"}},
		{Server: "delta", Updated: 7},
	}

	ok, details := summarize(results)
	if ok != 2 {
		t.Errorf("ok = %d, want 2", ok)
	}
	want := []string{
		"beta: dial timeout",
		"gamma: no databases, panic: nil map",
	}
	if !reflect.DeepEqual(details, want) {
		t.Errorf("details = %v, want %v", details, want)
	}
}

func TestSummarizeAllClean(t *testing.T) {
	ok, details := summarize([]*collector.Result{
		{Server: "alpha"},
		{Server: "beta"},
	})
	if ok != 2 {
		t.Errorf("ok = %d, want 2", ok)
	}
	if len(details) != 0 {
		t.Errorf("details = %v, want none", details)
	}
}
