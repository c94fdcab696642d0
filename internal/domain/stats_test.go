package domain

import (
	"testing"
	"time"
)

func TestChooseAggregation(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		from time.Time
		want AggregationLevel
	}{
		{name: "one hour", from: now.Add(-time.Hour), want: AggregationRaw},
		{name: "one day", from: now.AddDate(0, 0, -1), want: AggregationRaw},
		{name: "exactly two days", from: now.AddDate(0, 0, -2), want: AggregationRaw},
		{name: "three days", from: now.AddDate(0, 0, -3), want: AggregationHour},
		{name: "ten days", from: now.AddDate(0, 0, -10), want: AggregationHour},
		{name: "exactly fourteen days", from: now.AddDate(0, 0, -14), want: AggregationHour},
		{name: "sixty days", from: now.AddDate(0, 0, -60), want: AggregationFourHour},
		{name: "ninety days", from: now.AddDate(0, 0, -90), want: AggregationFourHour},
		{name: "half a year", from: now.AddDate(0, 0, -180), want: AggregationDay},
		{name: "two years", from: now.AddDate(-2, 0, 0), want: AggregationDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChooseAggregation(tt.from, now); got != tt.want {
				t.Errorf("ChooseAggregation(%v..%v) = %q, want %q", tt.from, now, got, tt.want)
			}
		})
	}
}

// Widening the range must never pick a finer bucket.
func TestChooseAggregation_Monotonic(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	prev := AggregationRaw
	for days := 1; days <= 400; days++ {
		got := ChooseAggregation(now.AddDate(0, 0, -days), now)
		if !got.Coarser(prev) {
			t.Fatalf("aggregation narrowed from %q to %q at %d days", prev, got, days)
		}
		prev = got
	}
}

func TestServer_Validate(t *testing.T) {
	valid := func() *Server {
		return &Server{
			Name:        "prod-db-1",
			Host:        "10.0.0.5",
			Port:        5432,
			User:        "monitor",
			SSHUser:     "postgres",
			SSHPort:     22,
			SSHAuthType: SSHAuthPassword,
			SSHPassword: "secret",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Server)
		wantErr error
	}{
		{name: "valid password auth", mutate: func(s *Server) {}},
		{name: "valid key auth", mutate: func(s *Server) {
			s.SSHAuthType = SSHAuthKey
			s.SSHKeyID = "3f0b0f6e-5f0a-4f3c-9a15-2b6f1c7f1234"
		}},
		{name: "empty name", mutate: func(s *Server) { s.Name = "  " }, wantErr: ErrInvalidServerName},
		{name: "empty host", mutate: func(s *Server) { s.Host = "" }, wantErr: ErrInvalidHost},
		{name: "port zero", mutate: func(s *Server) { s.Port = 0 }, wantErr: ErrInvalidHost},
		{name: "ssh port too large", mutate: func(s *Server) { s.SSHPort = 70000 }, wantErr: ErrInvalidHost},
		{name: "unknown auth type", mutate: func(s *Server) { s.SSHAuthType = "agent" }, wantErr: ErrInvalidAuthType},
		{name: "key auth without key id", mutate: func(s *Server) {
			s.SSHAuthType = SSHAuthKey
			s.SSHKeyID = ""
		}, wantErr: ErrInvalidAuthType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			if err := s.Validate(); err != tt.wantErr {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerPatch_Empty(t *testing.T) {
	if !(&ServerPatch{}).Empty() {
		t.Error("zero patch should be empty")
	}
	host := "db2.internal"
	if (&ServerPatch{Host: &host}).Empty() {
		t.Error("patch with host should not be empty")
	}
}
