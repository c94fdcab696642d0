package warehouse

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"pgmon/internal/domain"
)

func TestNullString(t *testing.T) {
	if got := nullString(""); got != nil {
		t.Errorf("nullString(\"\") = %v, want nil", got)
	}
	got := nullString("x")
	if got == nil || *got != "x" {
		t.Errorf("nullString(\"x\") = %v, want pointer to \"x\"", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pg error 23505", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped pg error", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"pg error other code", &pgconn.PgError{Code: "23503"}, false},
		{"string match", errors.New(`duplicate key value violates unique constraint "servers_pkey"`), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !isForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("isForeignKeyViolation(23503) = false, want true")
	}
	if isForeignKeyViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("isForeignKeyViolation(23505) = true, want false")
	}
	if isForeignKeyViolation(nil) {
		t.Error("isForeignKeyViolation(nil) = true, want false")
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		limit, offset    int
		wantLim, wantOff int
	}{
		{0, 0, 50, 0},
		{-5, -3, 50, 0},
		{1, 10, 1, 10},
		{500, 0, 500, 0},
		{501, 0, 500, 0},
		{9999, 100, 500, 100},
	}

	for _, tt := range tests {
		gotLim, gotOff := pageBounds(tt.limit, tt.offset)
		if gotLim != tt.wantLim || gotOff != tt.wantOff {
			t.Errorf("pageBounds(%d, %d) = (%d, %d), want (%d, %d)",
				tt.limit, tt.offset, gotLim, gotOff, tt.wantLim, tt.wantOff)
		}
	}
}

func TestBucketExprsCoverAllLevels(t *testing.T) {
	levels := []domain.AggregationLevel{
		domain.AggregationRaw,
		domain.AggregationHour,
		domain.AggregationFourHour,
		domain.AggregationDay,
	}
	for _, level := range levels {
		agg, ok := bucketExprs[level]
		if !ok {
			t.Errorf("bucketExprs missing level %q", level)
			continue
		}
		if agg.trunc == "" || agg.group == "" {
			t.Errorf("bucketExprs[%q] has empty expression", level)
		}
	}
	if len(bucketExprs) != len(levels) {
		t.Errorf("bucketExprs has %d entries, want %d", len(bucketExprs), len(levels))
	}
}

func TestBucketExprsRawIsPassthrough(t *testing.T) {
	agg := bucketExprs[domain.AggregationRaw]
	if agg.trunc != "ts" || agg.group != "ts" {
		t.Errorf("raw bucket = (%q, %q), want (\"ts\", \"ts\")", agg.trunc, agg.group)
	}
}
