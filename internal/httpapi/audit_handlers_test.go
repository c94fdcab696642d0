package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"pgmon/internal/domain"
)

func TestParsePagination(t *testing.T) {
	t.Run("values parsed", func(t *testing.T) {
		q := url.Values{"limit": {"25"}, "offset": {"100"}}
		limit, offset, err := parsePagination(q)
		if err != nil {
			t.Fatalf("parsePagination() error = %v", err)
		}
		if limit != 25 || offset != 100 {
			t.Errorf("parsePagination() = (%d, %d), want (25, 100)", limit, offset)
		}
	})

	t.Run("absent values stay zero", func(t *testing.T) {
		limit, offset, err := parsePagination(url.Values{})
		if err != nil {
			t.Fatalf("parsePagination() error = %v", err)
		}
		if limit != 0 || offset != 0 {
			t.Errorf("parsePagination() = (%d, %d), want zeros", limit, offset)
		}
	})

	t.Run("garbage refused", func(t *testing.T) {
		_, _, err := parsePagination(url.Values{"limit": {"ten"}})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("parsePagination() error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestAuditFilterFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet,
		"/api/sessions?event_type=login_failed&username=alice&from=2024-01-01&limit=10&offset=20", nil)

	filter, err := auditFilterFromQuery(r)
	if err != nil {
		t.Fatalf("auditFilterFromQuery() error = %v", err)
	}
	if filter.EventType != domain.AuditLoginFailed {
		t.Errorf("event type = %q, want %q", filter.EventType, domain.AuditLoginFailed)
	}
	if filter.Username != "alice" {
		t.Errorf("username = %q, want %q", filter.Username, "alice")
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !filter.From.Equal(want) {
		t.Errorf("from = %v, want %v", filter.From, want)
	}
	if !filter.To.IsZero() {
		t.Errorf("to = %v, want zero when absent", filter.To)
	}
	if filter.Limit != 10 || filter.Offset != 20 {
		t.Errorf("pagination = (%d, %d), want (10, 20)", filter.Limit, filter.Offset)
	}
}

func TestLogFilterFromQuery(t *testing.T) {
	t.Run("all filters", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet,
			"/api/logs?level=error&source=collector&search=timeout&to=2024-03-01", nil)

		filter, err := logFilterFromQuery(r)
		if err != nil {
			t.Fatalf("logFilterFromQuery() error = %v", err)
		}
		if filter.Level != domain.LogError {
			t.Errorf("level = %q, want %q", filter.Level, domain.LogError)
		}
		if filter.Source != "collector" {
			t.Errorf("source = %q, want %q", filter.Source, "collector")
		}
		if filter.Search != "timeout" {
			t.Errorf("search = %q, want %q", filter.Search, "timeout")
		}
		if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !filter.To.Equal(want) {
			t.Errorf("to = %v, want %v", filter.To, want)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/logs?from=lastweek", nil)
		_, err := logFilterFromQuery(r)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("logFilterFromQuery() error = %v, want ErrInvalidInput", err)
		}
	})
}
