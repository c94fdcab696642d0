package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pgmon/internal/domain"
)

// handleListSessions returns a filtered page of authentication events,
// newest first.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, err := s.store.Audit().List(r.Context(), *filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

// handleSessionStats returns the login activity aggregates.
func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Audit().Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// handleListLogs returns a filtered page of collector log entries.
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilterFromQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	page, err := s.store.SystemLog().List(r.Context(), *filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

// handleLogStats returns the log volume aggregates.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.SystemLog().Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func auditFilterFromQuery(r *http.Request) (*domain.AuditFilter, error) {
	q := r.URL.Query()
	limit, offset, err := parsePagination(q)
	if err != nil {
		return nil, err
	}
	filter := &domain.AuditFilter{
		Username:  q.Get("username"),
		EventType: domain.AuditEventType(q.Get("event_type")),
		Limit:     limit,
		Offset:    offset,
	}
	if filter.From, err = parseDateParam(q.Get("from"), time.Time{}); err != nil {
		return nil, err
	}
	if filter.To, err = parseDateParam(q.Get("to"), time.Time{}); err != nil {
		return nil, err
	}
	return filter, nil
}

func logFilterFromQuery(r *http.Request) (*domain.SystemLogFilter, error) {
	q := r.URL.Query()
	limit, offset, err := parsePagination(q)
	if err != nil {
		return nil, err
	}
	filter := &domain.SystemLogFilter{
		Level:  domain.LogLevel(q.Get("level")),
		Source: q.Get("source"),
		Search: q.Get("search"),
		Limit:  limit,
		Offset: offset,
	}
	if filter.From, err = parseDateParam(q.Get("from"), time.Time{}); err != nil {
		return nil, err
	}
	if filter.To, err = parseDateParam(q.Get("to"), time.Time{}); err != nil {
		return nil, err
	}
	return filter, nil
}

func parsePagination(q url.Values) (limit, offset int, err error) {
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return 0, 0, wrapInvalid("limit must be an integer")
		}
	}
	if raw := q.Get("offset"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil {
			return 0, 0, wrapInvalid("offset must be an integer")
		}
	}
	return limit, offset, nil
}
