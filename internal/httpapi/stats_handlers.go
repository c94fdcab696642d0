package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"pgmon/internal/domain"
)

type activityResponse struct {
	Queries []domain.ActivitySession `json:"queries"`
}

// handleServerActivity returns what is running on the target right now,
// straight from pg_stat_activity.
func (s *Server) handleServerActivity(w http.ResponseWriter, r *http.Request) {
	srv, err := s.store.Servers().Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	sessions, err := s.coll.CurrentActivity(r.Context(), srv)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []domain.ActivitySession{}
	}
	s.respondJSON(w, http.StatusOK, activityResponse{Queries: sessions})
}

// handleServerStats returns the warehouse view of one server over a date
// range: totals, the database inventory, and the bucketed connection
// timeline. The exists flag comes from a live look at the target; when the
// target is down the flag stays false rather than failing the read.
func (s *Server) handleServerStats(w http.ResponseWriter, r *http.Request) {
	srv, err := s.store.Servers().Get(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	overview, err := s.store.Statistics().ServerOverview(r.Context(), srv.Name, from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if live, liveErr := s.coll.ListDatabases(r.Context(), srv); liveErr == nil {
		existing := make(map[string]bool, len(live))
		for _, name := range live {
			existing[name] = true
		}
		for i := range overview.Databases {
			overview.Databases[i].Exists = existing[overview.Databases[i].Name]
		}
	} else {
		s.log.Warn("live database check failed", "server", srv.Name, "error", liveErr)
	}

	s.respondJSON(w, http.StatusOK, overview)
}

// handleDatabaseDetail returns the latest collected numbers for one
// database. A database that has never had a sized sample is measured live.
func (s *Server) handleDatabaseDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	srv, err := s.store.Servers().Get(r.Context(), vars["name"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	datname := vars["db"]

	detail, err := s.store.Statistics().DatabaseDetail(r.Context(), srv.Name, datname)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if detail.SizeMB == 0 {
		if size, liveErr := s.coll.LiveDatabaseSizeMB(r.Context(), srv, datname); liveErr == nil {
			detail.SizeMB = size
		} else {
			s.log.Warn("live size lookup failed",
				"server", srv.Name, "datname", datname, "error", liveErr)
		}
	}

	s.respondJSON(w, http.StatusOK, detail)
}

// handleDatabaseStats returns one database's totals and bucketed timeline
// over a date range.
func (s *Server) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	srv, err := s.store.Servers().Get(r.Context(), vars["name"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	overview, err := s.store.Statistics().DatabaseOverview(r.Context(), srv.Name, vars["db"], from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, overview)
}

// parseDateRange reads the start_date and end_date query parameters. An
// empty start defaults to seven days back, an empty end to now.
func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, err := parseDateParam(r.URL.Query().Get("start_date"), now.AddDate(0, 0, -7))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDateParam(r.URL.Query().Get("end_date"), now)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDateParam(value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", domain.ErrInvalidInput, value)
}
