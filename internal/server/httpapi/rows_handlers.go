package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/timewell/syncengine/internal/repository"
	"github.com/timewell/syncengine/internal/service"
)

// handleUpsertRows writes a batch of rows into a collection.
func (s *Server) handleUpsertRows(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return
	}
	var rows []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := s.rows.Upsert(r.Context(), userID, chi.URLParam(r, "collection"), rows); err != nil {
		s.writeSentinel(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"upserted": len(rows)})
}

// handleQueryRows runs a scoped range read over a collection.
func (s *Server) handleQueryRows(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return
	}
	vals := r.URL.Query()
	q := service.RowsQuery{
		SinceColumn:   vals.Get("since_col"),
		ExcludeDevice: vals.Get("exclude_device"),
		Filters:       parseFilters(vals),
	}
	if v := vals.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad since timestamp")
			return
		}
		q.Since = &ts
	}
	if v := vals.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		q.Limit = n
	}
	rows, err := s.rows.Query(r.Context(), userID, chi.URLParam(r, "collection"), q)
	if err != nil {
		s.writeSentinel(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleDeleteRows removes the caller's rows older than a cutoff.
func (s *Server) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no auth")
		return
	}
	vals := r.URL.Query()
	q := service.RowsDelete{
		BeforeColumn: vals.Get("before_col"),
		Filters:      parseFilters(vals),
	}
	if v := vals.Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad before timestamp")
			return
		}
		q.Before = ts
	}
	deleted, err := s.rows.Delete(r.Context(), userID, chi.URLParam(r, "collection"), q)
	if err != nil {
		s.writeSentinel(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

// parseFilters collects eq.<col> and in.<col> query parameters.
func parseFilters(vals map[string][]string) []repository.Cond {
	var out []repository.Cond
	for key, vs := range vals {
		if len(vs) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(key, "eq."):
			out = append(out, repository.Cond{Column: key[3:], Values: []string{vs[0]}})
		case strings.HasPrefix(key, "in."):
			out = append(out, repository.Cond{Column: key[3:], Values: strings.Split(vs[0], ",")})
		}
	}
	return out
}
