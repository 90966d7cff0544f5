package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	model "github.com/okian/mindshare/internal/domain/model"
)

const (
	defaultTopLimit    = 10
	defaultSearchLimit = 20
	maxCompare         = 10
)

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.query.Projects(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) handleTimeframes(w http.ResponseWriter, r *http.Request) {
	tfs, err := s.query.Timeframes(r.Context(), chi.URLParam(r, "project"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tfs)
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	ts, err := s.query.AvailableTimestamps(r.Context(), project, tf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// handleSlice handles GET .../slice?ts=. Without ts it returns the latest
// timestamp.
func (s *Server) handleSlice(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	rows, err := s.query.SliceAt(r.Context(), project, tf, r.URL.Query().Get("ts"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	metric, err := metricParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.limitParam(r, defaultTopLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.query.TopN(r.Context(), project, tf, metric, n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleIdentities(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	ids, err := s.query.LatestIdentities(r.Context(), project, tf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	points, err := intParam(r, "points", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.query.History(r.Context(), project, tf, chi.URLParam(r, "identity"), points)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	metric, err := metricParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := s.query.Diff(r.Context(), project, tf, q.Get("t1"), q.Get("t2"), metric)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	metric, err := metricParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := s.query.Trend(r.Context(), project, tf, metric)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// handleCompare handles GET .../compare?users=a&users=b. Comma separated
// lists are accepted too.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	project, tf := scope(r)
	var users []string
	for _, v := range r.URL.Query()["users"] {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				users = append(users, u)
			}
		}
	}
	switch {
	case len(users) == 0:
		s.writeError(w, r, fmt.Errorf("%w: users is required", ErrBadRequest))
		return
	case len(users) > maxCompare:
		s.writeError(w, r, fmt.Errorf("%w: at most %d users", ErrLimitExceeded, maxCompare))
		return
	}
	out, err := s.query.Compare(r.Context(), project, tf, users)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	n, err := s.limitParam(r, defaultSearchLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ids, err := s.query.Search(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	view, err := s.query.Identity(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func scope(r *http.Request) (string, string) {
	return chi.URLParam(r, "project"), chi.URLParam(r, "timeframe")
}

func metricParam(r *http.Request) (model.Metric, error) {
	return model.ParseMetric(r.URL.Query().Get("metric"))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrBadRequest, name)
	}
	return n, nil
}

func (s *Server) limitParam(r *http.Request, def int) (int, error) {
	n, err := intParam(r, "limit", def)
	if err != nil {
		return 0, err
	}
	if n > s.maxLimit {
		return 0, fmt.Errorf("%w: limit must be at most %d", ErrLimitExceeded, s.maxLimit)
	}
	return n, nil
}
