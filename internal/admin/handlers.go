package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"leaguebot/pkg/logx"
)

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		unavailable(w, "queue")
		return
	}
	n, err := s.deps.Queue.PostQueued(r.Context(), s.now())
	if err != nil {
		s.log.Warn("forced flush failed", logx.Int("posted", n), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"posted": n, "error": err.Error()})
		return
	}
	s.log.Info("forced flush", logx.Int("posted", n))
	writeJSON(w, http.StatusOK, map[string]int{"posted": n})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	n, err := s.deps.Scheduler.RefreshJobs(r.Context())
	resp := map[string]any{"scheduled": n}
	if err != nil {
		// Invalid jobs do not fail the refresh; report them.
		resp["error"] = err.Error()
	}
	s.log.Info("forced job refresh", logx.Int("scheduled", n), logx.Bool("partial", err != nil))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Scheduler == nil {
		unavailable(w, "scheduler")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.deps.Scheduler.Tasks()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		unavailable(w, "job store")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "limit must be 1..500", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.JobRuns(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		http.Error(w, "failed to read runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		unavailable(w, "job store")
		return
	}
	failures, err := s.deps.Runs.JobFailures(r.Context())
	if err != nil {
		http.Error(w, "failed to read failures", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		unavailable(w, "status")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func unavailable(w http.ResponseWriter, what string) {
	http.Error(w, what+" not configured", http.StatusServiceUnavailable)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
