// Package control exposes the daemon's local REST surface: read the
// latest snapshot and quota state, trigger a manual refresh, reset
// counters and clear the scrape cache.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"commute-briefing/internal/briefing"
	"commute-briefing/internal/quota"
)

// Runner is the slice of the coordinator the server needs.
type Runner interface {
	RunCycle(ctx context.Context, trigger quota.Class) (*briefing.Snapshot, error)
	Latest() *briefing.Snapshot
	QuotaSnapshot() quota.Snapshot
	ResetCounters(ctx context.Context) quota.Snapshot
	ClearCache()
}

// History is implemented by the optional Postgres store.
type History interface {
	RecentSnapshots(ctx context.Context, limit int) ([]briefing.Snapshot, error)
}

type Server struct {
	runner  Runner
	history History
}

func NewServer(runner Runner) *Server {
	return &Server{runner: runner}
}

// SetHistory enables the /api/history endpoint.
func (s *Server) SetHistory(h History) { s.history = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/quota", s.handleQuota)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/reset-counters", s.handleResetCounters)
		r.Post("/clear-cache", s.handleClearCache)
		if s.history != nil {
			r.Get("/history", s.handleHistory)
		}
	})

	return r
}

// Serve starts the control server on the given address.
func (s *Server) Serve(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("control server error: %v", err)
		}
	}()
	log.Printf("control api listening on %s", addr)
	return srv
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.runner.Latest()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no snapshot published yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	qs := s.runner.QuotaSnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"day":         qs.Day,
		"used_manual": qs.UsedManual,
		"used_auto":   qs.UsedAuto,
		"daily_quota": qs.DailyQuota,
		"remaining":   qs.Remaining(),
	})
}

// handleRefresh runs a manual cycle synchronously and returns the
// resulting snapshot. Manual triggers ignore the commute window and
// draw from the reserved quota pool.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.RunCycle(r.Context(), quota.Manual)
	if err != nil {
		if errors.Is(err, briefing.ErrConfig) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResetCounters(w http.ResponseWriter, r *http.Request) {
	qs := s.runner.ResetCounters(r.Context())
	writeJSON(w, http.StatusOK, qs)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.runner.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}
	snaps, err := s.history.RecentSnapshots(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps, "count": len(snaps)})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
