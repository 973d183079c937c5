package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-agent/internal/audit"
	"github.com/nerrad567/gray-logic-agent/internal/auth"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 2 * time.Second

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.require(auth.PermStatusRead)).Get("/status", s.handleStatus)
			r.With(s.require(auth.PermCommandLogRead)).Get("/commands", s.handleListCommands)
			r.With(s.require(auth.PermEventsStream)).Post("/auth/ws-ticket", s.handleWSTicket)
		})

		// Authenticated by ticket in the handler.
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports ok, or 503 with the failing checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	healthy := true
	for name, c := range s.checks {
		if err := c.HealthCheck(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"phase":   s.status.Status().Phase,
		"checks":  checks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleListCommands returns a page of the command log.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commandLog == nil {
		writeNotFound(w, "command log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Name:    q.Get("name"),
		Outcome: q.Get("outcome"),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	res, err := s.commandLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing command log", "error", err)
		writeInternalError(w, "failed to read command log")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
