package rest

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// healthTimeout bounds each backing service probe.
const healthTimeout = 2 * time.Second

// GET /healthz reports ok only when every configured probe answers.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.Health))
	for name, probe := range s.deps.Health {
		if probe != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	resp := HealthResponse{Status: "ok", Version: s.cfg.Version, Checks: map[string]string{}}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := s.deps.Health[name].Ping(ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.write(w, status, resp)
}
