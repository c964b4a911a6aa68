package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/common"
)

// HealthProbe is a dependency that can report liveness
type HealthProbe interface {
	HealthCheck(ctx context.Context) error
}

// probeTimeout bounds each dependency check on a deep health request
const probeTimeout = 2 * time.Second

// HealthHandler serves GET /health
type HealthHandler struct {
	probes  map[string]HealthProbe
	started time.Time
	logger  arbor.ILogger
}

// NewHealthHandler creates a health handler over the named dependency probes
func NewHealthHandler(probes map[string]HealthProbe, logger arbor.ILogger) *HealthHandler {
	return &HealthHandler{
		probes:  probes,
		started: time.Now(),
		logger:  logger,
	}
}

// HealthHandler handles GET /health?deep=<bool>. A shallow check reports
// process liveness only; deep probes every dependency and returns 503 when
// any is down.
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	resp := map[string]interface{}{
		"status":  "healthy",
		"service": "loom",
		"version": common.GetVersion(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}

	if !QueryBool(r, "deep") {
		WriteJSON(w, http.StatusOK, resp)
		return
	}

	statuses := make(map[string]string, len(h.probes))
	healthy := true
	for name, probe := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := probe.HealthCheck(ctx)
		cancel()

		if err != nil {
			statuses[name] = "unhealthy: " + err.Error()
			healthy = false
			h.logger.Warn().Err(err).Str("dependency", name).Msg("Health probe failed")
		} else {
			statuses[name] = "healthy"
		}
	}
	resp["dependencies"] = statuses

	code := http.StatusOK
	if !healthy {
		resp["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, resp)
}
