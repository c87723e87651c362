package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/observability/logger"
)

// HealthCheck es un componente verificado por /readyz. Un check crítico
// caído deja el servicio "unavailable"; uno no crítico, "degraded".
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthController maneja /readyz.
type HealthController struct {
	version string
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthController(version string, checks ...HealthCheck) *HealthController {
	return &HealthController{version: version, checks: checks, timeout: 2 * time.Second}
}

type componentStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components []componentStatus `json:"components"`
}

// Readyz maneja GET /readyz
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	resp := healthResponse{Status: "ready", Version: c.version, Components: make([]componentStatus, 0, len(c.checks))}
	for _, hc := range c.checks {
		cs := componentStatus{Name: hc.Name, Status: "ok"}
		if err := hc.Check(ctx); err != nil {
			cs.Status, cs.Error = "down", err.Error()
			if hc.Critical {
				resp.Status = "unavailable"
			} else if resp.Status == "ready" {
				resp.Status = "degraded"
			}
		}
		resp.Components = append(resp.Components, cs)
	}

	status := http.StatusOK
	if resp.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	log.Debug("health check completed", logger.String("status", resp.Status), logger.Int("components_count", len(resp.Components)))
	helpers.WriteJSON(w, status, resp)
}
