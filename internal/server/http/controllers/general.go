package controllers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmwm/workqueue/internal/runtime"
	workqueuesvc "github.com/dmwm/workqueue/internal/services/workqueues"
)

// GeneralController serves health, queue info and metrics.
type GeneralController struct {
	rt  *runtime.Runtime
	svc *workqueuesvc.Service
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, svc *workqueuesvc.Service) *GeneralController {
	return &GeneralController{rt: rt, svc: svc}
}

// RegisterRoutes registers general routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Queue identity and element counts (/v1/info)
// - Prometheus metrics (/metrics)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/info", method(http.MethodGet, c.handleInfo))
	mux.Handle("/metrics", promhttp.HandlerFor(c.rt.Registry(), promhttp.HandlerOpts{}))
}

// handleHealth returns 200 with {"status": "ok"} if healthy, 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.svc.Health(r.Context()); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, healthResponse{Status: "not_serving", Error: err.Error()})
		return
	}
	writeJSON(w, healthResponse{Status: "ok"})
}

func (c *GeneralController) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := c.svc.Info(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, info)
}
