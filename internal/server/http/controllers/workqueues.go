package controllers

import (
	"net/http"
	"strings"

	"github.com/dmwm/workqueue/internal/element"
	workqueuesvc "github.com/dmwm/workqueue/internal/services/workqueues"
	"github.com/dmwm/workqueue/internal/workqueue"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// WorkQueuesController exposes the queue operations over JSON.
//
// Every mutating call is a POST with a JSON body; listings are GETs with
// query parameters.
type WorkQueuesController struct {
	svc    *workqueuesvc.Service
	logger logpkg.Logger
}

// NewWorkQueuesController creates a new work queue controller.
func NewWorkQueuesController(svc *workqueuesvc.Service, logger logpkg.Logger) *WorkQueuesController {
	return &WorkQueuesController{svc: svc, logger: logger.WithComponent("http.workqueues")}
}

// RegisterRoutes registers work queue routes with the given mux.
func (c *WorkQueuesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queue", method(http.MethodPost, c.handleQueueWork))
	mux.HandleFunc("/v1/getwork", method(http.MethodPost, c.handleGetWork))
	mux.HandleFunc("/v1/acquired", method(http.MethodGet, c.handleAcquiredBy))
	mux.HandleFunc("/v1/child-updates", method(http.MethodPost, c.handleChildUpdates))
	mux.HandleFunc("/v1/elements", method(http.MethodGet, c.handleStatus))
	mux.HandleFunc("/v1/summary", method(http.MethodGet, c.handleSummary))
	mux.HandleFunc("/v1/priority", method(http.MethodPost, c.handlePriority))
	mux.HandleFunc("/v1/cancel", method(http.MethodPost, c.handleCancel))
	mux.HandleFunc("/v1/update-status", method(http.MethodPost, c.handleUpdateStatus))
	mux.HandleFunc("/v1/cleanup", method(http.MethodPost, c.handleCleanup))
	mux.HandleFunc("/v1/refresh-locations", method(http.MethodPost, c.handleRefreshLocations))
	mux.HandleFunc("/v1/sync", method(http.MethodPost, c.handleSync))
	mux.HandleFunc("/v1/slots", method(http.MethodPost, c.handleSlots))
}

func (c *WorkQueuesController) handleQueueWork(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.QueueWorkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Workload == nil {
		writeErrorReason(w, http.StatusBadRequest, "workload is required", "validation")
		return
	}
	resp, err := c.svc.QueueWork(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	c.logger.Info("workload queued",
		logpkg.Str("request", req.Workload.Name),
		logpkg.Int("elements", len(resp.IDs)))
	if resp.Duplicate {
		writeJSON(w, resp)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleGetWork(w http.ResponseWriter, r *http.Request) {
	var req workqueue.GetWorkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := c.svc.GetWork(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleAcquiredBy(w http.ResponseWriter, r *http.Request) {
	resp, err := c.svc.AcquiredBy(r.Context(), workqueuesvc.AcquiredByRequest{Queue: r.URL.Query().Get("queue")})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleChildUpdates(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.ChildUpdatesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := c.svc.ApplyChildUpdates(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

// handleStatus lists elements. Query parameters: request, status (comma
// separated), expr.
func (c *WorkQueuesController) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := workqueue.Filter{Request: q.Get("request"), Expr: q.Get("expr")}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			f.Statuses = append(f.Statuses, element.Status(strings.TrimSpace(part)))
		}
	}
	resp, err := c.svc.Status(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if limit := parseLimit(q.Get("limit")); limit > 0 && len(resp.Elements) > limit {
		resp.Elements = resp.Elements[:limit]
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleSummary(w http.ResponseWriter, r *http.Request) {
	resp, err := c.svc.Summary(r.Context(), workqueuesvc.SummaryRequest{Request: r.URL.Query().Get("request")})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handlePriority(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.PriorityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := c.svc.SetPriority(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req workqueue.CancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := c.svc.CancelWork(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp, err := c.svc.UpdateStatus(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := c.svc.Cleanup(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, report)
}

func (c *WorkQueuesController) handleRefreshLocations(w http.ResponseWriter, r *http.Request) {
	resp, err := c.svc.RefreshLocations(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleSync(w http.ResponseWriter, r *http.Request) {
	resp, err := c.svc.Sync(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (c *WorkQueuesController) handleSlots(w http.ResponseWriter, r *http.Request) {
	var req workqueuesvc.SlotsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := c.svc.SetSlots(r.Context(), req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
