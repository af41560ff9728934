package controllers

import (
	"net/http"

	"github.com/dmwm/workqueue/internal/runtime"
	workqueuesvc "github.com/dmwm/workqueue/internal/services/workqueues"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general    *GeneralController
	workqueues *WorkQueuesController
	feed       *FeedController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, svc *workqueuesvc.Service, logger logpkg.Logger) *ControllerRegistry {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &ControllerRegistry{
		general:    NewGeneralController(rt, svc),
		workqueues: NewWorkQueuesController(svc, logger),
		feed:       NewFeedController(svc, logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.workqueues.RegisterRoutes(mux)
	r.feed.RegisterRoutes(mux)
}
