package workqueue

import (
	"context"
	"errors"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// CancelRequest names requests and/or individual elements to cancel.
type CancelRequest struct {
	Requests []string `json:"requests,omitempty"`
	IDs      []string `json:"ids,omitempty"`
}

// CancelWork cancels the selected elements and returns the ids it changed.
//
// Queued root elements are canceled at once. A queued copy pulled from a
// parent becomes CancelRequested until the parent has seen the cancel.
// Elements held by a child queue are canceled here; the child learns of it
// on its next status push. Terminal elements are left alone.
func (e *Engine) CancelWork(ctx context.Context, req CancelRequest) ([]string, error) {
	ids := append([]string(nil), req.IDs...)
	for _, r := range req.Requests {
		docs, err := e.byRequest(ctx, r)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			ids = append(ids, d.Element.ID)
		}
	}
	seen := map[string]bool{}
	var changed []string
	var errs []error
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		_, ok, err := e.mutate(ctx, id, "cancel", func(el *element.Element) (bool, error) {
			next, ok := cancelTarget(el)
			if !ok {
				return false, nil
			}
			return true, el.SetStatus(next, e.now())
		})
		if errors.Is(err, elementstore.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			changed = append(changed, id)
		}
	}
	e.logger.Info("cancel requested", logpkg.Strs("requests", req.Requests), logpkg.Int("elements", len(changed)))
	return changed, errors.Join(errs...)
}

// cancelTarget returns the status a cancel moves el to.
func cancelTarget(el *element.Element) (element.Status, bool) {
	switch el.Status {
	case element.Available:
		if el.ParentQueueID != "" {
			return element.CancelRequested, true
		}
		return element.Canceled, true
	case element.Negotiating, element.Acquired, element.Running:
		return element.Canceled, true
	default:
		return "", false
	}
}
