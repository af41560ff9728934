package workqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// ChildUpdate is a child queue's report for one parent element.
type ChildUpdate struct {
	// ID is the parent element id.
	ID              string         `json:"id"`
	Status          element.Status `json:"status"`
	PercentComplete int            `json:"percentComplete"`
	PercentSuccess  int            `json:"percentSuccess"`
}

// ChildUpdateResult is the parent's answer to one ChildUpdate.
type ChildUpdateResult struct {
	ID string `json:"id"`
	// Status is the parent element's status after the update.
	Status element.Status `json:"status,omitempty"`
	// Applied is set when the parent now reflects the report, including when
	// the parent was already at or past it.
	Applied bool `json:"applied"`
	// Deferred means the update kept conflicting; the child resends it.
	Deferred bool `json:"deferred,omitempty"`
	// NotFound means the parent no longer holds the element.
	NotFound bool `json:"notFound,omitempty"`
	// NotOwned means the element is held by another queue.
	NotOwned bool   `json:"notOwned,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ApplyChildUpdates applies status reports from childQueue to the elements it
// acquired. Terminal parent elements never change, and reports behind the
// parent's status are ignored. Each update is independent.
func (e *Engine) ApplyChildUpdates(ctx context.Context, childQueue string, updates []ChildUpdate) ([]ChildUpdateResult, error) {
	if childQueue == "" {
		return nil, &element.ValidationError{Field: "queue", Reason: "reporting queue must be named"}
	}
	out := make([]ChildUpdateResult, 0, len(updates))
	for _, u := range updates {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out = append(out, e.applyChildUpdate(ctx, childQueue, u))
	}
	return out, nil
}

func (e *Engine) applyChildUpdate(ctx context.Context, childQueue string, u ChildUpdate) ChildUpdateResult {
	res := ChildUpdateResult{ID: u.ID}
	if _, err := element.ParseStatus(string(u.Status)); err != nil {
		res.Error = err.Error()
		return res
	}
	el, _, err := e.mutate(ctx, u.ID, "child-update", func(el *element.Element) (bool, error) {
		if el.ChildQueue != childQueue {
			return false, fmt.Errorf("%s held by %q: %w", el.ID, el.ChildQueue, ErrNotOwned)
		}
		if el.Status.Terminal() || u.Status.Rank() < el.Status.Rank() {
			return false, nil
		}
		before := *el
		if err := advance(el, u.Status, e.now()); err != nil {
			return false, err
		}
		if u.PercentComplete > el.PercentComplete {
			el.PercentComplete = u.PercentComplete
		}
		if u.PercentSuccess != el.PercentSuccess {
			el.PercentSuccess = u.PercentSuccess
		}
		return el.Status != before.Status || el.PercentComplete != before.PercentComplete || el.PercentSuccess != before.PercentSuccess, nil
	})
	switch {
	case err == nil:
		res.Status = el.Status
		res.Applied = true
		if el.Status.Terminal() && el.Status != u.Status {
			e.logger.Debug("terminal status kept", logpkg.Str("element", u.ID), logpkg.Str("status", string(el.Status)), logpkg.Str("reported", string(u.Status)))
		}
	case errors.Is(err, ErrDeferred):
		res.Deferred = true
		res.Error = err.Error()
	case errors.Is(err, elementstore.ErrNotFound):
		res.NotFound = true
	case errors.Is(err, ErrNotOwned):
		res.NotOwned = true
		res.Error = err.Error()
	default:
		res.Error = err.Error()
		e.logger.Warn("child update rejected", logpkg.Str("element", u.ID), logpkg.Str("child_queue", childQueue), logpkg.Err(err))
	}
	return res
}

// AcquiredBy lists the elements childQueue acquired and has not reported
// on since. A child holding one without a local copy lost the pull that
// acquired it.
func (e *Engine) AcquiredBy(ctx context.Context, childQueue string) ([]*element.Element, error) {
	if childQueue == "" {
		return nil, &element.ValidationError{Field: "queue", Reason: "acquiring queue must be named"}
	}
	docs, err := e.store.Query(ctx, elementstore.ByChildQueue, elementstore.Key(childQueue))
	if err != nil {
		return nil, err
	}
	var out []*element.Element
	for _, d := range docs {
		if d.Element.Status == element.Acquired {
			out = append(out, d.Element)
		}
	}
	return out, nil
}

// Uncopied returns the parent element ids among parentIDs with no local copy.
func (e *Engine) Uncopied(ctx context.Context, parentIDs []string) ([]string, error) {
	var out []string
	for _, id := range parentIDs {
		docs, err := e.store.Query(ctx, elementstore.ByParent, elementstore.Key(id))
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			out = append(out, id)
		}
	}
	return out, nil
}

// Reportable lists local copies with a parent that are not settled: those
// with state the parent has not seen and those still open, whose parent may
// have been canceled.
func (e *Engine) Reportable(ctx context.Context) ([]*element.Element, error) {
	docs, err := e.store.Query(ctx, elementstore.ByParent, elementstore.All())
	if err != nil {
		return nil, err
	}
	var out []*element.Element
	for _, d := range docs {
		if d.Element.NeedsReport() || !d.Element.Status.Terminal() {
			out = append(out, d.Element)
		}
	}
	return out, nil
}

// AcknowledgeReport records the parent's answer for the local copy id.
// sent is the update that was delivered. A parent that canceled or failed
// the element, or gave it to another queue, ends the local copy too.
func (e *Engine) AcknowledgeReport(ctx context.Context, id string, sent ChildUpdate, res ChildUpdateResult) error {
	_, _, err := e.mutate(ctx, id, "acknowledge", func(el *element.Element) (bool, error) {
		changed := false
		if res.Applied || res.NotFound || res.NotOwned {
			if el.ReportedStatus != sent.Status || el.ReportedProgress != sent.PercentComplete {
				el.ReportedStatus = sent.Status
				el.ReportedProgress = sent.PercentComplete
				changed = true
			}
		}
		end := res.Status
		if res.NotOwned {
			end = element.Canceled
		}
		if el.Status == element.CancelRequested && end == element.Failed {
			end = element.Canceled
		}
		if (end == element.Canceled || end == element.Failed) && !el.Status.Terminal() {
			if err := advance(el, end, e.now()); err != nil {
				return false, err
			}
			el.ReportedStatus = end
			el.ReportedProgress = el.PercentComplete
			changed = true
			e.logger.Info("local copy ended by parent", logpkg.Str("element", el.ID), logpkg.Str("status", string(end)))
		}
		return changed, nil
	})
	return err
}
