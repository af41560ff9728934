package workqueue

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/location"
	"github.com/dmwm/workqueue/internal/observability"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// GetWorkRequest describes one acquisition call.
type GetWorkRequest struct {
	// Slots is the caller's free job slots per site. It is not modified.
	Slots map[string]int `json:"slots"`
	// Queue identifies the acquirer; it becomes the elements' ChildQueue.
	Queue string `json:"queue"`
	// Team restricts acquisition to elements of that team. Elements without
	// a team match any caller.
	Team string `json:"team,omitempty"`
	// Limit caps the number of elements. 0 = no limit.
	Limit int `json:"limit,omitempty"`
}

// GetWork acquires Available elements for req.Queue within the slot budget.
// Elements lost to a concurrent caller are skipped. Returning fewer elements
// than the budget allows is not an error.
func (e *Engine) GetWork(ctx context.Context, req GetWorkRequest) (out []*element.Element, err error) {
	ctx, span := observability.StartSpan(ctx, "workqueue.GetWork", attribute.String("child_queue", req.Queue))
	defer func() { observability.EndSpan(span, err) }()
	started := time.Now()
	defer func() { e.metrics.GetWorkDuration.Observe(time.Since(started).Seconds()) }()

	if req.Queue == "" {
		return nil, &element.ValidationError{Field: "queue", Reason: "acquiring queue must be named"}
	}
	budget := make(map[string]int, len(req.Slots))
	for site, n := range req.Slots {
		if n > 0 {
			budget[site] = n
		}
	}
	if len(budget) == 0 {
		return nil, nil
	}

	docs, err := e.store.Query(ctx, elementstore.Available, elementstore.All())
	if err != nil {
		return nil, err
	}
	blocked := map[string]bool{}
	for _, d := range docs {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if exhausted(budget) || (req.Limit > 0 && len(out) >= req.Limit) {
			break
		}
		el := d.Element
		if req.Team != "" && el.Team != "" && el.Team != req.Team {
			continue
		}
		eligible := location.Eligible(budget, func(site string) bool {
			return !blocked[site] && el.AllowsSite(site)
		})
		if len(eligible) == 0 {
			continue
		}
		site, ok := pickSite(budget, eligible, el.Jobs)
		if !ok {
			for _, s := range eligible {
				blocked[s] = true
			}
			continue
		}
		claimed, err := e.claim(ctx, d, req.Queue)
		if errors.Is(err, elementstore.ErrConflict) {
			e.metrics.Conflict("getwork")
			continue
		}
		if err != nil {
			e.logger.Warn("claim failed", logpkg.Str("element", el.ID), logpkg.Err(err))
			continue
		}
		budget[site] -= el.Jobs
		out = append(out, claimed)
	}
	e.metrics.Acquired.Add(float64(len(out)))
	if len(out) > 0 {
		e.logger.Debug("work acquired", logpkg.Str("child_queue", req.Queue), logpkg.Int("elements", len(out)))
	}
	return out, nil
}

// pickSite returns the eligible site with the most remaining slots that can
// take jobs. Ties go to the first site in eligible.
func pickSite(budget map[string]int, eligible []string, jobs int) (string, bool) {
	best, found := "", false
	for _, s := range eligible {
		if budget[s] < jobs {
			continue
		}
		if !found || budget[s] > budget[best] {
			best, found = s, true
		}
	}
	return best, found
}

func exhausted(budget map[string]int) bool {
	for _, n := range budget {
		if n > 0 {
			return false
		}
	}
	return true
}

// claim moves an Available element to Acquired for queue in two
// revision-checked writes. A lost check on the first write means another
// caller won; a lost check on the second leaves the element Negotiating for
// cleanup to expire.
func (e *Engine) claim(ctx context.Context, d elementstore.Doc, queue string) (*element.Element, error) {
	el := d.Element.Clone()
	now := e.now()
	if err := el.SetStatus(element.Negotiating, now); err != nil {
		return nil, err
	}
	el.ChildQueue = queue
	rev, err := e.store.Put(ctx, el, d.Rev)
	if err != nil {
		return nil, err
	}
	e.metrics.Transition(element.Available, element.Negotiating)
	if err := el.SetStatus(element.Acquired, now); err != nil {
		return nil, err
	}
	if _, err := e.store.Put(ctx, el, rev); err != nil {
		return nil, err
	}
	e.metrics.Transition(element.Negotiating, element.Acquired)
	return el, nil
}
