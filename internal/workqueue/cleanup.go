package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/policy/end"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// CleanupReport summarizes one maintenance pass.
type CleanupReport struct {
	Expired   int                          `json:"expired"`
	Finalized int                          `json:"finalized"`
	Purged    int                          `json:"purged"`
	Requests  map[string]end.RequestStatus `json:"requests"`
}

// PerformQueueCleanupActions expires stale negotiations, finalizes cancels
// the parent has seen, re-derives request status and purges archived
// requests. Per-element failures are logged and left for the next pass.
func (e *Engine) PerformQueueCleanupActions(ctx context.Context) (CleanupReport, error) {
	var rep CleanupReport
	var err error
	if rep.Expired, err = e.expireNegotiations(ctx); err != nil {
		return rep, fmt.Errorf("expire negotiations: %w", err)
	}
	if rep.Finalized, err = e.finalizeCancels(ctx); err != nil {
		return rep, fmt.Errorf("finalize cancels: %w", err)
	}

	docs, err := e.store.Query(ctx, elementstore.ByRequest, elementstore.All())
	if err != nil {
		return rep, fmt.Errorf("load elements: %w", err)
	}
	counts := map[element.Status]int{}
	byReq := map[string][]elementstore.Doc{}
	for _, d := range docs {
		counts[d.Element.Status]++
		byReq[d.Element.RequestName] = append(byReq[d.Element.RequestName], d)
	}
	e.metrics.SetElements(counts)

	now := e.now()
	rep.Requests = make(map[string]end.RequestStatus, len(byReq))
	names := make([]string, 0, len(byReq))
	for r := range byReq {
		names = append(names, r)
	}
	sort.Strings(names)
	for _, r := range names {
		group := byReq[r]
		st := e.opts.EndPolicy.Evaluate(elements(group), now)
		rep.Requests[r] = st
		if st != end.Archived || pendingReport(group) {
			continue
		}
		n := e.purge(ctx, group)
		rep.Purged += n
		e.logger.Info("archived request purged", logpkg.Str("request", r), logpkg.Int("elements", n))
	}
	e.metrics.Expired.Add(float64(rep.Expired))
	e.metrics.Purged.Add(float64(rep.Purged))
	return rep, nil
}

func (e *Engine) expireNegotiations(ctx context.Context) (int, error) {
	docs, err := e.store.Query(ctx, elementstore.ByStatus, elementstore.Key(string(element.Negotiating)))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		if e.now().Sub(d.Element.UpdateTime) < e.opts.NegotiationTimeout {
			continue
		}
		_, ok, err := e.mutate(ctx, d.Element.ID, "expire", func(el *element.Element) (bool, error) {
			now := e.now()
			if el.Status != element.Negotiating || now.Sub(el.UpdateTime) < e.opts.NegotiationTimeout {
				return false, nil
			}
			return true, el.RevertNegotiation(now)
		})
		if err != nil {
			e.logger.Warn("negotiation not expired", logpkg.Str("element", d.Element.ID), logpkg.Err(err))
			continue
		}
		if ok {
			n++
			e.logger.Info("negotiation expired", logpkg.Str("element", d.Element.ID), logpkg.Str("child_queue", d.Element.ChildQueue))
		}
	}
	return n, nil
}

func (e *Engine) finalizeCancels(ctx context.Context) (int, error) {
	docs, err := e.store.Query(ctx, elementstore.ByStatus, elementstore.Key(string(element.CancelRequested)))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range docs {
		_, ok, err := e.mutate(ctx, d.Element.ID, "finalize", func(el *element.Element) (bool, error) {
			if el.Status != element.CancelRequested {
				return false, nil
			}
			if el.ParentQueueID != "" && el.ReportedStatus != element.Canceled {
				return false, nil
			}
			return true, el.SetStatus(element.Canceled, e.now())
		})
		if err != nil {
			e.logger.Warn("cancel not finalized", logpkg.Str("element", d.Element.ID), logpkg.Err(err))
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// pendingReport reports whether any element still has state for its parent.
func pendingReport(group []elementstore.Doc) bool {
	for _, d := range group {
		if d.Element.NeedsReport() {
			return true
		}
	}
	return false
}

func (e *Engine) purge(ctx context.Context, group []elementstore.Doc) int {
	n := 0
	for _, d := range group {
		err := e.store.Delete(ctx, d.Element.ID, d.Rev)
		switch {
		case err == nil:
			n++
		case errors.Is(err, elementstore.ErrConflict), errors.Is(err, elementstore.ErrNotFound):
			// changed since the scan; the next pass decides again
		default:
			e.logger.Warn("purge failed", logpkg.Str("element", d.Element.ID), logpkg.Err(err))
		}
	}
	return n
}

// RefreshLocations re-resolves the input locations of Available elements and
// returns how many changed. Inputs whose location is unknown this pass keep
// their previous sites.
func (e *Engine) RefreshLocations(ctx context.Context) (int, error) {
	if e.resolver == nil {
		return 0, nil
	}
	docs, err := e.store.Query(ctx, elementstore.Available, elementstore.All())
	if err != nil {
		return 0, err
	}
	var refs []string
	for _, d := range docs {
		if !d.Element.MonteCarlo() {
			refs = append(refs, d.Element.InputNames()...)
		}
	}
	resolved := e.resolver.NewPass().Resolve(ctx, refs)
	n := 0
	for _, d := range docs {
		if d.Element.MonteCarlo() {
			continue
		}
		fresh := make(map[string][]string, len(d.Element.Inputs))
		for _, in := range d.Element.Inputs {
			if res := resolved[in.Name]; res.Known {
				fresh[in.Name] = res.Sites
			}
		}
		if len(fresh) == 0 {
			continue
		}
		_, ok, err := e.mutate(ctx, d.Element.ID, "refresh", func(el *element.Element) (bool, error) {
			if el.Status != element.Available {
				return false, nil
			}
			changed := false
			for i, in := range el.Inputs {
				sites, known := fresh[in.Name]
				if !known || sameSites(in.Sites, sites) {
					continue
				}
				el.Inputs[i].Sites = append([]string(nil), sites...)
				changed = true
			}
			return changed, nil
		})
		if err != nil {
			e.logger.Warn("location refresh skipped", logpkg.Str("element", d.Element.ID), logpkg.Err(err))
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		e.logger.Info("locations refreshed", logpkg.Int("elements", n))
	}
	return n, nil
}

func sameSites(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
