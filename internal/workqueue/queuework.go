package workqueue

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/observability"
	"github.com/dmwm/workqueue/internal/policy/splitting"
	"github.com/dmwm/workqueue/internal/policy/start"
	"github.com/dmwm/workqueue/internal/workload"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// QueueWork splits wl into elements for team and stores the new ones as
// Available. It returns the ids of every element the request maps to, new or
// already queued.
//
// When every element already exists the result is a DuplicateWorkError with
// the ids. Tasks that fail to gather or split are reported as a joined error
// next to the ids of the tasks that succeeded.
func (e *Engine) QueueWork(ctx context.Context, wl *workload.Workload, team string) (ids []string, err error) {
	ctx, span := observability.StartSpan(ctx, "workqueue.QueueWork", attribute.String("request", wl.Name), attribute.String("team", team))
	defer func() { observability.EndSpan(span, err) }()

	if err := wl.Validate(); err != nil {
		return nil, err
	}
	policy, err := e.opts.StartPolicies.For(wl)
	if err != nil {
		return nil, err
	}
	existing, err := e.byRequest(ctx, wl.Name)
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", wl.Name, err)
	}
	if len(existing) > 0 {
		if st := e.opts.EndPolicy.Evaluate(elements(existing), e.now()); st.Closed() {
			e.metrics.Rejected.Inc()
			e.logger.Warn("late injection into closed request", logpkg.Str("request", wl.Name), logpkg.Str("status", string(st)))
			return nil, &RequestClosedError{Request: wl.Name, Status: string(st)}
		}
	}

	inputs, gatherErrs := e.gather(ctx, wl)
	ready := *wl
	ready.Tasks = nil
	for _, t := range wl.ListTasks() {
		if _, failed := gatherErrs[t.Name]; !failed {
			ready.Tasks = append(ready.Tasks, t)
		}
	}
	res := policy.Apply(start.Request{Workload: &ready, Team: team, Inputs: inputs, Existing: elements(existing)})
	for task, err := range gatherErrs {
		if res.TaskErrors == nil {
			res.TaskErrors = map[string]error{}
		}
		res.TaskErrors[task] = err
	}
	if n := len(res.TaskErrors); n > 0 {
		e.metrics.SplittingErrors.Add(float64(n))
		e.logger.Warn("tasks not queued", logpkg.Str("request", wl.Name), logpkg.Int("tasks", n), logpkg.Err(res.Err()))
	}
	for task, w := range res.Withheld {
		e.logger.Info("open blocks withheld until closed",
			logpkg.Str("request", wl.Name), logpkg.Str("task", task), logpkg.Int("blocks", len(w)))
	}

	ids, added, err := e.insert(ctx, existing, res.Elements)
	if err != nil {
		return nil, err
	}
	e.metrics.Injected.Add(float64(added))
	e.metrics.Duplicates.Add(float64(len(ids) - added))
	e.logger.Info("request queued", logpkg.Str("request", wl.Name), logpkg.Int("new", added), logpkg.Int("duplicate", len(ids)-added))

	errs := []error{res.Err()}
	if added == 0 && len(ids) > 0 {
		errs = append(errs, &DuplicateWorkError{Request: wl.Name, IDs: ids})
	}
	return ids, errors.Join(errs...)
}

// gather lists each input task's blocks and resolves their locations once per
// block for this pass. Production tasks need no I/O.
func (e *Engine) gather(ctx context.Context, wl *workload.Workload) (map[string]*splitting.Input, map[string]error) {
	inputs := map[string]*splitting.Input{}
	failed := map[string]error{}
	locs := e.newPass()
	for _, t := range wl.ListTasks() {
		if t.MonteCarlo() {
			inputs[t.Name] = &splitting.Input{TotalEvents: t.TotalEvents}
			continue
		}
		if e.catalog == nil {
			failed[t.Name] = &splitting.SplittingError{Task: t.Name, Algorithm: t.SplittingAlgorithm, Reason: "queue has no data catalog"}
			continue
		}
		blocks, err := e.catalog.Blocks(ctx, t.InputDataset)
		if err != nil {
			failed[t.Name] = fmt.Errorf("task %s: %w", t.Name, err)
			continue
		}
		in := &splitting.Input{Dataset: t.InputDataset, TotalEvents: t.TotalEvents}
		for _, b := range blocks {
			in.Blocks = append(in.Blocks, splitting.Block{
				Name:  b.Name,
				Sites: locs(ctx, b.Name),
				Open:  b.Open,
				Files: b.Files,
			})
		}
		inputs[t.Name] = in
	}
	return inputs, failed
}

// newPass returns a per-pass location lookup. Unknown locations come back
// empty, leaving the block unplaced until the next refresh.
func (e *Engine) newPass() func(ctx context.Context, block string) []string {
	if e.resolver == nil {
		return func(context.Context, string) []string { return nil }
	}
	pass := e.resolver.NewPass()
	return func(ctx context.Context, block string) []string {
		return pass.Locations(ctx, block).Sites
	}
}

// insert stores the elements not in existing. It returns the ids of all els
// in order and how many were written.
func (e *Engine) insert(ctx context.Context, existing []elementstore.Doc, els []*element.Element) ([]string, int, error) {
	have := make(map[string]bool, len(existing))
	for _, d := range existing {
		have[d.Element.ID] = true
	}
	now := e.now()
	ids := make([]string, 0, len(els))
	var writes []elementstore.Write
	for _, el := range els {
		if have[el.ID] {
			ids = append(ids, el.ID)
			continue
		}
		have[el.ID] = true
		ids = append(ids, el.ID)
		el.InsertID = e.ids.Next().String()
		el.CreationTime = now
		el.UpdateTime = now
		writes = append(writes, elementstore.Write{Element: el})
	}
	if len(writes) == 0 {
		return ids, 0, nil
	}
	results, err := e.store.BulkPut(ctx, writes)
	if err != nil {
		return nil, 0, err
	}
	added := 0
	for _, r := range results {
		switch {
		case r.Err == nil:
			added++
		case errors.Is(r.Err, elementstore.ErrConflict):
			// queued concurrently by another caller
		default:
			return nil, 0, fmt.Errorf("store %s: %w", r.ID, r.Err)
		}
	}
	return ids, added, nil
}

// Inject stores elements pulled from a parent queue. Elements already present
// are skipped. It returns the number written.
func (e *Engine) Inject(ctx context.Context, els []*element.Element) (int, error) {
	for _, el := range els {
		if err := el.Validate(); err != nil {
			return 0, err
		}
	}
	_, added, err := e.insert(ctx, nil, els)
	return added, err
}
