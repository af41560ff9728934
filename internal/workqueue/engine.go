package workqueue

import (
	"context"
	"errors"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/location"
	"github.com/dmwm/workqueue/internal/metrics"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/pkg/id"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Engine runs queue operations against one element store.
type Engine struct {
	store    elementstore.Store
	catalog  workload.Catalog
	resolver *location.Resolver

	opts    Options
	ids     *id.Generator
	logger  logpkg.Logger
	metrics *metrics.Metrics
}

// New builds an engine. catalog and resolver are only needed by queues that
// accept injections or refresh locations; a local queue may pass nil.
func New(store elementstore.Store, catalog workload.Catalog, resolver *location.Resolver, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store:    store,
		catalog:  catalog,
		resolver: resolver,
		opts:     opts,
		ids:      id.NewGeneratorWithClock(opts.Now),
		logger:   opts.Logger.WithComponent("workqueue").With(logpkg.Str("queue", opts.Queue)),
		metrics:  opts.Metrics,
	}
}

// Queue returns the queue name.
func (e *Engine) Queue() string { return e.opts.Queue }

// Store returns the backing element store.
func (e *Engine) Store() elementstore.Store { return e.store }

func (e *Engine) now() time.Time { return e.opts.Now().UTC() }

// mutate re-reads id and applies fn until the write lands or retries run
// out. fn reports whether it changed the element; unchanged elements are not
// written. The returned element is the stored state after the call.
func (e *Engine) mutate(ctx context.Context, id, op string, fn func(el *element.Element) (bool, error)) (*element.Element, bool, error) {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: e.opts.RetryMinBackoff,
		MaxBackoff: e.opts.RetryMaxBackoff,
		MaxRetries: e.opts.ConflictRetries + 1,
	})
	var lastErr error
	for b.Ongoing() {
		el, rev, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		prev := el.Status
		changed, err := fn(el)
		if err != nil || !changed {
			return el, false, err
		}
		_, err = e.store.Put(ctx, el, rev)
		if err == nil {
			if prev != el.Status {
				e.metrics.Transition(prev, el.Status)
			}
			return el, true, nil
		}
		if !errors.Is(err, elementstore.ErrConflict) {
			return nil, false, err
		}
		lastErr = err
		e.metrics.Conflict(op)
		b.Wait()
	}
	if lastErr == nil {
		lastErr = b.Err()
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	e.metrics.Deferred.Inc()
	e.logger.Warn("update deferred to next cycle", logpkg.Str("op", op), logpkg.Str("element", id), logpkg.Int("retries", b.NumRetries()))
	return nil, false, &DeferredError{ID: id, Op: op, Retries: b.NumRetries(), Err: lastErr}
}

// advance walks el forward to target along the shortest legal path, so a
// report of Done reaches an Acquired element through Running.
func advance(el *element.Element, target element.Status, now time.Time) error {
	if el.Status == target {
		return nil
	}
	path := pathTo(el.Status, target)
	if path == nil {
		return &element.InvalidTransitionError{ID: el.ID, From: el.Status, To: target}
	}
	for _, s := range path {
		if err := el.SetStatus(s, now); err != nil {
			return err
		}
	}
	return nil
}

// pathTo returns the statuses after from on a shortest path to target.
func pathTo(from, target element.Status) []element.Status {
	prev := map[element.Status]element.Status{from: from}
	queue := []element.Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			var path []element.Status
			for s := cur; s != from; s = prev[s] {
				path = append([]element.Status{s}, path...)
			}
			return path
		}
		for _, next := range element.AllStatuses {
			if _, seen := prev[next]; seen || !element.CanTransition(cur, next) {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	return nil
}

// byRequest loads every element of request.
func (e *Engine) byRequest(ctx context.Context, request string) ([]elementstore.Doc, error) {
	return e.store.Query(ctx, elementstore.ByRequest, elementstore.Key(request))
}

func elements(docs []elementstore.Doc) []*element.Element {
	out := make([]*element.Element, len(docs))
	for i, d := range docs {
		out[i] = d.Element
	}
	return out
}
