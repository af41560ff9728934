// Package location resolves input references to the sites hosting them and
// exposes the site resource view used by work acquisition.
package location

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Service answers "which sites host this block".
type Service interface {
	LocationsForBlock(ctx context.Context, block string) ([]string, error)
}

// SiteResources reports free job slots per site.
type SiteResources interface {
	FreeSlotsPerSite(ctx context.Context) (map[string]int, error)
}

// Result of one lookup. Known=false means the service could not be reached;
// callers treat it as "no site eligible yet".
type Result struct {
	Sites []string
	Known bool
}

// Observer is notified of lookup outcomes; used for metrics.
type Observer interface {
	ObserveLookup(ok bool)
}

// Resolver wraps a Service with per-pass caching and soft failure.
type Resolver struct {
	svc      Service
	logger   logpkg.Logger
	observer Observer

	failures atomic.Int64
	warn     *rate.Limiter
}

// NewResolver builds a Resolver. Repeated failures are logged at warn level at
// most once per minute and at debug level otherwise.
func NewResolver(svc Service, logger logpkg.Logger) *Resolver {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Resolver{
		svc:    svc,
		logger: logger.WithComponent("location"),
		warn:   rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// WithObserver sets a lookup observer.
func (r *Resolver) WithObserver(o Observer) *Resolver {
	r.observer = o
	return r
}

// NewPass starts a lookup pass. Results are cached only for the pass.
func (r *Resolver) NewPass() *Pass {
	return &Pass{r: r, cache: map[string]Result{}}
}

func (r *Resolver) lookup(ctx context.Context, ref string) Result {
	sites, err := r.svc.LocationsForBlock(ctx, ref)
	if r.observer != nil {
		r.observer.ObserveLookup(err == nil)
	}
	if err != nil {
		n := r.failures.Add(1)
		fields := []logpkg.Field{logpkg.Str("ref", ref), logpkg.Int64("consecutive_failures", n), logpkg.Err(err)}
		if n == 1 || r.warn.Allow() {
			r.logger.Warn("location service unavailable; treating input as unplaced", fields...)
		} else {
			r.logger.Debug("location service still unavailable", fields...)
		}
		return Result{}
	}
	if prev := r.failures.Swap(0); prev > 0 {
		r.logger.Info("location service recovered", logpkg.Int64("failed_lookups", prev))
	}
	out := append([]string(nil), sites...)
	sort.Strings(out)
	return Result{Sites: out, Known: true}
}

// Pass caches lookups for one splitting or refresh pass.
type Pass struct {
	r     *Resolver
	mu    sync.Mutex
	cache map[string]Result
}

// Locations resolves one reference, consulting the service at most once per
// reference for the lifetime of the pass.
func (p *Pass) Locations(ctx context.Context, ref string) Result {
	p.mu.Lock()
	if res, ok := p.cache[ref]; ok {
		p.mu.Unlock()
		return res
	}
	p.mu.Unlock()

	res := p.r.lookup(ctx, ref)

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.cache[ref]; ok {
		return cached
	}
	p.cache[ref] = res
	return res
}

// Resolve resolves every distinct reference in refs.
func (p *Pass) Resolve(ctx context.Context, refs []string) map[string]Result {
	out := make(map[string]Result, len(refs))
	for _, ref := range refs {
		if _, ok := out[ref]; ok {
			continue
		}
		out[ref] = p.Locations(ctx, ref)
	}
	return out
}

// Eligible returns the sites in slots that have free capacity and pass allow.
func Eligible(slots map[string]int, allow func(site string) bool) []string {
	out := make([]string, 0, len(slots))
	for site, n := range slots {
		if n > 0 && allow(site) {
			out = append(out, site)
		}
	}
	sort.Strings(out)
	return out
}
