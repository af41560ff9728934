package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/grafana/dskit/services"

	logpkg "github.com/dmwm/workqueue/pkg/log"
)

const feedTrimBatch = 1000

// loop is one periodic task. Iteration errors are logged and do not stop
// the loop; only context cancellation does.
type loop struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (r *Runtime) loops() []loop {
	c := r.cfg.Loops
	ls := []loop{
		{"cleanup", c.Cleanup.Std(), r.cleanupOnce},
		{"location-refresh", c.LocationRefresh.Std(), r.refreshOnce},
	}
	if r.syncer != nil {
		ls = append(ls, loop{"sync", c.Sync.Std(), r.syncOnce})
	}
	if r.feeder != nil {
		ls = append(ls, loop{"job-feed", c.JobFeed.Std(), r.feedOnce})
	}
	if r.feed != nil {
		ls = append(ls, loop{"feed-trim", c.Cleanup.Std(), r.trimFeedOnce})
	}
	return ls
}

// Start launches the polling loops as timer services and waits until they
// are running. Loops with a zero interval are not started.
func (r *Runtime) Start(ctx context.Context) error {
	if r.manager != nil {
		return errors.New("runtime: already started")
	}
	var svcs []services.Service
	for _, l := range r.loops() {
		if l.interval <= 0 {
			r.logger.Info("loop disabled", logpkg.Str("loop", l.name))
			continue
		}
		svcs = append(svcs, services.NewTimerService(l.interval, nil, r.iteration(l), nil).WithName(l.name))
	}
	if len(svcs) == 0 {
		return nil
	}
	m, err := services.NewManager(svcs...)
	if err != nil {
		return err
	}
	r.watcher = services.NewFailureWatcher()
	r.watcher.WatchManager(m)
	if err := services.StartManagerAndAwaitHealthy(ctx, m); err != nil {
		return err
	}
	r.manager = m
	return nil
}

// Failures reports loops that stopped unexpectedly. It is nil before Start.
func (r *Runtime) Failures() <-chan error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Chan()
}

func (r *Runtime) iteration(l loop) func(ctx context.Context) error {
	logger := r.logger.With(logpkg.Str("loop", l.name))
	return func(ctx context.Context) error {
		start := time.Now()
		if err := l.run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("loop iteration failed", logpkg.Err(err), logpkg.Dur("elapsed", time.Since(start)))
		}
		return nil
	}
}

func (r *Runtime) cleanupOnce(ctx context.Context) error {
	rep, err := r.engine.PerformQueueCleanupActions(ctx)
	if err != nil {
		return err
	}
	if rep.Expired+rep.Finalized+rep.Purged > 0 {
		r.logger.Info("cleanup",
			logpkg.Int("expired", rep.Expired),
			logpkg.Int("finalized", rep.Finalized),
			logpkg.Int("purged", rep.Purged))
	}
	return nil
}

func (r *Runtime) refreshOnce(ctx context.Context) error {
	n, err := r.engine.RefreshLocations(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Debug("locations refreshed", logpkg.Int("updated", n))
	}
	return nil
}

func (r *Runtime) syncOnce(ctx context.Context) error {
	_, err := r.syncer.Cycle(ctx)
	return err
}

func (r *Runtime) feedOnce(ctx context.Context) error {
	_, err := r.feeder.RunOnce(ctx)
	return err
}

func (r *Runtime) trimFeedOnce(ctx context.Context) error {
	if keep := r.cfg.Handoff.FeedRetention.Std(); keep > 0 {
		if _, _, err := r.feed.TrimOlderThan(ctx, r.now().Add(-keep), feedTrimBatch); err != nil {
			return err
		}
	}
	if limit := r.cfg.Handoff.FeedMaxBytes; limit > 0 {
		if _, err := r.feed.TrimToMaxBytes(ctx, limit, feedTrimBatch); err != nil {
			return err
		}
	}
	return nil
}

// RunLoopsOnce runs every configured loop body once, in order, regardless
// of interval. It backs the CLI's one-shot maintenance commands and tests.
func (r *Runtime) RunLoopsOnce(ctx context.Context) error {
	var errs []error
	for _, l := range r.loops() {
		if err := l.run(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
