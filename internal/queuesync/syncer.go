// Package queuesync keeps a local queue in step with its parent: it pulls
// work the local sites can run and pushes local status back up.
package queuesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grafana/dskit/backoff"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/location"
	"github.com/dmwm/workqueue/internal/metrics"
	"github.com/dmwm/workqueue/internal/workqueue"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Parent is the queue work is pulled from. *workqueue.Engine satisfies it
// in-process; the gRPC client satisfies it across processes.
type Parent interface {
	GetWork(ctx context.Context, req workqueue.GetWorkRequest) ([]*element.Element, error)
	// AcquiredBy lists the elements childQueue holds as Acquired.
	AcquiredBy(ctx context.Context, childQueue string) ([]*element.Element, error)
	ApplyChildUpdates(ctx context.Context, childQueue string, updates []workqueue.ChildUpdate) ([]workqueue.ChildUpdateResult, error)
}

// Config tunes a Syncer.
type Config struct {
	// ParentURL is recorded on pulled elements and selects which local
	// elements this syncer reports for. Empty reports every element with a
	// parent.
	ParentURL string
	Team      string
	// PullLimit caps elements per pull. 0 = no limit.
	PullLimit int
	// PushBatch is the number of updates per parent call.
	PushBatch int
	// Retries bounds re-sends of a failed parent call within one cycle.
	Retries    int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.PushBatch <= 0 {
		c.PushBatch = 100
	}
	if c.Retries <= 0 {
		c.Retries = 2
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	return c
}

// Report is the outcome of one cycle.
type Report struct {
	CycleID  string `json:"cycleId"`
	Pulled   int    `json:"pulled"`
	Pushed   int    `json:"pushed"`
	Deferred int    `json:"deferred"`
	Ended    int    `json:"ended"`
}

// Syncer runs synchronization cycles for one local queue.
type Syncer struct {
	local     *workqueue.Engine
	parent    Parent
	resources location.SiteResources
	cfg       Config
	logger    logpkg.Logger
	metrics   *metrics.Metrics
}

// New builds a Syncer. local.Queue() is the name the parent sees as the
// acquiring child queue.
func New(local *workqueue.Engine, parent Parent, resources location.SiteResources, cfg Config, logger logpkg.Logger, m *metrics.Metrics) *Syncer {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Syncer{
		local:     local,
		parent:    parent,
		resources: resources,
		cfg:       cfg.withDefaults(),
		logger:    logger.WithComponent("queuesync").With(logpkg.Str("queue", local.Queue())),
		metrics:   m,
	}
}

// Cycle pulls then pushes. A failed pull ends the cycle before any push.
func (s *Syncer) Cycle(ctx context.Context) (Report, error) {
	rep := Report{CycleID: uuid.NewString()}
	logger := s.logger.With(logpkg.Str("cycle", rep.CycleID))

	pulled, err := s.Pull(ctx)
	rep.Pulled = pulled
	if err != nil {
		s.metrics.SyncCycles.WithLabelValues("pull_error").Inc()
		logger.Warn("sync cycle aborted in pull", logpkg.Err(err))
		return rep, fmt.Errorf("pull: %w", err)
	}
	push, err := s.Push(ctx)
	rep.Pushed, rep.Deferred, rep.Ended = push.Pushed, push.Deferred, push.Ended
	if err != nil {
		s.metrics.SyncCycles.WithLabelValues("push_error").Inc()
		logger.Warn("sync cycle aborted in push", logpkg.Err(err))
		return rep, fmt.Errorf("push: %w", err)
	}
	s.metrics.SyncCycles.WithLabelValues("ok").Inc()
	if rep.Pulled > 0 || rep.Pushed > 0 || rep.Ended > 0 {
		logger.Info("sync cycle done",
			logpkg.Int("pulled", rep.Pulled), logpkg.Int("pushed", rep.Pushed),
			logpkg.Int("deferred", rep.Deferred), logpkg.Int("ended", rep.Ended))
	}
	return rep, nil
}

// Pull acquires work from the parent for the slots not already covered by
// local Available work and stores it locally as Available. Elements the
// parent already holds for this queue without a local copy are stored first.
// It returns how many new local elements were written.
func (s *Syncer) Pull(ctx context.Context) (int, error) {
	recovered, err := s.adopt(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover held work: %w", err)
	}
	n, err := s.pull(ctx)
	return recovered + n, err
}

// adopt copies parent elements acquired by this queue whose pull never
// produced a local copy, either because the response was lost or the local
// write failed.
func (s *Syncer) adopt(ctx context.Context) (int, error) {
	var held []*element.Element
	err := s.retry(ctx, func() error {
		var err error
		held, err = s.parent.AcquiredBy(ctx, s.local.Queue())
		return err
	})
	if err != nil || len(held) == 0 {
		return 0, err
	}
	ids := make([]string, len(held))
	for i, el := range held {
		ids[i] = el.ID
	}
	missing, err := s.local.Uncopied(ctx, ids)
	if err != nil || len(missing) == 0 {
		return 0, err
	}
	lost := make(map[string]bool, len(missing))
	for _, id := range missing {
		lost[id] = true
	}
	var clones []*element.Element
	for _, el := range held {
		if lost[el.ID] {
			clones = append(clones, s.localCopy(el))
		}
	}
	n, err := s.local.Inject(ctx, clones)
	if err != nil {
		return 0, err
	}
	s.metrics.Pulled.Add(float64(n))
	s.logger.Warn("recovered work held without a local copy", logpkg.Int("elements", n))
	return n, nil
}

func (s *Syncer) pull(ctx context.Context) (int, error) {
	slots, err := s.resources.FreeSlotsPerSite(ctx)
	if err != nil {
		return 0, fmt.Errorf("site resources: %w", err)
	}
	backlog, err := s.local.Status(ctx, workqueue.Filter{Statuses: []element.Status{element.Available}})
	if err != nil {
		return 0, fmt.Errorf("local backlog: %w", err)
	}
	budget := remainingSlots(slots, backlog)
	if len(budget) == 0 {
		return 0, nil
	}

	var acquired []*element.Element
	err = s.retry(ctx, func() error {
		var err error
		acquired, err = s.parent.GetWork(ctx, workqueue.GetWorkRequest{
			Slots: budget,
			Queue: s.local.Queue(),
			Team:  s.cfg.Team,
			Limit: s.cfg.PullLimit,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(acquired) == 0 {
		return 0, nil
	}
	clones := make([]*element.Element, len(acquired))
	for i, el := range acquired {
		clones[i] = s.localCopy(el)
	}
	n, err := s.local.Inject(ctx, clones)
	if err != nil {
		s.logger.Error("pulled work not stored locally, recovering next cycle", logpkg.Int("elements", len(clones)), logpkg.Err(err))
		return 0, err
	}
	s.metrics.Pulled.Add(float64(n))
	return n, nil
}

// localCopy turns an element acquired from the parent into a fresh local
// Available element linked back to it.
func (s *Syncer) localCopy(el *element.Element) *element.Element {
	c := el.Clone()
	c.ParentQueueID = el.ID
	c.ParentQueueURL = s.cfg.ParentURL
	c.Status = element.Available
	c.ChildQueue = ""
	c.InsertID = ""
	c.ReportedStatus = element.Acquired
	c.ReportedProgress = el.PercentComplete
	return c
}

// remainingSlots subtracts the jobs of queued local work from the free slots.
// Each backlog element is charged to its allowed site with the most room.
func remainingSlots(slots map[string]int, backlog []*element.Element) map[string]int {
	budget := make(map[string]int, len(slots))
	for site, n := range slots {
		if n > 0 {
			budget[site] = n
		}
	}
	for _, el := range backlog {
		best := ""
		for _, site := range location.Eligible(budget, el.AllowsSite) {
			if best == "" || budget[site] > budget[best] {
				best = site
			}
		}
		if best == "" {
			continue
		}
		budget[best] -= el.Jobs
		if budget[best] <= 0 {
			delete(budget, best)
		}
	}
	return budget
}

// PushReport counts the outcome of one push.
type PushReport struct {
	Pushed   int
	Deferred int
	Ended    int
}

// Push reports local status to the parent and records the answers. Open
// elements are reported even when unchanged so that a cancel on the parent
// reaches the local copy.
func (s *Syncer) Push(ctx context.Context) (PushReport, error) {
	var rep PushReport
	els, err := s.local.Reportable(ctx)
	if err != nil {
		return rep, err
	}
	var pending []*element.Element
	for _, el := range els {
		if s.cfg.ParentURL == "" || el.ParentQueueURL == s.cfg.ParentURL {
			pending = append(pending, el)
		}
	}
	for start := 0; start < len(pending); start += s.cfg.PushBatch {
		stop := min(start+s.cfg.PushBatch, len(pending))
		batch := pending[start:stop]
		updates := make([]workqueue.ChildUpdate, len(batch))
		for i, el := range batch {
			updates[i] = workqueue.ChildUpdate{
				ID:              el.ParentQueueID,
				Status:          el.Status.ParentStatus(),
				PercentComplete: el.PercentComplete,
				PercentSuccess:  el.PercentSuccess,
			}
		}
		var results []workqueue.ChildUpdateResult
		err := s.retry(ctx, func() error {
			var err error
			results, err = s.parent.ApplyChildUpdates(ctx, s.local.Queue(), updates)
			return err
		})
		if err != nil {
			return rep, err
		}
		if len(results) != len(updates) {
			return rep, fmt.Errorf("parent answered %d of %d updates", len(results), len(updates))
		}
		for i, res := range results {
			s.record(ctx, batch[i], updates[i], res, &rep)
		}
	}
	s.metrics.Pushed.Add(float64(rep.Pushed))
	return rep, nil
}

func (s *Syncer) record(ctx context.Context, el *element.Element, sent workqueue.ChildUpdate, res workqueue.ChildUpdateResult, rep *PushReport) {
	switch {
	case res.Deferred:
		rep.Deferred++
		return
	case res.Error != "" && !res.NotOwned:
		rep.Deferred++
		s.logger.Warn("parent rejected update", logpkg.Str("element", el.ID), logpkg.Str("error", res.Error))
		return
	case res.NotOwned:
		s.logger.Warn("parent element held by another queue", logpkg.Str("element", el.ID))
	}
	before := el.Status
	if err := s.local.AcknowledgeReport(ctx, el.ID, sent, res); err != nil {
		rep.Deferred++
		if !errors.Is(err, workqueue.ErrDeferred) {
			s.logger.Warn("report not recorded", logpkg.Str("element", el.ID), logpkg.Err(err))
		}
		return
	}
	if res.Applied {
		rep.Pushed++
	}
	if !before.Terminal() && (res.NotOwned || res.Status == element.Canceled || res.Status == element.Failed) {
		rep.Ended++
	}
}

// retry runs fn until it succeeds, the retries run out or ctx ends.
func (s *Syncer) retry(ctx context.Context, fn func() error) error {
	b := backoff.New(ctx, backoff.Config{
		MinBackoff: s.cfg.MinBackoff,
		MaxBackoff: s.cfg.MaxBackoff,
		MaxRetries: s.cfg.Retries + 1,
	})
	var err error
	for b.Ongoing() {
		if err = fn(); err == nil {
			return nil
		}
		s.logger.Debug("parent call failed", logpkg.Int("attempt", b.NumRetries()+1), logpkg.Err(err))
		b.Wait()
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
