package handoff

import (
	"context"
	"fmt"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/location"
	"github.com/dmwm/workqueue/internal/metrics"
	"github.com/dmwm/workqueue/internal/workqueue"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// FeederConfig tunes a Feeder.
type FeederConfig struct {
	// Consumer is the child queue name recorded on elements handed to job
	// creation.
	Consumer string
	Team     string
	Limit    int
}

// Feeder acquires local work within the site slot budget and hands it to
// job creation. Delivered elements move to Running; elements acquired but
// not delivered are retried on the next run.
type Feeder struct {
	engine    *workqueue.Engine
	resources location.SiteResources
	out       Handoff
	cfg       FeederConfig
	logger    logpkg.Logger
	metrics   *metrics.Metrics
}

func NewFeeder(engine *workqueue.Engine, resources location.SiteResources, out Handoff, cfg FeederConfig, logger logpkg.Logger, m *metrics.Metrics) *Feeder {
	if cfg.Consumer == "" {
		cfg.Consumer = engine.Queue() + "/jobs"
	}
	if logger == nil {
		logger = logpkg.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Feeder{engine: engine, resources: resources, out: out, cfg: cfg, logger: logger.WithComponent("feeder"), metrics: m}
}

// RunOnce performs one acquisition and delivery pass and returns how many
// elements were delivered.
func (f *Feeder) RunOnce(ctx context.Context) (int, error) {
	pending, err := f.engine.Status(ctx, workqueue.Filter{
		Statuses: []element.Status{element.Acquired},
		Expr:     fmt.Sprintf("child_queue == %q", f.cfg.Consumer),
	})
	if err != nil {
		return 0, fmt.Errorf("undelivered work: %w", err)
	}
	slots, err := f.resources.FreeSlotsPerSite(ctx)
	if err != nil {
		return 0, fmt.Errorf("site resources: %w", err)
	}
	fresh, err := f.engine.GetWork(ctx, workqueue.GetWorkRequest{
		Slots: slots,
		Queue: f.cfg.Consumer,
		Team:  f.cfg.Team,
		Limit: f.cfg.Limit,
	})
	if err != nil {
		return 0, err
	}
	batch := append(pending, fresh...)
	if len(batch) == 0 {
		return 0, nil
	}
	if err := f.out.Deliver(ctx, batch); err != nil {
		f.logger.Warn("handoff failed; retrying next run", logpkg.Int("elements", len(batch)), logpkg.Err(err))
		return 0, err
	}
	ids := make([]string, len(batch))
	for i, el := range batch {
		ids[i] = el.ID
	}
	updated, err := f.engine.UpdateStatus(ctx, ids, element.Running, nil)
	f.metrics.Delivered.Add(float64(len(batch)))
	f.logger.Info("work handed to job creation", logpkg.Int("elements", len(batch)), logpkg.Int("redelivered", len(pending)))
	if err != nil {
		// delivered but still Acquired: the next run delivers them again
		f.logger.Warn("delivered elements not marked running", logpkg.Int("marked", len(updated)), logpkg.Err(err))
	}
	return len(batch), nil
}
