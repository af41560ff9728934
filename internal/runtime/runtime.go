package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"

	cfgpkg "github.com/dmwm/workqueue/internal/config"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/elementstore/mongostore"
	"github.com/dmwm/workqueue/internal/elementstore/pebblekv"
	"github.com/dmwm/workqueue/internal/eventlog"
	"github.com/dmwm/workqueue/internal/handoff"
	"github.com/dmwm/workqueue/internal/location"
	"github.com/dmwm/workqueue/internal/metrics"
	"github.com/dmwm/workqueue/internal/namespace"
	"github.com/dmwm/workqueue/internal/policy/end"
	"github.com/dmwm/workqueue/internal/queuesync"
	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// Registry receives the queue's collectors. A fresh registry is used
	// when nil.
	Registry *prometheus.Registry
	// Parent is the queue a local queue pulls from. Required when
	// Config.Queue.Kind is local.
	Parent queuesync.Parent
	// Handoff overrides the handoff built from Config.Handoff.
	Handoff handoff.Handoff
	// InMemory keeps the pebble store in memory.
	InMemory bool
	Now      func() time.Time
}

// Runtime wires storage, config, and the engine for one queue process.
type Runtime struct {
	cfg    cfgpkg.Config
	logger logpkg.Logger
	now    func() time.Time

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	db    *pebblestore.DB
	store elementstore.Store
	meta  namespace.Meta

	catalog   *workload.StaticCatalog
	locations *location.StaticService
	resources *location.StaticResources

	engine *workqueue.Engine
	syncer *queuesync.Syncer
	feed   *eventlog.Log
	out    handoff.Handoff
	feeder *handoff.Feeder

	manager *services.Manager
	watcher *services.FailureWatcher
}

// Open builds the store and the queue components. Loops are not started
// until Start.
func Open(ctx context.Context, opts Options) (_ *Runtime, err error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Runtime{
		cfg:      cfg,
		logger:   logger.WithComponent("runtime").With(logpkg.Str("queue", cfg.Queue.Name)),
		now:      now,
		registry: reg,
		metrics:  metrics.New(reg, cfg.Queue.Name),
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if err := r.openStore(ctx, opts.InMemory); err != nil {
		return nil, err
	}
	if err := r.openSources(); err != nil {
		return nil, err
	}

	// A local queue keeps the sites its parent resolved unless it is given
	// its own location view.
	var resolver *location.Resolver
	if cfg.Queue.Kind == cfgpkg.KindGlobal || cfg.Sources.LocationsFile != "" {
		resolver = location.NewResolver(r.locations, logger).WithObserver(r.metrics)
	}
	endPolicy, err := end.DefaultRegistry(cfg.Engine.ArchiveDelay.Std()).Get(cfg.Engine.EndPolicy)
	if err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	r.engine = workqueue.New(r.store, r.catalog, resolver, workqueue.Options{
		Queue:              cfg.Queue.Name,
		NegotiationTimeout: cfg.Engine.NegotiationTimeout.Std(),
		ArchiveDelay:       cfg.Engine.ArchiveDelay.Std(),
		ConflictRetries:    cfg.Engine.ConflictRetries,
		ChunkSize:          cfg.Engine.ChunkSize,
		DatasetMaxFiles:    cfg.Engine.DatasetMaxFiles,
		EndPolicy:          endPolicy,
		Logger:             logger,
		Metrics:            r.metrics,
		Now:                now,
	})

	if cfg.Queue.Kind == cfgpkg.KindLocal {
		if opts.Parent == nil {
			return nil, errors.New("runtime: a local queue needs a parent")
		}
		r.syncer = queuesync.New(r.engine, opts.Parent, r.resources, queuesync.Config{
			ParentURL: cfg.Queue.ParentURL,
			Team:      cfg.Queue.Team,
		}, logger, r.metrics)
		if err := r.openHandoff(opts.Handoff); err != nil {
			return nil, err
		}
	}
	r.logger.Info("runtime opened",
		logpkg.Str("kind", cfg.Queue.Kind),
		logpkg.Str("backend", cfg.Storage.Backend),
		logpkg.Str("handoff", cfg.Handoff.Kind))
	return r, nil
}

func (r *Runtime) openStore(ctx context.Context, inMemory bool) error {
	switch r.cfg.Storage.Backend {
	case "mongo":
		s, err := mongostore.Connect(ctx, r.cfg.Storage.MongoURI, r.cfg.Storage.MongoDatabase, r.cfg.Queue.Name)
		if err != nil {
			return err
		}
		r.store = s
		r.meta = namespace.Meta{Name: r.cfg.Queue.Name, Kind: r.cfg.Queue.Kind, ParentURL: r.cfg.Queue.ParentURL}
		return nil
	default:
		fsync, err := pebblestore.ParseFsyncMode(r.cfg.Storage.Fsync)
		if err != nil {
			return err
		}
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir:  r.cfg.Storage.DataDir,
			InMemory: inMemory,
			Fsync:    fsync,
			Metrics:  r.metrics,
		})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		r.db = db
		r.store = pebblekv.New(db, r.cfg.Queue.Name)
		r.meta, err = namespace.Ensure(db, namespace.Meta{
			Name:      r.cfg.Queue.Name,
			Kind:      r.cfg.Queue.Kind,
			ParentURL: r.cfg.Queue.ParentURL,
		}, r.now())
		return err
	}
}

func (r *Runtime) openSources() error {
	var err error
	r.catalog = workload.NewStaticCatalog(nil)
	if path := r.cfg.Sources.CatalogFile; path != "" {
		if r.catalog, err = workload.LoadCatalogFile(path); err != nil {
			return err
		}
	}
	r.locations = location.NewStaticService(nil)
	if path := r.cfg.Sources.LocationsFile; path != "" {
		if r.locations, err = location.LoadLocationsFile(path); err != nil {
			return err
		}
	}
	r.resources = location.NewStaticResources(r.cfg.Sources.Slots)
	return nil
}

func (r *Runtime) openHandoff(override handoff.Handoff) error {
	out := override
	if out == nil {
		switch r.cfg.Handoff.Kind {
		case "feed":
			log, err := eventlog.Open(r.db, r.cfg.Queue.Name, handoff.FeedTopic,
				eventlog.WithClock(r.now), eventlog.WithTrimHook(trimLogger{r.logger}))
			if err != nil {
				return fmt.Errorf("open feed: %w", err)
			}
			r.feed = log
			out = handoff.NewFeed(log, r.cfg.Queue.Name)
		case "amqp":
			a, err := handoff.DialAMQP(handoff.AMQPConfig{
				URL:        r.cfg.Handoff.AMQPURL,
				Exchange:   r.cfg.Handoff.Exchange,
				RoutingKey: r.cfg.Handoff.RoutingKey,
			}, r.cfg.Queue.Name, r.logger)
			if err != nil {
				return err
			}
			out = a
		default:
			return nil
		}
	}
	r.out = out
	r.feeder = handoff.NewFeeder(r.engine, r.resources, out, handoff.FeederConfig{
		Consumer: r.cfg.Handoff.Consumer,
		Team:     r.cfg.Queue.Team,
	}, r.logger, r.metrics)
	return nil
}

type trimLogger struct{ logger logpkg.Logger }

func (t trimLogger) Trimmed(topic string, minSeq, maxSeq uint64) {
	t.logger.Debug("feed trimmed",
		logpkg.Str("topic", topic),
		logpkg.Int64("min_seq", int64(minSeq)),
		logpkg.Int64("max_seq", int64(maxSeq)))
}

// Close stops the loops and closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.manager != nil {
		if err := services.StopManagerAndAwaitStopped(context.Background(), r.manager); err != nil {
			errs = append(errs, err)
		}
		r.manager = nil
	}
	if r.out != nil {
		errs = append(errs, r.out.Close())
		r.out = nil
	}
	if c, ok := r.store.(io.Closer); ok {
		errs = append(errs, c.Close())
		r.store = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth performs a simple health check: the store answers a query
// and no loop has failed.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.store == nil {
		return errors.New("store not open")
	}
	if _, err := r.store.Query(ctx, elementstore.ByStatus, elementstore.Key("Available")); err != nil {
		return err
	}
	if r.manager != nil && !r.manager.IsHealthy() {
		return errors.New("queue loops not running")
	}
	return nil
}

// Engine returns the queue engine.
func (r *Runtime) Engine() *workqueue.Engine { return r.engine }

// Syncer returns the parent synchronizer, nil on a global queue.
func (r *Runtime) Syncer() *queuesync.Syncer { return r.syncer }

// Feeder returns the job feeder, nil when no handoff is configured.
func (r *Runtime) Feeder() *handoff.Feeder { return r.feeder }

// Feed returns the pebble handoff feed, nil unless handoff.kind is feed.
func (r *Runtime) Feed() *eventlog.Log { return r.feed }

func (r *Runtime) Catalog() *workload.StaticCatalog     { return r.catalog }
func (r *Runtime) Locations() *location.StaticService   { return r.locations }
func (r *Runtime) Resources() *location.StaticResources { return r.resources }

// Registry returns the registry the queue collectors are registered with.
func (r *Runtime) Registry() *prometheus.Registry { return r.registry }

// Metrics returns the queue collectors.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Meta returns the queue identity.
func (r *Runtime) Meta() namespace.Meta { return r.meta }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.cfg }
