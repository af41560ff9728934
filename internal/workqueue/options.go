package workqueue

import (
	"time"

	"github.com/dmwm/workqueue/internal/metrics"
	"github.com/dmwm/workqueue/internal/policy/end"
	"github.com/dmwm/workqueue/internal/policy/splitting"
	"github.com/dmwm/workqueue/internal/policy/start"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Options configure an Engine. Zero values take the defaults below.
type Options struct {
	// Queue is this queue's name; it is recorded on elements this queue pulls
	// from its parent.
	Queue string

	NegotiationTimeout time.Duration
	ArchiveDelay       time.Duration

	// ConflictRetries bounds re-reads after a lost revision check.
	ConflictRetries int
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration

	// ChunkSize caps elements per splitting call; DatasetMaxFiles is the Auto
	// start policy threshold.
	ChunkSize       int
	DatasetMaxFiles int

	Splitters     *splitting.Registry
	StartPolicies *start.Registry
	EndPolicy     end.Policy

	Logger  logpkg.Logger
	Metrics *metrics.Metrics
	// Now is the engine clock.
	Now func() time.Time
}

const (
	DefaultNegotiationTimeout = 300 * time.Second
	DefaultArchiveDelay       = 24 * time.Hour
	DefaultConflictRetries    = 3
	DefaultChunkSize          = 500
	DefaultDatasetMaxFiles    = 100
)

func (o Options) withDefaults() Options {
	if o.Queue == "" {
		o.Queue = "global"
	}
	if o.NegotiationTimeout <= 0 {
		o.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if o.ArchiveDelay <= 0 {
		o.ArchiveDelay = DefaultArchiveDelay
	}
	if o.ConflictRetries <= 0 {
		o.ConflictRetries = DefaultConflictRetries
	}
	if o.RetryMinBackoff <= 0 {
		o.RetryMinBackoff = 5 * time.Millisecond
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = 200 * time.Millisecond
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.DatasetMaxFiles <= 0 {
		o.DatasetMaxFiles = DefaultDatasetMaxFiles
	}
	if o.Splitters == nil {
		o.Splitters = splitting.DefaultRegistry()
	}
	if o.StartPolicies == nil {
		o.StartPolicies = start.DefaultRegistry(o.Splitters, o.ChunkSize, o.DatasetMaxFiles)
	}
	if o.EndPolicy == nil {
		o.EndPolicy = end.SingleShot{ArchiveDelay: o.ArchiveDelay}
	}
	if o.Logger == nil {
		o.Logger = logpkg.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
