package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmwm/workqueue/internal/observability"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

const (
	KindGlobal = "global"
	KindLocal  = "local"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Queue   QueueConfig                 `json:"queue" yaml:"queue"`
	Storage StorageConfig               `json:"storage" yaml:"storage"`
	Engine  EngineConfig                `json:"engine" yaml:"engine"`
	Loops   LoopsConfig                 `json:"loops" yaml:"loops"`
	Sources SourcesConfig               `json:"sources" yaml:"sources"`
	Handoff HandoffConfig               `json:"handoff" yaml:"handoff"`
	Server  ServerConfig                `json:"server" yaml:"server"`
	Log     logpkg.Config               `json:"log" yaml:"log"`
	Tracing observability.TracingConfig `json:"tracing" yaml:"tracing"`
}

// QueueConfig names the queue and its place in the hierarchy.
type QueueConfig struct {
	Name string `json:"name" yaml:"name"`
	// Kind is global (accepts requests) or local (pulls from ParentURL).
	Kind      string `json:"kind" yaml:"kind"`
	ParentURL string `json:"parentUrl,omitempty" yaml:"parentUrl,omitempty"`
	Team      string `json:"team,omitempty" yaml:"team,omitempty"`
}

type StorageConfig struct {
	// Backend is pebble or mongo.
	Backend string `json:"backend" yaml:"backend"`
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is always, interval or never.
	Fsync         string `json:"fsync,omitempty" yaml:"fsync,omitempty"`
	MongoURI      string `json:"mongoUri,omitempty" yaml:"mongoUri,omitempty"`
	MongoDatabase string `json:"mongoDatabase,omitempty" yaml:"mongoDatabase,omitempty"`
}

type EngineConfig struct {
	NegotiationTimeout Duration `json:"negotiationTimeout" yaml:"negotiationTimeout"`
	ArchiveDelay       Duration `json:"archiveDelay" yaml:"archiveDelay"`
	ConflictRetries    int      `json:"conflictRetries" yaml:"conflictRetries"`
	ChunkSize          int      `json:"chunkSize" yaml:"chunkSize"`
	DatasetMaxFiles    int      `json:"datasetMaxFiles" yaml:"datasetMaxFiles"`
	// EndPolicy names the policy deriving request status.
	EndPolicy string `json:"endPolicy,omitempty" yaml:"endPolicy,omitempty"`
}

// LoopsConfig sets the polling intervals. A zero interval disables the loop.
type LoopsConfig struct {
	Sync            Duration `json:"sync" yaml:"sync"`
	Cleanup         Duration `json:"cleanup" yaml:"cleanup"`
	LocationRefresh Duration `json:"locationRefresh" yaml:"locationRefresh"`
	JobFeed         Duration `json:"jobFeed" yaml:"jobFeed"`
}

// SourcesConfig points at the external views the queue consults. The
// static files stand in for the data catalog, the location service and the
// site resource monitor.
type SourcesConfig struct {
	CatalogFile   string         `json:"catalogFile,omitempty" yaml:"catalogFile,omitempty"`
	LocationsFile string         `json:"locationsFile,omitempty" yaml:"locationsFile,omitempty"`
	Slots         map[string]int `json:"slots,omitempty" yaml:"slots,omitempty"`
}

type HandoffConfig struct {
	// Kind is feed, amqp or none.
	Kind          string   `json:"kind" yaml:"kind"`
	AMQPURL       string   `json:"amqpUrl,omitempty" yaml:"amqpUrl,omitempty"`
	Exchange      string   `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	RoutingKey    string   `json:"routingKey,omitempty" yaml:"routingKey,omitempty"`
	FeedRetention Duration `json:"feedRetention,omitempty" yaml:"feedRetention,omitempty"`
	FeedMaxBytes  int64    `json:"feedMaxBytes,omitempty" yaml:"feedMaxBytes,omitempty"`
	Consumer      string   `json:"consumer,omitempty" yaml:"consumer,omitempty"`
}

type ServerConfig struct {
	GRPCAddr string `json:"grpcAddr" yaml:"grpcAddr"`
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Queue:   QueueConfig{Name: "global", Kind: KindGlobal},
		Storage: StorageConfig{Backend: "pebble", DataDir: DefaultDataDir(), MongoDatabase: "workqueue"},
		Engine: EngineConfig{
			NegotiationTimeout: Duration(300 * time.Second),
			ArchiveDelay:       Duration(24 * time.Hour),
			ConflictRetries:    3,
			ChunkSize:          500,
			DatasetMaxFiles:    100,
			EndPolicy:          "SingleShot",
		},
		Loops: LoopsConfig{
			Sync:            Duration(time.Minute),
			Cleanup:         Duration(5 * time.Minute),
			LocationRefresh: Duration(10 * time.Minute),
			JobFeed:         Duration(time.Minute),
		},
		Handoff: HandoffConfig{Kind: "feed", FeedRetention: Duration(7 * 24 * time.Hour)},
		Server:  ServerConfig{GRPCAddr: ":9090", HTTPAddr: ":8080"},
		Log:     logpkg.Config{Level: "info", Format: "json"},
		Tracing: observability.TracingConfig{Exporter: "none", Ratio: 1},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings the runtime relies on.
func (c Config) Validate() error {
	var errs []error
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	switch c.Queue.Kind {
	case KindGlobal:
	case KindLocal:
		if c.Queue.ParentURL == "" {
			errs = append(errs, errors.New("queue.parentUrl is required for a local queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.kind %q: use global or local", c.Queue.Kind))
	}
	switch c.Storage.Backend {
	case "pebble":
		if c.Storage.DataDir == "" {
			errs = append(errs, errors.New("storage.dataDir is required for pebble"))
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("storage.mongoUri is required for mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: use pebble or mongo", c.Storage.Backend))
	}
	switch c.Handoff.Kind {
	case "", "none":
	case "feed":
		if c.Storage.Backend != "pebble" {
			errs = append(errs, errors.New("handoff.kind feed needs the pebble backend"))
		}
	case "amqp":
		if c.Handoff.AMQPURL == "" || c.Handoff.RoutingKey == "" {
			errs = append(errs, errors.New("handoff.amqpUrl and handoff.routingKey are required for amqp"))
		}
	default:
		errs = append(errs, fmt.Errorf("handoff.kind %q: use feed, amqp or none", c.Handoff.Kind))
	}
	for name, d := range map[string]Duration{
		"loops.sync": c.Loops.Sync, "loops.cleanup": c.Loops.Cleanup,
		"loops.locationRefresh": c.Loops.LocationRefresh, "loops.jobFeed": c.Loops.JobFeed,
		"engine.negotiationTimeout": c.Engine.NegotiationTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	for site, n := range c.Sources.Slots {
		if n < 0 {
			errs = append(errs, fmt.Errorf("sources.slots[%s] must not be negative", site))
		}
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration written as "90s" or "5m" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
