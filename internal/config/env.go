package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays WQ_* environment variables onto cfg. Malformed values are
// reported and leave the field unchanged.
func FromEnv(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("WQ_QUEUE_NAME", &cfg.Queue.Name)
	str("WQ_QUEUE_KIND", &cfg.Queue.Kind)
	str("WQ_PARENT_URL", &cfg.Queue.ParentURL)
	str("WQ_TEAM", &cfg.Queue.Team)

	str("WQ_STORE_BACKEND", &cfg.Storage.Backend)
	str("WQ_DATA_DIR", &cfg.Storage.DataDir)
	str("WQ_FSYNC", &cfg.Storage.Fsync)
	str("WQ_MONGO_URI", &cfg.Storage.MongoURI)
	str("WQ_MONGO_DATABASE", &cfg.Storage.MongoDatabase)

	dur("WQ_NEGOTIATION_TIMEOUT", &cfg.Engine.NegotiationTimeout)
	dur("WQ_ARCHIVE_DELAY", &cfg.Engine.ArchiveDelay)
	num("WQ_CONFLICT_RETRIES", &cfg.Engine.ConflictRetries)
	str("WQ_END_POLICY", &cfg.Engine.EndPolicy)

	dur("WQ_SYNC_INTERVAL", &cfg.Loops.Sync)
	dur("WQ_CLEANUP_INTERVAL", &cfg.Loops.Cleanup)
	dur("WQ_LOCATION_REFRESH_INTERVAL", &cfg.Loops.LocationRefresh)
	dur("WQ_JOB_FEED_INTERVAL", &cfg.Loops.JobFeed)

	str("WQ_CATALOG_FILE", &cfg.Sources.CatalogFile)
	str("WQ_LOCATIONS_FILE", &cfg.Sources.LocationsFile)
	if v := os.Getenv("WQ_SLOTS"); v != "" {
		slots, err := ParseSlots(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WQ_SLOTS: %w", err))
		} else {
			cfg.Sources.Slots = slots
		}
	}

	str("WQ_HANDOFF", &cfg.Handoff.Kind)
	str("WQ_AMQP_URL", &cfg.Handoff.AMQPURL)
	str("WQ_AMQP_EXCHANGE", &cfg.Handoff.Exchange)
	str("WQ_AMQP_ROUTING_KEY", &cfg.Handoff.RoutingKey)

	str("WQ_GRPC_ADDR", &cfg.Server.GRPCAddr)
	str("WQ_HTTP_ADDR", &cfg.Server.HTTPAddr)
	str("WQ_LOG_LEVEL", &cfg.Log.Level)
	str("WQ_LOG_FORMAT", &cfg.Log.Format)
	str("WQ_TRACING_EXPORTER", &cfg.Tracing.Exporter)
	str("WQ_TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	return errors.Join(errs...)
}

// ParseSlots reads "SiteA=10,SiteB=4".
func ParseSlots(s string) (map[string]int, error) {
	out := map[string]int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		site, n, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want site=slots", part)
		}
		v, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out[strings.TrimSpace(site)] = v
	}
	return out, nil
}
