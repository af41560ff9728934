// Package config loads queue process configuration. It exposes a Default()
// baseline, file loading (JSON or YAML by extension) and a WQ_* environment
// overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/workqueue/agent1.yaml")
//	if err != nil { ... }
//	if err := config.FromEnv(&cfg); err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
package config
