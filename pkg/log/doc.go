// Package log provides the structured logging facade used across the queue.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. It is backed by zap; callers never
// import zap directly.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormat("text"),
//	)
//	l = l.With(log.Component("engine"), log.Str("queue", "global"))
//	l.Info("queue opened", log.Int("elements", 42))
//
// # Configuration
//
// Use ApplyConfig to build a logger from a declarative Config. Sampling drops
// repeated identical messages after an initial burst, which keeps noisy paths
// such as an unreachable location service from flooding the output.
//
// # Interop
//
// RedirectStdLog routes the standard library logger (used by Pebble) into a
// facade logger.
package log
