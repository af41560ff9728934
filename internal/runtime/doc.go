// Package runtime wires storage, config, the queue engine and its polling
// loops into one queue process. It exposes Open/Start/Close, health checks
// and accessors for the server and CLI layers.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	defer rt.Close()
//	_ = rt.Start(ctx)
//	ids, _ := rt.Engine().QueueWork(ctx, wl, "production")
package runtime
