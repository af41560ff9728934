// Package httpserver provides a JSON gateway for a work queue, including an
// SSE tail of the job handoff feed. Prometheus metrics are served at
// /metrics and the dashboard under /ui/.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: cfg})
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
