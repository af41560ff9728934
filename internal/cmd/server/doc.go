// Package serverrun exposes the Run entrypoint used by the CLI to start a
// work queue with its gRPC and HTTP servers, handling lifecycle and shutdown.
//
// Example:
//
//	cfg, _ := serverrun.LoadConfig("workqueue.yaml")
//	_ = serverrun.Run(ctx, serverrun.Options{Config: cfg})
package serverrun
