package grpcserver

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	logpkg "github.com/dmwm/workqueue/pkg/log"
)

const healthInterval = 5 * time.Second

// SetServing flips the reported health of the queue service.
func (s *Server) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// watchHealth mirrors the runtime health check into the health service
// until ctx is done.
func (s *Server) watchHealth(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := s.rt.CheckHealth(ctx)
		if ok := err == nil; ok != healthy {
			healthy = ok
			s.SetServing(ok)
			if !ok {
				s.logger.Warn("queue unhealthy", logpkg.Err(err))
			} else {
				s.logger.Info("queue healthy again")
			}
		}
	}
}
