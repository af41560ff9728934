package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmwm/workqueue/internal/runtime"
	"github.com/dmwm/workqueue/internal/services/workqueues"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// Server owns the gRPC server instance and runtime.
type Server struct {
	rt     *runtime.Runtime
	svc    *workqueues.Service
	health *health.Server
	grpc   *grpc.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New constructs a gRPC server and registers services.
func New(rt *runtime.Runtime, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	logger = logger.WithComponent("grpc")
	s := &Server{
		rt:     rt,
		svc:    workqueues.New(rt, logger),
		health: health.NewServer(),
		logger: logger,
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.logCalls)}, opts...)
	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&serviceDesc, &handler{svc: s.svc, logger: logger})
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// logCalls logs failed calls and slow ones.
func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, h grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := h(ctx, req)
	elapsed := time.Since(start)
	switch {
	case err != nil:
		s.logger.Debug("rpc failed", logpkg.Str("method", info.FullMethod), logpkg.Dur("elapsed", elapsed), logpkg.Err(err))
	case elapsed > time.Second:
		s.logger.Info("slow rpc", logpkg.Str("method", info.FullMethod), logpkg.Dur("elapsed", elapsed))
	}
	return resp, err
}

// GRPC exposes the underlying server, e.g. for serving on a custom listener.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("grpc listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	go s.watchHealth(ctx, healthInterval)
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
