package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/dmwm/workqueue/internal/services/workqueues"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "workqueue.v1.WorkQueue"

// Method names.
const (
	MethodQueueWork         = "QueueWork"
	MethodGetWork           = "GetWork"
	MethodAcquiredBy        = "AcquiredBy"
	MethodApplyChildUpdates = "ApplyChildUpdates"
	MethodStatus            = "Status"
	MethodSummary           = "Summary"
	MethodSetPriority       = "SetPriority"
	MethodCancelWork        = "CancelWork"
	MethodUpdateStatus      = "UpdateStatus"
	MethodCleanup           = "Cleanup"
	MethodRefreshLocations  = "RefreshLocations"
	MethodSync              = "Sync"
	MethodFeedOnce          = "FeedOnce"
	MethodReadFeed          = "ReadFeed"
	MethodAckFeed           = "AckFeed"
	MethodSetSlots          = "SetSlots"
	MethodInfo              = "Info"
	StreamTailFeed          = "TailFeed"
)

// FullMethod returns the RPC path of method.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// queueServer is the handler type the descriptor is registered with.
type queueServer interface {
	service() *workqueues.Service
}

type handler struct {
	svc    *workqueues.Service
	logger logpkg.Logger
}

func (h *handler) service() *workqueues.Service { return h.svc }

func unary[Req, Resp any](name string, call func(*workqueues.Service, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, r any) (any, error) {
				resp, err := call(srv.(queueServer).service(), ctx, *r.(*Req))
				if err != nil {
					return nil, ToStatus(err)
				}
				return &resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, req)
			}
			return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, invoke)
		},
	}
}

func noArgs[Resp any](fn func(*workqueues.Service, context.Context) (Resp, error)) func(*workqueues.Service, context.Context, workqueues.Empty) (Resp, error) {
	return func(s *workqueues.Service, ctx context.Context, _ workqueues.Empty) (Resp, error) { return fn(s, ctx) }
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*queueServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodQueueWork, (*workqueues.Service).QueueWork),
		unary(MethodGetWork, (*workqueues.Service).GetWork),
		unary(MethodAcquiredBy, (*workqueues.Service).AcquiredBy),
		unary(MethodApplyChildUpdates, (*workqueues.Service).ApplyChildUpdates),
		unary(MethodStatus, (*workqueues.Service).Status),
		unary(MethodSummary, (*workqueues.Service).Summary),
		unary(MethodSetPriority, (*workqueues.Service).SetPriority),
		unary(MethodCancelWork, (*workqueues.Service).CancelWork),
		unary(MethodUpdateStatus, (*workqueues.Service).UpdateStatus),
		unary(MethodCleanup, noArgs((*workqueues.Service).Cleanup)),
		unary(MethodRefreshLocations, noArgs((*workqueues.Service).RefreshLocations)),
		unary(MethodSync, noArgs((*workqueues.Service).Sync)),
		unary(MethodFeedOnce, noArgs((*workqueues.Service).FeedOnce)),
		unary(MethodReadFeed, (*workqueues.Service).ReadFeed),
		unary(MethodAckFeed, (*workqueues.Service).AckFeed),
		unary(MethodSetSlots, (*workqueues.Service).SetSlots),
		unary(MethodInfo, noArgs((*workqueues.Service).Info)),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    StreamTailFeed,
		ServerStreams: true,
		Handler:       tailFeed,
	}},
	Metadata: "workqueue/v1/workqueue.json",
}

// TailFeedRequest starts a feed tail for a consumer group. With AutoAck the
// cursor follows each sent delivery.
type TailFeedRequest struct {
	Group   string `json:"group"`
	Limit   int    `json:"limit,omitempty"`
	AutoAck bool   `json:"autoAck,omitempty"`
}

const tailPollWait = 5 * time.Second

// tailFeed streams feed deliveries until the client goes away.
func tailFeed(srv any, stream grpc.ServerStream) error {
	svc := srv.(queueServer).service()
	var req TailFeedRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	ctx := stream.Context()
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	// without AutoAck the tail keeps its own position past the cursor
	var after uint64
	for ctx.Err() == nil {
		resp, err := svc.ReadFeed(ctx, workqueues.FeedReadRequest{
			Group: req.Group, After: after, Limit: limit, WaitMs: tailPollWait.Milliseconds(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return ToStatus(err)
		}
		for i := range resp.Deliveries {
			d := &resp.Deliveries[i]
			if err := stream.SendMsg(d); err != nil {
				return err
			}
			after = d.Seq
			if req.AutoAck {
				if _, err := svc.AckFeed(ctx, workqueues.FeedAckRequest{Group: req.Group, Seq: d.Seq}); err != nil {
					return ToStatus(err)
				}
			}
		}
	}
	return nil
}
