// Package transports provides transport implementations for the CLI and
// for child queues reaching their parent.
package transports

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/handoff"
	grpcserver "github.com/dmwm/workqueue/internal/server/grpc"
	"github.com/dmwm/workqueue/internal/services/workqueues"
	"github.com/dmwm/workqueue/internal/workqueue"
)

// GrpcTransport implements QueueTransport over one gRPC connection.
type GrpcTransport struct {
	conn *grpc.ClientConn
}

var _ QueueTransport = (*GrpcTransport)(nil)

// DialGrpc connects to a queue at target without transport security.
func DialGrpc(target string, opts ...grpc.DialOption) (*GrpcTransport, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return NewGrpcTransport(conn), nil
}

// NewGrpcTransport wraps an existing connection. Close closes conn.
func NewGrpcTransport(conn *grpc.ClientConn) *GrpcTransport {
	return &GrpcTransport{conn: conn}
}

func (t *GrpcTransport) Close() error { return t.conn.Close() }

func (t *GrpcTransport) invoke(ctx context.Context, method string, req, resp any) error {
	err := t.conn.Invoke(ctx, grpcserver.FullMethod(method), req, resp, grpc.CallContentSubtype(grpcserver.CodecName))
	return grpcserver.FromStatus(err)
}

// GetWork acquires elements from the remote queue for req.Queue.
func (t *GrpcTransport) GetWork(ctx context.Context, req workqueue.GetWorkRequest) ([]*element.Element, error) {
	var resp workqueues.ElementsResponse
	err := t.invoke(ctx, grpcserver.MethodGetWork, &req, &resp)
	return resp.Elements, err
}

// AcquiredBy lists the remote queue's elements held as Acquired by childQueue.
func (t *GrpcTransport) AcquiredBy(ctx context.Context, childQueue string) ([]*element.Element, error) {
	var resp workqueues.ElementsResponse
	err := t.invoke(ctx, grpcserver.MethodAcquiredBy, &workqueues.AcquiredByRequest{Queue: childQueue}, &resp)
	return resp.Elements, err
}

// ApplyChildUpdates reports child status to the remote queue.
func (t *GrpcTransport) ApplyChildUpdates(ctx context.Context, childQueue string, updates []workqueue.ChildUpdate) ([]workqueue.ChildUpdateResult, error) {
	var resp workqueues.ChildUpdatesResponse
	err := t.invoke(ctx, grpcserver.MethodApplyChildUpdates, &workqueues.ChildUpdatesRequest{Queue: childQueue, Updates: updates}, &resp)
	return resp.Results, err
}

func (t *GrpcTransport) QueueWork(ctx context.Context, req workqueues.QueueWorkRequest) (workqueues.QueueWorkResponse, error) {
	var resp workqueues.QueueWorkResponse
	err := t.invoke(ctx, grpcserver.MethodQueueWork, &req, &resp)
	return resp, err
}

func (t *GrpcTransport) Status(ctx context.Context, f workqueue.Filter) ([]*element.Element, error) {
	var resp workqueues.ElementsResponse
	err := t.invoke(ctx, grpcserver.MethodStatus, &f, &resp)
	return resp.Elements, err
}

func (t *GrpcTransport) Summary(ctx context.Context, request string) ([]workqueue.RequestSummary, error) {
	var resp workqueues.SummaryResponse
	err := t.invoke(ctx, grpcserver.MethodSummary, &workqueues.SummaryRequest{Request: request}, &resp)
	return resp.Requests, err
}

func (t *GrpcTransport) SetPriority(ctx context.Context, request string, priority int) (int, error) {
	var resp workqueues.CountResponse
	err := t.invoke(ctx, grpcserver.MethodSetPriority, &workqueues.PriorityRequest{Request: request, Priority: priority}, &resp)
	return resp.Count, err
}

func (t *GrpcTransport) CancelWork(ctx context.Context, req workqueue.CancelRequest) ([]string, error) {
	var resp workqueues.IDsResponse
	err := t.invoke(ctx, grpcserver.MethodCancelWork, &req, &resp)
	return resp.IDs, err
}

func (t *GrpcTransport) UpdateStatus(ctx context.Context, req workqueues.UpdateStatusRequest) (workqueues.UpdateStatusResponse, error) {
	var resp workqueues.UpdateStatusResponse
	err := t.invoke(ctx, grpcserver.MethodUpdateStatus, &req, &resp)
	return resp, err
}

func (t *GrpcTransport) Cleanup(ctx context.Context) (workqueue.CleanupReport, error) {
	var resp workqueue.CleanupReport
	err := t.invoke(ctx, grpcserver.MethodCleanup, &workqueues.Empty{}, &resp)
	return resp, err
}

func (t *GrpcTransport) RefreshLocations(ctx context.Context) (int, error) {
	var resp workqueues.CountResponse
	err := t.invoke(ctx, grpcserver.MethodRefreshLocations, &workqueues.Empty{}, &resp)
	return resp.Count, err
}

func (t *GrpcTransport) Sync(ctx context.Context) (workqueues.SyncResponse, error) {
	var resp workqueues.SyncResponse
	err := t.invoke(ctx, grpcserver.MethodSync, &workqueues.Empty{}, &resp)
	return resp, err
}

func (t *GrpcTransport) FeedOnce(ctx context.Context) (int, error) {
	var resp workqueues.CountResponse
	err := t.invoke(ctx, grpcserver.MethodFeedOnce, &workqueues.Empty{}, &resp)
	return resp.Count, err
}

func (t *GrpcTransport) ReadFeed(ctx context.Context, req workqueues.FeedReadRequest) ([]handoff.Delivery, error) {
	var resp workqueues.FeedReadResponse
	err := t.invoke(ctx, grpcserver.MethodReadFeed, &req, &resp)
	return resp.Deliveries, err
}

func (t *GrpcTransport) AckFeed(ctx context.Context, group string, seq uint64) error {
	return t.invoke(ctx, grpcserver.MethodAckFeed, &workqueues.FeedAckRequest{Group: group, Seq: seq}, &workqueues.Empty{})
}

// TailFeed streams deliveries to onDelivery until ctx ends, the server
// closes the stream or onDelivery fails.
func (t *GrpcTransport) TailFeed(ctx context.Context, group string, autoAck bool, onDelivery func(handoff.Delivery) error) error {
	desc := &grpc.StreamDesc{StreamName: grpcserver.StreamTailFeed, ServerStreams: true}
	stream, err := t.conn.NewStream(ctx, desc, grpcserver.FullMethod(grpcserver.StreamTailFeed), grpc.CallContentSubtype(grpcserver.CodecName))
	if err != nil {
		return grpcserver.FromStatus(err)
	}
	if err := stream.SendMsg(&grpcserver.TailFeedRequest{Group: group, AutoAck: autoAck}); err != nil {
		return grpcserver.FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return grpcserver.FromStatus(err)
	}
	for {
		var d handoff.Delivery
		if err := stream.RecvMsg(&d); err != nil {
			err = grpcserver.FromStatus(err)
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := onDelivery(d); err != nil {
			return err
		}
	}
}

func (t *GrpcTransport) SetSlots(ctx context.Context, slots map[string]int) error {
	return t.invoke(ctx, grpcserver.MethodSetSlots, &workqueues.SlotsRequest{Slots: slots}, &workqueues.Empty{})
}

func (t *GrpcTransport) Info(ctx context.Context) (workqueues.QueueInfo, error) {
	var resp workqueues.QueueInfo
	err := t.invoke(ctx, grpcserver.MethodInfo, &workqueues.Empty{}, &resp)
	return resp, err
}
