package transports

import (
	"context"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/handoff"
	"github.com/dmwm/workqueue/internal/queuesync"
	"github.com/dmwm/workqueue/internal/services/workqueues"
	"github.com/dmwm/workqueue/internal/workqueue"
)

// QueueTransport abstracts the transport used by the CLI and by child
// queues talking to their parent.
type QueueTransport interface {
	queuesync.Parent

	QueueWork(ctx context.Context, req workqueues.QueueWorkRequest) (workqueues.QueueWorkResponse, error)
	Status(ctx context.Context, f workqueue.Filter) ([]*element.Element, error)
	Summary(ctx context.Context, request string) ([]workqueue.RequestSummary, error)
	SetPriority(ctx context.Context, request string, priority int) (int, error)
	CancelWork(ctx context.Context, req workqueue.CancelRequest) ([]string, error)
	UpdateStatus(ctx context.Context, req workqueues.UpdateStatusRequest) (workqueues.UpdateStatusResponse, error)
	Cleanup(ctx context.Context) (workqueue.CleanupReport, error)
	RefreshLocations(ctx context.Context) (int, error)
	Sync(ctx context.Context) (workqueues.SyncResponse, error)
	FeedOnce(ctx context.Context) (int, error)
	ReadFeed(ctx context.Context, req workqueues.FeedReadRequest) ([]handoff.Delivery, error)
	AckFeed(ctx context.Context, group string, seq uint64) error
	TailFeed(ctx context.Context, group string, autoAck bool, onDelivery func(handoff.Delivery) error) error
	SetSlots(ctx context.Context, slots map[string]int) error
	Info(ctx context.Context) (workqueues.QueueInfo, error)
	Close() error
}
