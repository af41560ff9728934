package workqueues

import (
	"context"
	"errors"
	"time"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/handoff"
	"github.com/dmwm/workqueue/internal/runtime"
	"github.com/dmwm/workqueue/internal/workqueue"
	logpkg "github.com/dmwm/workqueue/pkg/log"
)

var (
	// ErrNotLocal is returned for parent synchronization on a global queue.
	ErrNotLocal = errors.New("queue has no parent")
	// ErrNoFeed is returned for feed operations when the queue hands work
	// off elsewhere.
	ErrNoFeed = errors.New("queue has no job feed")
)

const (
	defaultFeedLimit = 100
	maxFeedWait      = 30 * time.Second
)

// Service provides queue operations to the transports.
type Service struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// New creates a service over rt.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Service{rt: rt, logger: logger.WithComponent("workqueues")}
}

func (s *Service) engine() *workqueue.Engine { return s.rt.Engine() }

// QueueWork splits a request into elements. Re-queuing an existing request
// is not an error; the response carries the existing ids with Duplicate set.
// Per-task failures are returned in TaskErrors unless no task was queued.
func (s *Service) QueueWork(ctx context.Context, req QueueWorkRequest) (QueueWorkResponse, error) {
	if req.Workload == nil {
		return QueueWorkResponse{}, &element.ValidationError{Field: "workload", Reason: "required"}
	}
	ids, err := s.engine().QueueWork(ctx, req.Workload, req.Team)
	resp := QueueWorkResponse{IDs: ids}
	if err == nil {
		return resp, nil
	}
	var dup *workqueue.DuplicateWorkError
	if errors.As(err, &dup) {
		resp.Duplicate = true
	}
	for _, e := range unjoin(err) {
		if !errors.As(e, &dup) {
			resp.TaskErrors = append(resp.TaskErrors, e.Error())
		}
	}
	if len(ids) == 0 {
		return resp, err
	}
	return resp, nil
}

// unjoin flattens an errors.Join tree.
func unjoin(err error) []error {
	j, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range j.Unwrap() {
		out = append(out, unjoin(e)...)
	}
	return out
}

func (s *Service) GetWork(ctx context.Context, req workqueue.GetWorkRequest) (ElementsResponse, error) {
	els, err := s.engine().GetWork(ctx, req)
	return ElementsResponse{Elements: els}, err
}

func (s *Service) AcquiredBy(ctx context.Context, req AcquiredByRequest) (ElementsResponse, error) {
	els, err := s.engine().AcquiredBy(ctx, req.Queue)
	return ElementsResponse{Elements: els}, err
}

func (s *Service) ApplyChildUpdates(ctx context.Context, req ChildUpdatesRequest) (ChildUpdatesResponse, error) {
	res, err := s.engine().ApplyChildUpdates(ctx, req.Queue, req.Updates)
	return ChildUpdatesResponse{Results: res}, err
}

func (s *Service) Status(ctx context.Context, f workqueue.Filter) (ElementsResponse, error) {
	els, err := s.engine().Status(ctx, f)
	return ElementsResponse{Elements: els}, err
}

func (s *Service) Summary(ctx context.Context, req SummaryRequest) (SummaryResponse, error) {
	sum, err := s.engine().Summary(ctx, req.Request)
	return SummaryResponse{Requests: sum}, err
}

func (s *Service) SetPriority(ctx context.Context, req PriorityRequest) (CountResponse, error) {
	if req.Request == "" {
		return CountResponse{}, &element.ValidationError{Field: "request", Reason: "required"}
	}
	n, err := s.engine().SetPriority(ctx, req.Request, req.Priority)
	return CountResponse{Count: n}, err
}

func (s *Service) CancelWork(ctx context.Context, req workqueue.CancelRequest) (IDsResponse, error) {
	ids, err := s.engine().CancelWork(ctx, req)
	if err == nil {
		s.logger.Info("cancel", logpkg.Strs("requests", req.Requests), logpkg.Int("elements", len(ids)))
	}
	return IDsResponse{IDs: ids}, err
}

// UpdateStatus reports per-element failures in the response; only
// malformed requests fail the call.
func (s *Service) UpdateStatus(ctx context.Context, req UpdateStatusRequest) (UpdateStatusResponse, error) {
	updated, err := s.engine().UpdateStatus(ctx, req.IDs, req.Status, req.Progress)
	resp := UpdateStatusResponse{Updated: updated}
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, element.ErrValidation) {
		return resp, err
	}
	for _, e := range unjoin(err) {
		resp.Errors = append(resp.Errors, e.Error())
	}
	return resp, nil
}

func (s *Service) Cleanup(ctx context.Context) (workqueue.CleanupReport, error) {
	return s.engine().PerformQueueCleanupActions(ctx)
}

func (s *Service) RefreshLocations(ctx context.Context) (CountResponse, error) {
	n, err := s.engine().RefreshLocations(ctx)
	return CountResponse{Count: n}, err
}

// Sync runs one pull/push cycle against the parent.
func (s *Service) Sync(ctx context.Context) (SyncResponse, error) {
	sy := s.rt.Syncer()
	if sy == nil {
		return SyncResponse{}, ErrNotLocal
	}
	rep, err := sy.Cycle(ctx)
	return SyncResponse{CycleID: rep.CycleID, Pulled: rep.Pulled, Pushed: rep.Pushed, Deferred: rep.Deferred, Ended: rep.Ended}, err
}

// FeedOnce hands acquirable local work to job creation once.
func (s *Service) FeedOnce(ctx context.Context) (CountResponse, error) {
	f := s.rt.Feeder()
	if f == nil {
		return CountResponse{}, ErrNoFeed
	}
	n, err := f.RunOnce(ctx)
	return CountResponse{Count: n}, err
}

// ReadFeed returns deliveries after the group's cursor, waiting up to
// WaitMs (capped at 30s) when none are ready.
func (s *Service) ReadFeed(ctx context.Context, req FeedReadRequest) (FeedReadResponse, error) {
	log := s.rt.Feed()
	if log == nil {
		return FeedReadResponse{}, ErrNoFeed
	}
	if req.Group == "" {
		return FeedReadResponse{}, &element.ValidationError{Field: "group", Reason: "required"}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultFeedLimit
	}
	wait := time.Duration(req.WaitMs) * time.Millisecond
	if wait > maxFeedWait {
		wait = maxFeedWait
	}
	ds, err := handoff.NewFeedConsumer(log, req.Group).PollAfter(ctx, req.After, limit, wait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return FeedReadResponse{}, err
	}
	return FeedReadResponse{Deliveries: ds}, nil
}

// AckFeed moves the group's cursor to seq. Cursors never move back.
func (s *Service) AckFeed(_ context.Context, req FeedAckRequest) (Empty, error) {
	log := s.rt.Feed()
	if log == nil {
		return Empty{}, ErrNoFeed
	}
	if req.Group == "" {
		return Empty{}, &element.ValidationError{Field: "group", Reason: "required"}
	}
	return Empty{}, handoff.NewFeedConsumer(log, req.Group).Ack(req.Seq)
}

// SetSlots replaces the free slots of the named sites.
func (s *Service) SetSlots(_ context.Context, req SlotsRequest) (Empty, error) {
	for site, n := range req.Slots {
		if n < 0 {
			return Empty{}, &element.ValidationError{Field: "slots", Reason: site + " must not be negative"}
		}
	}
	for site, n := range req.Slots {
		s.rt.Resources().Set(site, n)
	}
	return Empty{}, nil
}

// Info returns the queue identity, its element counts per status and the
// current site slots. The counts also refresh the elements gauge.
func (s *Service) Info(ctx context.Context) (QueueInfo, error) {
	store := s.engine().Store()
	counts := make(map[element.Status]int, len(element.AllStatuses))
	for _, st := range element.AllStatuses {
		docs, err := store.Query(ctx, elementstore.ByStatus, elementstore.Key(string(st)))
		if err != nil {
			return QueueInfo{}, err
		}
		counts[st] = len(docs)
	}
	s.rt.Metrics().SetElements(counts)
	slots, err := s.rt.Resources().FreeSlotsPerSite(ctx)
	if err != nil {
		return QueueInfo{}, err
	}
	info := QueueInfo{Meta: s.rt.Meta(), Counts: counts, Slots: slots}
	if log := s.rt.Feed(); log != nil {
		info.FeedSeq = log.LastSeq()
		if info.Consumers, err = log.Cursors(); err != nil {
			return QueueInfo{}, err
		}
	}
	return info, nil
}

// Health reports whether the runtime can serve.
func (s *Service) Health(ctx context.Context) error { return s.rt.CheckHealth(ctx) }
