package queuesync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/elementstore/pebblekv"
	"github.com/dmwm/workqueue/internal/location"
	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	global    *workqueue.Engine
	local     *workqueue.Engine
	resources *location.StaticResources
	syncer    *Syncer
}

func openEngine(t *testing.T, queue string, catalog workload.Catalog, resolver *location.Resolver) *workqueue.Engine {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return workqueue.New(pebblekv.New(db, queue), catalog, resolver, workqueue.Options{Queue: queue})
}

func newHarness(t *testing.T, parent func(*workqueue.Engine) Parent) *harness {
	t.Helper()
	files := make([]workload.File, 4)
	for i := range files {
		files[i] = workload.File{LFN: fmt.Sprintf("/store/f%d.root", i)}
	}
	catalog := workload.NewStaticCatalog(map[string][]workload.BlockInfo{
		"/A/B/RAW": {{Name: "/A/B/RAW#1", Files: files}},
	})
	locs := location.NewStaticService(map[string][]string{"/A/B/RAW#1": {"SiteA"}})
	h := &harness{
		global:    openEngine(t, "global", catalog, location.NewResolver(locs, nil)),
		local:     openEngine(t, "agent1", nil, nil),
		resources: location.NewStaticResources(map[string]int{"SiteA": 1}),
	}
	var p Parent = h.global
	if parent != nil {
		p = parent(h.global)
	}
	h.syncer = New(h.local, p, h.resources, Config{ParentURL: "grpc://global:9090"}, nil, nil)
	return h
}

// two elements of two files each, one job apiece
func (h *harness) queue(t *testing.T) []string {
	t.Helper()
	ids, err := h.global.QueueWork(context.Background(), &workload.Workload{
		Name:        "req-1",
		StartPolicy: "Block",
		Tasks: []*workload.Task{{
			Name: "Proc", SplittingAlgorithm: "FileBased",
			SplittingParams: workload.Params{"files_per_job": 2},
			InputDataset:    "/A/B/RAW",
		}},
	}, "")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	return ids
}

func status(t *testing.T, e *workqueue.Engine, id string) element.Status {
	t.Helper()
	el, _, err := e.Store().Get(context.Background(), id)
	require.NoError(t, err)
	return el.Status
}

func TestPullClonesAcquiredWork(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.queue(t)
	ctx := context.Background()

	rep, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pulled)
	assert.NotEmpty(t, rep.CycleID)

	parent, _, err := h.global.Store().Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, element.Acquired, parent.Status)
	assert.Equal(t, "agent1", parent.ChildQueue)

	local, err := h.local.Status(ctx, workqueue.Filter{})
	require.NoError(t, err)
	require.Len(t, local, 1)
	c := local[0]
	assert.Equal(t, element.Available, c.Status)
	assert.Equal(t, ids[0], c.ParentQueueID)
	assert.Equal(t, "grpc://global:9090", c.ParentQueueURL)
	assert.Empty(t, c.ChildQueue)
	assert.False(t, c.NeedsReport())

	// the local backlog covers the only slot
	rep, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pulled)
	assert.Equal(t, element.Available, status(t, h.global, ids[1]))
}

func TestPushPropagatesProgress(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.queue(t)
	ctx := context.Background()
	_, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)

	got, err := h.local.GetWork(ctx, workqueue.GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "jobcreator"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, err = h.local.UpdateStatus(ctx, []string{got[0].ID}, element.Running, &workqueue.Progress{PercentComplete: 40})
	require.NoError(t, err)

	rep, err := h.syncer.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pushed)
	parent, _, err := h.global.Store().Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, element.Running, parent.Status)
	assert.Equal(t, 40, parent.PercentComplete)

	local, _, err := h.local.Store().Get(ctx, got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, element.Running, local.ReportedStatus)
	assert.False(t, local.NeedsReport())

	h.resources.Set("SiteA", 0)
	_, err = h.local.UpdateStatus(ctx, []string{got[0].ID}, element.Done, &workqueue.Progress{PercentComplete: 100, PercentSuccess: 100})
	require.NoError(t, err)
	_, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, element.Done, status(t, h.global, ids[0]))

	// settled copies are no longer reported
	rep, err = h.syncer.Push(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pushed)
}

// Cancel a request with one element acquired by the child; one cycle
// cancels both copies.
func TestCancelReachesChildInOneCycle(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.queue(t)
	ctx := context.Background()
	_, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	h.resources.Set("SiteA", 0)

	_, err = h.global.CancelWork(ctx, workqueue.CancelRequest{Requests: []string{"req-1"}})
	require.NoError(t, err)
	assert.Equal(t, element.Canceled, status(t, h.global, ids[0]))
	assert.Equal(t, element.Canceled, status(t, h.global, ids[1]))

	rep, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Ended)
	assert.Equal(t, element.Canceled, status(t, h.local, ids[0]))
	assert.Equal(t, element.Canceled, status(t, h.global, ids[0]))
}

func TestTerminalParentStatusIsSticky(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.queue(t)
	ctx := context.Background()
	_, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	h.resources.Set("SiteA", 0)

	got, err := h.local.GetWork(ctx, workqueue.GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "jobcreator"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, err = h.global.CancelWork(ctx, workqueue.CancelRequest{IDs: []string{ids[0]}})
	require.NoError(t, err)
	_, err = h.local.UpdateStatus(ctx, []string{got[0].ID}, element.Running, nil)
	require.NoError(t, err)

	_, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, element.Canceled, status(t, h.global, ids[0]))
	assert.Equal(t, element.Canceled, status(t, h.local, got[0].ID))
}

func TestLocalCancelReachesParent(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.queue(t)
	ctx := context.Background()
	_, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	h.resources.Set("SiteA", 0)

	_, err = h.local.CancelWork(ctx, workqueue.CancelRequest{IDs: []string{ids[0]}})
	require.NoError(t, err)
	assert.Equal(t, element.CancelRequested, status(t, h.local, ids[0]))

	_, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, element.Canceled, status(t, h.global, ids[0]))
	assert.Equal(t, element.Canceled, status(t, h.local, ids[0]))
}

type flakyParent struct {
	Parent
	failures atomic.Int32
}

func (p *flakyParent) ApplyChildUpdates(ctx context.Context, q string, u []workqueue.ChildUpdate) ([]workqueue.ChildUpdateResult, error) {
	if p.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset")
	}
	return p.Parent.ApplyChildUpdates(ctx, q, u)
}

func TestPushRetriesParentCalls(t *testing.T) {
	var flaky *flakyParent
	h := newHarness(t, func(g *workqueue.Engine) Parent {
		flaky = &flakyParent{Parent: g}
		return flaky
	})
	h.syncer.cfg.MinBackoff, h.syncer.cfg.MaxBackoff = 1, 1
	ids := h.queue(t)
	ctx := context.Background()
	_, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	_, err = h.local.UpdateStatus(ctx, []string{ids[0]}, element.Canceled, nil)
	require.NoError(t, err)

	flaky.failures.Store(2)
	_, err = h.syncer.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, element.Canceled, status(t, h.global, ids[0]))

	flaky.failures.Store(10)
	_, err = h.syncer.Push(ctx)
	assert.NoError(t, err, "nothing left to report")
}

// lossyParent acquires on the parent but loses the first non-empty answer.
type lossyParent struct {
	Parent
	lose atomic.Bool
}

func (p *lossyParent) GetWork(ctx context.Context, req workqueue.GetWorkRequest) ([]*element.Element, error) {
	els, err := p.Parent.GetWork(ctx, req)
	if err == nil && len(els) > 0 && p.lose.CompareAndSwap(true, false) {
		return nil, errors.New("response lost")
	}
	return els, err
}

func TestLostPullIsAdoptedNextCycle(t *testing.T) {
	var lossy *lossyParent
	h := newHarness(t, func(g *workqueue.Engine) Parent {
		lossy = &lossyParent{Parent: g}
		return lossy
	})
	h.syncer.cfg.MinBackoff, h.syncer.cfg.MaxBackoff = 1, 1
	ids := h.queue(t)
	ctx := context.Background()
	lossy.lose.Store(true)

	// the retry acquires the second element; the first is held with no copy
	rep, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pulled)
	assert.Equal(t, element.Acquired, status(t, h.global, ids[0]))
	_, _, err = h.local.Store().Get(ctx, ids[0])
	require.ErrorIs(t, err, elementstore.ErrNotFound)

	rep, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pulled)
	local, err := h.local.Status(ctx, workqueue.Filter{})
	require.NoError(t, err)
	require.Len(t, local, 2)
	for _, c := range local {
		assert.Equal(t, c.ID, c.ParentQueueID)
		assert.Equal(t, element.Available, c.Status)
	}

	rep, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Pulled)

	// both copies finish and the parent request completes
	h.resources.Set("SiteA", 0)
	got, err := h.local.GetWork(ctx, workqueue.GetWorkRequest{Slots: map[string]int{"SiteA": 2}, Queue: "jobcreator"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, el := range got {
		_, err = h.local.UpdateStatus(ctx, []string{el.ID}, element.Running, nil)
		require.NoError(t, err)
		_, err = h.local.UpdateStatus(ctx, []string{el.ID}, element.Done, &workqueue.Progress{PercentComplete: 100, PercentSuccess: 100})
		require.NoError(t, err)
	}
	_, err = h.syncer.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, element.Done, status(t, h.global, ids[0]))
	assert.Equal(t, element.Done, status(t, h.global, ids[1]))
}

func TestAcquiredByListsOnlyUnreportedWork(t *testing.T) {
	h := newHarness(t, nil)
	ids := h.queue(t)
	ctx := context.Background()
	h.resources.Set("SiteA", 2)
	_, err := h.syncer.Cycle(ctx)
	require.NoError(t, err)

	held, err := h.global.AcquiredBy(ctx, "agent1")
	require.NoError(t, err)
	assert.Len(t, held, 2)

	got, err := h.local.GetWork(ctx, workqueue.GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "jobcreator"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, err = h.local.UpdateStatus(ctx, []string{got[0].ID}, element.Running, nil)
	require.NoError(t, err)
	_, err = h.syncer.Push(ctx)
	require.NoError(t, err)

	held, err = h.global.AcquiredBy(ctx, "agent1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.NotEqual(t, got[0].ID, held[0].ID)
	assert.Contains(t, ids, held[0].ID)

	held, err = h.global.AcquiredBy(ctx, "agent2")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestRemainingSlots(t *testing.T) {
	backlog := []*element.Element{
		{RequestName: "r", TaskName: "t", Jobs: 3, Inputs: []element.Input{{Name: "b", Sites: []string{"SiteA", "SiteB"}}}},
		{RequestName: "r", TaskName: "t", Jobs: 2, Inputs: []element.Input{{Name: "c", Sites: []string{"SiteC"}}}},
	}
	got := remainingSlots(map[string]int{"SiteA": 5, "SiteB": 2, "SiteD": 0}, backlog)
	assert.Equal(t, map[string]int{"SiteA": 2, "SiteB": 2}, got)
}
