package workqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	"github.com/dmwm/workqueue/internal/elementstore/pebblekv"
	"github.com/dmwm/workqueue/internal/location"
	"github.com/dmwm/workqueue/internal/policy/end"
	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
	"github.com/dmwm/workqueue/internal/workload"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine    *Engine
	store     elementstore.Store
	catalog   *workload.StaticCatalog
	locations *location.StaticService
	clock     *fakeClock
}

func files(n int) []workload.File {
	out := make([]workload.File, n)
	for i := range out {
		out[i] = workload.File{LFN: fmt.Sprintf("/store/f%d.root", i), Size: 100, Events: 10}
	}
	return out
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newFixtureOn(t, pebblekv.New(db, "global"), opts)
}

func newFixtureOn(t *testing.T, store elementstore.Store, opts Options) *fixture {
	t.Helper()
	clock := newClock()
	catalog := workload.NewStaticCatalog(map[string][]workload.BlockInfo{
		"/A/B/RAW": {{Name: "/A/B/RAW#1", Files: files(5)}},
	})
	locs := location.NewStaticService(map[string][]string{"/A/B/RAW#1": {"SiteA"}})
	opts.Now = clock.Now
	if opts.Queue == "" {
		opts.Queue = "global"
	}
	eng := New(store, catalog, location.NewResolver(locs, nil), opts)
	return &fixture{engine: eng, store: store, catalog: catalog, locations: locs, clock: clock}
}

func fileWorkload(name string, priority int, params workload.Params) *workload.Workload {
	return &workload.Workload{
		Name:        name,
		Priority:    priority,
		StartPolicy: "Block",
		Tasks: []*workload.Task{{
			Name:               "Proc",
			SplittingAlgorithm: "FileBased",
			SplittingParams:    params,
			InputDataset:       "/A/B/RAW",
		}},
	}
}

func (f *fixture) queue(t *testing.T, wl *workload.Workload) []string {
	t.Helper()
	ids, err := f.engine.QueueWork(context.Background(), wl, "prod")
	require.NoError(t, err)
	return ids
}

func (f *fixture) get(t *testing.T, id string) *element.Element {
	t.Helper()
	el, _, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return el
}

// Scenario: one task, two files per job, five files at SiteA.
func TestQueueWorkSplitsFiles(t *testing.T) {
	f := newFixture(t, Options{})
	ids := f.queue(t, fileWorkload("req-1", 5, workload.Params{"files_per_job": 2}))
	require.Len(t, ids, 3)

	els, err := f.engine.Status(context.Background(), Filter{Request: "req-1"})
	require.NoError(t, err)
	require.Len(t, els, 3)
	var sizes []int
	for _, el := range els {
		assert.Equal(t, element.Available, el.Status)
		assert.Equal(t, "prod", el.Team)
		assert.Equal(t, []string{"SiteA"}, el.PossibleSites())
		assert.NotEmpty(t, el.InsertID)
		assert.Equal(t, f.clock.Now(), el.CreationTime)
		sizes = append(sizes, el.Mask.LastFile-el.Mask.FirstFile+1)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

func TestQueueWorkIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	wl := fileWorkload("req-1", 5, workload.Params{"files_per_job": 2})
	first := f.queue(t, wl)

	second, err := f.engine.QueueWork(context.Background(), wl, "prod")
	require.ErrorIs(t, err, ErrDuplicateWork)
	var dup *DuplicateWorkError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first, second)
	assert.Equal(t, first, dup.IDs)

	all, err := f.engine.Status(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestQueueWorkIsolatesTaskErrors(t *testing.T) {
	f := newFixture(t, Options{})
	wl := fileWorkload("req-1", 1, workload.Params{"files_per_job": 2})
	wl.Tasks = append(wl.Tasks,
		&workload.Task{Name: "Bad", SplittingAlgorithm: "FileBased", SplittingParams: workload.Params{"files_per_job": 0}, InputDataset: "/A/B/RAW"},
		&workload.Task{Name: "Missing", SplittingAlgorithm: "FileBased", SplittingParams: workload.Params{"files_per_job": 1}, InputDataset: "/No/Such/RAW"},
	)
	ids, err := f.engine.QueueWork(context.Background(), wl, "")
	require.Error(t, err)
	assert.Len(t, ids, 3)
	assert.Contains(t, err.Error(), "Bad")
	var unknown *workload.UnknownDatasetError
	assert.ErrorAs(t, err, &unknown)
	assert.NotErrorIs(t, err, ErrDuplicateWork)
}

// Scenario: jobs 2,2,1 against one free slot, then against five.
func TestGetWorkRespectsSlotBudget(t *testing.T) {
	f := newFixture(t, Options{})
	ids := f.queue(t, fileWorkload("req-1", 5, workload.Params{"files_per_job": 1, "jobs_per_element": 2}))
	require.Len(t, ids, 3)
	ctx := context.Background()

	got, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "agent1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 5}, Queue: "agent1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, el := range got {
		assert.Equal(t, ids[i], el.ID, "oldest first")
		assert.Equal(t, element.Acquired, el.Status)
		assert.Equal(t, "agent1", el.ChildQueue)
		assert.Equal(t, element.Acquired, f.get(t, el.ID).Status)
	}
}

func TestGetWorkPriorityThenAge(t *testing.T) {
	f := newFixture(t, Options{})
	f.catalog.SetBlocks("/C/D/RAW", []workload.BlockInfo{{Name: "/C/D/RAW#1", Files: files(1)}})
	f.locations.Set("/C/D/RAW#1", []string{"SiteA"})

	low := f.queue(t, fileWorkload("low", 1, workload.Params{"files_per_job": 5}))
	high := fileWorkload("high", 9, workload.Params{"files_per_job": 1})
	high.Tasks[0].InputDataset = "/C/D/RAW"
	highIDs := f.queue(t, high)

	got, err := f.engine.GetWork(context.Background(), GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "agent1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, highIDs[0], got[0].ID)

	got, err = f.engine.GetWork(context.Background(), GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "agent1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, low[0], got[0].ID)
}

func TestGetWorkBlocksSitesForLargerWork(t *testing.T) {
	f := newFixture(t, Options{})
	f.catalog.SetBlocks("/Big/B/RAW", []workload.BlockInfo{{Name: "/Big/B/RAW#1", Files: files(3)}})
	f.locations.Set("/Big/B/RAW#1", []string{"SiteA"})
	big := fileWorkload("big", 9, workload.Params{"files_per_job": 1, "jobs_per_element": 3})
	big.Tasks[0].InputDataset = "/Big/B/RAW"
	f.queue(t, big)
	f.queue(t, fileWorkload("small", 1, workload.Params{"files_per_job": 5}))

	got, err := f.engine.GetWork(context.Background(), GetWorkRequest{Slots: map[string]int{"SiteA": 2}, Queue: "agent1"})
	require.NoError(t, err)
	assert.Empty(t, got, "small work must not overtake larger work waiting for SiteA")
}

func TestGetWorkTeamAndLimit(t *testing.T) {
	f := newFixture(t, Options{})
	f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 1}))

	got, err := f.engine.GetWork(context.Background(), GetWorkRequest{Slots: map[string]int{"SiteA": 10}, Queue: "agent1", Team: "other"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.engine.GetWork(context.Background(), GetWorkRequest{Slots: map[string]int{"SiteA": 10}, Queue: "agent1", Team: "prod", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = f.engine.GetWork(context.Background(), GetWorkRequest{Slots: map[string]int{"SiteA": 10}})
	assert.ErrorIs(t, err, element.ErrValidation)
}

func TestConcurrentGetWorkNeverSharesElements(t *testing.T) {
	f := newFixture(t, Options{})
	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{{Name: "/A/B/RAW#1", Files: files(40)}})
	f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 1}))

	const callers = 4
	results := make([][]*element.Element, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// an empty answer means every element seen was taken
			for round := 0; round < 100; round++ {
				got, err := f.engine.GetWork(context.Background(), GetWorkRequest{
					Slots: map[string]int{"SiteA": 4},
					Queue: fmt.Sprintf("agent%d", i),
				})
				assert.NoError(t, err)
				if len(got) == 0 {
					return
				}
				results[i] = append(results[i], got...)
			}
		}(i)
	}
	wg.Wait()

	owner := map[string]string{}
	for i, got := range results {
		for _, el := range got {
			q := fmt.Sprintf("agent%d", i)
			prev, dup := owner[el.ID]
			assert.False(t, dup, "%s acquired by %s and %s", el.ID, prev, q)
			owner[el.ID] = q
			assert.Equal(t, q, f.get(t, el.ID).ChildQueue)
		}
	}
	assert.Len(t, owner, 40)
}

// Scenario: a negotiation that is never confirmed returns to Available.
func TestCleanupExpiresNegotiation(t *testing.T) {
	f := newFixture(t, Options{NegotiationTimeout: 300 * time.Second})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 5}))
	require.Len(t, ids, 1)

	el, rev, err := f.store.Get(ctx, ids[0])
	require.NoError(t, err)
	el.ChildQueue = "crashed-agent"
	require.NoError(t, el.SetStatus(element.Negotiating, f.clock.Now()))
	_, err = f.store.Put(ctx, el, rev)
	require.NoError(t, err)

	f.clock.Advance(299 * time.Second)
	rep, err := f.engine.PerformQueueCleanupActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Expired)

	f.clock.Advance(2 * time.Second)
	rep, err = f.engine.PerformQueueCleanupActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, element.Available, f.get(t, ids[0]).Status)
	assert.Empty(t, f.get(t, ids[0]).ChildQueue)

	got, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 5}, Queue: "agent2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "agent2", got[0].ChildQueue)
}

func TestCancelWork(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 2}))
	got, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "agent1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, err = f.engine.UpdateStatus(ctx, []string{ids[2]}, element.Canceled, nil)
	require.NoError(t, err)

	changed, err := f.engine.CancelWork(ctx, CancelRequest{Requests: []string{"req-1"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ids[0], ids[1]}, changed)
	for _, id := range ids {
		assert.Equal(t, element.Canceled, f.get(t, id).Status)
	}

	again, err := f.engine.CancelWork(ctx, CancelRequest{Requests: []string{"req-1"}, IDs: []string{"missing"}})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestCancelChildCopyWaitsForParent(t *testing.T) {
	f := newFixture(t, Options{Queue: "agent1"})
	ctx := context.Background()
	el := &element.Element{
		RequestName: "req-1", TaskName: "/req-1/Gen", Jobs: 1, Status: element.Available,
		ParentQueueID: "p1", ReportedStatus: element.Acquired,
	}
	require.NoError(t, el.AssignID())
	_, err := f.engine.Inject(ctx, []*element.Element{el})
	require.NoError(t, err)

	_, err = f.engine.CancelWork(ctx, CancelRequest{IDs: []string{el.ID}})
	require.NoError(t, err)
	got := f.get(t, el.ID)
	assert.Equal(t, element.CancelRequested, got.Status)
	assert.True(t, got.NeedsReport())

	rep, err := f.engine.PerformQueueCleanupActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Finalized, "parent has not seen the cancel")

	sent := ChildUpdate{ID: "p1", Status: element.Canceled}
	require.NoError(t, f.engine.AcknowledgeReport(ctx, el.ID, sent, ChildUpdateResult{ID: "p1", Status: element.Canceled, Applied: true}))
	assert.Equal(t, element.Canceled, f.get(t, el.ID).Status)
	assert.False(t, f.get(t, el.ID).NeedsReport())
}

func TestClosedRequestRejectsLateInjection(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 5}))
	_, err := f.engine.UpdateStatus(ctx, ids, element.Canceled, nil)
	require.NoError(t, err)

	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{
		{Name: "/A/B/RAW#1", Files: files(5)},
		{Name: "/A/B/RAW#2", Files: files(2)},
	})
	_, err = f.engine.QueueWork(ctx, fileWorkload("req-1", 1, workload.Params{"files_per_job": 5}), "prod")
	require.ErrorIs(t, err, ErrRequestClosed)

	sum, err := f.engine.Summary(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, end.Complete, sum[0].Status)
	assert.Equal(t, 1, sum[0].Elements)
}

func TestOpenBlockPickedUpByReinjection(t *testing.T) {
	f := newFixture(t, Options{})
	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{{Name: "/A/B/RAW#1", Open: true, Files: files(3)}})
	wl := fileWorkload("req-1", 1, workload.Params{"files_per_job": 2})
	first := f.queue(t, wl)
	require.Len(t, first, 1)

	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{{Name: "/A/B/RAW#1", Files: files(3)}})
	second := f.queue(t, wl)
	require.Len(t, second, 2)
	assert.Equal(t, first[0], second[0])
}

func TestOpenBlockPickedUpByDefaultPolicy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{{Name: "/A/B/RAW#1", Open: true, Files: files(3)}})
	wl := fileWorkload("req-1", 1, workload.Params{"files_per_job": 2})
	wl.StartPolicy = ""
	first := f.queue(t, wl)
	require.Len(t, first, 1)

	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{{Name: "/A/B/RAW#1", Files: files(3)}})
	second := f.queue(t, wl)
	require.Len(t, second, 2)
	assert.Equal(t, first[0], second[0])

	els, err := f.engine.Status(ctx, Filter{Request: "req-1"})
	require.NoError(t, err)
	require.Len(t, els, 2)
	covered := 0
	for _, el := range els {
		require.NotNil(t, el.Mask)
		covered += el.Mask.LastFile - el.Mask.FirstFile + 1
	}
	assert.Equal(t, 3, covered)

	_, err = f.engine.QueueWork(ctx, wl, "prod")
	var dup *DuplicateWorkError
	require.ErrorAs(t, err, &dup)
	assert.ElementsMatch(t, second, dup.IDs)
}

func TestGrownDatasetQueuesOnlyNewBlocks(t *testing.T) {
	f := newFixture(t, Options{DatasetMaxFiles: 6})
	ctx := context.Background()
	wl := fileWorkload("req-1", 1, workload.Params{"files_per_job": 2})
	wl.StartPolicy = ""
	first := f.queue(t, wl)
	require.Len(t, first, 1)
	assert.Nil(t, f.get(t, first[0]).Mask)

	f.catalog.SetBlocks("/A/B/RAW", []workload.BlockInfo{
		{Name: "/A/B/RAW#1", Files: files(5)},
		{Name: "/A/B/RAW#2", Files: files(4)},
	})
	second := f.queue(t, wl)
	require.Len(t, second, 2)
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, []string{"/A/B/RAW#2"}, f.get(t, second[1]).InputNames())

	els, err := f.engine.Status(ctx, Filter{Request: "req-1"})
	require.NoError(t, err)
	assert.Len(t, els, 2)
}

func TestSetPriorityKeepsIdentity(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 2}))

	n, err := f.engine.SetPriority(ctx, "req-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, id := range ids {
		el := f.get(t, id)
		assert.Equal(t, 50, el.Priority)
		computed, err := el.ComputeID()
		require.NoError(t, err)
		assert.Equal(t, id, computed)
	}
	n, err = f.engine.SetPriority(ctx, "req-1", 50)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 5}))
	_, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 5}, Queue: "agent1"})
	require.NoError(t, err)

	updated, err := f.engine.UpdateStatus(ctx, ids, element.Done, &Progress{PercentComplete: 100, PercentSuccess: 98})
	require.NoError(t, err)
	assert.Equal(t, ids, updated)
	el := f.get(t, ids[0])
	assert.Equal(t, element.Done, el.Status)
	assert.Equal(t, 98, el.PercentSuccess)

	_, err = f.engine.UpdateStatus(ctx, ids, element.Running, nil)
	assert.ErrorIs(t, err, element.ErrInvalidTransition)

	_, err = f.engine.UpdateStatus(ctx, ids, element.Done, &Progress{PercentComplete: 101})
	assert.ErrorIs(t, err, element.ErrValidation)
}

func TestApplyChildUpdates(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 2}))
	_, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 5}, Queue: "agent1"})
	require.NoError(t, err)
	_, err = f.engine.CancelWork(ctx, CancelRequest{IDs: []string{ids[1]}})
	require.NoError(t, err)

	res, err := f.engine.ApplyChildUpdates(ctx, "agent1", []ChildUpdate{
		{ID: ids[0], Status: element.Done, PercentComplete: 100},
		{ID: ids[1], Status: element.Running},
		{ID: "gone", Status: element.Running},
	})
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.True(t, res[0].Applied)
	assert.Equal(t, element.Done, res[0].Status)
	assert.Equal(t, 100, f.get(t, ids[0]).PercentComplete)

	assert.True(t, res[1].Applied)
	assert.Equal(t, element.Canceled, res[1].Status, "terminal parent status is sticky")
	assert.Equal(t, element.Canceled, f.get(t, ids[1]).Status)

	assert.True(t, res[2].NotFound)

	res, err = f.engine.ApplyChildUpdates(ctx, "agent2", []ChildUpdate{{ID: ids[2], Status: element.Running}})
	require.NoError(t, err)
	assert.True(t, res[0].NotOwned)
	assert.Equal(t, element.Acquired, f.get(t, ids[2]).Status)

	// a stale report behind the parent is ignored
	_, err = f.engine.ApplyChildUpdates(ctx, "agent1", []ChildUpdate{{ID: ids[2], Status: element.Running}})
	require.NoError(t, err)
	res, err = f.engine.ApplyChildUpdates(ctx, "agent1", []ChildUpdate{{ID: ids[2], Status: element.Acquired}})
	require.NoError(t, err)
	assert.Equal(t, element.Running, res[0].Status)

	res, err = f.engine.ApplyChildUpdates(ctx, "agent1", []ChildUpdate{{ID: ids[2], Status: "Finished"}})
	require.NoError(t, err)
	assert.False(t, res[0].Applied)
	assert.Contains(t, res[0].Error, "unknown status")
	assert.Equal(t, element.Running, f.get(t, ids[2]).Status)
}

func TestCleanupPurgesArchivedRequests(t *testing.T) {
	f := newFixture(t, Options{ArchiveDelay: time.Hour})
	ctx := context.Background()
	ids := f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 2}))
	_, err := f.engine.CancelWork(ctx, CancelRequest{Requests: []string{"req-1"}})
	require.NoError(t, err)

	rep, err := f.engine.PerformQueueCleanupActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, end.Complete, rep.Requests["req-1"])
	assert.Zero(t, rep.Purged)

	f.clock.Advance(2 * time.Hour)
	rep, err = f.engine.PerformQueueCleanupActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, end.Archived, rep.Requests["req-1"])
	assert.Equal(t, len(ids), rep.Purged)
	_, _, err = f.store.Get(ctx, ids[0])
	assert.ErrorIs(t, err, elementstore.ErrNotFound)
}

func TestRefreshLocationsPlacesUnknownInput(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.locations.SetDown(true)
	f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 5}))

	got, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 5}, Queue: "agent1"})
	require.NoError(t, err)
	assert.Empty(t, got, "unplaced input is not eligible anywhere")

	n, err := f.engine.RefreshLocations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.locations.SetDown(false)
	n, err = f.engine.RefreshLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 5}, Queue: "agent1"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStatusFilters(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.queue(t, fileWorkload("req-1", 1, workload.Params{"files_per_job": 2}))
	_, err := f.engine.GetWork(ctx, GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "agent1"})
	require.NoError(t, err)

	acquired, err := f.engine.Status(ctx, Filter{Statuses: []element.Status{element.Acquired}})
	require.NoError(t, err)
	assert.Len(t, acquired, 1)

	byExpr, err := f.engine.Status(ctx, Filter{Request: "req-1", Expr: `status == "Available" && jobs == 1`})
	require.NoError(t, err)
	assert.Len(t, byExpr, 2)

	_, err = f.engine.Status(ctx, Filter{Expr: `jobs +`})
	assert.ErrorIs(t, err, element.ErrValidation)

	sum, err := f.engine.Summary(ctx, "")
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, end.Running, sum[0].Status)
	assert.Equal(t, 2, sum[0].Counts[element.Available])
	assert.Equal(t, 1, sum[0].Counts[element.Acquired])
}

func TestPathTo(t *testing.T) {
	assert.Equal(t, []element.Status{element.Running, element.Done}, pathTo(element.Acquired, element.Done))
	assert.Equal(t, []element.Status{element.Canceled}, pathTo(element.Available, element.Canceled))
	assert.Nil(t, pathTo(element.Done, element.Running))
	assert.Nil(t, pathTo(element.Running, element.Available))
}
