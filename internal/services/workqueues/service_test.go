package workqueues

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/dmwm/workqueue/internal/config"
	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/runtime"
	"github.com/dmwm/workqueue/internal/workload"
	"github.com/dmwm/workqueue/internal/workqueue"
)

func newService(t *testing.T) (*Service, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Queue = cfgpkg.QueueConfig{Name: "global", Kind: cfgpkg.KindGlobal}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Sources.Slots = map[string]int{"SiteA": 4}
	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	files := make([]workload.File, 4)
	for i := range files {
		files[i] = workload.File{LFN: fmt.Sprintf("/store/f%d.root", i)}
	}
	rt.Catalog().SetBlocks("/A/B/RAW", []workload.BlockInfo{{Name: "/A/B/RAW#1", Files: files}})
	rt.Locations().Set("/A/B/RAW#1", []string{"SiteA"})
	return New(rt, nil), rt
}

func request(name string, datasets ...string) *workload.Workload {
	wl := &workload.Workload{Name: name, StartPolicy: "Block"}
	for i, ds := range datasets {
		wl.Tasks = append(wl.Tasks, &workload.Task{
			Name: fmt.Sprintf("Task%d", i), SplittingAlgorithm: "FileBased",
			SplittingParams: workload.Params{"files_per_job": 2},
			InputDataset:    ds,
		})
	}
	return wl
}

func TestQueueWorkDuplicateIsNotAnError(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	first, err := svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-1", "/A/B/RAW")})
	require.NoError(t, err)
	require.Len(t, first.IDs, 2)
	assert.False(t, first.Duplicate)

	again, err := svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-1", "/A/B/RAW")})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.ElementsMatch(t, first.IDs, again.IDs)
	assert.Empty(t, again.TaskErrors)
}

func TestQueueWorkReportsTaskErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	resp, err := svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-2", "/A/B/RAW", "/Missing/X/RAW")})
	require.NoError(t, err)
	assert.Len(t, resp.IDs, 2)
	require.Len(t, resp.TaskErrors, 1)
	assert.Contains(t, resp.TaskErrors[0], "/Missing/X/RAW")

	_, err = svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-3", "/Missing/X/RAW")})
	require.Error(t, err)

	_, err = svc.QueueWork(ctx, QueueWorkRequest{})
	require.True(t, errors.Is(err, element.ErrValidation))
}

func TestUpdateStatusCollectsElementErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	q, err := svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-1", "/A/B/RAW")})
	require.NoError(t, err)

	_, err = svc.CancelWork(ctx, workqueue.CancelRequest{IDs: q.IDs[:1]})
	require.NoError(t, err)

	// canceled elements never run
	resp, err := svc.UpdateStatus(ctx, UpdateStatusRequest{IDs: q.IDs[:1], Status: element.Running})
	require.NoError(t, err)
	assert.Empty(t, resp.Updated)
	assert.Len(t, resp.Errors, 1)

	_, err = svc.UpdateStatus(ctx, UpdateStatusRequest{IDs: q.IDs, Status: "Lost"})
	require.True(t, errors.Is(err, element.ErrValidation))
}

func TestLocalOnlyOperations(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Sync(ctx)
	assert.ErrorIs(t, err, ErrNotLocal)
	_, err = svc.FeedOnce(ctx)
	assert.ErrorIs(t, err, ErrNoFeed)
	_, err = svc.ReadFeed(ctx, FeedReadRequest{Group: "jobs"})
	assert.ErrorIs(t, err, ErrNoFeed)
	_, err = svc.AckFeed(ctx, FeedAckRequest{Group: "jobs", Seq: 1})
	assert.ErrorIs(t, err, ErrNoFeed)
}

func TestInfoAndSlots(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-1", "/A/B/RAW")})
	require.NoError(t, err)

	_, err = svc.SetSlots(ctx, SlotsRequest{Slots: map[string]int{"SiteB": -1}})
	require.Error(t, err)
	_, err = svc.SetSlots(ctx, SlotsRequest{Slots: map[string]int{"SiteB": 3}})
	require.NoError(t, err)

	got, err := svc.GetWork(ctx, workqueue.GetWorkRequest{Slots: map[string]int{"SiteA": 1}, Queue: "agent1"})
	require.NoError(t, err)
	require.Len(t, got.Elements, 1)

	info, err := svc.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "global", info.Meta.Name)
	assert.Equal(t, 1, info.Counts[element.Available])
	assert.Equal(t, 1, info.Counts[element.Acquired])
	assert.Equal(t, map[string]int{"SiteA": 4, "SiteB": 3}, info.Slots)
	require.NoError(t, svc.Health(ctx))
}

func TestSummaryAndPriority(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.QueueWork(ctx, QueueWorkRequest{Workload: request("req-1", "/A/B/RAW")})
	require.NoError(t, err)

	n, err := svc.SetPriority(ctx, PriorityRequest{Request: "req-1", Priority: 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n.Count)

	sum, err := svc.Summary(ctx, SummaryRequest{Request: "req-1"})
	require.NoError(t, err)
	require.Len(t, sum.Requests, 1)
	assert.Equal(t, 2, sum.Requests[0].Elements)

	c, err := svc.CancelWork(ctx, workqueue.CancelRequest{Requests: []string{"req-1"}})
	require.NoError(t, err)
	assert.Len(t, c.IDs, 2)
}
