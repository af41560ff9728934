// Package storetest runs the behaviour every elementstore.Store backend must
// share.
package storetest

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
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) elementstore.Store

// Element builds a valid Available element with a derived id.
func Element(t *testing.T, request string, n, priority int, insertID string) *element.Element {
	t.Helper()
	el := &element.Element{
		RequestName:  request,
		TaskName:     "/" + request + "/Proc",
		InputDataset: "/A/B/RAW",
		Inputs:       []element.Input{{Name: fmt.Sprintf("/A/B/RAW#%d", n), Sites: []string{"SiteA"}}},
		Status:       element.Available,
		Jobs:         1,
		Priority:     priority,
		InsertID:     insertID,
		CreationTime: time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, el.AssignID())
	return el
}

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := map[string]func(t *testing.T, s elementstore.Store){
		"PutGet":         testPutGet,
		"Conflict":       testConflict,
		"Delete":         testDelete,
		"BulkPut":        testBulkPut,
		"Views":          testViews,
		"AvailableOrder": testAvailableOrder,
		"ConcurrentCAS":  testConcurrentCAS,
		"UnknownView":    testUnknownView,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func testPutGet(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	el := Element(t, "r1", 1, 1, "0001")

	_, _, err := s.Get(ctx, el.ID)
	require.ErrorIs(t, err, elementstore.ErrNotFound)

	rev, err := s.Put(ctx, el, 0)
	require.NoError(t, err)
	assert.NotZero(t, rev)

	got, gotRev, err := s.Get(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, rev, gotRev)
	assert.Equal(t, el.ID, got.ID)
	assert.Equal(t, el.Inputs, got.Inputs)
	assert.True(t, el.CreationTime.Equal(got.CreationTime))

	got.Priority = 7
	rev2, err := s.Put(ctx, got, gotRev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)
}

func testConflict(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	el := Element(t, "r1", 1, 1, "0001")
	rev, err := s.Put(ctx, el, 0)
	require.NoError(t, err)

	_, err = s.Put(ctx, el, 0)
	require.ErrorIs(t, err, elementstore.ErrConflict)

	_, err = s.Put(ctx, el, rev)
	require.NoError(t, err)
	_, err = s.Put(ctx, el, rev)
	var ce *elementstore.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, el.ID, ce.ID)
}

func testDelete(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	el := Element(t, "r1", 1, 1, "0001")
	rev, err := s.Put(ctx, el, 0)
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, el.ID, rev+1), elementstore.ErrConflict)
	require.NoError(t, s.Delete(ctx, el.ID, rev))
	require.ErrorIs(t, s.Delete(ctx, el.ID, rev), elementstore.ErrNotFound)

	docs, err := s.Query(ctx, elementstore.ByRequest, elementstore.Key("r1"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testBulkPut(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	a := Element(t, "r1", 1, 1, "0001")
	b := Element(t, "r1", 2, 1, "0002")
	_, err := s.Put(ctx, a, 0)
	require.NoError(t, err)

	res, err := s.BulkPut(ctx, []elementstore.Write{{Element: a}, {Element: b}})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.ErrorIs(t, res[0].Err, elementstore.ErrConflict)
	assert.NoError(t, res[1].Err)
	assert.NotZero(t, res[1].Rev)

	_, _, err = s.Get(ctx, b.ID)
	assert.NoError(t, err)
}

func testViews(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	a := Element(t, "r1", 1, 1, "0001")
	b := Element(t, "r2", 2, 1, "0002")
	b.ParentQueueID = "parent-1"
	c := Element(t, "r3", 3, 1, "0003")
	c.Status = element.Acquired
	c.ChildQueue = "agent1"
	for _, el := range []*element.Element{a, b, c} {
		_, err := s.Put(ctx, el, 0)
		require.NoError(t, err)
	}

	ids := func(view elementstore.View, r elementstore.KeyRange) []string {
		docs, err := s.Query(ctx, view, r)
		require.NoError(t, err)
		var out []string
		for _, d := range docs {
			out = append(out, d.Element.RequestName)
		}
		return out
	}
	assert.Equal(t, []string{"r2"}, ids(elementstore.ByRequest, elementstore.Key("r2")))
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids(elementstore.ByRequest, elementstore.KeyRange{Start: "r1", End: "r2"}))
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, ids(elementstore.ByRequest, elementstore.All()))
	assert.Equal(t, []string{"r3"}, ids(elementstore.ByStatus, elementstore.Key(string(element.Acquired))))
	assert.Equal(t, []string{"r2"}, ids(elementstore.ByParent, elementstore.Key("parent-1")))
	assert.Equal(t, []string{"r3"}, ids(elementstore.ByChildQueue, elementstore.Key("agent1")))
	assert.Len(t, ids(elementstore.ByRequest, elementstore.KeyRange{Limit: 2}), 2)

	// moving an element out of a view drops its entry
	got, rev, err := s.Get(ctx, a.ID)
	require.NoError(t, err)
	got.Status = element.Canceled
	_, err = s.Put(ctx, got, rev)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, ids(elementstore.Available, elementstore.All()))
	assert.ElementsMatch(t, []string{"r1"}, ids(elementstore.ByStatus, elementstore.Key(string(element.Canceled))))
}

func testAvailableOrder(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	els := []*element.Element{
		Element(t, "low-old", 1, 1, "0001"),
		Element(t, "high-new", 2, 5, "0004"),
		Element(t, "high-old", 3, 5, "0002"),
		Element(t, "negative", 4, -3, "0000"),
		Element(t, "low-new", 5, 1, "0003"),
	}
	for _, el := range els {
		_, err := s.Put(ctx, el, 0)
		require.NoError(t, err)
	}
	docs, err := s.Query(ctx, elementstore.Available, elementstore.All())
	require.NoError(t, err)
	var order []string
	for _, d := range docs {
		order = append(order, d.Element.RequestName)
	}
	assert.Equal(t, []string{"high-old", "high-new", "low-old", "low-new", "negative"}, order)

	docs, err = s.Query(ctx, elementstore.Available, elementstore.KeyRange{Limit: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "high-old", docs[0].Element.RequestName)
}

// Only one of many writers holding the same revision wins.
func testConcurrentCAS(t *testing.T, s elementstore.Store) {
	ctx := context.Background()
	el := Element(t, "r1", 1, 1, "0001")
	rev, err := s.Put(ctx, el, 0)
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := el.Clone()
			c.ChildQueue = fmt.Sprintf("agent%d", i)
			if _, err := s.Put(ctx, c, rev); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, elementstore.ErrConflict)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testUnknownView(t *testing.T, s elementstore.Store) {
	_, err := s.Query(context.Background(), "by_colour", elementstore.All())
	assert.ErrorIs(t, err, elementstore.ErrView)
}
