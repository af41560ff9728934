package location

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	calls atomic.Int64
	inner Service
}

func (c *countingService) LocationsForBlock(ctx context.Context, block string) ([]string, error) {
	c.calls.Add(1)
	return c.inner.LocationsForBlock(ctx, block)
}

type lookupCounter struct{ ok, failed int }

func (l *lookupCounter) ObserveLookup(ok bool) {
	if ok {
		l.ok++
	} else {
		l.failed++
	}
}

func TestPassCachesPerReference(t *testing.T) {
	svc := &countingService{inner: NewStaticService(map[string][]string{"b1": {"SiteB", "SiteA"}})}
	r := NewResolver(svc, nil)
	ctx := context.Background()

	p := r.NewPass()
	res := p.Resolve(ctx, []string{"b1", "b1", "b2"})
	assert.Equal(t, []string{"SiteA", "SiteB"}, res["b1"].Sites)
	assert.True(t, res["b1"].Known)
	assert.True(t, res["b2"].Known)
	assert.Empty(t, res["b2"].Sites)
	_ = p.Locations(ctx, "b1")
	assert.EqualValues(t, 2, svc.calls.Load())

	// a new pass sees fresh data
	svc.inner.(*StaticService).Set("b1", []string{"SiteC"})
	assert.Equal(t, []string{"SiteC"}, r.NewPass().Locations(ctx, "b1").Sites)
	assert.EqualValues(t, 3, svc.calls.Load())
}

func TestFailSoft(t *testing.T) {
	static := NewStaticService(map[string][]string{"b1": {"SiteA"}})
	static.SetDown(true)
	obs := &lookupCounter{}
	r := NewResolver(static, nil).WithObserver(obs)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := r.NewPass().Locations(ctx, "b1")
		assert.False(t, res.Known)
		assert.Empty(t, res.Sites)
	}
	assert.EqualValues(t, 3, r.failures.Load())
	assert.Equal(t, 3, obs.failed)

	static.SetDown(false)
	res := r.NewPass().Locations(ctx, "b1")
	assert.True(t, res.Known)
	assert.Zero(t, r.failures.Load())
	assert.Equal(t, 1, obs.ok)
}

func TestStaticServiceDown(t *testing.T) {
	s := NewStaticService(nil)
	s.SetDown(true)
	_, err := s.LocationsForBlock(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestEligible(t *testing.T) {
	slots := map[string]int{"SiteA": 2, "SiteB": 0, "SiteC": 5}
	got := Eligible(slots, func(s string) bool { return s != "SiteC" })
	assert.Equal(t, []string{"SiteA"}, got)
	assert.Equal(t, []string{"SiteA", "SiteC"}, Eligible(slots, func(string) bool { return true }))
}

func TestStaticResourcesCopy(t *testing.T) {
	r := NewStaticResources(map[string]int{"SiteA": 3})
	got, err := r.FreeSlotsPerSite(context.Background())
	require.NoError(t, err)
	got["SiteA"] = 0
	again, _ := r.FreeSlotsPerSite(context.Background())
	assert.Equal(t, 3, again["SiteA"])
	r.Set("SiteB", 1)
	again, _ = r.FreeSlotsPerSite(context.Background())
	assert.Equal(t, 1, again["SiteB"])
}

func TestLoadLocationsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.yaml")
	require.NoError(t, os.WriteFile(path, []byte("/A/B/RAW#1: [SiteA, SiteB]\n"), 0o644))
	svc, err := LoadLocationsFile(path)
	require.NoError(t, err)
	sites, err := svc.LocationsForBlock(context.Background(), "/A/B/RAW#1")
	require.NoError(t, err)
	assert.Equal(t, []string{"SiteA", "SiteB"}, sites)

	require.NoError(t, os.WriteFile(path, []byte("not: [a, mapping"), 0o644))
	_, err = LoadLocationsFile(path)
	assert.Error(t, err)
}
