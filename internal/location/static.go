package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrUnavailable is returned by StaticService while marked down.
var ErrUnavailable = errors.New("location service unavailable")

// StaticService serves locations from a fixed block -> sites table.
// Unknown blocks have no replicas.
type StaticService struct {
	mu     sync.RWMutex
	blocks map[string][]string
	down   bool
}

func NewStaticService(blocks map[string][]string) *StaticService {
	s := &StaticService{blocks: map[string][]string{}}
	for k, v := range blocks {
		s.blocks[k] = append([]string(nil), v...)
	}
	return s
}

func (s *StaticService) LocationsForBlock(_ context.Context, block string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, ErrUnavailable
	}
	return append([]string(nil), s.blocks[block]...), nil
}

// LoadLocationsFile reads a YAML mapping of block -> sites.
func LoadLocationsFile(path string) (*StaticService, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var blocks map[string][]string
	if err := yaml.Unmarshal(b, &blocks); err != nil {
		return nil, fmt.Errorf("locations %s: %w", path, err)
	}
	return NewStaticService(blocks), nil
}

// Set replaces the locations of block.
func (s *StaticService) Set(block string, sites []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block] = append([]string(nil), sites...)
}

// SetDown toggles simulated unavailability.
func (s *StaticService) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// StaticResources reports a fixed slot table.
type StaticResources struct {
	mu    sync.RWMutex
	slots map[string]int
}

func NewStaticResources(slots map[string]int) *StaticResources {
	r := &StaticResources{slots: map[string]int{}}
	for k, v := range slots {
		r.slots[k] = v
	}
	return r
}

func (r *StaticResources) FreeSlotsPerSite(context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.slots))
	for k, v := range r.slots {
		out[k] = v
	}
	return out, nil
}

// Set updates one site's free slots.
func (r *StaticResources) Set(site string, slots int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[site] = slots
}
