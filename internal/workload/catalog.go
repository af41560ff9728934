package workload

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// File is one input file as listed by the catalog.
type File struct {
	LFN    string `json:"lfn" yaml:"lfn"`
	Size   int64  `json:"size,omitempty" yaml:"size,omitempty"`
	Events int64  `json:"events,omitempty" yaml:"events,omitempty"`
	Run    int64  `json:"run,omitempty" yaml:"run,omitempty"`
}

// BlockInfo is a catalog block. Open blocks may still receive files.
type BlockInfo struct {
	Name  string `json:"name" yaml:"name"`
	Open  bool   `json:"open,omitempty" yaml:"open,omitempty"`
	Files []File `json:"files" yaml:"files"`
}

// Catalog lists the blocks and files of a dataset.
type Catalog interface {
	Blocks(ctx context.Context, dataset string) ([]BlockInfo, error)
}

// UnknownDatasetError is returned by StaticCatalog for datasets it does not hold.
type UnknownDatasetError struct{ Dataset string }

func (e *UnknownDatasetError) Error() string { return "catalog: unknown dataset " + e.Dataset }

// StaticCatalog serves a fixed dataset listing. Safe for concurrent use.
type StaticCatalog struct {
	mu       sync.RWMutex
	datasets map[string][]BlockInfo
}

// NewStaticCatalog builds a catalog from dataset -> blocks.
func NewStaticCatalog(datasets map[string][]BlockInfo) *StaticCatalog {
	c := &StaticCatalog{datasets: map[string][]BlockInfo{}}
	for k, v := range datasets {
		c.datasets[k] = v
	}
	return c
}

// Blocks returns a copy of the dataset's blocks.
func (c *StaticCatalog) Blocks(_ context.Context, dataset string) ([]BlockInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blocks, ok := c.datasets[dataset]
	if !ok {
		return nil, &UnknownDatasetError{Dataset: dataset}
	}
	out := make([]BlockInfo, len(blocks))
	for i, b := range blocks {
		out[i] = BlockInfo{Name: b.Name, Open: b.Open, Files: append([]File(nil), b.Files...)}
	}
	return out, nil
}

// SetBlocks replaces a dataset's listing.
func (c *StaticCatalog) SetBlocks(dataset string, blocks []BlockInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[dataset] = blocks
}

// LoadCatalogFile reads a YAML mapping of dataset -> blocks.
func LoadCatalogFile(path string) (*StaticCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var datasets map[string][]BlockInfo
	if err := yaml.Unmarshal(b, &datasets); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return NewStaticCatalog(datasets), nil
}
