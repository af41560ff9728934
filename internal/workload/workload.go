// Package workload holds the minimal view of a request the queue consumes:
// its task tree, splitting parameters, site lists and input references.
package workload

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dmwm/workqueue/internal/element"
)

// Workload is one request's task tree.
type Workload struct {
	Name        string  `json:"name" yaml:"name"`
	Priority    int     `json:"priority" yaml:"priority"`
	DbsURL      string  `json:"dbsUrl,omitempty" yaml:"dbsUrl,omitempty"`
	StartPolicy string  `json:"startPolicy,omitempty" yaml:"startPolicy,omitempty"`
	Tasks       []*Task `json:"tasks" yaml:"tasks"`
}

// Task is one node of the tree. Only top-level tasks are split by the queue.
type Task struct {
	Name               string        `json:"name" yaml:"name"`
	Type               string        `json:"type,omitempty" yaml:"type,omitempty"`
	SplittingAlgorithm string        `json:"splittingAlgorithm" yaml:"splittingAlgorithm"`
	SplittingParams    Params        `json:"splittingParams,omitempty" yaml:"splittingParams,omitempty"`
	InputDataset       string        `json:"inputDataset,omitempty" yaml:"inputDataset,omitempty"`
	TotalEvents        int64         `json:"totalEvents,omitempty" yaml:"totalEvents,omitempty"`
	SiteWhitelist      []string      `json:"siteWhitelist,omitempty" yaml:"siteWhitelist,omitempty"`
	SiteBlacklist      []string      `json:"siteBlacklist,omitempty" yaml:"siteBlacklist,omitempty"`
	NonRecoverable     bool          `json:"nonRecoverable,omitempty" yaml:"nonRecoverable,omitempty"`
	ACDC               *element.ACDC `json:"acdc,omitempty" yaml:"acdc,omitempty"`
	Children           []*Task       `json:"children,omitempty" yaml:"children,omitempty"`
}

// ListTasks returns the top-level tasks.
func (w *Workload) ListTasks() []*Task { return w.Tasks }

// MonteCarlo reports whether the task generates events instead of reading input.
func (t *Task) MonteCarlo() bool { return t.InputDataset == "" }

// Path returns the task path under the request, e.g. /req/Processing.
func (t *Task) Path(request string) string { return "/" + request + "/" + t.Name }

// Params are splitting parameters. Values come from YAML or JSON and may be
// any scalar; Int normalises the numeric forms.
type Params map[string]any

// Int returns the integer value of key, def when absent, and an error when
// present but not an integer.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer", key, v)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("parameter %s: unsupported type %T", key, v)
	}
}

// Validate checks the fields the queue depends on.
func (w *Workload) Validate() error {
	if w.Name == "" {
		return &element.ValidationError{Field: "workload.name", Reason: "must not be empty"}
	}
	if len(w.Tasks) == 0 {
		return &element.ValidationError{Field: "workload.tasks", Reason: "no top-level tasks"}
	}
	seen := map[string]bool{}
	for _, t := range w.Tasks {
		if t.Name == "" {
			return &element.ValidationError{Field: "task.name", Reason: "must not be empty"}
		}
		if seen[t.Name] {
			return &element.ValidationError{Field: "task.name", Reason: "duplicate task " + t.Name}
		}
		seen[t.Name] = true
	}
	return nil
}

// LoadFile reads a workload from a YAML (or JSON, a YAML subset) file.
func LoadFile(path string) (*Workload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var w Workload
	if err := yaml.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("workload %s: %w", path, err)
	}
	return &w, nil
}
