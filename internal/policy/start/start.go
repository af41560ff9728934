// Package start chooses the injection granularity for a workload and turns
// its top-level tasks into elements.
package start

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/policy/splitting"
	"github.com/dmwm/workqueue/internal/workload"
)

// Names of the built-in start policies.
const (
	BlockPolicy   = "Block"
	DatasetPolicy = "Dataset"
	AutoPolicy    = "Auto"
)

// Request is one injection: the workload, the team its elements go to and
// the input gathered for each task, keyed by task name. Existing holds the
// elements earlier injections of the same request produced.
type Request struct {
	Workload *workload.Workload
	Team     string
	Inputs   map[string]*splitting.Input
	Existing []*element.Element
}

// Result is what a start policy produced.
type Result struct {
	Elements []*element.Element
	// TaskErrors holds the tasks that could not be split. Their siblings
	// still contribute elements.
	TaskErrors map[string]error
	// Withheld lists open-block remainders per task.
	Withheld map[string][]splitting.Withheld
}

// Err joins the per-task errors in task order, or returns nil.
func (r *Result) Err() error {
	if len(r.TaskErrors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.TaskErrors))
	for n := range r.TaskErrors {
		names = append(names, n)
	}
	sort.Strings(names)
	errs := make([]error, 0, len(names))
	for _, n := range names {
		errs = append(errs, r.TaskErrors[n])
	}
	return errors.Join(errs...)
}

func (r *Result) fail(task string, err error) {
	if r.TaskErrors == nil {
		r.TaskErrors = make(map[string]error)
	}
	r.TaskErrors[task] = err
}

func (r *Result) withhold(task string, w []splitting.Withheld) {
	if len(w) == 0 {
		return
	}
	if r.Withheld == nil {
		r.Withheld = make(map[string][]splitting.Withheld)
	}
	r.Withheld[task] = append(r.Withheld[task], w...)
}

// Policy turns a request into its initial elements.
type Policy interface {
	Name() string
	Apply(req Request) *Result
}

// Block splits every task with its own splitting algorithm, ChunkSize
// elements per Split call, until the input is consumed.
type Block struct {
	Splitters *splitting.Registry
	ChunkSize int
}

func (Block) Name() string { return BlockPolicy }

func (p Block) Apply(req Request) *Result {
	res := &Result{}
	for _, t := range req.Workload.ListTasks() {
		els, withheld, err := p.task(req, t, inputFor(req, t))
		if err != nil {
			res.fail(t.Name, err)
			continue
		}
		res.Elements = append(res.Elements, els...)
		res.withhold(t.Name, withheld)
	}
	return res
}

func (p Block) task(req Request, t *workload.Task, in *splitting.Input) ([]*element.Element, []splitting.Withheld, error) {
	reg := p.Splitters
	if reg == nil {
		reg = splitting.DefaultRegistry()
	}
	pol, err := reg.Get(t.SplittingAlgorithm)
	if err != nil {
		var se *splitting.SplittingError
		if errors.As(err, &se) {
			se.Task = t.Name
		}
		return nil, nil, err
	}
	u := splitting.Unit{Workload: req.Workload, Task: t, Team: req.Team}

	var out []*element.Element
	var cont *splitting.Continuation
	for {
		els, next, err := pol.Split(u, in, cont, splitting.Options{MaxElements: p.ChunkSize})
		if err != nil {
			return nil, nil, err
		}
		out = append(out, els...)
		if !next.More() {
			return out, next.Withheld(), nil
		}
		cont = next
	}
}

// Dataset makes one element per task covering every block of the input. A
// task whose input still has open blocks is split per block instead, so a
// later pass can pick up the remainder without overlapping earlier work.
//
// Later passes keep the granularity of earlier ones: blocks already covered
// by an unmasked element are left out, and a task split per block before
// stays split per block.
type Dataset struct {
	Fallback Block
}

func (Dataset) Name() string { return DatasetPolicy }

func (p Dataset) Apply(req Request) *Result {
	res := &Result{}
	for _, t := range req.Workload.ListTasks() {
		apply(res, req, t, p.Fallback, func(*splitting.Input) bool { return true })
	}
	return res
}

// apply splits one task into res. whole decides whether the blocks not yet
// covered may become a single element.
func apply(res *Result, req Request, t *workload.Task, block Block, whole func(*splitting.Input) bool) {
	in := inputFor(req, t)
	perBlock := t.MonteCarlo()
	if !perBlock {
		var covering []*element.Element
		in, covering, perBlock = resume(req, t, in)
		res.Elements = append(res.Elements, covering...)
	}
	if perBlock || hasOpen(in) || !whole(in) {
		els, withheld, err := block.task(req, t, in)
		if err != nil {
			res.fail(t.Name, err)
			return
		}
		res.Elements = append(res.Elements, els...)
		res.withhold(t.Name, withheld)
		return
	}
	el, err := wholeDataset(req, t, in)
	if err != nil {
		res.fail(t.Name, err)
		return
	}
	if el != nil {
		res.Elements = append(res.Elements, el)
	}
}

// resume drops from in the blocks an existing unmasked element of t already
// covers and returns those elements. perBlock is set when an existing element
// of t carries a mask, meaning an earlier pass split the task per block.
func resume(req Request, t *workload.Task, in *splitting.Input) (rest *splitting.Input, covering []*element.Element, perBlock bool) {
	path := t.Path(req.Workload.Name)
	covered := map[string]bool{}
	for _, el := range req.Existing {
		if el.TaskName != path {
			continue
		}
		if el.Mask != nil {
			perBlock = true
			continue
		}
		covering = append(covering, el)
		for _, name := range el.InputNames() {
			covered[name] = true
		}
	}
	if len(covered) == 0 {
		return in, covering, perBlock
	}
	c := *in
	c.Blocks = nil
	for _, b := range in.Blocks {
		if !covered[b.Name] {
			c.Blocks = append(c.Blocks, b)
		}
	}
	return &c, covering, perBlock
}

func wholeDataset(req Request, t *workload.Task, in *splitting.Input) (*element.Element, error) {
	var blocks []splitting.Block
	var files int64
	for _, b := range in.Blocks {
		if len(b.Files) == 0 {
			continue
		}
		blocks = append(blocks, b)
		files += int64(len(b.Files))
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	perJob, err := t.SplittingParams.Int("files_per_job", 1)
	if err != nil {
		return nil, &splitting.SplittingError{Task: t.Name, Algorithm: DatasetPolicy, Reason: err.Error()}
	}
	if perJob <= 0 {
		return nil, &splitting.SplittingError{Task: t.Name, Algorithm: DatasetPolicy, Reason: fmt.Sprintf("files_per_job must be positive, got %d", perJob)}
	}
	u := splitting.Unit{Workload: req.Workload, Task: t, Team: req.Team}
	return splitting.NewElement(u, in, blocks, nil, (files+perJob-1)/perJob)
}

// Auto picks per task: production tasks and large inputs are split per
// block, inputs of at most DatasetMaxFiles files become one element.
type Auto struct {
	Block           Block
	DatasetMaxFiles int
}

func (Auto) Name() string { return AutoPolicy }

func (p Auto) Apply(req Request) *Result {
	res := &Result{}
	for _, t := range req.Workload.ListTasks() {
		apply(res, req, t, p.Block, func(in *splitting.Input) bool {
			return countFiles(in) <= p.DatasetMaxFiles
		})
	}
	return res
}

// Registry maps start policy names to policies.
type Registry struct {
	policies map[string]Policy
	def      string
}

// NewRegistry registers ps; def names the policy used when a workload does
// not pick one.
func NewRegistry(def string, ps ...Policy) *Registry {
	r := &Registry{policies: make(map[string]Policy, len(ps)), def: def}
	for _, p := range ps {
		r.policies[p.Name()] = p
	}
	return r
}

// DefaultRegistry holds Block, Dataset and Auto, with Auto as the default.
func DefaultRegistry(splitters *splitting.Registry, chunkSize, datasetMaxFiles int) *Registry {
	b := Block{Splitters: splitters, ChunkSize: chunkSize}
	return NewRegistry(AutoPolicy, b, Dataset{Fallback: b}, Auto{Block: b, DatasetMaxFiles: datasetMaxFiles})
}

// For returns the policy named by the workload, or the default.
func (r *Registry) For(w *workload.Workload) (Policy, error) {
	name := w.StartPolicy
	if name == "" {
		name = r.def
	}
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("start policy %q: %w", name, ErrUnknownPolicy)
	}
	return p, nil
}

var ErrUnknownPolicy = errors.New("unknown start policy")

func inputFor(req Request, t *workload.Task) *splitting.Input {
	if in := req.Inputs[t.Name]; in != nil {
		return in
	}
	return &splitting.Input{Dataset: t.InputDataset, TotalEvents: t.TotalEvents}
}

func hasOpen(in *splitting.Input) bool {
	for _, b := range in.Blocks {
		if b.Open {
			return true
		}
	}
	return false
}

func countFiles(in *splitting.Input) int {
	n := 0
	for _, b := range in.Blocks {
		n += len(b.Files)
	}
	return n
}
