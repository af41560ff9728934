// Package splitting turns a task plus a snapshot of its available input into
// elements.
//
// Splitting is pure: the caller gathers block listings and locations first
// and hands them over as an Input. Each policy assigns every consumed file
// (or event) to exactly one element. A call may stop early when
// Options.MaxElements is reached; the returned Continuation resumes it. Open
// blocks never produce an undersized trailing element; the held-back part is
// reported through Continuation.Withheld and is split by a later pass once the
// block closes.
package splitting

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/workload"
)

// Block is an input block with its resolved locations.
type Block struct {
	Name  string
	Sites []string
	Open  bool
	Files []workload.File
}

// Input is the available input for one task.
type Input struct {
	Dataset string
	Blocks  []Block
	// TotalEvents is the production target for tasks without input.
	TotalEvents int64
}

// Unit identifies what is being split.
type Unit struct {
	Workload *workload.Workload
	Task     *workload.Task
	Team     string
}

// Options bound a single Split call.
type Options struct {
	// MaxElements stops the call once this many elements are produced. 0 = no limit.
	MaxElements int
}

// Withheld describes an open block remainder left for a later pass.
type Withheld struct {
	Block  string
	Offset int64
}

// Continuation is the resume position of a split. A nil continuation means
// the input is fully consumed.
type Continuation struct {
	block    int
	offset   int64
	more     bool
	withheld []Withheld
}

// More reports whether another Split call can make progress now.
func (c *Continuation) More() bool { return c != nil && c.more }

// Withheld lists open-block remainders that are not consumed yet.
func (c *Continuation) Withheld() []Withheld {
	if c == nil {
		return nil
	}
	return c.withheld
}

func (c *Continuation) String() string {
	if c == nil {
		return "done"
	}
	return fmt.Sprintf("block=%d offset=%d more=%t withheld=%d", c.block, c.offset, c.more, len(c.withheld))
}

// Policy splits one task's input.
type Policy interface {
	Name() string
	Split(u Unit, in *Input, cont *Continuation, opts Options) ([]*element.Element, *Continuation, error)
}

var ErrSplitting = errors.New("splitting failed")

// SplittingError reports inconsistent splitting parameters or input.
type SplittingError struct {
	Task      string
	Algorithm string
	Reason    string
}

func (e *SplittingError) Error() string {
	return fmt.Sprintf("splitting %s with %s: %s", e.Task, e.Algorithm, e.Reason)
}

func (e *SplittingError) Is(target error) bool { return target == ErrSplitting }

// Registry maps algorithm names to policies. It is built once and read-only
// afterwards.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry registers ps under their names.
func NewRegistry(ps ...Policy) *Registry {
	r := &Registry{policies: make(map[string]Policy, len(ps))}
	for _, p := range ps {
		r.policies[p.Name()] = p
	}
	return r
}

// DefaultRegistry holds every built-in policy.
func DefaultRegistry() *Registry {
	return NewRegistry(FileBased{}, EventBased{}, SizeBased{}, RunBased{}, BlockBased{})
}

// Get returns the policy for name.
func (r *Registry) Get(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return nil, &SplittingError{Algorithm: name, Reason: "unknown splitting algorithm"}
	}
	return p, nil
}

// Names lists registered algorithms.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.policies))
	for n := range r.policies {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// splitter carries shared state through one Split call.
type splitter struct {
	alg  string
	u    Unit
	in   *Input
	opts Options
	out  []*element.Element
	cont Continuation
}

func newSplitter(alg string, u Unit, in *Input, cont *Continuation, opts Options) *splitter {
	s := &splitter{alg: alg, u: u, in: in, opts: opts}
	if cont != nil {
		s.cont.block = cont.block
		s.cont.offset = cont.offset
		s.cont.withheld = append(s.cont.withheld, cont.withheld...)
	}
	return s
}

func (s *splitter) fail(format string, args ...any) error {
	return &SplittingError{Task: s.u.Task.Name, Algorithm: s.alg, Reason: fmt.Sprintf(format, args...)}
}

// param reads a positive integer parameter. def <= 0 makes it required.
func (s *splitter) param(key string, def int64) (int64, error) {
	v, err := s.u.Task.SplittingParams.Int(key, def)
	if err != nil {
		return 0, s.fail("%v", err)
	}
	if v <= 0 {
		if def <= 0 {
			if _, ok := s.u.Task.SplittingParams[key]; !ok {
				return 0, s.fail("%s is required", key)
			}
		}
		return 0, s.fail("%s must be positive, got %d", key, v)
	}
	return v, nil
}

func (s *splitter) requireInput() error {
	if s.u.Task.MonteCarlo() {
		return s.fail("algorithm needs input data")
	}
	return nil
}

// full reports whether the element budget for this call is spent.
func (s *splitter) full() bool {
	return s.opts.MaxElements > 0 && len(s.out) >= s.opts.MaxElements
}

// pause records a resume point after hitting the element budget.
func (s *splitter) pause(block int, offset int64) {
	s.cont.block = block
	s.cont.offset = offset
	s.cont.more = true
}

func (s *splitter) withhold(block string, offset int64) {
	s.cont.withheld = append(s.cont.withheld, Withheld{Block: block, Offset: offset})
}

func (s *splitter) emit(blocks []Block, mask *element.Mask, jobs int64) error {
	e, err := NewElement(s.u, s.in, blocks, mask, jobs)
	if err != nil {
		return err
	}
	s.out = append(s.out, e)
	return nil
}

func (s *splitter) finish() ([]*element.Element, *Continuation, error) {
	if !s.cont.more && len(s.cont.withheld) == 0 {
		return s.out, nil, nil
	}
	c := s.cont
	return s.out, &c, nil
}

// startAt returns the block index and offset to resume from.
func (s *splitter) startAt() (int, int64) { return s.cont.block, s.cont.offset }

// NewElement builds an Available element for u covering blocks, with its id
// assigned.
func NewElement(u Unit, in *Input, blocks []Block, mask *element.Mask, jobs int64) (*element.Element, error) {
	e := &element.Element{
		RequestName:    u.Workload.Name,
		TaskName:       u.Task.Path(u.Workload.Name),
		Mask:           mask,
		DbsURL:         u.Workload.DbsURL,
		Status:         element.Available,
		Jobs:           int(jobs),
		Priority:       u.Workload.Priority,
		Team:           u.Team,
		SiteWhitelist:  append([]string(nil), u.Task.SiteWhitelist...),
		SiteBlacklist:  append([]string(nil), u.Task.SiteBlacklist...),
		ProcessingType: u.Task.Type,
		NonRecoverable: u.Task.NonRecoverable,
	}
	if u.Task.ACDC != nil {
		a := *u.Task.ACDC
		e.ACDC = &a
	}
	if !u.Task.MonteCarlo() {
		e.InputDataset = in.Dataset
		for _, b := range blocks {
			e.Inputs = append(e.Inputs, element.Input{Name: b.Name, Sites: append([]string(nil), b.Sites...)})
		}
	}
	if err := e.AssignID(); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
