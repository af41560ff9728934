// Package end derives a request's status from its elements.
package end

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmwm/workqueue/internal/element"
)

// RequestStatus is the derived state of a whole request.
type RequestStatus string

const (
	Empty    RequestStatus = "Empty"
	Running  RequestStatus = "Running"
	Complete RequestStatus = "Complete"
	Failed   RequestStatus = "Failed"
	Archived RequestStatus = "Archived"
)

// Closed reports whether no further work may join the request.
func (s RequestStatus) Closed() bool {
	return s == Complete || s == Failed || s == Archived
}

// Policy evaluates the elements of one request.
type Policy interface {
	Name() string
	Evaluate(els []*element.Element, now time.Time) RequestStatus
}

// SingleShot closes a request once every element is terminal. Any failed
// non-recoverable element fails it. A closed request whose elements have all
// been idle for ArchiveDelay is Archived.
type SingleShot struct {
	ArchiveDelay time.Duration
}

func (SingleShot) Name() string { return SingleShotPolicy }

func (p SingleShot) Evaluate(els []*element.Element, now time.Time) RequestStatus {
	if len(els) == 0 {
		return Empty
	}
	failed := false
	var newest time.Time
	for _, e := range els {
		if !e.Status.Terminal() {
			return Running
		}
		if e.Status == element.Failed && e.NonRecoverable {
			failed = true
		}
		if e.UpdateTime.After(newest) {
			newest = e.UpdateTime
		}
	}
	if p.ArchiveDelay > 0 && now.Sub(newest) >= p.ArchiveDelay {
		return Archived
	}
	if failed {
		return Failed
	}
	return Complete
}

// Registry maps end policy names to policies.
type Registry struct {
	policies map[string]Policy
}

// SingleShotPolicy names the default end policy.
const SingleShotPolicy = "SingleShot"

var ErrUnknownPolicy = errors.New("unknown end policy")

func NewRegistry(ps ...Policy) *Registry {
	r := &Registry{policies: make(map[string]Policy, len(ps))}
	for _, p := range ps {
		r.policies[p.Name()] = p
	}
	return r
}

// DefaultRegistry holds the built-in end policies. archiveDelay configures
// SingleShot.
func DefaultRegistry(archiveDelay time.Duration) *Registry {
	return NewRegistry(SingleShot{ArchiveDelay: archiveDelay})
}

// Get returns the named policy. An empty name selects SingleShot.
func (r *Registry) Get(name string) (Policy, error) {
	if name == "" {
		name = SingleShotPolicy
	}
	p, ok := r.policies[name]
	if !ok {
		return nil, fmt.Errorf("end policy %q: %w", name, ErrUnknownPolicy)
	}
	return p, nil
}
