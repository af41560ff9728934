package element

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an element.
type Status string

const (
	Available       Status = "Available"
	Negotiating     Status = "Negotiating"
	Acquired        Status = "Acquired"
	Running         Status = "Running"
	Done            Status = "Done"
	Failed          Status = "Failed"
	Canceled        Status = "Canceled"
	CancelRequested Status = "CancelRequested"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{Available, Negotiating, Acquired, Running, CancelRequested, Done, Failed, Canceled}

var transitions = map[Status][]Status{
	Available:       {Negotiating, CancelRequested, Canceled, Failed},
	Negotiating:     {Acquired, Canceled, Failed},
	Acquired:        {Running, Canceled, Failed},
	Running:         {Done, Canceled, Failed},
	CancelRequested: {Canceled},
}

// ParseStatus validates s against the known statuses.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == Done || s == Failed || s == Canceled
}

// Rank orders statuses along the state machine; terminal states rank highest.
func (s Status) Rank() int {
	switch s {
	case Available:
		return 0
	case Negotiating, CancelRequested:
		return 1
	case Acquired:
		return 2
	case Running:
		return 3
	case Done, Failed, Canceled:
		return 4
	default:
		return -1
	}
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParentStatus is the status a parent copy should hold for a child copy in s.
// Work still queued or being handed to job creation on the child keeps the
// parent at Acquired.
func (s Status) ParentStatus() Status {
	switch s {
	case Available, Negotiating, Acquired:
		return Acquired
	case CancelRequested:
		return Canceled
	default:
		return s
	}
}

// SetStatus moves e to next along a legal edge and stamps UpdateTime.
func (e *Element) SetStatus(next Status, now time.Time) error {
	if !CanTransition(e.Status, next) {
		return &InvalidTransitionError{ID: e.ID, From: e.Status, To: next}
	}
	if next == Acquired && e.ChildQueue == "" {
		return &InvalidTransitionError{ID: e.ID, From: e.Status, To: next, Reason: "child queue not set"}
	}
	e.Status = next
	e.UpdateTime = now
	return nil
}

// RevertNegotiation returns an expired Negotiating element to Available.
// It is the only backward edge and is reserved for negotiation expiry.
func (e *Element) RevertNegotiation(now time.Time) error {
	if e.Status != Negotiating {
		return &InvalidTransitionError{ID: e.ID, From: e.Status, To: Available, Reason: "only negotiating elements expire"}
	}
	e.Status = Available
	e.ChildQueue = ""
	e.UpdateTime = now
	return nil
}
