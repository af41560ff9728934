package workqueue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateWork = errors.New("duplicate work")
	ErrRequestClosed = errors.New("request closed")
	ErrDeferred      = errors.New("update deferred")
	ErrNotOwned      = errors.New("element not owned by queue")
)

// DuplicateWorkError reports an injection whose elements all exist already.
// It is an idempotent no-op: IDs holds the existing elements.
type DuplicateWorkError struct {
	Request string
	IDs     []string
}

func (e *DuplicateWorkError) Error() string {
	return fmt.Sprintf("request %s: all %d elements already queued", e.Request, len(e.IDs))
}

func (e *DuplicateWorkError) Is(target error) bool { return target == ErrDuplicateWork }

// RequestClosedError refuses new elements for a request that already
// reached a closed status.
type RequestClosedError struct {
	Request string
	Status  string
}

func (e *RequestClosedError) Error() string {
	return fmt.Sprintf("request %s is %s; refusing new elements", e.Request, strings.ToLower(e.Status))
}

func (e *RequestClosedError) Is(target error) bool { return target == ErrRequestClosed }

// DeferredError reports an update that kept losing revision checks.
type DeferredError struct {
	ID      string
	Op      string
	Retries int
	Err     error
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("%s %s: deferred after %d retries: %v", e.Op, e.ID, e.Retries, e.Err)
}

func (e *DeferredError) Is(target error) bool { return target == ErrDeferred }

func (e *DeferredError) Unwrap() error { return e.Err }
