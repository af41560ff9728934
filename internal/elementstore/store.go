// Package elementstore defines the document store holding element state.
//
// Every element is one document guarded by a revision token. Writers pass
// the revision they read; a stale revision fails with a ConflictError and the
// caller re-reads before retrying. Revision 0 means "absent", so Put with 0
// creates and fails if the document exists.
//
// Views are secondary orderings maintained by the backend alongside each
// write:
//
//	ByStatus      status
//	ByRequest     request name
//	ByParent      parent queue element id
//	ByChildQueue  queue that acquired the element
//	Available     Available elements, priority desc then insertion asc
package elementstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmwm/workqueue/internal/element"
)

// Revision is an opaque, monotonically increasing document version.
type Revision uint64

// View names a secondary ordering.
type View string

const (
	ByStatus     View = "by_status"
	ByRequest    View = "by_request"
	ByParent     View = "by_parent"
	ByChildQueue View = "by_child_queue"
	Available    View = "available"
)

// Views lists every view a backend must maintain.
var Views = []View{ByStatus, ByRequest, ByParent, ByChildQueue, Available}

// KeyRange selects view keys in [Start, End]. An empty range selects the
// whole view. The Available view is ordered by priority and ignores Start
// and End.
type KeyRange struct {
	Start string
	End   string
	// Limit caps the number of documents. 0 = no limit.
	Limit int
}

// Key selects exactly one view key.
func Key(k string) KeyRange { return KeyRange{Start: k, End: k} }

// All selects the whole view.
func All() KeyRange { return KeyRange{} }

// Whole reports whether r selects the whole view.
func (r KeyRange) Whole() bool { return r.Start == "" && r.End == "" }

// Doc is an element with the revision it was read at.
type Doc struct {
	Element *element.Element
	Rev     Revision
}

// Write is one entry of a bulk put.
type Write struct {
	Element  *element.Element
	Expected Revision
}

// WriteResult reports the outcome of one bulk put entry.
type WriteResult struct {
	ID  string
	Rev Revision
	Err error
}

// Store is the element document store.
type Store interface {
	Get(ctx context.Context, id string) (*element.Element, Revision, error)
	// Put writes el if the stored revision equals expected and returns the new
	// revision.
	Put(ctx context.Context, el *element.Element, expected Revision) (Revision, error)
	Delete(ctx context.Context, id string, expected Revision) error
	Query(ctx context.Context, view View, r KeyRange) ([]Doc, error)
	// BulkPut applies each write independently; one conflict does not fail
	// the others.
	BulkPut(ctx context.Context, writes []Write) ([]WriteResult, error)
	Close() error
}

var (
	ErrNotFound = errors.New("element not found")
	ErrConflict = errors.New("revision conflict")
	ErrView     = errors.New("unknown view")
)

// ConflictError reports a stale expected revision.
type ConflictError struct {
	ID       string
	Expected Revision
	Actual   Revision
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("element %s: expected revision %d, found %d", e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ViewKey returns the key el holds in view, and false when el is not part of
// the view. Available keys are ordered by the backend and are not returned
// here.
func ViewKey(view View, el *element.Element) (string, bool) {
	switch view {
	case ByStatus:
		return string(el.Status), true
	case ByRequest:
		return el.RequestName, true
	case ByParent:
		return el.ParentQueueID, el.ParentQueueID != ""
	case ByChildQueue:
		return el.ChildQueue, el.ChildQueue != ""
	case Available:
		return "", el.Status == element.Available
	default:
		return "", false
	}
}

// ValidView checks v against Views.
func ValidView(v View) error {
	for _, known := range Views {
		if v == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrView, v)
}
