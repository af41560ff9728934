// Package pebblekv stores element documents in Pebble.
//
// Each queue owns the keyspace q/{queue}/. A document and its index entries
// are written in one batch, so views never disagree with documents.
// Revision checks are serialized by an in-process lock; a Pebble directory
// must be opened by one process at a time.
package pebblekv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

// ErrCorrupt reports a document that failed its checksum.
var ErrCorrupt = errors.New("corrupt element record")

// Store implements elementstore.Store for one queue.
type Store struct {
	db    *pebblestore.DB
	queue string
	owned bool

	mu sync.Mutex
}

var _ elementstore.Store = (*Store)(nil)

// New returns a store for queue over an open database. Close does not close
// db.
func New(db *pebblestore.DB, queue string) *Store {
	return &Store{db: db, queue: queue}
}

// Open opens a database with opts and returns a store that owns it.
func Open(opts pebblestore.Options, queue string) (*Store, error) {
	db, err := pebblestore.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, queue: queue, owned: true}, nil
}

func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*element.Element, elementstore.Revision, error) {
	return s.read(id)
}

func (s *Store) read(id string) (*element.Element, elementstore.Revision, error) {
	raw, err := s.db.Get(docKey(s.queue, id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, 0, fmt.Errorf("%s: %w", id, elementstore.ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	rev, payload, ok := decodeRecord(raw)
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", id, ErrCorrupt)
	}
	el := &element.Element{}
	if err := json.Unmarshal(payload, el); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", id, err)
	}
	return el, rev, nil
}

func (s *Store) Put(ctx context.Context, el *element.Element, expected elementstore.Revision) (elementstore.Revision, error) {
	res, err := s.BulkPut(ctx, []elementstore.Write{{Element: el, Expected: expected}})
	if err != nil {
		return 0, err
	}
	return res[0].Rev, res[0].Err
}

func (s *Store) BulkPut(ctx context.Context, writes []elementstore.Write) ([]elementstore.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()

	results := make([]elementstore.WriteResult, len(writes))
	staged := map[string]elementstore.Revision{}
	for i, w := range writes {
		results[i] = elementstore.WriteResult{ID: w.Element.ID}
		if w.Element.ID == "" {
			results[i].Err = &element.ValidationError{Field: "id", Reason: "must not be empty"}
			continue
		}
		if _, dup := staged[w.Element.ID]; dup {
			results[i].Err = &elementstore.ConflictError{ID: w.Element.ID, Expected: w.Expected, Actual: staged[w.Element.ID]}
			continue
		}
		rev, err := s.stage(b, w)
		if err != nil {
			results[i].Err = err
			continue
		}
		staged[w.Element.ID] = rev
		results[i].Rev = rev
	}
	if len(staged) == 0 {
		return results, nil
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	return results, nil
}

// stage checks the revision of one write and adds it to b.
func (s *Store) stage(b *pebble.Batch, w elementstore.Write) (elementstore.Revision, error) {
	el := w.Element
	old, cur, err := s.read(el.ID)
	if err != nil && !errors.Is(err, elementstore.ErrNotFound) {
		return 0, err
	}
	if cur != w.Expected {
		return 0, &elementstore.ConflictError{ID: el.ID, Expected: w.Expected, Actual: cur}
	}
	payload, err := json.Marshal(el)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", el.ID, err)
	}
	if old != nil {
		for _, k := range indexKeys(s.queue, old) {
			if err := b.Delete(k, nil); err != nil {
				return 0, err
			}
		}
	}
	next := cur + 1
	if err := b.Set(docKey(s.queue, el.ID), encodeRecord(next, payload), nil); err != nil {
		return 0, err
	}
	for _, k := range indexKeys(s.queue, el) {
		if err := b.Set(k, nil, nil); err != nil {
			return 0, err
		}
	}
	return next, nil
}

func (s *Store) Delete(ctx context.Context, id string, expected elementstore.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, cur, err := s.read(id)
	if err != nil {
		return err
	}
	if cur != expected {
		return &elementstore.ConflictError{ID: id, Expected: expected, Actual: cur}
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(docKey(s.queue, id), nil); err != nil {
		return err
	}
	for _, k := range indexKeys(s.queue, old) {
		if err := b.Delete(k, nil); err != nil {
			return err
		}
	}
	return s.db.CommitBatch(ctx, b)
}

func (s *Store) Query(ctx context.Context, view elementstore.View, r elementstore.KeyRange) ([]elementstore.Doc, error) {
	if err := elementstore.ValidView(view); err != nil {
		return nil, err
	}
	lo, hi := rangeBounds(s.queue, view, r)
	var ids []string
	err := s.db.ScanRange(lo, hi, func(k, _ []byte) bool {
		ids = append(ids, idFromIndexKey(k))
		return r.Limit <= 0 || len(ids) < r.Limit
	})
	if err != nil {
		return nil, err
	}
	out := make([]elementstore.Doc, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		el, rev, err := s.read(id)
		if errors.Is(err, elementstore.ErrNotFound) {
			// deleted between the index scan and the read
			continue
		}
		if err != nil {
			return nil, err
		}
		if !inRange(view, r, el) {
			continue
		}
		out = append(out, elementstore.Doc{Element: el, Rev: rev})
	}
	return out, nil
}

// inRange rechecks a document read after its index entry was scanned.
func inRange(view elementstore.View, r elementstore.KeyRange, el *element.Element) bool {
	k, ok := elementstore.ViewKey(view, el)
	if !ok {
		return false
	}
	if r.Whole() || view == elementstore.Available {
		return true
	}
	return k >= r.Start && (r.End == "" || k <= r.End)
}

// Count returns the number of documents in the queue.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.ScanPrefix(docPrefix(s.queue), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}
