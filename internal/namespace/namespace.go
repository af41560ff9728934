// Package namespace records the identity of the queue that owns a data
// directory, so a directory written by one queue is never reopened as
// another.
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

// Meta identifies a queue.
type Meta struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	ParentURL   string `json:"parentUrl,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
	// Schema is the element key layout version.
	Schema int `json:"schema"`
}

// SchemaVersion is the element key layout written by this build.
const SchemaVersion = 1

// MismatchError reports a data directory that belongs to another queue.
type MismatchError struct {
	Field          string
	Stored, Wanted string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("namespace: data directory belongs to %s %q, not %q", e.Field, e.Stored, e.Wanted)
}

var metaKey = []byte("nsmeta/queue")

// Ensure records want as the owner of db if none is recorded yet and
// returns the effective meta. The parent address may change between runs;
// name, kind and schema may not.
func Ensure(db *pebblestore.DB, want Meta, now time.Time) (Meta, error) {
	b, err := db.Get(metaKey)
	switch {
	case err == nil && len(b) > 0:
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return Meta{}, fmt.Errorf("namespace: decode meta: %w", err)
		}
		if m.Name != want.Name {
			return Meta{}, &MismatchError{Field: "queue", Stored: m.Name, Wanted: want.Name}
		}
		if m.Kind != want.Kind {
			return Meta{}, &MismatchError{Field: "kind", Stored: m.Kind, Wanted: want.Kind}
		}
		if m.Schema > SchemaVersion {
			return Meta{}, fmt.Errorf("namespace: schema %d is newer than %d", m.Schema, SchemaVersion)
		}
		if m.ParentURL == want.ParentURL {
			return m, nil
		}
		m.ParentURL = want.ParentURL
		return m, put(db, m)
	case err == nil, errors.Is(err, pebblestore.ErrNotFound):
	default:
		return Meta{}, err
	}
	m := want
	m.CreatedAtMs = now.UnixMilli()
	m.Schema = SchemaVersion
	return m, put(db, m)
}

// Load returns the recorded meta, or ok=false on a fresh directory.
func Load(db *pebblestore.DB) (Meta, bool, error) {
	b, err := db.Get(metaKey)
	if errors.Is(err, pebblestore.ErrNotFound) || (err == nil && len(b) == 0) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	var m Meta
	if err := json.Unmarshal(b, &m); err != nil {
		return Meta{}, false, err
	}
	return m, true, nil
}

func put(db *pebblestore.DB, m Meta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return db.Set(metaKey, b)
}
