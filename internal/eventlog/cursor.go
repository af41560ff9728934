package eventlog

import (
	"encoding/binary"
	"errors"

	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

// CommitCursor records seq as the last entry group has processed. Commits
// at or below the stored cursor are ignored.
func (l *Log) CommitCursor(group string, seq uint64) error {
	prev, ok, err := l.Cursor(group)
	if err != nil {
		return err
	}
	if ok && seq <= prev {
		return nil
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return l.db.Set(KeyCursor(l.queue, l.topic, group), b[:])
}

// Cursor returns the committed cursor of group.
func (l *Log) Cursor(group string) (uint64, bool, error) {
	cur, err := l.db.Get(KeyCursor(l.queue, l.topic, group))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(cur) < 8 {
		return 0, false, ErrCorrupt
	}
	return binary.BigEndian.Uint64(cur[:8]), true, nil
}

// Cursors returns every committed cursor of the topic by group.
func (l *Log) Cursors() (map[string]uint64, error) {
	prefix := KeyCursorPrefix(l.queue, l.topic)
	out := map[string]uint64{}
	err := l.db.ScanPrefix(prefix, func(k, v []byte) bool {
		if len(v) >= 8 {
			out[string(k[len(prefix):])] = binary.BigEndian.Uint64(v[:8])
		}
		return true
	})
	return out, err
}
