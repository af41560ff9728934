package eventlog

import (
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type ReadOptions struct {
	// From is the first sequence to return; 0 starts at the oldest entry
	// (newest when Reverse).
	From    uint64
	Limit   int
	Reverse bool
}

type Entry struct {
	Seq      uint64    `json:"seq"`
	Appended time.Time `json:"appended"`
	Key      string    `json:"key"`
	Payload  []byte    `json:"payload"`
}

// Read returns up to Limit entries starting at From, and the sequence to pass
// as From to continue (0 when nothing follows).
func (l *Log) Read(opts ReadOptions) ([]Entry, uint64, error) {
	low := KeyEntry(l.queue, l.topic, 0)
	hi := KeyEntry(l.queue, l.topic, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	var ok bool
	switch {
	case opts.Reverse && opts.From == 0:
		ok = iter.Last()
	case opts.Reverse:
		ok = iter.SeekLT(KeyEntry(l.queue, l.topic, opts.From+1))
	case opts.From == 0:
		ok = iter.First()
	default:
		ok = iter.SeekGE(KeyEntry(l.queue, l.topic, opts.From))
	}

	entries := make([]Entry, 0, max(1, opts.Limit))
	for ok && (opts.Limit <= 0 || len(entries) < opts.Limit) {
		seq := seqFromKey(iter.Key())
		dec, err := DecodeRecord(iter.Value())
		if err != nil {
			return entries, 0, fmt.Errorf("seq %d: %w", seq, err)
		}
		entries = append(entries, Entry{Seq: seq, Appended: time.UnixMilli(dec.AppendMs).UTC(), Key: dec.Key, Payload: dec.Payload})
		if opts.Reverse {
			ok = iter.Prev()
		} else {
			ok = iter.Next()
		}
	}
	var next uint64
	if ok {
		next = seqFromKey(iter.Key())
	}
	return entries, next, iter.Error()
}
