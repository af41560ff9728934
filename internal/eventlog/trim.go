package eventlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
)

// TrimHook is told about every contiguous range a trim deleted.
type TrimHook interface {
	Trimmed(topic string, minSeq, maxSeq uint64)
}

type noopHook struct{}

func (noopHook) Trimmed(string, uint64, uint64) {}

// TrimOlderThan deletes the leading entries appended before cutoff, in
// batches of up to batchLimit. It returns the number deleted and the last
// deleted sequence.
func (l *Log) TrimOlderThan(ctx context.Context, cutoff time.Time, batchLimit int) (int, uint64, error) {
	ms := cutoff.UnixMilli()
	return l.trimWhile(ctx, batchLimit, func(seq uint64, v []byte) bool {
		dec, err := DecodeRecord(v)
		return err == nil && dec.AppendMs < ms
	})
}

// TrimConsumed deletes entries every committed cursor has passed. Without
// cursors nothing is deleted.
func (l *Log) TrimConsumed(ctx context.Context, batchLimit int) (int, uint64, error) {
	cursors, err := l.Cursors()
	if err != nil || len(cursors) == 0 {
		return 0, 0, err
	}
	floor := ^uint64(0)
	for _, c := range cursors {
		floor = min(floor, c)
	}
	return l.trimWhile(ctx, batchLimit, func(seq uint64, _ []byte) bool { return seq <= floor })
}

// TrimToMaxBytes deletes the oldest entries until the stored values fit in
// maxBytes.
func (l *Log) TrimToMaxBytes(ctx context.Context, maxBytes int64, batchLimit int) (int, error) {
	if maxBytes < 0 {
		return 0, nil
	}
	var total int64
	low := KeyEntry(l.queue, l.topic, 0)
	hi := KeyEntry(l.queue, l.topic, ^uint64(0))
	if err := l.db.ScanRange(low, append(hi, 0x00), func(_, v []byte) bool {
		total += int64(len(v))
		return true
	}); err != nil {
		return 0, err
	}
	n, _, err := l.trimWhile(ctx, batchLimit, func(_ uint64, v []byte) bool {
		if total <= maxBytes {
			return false
		}
		total -= int64(len(v))
		return true
	})
	return n, err
}

// trimWhile deletes entries from the oldest while del holds.
func (l *Log) trimWhile(ctx context.Context, batchLimit int, del func(seq uint64, v []byte) bool) (int, uint64, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	low := KeyEntry(l.queue, l.topic, 0)
	hi := KeyEntry(l.queue, l.topic, ^uint64(0))
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return 0, 0, err
	}
	defer iter.Close()

	deleted := 0
	var lastSeq uint64
	for ok := iter.First(); ok; {
		if err := ctx.Err(); err != nil {
			return deleted, lastSeq, err
		}
		b := l.db.NewBatch()
		n := 0
		var minSeq uint64
		for ok && n < batchLimit {
			seq := seqFromKey(iter.Key())
			if !del(seq, iter.Value()) {
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, lastSeq, err
			}
			if n == 0 {
				minSeq = seq
			}
			n++
			lastSeq = seq
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, lastSeq, err
		}
		b.Close()
		deleted += n
		l.hook.Trimmed(l.topic, minSeq, lastSeq)
	}
	return deleted, lastSeq, nil
}
