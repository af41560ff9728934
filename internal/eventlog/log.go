package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

// Record is one appendable entry. Key identifies the payload for consumers
// that dedupe redeliveries.
type Record struct {
	Key     string
	Payload []byte
}

// Log is the feed of one queue topic.
type Log struct {
	db    *pebblestore.DB
	queue string
	topic string
	now   func() time.Time

	mu       sync.Mutex
	lastSeq  uint64
	notifyCh chan struct{}
	hook     TrimHook
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the clock used to stamp entries.
func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

// WithTrimHook sets the hook told about trimmed ranges.
func WithTrimHook(h TrimHook) Option { return func(l *Log) { l.hook = h } }

// Open loads the topic's last sequence and returns its Log.
func Open(db *pebblestore.DB, queue, topic string, opts ...Option) (*Log, error) {
	l := &Log{db: db, queue: queue, topic: topic, now: time.Now, notifyCh: make(chan struct{}), hook: noopHook{}}
	for _, o := range opts {
		o(l)
	}
	meta, err := db.Get(KeyMeta(queue, topic))
	switch {
	case errors.Is(err, pebblestore.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("eventlog: load %s/%s: %w", queue, topic, err)
	case len(meta) < 8:
		return nil, fmt.Errorf("eventlog: metadata of %s/%s: %w", queue, topic, ErrCorrupt)
	default:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
	}
	return l, nil
}

// Topic returns the topic name.
func (l *Log) Topic() string { return l.topic }

// LastSeq returns the sequence of the newest entry ever appended.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Append writes recs as one batch and returns their sequence numbers.
func (l *Log) Append(ctx context.Context, recs []Record) ([]uint64, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	ms := l.now().UnixMilli()
	seqs := make([]uint64, len(recs))
	next := l.lastSeq
	for i, r := range recs {
		next++
		if err := b.Set(KeyEntry(l.queue, l.topic, next), EncodeRecord(ms, r.Key, r.Payload), nil); err != nil {
			return nil, err
		}
		seqs[i] = next
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], next)
	if err := b.Set(KeyMeta(l.queue, l.topic), meta[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastSeq = next
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return seqs, nil
}
