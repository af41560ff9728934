package handoff

import (
	"context"
	"time"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/eventlog"
)

// FeedTopic is the eventlog topic acquired work is appended to.
const FeedTopic = "jobs"

// Feed appends deliveries to the queue's eventlog.
type Feed struct {
	log   *eventlog.Log
	queue string
	now   func() time.Time
}

func NewFeed(log *eventlog.Log, queue string) *Feed {
	return &Feed{log: log, queue: queue, now: time.Now}
}

func (f *Feed) Deliver(ctx context.Context, els []*element.Element) error {
	now := f.now().UTC()
	recs := make([]eventlog.Record, len(els))
	for i, el := range els {
		body, err := encode(f.queue, el, now)
		if err != nil {
			return err
		}
		recs[i] = eventlog.Record{Key: el.ID, Payload: body}
	}
	_, err := f.log.Append(ctx, recs)
	return err
}

func (f *Feed) Close() error { return nil }

// Delivery is one feed entry as seen by a consumer.
type Delivery struct {
	Seq uint64 `json:"seq"`
	Message
}

// FeedConsumer reads the feed for one consumer group.
type FeedConsumer struct {
	log   *eventlog.Log
	group string
}

func NewFeedConsumer(log *eventlog.Log, group string) *FeedConsumer {
	return &FeedConsumer{log: log, group: group}
}

// Poll returns up to limit deliveries after the group's cursor. When none
// are waiting it blocks for up to wait for an append.
func (c *FeedConsumer) Poll(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	return c.PollAfter(ctx, 0, limit, wait)
}

// PollAfter is Poll starting past after when it is ahead of the cursor. A
// reader that has not acknowledged what it saw uses it to move on.
func (c *FeedConsumer) PollAfter(ctx context.Context, after uint64, limit int, wait time.Duration) ([]Delivery, error) {
	out, err := c.read(after, limit)
	if err != nil || len(out) > 0 || wait <= 0 {
		return out, err
	}
	if !c.log.WaitForAppend(ctx, wait) {
		return nil, ctx.Err()
	}
	return c.read(after, limit)
}

func (c *FeedConsumer) read(after uint64, limit int) ([]Delivery, error) {
	cur, _, err := c.log.Cursor(c.group)
	if err != nil {
		return nil, err
	}
	entries, _, err := c.log.Read(eventlog.ReadOptions{From: max(cur, after) + 1, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(entries))
	for _, e := range entries {
		m, err := Decode(e.Payload)
		if err != nil {
			return out, err
		}
		out = append(out, Delivery{Seq: e.Seq, Message: m})
	}
	return out, nil
}

// Ack marks every delivery up to seq as processed.
func (c *FeedConsumer) Ack(seq uint64) error {
	return c.log.CommitCursor(c.group, seq)
}
