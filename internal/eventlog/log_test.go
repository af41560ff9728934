package eventlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

func openDB(t *testing.T, dir string) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	return db
}

func seedLog(t *testing.T, n int, opts ...Option) (*Log, []uint64) {
	t.Helper()
	db := openDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	l, err := Open(db, "agent1", "jobs", opts...)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if n == 0 {
		return l, nil
	}
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{Key: fmt.Sprintf("el-%d", i), Payload: []byte{byte(i)}}
	}
	seqs, err := l.Append(context.Background(), recs)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return l, seqs
}

func TestAppendAssignsSequences(t *testing.T) {
	l, seqs := seedLog(t, 3)
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("unexpected seqs %v", seqs)
	}
	if l.LastSeq() != 3 {
		t.Fatalf("last seq = %d", l.LastSeq())
	}
	if got, err := l.Append(context.Background(), nil); err != nil || got != nil {
		t.Fatalf("empty append: %v %v", got, err)
	}
}

func TestAppendResumesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db := openDB(t, dir)
	l, err := Open(db, "agent1", "jobs")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	seqs, err := l.Append(ctx, []Record{{Key: "a", Payload: []byte("x")}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = db.Close()

	db2 := openDB(t, dir)
	t.Cleanup(func() { _ = db2.Close() })
	l2, err := Open(db2, "agent1", "jobs")
	if err != nil {
		t.Fatalf("open log2: %v", err)
	}
	seqs2, err := l2.Append(ctx, []Record{{Key: "b", Payload: []byte("y")}})
	if err != nil {
		t.Fatalf("append2: %v", err)
	}
	if !(seqs[0] < seqs2[0]) {
		t.Fatalf("expected next seq > previous: prev=%d next=%d", seqs[0], seqs2[0])
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	db := openDB(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	a, _ := Open(db, "agent1", "jobs")
	b, _ := Open(db, "agent1", "jobs2")
	if _, err := a.Append(context.Background(), []Record{{Key: "x"}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _, err := b.Read(ReadOptions{})
	if err != nil || len(got) != 0 {
		t.Fatalf("topic leaked: %v %v", got, err)
	}
}

func TestAppendStampsClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _ := seedLog(t, 1, WithClock(func() time.Time { return at }))
	got, _, err := l.Read(ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got[0].Appended.Equal(at) || got[0].Key != "el-0" {
		t.Fatalf("unexpected entry %+v", got[0])
	}
}
