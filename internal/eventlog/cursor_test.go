package eventlog

import (
	"context"
	"testing"
)

func TestCommitCursorIdempotent(t *testing.T) {
	l, seqs := seedLog(t, 2)

	if err := l.CommitCursor("g1", seqs[0]); err != nil {
		t.Fatalf("commit1: %v", err)
	}
	if got, ok, _ := l.Cursor("g1"); !ok || got != seqs[0] {
		t.Fatalf("cursor mismatch")
	}

	// committing same or lower should be no-op
	if err := l.CommitCursor("g1", seqs[0]); err != nil {
		t.Fatalf("commit same: %v", err)
	}
	if err := l.CommitCursor("g1", seqs[0]-1); err != nil {
		t.Fatalf("commit lower: %v", err)
	}
	if got, ok, _ := l.Cursor("g1"); !ok || got != seqs[0] {
		t.Fatalf("cursor regressed")
	}

	if err := l.CommitCursor("g1", seqs[1]); err != nil {
		t.Fatalf("commit2: %v", err)
	}
	if got, _, _ := l.Cursor("g1"); got != seqs[1] {
		t.Fatalf("did not advance")
	}
	if _, ok, err := l.Cursor("other"); ok || err != nil {
		t.Fatalf("unknown group: ok=%v err=%v", ok, err)
	}
}

func TestCursorPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	l, err := Open(db, "agent1", "jobs")
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	seqs, err := l.Append(context.Background(), []Record{{Key: "a"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.CommitCursor("g1", seqs[0]); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = db.Close()

	db2 := openDB(t, dir)
	defer db2.Close()
	l2, err := Open(db2, "agent1", "jobs")
	if err != nil {
		t.Fatalf("open log2: %v", err)
	}
	if got, ok, _ := l2.Cursor("g1"); !ok || got != seqs[0] {
		t.Fatalf("cursor not persisted")
	}
	all, err := l2.Cursors()
	if err != nil || len(all) != 1 || all["g1"] != seqs[0] {
		t.Fatalf("cursors: %v %v", all, err)
	}
}
