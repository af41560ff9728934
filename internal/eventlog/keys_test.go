package eventlog

import (
	"bytes"
	"testing"
)

func TestKeyOrderingEntries(t *testing.T) {
	a := KeyEntry("agent1", "jobs", 10)
	b := KeyEntry("agent1", "jobs", 11)
	c := KeyEntry("agent1", "jobs", 256)
	if !bytes.HasPrefix(a, []byte("q/agent1/feed/jobs/e/")) {
		t.Fatalf("unexpected entry layout: %q", a)
	}
	if bytes.Compare(a, b) >= 0 || bytes.Compare(b, c) >= 0 {
		t.Fatalf("entry keys out of order")
	}
	if seqFromKey(c) != 256 {
		t.Fatalf("seq not recovered")
	}
}

func TestCursorKey(t *testing.T) {
	k := KeyCursor("agent1", "jobs", "g")
	if string(k) != "q/agent1/feed/jobs/c/g" {
		t.Fatalf("unexpected cursor layout: %q", string(k))
	}
	if !bytes.HasPrefix(k, KeyCursorPrefix("agent1", "jobs")) {
		t.Fatalf("cursor outside its prefix")
	}
}
