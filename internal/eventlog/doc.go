// Package eventlog is a durable append-only feed kept in Pebble. A local
// queue appends the elements it hands to job creation; consumers read from
// a durable cursor and commit what they have processed.
//
// # Layout
//
// Keys sort byte-wise per queue and topic:
//   - q/{queue}/feed/{topic}/m              (metadata: lastSeq)
//   - q/{queue}/feed/{topic}/e/{seq_be8}    (entries)
//   - q/{queue}/feed/{topic}/c/{group}      (durable consumer cursors)
//
// Entries are stored as: appendMs(8B BE) | uvarint keyLen | key | payload | crc32c.
//
// # Usage
//
//	l, _ := Open(db, "agent1", "jobs")
//	seqs, _ := l.Append(ctx, []Record{{Key: id, Payload: body}})
//
//	entries, next, _ := l.Read(ReadOptions{From: cursor + 1, Limit: 100})
//	_ = l.CommitCursor("jobcreator", entries[len(entries)-1].Seq)
//
//	l.WaitForAppend(ctx, 200*time.Millisecond)
//
// Retention is by age (TrimOlderThan), by size (TrimToMaxBytes) or by what
// every consumer has committed (TrimConsumed). A TrimHook sees each deleted
// range.
package eventlog
