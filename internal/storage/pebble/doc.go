// Package pebblestore wraps Pebble with an fsync policy, batches and a
// metrics hook. It backs the element store and the job handoff feed.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeInterval})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	b := db.NewBatch()
//	_ = b.Set(key, doc, nil)
//	_ = db.CommitBatch(ctx, b)
package pebblestore
