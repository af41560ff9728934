package pebblekv

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
	pebblestore "github.com/dmwm/workqueue/internal/storage/pebble"
)

// Key prefixes under a queue.
const (
	prefixDoc = "el/" // element documents
	prefixIdx = "ix/" // view index entries
)

// idSep separates a view key from the element id in index keys. Element ids
// are hex and never contain it.
const idSep = 0x00

// queuePrefix returns the base prefix for one queue.
// Format: q/{queue}/
func queuePrefix(queue string) string {
	return fmt.Sprintf("q/%s/", queue)
}

// docKey returns the document key.
// Format: q/{queue}/el/{id}
func docKey(queue, id string) []byte {
	return []byte(queuePrefix(queue) + prefixDoc + id)
}

// docPrefix returns the prefix for scanning every document of a queue.
func docPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDoc)
}

// viewPrefix returns the prefix for one view.
// Format: q/{queue}/ix/{view}/
func viewPrefix(queue string, view elementstore.View) []byte {
	return []byte(queuePrefix(queue) + prefixIdx + string(view) + "/")
}

// indexKey returns the view entry for id.
// Format: q/{queue}/ix/{view}/{viewKey}\x00{id}
func indexKey(queue string, view elementstore.View, viewKey []byte, id string) []byte {
	p := viewPrefix(queue, view)
	key := make([]byte, 0, len(p)+len(viewKey)+1+len(id))
	key = append(key, p...)
	key = append(key, viewKey...)
	key = append(key, idSep)
	key = append(key, id...)
	return key
}

// availableKey orders by descending priority, then ascending insertion id.
// The sign bit is flipped so negative priorities sort below positive ones,
// then the whole value is inverted for descending order.
func availableKey(priority int, insertID string) []byte {
	key := make([]byte, 8, 8+len(insertID))
	binary.BigEndian.PutUint64(key, ^(uint64(int64(priority)) ^ 1<<63))
	return append(key, insertID...)
}

// indexKeys returns every index entry el holds.
func indexKeys(queue string, el *element.Element) [][]byte {
	var out [][]byte
	for _, v := range elementstore.Views {
		k, ok := elementstore.ViewKey(v, el)
		if !ok {
			continue
		}
		vk := []byte(k)
		if v == elementstore.Available {
			vk = availableKey(el.Priority, el.InsertID)
		}
		out = append(out, indexKey(queue, v, vk, el.ID))
	}
	return out
}

// idFromIndexKey extracts the element id after the last separator.
func idFromIndexKey(key []byte) string {
	i := bytes.LastIndexByte(key, idSep)
	if i < 0 {
		return ""
	}
	return string(key[i+1:])
}

// rangeBounds returns the scan bounds for r within a view.
func rangeBounds(queue string, view elementstore.View, r elementstore.KeyRange) ([]byte, []byte) {
	p := viewPrefix(queue, view)
	if r.Whole() || view == elementstore.Available {
		return p, pebblestore.PrefixEnd(p)
	}
	lo := append(append([]byte(nil), p...), r.Start...)
	lo = append(lo, idSep)
	if r.End == "" {
		return lo, pebblestore.PrefixEnd(p)
	}
	hi := append(append([]byte(nil), p...), r.End...)
	return lo, append(hi, idSep+1)
}
