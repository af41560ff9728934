package pebblekv

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/dmwm/workqueue/internal/elementstore"
)

// Document record: rev(8B BE) | payload | crc32c(rev|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(rev elementstore.Revision, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload)+4)
	binary.BigEndian.PutUint64(out, uint64(rev))
	out = append(out, payload...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc32.Checksum(out, castagnoli))
	return append(out, cb[:]...)
}

func decodeRecord(b []byte) (elementstore.Revision, []byte, bool) {
	if len(b) < 12 {
		return 0, nil, false
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return 0, nil, false
	}
	rev := elementstore.Revision(binary.BigEndian.Uint64(body[:8]))
	return rev, append([]byte(nil), body[8:]...), true
}
