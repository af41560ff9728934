package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ErrCorrupt is returned for entries whose checksum or framing is wrong.
var ErrCorrupt = errors.New("eventlog: corrupt entry")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeRecord frames one entry: appendMs(8B) | uvarint keyLen | key | payload | crc32c.
func EncodeRecord(appendMs int64, key string, payload []byte) []byte {
	out := make([]byte, 0, 8+binary.MaxVarintLen64+len(key)+len(payload)+4)
	out = appendBE8(out, uint64(appendMs))
	out = binary.AppendUvarint(out, uint64(len(key)))
	out = append(out, key...)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
}

type Decoded struct {
	AppendMs int64
	Key      string
	Payload  []byte
}

// DecodeRecord reverses EncodeRecord. The payload is copied.
func DecodeRecord(b []byte) (Decoded, error) {
	if len(b) < 8+1+4 {
		return Decoded{}, ErrCorrupt
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return Decoded{}, ErrCorrupt
	}
	ms := int64(binary.BigEndian.Uint64(body[:8]))
	klen, n := binary.Uvarint(body[8:])
	if n <= 0 || 8+n+int(klen) > len(body) {
		return Decoded{}, ErrCorrupt
	}
	key := body[8+n : 8+n+int(klen)]
	return Decoded{
		AppendMs: ms,
		Key:      string(key),
		Payload:  append([]byte(nil), body[8+n+int(klen):]...),
	}, nil
}
