package eventlog

import (
	"encoding/binary"
)

var (
	queuePrefix = []byte("q/")
	feedSeg     = []byte("/feed/")
	metaSuffix  = []byte("/m")
	entrySeg    = []byte("/e/")
	cursorSeg   = []byte("/c/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func topicPrefix(queue, topic string) []byte {
	k := make([]byte, 0, len(queue)+len(topic)+16)
	k = append(k, queuePrefix...)
	k = append(k, queue...)
	k = append(k, feedSeg...)
	k = append(k, topic...)
	return k
}

// KeyMeta builds the topic metadata key.
func KeyMeta(queue, topic string) []byte {
	return append(topicPrefix(queue, topic), metaSuffix...)
}

// KeyEntry builds an entry key; the big-endian seq keeps entries in order.
func KeyEntry(queue, topic string, seq uint64) []byte {
	k := append(topicPrefix(queue, topic), entrySeg...)
	return appendBE8(k, seq)
}

// KeyCursor builds the durable cursor key of a consumer group.
func KeyCursor(queue, topic, group string) []byte {
	k := append(topicPrefix(queue, topic), cursorSeg...)
	return append(k, group...)
}

// KeyCursorPrefix covers every cursor of a topic.
func KeyCursorPrefix(queue, topic string) []byte {
	return append(topicPrefix(queue, topic), cursorSeg...)
}

func seqFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
