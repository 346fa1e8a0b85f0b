package kv

import "encoding/binary"

// StageKey encodes a snapshot-stage number as a fixed-width big-endian key so
// that badger's natural byte ordering over WAL keys equals numeric stage
// ordering. Rollback and replay address each stage key directly; nothing in
// the module iterates WAL keys.
func StageKey(stage uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, stage)
	return buf
}

// DecodeStageKey is StageKey's inverse.
func DecodeStageKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// StringKey encodes a string (an account address or a tx hash) as its raw
// UTF-8 bytes; the canonical encoder the spec calls for collapses to an
// identity transform for keys that are already stable, order-independent
// strings.
func StringKey(s string) []byte { return []byte(s) }
