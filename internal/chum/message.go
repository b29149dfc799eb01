// Package chum implements the transport-agnostic CHUM sync engine
// (spec.md §4.7): ANNOUNCE/REQUEST/OBJECT/DONE/DENY exchanged over any
// established connection (QUIC-VC, direct WebSocket) to replicate
// objects a peer is allowed to read.
package chum

import (
	"encoding/binary"
	"fmt"

	"github.com/lalith-99/coreoled/internal/canon"
)

// MessageType tags a CHUM protocol message, framed as type(1) |
// length(4) | payload — the same shape as internal/transport/quicvc's
// frames, except that those carry a 2-byte length.
type MessageType byte

const (
	MsgAnnounce MessageType = 0x01
	MsgRequest  MessageType = 0x02
	MsgObject   MessageType = 0x03
	MsgDone     MessageType = 0x04
	MsgDeny     MessageType = 0x05
)

// EncodeMessage frames a single CHUM message for transmission as one
// Conn.SendStream call.
func EncodeMessage(typ MessageType, payload []byte) []byte {
	out := make([]byte, 0, 5+len(payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, byte(typ))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	return out
}

// DecodeMessage reverses EncodeMessage. Each Conn.SendStream call carries
// exactly one message, so there is no length-prefixed loop here — that
// lives in quicvc.Frame/STREAM framing and wsdirect's one-message-per-
// WebSocket-frame discipline.
func DecodeMessage(b []byte) (MessageType, []byte, error) {
	if len(b) < 5 {
		return 0, nil, fmt.Errorf("chum: truncated message header")
	}
	typ := MessageType(b[0])
	length := binary.BigEndian.Uint32(b[1:5])
	if uint32(len(b)-5) != length {
		return 0, nil, fmt.Errorf("chum: message length mismatch")
	}
	return typ, b[5:], nil
}

// EncodeHashes packs a list of hashes as a count-prefixed array, used by
// ANNOUNCE and REQUEST payloads.
func EncodeHashes(hashes []canon.Hash) []byte {
	out := make([]byte, 4, 4+len(hashes)*32)
	binary.BigEndian.PutUint32(out[0:4], uint32(len(hashes)))
	for _, h := range hashes {
		out = append(out, h[:]...)
	}
	return out
}

// DecodeHashes reverses EncodeHashes.
func DecodeHashes(b []byte) ([]canon.Hash, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("chum: truncated hash list")
	}
	count := binary.BigEndian.Uint32(b[0:4])
	pos := 4
	out := make([]canon.Hash, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+32 > len(b) {
			return nil, fmt.Errorf("chum: truncated hash entry")
		}
		var h canon.Hash
		copy(h[:], b[pos:pos+32])
		out = append(out, h)
		pos += 32
	}
	return out, nil
}

// EncodeObject packs a hash and its raw serialized bytes, used by
// OBJECT payloads.
func EncodeObject(hash canon.Hash, data []byte) []byte {
	out := make([]byte, 0, 32+len(data))
	out = append(out, hash[:]...)
	out = append(out, data...)
	return out
}

// DecodeObject reverses EncodeObject.
func DecodeObject(b []byte) (canon.Hash, []byte, error) {
	if len(b) < 32 {
		return canon.Hash{}, nil, fmt.Errorf("chum: truncated object payload")
	}
	var h canon.Hash
	copy(h[:], b[0:32])
	return h, b[32:], nil
}

// EncodeDeny packs a single denied hash.
func EncodeDeny(hash canon.Hash) []byte { return hash[:] }

// DecodeDeny reverses EncodeDeny.
func DecodeDeny(b []byte) (canon.Hash, error) {
	if len(b) != 32 {
		return canon.Hash{}, fmt.Errorf("chum: malformed deny payload")
	}
	var h canon.Hash
	copy(h[:], b)
	return h, nil
}
