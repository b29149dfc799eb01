package quicvc

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FrameType tags the payload that follows a frame header.
type FrameType byte

const (
	FrameAck       FrameType = 0x02
	FrameStream    FrameType = 0x08
	FrameVCInit    FrameType = 0x10
	FrameVCResp    FrameType = 0x11
	FrameVCAck     FrameType = 0x12
	FrameHeartbeat FrameType = 0x20
	FrameDiscovery FrameType = 0x30
	FrameClose     FrameType = 0x1C
)

// Frame is one `type(1) | length(2) | payload(length)` unit. A packet's
// payload region is a sequence of frames.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// EncodeFrames concatenates frames in order.
func EncodeFrames(frames []Frame) ([]byte, error) {
	var out []byte
	for _, f := range frames {
		if len(f.Payload) > 0xFFFF {
			return nil, fmt.Errorf("quicvc: frame payload too long")
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(f.Payload)))
		out = append(out, byte(f.Type))
		out = append(out, lenBuf[:]...)
		out = append(out, f.Payload...)
	}
	return out, nil
}

// DecodeFrames reads every frame packed into b.
func DecodeFrames(b []byte) ([]Frame, error) {
	var frames []Frame
	pos := 0
	for pos < len(b) {
		if pos+3 > len(b) {
			return nil, fmt.Errorf("quicvc: truncated frame header")
		}
		typ := FrameType(b[pos])
		length := int(binary.BigEndian.Uint16(b[pos+1 : pos+3]))
		pos += 3
		if pos+length > len(b) {
			return nil, fmt.Errorf("quicvc: truncated frame payload")
		}
		frames = append(frames, Frame{Type: typ, Payload: append([]byte(nil), b[pos:pos+length]...)})
		pos += length
	}
	return frames, nil
}

// VCHandshakePayload is the shared shape of VC_INIT and VC_RESPONSE: a
// serialized credential, a 32-byte challenge, and a timestamp. VC_RESPONSE
// additionally echoes the peer's challenge as AckChallenge.
type VCHandshakePayload struct {
	Credential   []byte
	Challenge    [32]byte
	AckChallenge *[32]byte // nil for VC_INIT
	Timestamp    time.Time
}

func EncodeVCHandshake(p VCHandshakePayload) []byte {
	out := make([]byte, 0, 4+len(p.Credential)+32+1+32+8)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.Credential)))
	out = append(out, lenBuf[:]...)
	out = append(out, p.Credential...)
	out = append(out, p.Challenge[:]...)
	if p.AckChallenge != nil {
		out = append(out, 1)
		out = append(out, p.AckChallenge[:]...)
	} else {
		out = append(out, 0)
	}
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(p.Timestamp.UnixNano()))
	out = append(out, tsBuf[:]...)
	return out
}

func DecodeVCHandshake(b []byte) (VCHandshakePayload, error) {
	if len(b) < 4 {
		return VCHandshakePayload{}, fmt.Errorf("quicvc: truncated vc handshake payload")
	}
	credLen := int(binary.BigEndian.Uint32(b[0:4]))
	pos := 4
	if pos+credLen > len(b) {
		return VCHandshakePayload{}, fmt.Errorf("quicvc: truncated credential")
	}
	cred := append([]byte(nil), b[pos:pos+credLen]...)
	pos += credLen
	if pos+32 > len(b) {
		return VCHandshakePayload{}, fmt.Errorf("quicvc: truncated challenge")
	}
	var challenge [32]byte
	copy(challenge[:], b[pos:pos+32])
	pos += 32
	if pos >= len(b) {
		return VCHandshakePayload{}, fmt.Errorf("quicvc: truncated ack-challenge marker")
	}
	hasAck := b[pos] == 1
	pos++
	var ack *[32]byte
	if hasAck {
		if pos+32 > len(b) {
			return VCHandshakePayload{}, fmt.Errorf("quicvc: truncated ack challenge")
		}
		var a [32]byte
		copy(a[:], b[pos:pos+32])
		ack = &a
		pos += 32
	}
	if pos+8 > len(b) {
		return VCHandshakePayload{}, fmt.Errorf("quicvc: truncated timestamp")
	}
	ts := int64(binary.BigEndian.Uint64(b[pos : pos+8]))
	return VCHandshakePayload{Credential: cred, Challenge: challenge, AckChallenge: ack, Timestamp: time.Unix(0, ts).UTC()}, nil
}

// EncodeAck / DecodeAck carry the acked packet number.
func EncodeAck(packetNumber uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], packetNumber)
	return b[:]
}

func DecodeAck(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("quicvc: malformed ack frame")
	}
	return binary.BigEndian.Uint64(b), nil
}

// CloseReason mirrors coreerr.Kind names relevant to transport closure.
type CloseReason string

const (
	CloseInvalidCredential  CloseReason = "invalid_credential"
	CloseDecryptionFailure  CloseReason = "decryption_failure"
	CloseIdleTimeout        CloseReason = "idle_timeout"
	CloseHandshakeTimeout   CloseReason = "handshake_timeout"
	CloseLocal              CloseReason = "local_close"
)

func EncodeClose(reason CloseReason) []byte { return []byte(reason) }
func DecodeClose(b []byte) CloseReason      { return CloseReason(b) }
