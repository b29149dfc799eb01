package canon

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Reader decodes the canonical wire format written by Serialize. Each
// domain type pairs its CanonRecipe (encode order) with a hand-written
// Decode function that calls these primitives in the same order — the
// static, compile-time analogue of the source's runtime recipe registry.
type Reader struct {
	b   []byte
	pos int
}

func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) Uint32() (uint32, error) {
	if r.pos+4 > len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(r.b[r.pos : r.pos+4])
	r.pos += 4
	return n, nil
}

func (r *Reader) Byte() (byte, error) {
	if r.pos+1 > len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

// Present reads the nil/non-nil marker byte written for pointer fields.
func (r *Reader) Present() (bool, error) {
	b, err := r.Byte()
	if err != nil {
		return false, err
	}
	return b == 1, nil
}

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.b) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) HexBytes() ([]byte, error) {
	s, err := r.String()
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(s)
}

func (r *Reader) Hash() (Hash, error) {
	b, err := r.HexBytes()
	if err != nil {
		return Hash{}, err
	}
	if len(b) != 32 {
		return Hash{}, ErrBadHashLength
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func (r *Reader) OptionalHash() (*Hash, error) {
	present, err := r.Present()
	if err != nil || !present {
		return nil, err
	}
	h, err := r.Hash()
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *Reader) Bool() (bool, error) {
	s, err := r.String()
	if err != nil {
		return false, err
	}
	return s == "true", nil
}

func (r *Reader) Int64() (int64, error) {
	s, err := r.String()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

func (r *Reader) Time() (time.Time, error) {
	n, err := r.Int64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func (r *Reader) StringSlice() ([]string, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Reader) HashSlice() ([]Hash, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	out := make([]Hash, 0, n)
	for i := uint32(0); i < n; i++ {
		h, err := r.Hash()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Done reports whether the reader has consumed the whole buffer — callers
// use this to catch truncated or over-long encodings.
func (r *Reader) Done() bool { return r.pos == len(r.b) }

func (r *Reader) Remaining() int { return len(r.b) - r.pos }

func fmtTruncated(typ string) error {
	return fmt.Errorf("canon: truncated %s encoding", typ)
}
