package canon

import (
	"encoding/hex"
	"errors"
)

// Hash is a 32-byte content or id hash — the object's identity on the
// network. Two hashes compare equal iff the two implementations serialized
// the same object to the same bytes (testable property 1 in spec.md §8).
type Hash [32]byte

// ErrBadHashLength is returned by ParseHash when the input does not decode
// to exactly 32 bytes.
var ErrBadHashLength = errors.New("canon: hash must decode to 32 bytes")

// Hex returns the lowercase hex encoding used for on-disk filenames and
// wire references.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the zero hash (used as a sentinel for "no
// previous entry" / "empty channel head").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a lowercase-hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
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
