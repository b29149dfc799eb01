// Package canon implements the deterministic canonical serialization that
// every object's content hash and id hash are computed from (spec.md §4.1,
// §9 "replacing dynamic object shapes"). The source leans on a runtime
// "recipe" registry to discover identity fields per type; here every type
// instead declares its own recipe in code by implementing Recipe, so a
// type without a recipe is a compile error; the order of the fields it
// lists is not checked by the compiler.
//
// Encoding rules, applied in declared recipe order:
//   - strings: UTF-8 bytes, 4-byte big-endian length prefix
//   - []byte / Hash: lowercase hex, then length-prefixed like a string
//   - integers: decimal ASCII, length-prefixed like a string
//   - bool: "true"/"false", length-prefixed like a string
//   - time.Time: Unix nanoseconds, decimal ASCII, length-prefixed
//   - slices/arrays: 4-byte big-endian count, then each element encoded
//   - nested Recipe values: recursively serialized, then length-prefixed
//   - nil pointers: a single zero byte; non-nil: a single 0x01 byte
//     followed by the pointee's encoding
//
// Two implementations that encode the same logical values in the same
// recipe order produce byte-identical output — that is the whole point.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Field is one entry in a type's canonical recipe: a name (for
// documentation/debugging only — it does not appear on the wire), whether
// it participates in the id hash, and its current value.
type Field struct {
	Name     string
	Identity bool
	Value    any
}

// Recipe is implemented by every object type that can be hashed. CanonType
// returns a stable type name used for reverse-index lookups
// (ObjectStore.reverseLookup(hash, type)). CanonRecipe returns this
// instance's fields in the type's fixed declared order.
type Recipe interface {
	CanonType() string
	CanonRecipe() []Field
}

// ErrNotVersioned is returned by IDHash when the recipe has no field marked
// Identity: true — the object has no stable identity subset and is an
// unversioned object (ChannelEntry, ChatMessage, Keys, CreationTime, ...).
var ErrNotVersioned = errors.New("canon: type has no identity fields")

// Serialize returns the canonical byte encoding of the object's full
// recipe (all fields, in order). This is what ContentHash hashes.
func Serialize(r Recipe) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range r.CanonRecipe() {
		if err := encodeValue(&buf, f.Value); err != nil {
			return nil, fmt.Errorf("canon: encode field %s.%s: %w", r.CanonType(), f.Name, err)
		}
	}
	return buf.Bytes(), nil
}

// SerializeIdentity returns the canonical encoding of only the
// identity-declared fields, in recipe order. This is what IDHash hashes;
// it is stable across versions of the same versioned object.
func SerializeIdentity(r Recipe) ([]byte, error) {
	var buf bytes.Buffer
	any := false
	for _, f := range r.CanonRecipe() {
		if !f.Identity {
			continue
		}
		any = true
		if err := encodeValue(&buf, f.Value); err != nil {
			return nil, fmt.Errorf("canon: encode id field %s.%s: %w", r.CanonType(), f.Name, err)
		}
	}
	if !any {
		return nil, ErrNotVersioned
	}
	return buf.Bytes(), nil
}

// ContentHash hashes the object's full canonical serialization.
func ContentHash(r Recipe) (Hash, error) {
	b, err := Serialize(r)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(b), nil
}

// IDHash hashes only the identity-declared fields. Returns ErrNotVersioned
// for unversioned types.
func IDHash(r Recipe) (Hash, error) {
	b, err := SerializeIdentity(r)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(b), nil
}

// IsVersioned reports whether r declares at least one identity field.
func IsVersioned(r Recipe) bool {
	for _, f := range r.CanonRecipe() {
		if f.Identity {
			return true
		}
	}
	return false
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(0)
		return nil
	case Hash:
		writeHexBytes(buf, val[:])
		return nil
	case *Hash:
		if val == nil {
			buf.WriteByte(0)
			return nil
		}
		buf.WriteByte(1)
		writeHexBytes(buf, val[:])
		return nil
	case []byte:
		writeHexBytes(buf, val)
		return nil
	case string:
		writeString(buf, val)
		return nil
	case bool:
		if val {
			writeString(buf, "true")
		} else {
			writeString(buf, "false")
		}
		return nil
	case time.Time:
		writeString(buf, strconv.FormatInt(val.UnixNano(), 10))
		return nil
	case Recipe:
		sub, err := Serialize(val)
		if err != nil {
			return err
		}
		writeBytesLenPrefixed(buf, sub)
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		buf.WriteByte(0)
		return nil
	case reflect.Ptr:
		if rv.IsNil() {
			buf.WriteByte(0)
			return nil
		}
		buf.WriteByte(1)
		return encodeValue(buf, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		writeUint32(buf, uint32(n))
		for i := 0; i < n; i++ {
			if err := encodeValue(buf, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.String:
		writeString(buf, rv.String())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeString(buf, strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		writeString(buf, strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Bool:
		if rv.Bool() {
			writeString(buf, "true")
		} else {
			writeString(buf, "false")
		}
		return nil
	default:
		return fmt.Errorf("canon: unsupported value type %T", v)
	}
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], n)
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeBytesLenPrefixed(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeHexBytes(buf *bytes.Buffer, b []byte) {
	writeString(buf, hex.EncodeToString(b))
}
