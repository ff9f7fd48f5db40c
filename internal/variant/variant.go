// Package variant is the tagged-union envelope that stands in for
// GVariant's a{sv} in this implementation (Design Notes item 2): a small,
// closed set of value kinds, each self-describing, plus an "unknown" arm
// that preserves unrecognized bytes verbatim for forward compatibility.
//
// It backs two things: commit metadata maps (§3) and the prepare-root
// runtime state dictionary written to /run/ostree-booted (§4.8 step 10).
package variant

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// Kind tags the type of a Value's payload.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindUint64
	KindBool
	KindBytes
	KindUnknown // preserved verbatim, not interpreted
)

// Value is one entry of a variant map.
type Value struct {
	Kind Kind

	Str   string
	U64   uint64
	Bool  bool
	Bytes []byte // used for KindBytes and KindUnknown's raw payload
}

func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Uint64(u uint64) Value { return Value{Kind: KindUint64, U64: u} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Bytes(b []byte) Value  { return Value{Kind: KindBytes, Bytes: b} }

// Map is an ordered-on-encode string-keyed variant dictionary.
type Map map[string]Value

// Encode produces the canonical bytes: u32be(count), then for each entry
// sorted by key: u16be(keylen) | key | u8(kind) | u32be(payloadlen) | payload.
func (m Map) Encode() []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(keys)))
	buf = append(buf, countBuf[:]...)

	for _, k := range keys {
		v := m[k]
		var klen [2]byte
		binary.BigEndian.PutUint16(klen[:], uint16(len(k)))
		buf = append(buf, klen[:]...)
		buf = append(buf, k...)
		buf = append(buf, byte(v.Kind))

		payload := v.payload()
		var plen [4]byte
		binary.BigEndian.PutUint32(plen[:], uint32(len(payload)))
		buf = append(buf, plen[:]...)
		buf = append(buf, payload...)
	}
	return buf
}

func (v Value) payload() []byte {
	switch v.Kind {
	case KindString:
		return []byte(v.Str)
	case KindUint64:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v.U64)
		return b[:]
	case KindBool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	case KindBytes, KindUnknown:
		return v.Bytes
	default:
		return nil
	}
}

// Decode parses the bytes Encode produces. Unrecognized kind bytes are
// kept as KindUnknown with their raw payload rather than rejected, so a
// future field added by a newer writer round-trips through an older reader.
func Decode(b []byte) (Map, error) {
	if len(b) < 4 {
		return nil, ostreeerr.InvalidFormatf("variant: truncated count")
	}
	count := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	m := make(Map, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 2 {
			return nil, ostreeerr.InvalidFormatf("variant: truncated key length")
		}
		klen := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if len(b) < int(klen) {
			return nil, ostreeerr.InvalidFormatf("variant: key exceeds remaining buffer")
		}
		key := string(b[:klen])
		b = b[klen:]

		if len(b) < 1 {
			return nil, ostreeerr.InvalidFormatf("variant: truncated kind byte")
		}
		kind := Kind(b[0])
		b = b[1:]

		if len(b) < 4 {
			return nil, ostreeerr.InvalidFormatf("variant: truncated payload length")
		}
		plen := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		if len(b) < int(plen) {
			return nil, ostreeerr.InvalidFormatf("variant: payload exceeds remaining buffer")
		}
		payload := b[:plen]
		b = b[plen:]

		val, err := decodeValue(kind, payload)
		if err != nil {
			return nil, fmt.Errorf("variant: key %q: %w", key, err)
		}
		m[key] = val
	}
	return m, nil
}

func decodeValue(kind Kind, payload []byte) (Value, error) {
	switch kind {
	case KindString:
		return String(string(payload)), nil
	case KindUint64:
		if len(payload) != 8 {
			return Value{}, ostreeerr.InvalidFormatf("uint64 payload wrong size %d", len(payload))
		}
		return Uint64(binary.BigEndian.Uint64(payload)), nil
	case KindBool:
		if len(payload) != 1 {
			return Value{}, ostreeerr.InvalidFormatf("bool payload wrong size %d", len(payload))
		}
		return Bool(payload[0] != 0), nil
	case KindBytes:
		return Bytes(append([]byte(nil), payload...)), nil
	default:
		return Value{Kind: KindUnknown, Bytes: append([]byte(nil), payload...)}, nil
	}
}
