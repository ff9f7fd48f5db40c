// Bare/bare-user file object framing. §4.1 fixes the checksum's hash
// input as preamble || canonical-xattrs || payload with no length
// prefix anywhere (so raw file content hashes compatibly with plain
// storage). That leaves the xattrs blob's end, and therefore the start
// of payload, undiscoverable on decode: CanonicalXattrs has no internal
// count or terminator. This implementation resolves that by storing one
// extra length prefix ahead of the xattrs blob in the ON-DISK bytes only
// — the prefix is never part of what gets hashed, so the object's
// checksum still matches checksum.HashFile exactly; it only makes the
// stored bytes self-describing enough to read back.
package objects

import (
	"encoding/binary"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// EncodeBareFile produces the on-disk bytes for a bare/bare-user file
// object: preamble, u32be(len(canonical xattrs)), canonical xattrs,
// payload.
func EncodeBareFile(uid, gid, mode uint32, xattrs []checksum.Xattr, payload []byte) []byte {
	encodedXattrs := checksum.CanonicalXattrs(xattrs)

	out := make([]byte, 0, 12+4+len(encodedXattrs)+len(payload))
	out = append(out, checksum.MetaPreamble(uid, gid, mode)...)

	var xlen [4]byte
	binary.BigEndian.PutUint32(xlen[:], uint32(len(encodedXattrs)))
	out = append(out, xlen[:]...)
	out = append(out, encodedXattrs...)
	out = append(out, payload...)
	return out
}

// DecodeBareFile reverses EncodeBareFile.
func DecodeBareFile(b []byte) (uid, gid, mode uint32, xattrs []checksum.Xattr, payload []byte, err error) {
	if len(b) < 16 {
		return 0, 0, 0, nil, nil, ostreeerr.InvalidFormatf("bare file: truncated preamble")
	}
	uid = binary.BigEndian.Uint32(b[0:4])
	gid = binary.BigEndian.Uint32(b[4:8])
	mode = binary.BigEndian.Uint32(b[8:12])
	xlen := binary.BigEndian.Uint32(b[12:16])
	b = b[16:]

	if uint64(len(b)) < uint64(xlen) {
		return 0, 0, 0, nil, nil, ostreeerr.InvalidFormatf("bare file: xattrs exceed remaining buffer")
	}
	xattrs, rest, err := decodeXattrs(b[:xlen])
	if err != nil {
		return 0, 0, 0, nil, nil, err
	}
	if len(rest) != 0 {
		return 0, 0, 0, nil, nil, ostreeerr.InvalidFormatf("bare file: trailing bytes after xattrs")
	}
	payload = b[xlen:]
	return uid, gid, mode, xattrs, payload, nil
}
