// Archive-mode file object framing: a small fixed header describing the
// file's metadata followed by its content, the whole thing zstd-framed on
// disk. Decompress-then-validate-header, per SPEC_FULL §4.2.
package objects

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// ArchiveFileHeader is the u32,u32,u32,u32,xattrs,u64 header of §4.2
// prepended to a regular file's content in archive storage mode.
type ArchiveFileHeader struct {
	Uid, Gid uint32
	Mode     uint32
	Flags    uint32 // reserved, always zero on write
	Xattrs   []checksum.Xattr
	Size     uint64 // content length
}

func (h ArchiveFileHeader) encode() []byte {
	var buf bytes.Buffer
	var w [4]byte

	binary.BigEndian.PutUint32(w[:], h.Uid)
	buf.Write(w[:])
	binary.BigEndian.PutUint32(w[:], h.Gid)
	buf.Write(w[:])
	binary.BigEndian.PutUint32(w[:], h.Mode)
	buf.Write(w[:])
	binary.BigEndian.PutUint32(w[:], h.Flags)
	buf.Write(w[:])

	xattrs := checksum.CanonicalXattrs(h.Xattrs)
	var xlen [4]byte
	binary.BigEndian.PutUint32(xlen[:], uint32(len(xattrs)))
	buf.Write(xlen[:])
	buf.Write(xattrs)

	var size [8]byte
	binary.BigEndian.PutUint64(size[:], h.Size)
	buf.Write(size[:])

	return buf.Bytes()
}

func decodeArchiveFileHeader(b []byte) (ArchiveFileHeader, []byte, error) {
	if len(b) < 16 {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive header: truncated preamble")
	}
	h := ArchiveFileHeader{
		Uid:   binary.BigEndian.Uint32(b[0:4]),
		Gid:   binary.BigEndian.Uint32(b[4:8]),
		Mode:  binary.BigEndian.Uint32(b[8:12]),
		Flags: binary.BigEndian.Uint32(b[12:16]),
	}
	b = b[16:]

	if len(b) < 4 {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive header: truncated xattr length")
	}
	xlen := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if len(b) < int(xlen) {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive header: xattrs exceed remaining buffer")
	}
	xattrs, _, err := decodeXattrs(b[:xlen])
	if err != nil {
		return ArchiveFileHeader{}, nil, err
	}
	h.Xattrs = xattrs
	b = b[xlen:]

	if len(b) < 8 {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive header: truncated size")
	}
	h.Size = binary.BigEndian.Uint64(b[:8])
	b = b[8:]

	return h, b, nil
}

// EncodeArchiveFile writes u32be(metadata_len) | metadata | content, then
// zstd-frames the whole thing (SPEC_FULL §4.2: the zstd frame wraps the
// header+content, not just the content).
func EncodeArchiveFile(h ArchiveFileHeader, content []byte) ([]byte, error) {
	meta := h.encode()

	var raw bytes.Buffer
	var mlen [4]byte
	binary.BigEndian.PutUint32(mlen[:], uint32(len(meta)))
	raw.Write(mlen[:])
	raw.Write(meta)
	raw.Write(content)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, ostreeerr.IOf("archive: create zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// DecodeArchiveFile reverses EncodeArchiveFile: zstd-decompress, then
// parse the header and return the header plus remaining content bytes.
func DecodeArchiveFile(framed []byte) (ArchiveFileHeader, []byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return ArchiveFileHeader{}, nil, ostreeerr.IOf("archive: create zstd reader: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(framed, nil)
	if err != nil {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive: zstd decode: %v", err)
	}

	if len(raw) < 4 {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive: truncated metadata length")
	}
	mlen := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	if uint64(len(raw)) < uint64(mlen) {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive: metadata exceeds remaining buffer")
	}

	h, rest, err := decodeArchiveFileHeader(raw[:mlen])
	if err != nil {
		return ArchiveFileHeader{}, nil, err
	}
	if len(rest) != 0 {
		return ArchiveFileHeader{}, nil, ostreeerr.InvalidFormatf("archive: trailing bytes in metadata")
	}

	content := raw[mlen:]
	if uint64(len(content)) != h.Size {
		return ArchiveFileHeader{}, nil, ostreeerr.Corruptionf("archive: content length %d does not match header size %d", len(content), h.Size)
	}

	return h, content, nil
}

// StreamDecodeArchiveFile decodes an archive frame read from r. It reads
// the whole frame into memory first and then calls DecodeArchiveFile.
func StreamDecodeArchiveFile(r io.Reader) (ArchiveFileHeader, []byte, error) {
	framed, err := io.ReadAll(r)
	if err != nil {
		return ArchiveFileHeader{}, nil, ostreeerr.IOf("archive: read: %w", err)
	}
	return DecodeArchiveFile(framed)
}
