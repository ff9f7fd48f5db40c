// Package objects implements the canonical on-disk encoding of the four
// object kinds (§4.2): fixed declared tuple order, big-endian integers,
// and sorted name-keyed sequences. Checksums of the encoded bytes are
// computed by internal/checksum.
package objects

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/variant"
)

// Kind identifies the four object shapes and their file extensions.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirMeta
	KindDirTree
	KindCommit
)

// Ext returns the on-disk filename extension for the kind, per §3/§6.
func (k Kind) Ext() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirMeta:
		return "dirmeta"
	case KindDirTree:
		return "dirtree"
	case KindCommit:
		return "commit"
	default:
		return "unknown"
	}
}

func (k Kind) String() string { return k.Ext() }

// FileEntry is a (name, file-checksum) pair in a dirtree's files list.
type FileEntry struct {
	Name     string
	Checksum checksum.Hash
}

// DirEntry is a (name, dirtree-checksum, dirmeta-checksum) triple in a
// dirtree's dirs list.
type DirEntry struct {
	Name         string
	TreeChecksum checksum.Hash
	MetaChecksum checksum.Hash
}

// DirTree is the two ordered, name-unique sequences described in §3.
type DirTree struct {
	Files []FileEntry
	Dirs  []DirEntry
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ostreeerr.InvalidFormatf("invalid entry name %q", name)
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return ostreeerr.InvalidFormatf("entry name %q contains / or NUL", name)
		}
	}
	return nil
}

// Normalize sorts Files and Dirs by name and validates the uniqueness and
// disjointness invariants of §3: unique within files, unique within dirs,
// and no name in both lists.
func (t *DirTree) Normalize() error {
	sort.Slice(t.Files, func(i, j int) bool { return t.Files[i].Name < t.Files[j].Name })
	sort.Slice(t.Dirs, func(i, j int) bool { return t.Dirs[i].Name < t.Dirs[j].Name })

	seen := make(map[string]bool, len(t.Files)+len(t.Dirs))
	for _, f := range t.Files {
		if err := validateName(f.Name); err != nil {
			return err
		}
		if seen[f.Name] {
			return ostreeerr.Corruptionf("duplicate dirtree entry %q", f.Name)
		}
		seen[f.Name] = true
	}
	for _, d := range t.Dirs {
		if err := validateName(d.Name); err != nil {
			return err
		}
		if seen[d.Name] {
			return ostreeerr.Corruptionf("duplicate dirtree entry %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

func putName(buf *bytes.Buffer, name string) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(name)))
	buf.Write(l[:])
	buf.WriteString(name)
}

// Encode produces the canonical dirtree bytes: files sequence then dirs
// sequence, each count-prefixed, each entry's name length-prefixed.
func (t DirTree) Encode() ([]byte, error) {
	if err := t.Normalize(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	var n [4]byte

	binary.BigEndian.PutUint32(n[:], uint32(len(t.Files)))
	buf.Write(n[:])
	for _, f := range t.Files {
		putName(&buf, f.Name)
		buf.Write(f.Checksum[:])
	}

	binary.BigEndian.PutUint32(n[:], uint32(len(t.Dirs)))
	buf.Write(n[:])
	for _, d := range t.Dirs {
		putName(&buf, d.Name)
		buf.Write(d.TreeChecksum[:])
		buf.Write(d.MetaChecksum[:])
	}

	return buf.Bytes(), nil
}

// Checksum returns the dirtree's identity: SHA-256 of its canonical
// encoding.
func (t DirTree) Checksum() (checksum.Hash, error) {
	b, err := t.Encode()
	if err != nil {
		return checksum.Hash{}, err
	}
	return checksum.Sum(b), nil
}

func readName(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, ostreeerr.InvalidFormatf("dirtree: truncated name length")
	}
	l := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	if len(b) < int(l) {
		return "", nil, ostreeerr.InvalidFormatf("dirtree: name exceeds remaining buffer")
	}
	return string(b[:l]), b[l:], nil
}

func readHash(b []byte) (checksum.Hash, []byte, error) {
	if len(b) < 32 {
		return checksum.Hash{}, nil, ostreeerr.InvalidFormatf("dirtree: truncated checksum")
	}
	var h checksum.Hash
	copy(h[:], b[:32])
	return h, b[32:], nil
}

// DecodeDirTree parses bytes produced by Encode and normalizes the result:
// entries are re-sorted by name (unsorted input is accepted, not
// rejected) and names and uniqueness are validated.
func DecodeDirTree(b []byte) (DirTree, error) {
	var t DirTree

	if len(b) < 4 {
		return t, ostreeerr.InvalidFormatf("dirtree: truncated file count")
	}
	fcount := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	for i := uint32(0); i < fcount; i++ {
		var (
			name string
			hash checksum.Hash
			err  error
		)
		if name, b, err = readName(b); err != nil {
			return DirTree{}, err
		}
		if hash, b, err = readHash(b); err != nil {
			return DirTree{}, err
		}
		t.Files = append(t.Files, FileEntry{Name: name, Checksum: hash})
	}

	if len(b) < 4 {
		return t, ostreeerr.InvalidFormatf("dirtree: truncated dir count")
	}
	dcount := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	for i := uint32(0); i < dcount; i++ {
		var (
			name      string
			treeHash  checksum.Hash
			metaHash  checksum.Hash
			err       error
		)
		if name, b, err = readName(b); err != nil {
			return DirTree{}, err
		}
		if treeHash, b, err = readHash(b); err != nil {
			return DirTree{}, err
		}
		if metaHash, b, err = readHash(b); err != nil {
			return DirTree{}, err
		}
		t.Dirs = append(t.Dirs, DirEntry{Name: name, TreeChecksum: treeHash, MetaChecksum: metaHash})
	}

	if len(b) != 0 {
		return DirTree{}, ostreeerr.InvalidFormatf("dirtree: %d trailing bytes", len(b))
	}
	if err := t.Normalize(); err != nil {
		return DirTree{}, err
	}
	return t, nil
}

// DirMeta is a directory's own (uid, gid, mode, xattrs) tuple; entries
// live in the sibling DirTree, not here.
type DirMeta struct {
	Uid, Gid uint32
	Mode     uint32
	Xattrs   []checksum.Xattr
}

// Encode returns the same bytes internal/checksum hashes to produce the
// dirmeta checksum: the canonical object encoding and the checksum input
// are identical for dirmeta, per §4.1.
func (d DirMeta) Encode() []byte {
	return checksum.EncodeDirMeta(checksum.DirMetaInput{Uid: d.Uid, Gid: d.Gid, Mode: d.Mode, Xattrs: d.Xattrs})
}

// Checksum hashes the dirmeta's canonical encoding.
func (d DirMeta) Checksum() checksum.Hash {
	return checksum.Sum(d.Encode())
}

// DecodeDirMeta parses the preamble-plus-xattrs encoding.
func DecodeDirMeta(b []byte) (DirMeta, error) {
	if len(b) < 12 {
		return DirMeta{}, ostreeerr.InvalidFormatf("dirmeta: truncated preamble")
	}
	d := DirMeta{
		Uid:  binary.BigEndian.Uint32(b[0:4]),
		Gid:  binary.BigEndian.Uint32(b[4:8]),
		Mode: binary.BigEndian.Uint32(b[8:12]),
	}
	b = b[12:]

	xattrs, rest, err := decodeXattrs(b)
	if err != nil {
		return DirMeta{}, fmt.Errorf("dirmeta: %w", err)
	}
	if len(rest) != 0 {
		return DirMeta{}, ostreeerr.InvalidFormatf("dirmeta: %d trailing bytes", len(rest))
	}
	d.Xattrs = xattrs
	return d, nil
}

// decodeXattrs parses the name||NUL||u32be(len)||value sequence produced
// by checksum.CanonicalXattrs, consuming the remainder of b.
func decodeXattrs(b []byte) ([]checksum.Xattr, []byte, error) {
	var out []checksum.Xattr
	for len(b) > 0 {
		nulIdx := bytes.IndexByte(b, 0)
		if nulIdx < 0 {
			return nil, nil, ostreeerr.InvalidFormatf("xattrs: missing NUL terminator")
		}
		name := string(b[:nulIdx])
		b = b[nulIdx+1:]
		if len(b) < 4 {
			return nil, nil, ostreeerr.InvalidFormatf("xattrs: truncated value length")
		}
		vlen := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		if len(b) < int(vlen) {
			return nil, nil, ostreeerr.InvalidFormatf("xattrs: value exceeds remaining buffer")
		}
		out = append(out, checksum.Xattr{Name: name, Value: append([]byte(nil), b[:vlen]...)})
		b = b[vlen:]
	}
	return out, b, nil
}

// RelatedRef is one entry of a commit's "related" list: a named pointer
// to another commit, mirroring how real OSTree annotates related refs
// in commit metadata during a pull.
type RelatedRef struct {
	Name     string
	Checksum checksum.Hash
}

// Commit is the tuple described in §3.
type Commit struct {
	Metadata         variant.Map
	Parent           checksum.Hash // zero value means "empty"
	HasParent        bool
	Related          []RelatedRef
	Subject          string
	Body             string
	Timestamp        uint64
	RootTreeChecksum checksum.Hash
	RootMetaChecksum checksum.Hash
}

func putBytes(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

// Encode produces the canonical commit bytes in the fixed tuple order of
// §3: metadata, parent, related, subject, body, timestamp, root dirtree
// checksum, root dirmeta checksum.
func (c Commit) Encode() []byte {
	var buf bytes.Buffer

	putBytes(&buf, c.Metadata.Encode())

	if c.HasParent {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(c.Parent[:])

	var rn [4]byte
	binary.BigEndian.PutUint32(rn[:], uint32(len(c.Related)))
	buf.Write(rn[:])
	for _, r := range c.Related {
		putName(&buf, r.Name)
		buf.Write(r.Checksum[:])
	}

	putBytes(&buf, []byte(c.Subject))
	putBytes(&buf, []byte(c.Body))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], c.Timestamp)
	buf.Write(ts[:])

	buf.Write(c.RootTreeChecksum[:])
	buf.Write(c.RootMetaChecksum[:])

	return buf.Bytes()
}

// Checksum hashes the commit's canonical encoding.
func (c Commit) Checksum() checksum.Hash {
	return checksum.Sum(c.Encode())
}

func readBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, ostreeerr.InvalidFormatf("commit: truncated length")
	}
	l := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if len(b) < int(l) {
		return nil, nil, ostreeerr.InvalidFormatf("commit: field exceeds remaining buffer")
	}
	return b[:l], b[l:], nil
}

// DecodeCommit parses bytes produced by Encode.
func DecodeCommit(b []byte) (Commit, error) {
	var c Commit

	metaBytes, rest, err := readBytes(b)
	if err != nil {
		return c, err
	}
	meta, err := variant.Decode(metaBytes)
	if err != nil {
		return c, fmt.Errorf("commit: metadata: %w", err)
	}
	c.Metadata = meta
	b = rest

	if len(b) < 1 {
		return c, ostreeerr.InvalidFormatf("commit: truncated parent flag")
	}
	c.HasParent = b[0] != 0
	b = b[1:]
	var parentHash checksum.Hash
	if parentHash, b, err = readHash(b); err != nil {
		return c, err
	}
	c.Parent = parentHash

	if len(b) < 4 {
		return c, ostreeerr.InvalidFormatf("commit: truncated related count")
	}
	rcount := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	for i := uint32(0); i < rcount; i++ {
		var name string
		var h checksum.Hash
		if name, b, err = readName(b); err != nil {
			return c, err
		}
		if h, b, err = readHash(b); err != nil {
			return c, err
		}
		c.Related = append(c.Related, RelatedRef{Name: name, Checksum: h})
	}

	var subj, body []byte
	if subj, b, err = readBytes(b); err != nil {
		return c, err
	}
	c.Subject = string(subj)
	if body, b, err = readBytes(b); err != nil {
		return c, err
	}
	c.Body = string(body)

	if len(b) < 8 {
		return c, ostreeerr.InvalidFormatf("commit: truncated timestamp")
	}
	c.Timestamp = binary.BigEndian.Uint64(b[:8])
	b = b[8:]

	if c.RootTreeChecksum, b, err = readHash(b); err != nil {
		return c, err
	}
	if c.RootMetaChecksum, b, err = readHash(b); err != nil {
		return c, err
	}

	if len(b) != 0 {
		return c, ostreeerr.InvalidFormatf("commit: %d trailing bytes", len(b))
	}
	return c, nil
}
