// Package checksum computes the stable, content-plus-metadata digest that
// identifies every object in the store. Everything else in this module
// depends on it: the object codec hashes its canonical encoding through
// here, and the repository store uses the hex form as the object's
// filename.
//
// Xattrs are read directly via golang.org/x/sys/unix rather than shelling
// out to getfattr, the same choice the wider retrieved corpus makes for
// raw Linux syscalls.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// Hash is a 32-byte SHA-256 digest, the identity of every stored object.
type Hash [32]byte

// String renders the hash as 64 lowercase hex characters.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the zero hash (used as "no parent"/"absent").
func (h Hash) IsZero() bool { return h == Hash{} }

// ParseHash decodes a 64-character lowercase hex checksum.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 64 {
		return h, fmt.Errorf("checksum: wrong length %d, want 64", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("checksum: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Sum hashes raw bytes directly; used by the object codec once it has
// produced a canonical encoding.
func Sum(b []byte) Hash {
	return Hash(sha256.Sum256(b))
}

// Xattr is a single extended attribute name/value pair as read from disk.
type Xattr struct {
	Name  string
	Value []byte
}

// CanonicalXattrs serializes xattrs in the form required by §4.1: sorted
// lexicographically by name (byte-wise), each entry is
// name || NUL || u32be(len(value)) || value.
func CanonicalXattrs(xattrs []Xattr) []byte {
	sorted := make([]Xattr, len(xattrs))
	copy(sorted, xattrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, x := range sorted {
		buf.WriteString(x.Name)
		buf.WriteByte(0)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(x.Value)))
		buf.Write(lenBuf[:])
		buf.Write(x.Value)
	}
	return buf.Bytes()
}

// ReadXattrs reads the extended attributes of path itself (a symlink is
// not followed) via llistxattr/lgetxattr. A filesystem that doesn't support xattrs (ENOTSUP)
// or reports none (ENODATA) yields an empty, non-error result.
func ReadXattrs(path string) ([]Xattr, error) {
	return readXattrsWith(unix.Llistxattr, unix.Lgetxattr, path)
}

// ReadXattrsFd reads xattrs of an already-open file descriptor, used when
// streaming regular file content so the kernel can't swap the path under us.
func ReadXattrsFd(fd int) ([]Xattr, error) {
	listFn := func(_ string, dest []byte) (int, error) { return unix.Flistxattr(fd, dest) }
	getFn := func(_ string, name string, dest []byte) (int, error) { return unix.Fgetxattr(fd, name, dest) }
	return readXattrsWith(listFn, getFn, "")
}

type listFunc func(path string, dest []byte) (int, error)
type getFunc func(path string, name string, dest []byte) (int, error)

func readXattrsWith(list listFunc, get getFunc, path string) ([]Xattr, error) {
	size, err := list(path, nil)
	if err != nil {
		if isNotSupported(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listxattr: %w", err)
	}
	if size == 0 {
		return nil, nil
	}

	names := make([]byte, size)
	n, err := list(path, names)
	if err != nil {
		if isNotSupported(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listxattr: %w", err)
	}
	names = names[:n]

	var out []Xattr
	for _, raw := range bytes.Split(names, []byte{0}) {
		if len(raw) == 0 {
			continue
		}
		name := string(raw)

		vsize, err := get(path, name, nil)
		if err != nil {
			if isNotData(err) {
				continue
			}
			return nil, fmt.Errorf("getxattr %s: %w", name, err)
		}
		val := make([]byte, vsize)
		if vsize > 0 {
			vn, err := get(path, name, val)
			if err != nil {
				return nil, fmt.Errorf("getxattr %s: %w", name, err)
			}
			val = val[:vn]
		}
		out = append(out, Xattr{Name: name, Value: val})
	}
	return out, nil
}

func isNotSupported(err error) bool {
	return err == unix.ENOTSUP || err == unix.EOPNOTSUPP
}

func isNotData(err error) bool {
	return err == unix.ENODATA
}

// MetaPreamble builds u32be(uid) | u32be(gid) | u32be(mode) with file-type
// bits stripped from mode, per §4.1 item 1.
func MetaPreamble(uid, gid, mode uint32) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], uid)
	binary.BigEndian.PutUint32(buf[4:8], gid)
	binary.BigEndian.PutUint32(buf[8:12], mode&^unix.S_IFMT)
	return buf[:]
}

// FileInput is the normalized payload of a file object prior to hashing:
// exactly one of Content, SymlinkTarget or a device is populated. Rdev is
// only meaningful when IsDevice is true.
type FileInput struct {
	Uid, Gid uint32
	Mode     uint32 // includes type bits; stripped internally
	Xattrs   []Xattr

	Content       []byte // regular file
	SymlinkTarget string // symlink
	IsDevice      bool
	Rdev          uint64
}

// HashFile computes the §4.1 file-object checksum: preamble, canonical
// xattrs, then exactly one of content bytes / symlink target / decimal
// rdev, with no length prefix on any of them.
func HashFile(f FileInput) Hash {
	h := sha256.New()
	h.Write(MetaPreamble(f.Uid, f.Gid, f.Mode))
	h.Write(CanonicalXattrs(f.Xattrs))

	switch {
	case f.IsDevice:
		h.Write([]byte(fmt.Sprintf("%d", f.Rdev)))
	case f.SymlinkTarget != "":
		h.Write([]byte(f.SymlinkTarget))
	default:
		h.Write(f.Content)
	}

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// DirMetaInput is the metadata tuple of a directory (entries live in the
// dirtree, not here).
type DirMetaInput struct {
	Uid, Gid uint32
	Mode     uint32
	Xattrs   []Xattr
}

// EncodeDirMeta produces the canonical dirmeta bytes: the same preamble as
// a file object followed by the canonical xattrs blob. Scenario A in the
// spec's testable properties is exactly this encoding.
func EncodeDirMeta(d DirMetaInput) []byte {
	var buf bytes.Buffer
	buf.Write(MetaPreamble(d.Uid, d.Gid, d.Mode))
	buf.Write(CanonicalXattrs(d.Xattrs))
	return buf.Bytes()
}

// HashDirMeta hashes the canonical dirmeta encoding.
func HashDirMeta(d DirMetaInput) Hash {
	return Sum(EncodeDirMeta(d))
}
