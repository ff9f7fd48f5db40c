package repo

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// WriteObject hashes data, stages it under the repo's temp
// directory, then renames it into its final sharded path (§4.3). If an
// object already exists at the destination, the staged copy is discarded
// and the existing checksum is returned (content-addressed idempotence).
func (r *Repo) WriteObject(kind objects.Kind, data []byte) (checksum.Hash, error) {
	sum := checksum.Sum(data)
	hexsum := sum.String()

	if r.index != nil && r.index.ObjectExists(hexsum, kind.Ext()) {
		return sum, nil
	}

	dest, err := r.shardPath(hexsum, kind.Ext())
	if err != nil {
		return checksum.Hash{}, err
	}
	if _, err := os.Stat(dest); err == nil {
		if r.index != nil {
			r.index.MarkObjectExists(hexsum, kind.Ext())
		}
		return sum, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return checksum.Hash{}, ostreeerr.IOf("repo: mkdir shard dir: %w", err)
	}

	tmp, err := r.stageTemp(data)
	if err != nil {
		return checksum.Hash{}, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		if os.IsExist(err) {
			if r.index != nil {
				r.index.MarkObjectExists(hexsum, kind.Ext())
			}
			return sum, nil
		}
		return checksum.Hash{}, ostreeerr.IOf("repo: rename into place: %w", err)
	}

	if r.index != nil {
		r.index.MarkObjectExists(hexsum, kind.Ext())
	}
	return sum, nil
}

// stageTemp writes data to a file under the repo's temp directory and
// returns its path, ready for an atomic rename into a shard. Per §4.3,
// it tries O_TMPFILE first (an unnamed inode with no race window at
// all) and falls back to a randomized name with O_EXCL whenever the
// O_TMPFILE open fails for any reason, or linkat refuses to name the
// unnamed inode (ENOTSUP, EOPNOTSUPP, EXDEV or EPERM).
func (r *Repo) stageTemp(data []byte) (string, error) {
	dir := tempDir(r.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", ostreeerr.IOf("repo: mkdir temp dir: %w", err)
	}

	var rnd [16]byte
	if _, err := readRandom(rnd[:]); err != nil {
		return "", ostreeerr.IOf("repo: read random: %w", err)
	}
	name := fmt.Sprintf("obj-%x", rnd)
	path := filepath.Join(dir, name)

	if ok, err := r.stageTempViaTmpfile(dir, path, data); ok {
		return path, err
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY|unix.O_CLOEXEC, 0644)
	if err != nil {
		return "", ostreeerr.IOf("repo: create temp file: %w", err)
	}
	f := os.NewFile(uintptr(fd), path)
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return "", ostreeerr.IOf("repo: write temp file: %w", werr)
	}
	if cerr != nil {
		os.Remove(path)
		return "", ostreeerr.IOf("repo: close temp file: %w", cerr)
	}
	return path, nil
}

// stageTempViaTmpfile opens dir with O_TMPFILE (an unnamed, unlinked
// inode), writes data to it, then uses linkat on /proc/self/fd/<n> to
// give it the name linkPath. The bool return reports whether O_TMPFILE
// was usable at all: false means the O_TMPFILE open failed (for any
// reason) or linkat refused to name the inode, and the caller should
// fall back to the named-O_EXCL path; true means the
// O_TMPFILE path was taken, and the accompanying error (if any) is
// final.
func (r *Repo) stageTempViaTmpfile(dir, linkPath string, data []byte) (bool, error) {
	fd, err := unix.Open(dir, unix.O_TMPFILE|unix.O_WRONLY|unix.O_CLOEXEC, 0644)
	if err != nil {
		// ENOTSUP/EOPNOTSUPP/EISDIR cover filesystems that don't
		// implement O_TMPFILE; any other failure here (e.g. a
		// permissions problem) is just as well handled by retrying
		// with the named-O_EXCL path, so fall back unconditionally.
		return false, nil
	}
	f := os.NewFile(uintptr(fd), dir)

	if _, werr := f.Write(data); werr != nil {
		f.Close()
		return true, ostreeerr.IOf("repo: write O_TMPFILE temp file: %w", werr)
	}

	procPath := fmt.Sprintf("/proc/self/fd/%d", fd)
	linkErr := unix.Linkat(unix.AT_FDCWD, procPath, unix.AT_FDCWD, linkPath, unix.AT_SYMLINK_FOLLOW)
	cerr := f.Close()
	if linkErr != nil {
		switch linkErr {
		case unix.ENOTSUP, unix.EOPNOTSUPP, unix.EXDEV, unix.EPERM:
			// linkat via /proc denied (e.g. no access to /proc, or a
			// restrictive mount); fall back to the named-O_EXCL path.
			return false, nil
		default:
			return true, ostreeerr.IOf("repo: linkat O_TMPFILE into place: %w", linkErr)
		}
	}
	if cerr != nil {
		return true, ostreeerr.IOf("repo: close O_TMPFILE temp file: %w", cerr)
	}
	return true, nil
}

// writeRawObject stores data verbatim under a checksum computed by the
// caller rather than by hashing data itself. Used by archive-mode file
// objects, whose on-disk bytes (compressed, framed) are not the same
// bytes the §4.1 identity hash covers.
func (r *Repo) writeRawObject(kind objects.Kind, sum checksum.Hash, data []byte) (checksum.Hash, error) {
	hexsum := sum.String()

	if r.index != nil && r.index.ObjectExists(hexsum, kind.Ext()) {
		return sum, nil
	}

	dest, err := r.shardPath(hexsum, kind.Ext())
	if err != nil {
		return checksum.Hash{}, err
	}
	if _, err := os.Stat(dest); err == nil {
		if r.index != nil {
			r.index.MarkObjectExists(hexsum, kind.Ext())
		}
		return sum, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return checksum.Hash{}, ostreeerr.IOf("repo: mkdir shard dir: %w", err)
	}

	tmp, err := r.stageTemp(data)
	if err != nil {
		return checksum.Hash{}, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		if os.IsExist(err) {
			if r.index != nil {
				r.index.MarkObjectExists(hexsum, kind.Ext())
			}
			return sum, nil
		}
		return checksum.Hash{}, ostreeerr.IOf("repo: rename into place: %w", err)
	}

	if r.index != nil {
		r.index.MarkObjectExists(hexsum, kind.Ext())
	}
	return sum, nil
}

// ReadObject returns the raw bytes of the object at checksum/kind, or
// NotFound.
func (r *Repo) ReadObject(kind objects.Kind, sum checksum.Hash) ([]byte, error) {
	path, err := r.shardPath(sum.String(), kind.Ext())
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ostreeerr.NotFoundf("repo: object %s.%s not found", sum, kind.Ext())
		}
		return nil, ostreeerr.IOf("repo: read object: %w", err)
	}
	return data, nil
}

// HasObject reports whether the object is present on disk, consulting
// the index only as a fast-path hint.
func (r *Repo) HasObject(kind objects.Kind, sum checksum.Hash) bool {
	if r.index != nil && r.index.ObjectExists(sum.String(), kind.Ext()) {
		return true
	}
	path, err := r.shardPath(sum.String(), kind.Ext())
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// LinkFile hashes an external regular file as a bare-mode file object and
// stores it content-addressed, using meta for the uid/gid/mode/xattrs
// half of the §4.1 identity and the external file's bytes as payload.
// The stored bytes carry the bare-mode xattrs-length framing
// objects.EncodeBareFile adds (see WriteFileObject), so this always
// stages and renames rather than hardlinking the external path directly
// in: the object's on-disk bytes are never byte-identical to the
// external file's raw content once framing is added.
func (r *Repo) LinkFile(externalPath string, meta checksum.FileInput) (checksum.Hash, error) {
	content, err := os.ReadFile(externalPath)
	if err != nil {
		return checksum.Hash{}, ostreeerr.IOf("repo: read external file: %w", err)
	}
	meta.Content = content
	return r.WriteFileObject(meta)
}

// RehashObject re-derives an object's identity checksum from its current
// on-disk bytes, independent of its filename. File objects carry framing
// on disk that never participates in the hash (a zstd frame plus header
// in archive mode, a bare xattrs-length prefix otherwise), so both are
// decoded back to (uid, gid, mode, xattrs, payload) and re-hashed via
// checksum.HashFile; every other kind's on-disk bytes are exactly its
// hash input, so it is just checksum.Sum. Used by fsck to detect
// tampering.
func (r *Repo) RehashObject(kind objects.Kind, sum checksum.Hash) (checksum.Hash, error) {
	data, err := r.ReadObject(kind, sum)
	if err != nil {
		return checksum.Hash{}, err
	}

	if kind == objects.KindFile {
		if r.Mode == ModeArchive {
			header, content, err := objects.DecodeArchiveFile(data)
			if err != nil {
				return checksum.Hash{}, err
			}
			return checksum.HashFile(checksum.FileInput{
				Uid: header.Uid, Gid: header.Gid, Mode: header.Mode,
				Xattrs: header.Xattrs, Content: content,
			}), nil
		}

		uid, gid, mode, xattrs, payload, err := objects.DecodeBareFile(data)
		if err != nil {
			return checksum.Hash{}, err
		}
		return checksum.HashFile(checksum.FileInput{
			Uid: uid, Gid: gid, Mode: mode, Xattrs: xattrs, Content: payload,
		}), nil
	}

	return checksum.Sum(data), nil
}

// DeleteObject removes an object's on-disk file, used by fsck's
// destructive mode. Missing is not an error.
func (r *Repo) DeleteObject(kind objects.Kind, sum checksum.Hash) error {
	path, err := r.shardPath(sum.String(), kind.Ext())
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ostreeerr.IOf("repo: remove object: %w", err)
	}
	if r.index != nil {
		r.index.forgetObject(sum.String(), kind.Ext())
	}
	return nil
}

// ObjectInfo is what iter_objects hands its callback.
type ObjectInfo struct {
	Kind     objects.Kind
	Checksum checksum.Hash
	Size     int64
}

// IterObjects enumerates every object file in shard order, invoking fn
// for each. fn's error aborts the walk and is returned.
func (r *Repo) IterObjects(fn func(ObjectInfo) error) error {
	shards, err := os.ReadDir(objectsDir(r.Dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ostreeerr.IOf("repo: read objects dir: %w", err)
	}

	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(objectsDir(r.Dir), shard.Name())
		entries, err := os.ReadDir(shardDir)
		if err != nil {
			return ostreeerr.IOf("repo: read shard dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			dot := bytes.IndexByte([]byte(name), '.')
			if dot < 0 {
				continue
			}
			hexsum := shard.Name() + name[:dot]
			ext := name[dot+1:]
			kind, ok := kindForExt(ext)
			if !ok {
				continue
			}
			sum, err := checksum.ParseHash(hexsum)
			if err != nil {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return ostreeerr.IOf("repo: stat object: %w", err)
			}
			if err := fn(ObjectInfo{Kind: kind, Checksum: sum, Size: info.Size()}); err != nil {
				return err
			}
		}
	}
	return nil
}

func kindForExt(ext string) (objects.Kind, bool) {
	switch ext {
	case "file":
		return objects.KindFile, true
	case "dirmeta":
		return objects.KindDirMeta, true
	case "dirtree":
		return objects.KindDirTree, true
	case "commit":
		return objects.KindCommit, true
	default:
		return 0, false
	}
}

// readRandom reads len(b) bytes of cryptographically-irrelevant entropy
// for temp filenames. A weak RNG is fine: the name just needs to avoid
// collisions with concurrent writers, not resist prediction.
func readRandom(b []byte) (int, error) {
	f, err := os.Open("/dev/urandom")
	if err != nil {
		// Fall back to a name derived from the pid and the current time
		// in nanoseconds if /dev/urandom is unavailable (e.g. restrictive
		// sandboxes), so successive calls still get distinct names.
		h := sha256.Sum256([]byte(fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())))
		copy(b, h[:])
		return len(b), nil
	}
	defer f.Close()
	return io.ReadFull(f, b)
}
