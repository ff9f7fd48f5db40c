package repo

import (
	"time"

	"go.etcd.io/bbolt"

	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// Index is the repo's auxiliary bbolt database (SPEC_FULL §4.3). It
// has buckets for three things: a written-object existence set, which
// write_object and has_object consult before stat-ing the shard path
// (a recorded entry is taken as present without a stat); the parsed
// config as key/value pairs; and a small spec-string→checksum resolution
// cache for resolve_rev. The sharded object files and ref files on disk
// are the source of truth. iter_objects does not use the index, and a
// missing or stale index is not rebuilt from objects/: OpenIndex creates
// an empty one, and entries are only added as objects are written.
type Index struct {
	db *bbolt.DB
}

var (
	bucketObjectsExist = []byte("objects_exist")
	bucketConfigCache  = []byte("config_cache")
	bucketRevCache     = []byte("rev_cache")
)

// OpenIndex opens (creating if absent) the bbolt database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, ostreeerr.IOf("repo: open index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketObjectsExist, bucketConfigCache, bucketRevCache} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ostreeerr.IOf("repo: init index buckets: %w", err)
	}

	return &Index{db: db}, nil
}

// Close closes the underlying bbolt handle.
func (idx *Index) Close() error { return idx.db.Close() }

// MarkObjectExists records that hexsum.ext was written, so future
// write_object/has_object calls can consult the cache instead of
// stat-ing the shard path.
func (idx *Index) MarkObjectExists(hexsum, ext string) error {
	key := []byte(hexsum + "." + ext)
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjectsExist).Put(key, []byte{1})
	})
}

// ObjectExists consults the cache; a false result does not prove absence
// (the cache may be cold), callers must still stat the real path.
func (idx *Index) ObjectExists(hexsum, ext string) bool {
	found := false
	idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketObjectsExist).Get([]byte(hexsum + "." + ext))
		found = v != nil
		return nil
	})
	return found
}

// forgetObject removes a cached existence entry, used when fsck's
// destructive mode deletes the underlying object file.
func (idx *Index) forgetObject(hexsum, ext string) error {
	key := []byte(hexsum + "." + ext)
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjectsExist).Delete(key)
	})
}

// CacheRev stores the resolved checksum for a rev spec string.
func (idx *Index) CacheRev(spec, checksum string) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRevCache).Put([]byte(spec), []byte(checksum))
	})
}

// LookupRev returns a cached resolution, if any. Callers must still
// validate the ref file hasn't moved on for anything but the hot path.
func (idx *Index) LookupRev(spec string) (string, bool) {
	var out string
	var ok bool
	idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRevCache).Get([]byte(spec))
		if v != nil {
			out, ok = string(v), true
		}
		return nil
	})
	return out, ok
}

// InvalidateRev drops a cached resolution, used after write_ref changes
// what a name points to.
func (idx *Index) InvalidateRev(spec string) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRevCache).Delete([]byte(spec))
	})
}

// CacheConfigValue stores one "section.key" -> value pair.
func (idx *Index) CacheConfigValue(sectionKey, value string) error {
	return idx.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfigCache).Put([]byte(sectionKey), []byte(value))
	})
}

// LookupConfigValue returns a cached "section.key" value.
func (idx *Index) LookupConfigValue(sectionKey string) (string, bool) {
	var out string
	var ok bool
	idx.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketConfigCache).Get([]byte(sectionKey))
		if v != nil {
			out, ok = string(v), true
		}
		return nil
	})
	return out, ok
}
