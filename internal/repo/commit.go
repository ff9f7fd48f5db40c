package repo

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// CommitState reports flags tracked alongside a commit object (§4.3:
// "state/ — optional per-commit flags").
type CommitState struct {
	Partial bool
}

func commitPartialPath(root string, sum checksum.Hash) string {
	return filepath.Join(stateDir(root), sum.String()+".commitpartial")
}

// MarkPartial creates the `<checksum>.commitpartial` marker.
func (r *Repo) MarkPartial(sum checksum.Hash) error {
	path := commitPartialPath(r.Dir, sum)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ostreeerr.IOf("repo: mkdir state dir: %w", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return ostreeerr.IOf("repo: write partial marker: %w", err)
	}
	return nil
}

// ClearPartial removes the `<checksum>.commitpartial` marker, if present.
func (r *Repo) ClearPartial(sum checksum.Hash) error {
	err := os.Remove(commitPartialPath(r.Dir, sum))
	if err != nil && !os.IsNotExist(err) {
		return ostreeerr.IOf("repo: remove partial marker: %w", err)
	}
	return nil
}

// WriteTombstone marks sum as a deleted commit: an empty marker file at
// sum's shard path under the `commit-tombstone` extension (§3: "a
// tombstone-commit is a marker recording that a commit was deleted").
// Unlike ordinary objects, the marker is keyed by the deleted commit's
// own checksum rather than a hash of its (empty) contents.
func (r *Repo) WriteTombstone(sum checksum.Hash) error {
	path, err := r.shardPath(sum.String(), "commit-tombstone")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ostreeerr.IOf("repo: mkdir shard dir: %w", err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return ostreeerr.IOf("repo: write tombstone: %w", err)
	}
	return nil
}

// HasTombstone reports whether sum has been recorded as a deleted commit.
func (r *Repo) HasTombstone(sum checksum.Hash) bool {
	path, err := r.shardPath(sum.String(), "commit-tombstone")
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// LoadCommit reads and parses a commit object, reporting its partial
// state.
func (r *Repo) LoadCommit(sum checksum.Hash) (objects.Commit, CommitState, error) {
	data, err := r.ReadObject(objects.KindCommit, sum)
	if err != nil {
		return objects.Commit{}, CommitState{}, err
	}
	c, err := objects.DecodeCommit(data)
	if err != nil {
		return objects.Commit{}, CommitState{}, err
	}

	_, statErr := os.Stat(commitPartialPath(r.Dir, sum))
	state := CommitState{Partial: statErr == nil}
	return c, state, nil
}

// WriteCommit stores a fully-assembled commit object (built by the
// commit-serialization path, internal/mtree + objects.Commit.Encode) and
// returns its checksum.
func (r *Repo) WriteCommit(c objects.Commit) (checksum.Hash, error) {
	sum, err := r.WriteObject(objects.KindCommit, c.Encode())
	if err != nil {
		return checksum.Hash{}, err
	}
	return sum, nil
}

// TraverseFlags controls traverse_commit's missing-object behavior.
type TraverseFlags struct {
	BestEffort bool // if true, missing reachable objects are skipped instead of erroring
}

// TraverseCommit walks the DAG rooted at sum, collecting every reachable
// object identity (§4.3). It honors ctx for cancellation at every object
// and directory boundary (§5).
func (r *Repo) TraverseCommit(ctx context.Context, sum checksum.Hash, flags TraverseFlags) (map[checksum.Hash]objects.Kind, error) {
	reached := map[checksum.Hash]objects.Kind{sum: objects.KindCommit}

	c, _, err := r.LoadCommit(sum)
	if err != nil {
		return nil, err
	}

	if c.RootTreeChecksum.IsZero() && c.RootMetaChecksum.IsZero() {
		return reached, nil
	}

	if err := r.traverseDir(ctx, c.RootTreeChecksum, c.RootMetaChecksum, reached, flags); err != nil {
		return nil, err
	}
	return reached, nil
}

func (r *Repo) traverseDir(ctx context.Context, treeSum, metaSum checksum.Hash, reached map[checksum.Hash]objects.Kind, flags TraverseFlags) error {
	if err := ctx.Err(); err != nil {
		return ostreeerr.Cancelledf("repo: traverse cancelled")
	}

	reached[metaSum] = objects.KindDirMeta
	if !r.HasObject(objects.KindDirMeta, metaSum) {
		if flags.BestEffort {
			return nil
		}
		return ostreeerr.Incompletef("repo: missing dirmeta %s", metaSum)
	}

	reached[treeSum] = objects.KindDirTree
	data, err := r.ReadObject(objects.KindDirTree, treeSum)
	if err != nil {
		if flags.BestEffort && isNotFound(err) {
			return nil
		}
		if isNotFound(err) {
			return ostreeerr.Incompletef("repo: missing dirtree %s", treeSum)
		}
		return err
	}
	tree, err := objects.DecodeDirTree(data)
	if err != nil {
		return err
	}

	for _, f := range tree.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		reached[f.Checksum] = objects.KindFile
		if !r.HasObject(objects.KindFile, f.Checksum) && !flags.BestEffort {
			return ostreeerr.Incompletef("repo: missing file object %s", f.Checksum)
		}
	}

	for _, d := range tree.Dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.traverseDir(ctx, d.TreeChecksum, d.MetaChecksum, reached, flags); err != nil {
			return err
		}
	}

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ostreeerr.ErrNotFound)
}
