// Package fsck implements §4.6's reachability walk and corruption check:
// for every non-partial commit, re-hash every reachable object and
// compare it to its filename checksum, optionally deleting mismatches
// and synthesizing tombstones for commits with a missing parent.
package fsck

import (
	"context"
	"sort"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/otlog"
	"github.com/ostree-go/ostree/internal/repo"
)

// Options controls fsck's handling of corruption and missing parents.
type Options struct {
	Destructive bool // delete corrupt objects instead of just reporting them
	Tombstone   bool // synthesize a tombstone-commit marker for a missing parent
}

// CorruptObject records one object that failed re-hash verification.
type CorruptObject struct {
	Kind     objects.Kind
	Checksum checksum.Hash
	Commit   checksum.Hash // the commit under which this object was reached
}

// Result is the outcome of a full repo walk.
type Result struct {
	CommitsChecked    int
	PartialCommits    []checksum.Hash
	CorruptObjects    []CorruptObject
	IncompleteCommits []checksum.Hash // commits left Incomplete by a destructive deletion
	Tombstones        []checksum.Hash
}

// OK reports whether the walk found no corruption, satisfying property 8:
// fsck succeeds iff every reachable object in every non-partial commit is
// uncorrupted.
func (r Result) OK() bool { return len(r.CorruptObjects) == 0 }

// Walk enumerates every commit object in the store and checks it per
// §4.6. It honors ctx for cancellation at every object and commit
// boundary (§5).
func Walk(ctx context.Context, r *repo.Repo, opts Options) (Result, error) {
	log := otlog.Default.With("fsck")
	var result Result

	commits, err := listCommits(r)
	if err != nil {
		return Result{}, err
	}

	incomplete := make(map[checksum.Hash]bool)

	for _, sum := range commits {
		if err := ctx.Err(); err != nil {
			return Result{}, ostreeerr.Cancelledf("fsck: cancelled")
		}

		c, state, err := r.LoadCommit(sum)
		if err != nil {
			return Result{}, err
		}
		result.CommitsChecked++

		if state.Partial {
			result.PartialCommits = append(result.PartialCommits, sum)
			log.Info("skipping content verification of partial commit", otlog.F("commit", sum.String()))
			continue
		}

		if c.HasParent && !r.HasObject(objects.KindCommit, c.Parent) {
			if opts.Tombstone {
				if err := writeTombstone(r, c.Parent); err != nil {
					return Result{}, err
				}
				result.Tombstones = append(result.Tombstones, c.Parent)
				log.Info("synthesized tombstone for missing parent", otlog.F("parent", c.Parent.String()))
			}
		}

		corrupted, err := checkCommit(ctx, r, sum, opts, &result)
		if err != nil {
			return Result{}, err
		}
		// Only destructive mode actually removes the object, which is
		// what makes the commit Incomplete (now missing a reachable
		// object); non-destructive mode just reports the Corruption.
		if corrupted && opts.Destructive {
			incomplete[sum] = true
		}
	}

	for sum := range incomplete {
		result.IncompleteCommits = append(result.IncompleteCommits, sum)
	}
	sort.Slice(result.IncompleteCommits, func(i, j int) bool {
		return result.IncompleteCommits[i].String() < result.IncompleteCommits[j].String()
	})

	return result, nil
}

// checkCommit re-hashes every object reachable from sum, reporting or
// deleting corrupt ones. It returns true if any object under this commit
// was found corrupt (and, in destructive mode, removed); Walk reports
// the commit Incomplete on a true return only in destructive mode.
func checkCommit(ctx context.Context, r *repo.Repo, sum checksum.Hash, opts Options, result *Result) (bool, error) {
	reached, err := r.TraverseCommit(ctx, sum, repo.TraverseFlags{BestEffort: true})
	if err != nil {
		return false, err
	}

	corrupted := false
	for objSum, kind := range reached {
		if err := ctx.Err(); err != nil {
			return false, ostreeerr.Cancelledf("fsck: cancelled")
		}
		if !r.HasObject(kind, objSum) {
			continue // missing objects are skipped here, not reported
		}

		recomputed, err := r.RehashObject(kind, objSum)
		if err != nil {
			return false, err
		}
		if recomputed == objSum {
			continue
		}

		corrupted = true
		result.CorruptObjects = append(result.CorruptObjects, CorruptObject{Kind: kind, Checksum: objSum, Commit: sum})
		if opts.Destructive {
			if err := r.DeleteObject(kind, objSum); err != nil {
				return false, err
			}
		}
	}

	return corrupted, nil
}

// writeTombstone stores a tombstone-commit marker for a missing parent:
// an empty file with the `commit-tombstone` extension at the missing
// parent's shard path, written by repo.WriteTombstone. Re-derived from
// the parent identity rather than content-addressed, since the marker's
// whole purpose is to occupy that specific checksum's slot.
func writeTombstone(r *repo.Repo, parent checksum.Hash) error {
	return r.WriteTombstone(parent)
}

// listCommits enumerates every commit object currently in the store.
func listCommits(r *repo.Repo) ([]checksum.Hash, error) {
	var out []checksum.Hash
	err := r.IterObjects(func(info repo.ObjectInfo) error {
		if info.Kind == objects.KindCommit {
			out = append(out, info.Checksum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
