package repo

import (
	"context"
	"os"
	"path/filepath"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

// CheckoutCommit materializes a commit's root tree into destDir: mkdir
// parents, then write each file's content and mode. Symlinks and
// regular files are both supported; archive-mode file objects are
// transparently decompressed. Ownership (uid/gid) is not applied —
// checkout commonly runs unprivileged, and root materialization for
// boot deployments instead uses composefs/bind mounts directly over
// the object store rather than a plain copy-out.
func (r *Repo) CheckoutCommit(ctx context.Context, sum checksum.Hash, destDir string) error {
	c, state, err := r.LoadCommit(sum)
	if err != nil {
		return err
	}
	if state.Partial {
		return ostreeerr.Incompletef("repo: checkout: commit %s is partial", sum)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return ostreeerr.IOf("repo: checkout: mkdir root: %w", err)
	}
	return r.checkoutDir(ctx, c.RootTreeChecksum, c.RootMetaChecksum, destDir)
}

func (r *Repo) checkoutDir(ctx context.Context, treeSum, metaSum checksum.Hash, destDir string) error {
	if err := ctx.Err(); err != nil {
		return ostreeerr.Cancelledf("repo: checkout cancelled")
	}

	metaData, err := r.ReadObject(objects.KindDirMeta, metaSum)
	if err != nil {
		return err
	}
	meta, err := objects.DecodeDirMeta(metaData)
	if err != nil {
		return err
	}
	if err := os.Chmod(destDir, os.FileMode(meta.Mode&0777)); err != nil {
		return ostreeerr.IOf("repo: checkout: chmod %s: %w", destDir, err)
	}

	treeData, err := r.ReadObject(objects.KindDirTree, treeSum)
	if err != nil {
		return err
	}
	tree, err := objects.DecodeDirTree(treeData)
	if err != nil {
		return err
	}

	for _, f := range tree.Files {
		if err := ctx.Err(); err != nil {
			return ostreeerr.Cancelledf("repo: checkout cancelled")
		}
		if err := r.checkoutFile(f, destDir); err != nil {
			return err
		}
	}

	for _, d := range tree.Dirs {
		childPath := filepath.Join(destDir, d.Name)
		if err := os.MkdirAll(childPath, 0755); err != nil {
			return ostreeerr.IOf("repo: checkout: mkdir %s: %w", childPath, err)
		}
		if err := r.checkoutDir(ctx, d.TreeChecksum, d.MetaChecksum, childPath); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repo) checkoutFile(f objects.FileEntry, destDir string) error {
	destPath := filepath.Join(destDir, f.Name)

	raw, err := r.ReadObject(objects.KindFile, f.Checksum)
	if err != nil {
		return err
	}

	if r.Mode == ModeArchive {
		header, content, err := objects.DecodeArchiveFile(raw)
		if err != nil {
			return err
		}
		return writeCheckoutEntry(destPath, header.Mode, content)
	}

	_, _, mode, _, payload, err := objects.DecodeBareFile(raw)
	if err != nil {
		return err
	}
	return writeCheckoutEntry(destPath, mode, payload)
}

func writeCheckoutEntry(path string, mode uint32, payload []byte) error {
	const sIFLNK = 0120000
	if mode&0170000 == sIFLNK {
		if err := os.Symlink(string(payload), path); err != nil {
			return ostreeerr.IOf("repo: checkout: symlink %s: %w", path, err)
		}
		return nil
	}
	if err := os.WriteFile(path, payload, os.FileMode(mode&0777)); err != nil {
		return ostreeerr.IOf("repo: checkout: write %s: %w", path, err)
	}
	return nil
}
