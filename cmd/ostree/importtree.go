package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/mtree"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/repo"
)

// importDir walks a plain filesystem directory and builds an
// in-memory mutable tree from it, writing each file/dirmeta object as
// it goes. This is the thin, non-libarchive importer `ostree commit`
// needs to turn an arbitrary directory into a commit; it is not a
// general-purpose layer importer (that is §4.4's MergeLayer, exercised
// elsewhere, not from the command line).
func importDir(r *repo.Repo, path string) (*mtree.Node, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	metaSum, err := writeDirMeta(r, info)
	if err != nil {
		return nil, err
	}
	root := mtree.New()
	root.SetMetaChecksum(metaSum)
	if err := importInto(r, root, path); err != nil {
		return nil, err
	}
	return root, nil
}

func importInto(r *repo.Repo, node *mtree.Node, dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(childPath)
			if err != nil {
				return err
			}
			sum, err := r.WriteFileObject(checksum.FileInput{
				Uid: 0, Gid: 0, Mode: 0120777, SymlinkTarget: target,
			})
			if err != nil {
				return err
			}
			if err := node.ReplaceFile(entry.Name(), sum); err != nil {
				return err
			}
		case entry.IsDir():
			metaSum, err := writeDirMeta(r, info)
			if err != nil {
				return err
			}
			child, err := node.EnsureDir(entry.Name())
			if err != nil {
				return err
			}
			child.SetMetaChecksum(metaSum)
			if err := importInto(r, child, childPath); err != nil {
				return err
			}
		default:
			content, err := os.ReadFile(childPath)
			if err != nil {
				return err
			}
			mode := uint32(0100000) | uint32(info.Mode().Perm())
			sum, err := r.WriteFileObject(checksum.FileInput{Uid: 0, Gid: 0, Mode: mode, Content: content})
			if err != nil {
				return err
			}
			if err := node.ReplaceFile(entry.Name(), sum); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeDirMeta(r *repo.Repo, info os.FileInfo) (checksum.Hash, error) {
	mode := uint32(040000) | uint32(info.Mode().Perm())
	return r.WriteDirMeta(objects.DirMeta{Uid: 0, Gid: 0, Mode: mode})
}

func printTreeSummary(root *mtree.Node) {
	for _, name := range root.FileNames() {
		fmt.Fprintf(os.Stderr, "  + %s\n", name)
	}
}
