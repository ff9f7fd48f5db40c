package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/mtree"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/variant"
)

func TestCheckoutCommitRoundtrip(t *testing.T) {
	r := openTestRepo(t)

	rootMeta, err := r.WriteDirMeta(objects.DirMeta{Uid: 0, Gid: 0, Mode: 040755})
	if err != nil {
		t.Fatalf("WriteDirMeta root: %v", err)
	}
	root := mtree.New()
	root.SetMetaChecksum(rootMeta)

	helloSum, err := r.WriteFileObject(checksum.FileInput{
		Uid: 1000, Gid: 1000, Mode: 0100644,
		Xattrs:  []checksum.Xattr{{Name: "user.greeting", Value: []byte("hi")}},
		Content: []byte("hello world\n"),
	})
	if err != nil {
		t.Fatalf("WriteFileObject hello: %v", err)
	}
	if err := root.ReplaceFile("hello.txt", helloSum); err != nil {
		t.Fatalf("ReplaceFile hello: %v", err)
	}

	linkSum, err := r.WriteFileObject(checksum.FileInput{
		Uid: 1000, Gid: 1000, Mode: 0120777, SymlinkTarget: "hello.txt",
	})
	if err != nil {
		t.Fatalf("WriteFileObject link: %v", err)
	}
	if err := root.ReplaceFile("link", linkSum); err != nil {
		t.Fatalf("ReplaceFile link: %v", err)
	}

	subMeta, err := r.WriteDirMeta(objects.DirMeta{Uid: 0, Gid: 0, Mode: 040750})
	if err != nil {
		t.Fatalf("WriteDirMeta sub: %v", err)
	}
	sub, err := root.EnsureDir("sub")
	if err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	sub.SetMetaChecksum(subMeta)

	nestedSum, err := r.WriteFileObject(checksum.FileInput{Uid: 0, Gid: 0, Mode: 0100600, Content: []byte("nested\n")})
	if err != nil {
		t.Fatalf("WriteFileObject nested: %v", err)
	}
	if err := sub.ReplaceFile("inner.txt", nestedSum); err != nil {
		t.Fatalf("ReplaceFile inner: %v", err)
	}

	treeSum, metaSum, err := r.SerializeTree(root)
	if err != nil {
		t.Fatalf("SerializeTree: %v", err)
	}
	commitSum, err := r.AssembleCommit(treeSum, metaSum, checksum.Hash{}, false, "checkout test", "", variant.Map{}, 1700000000)
	if err != nil {
		t.Fatalf("AssembleCommit: %v", err)
	}

	destDir := t.TempDir()
	if err := r.CheckoutCommit(context.Background(), commitSum, destDir); err != nil {
		t.Fatalf("CheckoutCommit: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "hello.txt"))
	if err != nil {
		t.Fatalf("read checked-out hello.txt: %v", err)
	}
	if string(got) != "hello world\n" {
		t.Fatalf("hello.txt content = %q, want %q", got, "hello world\n")
	}
	if info, err := os.Stat(filepath.Join(destDir, "hello.txt")); err != nil {
		t.Fatalf("stat hello.txt: %v", err)
	} else if info.Mode().Perm() != 0644 {
		t.Fatalf("hello.txt mode = %v, want 0644", info.Mode().Perm())
	}

	target, err := os.Readlink(filepath.Join(destDir, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "hello.txt" {
		t.Fatalf("symlink target = %q, want %q", target, "hello.txt")
	}

	nested, err := os.ReadFile(filepath.Join(destDir, "sub", "inner.txt"))
	if err != nil {
		t.Fatalf("read checked-out sub/inner.txt: %v", err)
	}
	if string(nested) != "nested\n" {
		t.Fatalf("sub/inner.txt content = %q, want %q", nested, "nested\n")
	}
}

func TestCheckoutCommitRejectsPartial(t *testing.T) {
	r := openTestRepo(t)
	sum := buildAndCommit(t, r)
	if err := r.MarkPartial(sum); err != nil {
		t.Fatalf("MarkPartial: %v", err)
	}

	if err := r.CheckoutCommit(context.Background(), sum, t.TempDir()); err == nil {
		t.Fatal("CheckoutCommit: expected error for partial commit, got nil")
	}
}
