package objects

import (
	"bytes"
	"testing"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/variant"
)

func TestDirTreeEmptyEncodeScenarioA(t *testing.T) {
	tr := DirTree{}
	b, err := tr.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// u32be(0) files, u32be(0) dirs
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(b, want) {
		t.Fatalf("empty dirtree encoding = %x, want %x", b, want)
	}
}

func TestDirTreeRoundtrip(t *testing.T) {
	h1 := checksum.Sum([]byte("one"))
	h2 := checksum.Sum([]byte("two"))
	h3 := checksum.Sum([]byte("three"))

	tr := DirTree{
		Files: []FileEntry{{Name: "hello", Checksum: h1}, {Name: "apple", Checksum: h2}},
		Dirs:  []DirEntry{{Name: "sub", TreeChecksum: h3, MetaChecksum: h1}},
	}
	b, err := tr.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeDirTree(b)
	if err != nil {
		t.Fatalf("DecodeDirTree: %v", err)
	}
	if len(got.Files) != 2 || got.Files[0].Name != "apple" || got.Files[1].Name != "hello" {
		t.Fatalf("files not sorted/roundtripped: %+v", got.Files)
	}
	if len(got.Dirs) != 1 || got.Dirs[0].Name != "sub" {
		t.Fatalf("dirs not roundtripped: %+v", got.Dirs)
	}
}

func TestDirTreeRejectsDuplicateAcrossLists(t *testing.T) {
	h := checksum.Sum([]byte("x"))
	tr := DirTree{
		Files: []FileEntry{{Name: "dup", Checksum: h}},
		Dirs:  []DirEntry{{Name: "dup", TreeChecksum: h, MetaChecksum: h}},
	}
	if _, err := tr.Encode(); err == nil {
		t.Fatal("expected error for name appearing in both files and dirs")
	}
}

func TestDirMetaRoundtrip(t *testing.T) {
	d := DirMeta{Uid: 1000, Gid: 1000, Mode: 0755, Xattrs: []checksum.Xattr{{Name: "user.a", Value: []byte("1")}}}
	b := d.Encode()
	got, err := DecodeDirMeta(b)
	if err != nil {
		t.Fatalf("DecodeDirMeta: %v", err)
	}
	if got.Uid != d.Uid || got.Gid != d.Gid || got.Mode != d.Mode || len(got.Xattrs) != 1 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestCommitEncodeDecodeRoundtrip(t *testing.T) {
	root := checksum.Sum([]byte("root"))
	meta := checksum.Sum([]byte("meta"))

	c := Commit{
		Metadata:         variant.Map{"ostree.composefs.v0": variant.Bytes([]byte{1, 2, 3})},
		HasParent:        false,
		Subject:          "init",
		Body:             "",
		Timestamp:        0,
		RootTreeChecksum: root,
		RootMetaChecksum: meta,
	}
	b := c.Encode()
	got, err := DecodeCommit(b)
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}
	if got.HasParent {
		t.Fatal("expected no parent")
	}
	if got.Subject != "init" || got.Timestamp != 0 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.RootTreeChecksum != root || got.RootMetaChecksum != meta {
		t.Fatal("root checksums did not roundtrip")
	}
}

func TestArchiveFileRoundtrip(t *testing.T) {
	content := []byte("archived content\n")
	h := ArchiveFileHeader{Uid: 1000, Gid: 1000, Mode: 0644, Size: uint64(len(content))}

	framed, err := EncodeArchiveFile(h, content)
	if err != nil {
		t.Fatalf("EncodeArchiveFile: %v", err)
	}
	gotHeader, gotContent, err := DecodeArchiveFile(framed)
	if err != nil {
		t.Fatalf("DecodeArchiveFile: %v", err)
	}
	if gotHeader.Uid != h.Uid || gotHeader.Size != h.Size {
		t.Fatalf("header mismatch: %+v", gotHeader)
	}
	if !bytes.Equal(gotContent, content) {
		t.Fatalf("content mismatch: %q", gotContent)
	}
}

func TestArchiveFileDetectsSizeMismatch(t *testing.T) {
	h := ArchiveFileHeader{Size: 99}
	framed, err := EncodeArchiveFile(h, []byte("short"))
	if err != nil {
		t.Fatalf("EncodeArchiveFile: %v", err)
	}
	if _, _, err := DecodeArchiveFile(framed); err == nil {
		t.Fatal("expected corruption error for size mismatch")
	}
}
