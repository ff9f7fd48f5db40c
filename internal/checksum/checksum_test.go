package checksum

import (
	"crypto/sha256"
	"testing"
)

func TestHashDirMetaScenarioA(t *testing.T) {
	// uid=0, gid=0, mode=0755, no xattrs: SHA-256 of
	// 00 00 00 00 00 00 00 00 00 00 01 ED
	got := HashDirMeta(DirMetaInput{Uid: 0, Gid: 0, Mode: 0755})
	want := sha256.Sum256([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0xED})
	if got != Hash(want) {
		t.Fatalf("root dirmeta checksum mismatch: got %x want %x", got, want)
	}
}

func TestHashFileScenarioB(t *testing.T) {
	content := []byte("hi\n")
	got := HashFile(FileInput{Uid: 1000, Gid: 1000, Mode: 0644, Content: content})

	h := sha256.New()
	h.Write(MetaPreamble(1000, 1000, 0644))
	h.Write(nil) // no xattrs
	h.Write(content)
	want := h.Sum(nil)

	if got.String() != Hash(want).String() {
		t.Fatalf("file checksum mismatch: got %s want %x", got, want)
	}
}

func TestHashFileDeterministic(t *testing.T) {
	f := FileInput{Uid: 1, Gid: 2, Mode: 0644, Content: []byte("abc")}
	if HashFile(f) != HashFile(f) {
		t.Fatal("hashing the same input twice produced different digests")
	}
}

func TestCanonicalXattrsOrderIndependent(t *testing.T) {
	a := []Xattr{{Name: "user.b", Value: []byte("2")}, {Name: "user.a", Value: []byte("1")}}
	b := []Xattr{{Name: "user.a", Value: []byte("1")}, {Name: "user.b", Value: []byte("2")}}

	if string(CanonicalXattrs(a)) != string(CanonicalXattrs(b)) {
		t.Fatal("xattr canonicalization is not permutation-invariant")
	}
}

func TestHashFileWithXattrsPermutationInvariant(t *testing.T) {
	xa := []Xattr{{Name: "user.z", Value: []byte("1")}, {Name: "user.a", Value: []byte("2")}}
	xb := []Xattr{{Name: "user.a", Value: []byte("2")}, {Name: "user.z", Value: []byte("1")}}

	f1 := FileInput{Uid: 1, Gid: 1, Mode: 0644, Content: []byte("x"), Xattrs: xa}
	f2 := FileInput{Uid: 1, Gid: 1, Mode: 0644, Content: []byte("x"), Xattrs: xb}

	if HashFile(f1) != HashFile(f2) {
		t.Fatal("file checksum depends on xattr input order")
	}
}

func TestParseHashRoundtrip(t *testing.T) {
	h := Sum([]byte("round trip"))
	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if parsed != h {
		t.Fatalf("roundtrip mismatch: got %s want %s", parsed, h)
	}
}

func TestParseHashWrongLength(t *testing.T) {
	if _, err := ParseHash("abc"); err == nil {
		t.Fatal("expected error for short checksum")
	}
}

func TestMetaPreambleStripsTypeBits(t *testing.T) {
	const sIFREG = 0100000
	p1 := MetaPreamble(0, 0, sIFREG|0644)
	p2 := MetaPreamble(0, 0, 0644)
	if string(p1) != string(p2) {
		t.Fatal("MetaPreamble did not strip file-type bits from mode")
	}
}
