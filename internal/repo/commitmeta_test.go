package repo

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/ostree-go/ostree/internal/sign/ed25519verify"
)

func TestCommitMetaRoundtrip(t *testing.T) {
	r := openTestRepo(t)
	sum := buildAndCommit(t, r)

	if _, ok, err := r.ReadCommitMeta(sum); err != nil {
		t.Fatalf("ReadCommitMeta before write: %v", err)
	} else if ok {
		t.Fatal("ReadCommitMeta: expected absent before any write")
	}

	meta := CommitMeta{
		"ostree.sign.ed25519": {[]byte("sig-one"), []byte("sig-two")},
		"ostree.sign.gpg":     {[]byte("gpg-sig")},
	}
	if err := r.WriteCommitMeta(sum, meta); err != nil {
		t.Fatalf("WriteCommitMeta: %v", err)
	}

	got, ok, err := r.ReadCommitMeta(sum)
	if err != nil {
		t.Fatalf("ReadCommitMeta: %v", err)
	}
	if !ok {
		t.Fatal("ReadCommitMeta: expected present after write")
	}
	if len(got["ostree.sign.ed25519"]) != 2 || !bytes.Equal(got["ostree.sign.ed25519"][0], []byte("sig-one")) {
		t.Fatalf("unexpected ed25519 signatures: %+v", got["ostree.sign.ed25519"])
	}
	if len(got["ostree.sign.gpg"]) != 1 || !bytes.Equal(got["ostree.sign.gpg"][0], []byte("gpg-sig")) {
		t.Fatalf("unexpected gpg signatures: %+v", got["ostree.sign.gpg"])
	}
}

func TestCommitMetaEncodeIsDeterministic(t *testing.T) {
	meta := CommitMeta{
		"b": {[]byte("2")},
		"a": {[]byte("1")},
	}
	first := meta.Encode()
	second := meta.Encode()
	if !bytes.Equal(first, second) {
		t.Fatal("Encode is not deterministic across calls")
	}

	decoded, err := DecodeCommitMeta(first)
	if err != nil {
		t.Fatalf("DecodeCommitMeta: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d keys, want 2", len(decoded))
	}
}

func TestSignCommitProducesVerifiableSignature(t *testing.T) {
	r := openTestRepo(t)
	sum := buildAndCommit(t, r)

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if err := r.SignCommit(sum, "ostree.sign.ed25519", ed25519verify.Signer{}, priv); err != nil {
		t.Fatalf("SignCommit: %v", err)
	}

	meta, ok, err := r.ReadCommitMeta(sum)
	if err != nil {
		t.Fatalf("ReadCommitMeta: %v", err)
	}
	if !ok {
		t.Fatal("expected commitmeta to exist after SignCommit")
	}
	sigs := meta["ostree.sign.ed25519"]
	if len(sigs) != 1 {
		t.Fatalf("got %d signatures, want 1", len(sigs))
	}

	c, _, err := r.LoadCommit(sum)
	if err != nil {
		t.Fatalf("LoadCommit: %v", err)
	}
	result, err := (ed25519verify.Verifier{}).Verify(c.Encode(), sigs, [][]byte{pub})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid {
		t.Fatal("signature produced by SignCommit did not verify against the signing key's public half")
	}
}
