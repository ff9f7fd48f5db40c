package repo

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/sign"
)

// CommitMeta is the sibling (a{sv}) object attached to a commit by
// checksum (§4.3/§4.5): a mapping from signature-type key
// (ostree.sign.ed25519, ostree.sign.spki, ostree.sign.gpg) to an `aay`
// list of raw detached signature blobs, verified over the commit
// object's on-disk bytes rather than its checksum.
type CommitMeta map[string][][]byte

// Encode produces the canonical bytes: u32be(count), then per key
// (sorted): u16be(keylen) | key | u32be(blobcount), then per blob:
// u32be(bloblen) | blob. This mirrors internal/variant's map framing
// (sorted keys, explicit lengths, no terminators) generalized to a
// list-valued entry instead of a single scalar.
func (m CommitMeta) Encode() []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(keys)))
	buf = append(buf, u32[:]...)

	for _, k := range keys {
		var u16 [2]byte
		binary.BigEndian.PutUint16(u16[:], uint16(len(k)))
		buf = append(buf, u16[:]...)
		buf = append(buf, k...)

		blobs := m[k]
		binary.BigEndian.PutUint32(u32[:], uint32(len(blobs)))
		buf = append(buf, u32[:]...)
		for _, blob := range blobs {
			binary.BigEndian.PutUint32(u32[:], uint32(len(blob)))
			buf = append(buf, u32[:]...)
			buf = append(buf, blob...)
		}
	}
	return buf
}

// DecodeCommitMeta reverses Encode.
func DecodeCommitMeta(b []byte) (CommitMeta, error) {
	if len(b) < 4 {
		return nil, ostreeerr.InvalidFormatf("commitmeta: truncated count")
	}
	count := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	m := make(CommitMeta, count)
	for i := uint32(0); i < count; i++ {
		if len(b) < 2 {
			return nil, ostreeerr.InvalidFormatf("commitmeta: truncated key length")
		}
		klen := binary.BigEndian.Uint16(b[:2])
		b = b[2:]
		if len(b) < int(klen) {
			return nil, ostreeerr.InvalidFormatf("commitmeta: key exceeds remaining buffer")
		}
		key := string(b[:klen])
		b = b[klen:]

		if len(b) < 4 {
			return nil, ostreeerr.InvalidFormatf("commitmeta: truncated blob count")
		}
		blobCount := binary.BigEndian.Uint32(b[:4])
		b = b[4:]

		blobs := make([][]byte, 0, blobCount)
		for j := uint32(0); j < blobCount; j++ {
			if len(b) < 4 {
				return nil, ostreeerr.InvalidFormatf("commitmeta: truncated blob length")
			}
			blen := binary.BigEndian.Uint32(b[:4])
			b = b[4:]
			if len(b) < int(blen) {
				return nil, ostreeerr.InvalidFormatf("commitmeta: blob exceeds remaining buffer")
			}
			blobs = append(blobs, append([]byte(nil), b[:blen]...))
			b = b[blen:]
		}
		m[key] = blobs
	}
	return m, nil
}

// WriteCommitMeta stores sum's commitmeta sibling object.
func (r *Repo) WriteCommitMeta(sum checksum.Hash, meta CommitMeta) error {
	path, err := r.shardPath(sum.String(), "commitmeta")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ostreeerr.IOf("repo: mkdir shard dir: %w", err)
	}
	if err := os.WriteFile(path, meta.Encode(), 0644); err != nil {
		return ostreeerr.IOf("repo: write commitmeta: %w", err)
	}
	return nil
}

// SignCommit computes a detached signature of sum's on-disk commit
// bytes (§4.5: "compute signatures over the commit's on-disk bytes")
// and appends it under backendKey to sum's commitmeta object, creating
// the commitmeta object if sum had none yet. The commit must already be
// written; SignCommit only ever adds a signature, never re-encodes or
// re-hashes the commit itself.
func (r *Repo) SignCommit(sum checksum.Hash, backendKey string, signer sign.Signer, privateKey []byte) error {
	c, _, err := r.LoadCommit(sum)
	if err != nil {
		return err
	}

	sig, err := signer.Sign(c.Encode(), privateKey)
	if err != nil {
		return err
	}

	meta, ok, err := r.ReadCommitMeta(sum)
	if err != nil {
		return err
	}
	if !ok {
		meta = CommitMeta{}
	}
	meta[backendKey] = append(meta[backendKey], sig)
	return r.WriteCommitMeta(sum, meta)
}

// ReadCommitMeta loads sum's commitmeta sibling object, if present.
func (r *Repo) ReadCommitMeta(sum checksum.Hash) (CommitMeta, bool, error) {
	path, err := r.shardPath(sum.String(), "commitmeta")
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, ostreeerr.IOf("repo: read commitmeta: %w", err)
	}
	meta, err := DecodeCommitMeta(data)
	if err != nil {
		return nil, false, err
	}
	return meta, true, nil
}
