package repo

import (
	"fmt"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/mtree"
	"github.com/ostree-go/ostree/internal/objects"
	"github.com/ostree-go/ostree/internal/ostreeerr"
	"github.com/ostree-go/ostree/internal/variant"
)

// SerializeTree implements §4.5 steps 1-3: recursively serialize every
// child (reusing a subtree's cached dirtree+dirmeta checksums when
// valid), check that each directory's dirmeta checksum, stamped on the
// node by the importer via mtree.Node.SetMetaChecksum, names a dirmeta
// object already in the store, serialize the root dirtree, and return its
// checksum plus the root dirmeta checksum.
//
// The importer is expected to have written each node's dirmeta object to
// the store and called SetMetaChecksum with the resulting checksum before
// this runs; SerializeTree does not synthesize dirmeta bytes itself since
// mtree.Node deliberately does not carry raw uid/gid/mode/xattrs (only
// the checksum), per the mutable-tree's ownership model.
func (r *Repo) SerializeTree(n *mtree.Node) (treeSum, metaSum checksum.Hash, err error) {
	metaSum, ok := n.MetaChecksum()
	if !ok {
		return checksum.Hash{}, checksum.Hash{}, ostreeerr.InvalidFormatf("repo: directory node has no metadata checksum set")
	}
	if !r.HasObject(objects.KindDirMeta, metaSum) {
		return checksum.Hash{}, checksum.Hash{}, ostreeerr.InvalidFormatf("repo: dirmeta object %s was never written", metaSum)
	}

	if cached, ok := n.GetContentChecksum(); ok {
		return cached, metaSum, nil
	}

	tree := objects.DirTree{}
	for _, name := range n.FileNames() {
		sum, _ := n.FileChecksum(name)
		tree.Files = append(tree.Files, objects.FileEntry{Name: name, Checksum: sum})
	}
	for _, name := range n.DirNames() {
		child, _ := n.ChildNode(name)
		childTreeSum, childMetaSum, err := r.SerializeTree(child)
		if err != nil {
			return checksum.Hash{}, checksum.Hash{}, err
		}
		tree.Dirs = append(tree.Dirs, objects.DirEntry{Name: name, TreeChecksum: childTreeSum, MetaChecksum: childMetaSum})
	}

	encoded, err := tree.Encode()
	if err != nil {
		return checksum.Hash{}, checksum.Hash{}, err
	}
	sum, err := r.WriteObject(objects.KindDirTree, encoded)
	if err != nil {
		return checksum.Hash{}, checksum.Hash{}, err
	}

	n.SetContentChecksum(sum)
	return sum, metaSum, nil
}

// WriteDirMeta writes a directory's dirmeta object and returns its
// checksum, ready to pass to mtree.Node.SetMetaChecksum.
func (r *Repo) WriteDirMeta(d objects.DirMeta) (checksum.Hash, error) {
	return r.WriteObject(objects.KindDirMeta, d.Encode())
}

// WriteFileObject writes a bare-mode file object and returns its
// checksum. The identity checksum is always checksum.HashFile's
// preamble-plus-canonical-xattrs-plus-payload digest with no length
// prefix anywhere, exactly as §4.1 defines it. The on-disk bytes add one
// extra length prefix ahead of the xattrs blob so the object can be
// decoded back into its parts on checkout (CanonicalXattrs alone has no
// internal terminator); that prefix never participates in the hash, so
// it goes through writeRawObject with a precomputed checksum rather
// than the generic hash-as-you-write WriteObject, the same split
// WriteArchiveFileObject makes for its own on-disk framing.
func (r *Repo) WriteFileObject(f checksum.FileInput) (checksum.Hash, error) {
	var payload []byte
	switch {
	case f.IsDevice:
		payload = []byte(fmt.Sprintf("%d", f.Rdev))
	case f.SymlinkTarget != "":
		payload = []byte(f.SymlinkTarget)
	default:
		payload = f.Content
	}

	sum := checksum.HashFile(f)
	encoded := objects.EncodeBareFile(f.Uid, f.Gid, f.Mode, f.Xattrs, payload)
	return r.writeRawObject(objects.KindFile, sum, encoded)
}

// WriteArchiveFileObject writes a file object using the archive storage
// mode's compressed framed representation (§4.2), keyed by the same
// content-plus-metadata checksum bare mode would produce (§3: "the
// checksum must not change across storage modes"). Because the on-disk
// bytes (compressed) differ from the bytes the identity hash covers, this
// goes through writeRawObject rather than the generic hash-as-you-write
// WriteObject.
func (r *Repo) WriteArchiveFileObject(f checksum.FileInput) (checksum.Hash, error) {
	sum := checksum.HashFile(f)

	framed, err := objects.EncodeArchiveFile(objects.ArchiveFileHeader{
		Uid: f.Uid, Gid: f.Gid, Mode: f.Mode, Xattrs: f.Xattrs, Size: uint64(len(f.Content)),
	}, f.Content)
	if err != nil {
		return checksum.Hash{}, err
	}

	return r.writeRawObject(objects.KindFile, sum, framed)
}

// AssembleCommit builds the commit tuple (§3) from a serialized root tree
// and writes it, returning the commit checksum. The timestamp is always
// caller-supplied (SPEC_FULL §4.5): library code never reads the clock.
func (r *Repo) AssembleCommit(rootTree, rootMeta checksum.Hash, parent checksum.Hash, hasParent bool, subject, body string, metadata variant.Map, timestamp uint64) (checksum.Hash, error) {
	c := objects.Commit{
		Metadata:         metadata,
		Parent:           parent,
		HasParent:        hasParent,
		Subject:          subject,
		Body:             body,
		Timestamp:        timestamp,
		RootTreeChecksum: rootTree,
		RootMetaChecksum: rootMeta,
	}
	return r.WriteCommit(c)
}
