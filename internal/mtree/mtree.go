// Package mtree implements the in-memory mutable tree builder of §4.4:
// the only mutable graph in the system, used during commits and during
// layered (OCI-style) composition. Node ownership is exclusive (Design
// Notes item 1): there are no parent pointers, so cache invalidation is
// done by the caller re-deriving the path and clearing caches top-down
// after a mutation, not by a child notifying its parent.
//
// The entry/child shape is grounded on the teacher's filesystem Merkle-DAG
// package, generalized here to carry separate content and metadata
// checksums (dirtree + dirmeta) rather than a single blob hash, and to
// add the whiteout-aware layer merge this spec requires.
package mtree

import (
	"sort"
	"strings"

	"github.com/ostree-go/ostree/internal/checksum"
	"github.com/ostree-go/ostree/internal/ostreeerr"
)

const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

// Node is one directory level of a mutable tree: an optional cached
// content (dirtree) checksum, an optional cached metadata (dirmeta)
// checksum, a name→file-checksum map, and a name→child map.
type Node struct {
	contentChecksum *checksum.Hash
	metaChecksum    *checksum.Hash

	files    map[string]checksum.Hash
	children map[string]*Node
}

// New returns an empty mutable tree node.
func New() *Node {
	return &Node{
		files:    make(map[string]checksum.Hash),
		children: make(map[string]*Node),
	}
}

func validateComponent(name string) error {
	if name == "" || name == "." || name == ".." {
		return ostreeerr.InvalidFormatf("mtree: invalid path component %q", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return ostreeerr.InvalidFormatf("mtree: path component %q contains / or NUL", name)
	}
	return nil
}

// invalidate clears this node's cached content checksum. Per Design Notes
// item 1, the caller of a mutating operation is responsible for clearing
// the path from the mutated node up to the root; Node itself never walks
// upward.
func (n *Node) invalidate() {
	n.contentChecksum = nil
}

// ReplaceFile sets name to point at the given file-checksum, invalidating
// this node's content-checksum cache. It is an error for name to already
// be bound to a subdirectory.
func (n *Node) ReplaceFile(name string, sum checksum.Hash) error {
	if err := validateComponent(name); err != nil {
		return err
	}
	if _, isDir := n.children[name]; isDir {
		return ostreeerr.InvalidFormatf("mtree: %q is a directory, cannot replace_file", name)
	}
	n.files[name] = sum
	n.invalidate()
	return nil
}

// EnsureDir returns the child directory named name, creating an empty one
// if absent. It is an error for name to already be bound to a file.
func (n *Node) EnsureDir(name string) (*Node, error) {
	if err := validateComponent(name); err != nil {
		return nil, err
	}
	if _, isFile := n.files[name]; isFile {
		return nil, ostreeerr.InvalidFormatf("mtree: %q is a file, cannot ensure_dir", name)
	}
	if child, ok := n.children[name]; ok {
		return child, nil
	}
	child := New()
	n.children[name] = child
	n.invalidate()
	return child, nil
}

// LookupResult is the outcome of Lookup: exactly one of FileChecksum or
// Child is meaningful, signaled by IsDir.
type LookupResult struct {
	IsDir        bool
	FileChecksum checksum.Hash
	Child        *Node
}

// Lookup resolves a single path component within n.
func (n *Node) Lookup(name string) (LookupResult, error) {
	if child, ok := n.children[name]; ok {
		return LookupResult{IsDir: true, Child: child}, nil
	}
	if sum, ok := n.files[name]; ok {
		return LookupResult{IsDir: false, FileChecksum: sum}, nil
	}
	return LookupResult{}, ostreeerr.NotFoundf("mtree: %q not found", name)
}

// EnsureParentDirs walks/creates the full path given by components,
// stamping any freshly created node's metadata checksum with metaSum.
// Used by importers building a tree from a flat file listing. Returns the
// deepest (leaf parent) node.
func (n *Node) EnsureParentDirs(components []string, metaSum checksum.Hash) (*Node, error) {
	cur := n
	for _, c := range components {
		existed := false
		if _, ok := cur.children[c]; ok {
			existed = true
		}
		child, err := cur.EnsureDir(c)
		if err != nil {
			return nil, err
		}
		if !existed {
			child.SetMetaChecksum(metaSum)
		}
		cur = child
	}
	return cur, nil
}

// Walk performs a pure lookup through components starting at n, failing
// with NotFound if any segment is absent or is a file rather than a
// directory.
func (n *Node) Walk(components []string) (*Node, error) {
	cur := n
	for _, c := range components {
		child, ok := cur.children[c]
		if !ok {
			return nil, ostreeerr.NotFoundf("mtree: path segment %q not found", c)
		}
		cur = child
	}
	return cur, nil
}

// SetMetaChecksum sets the node's cached dirmeta checksum (the importer
// synthesizes this from uid/gid/mode/xattrs; mtree itself doesn't know how
// to derive it).
func (n *Node) SetMetaChecksum(sum checksum.Hash) {
	n.metaChecksum = &sum
}

// MetaChecksum returns the cached dirmeta checksum, if set.
func (n *Node) MetaChecksum() (checksum.Hash, bool) {
	if n.metaChecksum == nil {
		return checksum.Hash{}, false
	}
	return *n.metaChecksum, true
}

// SetContentChecksum is called by the serializer once it has written this
// node's dirtree object, priming the cache for reuse.
func (n *Node) SetContentChecksum(sum checksum.Hash) {
	n.contentChecksum = &sum
}

// GetContentChecksum returns the cached dirtree checksum iff it and every
// descendant's cache are still valid; otherwise it returns false,
// signaling the serializer that a rewrite of this subtree is needed.
func (n *Node) GetContentChecksum() (checksum.Hash, bool) {
	if n.contentChecksum == nil {
		return checksum.Hash{}, false
	}
	for _, child := range n.children {
		if _, ok := child.GetContentChecksum(); !ok {
			return checksum.Hash{}, false
		}
	}
	return *n.contentChecksum, true
}

// FileNames returns this node's direct file entries' names, sorted.
func (n *Node) FileNames() []string {
	out := make([]string, 0, len(n.files))
	for name := range n.files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DirNames returns this node's direct child directories' names, sorted.
func (n *Node) DirNames() []string {
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FileChecksum returns the checksum bound to a direct file entry.
func (n *Node) FileChecksum(name string) (checksum.Hash, bool) {
	sum, ok := n.files[name]
	return sum, ok
}

// ChildNode returns a direct child directory by name.
func (n *Node) ChildNode(name string) (*Node, bool) {
	child, ok := n.children[name]
	return child, ok
}

// IsEmpty reports whether the node has no files and no children, used by
// property 3's "ensure_dir on an unseen name yields an empty child".
func (n *Node) IsEmpty() bool {
	return len(n.files) == 0 && len(n.children) == 0
}
