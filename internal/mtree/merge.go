package mtree

import (
	"strings"

	"github.com/ostree-go/ostree/internal/checksum"
)

// MergeLayer interprets other as an OCI-style layer on top of n (§4.4).
// Pass one: whiteouts — for every name in other's files beginning with
// ".wh.", either clear n entirely (the opaque marker ".wh..wh..opq") or
// remove the single child named name[len(".wh."):] from n (a miss is not
// an error). The whiteout walk also recurses into subdirectories present
// in both layers. Pass two: apply — other's non-whiteout files replace
// files in n by name, shadowing any directory of the same name; other's
// directories merge recursively into n, demoting any file of the same
// name. After the merge, n adopts other's metadata checksum.
//
// MergeLayer clears the content-checksum cache of n and of the nodes it
// descends into; the caller is responsible for invalidating the caches
// of n's ancestors (per Design Notes item 1) after calling MergeLayer.
func (n *Node) MergeLayer(other *Node) {
	n.applyWhiteouts(other)
	n.applyLayer(other)

	if metaSum, ok := other.MetaChecksum(); ok {
		n.SetMetaChecksum(metaSum)
	}
	n.invalidate()
}

// applyWhiteouts is pass one: it only removes entries from n (or clears
// it entirely on the opaque marker), then recurses into subdirectories
// present on both sides so nested whiteouts are honored too.
func (n *Node) applyWhiteouts(other *Node) {
	for name := range other.files {
		if !strings.HasPrefix(name, whiteoutPrefix) {
			continue
		}
		if name == opaqueMarker {
			n.files = make(map[string]checksum.Hash)
			n.children = make(map[string]*Node)
			continue
		}
		target := name[len(whiteoutPrefix):]
		delete(n.files, target)
		delete(n.children, target)
	}

	for name, otherChild := range other.children {
		if selfChild, ok := n.children[name]; ok {
			selfChild.applyWhiteouts(otherChild)
		}
	}
}

// applyLayer is pass two: files from other replace files in n, shadowing
// any same-named directory; directories from other merge recursively,
// demoting any same-named file.
func (n *Node) applyLayer(other *Node) {
	for name, sum := range other.files {
		if strings.HasPrefix(name, whiteoutPrefix) {
			continue
		}
		delete(n.children, name)
		n.files[name] = sum
	}

	for name, otherChild := range other.children {
		delete(n.files, name)
		selfChild, ok := n.children[name]
		if !ok {
			selfChild = New()
			n.children[name] = selfChild
		}
		selfChild.applyLayer(otherChild)
		if metaSum, ok := otherChild.MetaChecksum(); ok {
			selfChild.SetMetaChecksum(metaSum)
		}
		selfChild.invalidate()
	}
}
