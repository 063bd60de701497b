// Package mutation defines the DOM mutation records delivered by a page
// observer and the detector that decides whether a batch touches a value.
package mutation

import "slices"

// Op is the MutationObserver record type.
type Op string

const (
	OpChildList     Op = "childList"
	OpCharacterData Op = "characterData"
	OpAttributes    Op = "attributes"
)

// NodeType mirrors the DOM nodeType constants.
type NodeType int

const (
	ElementNode  NodeType = 1
	TextNode     NodeType = 3
	CommentNode  NodeType = 8
	DocumentNode NodeType = 9
)

// Node is a mutation target with its ancestor chain. Only the structural
// facts the detector needs are kept.
type Node struct {
	Type    NodeType
	Tag     string
	Classes []string
	Parent  *Node
}

// HasClass reports whether the node carries class c.
func (n *Node) HasClass(c string) bool {
	return n != nil && slices.Contains(n.Classes, c)
}

// Record is a single DOM mutation.
type Record struct {
	Op     Op
	Target *Node
}

// PathEntry is the wire form of one node in a target's ancestor path.
type PathEntry struct {
	Type    NodeType `json:"type"`
	Tag     string   `json:"tag,omitempty"`
	Classes []string `json:"classes,omitempty"`
}

// WireRecord is a record as serialised by the in-page observer. Path runs
// from the target up to the root.
type WireRecord struct {
	Op   Op          `json:"op"`
	Path []PathEntry `json:"path"`
}

// NodeFromPath links a target-first path into a Node chain. An empty path
// yields nil.
func NodeFromPath(path []PathEntry) *Node {
	var parent *Node
	for i := len(path) - 1; i >= 0; i-- {
		e := path[i]
		parent = &Node{Type: e.Type, Tag: e.Tag, Classes: e.Classes, Parent: parent}
	}
	return parent
}

// FromWire converts observer records into a batch.
func FromWire(in []WireRecord) []Record {
	out := make([]Record, 0, len(in))
	for _, w := range in {
		out = append(out, Record{Op: w.Op, Target: NodeFromPath(w.Path)})
	}
	return out
}
