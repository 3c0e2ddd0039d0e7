// Package tree implements the materialized Pip-Boy value graph: nodes keyed
// by stable 32-bit ids, applying Record updates in dependency order,
// re-linking parent/child relationships, and propagating change notifications
// up the tree at configurable depth (spec §3, §4.E).
package tree

import (
	"sort"
	"sync"

	"github.com/mkassab/pipboy-go/internal/wire"
)

// ListenerID identifies a previously registered listener so it can be
// unregistered later.
type ListenerID uint64

// PropagationListener is invoked during node-scoped event propagation.
// caller is the node the listener was registered on, origin is the node the
// change originated at, and path lists the nodes walked from origin
// (inclusive) up to but not including caller.
type PropagationListener func(caller, origin *Node, path []*Node)

type listenerEntry struct {
	id    ListenerID
	depth int // negative means "any depth"
	fn    PropagationListener
}

// Node is one value in the materialized tree: a Primitive, Array or Object
// (spec §3). All three variants share identity, linkage and listener/cache
// bookkeeping; only one of the payload field groups below is meaningful,
// selected by ValueType.
type Node struct {
	store *Store
	id    uint32

	valueType wire.ValueType

	// Linkage. parent is a weak lookup link, not ownership — the Store's
	// id->Node map is the sole owner of every Node (spec §9).
	parent      *Node
	parentKey   string // valid when parent is an Object
	parentIndex uint32 // valid when parent is an Object or Array

	// Primitive payload.
	scalar interface{}

	// Object payload.
	children map[string]*Node
	order    []*Node // presentation array, sorted by key; order[i].parentIndex == i

	// Array payload.
	elements []*Node

	listenerMu sync.Mutex // guards listeners and cache; see spec §4.E propagation
	listeners  []listenerEntry
	nextLID    ListenerID
	cache      map[string]*UserCacheEntry
}

func newNode(s *Store, id uint32, vt wire.ValueType) *Node {
	n := &Node{store: s, id: id, valueType: vt}
	switch vt {
	case wire.Object:
		n.children = make(map[string]*Node)
	case wire.Array:
		n.elements = nil
	}
	return n
}

func (n *Node) ID() uint32               { return n.id }
func (n *Node) ValueType() wire.ValueType { return n.valueType }

// Parent returns the containing Node, or nil for the root or a detached node.
func (n *Node) Parent() *Node {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return n.parent
}

// ParentKey returns the string key under which this node is held by an
// Object parent. Meaningless for array children or the root.
func (n *Node) ParentKey() string {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return n.parentKey
}

// ParentIndex returns this node's position in its parent's presentation
// order (Object) or its index (Array).
func (n *Node) ParentIndex() uint32 {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return n.parentIndex
}

// Value returns the scalar payload of a Primitive node.
func (n *Node) Value() interface{} {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return n.scalar
}

// Child looks up an Object's child by key.
func (n *Node) Child(key string) *Node {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	if n.children == nil {
		return nil
	}
	return n.children[key]
}

// Presentation returns an Object's children in sorted-by-key order, the same
// order parentIndex is assigned from.
func (n *Node) Presentation() []*Node {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	out := make([]*Node, len(n.order))
	copy(out, n.order)
	return out
}

// ChildAt returns an Object's nth child in presentation order, or an Array's
// nth element.
func (n *Node) ChildAt(i int) *Node {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	switch n.valueType {
	case wire.Object:
		if i < 0 || i >= len(n.order) {
			return nil
		}
		return n.order[i]
	case wire.Array:
		if i < 0 || i >= len(n.elements) {
			return nil
		}
		return n.elements[i]
	default:
		return nil
	}
}

// Elements returns an Array's children in order.
func (n *Node) Elements() []*Node {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	out := make([]*Node, len(n.elements))
	copy(out, n.elements)
	return out
}

// Len returns the number of children of an Object or Array node.
func (n *Node) Len() int {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	switch n.valueType {
	case wire.Object:
		return len(n.order)
	case wire.Array:
		return len(n.elements)
	default:
		return 0
	}
}

// rebuildPresentation recomputes the sorted-by-key presentation array and
// reassigns parentIndex across all children (spec §4.E step 5, invariant §3).
// Callers must hold store.mu for writing.
func (n *Node) rebuildPresentation() {
	n.order = n.order[:0]
	for _, child := range n.children {
		n.order = append(n.order, child)
	}
	sort.Slice(n.order, func(i, j int) bool {
		return n.order[i].parentKey < n.order[j].parentKey
	})
	for i, child := range n.order {
		child.parentIndex = uint32(i)
	}
}
