package tree

import (
	"github.com/oklog/ulid/v2"

	"github.com/vanderheijden86/lazytree/pkg/collection"
)

// NodeID is the stable identity of a node for its whole lifetime.
// The zero NodeID means "no node" and is used as the parent of root nodes.
type NodeID ulid.ULID

func newNodeID() NodeID {
	return NodeID(ulid.Make())
}

// IsZero reports whether id is the zero (root-level) ID.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) String() string {
	if id.IsZero() {
		return "root"
	}
	return ulid.ULID(id).String()
}

// ParseNodeID parses the canonical string form of a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return NodeID{}, err
	}
	return NodeID(u), nil
}

// Kind discriminates real nodes from placeholders.
type Kind int

const (
	// KindItem is a node carrying host data.
	KindItem Kind = iota
	// KindProxy is a placeholder child meaning "children not fetched yet".
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindProxy:
		return "proxy"
	default:
		return "item"
	}
}

// node is the arena record. It is only touched with Tree.mu held.
type node[V any] struct {
	id       NodeID
	parent   NodeID
	kind     Kind
	value    V
	children *collection.Sorted[*node[V]]
	unsub    func()

	expanded      bool
	selected      bool
	multiSelected bool
	editing       bool
	editable      bool
	dragged       bool
	parentCapable bool
	loadedEmpty   bool // last fetch returned no children
}

func (n *node[V]) isProxy() bool {
	return n.kind == KindProxy
}

// childrenLoaded: parent-capable, has children, and none of them is a proxy.
func (n *node[V]) childrenLoaded() bool {
	return n.parentCapable && n.children.Len() > 0 && !n.children.Any((*node[V]).isProxy)
}

func (n *node[V]) leaf() bool {
	switch n.kind {
	case KindProxy:
		return false
	default:
		return !n.parentCapable && n.children.Len() == 0
	}
}

// hasRealChildren reports whether at least one child is not a proxy.
func (n *node[V]) hasRealChildren() bool {
	for _, c := range n.children.All() {
		if !c.isProxy() {
			return true
		}
	}
	return false
}

// onlyProxy reports whether the children are exactly one placeholder.
func (n *node[V]) onlyProxy() bool {
	return n.children.Len() == 1 && n.children.At(0).isProxy()
}

// NodeState is an immutable snapshot of a node.
type NodeState[V any] struct {
	ID     NodeID
	Parent NodeID
	Kind   Kind
	Value  V

	Expanded      bool
	Selected      bool
	MultiSelected bool
	Editing       bool
	Editable      bool
	BeingDragged  bool
	ParentCapable bool

	// Derived state.
	ChildrenLoaded bool
	Leaf           bool
	Root           bool
	// Empty is set when the last fetch for this node returned nothing.
	Empty bool

	Children []NodeID
}

// IsProxy reports whether the snapshot is a placeholder node.
func (s NodeState[V]) IsProxy() bool {
	return s.Kind == KindProxy
}

func (n *node[V]) state() NodeState[V] {
	ids := make([]NodeID, 0, n.children.Len())
	for _, c := range n.children.All() {
		ids = append(ids, c.id)
	}
	return NodeState[V]{
		ID:             n.id,
		Parent:         n.parent,
		Kind:           n.kind,
		Value:          n.value,
		Expanded:       n.expanded,
		Selected:       n.selected,
		MultiSelected:  n.multiSelected,
		Editing:        n.editing,
		Editable:       n.editable,
		BeingDragged:   n.dragged,
		ParentCapable:  n.parentCapable,
		ChildrenLoaded: n.childrenLoaded(),
		Leaf:           n.leaf(),
		Root:           n.parent.IsZero(),
		Empty:          n.loadedEmpty,
		Children:       ids,
	}
}
