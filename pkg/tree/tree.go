// Package tree implements a lazily populated, multi-select tree whose children
// are fetched asynchronously from a host Source.
//
// Every parent-capable node starts with a single placeholder (proxy) child.
// Expanding or selecting a node runs a load through a per-node gate, so at
// most one fetch is in flight per node; collapsing cancels a pending load and,
// by policy, drops the children back to a placeholder.
//
// All node state lives in an arena owned by the Tree and is addressed by
// NodeID. Callers read it through NodeState snapshots. Events and child
// installs are routed through a Dispatcher so a UI can apply them on its own
// goroutine.
package tree

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanderheijden86/lazytree/pkg/collection"
)

var (
	// ErrNodeNotFound is returned by tasks addressing an unknown node or path.
	ErrNodeNotFound = errors.New("tree: node not found")
	// ErrClosed is returned by tasks started after Close.
	ErrClosed = errors.New("tree: closed")
)

// closeTimeout bounds how long Close waits for in-flight tasks.
const closeTimeout = 2 * time.Second

// Tree is the aggregate root: root collection, node arena, load coordination
// and selection state.
type Tree[V any] struct {
	cmp        func(a, b V) int
	source     Source[V]
	opts       Options
	proxyValue func(parent V) V

	mu                     sync.Mutex
	nodes                  map[NodeID]*node[V]
	roots                  *collection.Sorted[*node[V]]
	lastSelected           NodeID
	loadChildrenOnSelected bool
	unloadOnCollapse       bool
	pending                []Event

	handlersMu  sync.RWMutex
	handlers    []subscription
	nextHandler int

	gates          *gateRegistry
	expandTokens   *tokenRegistry
	collapseTokens *tokenRegistry

	errMu    sync.Mutex
	lastErr  *LoadError
	failures map[NodeID]int

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	closed atomic.Bool

	log treeLog
}

// New creates an empty tree ordered by cmp whose children come from source.
func New[V any](cmp func(a, b V) int, source Source[V], opts ...Option) *Tree[V] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tree[V]{
		cmp:                    cmp,
		source:                 source,
		opts:                   o,
		nodes:                  make(map[NodeID]*node[V]),
		loadChildrenOnSelected: o.LoadChildrenOnSelected,
		unloadOnCollapse:       o.UnloadChildrenOnCollapse,
		gates:                  newGateRegistry(),
		expandTokens:           newTokenRegistry(),
		collapseTokens:         newTokenRegistry(),
		failures:               make(map[NodeID]int),
		ctx:                    ctx,
		cancel:                 cancel,
		log:                    treeLog{level: o.LogLevel, tracePath: o.TracePath},
	}
	if fn, ok := o.proxyValue.(func(V) V); ok {
		t.proxyValue = fn
	}
	t.roots = collection.New(t.compareNodes)
	t.roots.Subscribe(func() { t.emit(ItemsChanged, NodeID{}) })
	t.log.openTrace()
	return t
}

// compareNodes orders siblings: items by the host comparator, proxies last.
func (t *Tree[V]) compareNodes(a, b *node[V]) int {
	switch {
	case a.isProxy() && b.isProxy():
		return 0
	case a.isProxy():
		return 1
	case b.isProxy():
		return -1
	default:
		return t.cmp(a.value, b.value)
	}
}

func (t *Tree[V]) lock() {
	t.mu.Lock()
}

// unlock releases t.mu and hands queued events to the dispatcher.
func (t *Tree[V]) unlock() {
	events := t.pending
	t.pending = nil
	t.mu.Unlock()
	if len(events) > 0 {
		t.opts.Dispatcher.Dispatch(func() { t.deliver(events) })
	}
}

// Wait blocks until every task spawned so far has settled or ctx ends.
func (t *Tree[V]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every in-flight load and waits briefly for them to settle.
// The tree stays readable; new asynchronous work fails with ErrClosed.
func (t *Tree[V]) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := t.Wait(ctx)
	if err != nil {
		t.logEvent(LogLevelWarn, "close_timeout", map[string]any{"timeout": closeTimeout.String()})
	}
	t.log.closeTrace()
	return err
}

// Stats reports live registry entries.
func (t *Tree[V]) Stats() RegistryStats {
	return RegistryStats{
		Gates:          t.gates.len(),
		ExpandTokens:   t.expandTokens.len(),
		CollapseTokens: t.collapseTokens.len(),
	}
}

// childrenOf returns the collection holding id's children; the zero ID names
// the root collection.
func (t *Tree[V]) childrenOf(id NodeID) (*collection.Sorted[*node[V]], bool) {
	if id.IsZero() {
		return t.roots, true
	}
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return n.children, true
}

// Initialize replaces the root set with entries.
func (t *Tree[V]) Initialize(entries []*Entry[V]) {
	t.lock()
	defer t.unlock()
	t.lastSelected = NodeID{}
	t.replaceChildren(NodeID{}, t.roots, entries)
}

// Bootstrap loads the root set from the source when it implements RootSource.
func (t *Tree[V]) Bootstrap(ctx context.Context) error {
	rs, ok := t.source.(RootSource[V])
	if !ok {
		return errors.New("tree: source cannot produce roots")
	}
	entries, err := rs.Roots(ctx)
	if err != nil {
		return err
	}
	t.Initialize(entries)
	return nil
}

// Clear removes every node and resets selection.
func (t *Tree[V]) Clear() {
	t.lock()
	defer t.unlock()
	t.mutate(t.roots, func() { t.roots.Clear() })
	t.lastSelected = NodeID{}
}

// Node returns a snapshot of id.
func (t *Tree[V]) Node(id NodeID) (NodeState[V], bool) {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[id]
	if !ok {
		return NodeState[V]{}, false
	}
	return n.state(), true
}

// Items returns the root nodes in order.
func (t *Tree[V]) Items() []NodeState[V] {
	return t.Children(NodeID{})
}

// Children returns the children of id in order. The zero ID yields the roots.
func (t *Tree[V]) Children(id NodeID) []NodeState[V] {
	t.lock()
	defer t.unlock()
	coll, ok := t.childrenOf(id)
	if !ok {
		return nil
	}
	out := make([]NodeState[V], 0, coll.Len())
	for _, c := range coll.All() {
		out = append(out, c.state())
	}
	return out
}

// Len reports the number of nodes in the arena, placeholders included.
func (t *Tree[V]) Len() int {
	t.lock()
	defer t.unlock()
	return len(t.nodes)
}

// IsChildrenLoaded reports whether id has fetched, non-placeholder children.
func (t *Tree[V]) IsChildrenLoaded(id NodeID) bool {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[id]
	return ok && n.childrenLoaded()
}

// IsLeaf reports whether id cannot have children and has none.
func (t *Tree[V]) IsLeaf(id NodeID) bool {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[id]
	return ok && n.leaf()
}

// IsRootNode reports whether id sits at the top level.
func (t *Tree[V]) IsRootNode(id NodeID) bool {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[id]
	return ok && n.parent.IsZero()
}

// LastSelectedItem returns the most recently selected node, if it is still
// part of the tree.
func (t *Tree[V]) LastSelectedItem() (NodeState[V], bool) {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[t.lastSelected]
	if !ok {
		return NodeState[V]{}, false
	}
	return n.state(), true
}

// AllNodes enumerates every non-placeholder node depth first, in sibling order.
func (t *Tree[V]) AllNodes() []NodeState[V] {
	var out []NodeState[V]
	t.Walk(func(s NodeState[V], _ int) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Walk visits every non-placeholder node depth first with its depth. Returning
// false from fn skips that node's subtree.
func (t *Tree[V]) Walk(fn func(s NodeState[V], depth int) bool) {
	t.lock()
	var states []walked[V]
	var visit func(coll *collection.Sorted[*node[V]], depth int)
	visit = func(coll *collection.Sorted[*node[V]], depth int) {
		for _, c := range coll.All() {
			if c.isProxy() {
				continue
			}
			states = append(states, walked[V]{state: c.state(), depth: depth})
			visit(c.children, depth+1)
		}
	}
	visit(t.roots, 0)
	t.unlock()

	// fn runs without the lock so it may call back into the tree.
	skipBelow := -1
	for _, w := range states {
		if skipBelow >= 0 {
			if w.depth > skipBelow {
				continue
			}
			skipBelow = -1
		}
		if !fn(w.state, w.depth) {
			skipBelow = w.depth
		}
	}
}

type walked[V any] struct {
	state NodeState[V]
	depth int
}

// SelectedItems returns every node that is selected or multi-selected.
func (t *Tree[V]) SelectedItems() []NodeState[V] {
	var out []NodeState[V]
	for _, s := range t.AllNodes() {
		if s.Selected || s.MultiSelected {
			out = append(out, s)
		}
	}
	return out
}

// Ancestors returns id's ancestors from the immediate parent up to its root.
func (t *Tree[V]) Ancestors(id NodeID) []NodeState[V] {
	t.lock()
	defer t.unlock()
	var out []NodeState[V]
	n, ok := t.nodes[id]
	for ok && !n.parent.IsZero() {
		n, ok = t.nodes[n.parent]
		if ok {
			out = append(out, n.state())
		}
	}
	return out
}

// VisibleNode is one row of the flattened visible tree.
type VisibleNode[V any] struct {
	NodeState[V]
	Depth       int
	LastSibling bool
	// Guides[i] is true when the ancestor at depth i has siblings below it.
	Guides []bool
}

// Visible flattens the nodes reachable through expanded parents, in display
// order. Placeholders of expanded nodes are included so hosts can show a
// loading row.
func (t *Tree[V]) Visible() []VisibleNode[V] {
	t.lock()
	defer t.unlock()
	var out []VisibleNode[V]
	var visit func(coll *collection.Sorted[*node[V]], depth int, guides []bool)
	visit = func(coll *collection.Sorted[*node[V]], depth int, guides []bool) {
		last := coll.Len() - 1
		for i, c := range coll.All() {
			out = append(out, VisibleNode[V]{
				NodeState:   c.state(),
				Depth:       depth,
				LastSibling: i == last,
				Guides:      guides,
			})
			if c.expanded && c.children.Len() > 0 {
				next := make([]bool, len(guides), len(guides)+1)
				copy(next, guides)
				visit(c.children, depth+1, append(next, i != last))
			}
		}
	}
	visit(t.roots, 0, nil)
	return out
}

// FindChild returns the child of parent whose value compares equal to v.
func (t *Tree[V]) FindChild(parent NodeID, v V) (NodeState[V], bool) {
	t.lock()
	defer t.unlock()
	n := t.findChild(parent, v)
	if n == nil {
		return NodeState[V]{}, false
	}
	return n.state(), true
}

func (t *Tree[V]) findChild(parent NodeID, v V) *node[V] {
	coll, ok := t.childrenOf(parent)
	if !ok {
		return nil
	}
	for _, c := range coll.All() {
		if !c.isProxy() && t.cmp(c.value, v) == 0 {
			return c
		}
	}
	return nil
}
