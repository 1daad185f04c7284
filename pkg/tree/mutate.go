package tree

// InsertChild adds a node built from e under parent (the zero ID inserts a
// root). Placeholders under parent are dropped. Inserting a value that
// compares equal to an existing sibling is a no-op and returns false.
func (t *Tree[V]) InsertChild(parent NodeID, e *Entry[V]) (NodeID, bool) {
	if e == nil {
		return NodeID{}, false
	}
	t.lock()
	defer t.unlock()
	coll, ok := t.childrenOf(parent)
	if !ok {
		return NodeID{}, false
	}
	p, hasParent := t.nodes[parent]
	if hasParent && p.isProxy() {
		return NodeID{}, false
	}
	if t.findChild(parent, e.Value) != nil {
		return NodeID{}, false
	}

	n := t.newNode(parent, e)
	t.mutate(coll, func() {
		coll.RemoveFunc((*node[V]).isProxy)
		coll.Insert(n)
	})
	if hasParent {
		p.loadedEmpty = false
	}
	return n.id, true
}

// InsertRoot adds a root node.
func (t *Tree[V]) InsertRoot(e *Entry[V]) (NodeID, bool) {
	return t.InsertChild(NodeID{}, e)
}

// RemoveChild detaches id and its subtree. A parent-capable parent left with
// no children gets a placeholder back.
func (t *Tree[V]) RemoveChild(id NodeID) bool {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	coll, ok := t.childrenOf(n.parent)
	if !ok {
		return false
	}
	t.mutate(coll, func() {
		coll.RemoveFunc(func(c *node[V]) bool { return c == n })
	})
	if p, ok := t.nodes[n.parent]; ok && p.parentCapable && coll.Len() == 0 {
		t.mutate(coll, func() { coll.Insert(t.newProxy(p)) })
	}
	return true
}

// RemoveRoot removes a root node; it returns false for non-root IDs.
func (t *Tree[V]) RemoveRoot(id NodeID) bool {
	if !t.IsRootNode(id) {
		return false
	}
	return t.RemoveChild(id)
}

// SetItems installs entries under parent. With reset the children are
// replaced outright. Otherwise placeholders are dropped and entries are merged
// into existing children, or added when there are none. Either way a
// parent-capable node that ends up empty keeps a placeholder and is collapsed.
func (t *Tree[V]) SetItems(parent NodeID, entries []*Entry[V], reset bool) {
	t.lock()
	defer t.unlock()
	coll, ok := t.childrenOf(parent)
	if !ok {
		return
	}
	if reset {
		t.replaceChildren(parent, coll, entries)
		return
	}

	fresh := t.buildNodes(parent, entries)
	t.mutate(coll, func() {
		coll.RemoveFunc((*node[V]).isProxy)
		if coll.Len() > 0 {
			coll.CombineWith(fresh)
		} else {
			coll.AddRange(fresh)
		}
	})

	p, ok := t.nodes[parent]
	if !ok {
		return
	}
	p.loadedEmpty = coll.Len() == 0
	if p.parentCapable && coll.Len() == 0 {
		p.expanded = false
		t.mutate(coll, func() { coll.Insert(t.newProxy(p)) })
	}
}
