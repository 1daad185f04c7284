package tree

// EnsureVisibleSelected makes id reachable and selects it: every ancestor,
// from the immediate parent up to the root, is loaded if needed and silently
// expanded, then id is selected.
func (t *Tree[V]) EnsureVisibleSelected(id NodeID) *Task {
	if !t.exists(id) {
		return completedTask(ErrNodeNotFound)
	}
	return t.spawn(func() error {
		for _, a := range t.Ancestors(id) {
			t.reveal(a.ID)
		}
		if !t.exists(id) {
			return ErrNodeNotFound
		}
		return t.Select(id).Wait(t.ctx)
	})
}

// EnsureVisiblePath walks down from the roots matching one value per level,
// loading and silently expanding each parent on the way, and selects the
// node at the end of the path. The task fails with ErrNodeNotFound when some
// level has no matching child.
func (t *Tree[V]) EnsureVisiblePath(values ...V) *Task {
	if len(values) == 0 {
		return completedTask(ErrNodeNotFound)
	}
	return t.spawn(func() error {
		var cur NodeID
		for _, v := range values {
			if !cur.IsZero() {
				t.reveal(cur)
			}
			t.lock()
			n := t.findChild(cur, v)
			if n != nil {
				cur = n.id
			}
			t.unlock()
			if n == nil {
				return ErrNodeNotFound
			}
		}
		return t.Select(cur).Wait(t.ctx)
	})
}

// reveal loads id's children if needed and silently expands it.
func (t *Tree[V]) reveal(id NodeID) {
	if !t.IsChildrenLoaded(id) {
		t.loadNode(id, false)
	}
	t.SetSilentExpand(id, true)
}

// SetLastSelectedItem records id as the last selected node, revealing and
// selecting it first when it is not selected yet.
func (t *Tree[V]) SetLastSelectedItem(id NodeID) *Task {
	t.lock()
	n, ok := t.nodes[id]
	if !ok {
		t.unlock()
		return completedTask(ErrNodeNotFound)
	}
	selected := n.selected
	if selected {
		t.lastSelected = id
	}
	t.unlock()
	if selected {
		return completedTask(nil)
	}
	return t.EnsureVisibleSelected(id)
}
