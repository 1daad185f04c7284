package tree

import (
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	lazydebug "github.com/vanderheijden86/lazytree/pkg/debug"
	"github.com/vanderheijden86/lazytree/pkg/metrics"
)

// spawn runs fn as a tracked task. Work started after Close still runs
// against the cancelled base context so registries are released, but its
// task reports ErrClosed.
func (t *Tree[V]) spawn(fn func() error) *Task {
	closed := t.closed.Load()
	task := newTask()
	t.tasks.Go(func() {
		err := fn()
		if closed && err == nil {
			err = ErrClosed
		}
		task.finish(err)
	})
	return task
}

// Expand marks id expanded and loads its children if they are not loaded.
// Expanding is emitted immediately and ExpandCompleted once the load settles,
// whether or not it succeeded.
func (t *Tree[V]) Expand(id NodeID) *Task {
	t.lock()
	n, ok := t.nodes[id]
	if !ok {
		t.unlock()
		return completedTask(ErrNodeNotFound)
	}
	n.expanded = true
	t.collapseTokens.cancel(id)
	t.emit(Expanding, id)
	loaded := n.childrenLoaded()
	if loaded {
		t.emit(ExpandCompleted, id)
	}
	t.unlock()
	if loaded {
		return completedTask(nil)
	}

	return t.spawn(func() error {
		t.loadNode(id, false)
		t.collapseIfEmpty(id)
		t.emitIfPresent(ExpandCompleted, id)
		return nil
	})
}

// Collapse clears the expanded flag, cancels a pending expand load and, when
// the unload policy applies, resets the children to a placeholder.
func (t *Tree[V]) Collapse(id NodeID) *Task {
	t.lock()
	n, ok := t.nodes[id]
	if !ok {
		t.unlock()
		return completedTask(ErrNodeNotFound)
	}
	n.expanded = false
	t.emit(Collapsing, id)
	t.expandTokens.cancel(id)
	tok := t.collapseTokens.acquire(t.ctx, id)
	t.unlock()

	return t.spawn(func() error {
		defer t.collapseTokens.release(id, tok)
		done := make(chan struct{})
		t.opts.Dispatcher.Dispatch(func() {
			defer close(done)
			t.lock()
			defer t.unlock()
			n, ok := t.nodes[id]
			if !ok {
				return
			}
			if tok.ctx.Err() == nil && !n.expanded && t.shouldUnload(n) {
				t.mutate(n.children, func() { n.children.InitializeWith(t.newProxy(n)) })
				t.logEvent(LogLevelDebug, "children_unloaded", map[string]any{"node": id.String()})
			}
			t.emit(CollapseCompleted, id)
		})
		select {
		case <-done:
		case <-t.ctx.Done():
		}
		return nil
	})
}

func (t *Tree[V]) shouldUnload(n *node[V]) bool {
	if !t.unloadOnCollapse || !n.parentCapable {
		return false
	}
	if n.selected && t.loadChildrenOnSelected {
		return false
	}
	return !n.onlyProxy()
}

// SetExpanded calls Expand or Collapse.
func (t *Tree[V]) SetExpanded(id NodeID, expanded bool) *Task {
	if expanded {
		return t.Expand(id)
	}
	return t.Collapse(id)
}

// Select marks id selected and records it as the last selected node. With
// load-on-select enabled, unloaded children are fetched before
// SelectedItemChanged is emitted; the expanded flag is not touched.
func (t *Tree[V]) Select(id NodeID) *Task {
	t.lock()
	n, ok := t.nodes[id]
	if !ok {
		t.unlock()
		return completedTask(ErrNodeNotFound)
	}
	n.selected = true
	t.lastSelected = id
	needLoad := t.loadChildrenOnSelected && n.parentCapable && !n.childrenLoaded()
	if !needLoad {
		t.emit(SelectedItemChanged, id)
	}
	t.unlock()
	if !needLoad {
		return completedTask(nil)
	}

	return t.spawn(func() error {
		t.loadNode(id, false)
		t.emitIfPresent(SelectedItemChanged, id)
		return nil
	})
}

// Deselect clears the selected flag of id.
func (t *Tree[V]) Deselect(id NodeID) {
	t.lock()
	defer t.unlock()
	n, ok := t.nodes[id]
	if !ok || !n.selected {
		return
	}
	n.selected = false
	t.emit(SelectedItemChanged, id)
}

// SetSelected calls Select or Deselect.
func (t *Tree[V]) SetSelected(id NodeID, selected bool) *Task {
	if selected {
		return t.Select(id)
	}
	t.Deselect(id)
	return completedTask(nil)
}

// SetSilentSelect sets the selected flag without events or loads.
func (t *Tree[V]) SetSilentSelect(id NodeID, selected bool) {
	t.update(id, func(n *node[V]) { n.selected = selected })
}

// SetSilentExpand sets the expanded flag without events or loads.
func (t *Tree[V]) SetSilentExpand(id NodeID, expanded bool) {
	t.update(id, func(n *node[V]) { n.expanded = expanded })
}

// SetMultiSelected sets the multi-select flag.
func (t *Tree[V]) SetMultiSelected(id NodeID, on bool) {
	t.update(id, func(n *node[V]) { n.multiSelected = on })
}

// ToggleMultiSelected flips the multi-select flag and returns the new value.
func (t *Tree[V]) ToggleMultiSelected(id NodeID) bool {
	var now bool
	t.update(id, func(n *node[V]) {
		n.multiSelected = !n.multiSelected
		now = n.multiSelected
	})
	return now
}

// SetEditing only takes effect on editable nodes.
func (t *Tree[V]) SetEditing(id NodeID, editing bool) {
	t.update(id, func(n *node[V]) { n.editing = editing && n.editable })
}

// SetEditable sets whether id may enter editing; clearing it ends editing.
func (t *Tree[V]) SetEditable(id NodeID, editable bool) {
	t.update(id, func(n *node[V]) {
		n.editable = editable
		n.editing = n.editing && editable
	})
}

// SetBeingDragged sets the drag flag.
func (t *Tree[V]) SetBeingDragged(id NodeID, dragged bool) {
	t.update(id, func(n *node[V]) { n.dragged = dragged })
}

func (t *Tree[V]) update(id NodeID, fn func(n *node[V])) {
	t.lock()
	defer t.unlock()
	if n, ok := t.nodes[id]; ok {
		fn(n)
	}
}

func (t *Tree[V]) emitIfPresent(kind EventKind, id NodeID) {
	t.lock()
	defer t.unlock()
	if _, ok := t.nodes[id]; ok {
		t.emit(kind, id)
	}
}

// SetLoadChildrenOnSelected toggles load-on-select. Turning it on loads the
// children of the last selected node if needed.
func (t *Tree[V]) SetLoadChildrenOnSelected(on bool) *Task {
	t.lock()
	t.loadChildrenOnSelected = on
	id := t.lastSelected
	n, ok := t.nodes[id]
	need := on && ok && n.parentCapable && !n.childrenLoaded()
	t.unlock()
	if !need {
		return completedTask(nil)
	}
	return t.spawn(func() error {
		t.loadNode(id, false)
		return nil
	})
}

// SetUnloadChildrenOnCollapse toggles the unload-on-collapse policy.
func (t *Tree[V]) SetUnloadChildrenOnCollapse(on bool) {
	t.lock()
	t.unloadOnCollapse = on
	t.unlock()
}

// LoadChildren loads id's children without touching the expanded flag.
func (t *Tree[V]) LoadChildren(id NodeID, force bool) *Task {
	if !t.exists(id) {
		return completedTask(ErrNodeNotFound)
	}
	return t.spawn(func() error {
		t.loadNode(id, force)
		return nil
	})
}

// Reload refetches id's children. With merge reloads enabled, children that
// are still present keep their identity and subtree.
func (t *Tree[V]) Reload(id NodeID) *Task {
	return t.LoadChildren(id, true)
}

// ExpandAll loads and expands id and its whole subtree; the zero ID means
// every root. ExpandAllCompleted is emitted once everything settles.
func (t *Tree[V]) ExpandAll(id NodeID, forceReload bool) *Task {
	targets, ok := t.targets(id)
	if !ok {
		return completedTask(ErrNodeNotFound)
	}
	return t.spawn(func() error {
		defer lazydebug.LogEnterExit("ExpandAll " + id.String())()
		defer metrics.Timer(metrics.DeepLoad)()
		t.fanOut(targets, func(cid NodeID) { t.loadTree(cid, forceReload, true, true) })
		t.emitIfPresentOrRoot(ExpandAllCompleted, id)
		return nil
	})
}

// LoadAll is the fire-and-forget form of LoadAllAsync.
func (t *Tree[V]) LoadAll(id NodeID) {
	t.LoadAllAsync(id)
}

// LoadAllAsync force-loads id and all descendants without changing expand
// flags, then emits LoadAllChildrenCompleted.
func (t *Tree[V]) LoadAllAsync(id NodeID) *Task {
	targets, ok := t.targets(id)
	if !ok {
		return completedTask(ErrNodeNotFound)
	}
	return t.spawn(func() error {
		defer metrics.TimerWithCallback(metrics.DeepLoad, func(d time.Duration) {
			lazydebug.LogTiming("LoadAll "+id.String(), d)
		})()
		t.fanOut(targets, func(cid NodeID) { t.loadTree(cid, true, true, false) })
		t.emitIfPresentOrRoot(LoadAllChildrenCompleted, id)
		return nil
	})
}

// CollapseAll collapses every expanded descendant of id bottom-up and then id
// itself; the zero ID means every root.
func (t *Tree[V]) CollapseAll(id NodeID) *Task {
	targets, ok := t.targets(id)
	if !ok {
		return completedTask(ErrNodeNotFound)
	}

	t.lock()
	var order []NodeID
	var visit func(n *node[V])
	visit = func(n *node[V]) {
		for _, c := range n.children.All() {
			if !c.isProxy() {
				visit(c)
			}
		}
		if n.expanded {
			order = append(order, n.id)
		}
	}
	for _, tid := range targets {
		if n, ok := t.nodes[tid]; ok {
			visit(n)
		}
	}
	t.unlock()

	// Children settle before their parents so every reset sees its node.
	return t.spawn(func() error {
		for _, cid := range order {
			if err := t.Collapse(cid).Wait(t.ctx); err != nil && !errors.Is(err, ErrNodeNotFound) {
				return err
			}
		}
		return nil
	})
}

func (t *Tree[V]) fanOut(ids []NodeID, fn func(NodeID)) {
	g := new(errgroup.Group)
	g.SetLimit(t.opts.LoadConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			fn(id)
			return nil
		})
	}
	_ = g.Wait()
}

// targets resolves id to itself, or to every root for the zero ID.
func (t *Tree[V]) targets(id NodeID) ([]NodeID, bool) {
	if id.IsZero() {
		t.lock()
		defer t.unlock()
		ids := make([]NodeID, 0, t.roots.Len())
		for _, r := range t.roots.All() {
			ids = append(ids, r.id)
		}
		return ids, true
	}
	return []NodeID{id}, t.exists(id)
}

func (t *Tree[V]) exists(id NodeID) bool {
	t.lock()
	defer t.unlock()
	_, ok := t.nodes[id]
	return ok
}

func (t *Tree[V]) emitIfPresentOrRoot(kind EventKind, id NodeID) {
	if id.IsZero() {
		t.lock()
		t.emit(kind, id)
		t.unlock()
		return
	}
	t.emitIfPresent(kind, id)
}
