package tree

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/lazytree/pkg/collection"
	lazydebug "github.com/vanderheijden86/lazytree/pkg/debug"
	"github.com/vanderheijden86/lazytree/pkg/metrics"
)

// LoadError records a failed child fetch. It never reaches callers of the
// state-machine operations; see Tree.LastError.
type LoadError struct {
	Node    NodeID
	Phase   string    // "fetch"
	Cause   error     // The underlying error
	Time    time.Time // When the error occurred
	Retries int       // Consecutive failures for this node
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s %s failed: %v (retries: %d)", e.Phase, e.Node, e.Cause, e.Retries)
}

func (e LoadError) Unwrap() error {
	return e.Cause
}

// LastError returns the most recent fetch failure, or nil.
func (t *Tree[V]) LastError() *LoadError {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastErr
}

func (t *Tree[V]) recordError(err *LoadError) {
	t.errMu.Lock()
	t.failures[err.Node]++
	err.Retries = t.failures[err.Node]
	t.lastErr = err
	t.errMu.Unlock()

	metrics.LoadsFailed.Inc()
	t.logEvent(LogLevelWarn, "load_failed", map[string]any{
		"node":    err.Node.String(),
		"phase":   err.Phase,
		"error":   err.Cause.Error(),
		"retries": err.Retries,
	})
}

func (t *Tree[V]) clearFailures(id NodeID) {
	t.errMu.Lock()
	delete(t.failures, id)
	t.errMu.Unlock()
}

// safeCompute runs fn and converts both returned errors and panics into a
// LoadError.
func safeCompute(id NodeID, phase string, fn func() error) *LoadError {
	var result *LoadError
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = &LoadError{
					Node:  id,
					Phase: phase,
					Cause: fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
					Time:  time.Now(),
				}
			}
		}()
		if err := fn(); err != nil {
			result = &LoadError{
				Node:  id,
				Phase: phase,
				Cause: err,
				Time:  time.Now(),
			}
		}
	}()
	return result
}

func (t *Tree[V]) fetch(ctx context.Context, id NodeID, parent V) ([]*Entry[V], *LoadError) {
	defer metrics.Timer(metrics.FetchChildren)()
	if t.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.FetchTimeout)
		defer cancel()
	}
	var entries []*Entry[V]
	lerr := safeCompute(id, "fetch", func() error {
		var err error
		entries, err = t.source.FetchChildren(ctx, parent)
		return err
	})
	return entries, lerr
}

// loadNode runs one gated fetch-and-install for id. Nodes that cannot have
// children are a silent no-op. Fetch failures are recorded and dropped.
func (t *Tree[V]) loadNode(id NodeID, force bool) {
	t.lock()
	n, ok := t.nodes[id]
	if !ok || n.isProxy() || !n.parentCapable {
		t.unlock()
		return
	}
	t.collapseTokens.cancel(id)
	tok := t.expandTokens.acquire(t.ctx, id)
	parent := n.value
	t.unlock()
	defer t.expandTokens.release(id, tok)

	metrics.LoadsStarted.Inc()
	gate := t.gates.get(id)
	stopWait := metrics.Timer(metrics.GateWait)
	err := gate.Acquire(tok.ctx, 1)
	stopWait()
	if err != nil {
		t.cancelled(id, "gate")
		return
	}
	defer gate.Release(1)

	t.lock()
	n, ok = t.nodes[id]
	skip := !ok || (n.childrenLoaded() && !force)
	t.unlock()
	if skip {
		metrics.LoadsSkipped.Inc()
		lazydebug.Log("load %s: skipped (loaded=%v force=%v)", id, ok, force)
		return
	}
	if tok.ctx.Err() != nil {
		t.cancelled(id, "before_fetch")
		return
	}

	entries, lerr := t.fetch(tok.ctx, id, parent)
	if lerr != nil {
		if tok.ctx.Err() != nil {
			t.cancelled(id, "fetch")
			return
		}
		t.recordError(lerr)
		return
	}
	t.clearFailures(id)
	if tok.ctx.Err() != nil {
		t.cancelled(id, "after_fetch")
		return
	}

	done := make(chan struct{})
	t.opts.Dispatcher.Dispatch(func() {
		defer close(done)
		t.lock()
		defer t.unlock()
		if tok.ctx.Err() != nil {
			t.cancelled(id, "install")
			return
		}
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		stop := metrics.Timer(metrics.InstallChildren)
		count := t.install(n, entries)
		stop()
		metrics.LoadsInstalled.Inc()
		t.logEvent(LogLevelDebug, "load_installed", map[string]any{
			"node":     id.String(),
			"children": count,
			"force":    force,
		})
	})
	select {
	case <-done:
	case <-t.ctx.Done():
	}
}

func (t *Tree[V]) cancelled(id NodeID, at string) {
	metrics.LoadsCancelled.Inc()
	t.logEvent(LogLevelDebug, "load_cancelled", map[string]any{
		"node": id.String(),
		"at":   at,
	})
}

// loadTree loads id and, when deep, every parent-capable descendant. With
// expandAfter set, a node with real children is silently expanded once its
// subtree settles and an empty one is collapsed; otherwise its expand flag is
// left as it was.
func (t *Tree[V]) loadTree(id NodeID, force, deep, expandAfter bool) {
	if t.ctx.Err() != nil {
		return
	}
	t.loadNode(id, force)

	if deep {
		g := new(errgroup.Group)
		g.SetLimit(t.opts.LoadConcurrency)
		for _, cid := range t.loadableChildren(id) {
			g.Go(func() error {
				t.loadTree(cid, force, deep, expandAfter)
				return nil
			})
		}
		_ = g.Wait()
	}

	if !expandAfter {
		return
	}
	t.lock()
	if n, ok := t.nodes[id]; ok {
		if n.hasRealChildren() {
			n.expanded = true
		} else if n.loadedEmpty {
			n.expanded = false
		}
	}
	t.unlock()
}

// collapseIfEmpty silently collapses id when its last fetch came back empty.
// Only expand-driven loads call it; plain loads leave the flag alone.
func (t *Tree[V]) collapseIfEmpty(id NodeID) {
	t.lock()
	if n, ok := t.nodes[id]; ok && n.loadedEmpty && n.onlyProxy() {
		n.expanded = false
	}
	t.unlock()
}

// loadableChildren lists the parent-capable, non-placeholder children of id.
func (t *Tree[V]) loadableChildren(id NodeID) []NodeID {
	t.lock()
	defer t.unlock()
	coll, ok := t.childrenOf(id)
	if !ok {
		return nil
	}
	var ids []NodeID
	for _, c := range coll.All() {
		if !c.isProxy() && c.parentCapable {
			ids = append(ids, c.id)
		}
	}
	return ids
}

// install places fetched entries under n. Callers hold t.mu.
func (t *Tree[V]) install(n *node[V], entries []*Entry[V]) int {
	fresh := t.buildNodes(n.id, entries)
	if len(fresh) == 0 {
		n.loadedEmpty = true
		if !n.onlyProxy() {
			t.mutate(n.children, func() { n.children.InitializeWith(t.newProxy(n)) })
		}
		return 0
	}
	n.loadedEmpty = false
	if t.opts.MergeReloads && n.childrenLoaded() {
		t.mutate(n.children, func() { n.children.CombineWith(fresh) })
	} else {
		t.mutate(n.children, func() { n.children.InitializeWith(fresh...) })
	}
	return len(fresh)
}

// replaceChildren fully replaces a child collection with entries. An empty
// result under a parent-capable node leaves a placeholder and collapses it.
func (t *Tree[V]) replaceChildren(parent NodeID, coll *collection.Sorted[*node[V]], entries []*Entry[V]) {
	fresh := t.buildNodes(parent, entries)
	if p, ok := t.nodes[parent]; ok {
		p.loadedEmpty = len(fresh) == 0
		if len(fresh) == 0 && p.parentCapable {
			p.expanded = false
			t.mutate(coll, func() { coll.InitializeWith(t.newProxy(p)) })
			return
		}
	}
	t.mutate(coll, func() { coll.InitializeWith(fresh...) })
}

func (t *Tree[V]) buildNodes(parent NodeID, entries []*Entry[V]) []*node[V] {
	out := make([]*node[V], 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		out = append(out, t.newNode(parent, e))
	}
	return out
}

func (t *Tree[V]) newNode(parent NodeID, e *Entry[V]) *node[V] {
	n := &node[V]{
		id:            newNodeID(),
		parent:        parent,
		kind:          KindItem,
		value:         e.Value,
		editable:      true,
		parentCapable: e.ParentCapable,
	}
	if e.Editable != nil {
		n.editable = *e.Editable
	}
	if n.parentCapable {
		n.children = collection.New(t.compareNodes, t.newProxy(n))
	} else {
		n.children = collection.New(t.compareNodes)
	}
	return n
}

func (t *Tree[V]) newProxy(parent *node[V]) *node[V] {
	p := &node[V]{
		id:       newNodeID(),
		parent:   parent.id,
		kind:     KindProxy,
		children: collection.New(t.compareNodes),
	}
	if t.proxyValue != nil {
		p.value = t.proxyValue(parent.value)
	}
	return p
}

// mutate applies fn to coll and reconciles the arena with the result: nodes
// that appeared are registered and nodes that disappeared are detached along
// with their subtrees. Callers hold t.mu.
func (t *Tree[V]) mutate(coll *collection.Sorted[*node[V]], fn func()) {
	before := coll.Items()
	fn()
	present := make(map[*node[V]]bool, coll.Len())
	for _, c := range coll.All() {
		present[c] = true
		if _, ok := t.nodes[c.id]; !ok {
			t.register(c)
		}
	}
	for _, c := range before {
		if !present[c] {
			t.detach(c)
		}
	}
}

func (t *Tree[V]) register(n *node[V]) {
	t.nodes[n.id] = n
	id := n.id
	n.unsub = n.children.Subscribe(func() { t.emit(ItemsChanged, id) })
	for _, c := range n.children.All() {
		if _, ok := t.nodes[c.id]; !ok {
			t.register(c)
		}
	}
}

func (t *Tree[V]) detach(n *node[V]) {
	for _, c := range n.children.All() {
		t.detach(c)
	}
	if n.unsub != nil {
		n.unsub()
		n.unsub = nil
	}
	delete(t.nodes, n.id)
	t.gates.forget(n.id)
	t.expandTokens.forget(n.id)
	t.collapseTokens.forget(n.id)
	t.clearFailures(n.id)
	if t.lastSelected == n.id {
		t.lastSelected = NodeID{}
	}
}
