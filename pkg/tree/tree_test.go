package tree_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/vanderheijden86/lazytree/pkg/testutil"
	"github.com/vanderheijden86/lazytree/pkg/tree"
)

func quiet() tree.Option {
	return tree.WithLogLevel(tree.LogLevelNone)
}

func TestBootstrapCreatesProxies(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)

	roots := tr.Items()
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	for _, r := range roots {
		if !r.Root || !r.ParentCapable || r.ChildrenLoaded || r.Leaf {
			t.Errorf("unexpected root state: %+v", r)
		}
		testutil.AssertSingleProxy(t, tr, r.ID)
	}
	if src.TotalCalls() != 0 {
		t.Errorf("bootstrap should not fetch children, got %d calls", src.TotalCalls())
	}
}

func TestExpandLoadsChildren(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	rec := testutil.Record(tr)
	d00 := testutil.Find(t, tr, "d00")

	if err := testutil.WaitTask(t, tr.Expand(d00)); err != nil {
		t.Fatalf("Expand: %v", err)
	}

	testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")
	s, _ := tr.Node(d00)
	if !s.Expanded || !s.ChildrenLoaded {
		t.Errorf("expected expanded and loaded, got %+v", s)
	}
	want := []tree.EventKind{tree.Expanding, tree.ExpandCompleted}
	if got := rec.Kinds(d00); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if rec.Count(tree.ItemsChanged) == 0 {
		t.Error("expected an ItemsChanged event for the installed children")
	}

	// Expanding a loaded node does not fetch again.
	testutil.WaitTask(t, tr.Expand(d00))
	if src.Calls("d00") != 1 {
		t.Errorf("expected 1 fetch, got %d", src.Calls("d00"))
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestConcurrentLoadsFetchOnce(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	started, release := src.Block("d00")
	first := tr.Expand(d00)
	<-started
	second := tr.LoadChildren(d00, false)
	third := tr.Expand(d00)
	release()

	for _, task := range []*tree.Task{first, second, third} {
		testutil.WaitTask(t, task)
	}
	if got := src.Calls("d00"); got != 1 {
		t.Errorf("expected exactly one fetch, got %d", got)
	}
	testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")
	testutil.AssertNoLeaks(t, tr)
}

func TestForcedLoadFetchesAgain(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	testutil.WaitTask(t, tr.LoadChildren(d00, false))
	testutil.WaitTask(t, tr.LoadChildren(d00, false))
	testutil.WaitTask(t, tr.LoadChildren(d00, true))
	if got := src.Calls("d00"); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	s, _ := tr.Node(d00)
	if s.Expanded {
		t.Error("LoadChildren must not expand")
	}
}

func TestCollapseUnloadsChildren(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")
	testutil.WaitTask(t, tr.Expand(d00))
	child := testutil.Find(t, tr, "d00/d01")
	rec := testutil.Record(tr)

	testutil.WaitTask(t, tr.Collapse(d00))

	testutil.AssertSingleProxy(t, tr, d00)
	if _, ok := tr.Node(child); ok {
		t.Error("unloaded child should have left the arena")
	}
	want := []tree.EventKind{tree.Collapsing, tree.CollapseCompleted}
	if got := rec.Kinds(d00); !slices.Equal(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestCollapseKeepsChildren(t *testing.T) {
	tests := []struct {
		name        string
		opts        []tree.Option
		selectFirst bool
	}{
		{"unload_disabled", []tree.Option{tree.WithUnloadChildrenOnCollapse(false)}, false},
		{"selected_with_load_on_select", []tree.Option{tree.WithLoadChildrenOnSelected(true)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewSource(testutil.QuickTree(2, 2))
			tr := testutil.NewTree(t, src, tt.opts...)
			rec := testutil.Record(tr)
			d00 := testutil.Find(t, tr, "d00")
			testutil.WaitTask(t, tr.Expand(d00))
			if tt.selectFirst {
				testutil.WaitTask(t, tr.Select(d00))
			}

			testutil.WaitTask(t, tr.Collapse(d00))

			testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")
			s, _ := tr.Node(d00)
			if s.Expanded {
				t.Error("node should be collapsed")
			}
			if rec.Count(tree.CollapseCompleted) != 1 {
				t.Errorf("expected CollapseCompleted, got %v", rec.Kinds(d00))
			}
		})
	}
}

func TestSetUnloadChildrenOnCollapse(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	tr.SetUnloadChildrenOnCollapse(false)
	testutil.WaitTask(t, tr.Expand(d00))
	testutil.WaitTask(t, tr.Collapse(d00))
	testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")

	tr.SetUnloadChildrenOnCollapse(true)
	testutil.WaitTask(t, tr.Expand(d00))
	testutil.WaitTask(t, tr.Collapse(d00))
	testutil.AssertSingleProxy(t, tr, d00)
	if src.Calls("d00") != 1 {
		t.Errorf("re-expanding kept children should not fetch, got %d calls", src.Calls("d00"))
	}
}

func TestCollapseDuringPendingFetch(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	started, release := src.Block("d00")
	expand := tr.Expand(d00)
	<-started
	collapse := tr.Collapse(d00)
	testutil.WaitTask(t, collapse)
	release()
	testutil.WaitTask(t, expand)
	testutil.WaitIdle(t, tr)

	testutil.AssertSingleProxy(t, tr, d00)
	s, _ := tr.Node(d00)
	if s.Expanded || s.ChildrenLoaded {
		t.Errorf("expected collapsed and unloaded, got %+v", s)
	}
	testutil.AssertNoLeaks(t, tr)

	// A later expand still works.
	testutil.WaitTask(t, tr.Expand(d00))
	testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")
}

func TestCollapseDuringPendingFetchWithoutUnload(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src, tree.WithUnloadChildrenOnCollapse(false))
	d00 := testutil.Find(t, tr, "d00")

	started, release := src.Block("d00")
	expand := tr.Expand(d00)
	<-started
	testutil.WaitTask(t, tr.Collapse(d00))
	release()
	testutil.WaitTask(t, expand)
	testutil.WaitIdle(t, tr)

	// The collapse cancels the install even though it resets nothing itself.
	testutil.AssertSingleProxy(t, tr, d00)
	s, _ := tr.Node(d00)
	if s.Expanded || s.ChildrenLoaded {
		t.Errorf("expected collapsed and unloaded, got %+v", s)
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestFetchFailureIsSwallowed(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	trace := filepath.Join(t.TempDir(), "trace.jsonl")
	tr := testutil.NewTree(t, src, quiet(), tree.WithTracePath(trace))
	rec := testutil.Record(tr)
	d00 := testutil.Find(t, tr, "d00")
	d01 := testutil.Find(t, tr, "d01")
	testutil.WaitTask(t, tr.Expand(d01))

	boom := errors.New("disk on fire")
	src.Fail("d00", boom)
	if err := testutil.WaitTask(t, tr.Expand(d00)); err != nil {
		t.Fatalf("fetch failures must not surface, got %v", err)
	}
	testutil.AssertSingleProxy(t, tr, d00)
	testutil.AssertChildValues(t, tr, d01, "d01/d00", "d01/d01", "d01/f00")
	if got := rec.Kinds(d00); !slices.Equal(got, []tree.EventKind{tree.Expanding, tree.ExpandCompleted}) {
		t.Errorf("events = %v", got)
	}

	lerr := tr.LastError()
	if lerr == nil || !errors.Is(lerr, boom) || lerr.Node != d00 || lerr.Retries != 1 {
		t.Fatalf("unexpected last error: %v", lerr)
	}
	testutil.WaitTask(t, tr.Expand(d00))
	if tr.LastError().Retries != 2 {
		t.Errorf("expected retries to count up, got %d", tr.LastError().Retries)
	}

	src.Fail("d00", nil)
	testutil.WaitTask(t, tr.Expand(d00))
	testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	data, err := os.ReadFile(trace)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(data), `"event":"load_failed"`) {
		t.Errorf("trace should record the failure, got:\n%s", data)
	}
}

func TestFetchPanicIsRecovered(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src, quiet())
	d00 := testutil.Find(t, tr, "d00")

	src.Panic("d00", true)
	testutil.WaitTask(t, tr.Expand(d00))

	testutil.AssertSingleProxy(t, tr, d00)
	lerr := tr.LastError()
	if lerr == nil || lerr.Phase != "fetch" || !strings.Contains(lerr.Error(), "panic") {
		t.Fatalf("expected recorded panic, got %v", lerr)
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestNilEntriesAreFiltered(t *testing.T) {
	src := testutil.NewSource(testutil.QuickWide(2))
	src.IncludeNils(true)
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	testutil.WaitTask(t, tr.Expand(d00))
	testutil.AssertChildValues(t, tr, d00, "d00/f00", "d00/f01")
	if n := len(tr.Children(d00)); n != 2 {
		t.Errorf("expected 2 children, got %d", n)
	}
}

func TestEmptyFetchKeepsProxy(t *testing.T) {
	src := testutil.NewSource(testutil.Fixture{Dirs: []string{"empty"}})
	tr := testutil.NewTree(t, src)
	id := testutil.Find(t, tr, "empty")

	testutil.WaitTask(t, tr.Expand(id))

	testutil.AssertSingleProxy(t, tr, id)
	s, _ := tr.Node(id)
	if s.Expanded || !s.Empty || s.Leaf {
		t.Errorf("expected collapsed empty non-leaf, got %+v", s)
	}
}

func TestLeafClassification(t *testing.T) {
	src := testutil.NewSource(testutil.QuickWide(1))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")
	testutil.WaitTask(t, tr.Expand(d00))
	f := testutil.Find(t, tr, "d00/f00")

	if !tr.IsLeaf(f) || tr.IsLeaf(d00) {
		t.Error("file should be a leaf and directory should not")
	}
	if first := tr.Children(d00)[0]; first.IsProxy() {
		t.Fatal("loaded directory should have no proxy")
	}
	if tr.IsRootNode(f) || !tr.IsRootNode(d00) {
		t.Error("root classification is wrong")
	}
	// Expanding a leaf is harmless.
	testutil.WaitTask(t, tr.Expand(f))
	if src.Calls("d00/f00") != 0 {
		t.Error("leaf expand must not fetch")
	}
}

func TestSelectWithLoadOnSelected(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src, tree.WithLoadChildrenOnSelected(true))
	rec := testutil.Record(tr)
	d00 := testutil.Find(t, tr, "d00")

	testutil.WaitTask(t, tr.Select(d00))

	s, _ := tr.Node(d00)
	if !s.Selected || !s.ChildrenLoaded || s.Expanded {
		t.Errorf("expected selected, loaded, not expanded; got %+v", s)
	}
	if got := rec.Kinds(d00); !slices.Equal(got, []tree.EventKind{tree.SelectedItemChanged}) {
		t.Errorf("events = %v", got)
	}
	last, ok := tr.LastSelectedItem()
	if !ok || last.ID != d00 {
		t.Error("last selected item not recorded")
	}
}

func TestSelectWithoutLoadOnSelected(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	testutil.WaitTask(t, tr.Select(d00))
	if tr.IsChildrenLoaded(d00) || src.TotalCalls() != 0 {
		t.Error("select must not load when load-on-select is off")
	}

	// Turning the policy on loads the last selected node.
	testutil.WaitTask(t, tr.SetLoadChildrenOnSelected(true))
	if !tr.IsChildrenLoaded(d00) {
		t.Error("enabling load-on-select should load the last selected node")
	}
}

func TestSilentSettersEmitNothing(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src, tree.WithLoadChildrenOnSelected(true))
	rec := testutil.Record(tr)
	d00 := testutil.Find(t, tr, "d00")

	tr.SetSilentExpand(d00, true)
	tr.SetSilentSelect(d00, true)
	testutil.WaitIdle(t, tr)

	s, _ := tr.Node(d00)
	if !s.Expanded || !s.Selected {
		t.Errorf("flags not applied: %+v", s)
	}
	if n := len(rec.Events()); n != 0 {
		t.Errorf("expected no events, got %v", rec.Events())
	}
	if src.TotalCalls() != 0 {
		t.Error("silent setters must not load")
	}
}

func TestSelectedItems(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")
	d01 := testutil.Find(t, tr, "d01")

	testutil.WaitTask(t, tr.Select(d00))
	tr.SetMultiSelected(d01, true)

	var got []string
	for _, s := range tr.SelectedItems() {
		got = append(got, s.Value)
	}
	if !slices.Equal(got, []string{"d00", "d01"}) {
		t.Errorf("selected = %v", got)
	}

	if tr.ToggleMultiSelected(d01) {
		t.Error("toggle should clear multi-select")
	}
	tr.Deselect(d00)
	if n := len(tr.SelectedItems()); n != 0 {
		t.Errorf("expected no selection, got %d", n)
	}
}

func TestEditingRequiresEditable(t *testing.T) {
	src := testutil.NewSource(testutil.QuickWide(1))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	tr.SetEditing(d00, true)
	if s, _ := tr.Node(d00); !s.Editing {
		t.Error("editable node should enter editing")
	}
	tr.SetEditable(d00, false)
	if s, _ := tr.Node(d00); s.Editing || s.Editable {
		t.Error("clearing editable should end editing")
	}
	tr.SetEditing(d00, true)
	if s, _ := tr.Node(d00); s.Editing {
		t.Error("non-editable node must not enter editing")
	}
	tr.SetBeingDragged(d00, true)
	if s, _ := tr.Node(d00); !s.BeingDragged {
		t.Error("drag flag not set")
	}
}

func TestExpandAll(t *testing.T) {
	fixture := testutil.QuickTree(2, 2)
	src := testutil.NewSource(fixture)
	tr := testutil.NewTree(t, src, tree.WithLoadConcurrency(2))
	rec := testutil.Record(tr)

	testutil.WaitTask(t, tr.ExpandAll(tree.NodeID{}, false))

	dirs := 0
	for _, s := range tr.AllNodes() {
		if !s.ParentCapable {
			continue
		}
		dirs++
		if !s.Expanded || !s.ChildrenLoaded {
			t.Errorf("%s: expected expanded and loaded", s.Value)
		}
	}
	if dirs != len(fixture.Dirs) {
		t.Errorf("expected %d directories, got %d", len(fixture.Dirs), dirs)
	}
	if rec.Count(tree.ExpandAllCompleted) != 1 {
		t.Errorf("expected one ExpandAllCompleted, got %d", rec.Count(tree.ExpandAllCompleted))
	}
	if src.TotalCalls() != len(fixture.Dirs) {
		t.Errorf("expected %d fetches, got %d", len(fixture.Dirs), src.TotalCalls())
	}

	// Without force, a second pass fetches nothing.
	testutil.WaitTask(t, tr.ExpandAll(tree.NodeID{}, false))
	if src.TotalCalls() != len(fixture.Dirs) {
		t.Errorf("unforced ExpandAll refetched: %d calls", src.TotalCalls())
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestLoadAllDoesNotExpand(t *testing.T) {
	fixture := testutil.QuickTree(3, 2)
	src := testutil.NewSource(fixture)
	tr := testutil.NewTree(t, src)
	rec := testutil.Record(tr)
	d00 := testutil.Find(t, tr, "d00")

	testutil.WaitTask(t, tr.LoadAllAsync(d00))

	for _, s := range tr.AllNodes() {
		if s.Expanded {
			t.Errorf("%s: LoadAll must not expand", s.Value)
		}
		if s.ParentCapable && strings.HasPrefix(s.Value, "d00") && !s.ChildrenLoaded {
			t.Errorf("%s: expected loaded", s.Value)
		}
	}
	if got := rec.Kinds(d00); !slices.Equal(got, []tree.EventKind{tree.LoadAllChildrenCompleted}) {
		t.Errorf("events = %v", got)
	}
	if src.Calls("d01") != 0 {
		t.Error("LoadAll of d00 must not touch d01")
	}
}

func TestLoadAllRandomHierarchy(t *testing.T) {
	fixture := testutil.QuickRandom(200, 0.3)
	src := testutil.NewSource(fixture)
	tr := testutil.NewTree(t, src, tree.WithLoadConcurrency(3))

	testutil.WaitTask(t, tr.LoadAllAsync(tree.NodeID{}))

	var got []string
	for _, s := range tr.AllNodes() {
		got = append(got, s.Value)
	}
	want := fixture.Paths()
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("loaded %d nodes, fixture has %d", len(got), len(want))
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestPlainLoadsKeepExpandFlagOfEmptyNode(t *testing.T) {
	tests := []struct {
		name string
		load func(tr *tree.Tree[string], id tree.NodeID) *tree.Task
	}{
		{"load_all", func(tr *tree.Tree[string], id tree.NodeID) *tree.Task { return tr.LoadAllAsync(id) }},
		{"load_children", func(tr *tree.Tree[string], id tree.NodeID) *tree.Task { return tr.LoadChildren(id, false) }},
		{"reload", func(tr *tree.Tree[string], id tree.NodeID) *tree.Task { return tr.Reload(id) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewSource(testutil.Fixture{Dirs: []string{"empty"}})
			tr := testutil.NewTree(t, src)
			id := testutil.Find(t, tr, "empty")
			tr.SetSilentExpand(id, true)

			testutil.WaitTask(t, tt.load(tr, id))

			s, _ := tr.Node(id)
			if !s.Expanded {
				t.Errorf("expand flag changed: %+v", s)
			}
			if !s.Empty {
				t.Errorf("expected the empty result to be recorded: %+v", s)
			}
			testutil.AssertSingleProxy(t, tr, id)
		})
	}
}

func TestCollapseAll(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	testutil.WaitTask(t, tr.ExpandAll(tree.NodeID{}, false))
	rec := testutil.Record(tr)

	testutil.WaitTask(t, tr.CollapseAll(tree.NodeID{}))
	testutil.WaitIdle(t, tr)

	for _, r := range tr.Items() {
		if r.Expanded {
			t.Errorf("%s still expanded", r.Value)
		}
		testutil.AssertSingleProxy(t, tr, r.ID)
	}
	if got := rec.Count(tree.CollapseCompleted); got != 6 {
		t.Errorf("expected 6 collapses, got %d", got)
	}
	if tr.Len() != 4 {
		t.Errorf("expected 2 roots and 2 proxies in the arena, got %d", tr.Len())
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestEnsureVisiblePath(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(3, 2))
	tr := testutil.NewTree(t, src)

	if err := testutil.WaitTask(t, tr.EnsureVisiblePath("d01", "d01/d00", "d01/d00/f00")); err != nil {
		t.Fatalf("EnsureVisiblePath: %v", err)
	}
	last, ok := tr.LastSelectedItem()
	if !ok || last.Value != "d01/d00/f00" || !last.Selected {
		t.Fatalf("unexpected last selected: %+v", last)
	}
	for _, a := range tr.Ancestors(last.ID) {
		if !a.Expanded || !a.ChildrenLoaded {
			t.Errorf("ancestor %s not revealed", a.Value)
		}
	}

	err := testutil.WaitTask(t, tr.EnsureVisiblePath("d01", "nope"))
	if !errors.Is(err, tree.ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestEnsureVisibleSelected(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(3, 2))
	tr := testutil.NewTree(t, src)
	testutil.WaitTask(t, tr.LoadAllAsync(tree.NodeID{}))
	deep := testutil.Find(t, tr, "d00/d01/d00")

	testutil.WaitTask(t, tr.SetLastSelectedItem(deep))

	s, _ := tr.Node(deep)
	if !s.Selected {
		t.Error("node should be selected")
	}
	ancestors := tr.Ancestors(deep)
	if len(ancestors) != 2 || ancestors[0].Value != "d00/d01" || ancestors[1].Value != "d00" {
		t.Fatalf("unexpected ancestors: %v", ancestors)
	}
	for _, a := range ancestors {
		if !a.Expanded {
			t.Errorf("ancestor %s not expanded", a.Value)
		}
	}
	visible := tr.Visible()
	if !slices.ContainsFunc(visible, func(v tree.VisibleNode[string]) bool { return v.ID == deep }) {
		t.Error("node should be visible")
	}
}

func TestInsertAndRemoveChild(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	id, ok := tr.InsertChild(d00, &tree.Entry[string]{Value: "d00/a"})
	if !ok {
		t.Fatal("insert failed")
	}
	testutil.AssertChildValues(t, tr, d00, "d00/a")
	if !tr.IsChildrenLoaded(d00) {
		t.Error("inserting under a placeholder drops the placeholder")
	}
	if _, dup := tr.InsertChild(d00, &tree.Entry[string]{Value: "d00/a"}); dup {
		t.Error("duplicate insert should be a no-op")
	}

	if !tr.RemoveChild(id) {
		t.Fatal("remove failed")
	}
	testutil.AssertSingleProxy(t, tr, d00)
	if tr.RemoveChild(id) {
		t.Error("removing twice should fail")
	}

	rid, ok := tr.InsertRoot(&tree.Entry[string]{Value: "a-root", ParentCapable: true})
	if !ok || tr.Items()[0].ID != rid {
		t.Error("new root should sort first")
	}
	child, _ := tr.InsertChild(d00, &tree.Entry[string]{Value: "d00/b"})
	if tr.RemoveRoot(child) {
		t.Error("RemoveRoot must reject non-root nodes")
	}
	if !tr.RemoveRoot(rid) {
		t.Error("RemoveRoot failed")
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestRemoveDetachesSubtree(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(3, 2))
	tr := testutil.NewTree(t, src)
	testutil.WaitTask(t, tr.ExpandAll(tree.NodeID{}, false))
	before := tr.Len()
	sub := testutil.Find(t, tr, "d00/d00")
	deep := testutil.Find(t, tr, "d00/d00/d01")
	testutil.WaitTask(t, tr.Select(deep))

	tr.RemoveChild(sub)

	if _, ok := tr.Node(deep); ok {
		t.Error("descendants must leave the arena")
	}
	if _, ok := tr.LastSelectedItem(); ok {
		t.Error("last selected should be cleared when its node is removed")
	}
	// d00/d00 itself, its two dirs and its file, and one file in each dir.
	if removed := before - tr.Len(); removed != 6 {
		t.Errorf("expected 6 nodes removed, got %d", removed)
	}
	testutil.AssertNoLeaks(t, tr)
}

func TestSetItems(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	// Merge into a node that only holds a placeholder.
	tr.SetItems(d00, []*tree.Entry[string]{{Value: "d00/b"}, {Value: "d00/a"}}, false)
	testutil.AssertChildValues(t, tr, d00, "d00/a", "d00/b")
	keep := testutil.Find(t, tr, "d00/b")

	tr.SetItems(d00, []*tree.Entry[string]{{Value: "d00/b"}, {Value: "d00/c"}}, false)
	testutil.AssertChildValues(t, tr, d00, "d00/b", "d00/c")
	if testutil.Find(t, tr, "d00/b") != keep {
		t.Error("merge should keep existing nodes")
	}

	tr.SetItems(d00, []*tree.Entry[string]{{Value: "d00/b"}}, true)
	if testutil.Find(t, tr, "d00/b") == keep {
		t.Error("reset should replace nodes")
	}

	tr.SetItems(d00, nil, true)
	testutil.AssertSingleProxy(t, tr, d00)
	if s, _ := tr.Node(d00); !s.Empty || s.Expanded {
		t.Errorf("empty reset should collapse and mark empty: %+v", s)
	}
}

func TestReloadMerge(t *testing.T) {
	tests := []struct {
		name     string
		merge    bool
		wantSame bool
	}{
		{"merge", true, true},
		{"replace", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testutil.NewSource(testutil.QuickTree(2, 2))
			tr := testutil.NewTree(t, src, tree.WithMergeReloads(tt.merge))
			d00 := testutil.Find(t, tr, "d00")
			testutil.WaitTask(t, tr.Expand(d00))
			kept := testutil.Find(t, tr, "d00/d01")

			src.Add("d00/d02", true)
			src.Remove("d00/f00")
			testutil.WaitTask(t, tr.Reload(d00))

			testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/d02")
			same := testutil.Find(t, tr, "d00/d01") == kept
			if same != tt.wantSame {
				t.Errorf("identity kept = %v, want %v", same, tt.wantSame)
			}
			testutil.AssertNoLeaks(t, tr)
		})
	}
}

func TestClearAndInitialize(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	rec := testutil.Record(tr)
	testutil.WaitTask(t, tr.Select(testutil.Find(t, tr, "d00")))

	tr.Clear()
	if tr.Len() != 0 || len(tr.Items()) != 0 {
		t.Error("clear should empty the tree")
	}
	if _, ok := tr.LastSelectedItem(); ok {
		t.Error("clear should reset selection")
	}

	tr.Initialize([]*tree.Entry[string]{{Value: "b"}, nil, {Value: "a", ParentCapable: true}})
	if got := testutil.ChildValues(tr, tree.NodeID{}); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("roots = %v", got)
	}
	if rec.Count(tree.ItemsChanged) < 2 {
		t.Error("root changes should be reported")
	}
}

func TestVisibleRows(t *testing.T) {
	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src)
	testutil.WaitTask(t, tr.Expand(testutil.Find(t, tr, "d00")))

	rows := tr.Visible()
	var values []string
	var depths []int
	for _, r := range rows {
		values = append(values, r.Value)
		depths = append(depths, r.Depth)
	}
	if !slices.Equal(values, []string{"d00", "d00/d00", "d00/d01", "d00/f00", "d01"}) {
		t.Fatalf("rows = %v", values)
	}
	if !slices.Equal(depths, []int{0, 1, 1, 1, 0}) {
		t.Errorf("depths = %v", depths)
	}
	if !rows[3].LastSibling || rows[2].LastSibling || !rows[4].LastSibling {
		t.Error("last sibling flags are wrong")
	}
	if !slices.Equal(rows[1].Guides, []bool{true}) {
		t.Errorf("guides = %v", rows[1].Guides)
	}
}

func TestDispatcherRoutesDelivery(t *testing.T) {
	queue := make(chan func(), 64)
	go func() {
		for fn := range queue {
			fn()
		}
	}()
	t.Cleanup(func() { close(queue) })

	src := testutil.NewSource(testutil.QuickTree(2, 2))
	tr := testutil.NewTree(t, src, tree.WithDispatcher(tree.DispatcherFunc(func(fn func()) { queue <- fn })))
	rec := testutil.Record(tr)
	d00 := testutil.Find(t, tr, "d00")

	testutil.WaitTask(t, tr.Expand(d00))
	testutil.AssertChildValues(t, tr, d00, "d00/d00", "d00/d01", "d00/f00")
	testutil.Eventually(t, func() bool { return len(rec.Kinds(d00)) == 2 }, "events delivered through the dispatcher")
}

func TestProxyValue(t *testing.T) {
	src := testutil.NewSource(testutil.QuickWide(1))
	tr := testutil.NewTree(t, src, tree.WithProxyValue(func(parent string) string { return parent + "/..." }))
	d00 := testutil.Find(t, tr, "d00")

	kids := tr.Children(d00)
	if len(kids) != 1 || !kids[0].IsProxy() || kids[0].Value != "d00/..." {
		t.Errorf("unexpected proxy: %+v", kids)
	}
}

func TestUnknownNode(t *testing.T) {
	src := testutil.NewSource(testutil.QuickWide(1))
	tr := testutil.NewTree(t, src)
	bogus := tree.NodeID{1}

	for name, task := range map[string]*tree.Task{
		"expand":   tr.Expand(bogus),
		"collapse": tr.Collapse(bogus),
		"select":   tr.Select(bogus),
		"load":     tr.LoadChildren(bogus, false),
		"all":      tr.ExpandAll(bogus, false),
		"reveal":   tr.EnsureVisibleSelected(bogus),
	} {
		if err := testutil.WaitTask(t, task); !errors.Is(err, tree.ErrNodeNotFound) {
			t.Errorf("%s: expected ErrNodeNotFound, got %v", name, err)
		}
	}
	if tr.RemoveChild(bogus) {
		t.Error("removing an unknown node should fail")
	}
	if _, ok := tr.InsertChild(bogus, &tree.Entry[string]{Value: "x"}); ok {
		t.Error("inserting under an unknown node should fail")
	}
}

func TestClosedTreeRejectsWork(t *testing.T) {
	src := testutil.NewSource(testutil.QuickWide(1))
	tr := testutil.NewTree(t, src)
	d00 := testutil.Find(t, tr, "d00")

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := testutil.WaitTask(t, tr.Expand(d00)); !errors.Is(err, tree.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, ok := tr.Node(d00); !ok {
		t.Error("closed tree should stay readable")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tr.Wait(ctx)
}
