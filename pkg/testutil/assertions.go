package testutil

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// WaitTimeout bounds every helper that waits on asynchronous tree work.
const WaitTimeout = 5 * time.Second

// NewTree creates a string tree over src ordered by strings.Compare and
// bootstrapped with src's roots. The tree is closed when the test ends.
func NewTree(t *testing.T, src *Source, opts ...tree.Option) *tree.Tree[string] {
	t.Helper()
	tr := tree.New(strings.Compare, src, opts...)
	t.Cleanup(func() { _ = tr.Close() })
	if err := tr.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return tr
}

// WaitTask waits for task and fails the test on timeout.
func WaitTask(t *testing.T, task *tree.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	err := task.Wait(ctx)
	if err == context.DeadlineExceeded {
		t.Fatalf("task did not settle within %v", WaitTimeout)
	}
	return err
}

// WaitIdle waits for every task spawned by tr.
func WaitIdle[V any](t *testing.T, tr *tree.Tree[V]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("tree did not settle within %v", WaitTimeout)
	}
}

// Eventually polls cond until it holds or WaitTimeout passes.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(WaitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

// Find returns the ID of the node whose value is path, failing the test if
// it is not in the tree.
func Find(t *testing.T, tr *tree.Tree[string], path string) tree.NodeID {
	t.Helper()
	parent := tree.NodeID{}
	for i, part := range strings.Split(path, "/") {
		want := strings.Join(strings.Split(path, "/")[:i+1], "/")
		s, ok := tr.FindChild(parent, want)
		if !ok {
			t.Fatalf("node %q not found (missing %q)", path, part)
		}
		parent = s.ID
	}
	return parent
}

// ChildValues returns the values of id's non-placeholder children in order.
func ChildValues[V any](tr *tree.Tree[V], id tree.NodeID) []V {
	var out []V
	for _, c := range tr.Children(id) {
		if !c.IsProxy() {
			out = append(out, c.Value)
		}
	}
	return out
}

// AssertChildValues verifies id's real children, in order.
func AssertChildValues(t *testing.T, tr *tree.Tree[string], id tree.NodeID, want ...string) {
	t.Helper()
	got := ChildValues(tr, id)
	if !slices.Equal(got, want) {
		t.Errorf("children of %s: expected %v, got %v", id, want, got)
	}
}

// AssertSingleProxy verifies id's children are exactly one placeholder.
func AssertSingleProxy[V any](t *testing.T, tr *tree.Tree[V], id tree.NodeID) {
	t.Helper()
	kids := tr.Children(id)
	if len(kids) != 1 || !kids[0].IsProxy() {
		kinds := make([]string, len(kids))
		for i, k := range kids {
			kinds[i] = k.Kind.String()
		}
		t.Errorf("children of %s: expected a single proxy, got %v", id, kinds)
	}
}

// AssertSorted verifies items are non-decreasing under cmp.
func AssertSorted[T any](t *testing.T, items []T, cmp func(a, b T) int) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		if cmp(items[i-1], items[i]) > 0 {
			t.Errorf("items out of order at %d: %v > %v", i, items[i-1], items[i])
			return
		}
	}
}

// AssertNoLeaks verifies no cancellation tokens outlived their operations
// and no gate belongs to a node that left the tree.
func AssertNoLeaks[V any](t *testing.T, tr *tree.Tree[V]) {
	t.Helper()
	stats := tr.Stats()
	if stats.ExpandTokens != 0 || stats.CollapseTokens != 0 {
		t.Errorf("leaked tokens: %+v", stats)
	}
	if stats.Gates > tr.Len() {
		t.Errorf("leaked gates: %d gates for %d nodes", stats.Gates, tr.Len())
	}
}

// Recorder collects tree events; safe for concurrent delivery.
type Recorder struct {
	mu     sync.Mutex
	events []tree.Event
}

// Record subscribes a new Recorder to tr.
func Record[V any](tr *tree.Tree[V]) *Recorder {
	r := &Recorder{}
	tr.Subscribe(r.handle)
	return r
}

func (r *Recorder) handle(ev tree.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []tree.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Kinds returns the kinds recorded for id, skipping ItemsChanged.
func (r *Recorder) Kinds(id tree.NodeID) []tree.EventKind {
	var out []tree.EventKind
	for _, ev := range r.Events() {
		if ev.Node == id && ev.Kind != tree.ItemsChanged {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind tree.EventKind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Golden compares test output against a file under dir. Setting
// LAZYTREE_UPDATE_GOLDEN rewrites the file instead.
type Golden struct {
	t    *testing.T
	path string
}

// NewGolden returns a helper for dir/name.
func NewGolden(t *testing.T, dir, name string) *Golden {
	return &Golden{t: t, path: filepath.Join(dir, name)}
}

// Assert fails at the first differing line.
func (g *Golden) Assert(got string) {
	g.t.Helper()
	if os.Getenv("LAZYTREE_UPDATE_GOLDEN") != "" {
		if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
			g.t.Fatal(err)
		}
		if err := os.WriteFile(g.path, []byte(got), 0644); err != nil {
			g.t.Fatal(err)
		}
		return
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		g.t.Fatalf("reading golden %s: %v (set LAZYTREE_UPDATE_GOLDEN=1 to create it)", g.path, err)
	}
	want := string(data)
	if want == got {
		return
	}
	wl, gl := strings.Split(want, "\n"), strings.Split(got, "\n")
	for i := range max(len(wl), len(gl)) {
		var w, a string
		if i < len(wl) {
			w = wl[i]
		}
		if i < len(gl) {
			a = gl[i]
		}
		if w != a {
			g.t.Errorf("%s line %d:\n got: %q\nwant: %q", g.path, i+1, a, w)
			return
		}
	}
}

// AssertJSON compares v, indented with two spaces, against the golden file.
func (g *Golden) AssertJSON(v any) {
	g.t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		g.t.Fatalf("encoding %T: %v", v, err)
	}
	g.Assert(string(data))
}

// TempDir helpers

// WriteFixture materializes f under a temporary directory and returns its
// path. The directory is cleaned up after the test.
func WriteFixture(t *testing.T, f Fixture) string {
	t.Helper()
	root := t.TempDir()
	for _, d := range f.Dirs {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0755); err != nil {
			t.Fatalf("failed to create %s: %v", d, err)
		}
	}
	for _, p := range f.Files {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("failed to create parent of %s: %v", p, err)
		}
		if err := os.WriteFile(full, []byte(p+"\n"), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}
	return root
}
