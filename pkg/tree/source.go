package tree

import "context"

// Entry describes one child returned by a Source. The tree turns entries into
// nodes; nil entries in a fetch result are ignored.
type Entry[V any] struct {
	Value         V
	ParentCapable bool
	// Editable overrides the default (true) when set.
	Editable *bool
}

// Source fetches the children of a node. FetchChildren must return promptly
// once ctx is cancelled; the error of a failed fetch is logged and dropped.
type Source[V any] interface {
	FetchChildren(ctx context.Context, parent V) ([]*Entry[V], error)
}

// RootSource is a Source that can also produce the root set.
type RootSource[V any] interface {
	Source[V]
	Roots(ctx context.Context) ([]*Entry[V], error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[V any] func(ctx context.Context, parent V) ([]*Entry[V], error)

// FetchChildren calls f.
func (f SourceFunc[V]) FetchChildren(ctx context.Context, parent V) ([]*Entry[V], error) {
	return f(ctx, parent)
}

// Dispatcher runs fn on the context that owns presentation state (for a TUI,
// the update loop). Dispatch must not block waiting for fn to run.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Inline runs every dispatched function immediately on the calling goroutine.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// Task is a handle on asynchronous tree work. Callers may ignore it.
type Task struct {
	done chan struct{}
	err  error
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

func completedTask(err error) *Task {
	t := &Task{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed once the work has settled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task settles or ctx ends. It returns ctx's error in
// the latter case and the task's own error otherwise.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task result; it is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
