package tree

import "slices"

// EventKind identifies a tree notification.
type EventKind int

const (
	Expanding EventKind = iota + 1
	ExpandCompleted
	ExpandAllCompleted
	Collapsing
	CollapseCompleted
	LoadAllChildrenCompleted
	ItemsChanged
	SelectedItemChanged
)

func (k EventKind) String() string {
	switch k {
	case Expanding:
		return "expanding"
	case ExpandCompleted:
		return "expand_completed"
	case ExpandAllCompleted:
		return "expand_all_completed"
	case Collapsing:
		return "collapsing"
	case CollapseCompleted:
		return "collapse_completed"
	case LoadAllChildrenCompleted:
		return "load_all_children_completed"
	case ItemsChanged:
		return "items_changed"
	case SelectedItemChanged:
		return "selected_item_changed"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers through the tree's Dispatcher.
// For ItemsChanged on the root collection, Node is the zero ID.
type Event struct {
	Kind EventKind
	Node NodeID
}

// Handler receives tree events. Handlers may call back into the tree but must
// not block waiting on a load of the node being reported.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Subscribe registers h for every event. The returned func unsubscribes.
func (t *Tree[V]) Subscribe(h Handler) (unsubscribe func()) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()
	id := t.nextHandler
	t.nextHandler++
	t.handlers = append(t.handlers, subscription{id: id, fn: h})
	return func() {
		t.handlersMu.Lock()
		defer t.handlersMu.Unlock()
		t.handlers = slices.DeleteFunc(t.handlers, func(s subscription) bool { return s.id == id })
	}
}

// emit queues an event; it is delivered once t.mu is released.
func (t *Tree[V]) emit(kind EventKind, id NodeID) {
	t.pending = append(t.pending, Event{Kind: kind, Node: id})
}

func (t *Tree[V]) deliver(events []Event) {
	t.handlersMu.RLock()
	handlers := slices.Clone(t.handlers)
	t.handlersMu.RUnlock()

	for _, ev := range events {
		t.logEvent(LogLevelTrace, "event", map[string]any{
			"kind": ev.Kind.String(),
			"node": ev.Node.String(),
		})
		for _, h := range handlers {
			h.fn(ev)
		}
	}
}
