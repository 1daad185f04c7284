// Package collection provides Sorted, an ordered container that keeps itself
// sorted after every mutation and can reconcile its contents against a new
// authoritative candidate set.
//
// Sorted is the child-list storage for every tree node. Equality is always
// decided by the comparator (cmp(a, b) == 0), never by identity.
//
// Sorted is not safe for concurrent use; the owner serializes access.
package collection

import (
	"iter"
	"slices"

	"github.com/vanderheijden86/lazytree/pkg/metrics"
)

// FullResetThreshold is the candidate-set size at which CombineWith stops
// diffing and replaces the whole contents.
const FullResetThreshold = 100

// Sorted is an ascending-ordered collection with coarse change notification.
type Sorted[T any] struct {
	cmp       func(a, b T) int
	items     []T
	observers map[int]func()
	nextObs   int
}

// New creates a collection ordered by cmp, seeded with items (no notification).
func New[T any](cmp func(a, b T) int, items ...T) *Sorted[T] {
	s := &Sorted[T]{
		cmp:       cmp,
		items:     slices.Clone(items),
		observers: make(map[int]func()),
	}
	s.sort()
	return s
}

// Subscribe registers fn to be called after every content change.
// The returned function removes the subscription.
func (s *Sorted[T]) Subscribe(fn func()) (unsubscribe func()) {
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() { delete(s.observers, id) }
}

// Len returns the number of items.
func (s *Sorted[T]) Len() int { return len(s.items) }

// At returns the item at index i.
func (s *Sorted[T]) At(i int) T { return s.items[i] }

// Items returns a copy of the contents in order.
func (s *Sorted[T]) Items() []T { return slices.Clone(s.items) }

// All iterates over the contents in order.
func (s *Sorted[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, item := range s.items {
			if !yield(i, item) {
				return
			}
		}
	}
}

// Index returns the position of the first item comparing equal to item, or -1.
func (s *Sorted[T]) Index(item T) int {
	return indexIn(s.items, item, s.cmp)
}

// Contains reports whether an item comparing equal to item is present.
func (s *Sorted[T]) Contains(item T) bool {
	return s.Index(item) >= 0
}

// Any reports whether some item satisfies pred.
func (s *Sorted[T]) Any(pred func(T) bool) bool {
	return slices.ContainsFunc(s.items, pred)
}

// Insert adds one item and re-sorts.
func (s *Sorted[T]) Insert(item T) {
	s.items = append(s.items, item)
	s.sort()
	s.notify()
}

// InitializeWith replaces the entire contents with items.
func (s *Sorted[T]) InitializeWith(items ...T) {
	s.items = slices.Clone(items)
	s.sort()
	s.notify()
}

// AddRange appends items and re-sorts. It always notifies, even when items is
// empty. Returns the number of items added.
func (s *Sorted[T]) AddRange(items []T) int {
	s.items = append(s.items, items...)
	s.sort()
	s.notify()
	return len(items)
}

// RemoveRange removes, for each given item, the first remaining item that
// compares equal to it. It always notifies, even when nothing matched.
// Returns the number of items actually removed.
func (s *Sorted[T]) RemoveRange(items []T) int {
	removed := 0
	for _, item := range items {
		if i := indexIn(s.items, item, s.cmp); i >= 0 {
			s.items = slices.Delete(s.items, i, i+1)
			removed++
		}
	}
	s.sort()
	s.notify()
	return removed
}

// Remove removes the first item comparing equal to item.
func (s *Sorted[T]) Remove(item T) bool {
	i := s.Index(item)
	if i < 0 {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	s.notify()
	return true
}

// RemoveFunc removes every item for which pred returns true and returns how
// many were removed. Notifies only if something was removed.
func (s *Sorted[T]) RemoveFunc(pred func(T) bool) int {
	before := len(s.items)
	s.items = slices.DeleteFunc(s.items, pred)
	removed := before - len(s.items)
	if removed > 0 {
		s.notify()
	}
	return removed
}

// Clear empties the collection.
func (s *Sorted[T]) Clear() {
	clear(s.items)
	s.items = s.items[:0]
	s.notify()
}

// CombineWith reconciles the contents against candidates.
//
// Below FullResetThreshold candidates, items absent from the current contents
// are added and current items absent from candidates are removed; items that
// compare equal are kept as they are. At or above the threshold the contents
// are replaced wholesale. A single notification is raised if anything changed.
// Returns whether the contents changed.
func (s *Sorted[T]) CombineWith(candidates []T) bool {
	defer metrics.Timer(metrics.CombineWith)()

	if len(candidates) >= FullResetThreshold {
		s.items = slices.Clone(candidates)
		s.sort()
		s.notify()
		return true
	}

	var toAdd []T
	for _, c := range candidates {
		if indexIn(s.items, c, s.cmp) < 0 && indexIn(toAdd, c, s.cmp) < 0 {
			toAdd = append(toAdd, c)
		}
	}

	kept := s.items[:0:0]
	for _, item := range s.items {
		if indexIn(candidates, item, s.cmp) >= 0 {
			kept = append(kept, item)
		}
	}
	removed := len(s.items) - len(kept)

	if len(toAdd) == 0 && removed == 0 {
		return false
	}

	s.items = append(kept, toAdd...)
	s.sort()
	s.notify()
	return true
}

func (s *Sorted[T]) sort() {
	slices.SortStableFunc(s.items, s.cmp)
}

func (s *Sorted[T]) notify() {
	for _, fn := range s.observers {
		fn()
	}
}

func indexIn[T any](items []T, item T, cmp func(a, b T) int) int {
	for i, other := range items {
		if cmp(other, item) == 0 {
			return i
		}
	}
	return -1
}
