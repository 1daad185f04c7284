package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/vanderheijden86/lazytree/pkg/tree"
)

// Source is a scripted tree.RootSource over slash-separated string paths.
// It counts fetches per parent and can block, fail or panic on demand.
type Source struct {
	mu       sync.Mutex
	children map[string][]string // parent path -> child paths ("" is the root level)
	dirs     map[string]bool
	calls    map[string]int
	gates    map[string]*fetchGate
	failures map[string]error
	panics   map[string]bool
	nils     bool
}

type fetchGate struct {
	started chan string
	release chan struct{}
}

var _ tree.RootSource[string] = (*Source)(nil)

// NewSource creates a source holding fixture.
func NewSource(f Fixture) *Source {
	s := &Source{
		children: make(map[string][]string),
		dirs:     make(map[string]bool),
		calls:    make(map[string]int),
		gates:    make(map[string]*fetchGate),
		failures: make(map[string]error),
		panics:   make(map[string]bool),
	}
	for _, d := range f.Dirs {
		s.add(d, true)
	}
	for _, p := range f.Files {
		s.add(p, false)
	}
	return s
}

func (s *Source) add(path string, dir bool) {
	parent := Parent(path)
	if !slices.Contains(s.children[parent], path) {
		s.children[parent] = append(s.children[parent], path)
	}
	if dir {
		s.dirs[path] = true
	}
}

// Add inserts a path; its parent must already exist or be the root level.
func (s *Source) Add(path string, dir bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(path, dir)
}

// Remove deletes path and everything below it.
func (s *Source) Remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent := Parent(path)
	s.children[parent] = slices.DeleteFunc(s.children[parent], func(p string) bool { return p == path })
	var drop func(p string)
	drop = func(p string) {
		for _, c := range s.children[p] {
			drop(c)
		}
		delete(s.children, p)
		delete(s.dirs, p)
	}
	drop(path)
}

// Calls returns how many times FetchChildren ran for parent.
func (s *Source) Calls(parent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[parent]
}

// TotalCalls returns the number of FetchChildren calls for all parents.
func (s *Source) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Block makes fetches of parent wait until release is called. Each blocked
// fetch sends parent on started once it is in flight. A blocked fetch
// ignores cancellation, like a request that is already on the wire.
func (s *Source) Block(parent string) (started <-chan string, release func()) {
	g := &fetchGate{started: make(chan string, 16), release: make(chan struct{})}
	s.mu.Lock()
	s.gates[parent] = g
	s.mu.Unlock()
	var once sync.Once
	return g.started, func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[parent] == g {
				delete(s.gates, parent)
			}
			s.mu.Unlock()
			close(g.release)
		})
	}
}

// Fail makes fetches of parent return err; nil clears it.
func (s *Source) Fail(parent string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, parent)
		return
	}
	s.failures[parent] = err
}

// Panic makes fetches of parent panic.
func (s *Source) Panic(parent string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[parent] = on
}

// IncludeNils makes every fetch result carry nil entries around the real ones.
func (s *Source) IncludeNils(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nils = on
}

// FetchChildren implements tree.Source.
func (s *Source) FetchChildren(ctx context.Context, parent string) ([]*tree.Entry[string], error) {
	s.mu.Lock()
	s.calls[parent]++
	g := s.gates[parent]
	failure := s.failures[parent]
	panicking := s.panics[parent]
	s.mu.Unlock()

	if g != nil {
		g.started <- parent
		<-g.release
	}
	if panicking {
		panic(fmt.Sprintf("fetch %q exploded", parent))
	}
	if failure != nil {
		return nil, failure
	}
	return s.entries(parent), nil
}

// Roots implements tree.RootSource.
func (s *Source) Roots(ctx context.Context) ([]*tree.Entry[string], error) {
	return s.entries(""), nil
}

func (s *Source) entries(parent string) []*tree.Entry[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := s.children[parent]
	out := make([]*tree.Entry[string], 0, len(paths)+2)
	if s.nils {
		out = append(out, nil)
	}
	for _, p := range paths {
		out = append(out, &tree.Entry[string]{Value: p, ParentCapable: s.dirs[p]})
	}
	if s.nils {
		out = append(out, nil)
	}
	return out
}
