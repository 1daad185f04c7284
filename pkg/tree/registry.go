package tree

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// gateRegistry hands out one binary semaphore per node. Fetch-and-install
// for a node happens only while its gate is held.
type gateRegistry struct {
	mu    sync.Mutex
	gates map[NodeID]*semaphore.Weighted
}

func newGateRegistry() *gateRegistry {
	return &gateRegistry{gates: make(map[NodeID]*semaphore.Weighted)}
}

func (r *gateRegistry) get(id NodeID) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gates[id]
	if !ok {
		g = semaphore.NewWeighted(1)
		r.gates[id] = g
	}
	return g
}

func (r *gateRegistry) forget(id NodeID) {
	r.mu.Lock()
	delete(r.gates, id)
	r.mu.Unlock()
}

func (r *gateRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gates)
}

// token is a cancellable context shared by every operation of one kind
// (expand or collapse) on a node.
type token struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// tokenRegistry maps node IDs to live tokens. Tokens are reference counted;
// the last release cancels and removes the entry.
type tokenRegistry struct {
	mu     sync.Mutex
	tokens map[NodeID]*token
}

func newTokenRegistry() *tokenRegistry {
	return &tokenRegistry{tokens: make(map[NodeID]*token)}
}

// acquire returns the live token for id, creating one derived from parent if
// none exists or the existing one was already cancelled.
func (r *tokenRegistry) acquire(parent context.Context, id NodeID) *token {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[id]
	if !ok || tok.ctx.Err() != nil {
		ctx, cancel := context.WithCancel(parent)
		tok = &token{ctx: ctx, cancel: cancel}
		r.tokens[id] = tok
	}
	tok.refs++
	return tok
}

func (r *tokenRegistry) release(id NodeID, tok *token) {
	r.mu.Lock()
	tok.refs--
	last := tok.refs <= 0
	if last && r.tokens[id] == tok {
		delete(r.tokens, id)
	}
	r.mu.Unlock()
	if last {
		tok.cancel()
	}
}

// cancel trips the live token for id without removing it; holders still
// release it normally.
func (r *tokenRegistry) cancel(id NodeID) {
	r.mu.Lock()
	tok := r.tokens[id]
	r.mu.Unlock()
	if tok != nil {
		tok.cancel()
	}
}

// forget cancels and drops the entry for a node that left the tree.
func (r *tokenRegistry) forget(id NodeID) {
	r.mu.Lock()
	tok := r.tokens[id]
	delete(r.tokens, id)
	r.mu.Unlock()
	if tok != nil {
		tok.cancel()
	}
}

func (r *tokenRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// RegistryStats reports how many per-node coordination entries are live.
type RegistryStats struct {
	Gates          int
	ExpandTokens   int
	CollapseTokens int
}
