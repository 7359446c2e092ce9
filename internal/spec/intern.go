package spec

import "sync"

// Interner maps dag hashes to one shared node each, so identical subgraphs
// reached from different DAGs are the same *ConcreteSpec.
// Safe for concurrent use.
type Interner struct {
	mu    sync.RWMutex
	nodes map[string]*ConcreteSpec
}

// NewInterner returns an empty intern table.
func NewInterner() *Interner {
	return &Interner{nodes: make(map[string]*ConcreteSpec)}
}

// Intern returns the canonical instance for s's hash, registering s if the
// hash is new. s must be finalized.
func (in *Interner) Intern(s *ConcreteSpec) *ConcreteSpec {
	h := s.DAGHash()
	in.mu.RLock()
	existing, ok := in.nodes[h]
	in.mu.RUnlock()
	if ok {
		return existing
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if existing, ok := in.nodes[h]; ok {
		return existing
	}
	in.nodes[h] = s
	return s
}

// Get returns the interned node for hash, if any.
func (in *Interner) Get(hash string) (*ConcreteSpec, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	s, ok := in.nodes[hash]
	return s, ok
}

// Len returns the number of interned nodes.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.nodes)
}
