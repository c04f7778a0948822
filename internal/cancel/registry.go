// Package cancel tracks cooperative cancellation tokens for running jobs.
package cancel

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Token is one job's cancellation flag. The orchestrator holds a reference
// for the job's whole run and polls it at checkpoints, so reads must not
// depend on the registry lock or on the token still being registered.
type Token struct {
	flag atomic.Bool
}

// Signal marks the token cancelled. Idempotent.
func (t *Token) Signal() {
	t.flag.Store(true)
}

// Cancelled reports whether the token has been signalled.
func (t *Token) Cancelled() bool {
	return t.flag.Load()
}

// Registry maps running job ids to their tokens. Process-local: after a
// crash, in-flight jobs are only discoverable through their persisted status.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[string]*Token)}
}

// Register creates and tracks a fresh token for jobID, replacing any
// previous one.
func (r *Registry) Register(jobID string) *Token {
	t := &Token{}
	r.mu.Lock()
	r.tokens[jobID] = t
	r.mu.Unlock()
	return t
}

// Lookup returns jobID's live token, if any.
func (r *Registry) Lookup(jobID string) (*Token, bool) {
	r.mu.Lock()
	t, ok := r.tokens[jobID]
	r.mu.Unlock()
	return t, ok
}

// Signal cancels jobID and reports whether a live token existed. False means
// the job is not running in this process; callers fall back to the persisted
// status.
func (r *Registry) Signal(jobID string) bool {
	r.mu.Lock()
	t, ok := r.tokens[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.Signal()
	return true
}

// SignalAll cancels every registered job and returns their ids, sorted.
func (r *Registry) SignalAll() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tokens))
	for id, t := range r.tokens {
		t.Signal()
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Unregister forgets jobID's token. Safe for unknown ids; a caller already
// holding the token can keep reading it.
func (r *Registry) Unregister(jobID string) {
	r.mu.Lock()
	delete(r.tokens, jobID)
	r.mu.Unlock()
}
