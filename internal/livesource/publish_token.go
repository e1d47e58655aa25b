package livesource

import "sync"

// PublishTokens enforces the single-publisher-per-stream-key invariant
// process-wide (spec.md §3 StreamPublishToken), independent of the
// Source/Registry above: a stream key can be claimed before its Source
// even exists (e.g. an edge ingester reserving the key while it dials
// upstream), so the token set is its own map rather than a field on
// Source. Acquire/Release never block — a mutex held only for a map
// mutation, matching the non-suspension invariant used throughout this
// package.
type PublishTokens struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewPublishTokens() *PublishTokens {
	return &PublishTokens{held: make(map[string]struct{})}
}

// Acquire claims key for the calling publisher. Returns false if another
// publisher already holds it.
func (t *PublishTokens) Acquire(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, held := t.held[key]; held {
		return false
	}
	t.held[key] = struct{}{}
	return true
}

// Release frees key so a subsequent publisher may acquire it.
func (t *PublishTokens) Release(key string) {
	t.mu.Lock()
	delete(t.held, key)
	t.mu.Unlock()
}

// Held reports whether key is currently claimed.
func (t *PublishTokens) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[key]
	return ok
}
