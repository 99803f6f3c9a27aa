package player

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time.
type Clock func() time.Time

// Registry tracks which players are live and when each last sent a heartbeat.
// It is the single source of truth for connected players; a coarse mutex guards the
// whole map.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]time.Time // player id → last heartbeat
	now     Clock
	logger  *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now as the registry's time source.
func WithClock(c Clock) RegistryOption {
	return func(r *Registry) { r.now = c }
}

// NewRegistry creates an empty Registry.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]time.Time),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts id or refreshes its heartbeat.
func (r *Registry) Register(id string) {
	id = CanonicalID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.entries[id]
	r.entries[id] = r.now()
	if !existed {
		r.logger.Info("player registered", zap.String("player_id", id))
	}
}

// Touch refreshes the heartbeat of an existing entry.
//
// Postcondition: returns false and changes nothing when id is not registered.
func (r *Registry) Touch(id string) bool {
	id = CanonicalID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	r.entries[id] = r.now()
	return true
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	id = CanonicalID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	r.logger.Info("player removed", zap.String("player_id", id))
	return true
}

// Sweep evicts every entry whose last heartbeat is more than timeout ago and returns
// the evicted ids in sorted order.
func (r *Registry) Sweep(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var evicted []string
	for id, last := range r.entries {
		if idle := now.Sub(last); idle > timeout {
			delete(r.entries, id)
			evicted = append(evicted, id)
			r.logger.Warn("removing player due to heartbeat timeout",
				zap.String("player_id", id),
				zap.Duration("idle", idle),
				zap.Duration("timeout", timeout),
			)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	id = CanonicalID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}

// LastHeartbeat returns the last heartbeat time of id.
func (r *Registry) LastHeartbeat(id string) (time.Time, bool) {
	id = CanonicalID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[id]
	return t, ok
}

// IDs returns the registered player ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered players.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
