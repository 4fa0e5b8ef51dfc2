package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/callbroker/pkg/types"
)

// ErrCallExists is returned by Registry.Create when id is already registered
// and its session has not yet ended.
var ErrCallExists = errors.New("broker: call already exists")

// ErrCallNotFound is returned by Registry.Get/Remove for an unknown id.
var ErrCallNotFound = errors.New("broker: call not found")

// Registry is the in-memory call table: it owns every live Session and
// evicts a session once it reaches CallEnded. Safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[types.CallID]*Session
	reconnectGrace time.Duration
	egressCapacity int
}

// RegistryOption configures a [Registry] at construction time.
type RegistryOption func(*Registry)

// WithRegistryEgressQueueCapacity overrides the bounded per-leg egress queue
// capacity every session this registry creates is built with. Default
// [DefaultEgressQueueCapacity].
func WithRegistryEgressQueueCapacity(n int) RegistryOption {
	return func(r *Registry) { r.egressCapacity = n }
}

// NewRegistry creates an empty Registry. reconnectGrace is the default
// per-session draining grace period; zero selects DefaultReconnectGrace.
func NewRegistry(reconnectGrace time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:       make(map[types.CallID]*Session),
		reconnectGrace: reconnectGrace,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create registers a new session for id in CallForming state. Returns
// ErrCallExists if id is already registered.
func (r *Registry) Create(id types.CallID) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, ErrCallExists
	}

	sess := NewSession(id, r.reconnectGrace, r.evict, WithEgressQueueCapacity(r.egressCapacity))
	r.sessions[id] = sess
	return sess, nil
}

// GetOrCreate returns the existing session for id, or creates one if none
// exists yet. This is the entry point a leg's first attach uses, since
// either leg may be the one that establishes the call.
func (r *Registry) GetOrCreate(id types.CallID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		return sess
	}
	sess := NewSession(id, r.reconnectGrace, r.evict, WithEgressQueueCapacity(r.egressCapacity))
	r.sessions[id] = sess
	return sess
}

// Get returns the session for id, or ErrCallNotFound.
func (r *Registry) Get(id types.CallID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrCallNotFound
	}
	return sess, nil
}

// List returns a CallStatus snapshot for every live session.
func (r *Registry) List() []types.CallStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.CallStatus, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.Status())
	}
	return out
}

// Len returns the number of sessions currently registered, for metrics and
// health reporting.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// evict removes id from the registry. It is wired as the onEnded callback
// every session created by this registry invokes when it reaches CallEnded.
func (r *Registry) evict(id types.CallID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
