package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gaspardpetit/skybridge/internal/upstream"
)

// ErrDuplicateRegistration means a correlation ID was registered twice.
// Correlation IDs are fresh UUIDs, so this indicates a leaked entry.
var ErrDuplicateRegistration = errors.New("session: correlation id already registered")

// Entry is the registry record for one in-flight operation.
type Entry struct {
	CorrelationID string
	Snapshot      SessionData
	Credentials   *CredentialHolder
}

// Registry is the table upstream clients consult to find the session for
// their correlation ID. Entries are only added through Register, whose
// release func is the only way they are removed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register inserts e and returns the func that removes it. Release is safe
// to call any number of times; only the first call removes the entry.
func (r *Registry) Register(e Entry) (release func(), err error) {
	if e.CorrelationID == "" || e.Credentials == nil {
		return nil, errors.New("session: incomplete registry entry")
	}
	r.mu.Lock()
	if _, exists := r.entries[e.CorrelationID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRegistration, e.CorrelationID)
	}
	r.entries[e.CorrelationID] = e
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.entries, e.CorrelationID)
			r.mu.Unlock()
		})
	}, nil
}

// ResolveSession implements upstream.SessionResolver.
func (r *Registry) ResolveSession(correlationID string) (*upstream.Session, bool) {
	r.mu.RLock()
	e, ok := r.entries[correlationID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &upstream.Session{
		AccountID:   e.Snapshot.AccountID,
		Handle:      e.Snapshot.Handle,
		Credentials: e.Credentials,
	}, true
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
