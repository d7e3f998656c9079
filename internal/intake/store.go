package intake

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a user.
var ErrSessionNotFound = errors.New("intake: session not found")

// Store maps user IDs to sessions. Implementations serialize mutations per
// key and must not let one user's mutation wait on another's.
type Store interface {
	// Create starts a fresh session, overwriting any existing one.
	Create(ctx context.Context, userID string, p Profile, now time.Time) (Session, error)
	// Get returns a copy of the user's session or ErrSessionNotFound.
	Get(ctx context.Context, userID string) (Session, error)
	// Update applies fn atomically. If fn returns an error the stored session
	// is left unchanged and the error is returned.
	Update(ctx context.Context, userID string, fn func(*Session) error) (Session, error)
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error
	// DeleteIf removes the session only if cond holds for its current value.
	// The check and the removal are one atomic step against Update. It
	// reports whether the session was removed.
	DeleteIf(ctx context.Context, userID string, cond func(Session) bool) (bool, error)
	// List returns copies of all sessions.
	List(ctx context.Context) ([]Session, error)
}

// entry holds one user's session behind its own lock.
type entry struct {
	mu      sync.Mutex
	session Session
	deleted bool
}

// MemoryStore is an in-process Store. The map lock only guards lookups and
// insertions; mutators run under the per-user entry lock.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, userID string, p Profile, now time.Time) (Session, error) {
	s := NewSession(userID, p, now)
	e := &entry{session: s}

	m.mu.Lock()
	old := m.entries[userID]
	m.entries[userID] = e
	m.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.deleted = true
		old.mu.Unlock()
	}
	return s.Clone(), nil
}

func (m *MemoryStore) lookup(userID string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[userID]
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, userID string) (Session, error) {
	e := m.lookup(userID)
	if e == nil {
		return Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Session{}, ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, userID string, fn func(*Session) error) (Session, error) {
	e := m.lookup(userID)
	if e == nil {
		return Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Session{}, ErrSessionNotFound
	}
	work := e.session.Clone()
	if err := fn(&work); err != nil {
		return Session{}, err
	}
	e.session = work
	return work.Clone(), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	e := m.entries[userID]
	delete(m.entries, userID)
	m.mu.Unlock()

	if e != nil {
		e.mu.Lock()
		e.deleted = true
		e.mu.Unlock()
	}
	return nil
}

// DeleteIf implements Store.
func (m *MemoryStore) DeleteIf(_ context.Context, userID string, cond func(Session) bool) (bool, error) {
	e := m.lookup(userID)
	if e == nil {
		return false, nil
	}
	e.mu.Lock()
	if e.deleted || !cond(e.session.Clone()) {
		e.mu.Unlock()
		return false, nil
	}
	e.deleted = true
	e.mu.Unlock()

	m.mu.Lock()
	// A concurrent Create may already have installed a new entry.
	if m.entries[userID] == e {
		delete(m.entries, userID)
	}
	m.mu.Unlock()
	return true, nil
}

// List implements Store. Sessions are ordered by creation time.
func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.session.Clone())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
