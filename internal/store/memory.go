package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/apperr"
)

// entry pairs a one-slot lock with the last committed snapshot. Readers load
// the snapshot without taking the lock.
type entry struct {
	lock    chan struct{}
	current atomic.Pointer[models.LiveSession]
}

func (e *entry) acquire(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case e.lock <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *entry) release() { <-e.lock }

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	lockTimeout time.Duration
}

// NewMemoryStore creates an in-memory store. lockTimeout <= 0 uses DefaultLockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{sessions: make(map[string]*entry), lockTimeout: lockTimeout}
}

// Create inserts a new session.
func (m *MemoryStore) Create(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return apperr.Conflict("session %s already exists", s.ID)
	}
	e := &entry{lock: make(chan struct{}, 1)}
	e.current.Store(s.Clone())
	m.sessions[s.ID] = e
	return nil
}

// Get returns a copy of the last committed snapshot.
func (m *MemoryStore) Get(_ context.Context, id string) (*models.LiveSession, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, nil
	}
	return view(e.current.Load()), nil
}

// Update serializes fn with every other update of the same session.
func (m *MemoryStore) Update(ctx context.Context, id string, fn Mutation) (*models.LiveSession, error) {
	e := m.lookup(id)
	if e == nil {
		return nil, apperr.NotFound("session %s not found", id)
	}
	if !e.acquire(ctx, m.lockTimeout) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		telemetry.Busy()
		return nil, apperr.Busy(id)
	}
	defer e.release()

	next := fork(e.current.Load())
	if err := fn(next); err != nil {
		return nil, err
	}
	e.current.Store(next)
	return view(next), nil
}

// List returns copies of all sessions ordered by CreatedAt descending.
func (m *MemoryStore) List(_ context.Context) ([]*models.LiveSession, error) {
	m.mu.RLock()
	list := make([]*models.LiveSession, 0, len(m.sessions))
	for _, e := range m.sessions {
		list = append(list, view(e.current.Load()))
	}
	m.mu.RUnlock()
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

func (m *MemoryStore) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Chat history is append-only and only grows under the session lock, so
// snapshots share one message array. fork keeps the spare capacity for the
// mutation holding the lock; view caps it so an append on a reader's copy
// reallocates instead of writing past a committed length.
func fork(s *models.LiveSession) *models.LiveSession {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Viewers = append([]models.Viewer(nil), s.Viewers...)
	return &c
}

func view(s *models.LiveSession) *models.LiveSession {
	c := fork(s)
	c.Messages = s.Messages[:len(s.Messages):len(s.Messages)]
	return c
}
