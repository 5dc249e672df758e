// Package store holds keyed records of live sessions. It applies no business
// rules; it only guarantees that updates to one session are serialized and
// that readers observe whole records.
package store

import (
	"context"
	"time"

	"github.com/hostelcast/livesession/internal/models"
)

// DefaultLockTimeout bounds how long Update waits for a session's lock.
const DefaultLockTimeout = 2 * time.Second

// Mutation edits a private copy of a session. Returning an error discards the copy.
// Chat messages may only be appended; existing entries are shared with
// committed snapshots and must not be modified in place.
type Mutation func(s *models.LiveSession) error

// Store is the session record store.
type Store interface {
	// Create fails with apperr.ErrConflict when the id already exists.
	Create(ctx context.Context, s *models.LiveSession) error
	// Get returns nil, nil when the session is absent. Callers must treat the
	// returned Messages as read-only.
	Get(ctx context.Context, id string) (*models.LiveSession, error)
	// Update runs fn under the session's lock and commits the result atomically.
	// It fails with apperr.ErrNotFound when absent and apperr.ErrBusy when the
	// lock is not acquired within the lock timeout.
	Update(ctx context.Context, id string, fn Mutation) (*models.LiveSession, error)
	// List returns all sessions, newest first.
	List(ctx context.Context) ([]*models.LiveSession, error)
}
