package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/telemetry"
	"github.com/hostelcast/livesession/pkg/apperr"
)

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// PostgresStore keeps one JSONB record per session in live_sessions.
// Update holds a row lock (SELECT ... FOR UPDATE) for the duration of the mutation.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

// Create inserts a new session record.
func (r *PostgresStore) Create(ctx context.Context, s *models.LiveSession) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	const q = `INSERT INTO live_sessions (id, created_at, status, record) VALUES ($1, $2, $3, $4)`
	_, err = r.pool.Exec(ctx, q, s.ID, s.CreatedAt, string(s.Status), string(raw))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperr.Conflict("session %s already exists", s.ID)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns the session or nil when absent.
func (r *PostgresStore) Get(ctx context.Context, id string) (*models.LiveSession, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT record FROM live_sessions WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return decode(raw)
}

// Update locks the row, applies fn and writes the record back in one transaction.
func (r *PostgresStore) Update(ctx context.Context, id string, fn Mutation) (*models.LiveSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("set lock_timeout: %w", err)
	}

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT record FROM live_sessions WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("session %s not found", id)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			telemetry.Busy()
			return nil, apperr.Busy(id)
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}
	s, err := decode(raw)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	out, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	const q = `UPDATE live_sessions SET status = $1, record = $2, updated_at = NOW() WHERE id = $3`
	if _, err := tx.Exec(ctx, q, string(s.Status), string(out), id); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil
}

// List returns all sessions ordered by created_at descending.
func (r *PostgresStore) List(ctx context.Context) ([]*models.LiveSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT record FROM live_sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var list []*models.LiveSession
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		s, err := decode(raw)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func decode(raw []byte) (*models.LiveSession, error) {
	var s models.LiveSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
