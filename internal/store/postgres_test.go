package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/pkg/apperr"
	"github.com/hostelcast/livesession/pkg/database"
)

func testPool(t *testing.T) *pgxpool.Pool {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(ctx, pool))
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRoundTrip(t *testing.T) {
	st := NewPostgresStore(testPool(t), 200*time.Millisecond)
	ctx := context.Background()
	id := uuid.NewString()
	s := newSession(id, time.Now().UTC().Truncate(time.Microsecond))
	s.Control = models.DefaultControlState()
	require.NoError(t, st.Create(ctx, s))
	assert.True(t, errors.Is(st.Create(ctx, s), apperr.ErrConflict))

	updated, err := st.Update(ctx, id, func(s *models.LiveSession) error {
		s.AddViewer(models.Viewer{ID: "v1", Name: "Asha"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ViewerCount)

	got, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Asha", got.Viewers[0].Name)
	assert.Equal(t, models.SourceCamera, got.Control.Source)

	missing, err := st.Get(ctx, uuid.NewString())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPostgresUpdateBusy(t *testing.T) {
	st := NewPostgresStore(testPool(t), 50*time.Millisecond)
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, st.Create(ctx, newSession(id, time.Now())))

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = st.Update(ctx, id, func(*models.LiveSession) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding
	_, err := st.Update(ctx, id, func(*models.LiveSession) error { return nil })
	assert.True(t, errors.Is(err, apperr.ErrBusy))
	close(done)
}
