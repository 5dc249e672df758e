package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/pkg/apperr"
)

func setup(t *testing.T) (*Channel, *store.MemoryStore, *realtime.Hub) {
	t.Helper()
	st := store.NewMemoryStore(time.Second)
	s := &models.LiveSession{
		ID:        "s1",
		Title:     "Rules Briefing",
		HostID:    "host-1",
		HostName:  "Warden",
		CreatedAt: time.Now().UTC(),
		Status:    models.SessionActive,
		Control:   models.DefaultControlState(),
	}
	s.AddViewer(models.Viewer{ID: "v1", Name: "Asha", JoinedAt: s.CreatedAt, LastSeen: s.CreatedAt})
	require.NoError(t, st.Create(context.Background(), s))
	hub := realtime.NewHub(zap.NewNop(), nil, nil, 64)
	return NewChannel(st, hub, 20, zap.NewNop()), st, hub
}

func endSession(t *testing.T, st store.Store, id string) {
	t.Helper()
	_, err := st.Update(context.Background(), id, func(s *models.LiveSession) error {
		s.Status = models.SessionEnded
		return nil
	})
	require.NoError(t, err)
}

func TestPostAssignsSequentialIDs(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()

	m1, err := ch.Post(ctx, "s1", "Asha", "hello", models.MessageViewer)
	require.NoError(t, err)
	m2, err := ch.Post(ctx, "s1", "Asha", "  again  ", models.MessageViewer)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m1.ID)
	assert.Equal(t, int64(2), m2.ID)
	assert.Equal(t, "again", m2.Text)
	assert.False(t, m2.Timestamp.Before(m1.Timestamp))
}

func TestPostValidation(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()

	_, err := ch.Post(ctx, "s1", "Asha", "   ", models.MessageViewer)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = ch.Post(ctx, "s1", "Asha", "hi", models.MessageKind("shout"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = ch.Post(ctx, "s1", "Asha", "this message is far too long", models.MessageViewer)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = ch.Post(ctx, "s1", "Asha", "bad \xff bytes", models.MessageViewer)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = ch.Post(ctx, "missing", "Asha", "hi", models.MessageViewer)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPostOnEndedSession(t *testing.T) {
	ch, st, _ := setup(t)
	ctx := context.Background()
	_, err := ch.Post(ctx, "s1", "Asha", "before", models.MessageViewer)
	require.NoError(t, err)
	endSession(t, st, "s1")

	_, err = ch.Post(ctx, "s1", "Asha", "after", models.MessageViewer)
	assert.True(t, errors.Is(err, apperr.ErrSessionEnded))

	history, err := ch.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "before", history[0].Text)
}

func TestPostAsViewerUsesViewerName(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()

	msg, err := ch.PostAsViewer(ctx, "s1", "v1", "hi all")
	require.NoError(t, err)
	assert.Equal(t, "Asha", msg.Sender)
	assert.Equal(t, "v1", msg.SenderID)
	assert.Equal(t, models.MessageViewer, msg.Kind)

	_, err = ch.PostAsViewer(ctx, "s1", "ghost", "hi")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestPostAsHost(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()

	msg, err := ch.PostAsHost(ctx, "s1", "host-1", "welcome")
	require.NoError(t, err)
	assert.Equal(t, "Warden", msg.Sender)
	assert.Equal(t, models.MessageHost, msg.Kind)

	_, err = ch.PostAsHost(ctx, "s1", "v1", "impostor")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestModerateAppendsNotice(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()
	bad, err := ch.PostAsViewer(ctx, "s1", "v1", "spam")
	require.NoError(t, err)

	notice, err := ch.Moderate(ctx, "s1", "host-1", bad.ID, "spam")
	require.NoError(t, err)
	require.NotNil(t, notice.RefID)
	assert.Equal(t, bad.ID, *notice.RefID)
	assert.Equal(t, models.MessageSystem, notice.Kind)

	history, err := ch.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "spam", history[0].Text)

	_, err = ch.Moderate(ctx, "s1", "host-1", 99, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = ch.Moderate(ctx, "s1", "v1", bad.ID, "")
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
}

func TestConcurrentPostsHaveDistinctContiguousIDs(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := ch.Post(ctx, "s1", "Asha", "x", models.MessageViewer)
			if assert.NoError(t, err) {
				ids <- m.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing id %d", i)
	}
}

func TestSubscribeDeliversLaterMessagesOnce(t *testing.T) {
	ch, _, _ := setup(t)
	ctx := context.Background()
	_, err := ch.Post(ctx, "s1", "Asha", "first", models.MessageViewer)
	require.NoError(t, err)

	history, sub, err := ch.Subscribe(ctx, "s1")
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, history, 1)

	_, err = ch.Post(ctx, "s1", "Asha", "second", models.MessageViewer)
	require.NoError(t, err)

	select {
	case ev := <-sub.C():
		assert.Equal(t, int64(2), ev.Seq)
		assert.Equal(t, realtime.EventChatMessage, ev.Name)
	case <-time.After(time.Second):
		t.Fatal("no chat event")
	}
}

func TestAppendKeepsTimestampsMonotonic(t *testing.T) {
	s := &models.LiveSession{ID: "s1"}
	now := time.Now()
	first := Append(s, "a", "", "one", models.MessageViewer, now)
	second := Append(s, "a", "", "two", models.MessageViewer, now.Add(-time.Minute))
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, int64(2), s.LastMessageID)
}
