package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/chat"
	"github.com/hostelcast/livesession/internal/control"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/presence"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/sessions"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/pkg/apperr"
)

func TestRulesBriefingScenario(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	st := store.NewMemoryStore(time.Second)
	hub := realtime.NewHub(log, nil, nil, 64)

	mgr := sessions.NewManager(st, hub, log)
	tracker := presence.NewTracker(st, hub, 30*time.Second, log)
	tracker.SetAnnounce(true)
	ch := chat.NewChannel(st, hub, 0, log)
	ctl := control.NewSynchronizer(st, hub, nil, log)

	host := models.Host{ID: "host-1", Name: "Warden"}
	s, err := mgr.StartSession(ctx, "Rules Briefing", "", host)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, 0, s.ViewerCount)

	asha, err := tracker.Join(ctx, s.ID, "Asha")
	require.NoError(t, err)
	got, err := mgr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ViewerCount)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.MessageSystem, got.Messages[0].Kind)

	_, err = ch.PostAsViewer(ctx, s.ID, asha.ID, "Can you hear me?")
	require.NoError(t, err)
	history, err := ch.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.MessageViewer, history[1].Kind)
	assert.Equal(t, "Asha", history[1].Sender)

	snap, sub, err := ctl.Subscribe(ctx, s.ID)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, models.SourceCamera, snap.State.Source)

	_, err = ctl.SetControl(ctx, s.ID, host.ID, control.UseSource(models.SourceScreen))
	require.NoError(t, err)
	select {
	case ev := <-sub.C():
		assert.Equal(t, realtime.EventControlState, ev.Name)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not see the source change")
	}
	current, err := ctl.GetControl(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceScreen, current.State.Source)

	_, err = mgr.EndSession(ctx, s.ID)
	require.NoError(t, err)

	_, err = tracker.Join(ctx, s.ID, "Bo")
	assert.True(t, errors.Is(err, apperr.ErrSessionEnded))
	_, err = ch.Post(ctx, s.ID, "Asha", "still there?", models.MessageViewer)
	assert.True(t, errors.Is(err, apperr.ErrSessionEnded))
	_, err = ctl.SetControl(ctx, s.ID, host.ID, control.Set(control.FieldAudio, false))
	assert.True(t, errors.Is(err, apperr.ErrSessionEnded))

	history, err = ch.History(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	viewers, err := tracker.Viewers(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, viewers.ViewerCount)
}
