package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/media"
	"github.com/hostelcast/livesession/internal/models"
	"github.com/hostelcast/livesession/internal/realtime"
	"github.com/hostelcast/livesession/internal/store"
	"github.com/hostelcast/livesession/pkg/apperr"
)

type nopHandle struct{ d media.Device }

func (h nopHandle) Device() media.Device { return h.d }
func (h nopHandle) Release() error       { return nil }

type nopCapturer struct{}

func (nopCapturer) Acquire(_ string, d media.Device) (media.Handle, error) { return nopHandle{d: d}, nil }

func setup(t *testing.T) (*Synchronizer, *store.MemoryStore, *media.Manager) {
	t.Helper()
	st := store.NewMemoryStore(time.Second)
	require.NoError(t, st.Create(context.Background(), &models.LiveSession{
		ID:        "s1",
		Title:     "Rules Briefing",
		HostID:    "host-1",
		CreatedAt: time.Now().UTC(),
		Status:    models.SessionActive,
		Control:   models.DefaultControlState(),
	}))
	mm := media.NewManager(nopCapturer{}, zap.NewNop())
	mm.Apply("s1", 0, models.DefaultControlState())
	hub := realtime.NewHub(zap.NewNop(), nil, nil, 64)
	return NewSynchronizer(st, hub, mm, zap.NewNop()), st, mm
}

func TestChangeValidate(t *testing.T) {
	assert.NoError(t, Set(FieldVideo, false).Validate())
	assert.NoError(t, UseSource(models.SourceScreen).Validate())
	assert.True(t, errors.Is(Change{Field: FieldAudio}.Validate(), apperr.ErrValidation))
	assert.True(t, errors.Is(UseSource("projector").Validate(), apperr.ErrValidation))
	assert.True(t, errors.Is(Set("volume", true).Validate(), apperr.ErrValidation))
}

func TestScreenShareReplacesCamera(t *testing.T) {
	syn, _, mm := setup(t)
	ctx := context.Background()

	snap, err := syn.SetControl(ctx, "s1", "host-1", Set(FieldScreenShare, true))
	require.NoError(t, err)
	assert.Equal(t, models.SourceScreen, snap.State.Source)
	assert.True(t, snap.State.ScreenShare())
	assert.Equal(t, int64(1), snap.Rev)
	assert.Equal(t, []media.Device{media.DeviceMicrophone, media.DeviceScreen}, mm.Active("s1"))

	snap, err = syn.SetControl(ctx, "s1", "host-1", Set(FieldScreenShare, false))
	require.NoError(t, err)
	assert.Equal(t, models.SourceCamera, snap.State.Source)
	assert.Equal(t, []media.Device{media.DeviceCamera, media.DeviceMicrophone}, mm.Active("s1"))
}

func TestRepeatedValueStillAdvancesRevision(t *testing.T) {
	syn, _, _ := setup(t)
	ctx := context.Background()

	first, err := syn.SetControl(ctx, "s1", "host-1", Set(FieldVideo, true))
	require.NoError(t, err)
	second, err := syn.SetControl(ctx, "s1", "host-1", Set(FieldVideo, true))
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Rev+1, second.Rev)
}

func TestSetControlAuthorization(t *testing.T) {
	syn, st, _ := setup(t)
	ctx := context.Background()

	_, err := syn.SetControl(ctx, "s1", "viewer-9", Set(FieldAudio, false))
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	_, err = syn.SetControl(ctx, "missing", "host-1", Set(FieldAudio, false))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = st.Update(ctx, "s1", func(s *models.LiveSession) error {
		s.Status = models.SessionEnded
		return nil
	})
	require.NoError(t, err)

	_, err = syn.SetControl(ctx, "s1", "viewer-9", Set(FieldAudio, false))
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))
	_, err = syn.SetControl(ctx, "s1", "host-1", Set(FieldAudio, false))
	assert.True(t, errors.Is(err, apperr.ErrSessionEnded))

	snap, err := syn.GetControl(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, snap.State.Audio)
}

func TestConcurrentChangesAreSequenced(t *testing.T) {
	syn, _, _ := setup(t)
	ctx := context.Background()

	_, sub, err := syn.Subscribe(ctx, "s1")
	require.NoError(t, err)
	defer sub.Close()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := syn.SetControl(ctx, "s1", "host-1", Set(FieldRecording, i%2 == 0))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := syn.GetControl(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), final.Rev)

	var last realtime.Event
	for i := int64(1); i <= n; i++ {
		select {
		case ev := <-sub.C():
			assert.Equal(t, i, ev.Seq)
			last = ev
		case <-time.After(time.Second):
			t.Fatalf("missing control event %d", i)
		}
	}
	assert.Equal(t, realtime.EventControlState, last.Name)
}
