package media

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hostelcast/livesession/internal/models"
)

type countingCapturer struct {
	mu       sync.Mutex
	acquired map[Device]int
	released map[Device]int
}

func newCountingCapturer() *countingCapturer {
	return &countingCapturer{acquired: map[Device]int{}, released: map[Device]int{}}
}

type countingHandle struct {
	c *countingCapturer
	d Device
}

func (h countingHandle) Device() Device { return h.d }

func (h countingHandle) Release() error {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.released[h.d]++
	return nil
}

func (c *countingCapturer) Acquire(_ string, d Device) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired[d]++
	return countingHandle{c: c, d: d}, nil
}

func TestDesired(t *testing.T) {
	assert.Equal(t, []Device{DeviceCamera, DeviceMicrophone}, Desired(models.DefaultControlState()))
	assert.Equal(t, []Device{DeviceMicrophone, DeviceScreen}, Desired(models.ControlState{Video: true, Audio: true, Source: models.SourceScreen}))
	assert.Empty(t, Desired(models.ControlState{Source: models.SourceScreen}))
}

func TestApplySwitchesSource(t *testing.T) {
	c := newCountingCapturer()
	m := NewManager(c, zap.NewNop())

	m.Apply("s1", 0, models.DefaultControlState())
	assert.Equal(t, []Device{DeviceCamera, DeviceMicrophone}, m.Active("s1"))

	m.Apply("s1", 1, models.ControlState{Video: true, Audio: true, Source: models.SourceScreen})
	assert.Equal(t, []Device{DeviceMicrophone, DeviceScreen}, m.Active("s1"))
	assert.Equal(t, 1, c.released[DeviceCamera])
	assert.Equal(t, 1, c.acquired[DeviceMicrophone])
}

func TestApplyIgnoresStaleRevisions(t *testing.T) {
	m := NewManager(newCountingCapturer(), zap.NewNop())
	m.Apply("s1", 2, models.ControlState{Audio: true, Source: models.SourceCamera})
	m.Apply("s1", 1, models.DefaultControlState())
	assert.Equal(t, []Device{DeviceMicrophone}, m.Active("s1"))
}

func TestReleaseAllBlocksLaterApply(t *testing.T) {
	c := newCountingCapturer()
	m := NewManager(c, zap.NewNop())
	m.Apply("s1", 0, models.DefaultControlState())

	m.ReleaseAll("s1")
	assert.Empty(t, m.Active("s1"))
	assert.Equal(t, 1, c.released[DeviceCamera])
	assert.Equal(t, 1, c.released[DeviceMicrophone])

	m.Apply("s1", 5, models.DefaultControlState())
	assert.Empty(t, m.Active("s1"))
}

func TestEndedSessionsAreForgotten(t *testing.T) {
	m := NewManager(newCountingCapturer(), zap.NewNop())
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for _, id := range []string{"s1", "s2", "s3"} {
		m.Apply(id, 0, models.DefaultControlState())
		m.ReleaseAll(id)
	}
	assert.Empty(t, m.sessions)
	assert.Len(t, m.ended, 3)

	now = now.Add(2 * endedRetention)
	m.ReleaseAll("s4")
	assert.Len(t, m.ended, 1)
	assert.Contains(t, m.ended, "s4")
}

func TestCloseReleasesEverything(t *testing.T) {
	c := newCountingCapturer()
	m := NewManager(c, zap.NewNop())
	m.Apply("s1", 0, models.DefaultControlState())
	m.Apply("s2", 0, models.DefaultControlState())

	require.NoError(t, m.Close())
	assert.Equal(t, 2, c.released[DeviceCamera])
	assert.Empty(t, m.Active("s1"))
}

func TestPionCapturer(t *testing.T) {
	h, err := NewPionCapturer().Acquire("s1", DeviceMicrophone)
	require.NoError(t, err)
	th := h.(*TrackHandle)
	require.NotNil(t, th.Track())
	assert.Equal(t, "microphone", th.Track().ID())

	require.NoError(t, h.Release())
	assert.Nil(t, th.Track())
	assert.Error(t, h.Release())

	_, err = NewPionCapturer().Acquire("s1", Device("projector"))
	assert.Error(t, err)
}
