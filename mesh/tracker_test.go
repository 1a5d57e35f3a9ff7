package mesh

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack_Rotary(t *testing.T) {
	cfg := DefaultTrackerConfig()
	ts := time.Unix(1700000000, 0)

	pose, err := cfg.Track(ControllerStatus{RawAxisValues: []float64{1.2, 7}, ReceivedAt: ts})
	require.NoError(t, err)
	angle, ok := pose.Angle()
	require.True(t, ok)
	assert.InDelta(t, 120, angle, 1e-9)
	assert.Nil(t, pose.LinearOffsetMM)
	assert.Equal(t, ts, pose.Timestamp)

	pose, err = cfg.Track(ControllerStatus{RawAxisValues: []float64{4.5}})
	require.NoError(t, err)
	angle, _ = pose.Angle()
	assert.InDelta(t, 90, angle, 1e-9, "450° wraps")
	assert.False(t, pose.Timestamp.IsZero())

	pose, err = cfg.Track(ControllerStatus{RawAxisValues: []float64{-0.1}})
	require.NoError(t, err)
	angle, _ = pose.Angle()
	assert.InDelta(t, 350, angle, 1e-9)
}

func TestTrack_Linear(t *testing.T) {
	cfg := DefaultTrackerConfig()
	cfg.Mode = ModeLinear

	pose, err := cfg.Track(ControllerStatus{RawAxisValues: []float64{0, 2.5}})
	require.NoError(t, err)
	off, ok := pose.Offset()
	require.True(t, ok)
	assert.InDelta(t, 25, off, 1e-9)
	assert.Nil(t, pose.AngleDeg)
}

func TestTrack_NoPose(t *testing.T) {
	cfg := DefaultTrackerConfig()

	tests := []struct {
		name   string
		values []float64
	}{
		{"no axes", nil},
		{"NaN", []float64{math.NaN()}},
		{"Inf", []float64{math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cfg.Track(ControllerStatus{RawAxisValues: tt.values})
			assert.True(t, errors.Is(err, ErrNoPose))
		})
	}

	linear := cfg
	linear.Mode = ModeLinear
	_, err := linear.Track(ControllerStatus{RawAxisValues: []float64{1}})
	assert.ErrorIs(t, err, ErrNoPose, "linear axis 1 missing")

	bogus := cfg
	bogus.Mode = "helical"
	_, err = bogus.Track(ControllerStatus{RawAxisValues: []float64{1}})
	assert.ErrorIs(t, err, ErrNoPose)
}

func TestPoseDelta(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 20, PoseDelta(RotaryPose(350, now), RotaryPose(10, now)), 1e-9)
	assert.InDelta(t, 2.5, PoseDelta(LinearPose(10, now), LinearPose(7.5, now)), 1e-9)
	assert.True(t, math.IsInf(PoseDelta(Pose{}, RotaryPose(10, now)), 1))
	assert.True(t, math.IsInf(PoseDelta(Pose{}, LinearPose(10, now)), 1))
	assert.Equal(t, 0.0, PoseDelta(RotaryPose(10, now), Pose{}))
}

// ---------------------------------------------------------------------------
// PositionTracker
// ---------------------------------------------------------------------------

func TestPositionTracker_Update(t *testing.T) {
	tr := NewPositionTracker(DefaultTrackerConfig())

	_, err := tr.Update(ControllerStatus{MachineState: "Alarm"})
	assert.ErrorIs(t, err, ErrNoPose)
	assert.Equal(t, "Alarm", tr.MachineState(), "state is kept even without a pose")
	_, ok := tr.Current()
	assert.False(t, ok)

	pose, err := tr.Update(ControllerStatus{RawAxisValues: []float64{0.5}, MachineState: "Idle"})
	require.NoError(t, err)
	cur, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, pose, cur)
	assert.Equal(t, 1, tr.Updates())
	assert.Equal(t, "Idle", tr.MachineState())
}

func TestPositionTracker_WaitForChange(t *testing.T) {
	tr := NewPositionTracker(DefaultTrackerConfig())
	start, err := tr.Update(ControllerStatus{RawAxisValues: []float64{0}})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = tr.Update(ControllerStatus{RawAxisValues: []float64{0.001}}) // 0.1°, below threshold
		time.Sleep(10 * time.Millisecond)
		_, _ = tr.Update(ControllerStatus{RawAxisValues: []float64{0.1}})
	}()

	pose, err := tr.WaitForChange(context.Background(), start, 0.5, 2*time.Second)
	require.NoError(t, err)
	angle, _ := pose.Angle()
	assert.InDelta(t, 10, angle, 1e-9)
}

func TestPositionTracker_WaitForChange_AlreadyMoved(t *testing.T) {
	tr := NewPositionTracker(DefaultTrackerConfig())
	_, err := tr.Update(ControllerStatus{RawAxisValues: []float64{0.2}})
	require.NoError(t, err)

	_, err = tr.WaitForChange(context.Background(), RotaryPose(0, time.Now()), 0.5, time.Millisecond)
	assert.NoError(t, err)
}

func TestPositionTracker_WaitForChange_Timeout(t *testing.T) {
	tr := NewPositionTracker(DefaultTrackerConfig())
	start, err := tr.Update(ControllerStatus{RawAxisValues: []float64{0}})
	require.NoError(t, err)

	pose, err := tr.WaitForChange(context.Background(), start, 0.5, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrMoveTimeout)
	assert.Equal(t, start, pose, "latest pose is returned on timeout")
}

func TestPositionTracker_WaitForChange_Cancelled(t *testing.T) {
	tr := NewPositionTracker(DefaultTrackerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.WaitForChange(ctx, Pose{}, 0.5, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
