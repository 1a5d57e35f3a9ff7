package mesh

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scanFixture wires a rotary scanner against a simulated turntable.
// Each move advances the table 120°.
func scanFixture(t *testing.T, frames ...image.Image) (*Scanner, *SimulatedController, *PositionTracker) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Scanner.Frames = len(frames)
	cfg.Scanner.Step = 1.2
	cfg.Scanner.MoveTimeout = 50 * time.Millisecond
	cfg.RANSAC = seededRANSAC(7)

	tracker := NewPositionTracker(cfg.Tracker)
	sim := NewSimulatedController(3, tracker)
	sim.Publish()

	return NewScanner(cfg, tracker, NewSliceFrameSource(frames...), sim), sim, tracker
}

func diagonalFrame() image.Image {
	return stripeFrame(320, 240, 0.25, 60, 5)
}

func TestScanner_ThreeFrames(t *testing.T) {
	scanner, sim, _ := scanFixture(t, diagonalFrame(), diagonalFrame(), diagonalFrame())

	var events []FrameEvent
	scanner.SetHook(func(ev FrameEvent) { events = append(events, ev) })

	require.NoError(t, scanner.Run(context.Background()))

	records := scanner.Accumulator().Snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, 2, sim.Moves(), "no move before the first frame")

	for i, want := range []float64{0, 120, 240} {
		angle, ok := records[i].Pose.Angle()
		require.True(t, ok)
		assert.InDelta(t, want, angle, 1e-6, "record %d", i)
		assert.Equal(t, i, records[i].FrameIndex)

		require.Len(t, records[i].Stripes, 2, "one stripe per channel")
		red := records[i].Stripes[0]
		assert.Equal(t, "red", red.Channel)
		assert.NotEmpty(t, red.Pixels)
		assert.Len(t, red.Points, len(red.Pixels), "every pixel is inside the envelope")
		assert.Empty(t, records[i].Stripes[1].Points, "no green laser in the frames")
	}

	st := scanner.Stats()
	assert.Equal(t, 3, st.Records)
	assert.Equal(t, 3, st.Iterations)
	assert.Equal(t, 3, st.FitFailures["green"])
	assert.False(t, st.Running)
	assert.Equal(t, scanner.Accumulator().PointCount(), st.PointsKept)

	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, OutcomeRecorded, ev.Outcome)
		assert.NotNil(t, ev.Record)
		assert.Equal(t, scanner.Accumulator().ID().String(), ev.SessionID)
	}
	assert.Equal(t, 3, events[2].Records)

	cal := scanner.Reconstructor().Calibration
	assert.True(t, cal.Established)
	assert.Equal(t, 160.0, cal.CenterCol)
	assert.Equal(t, 240.0, cal.BaselineRow)

	m, _, err := BuildMeshFromRecords(records, DefaultMeshConfig())
	if err != nil {
		assert.True(t, errors.Is(err, ErrInsufficientData), "unexpected mesh error: %v", err)
	} else {
		assertNoDegenerate(t, m)
	}
}

func TestScanner_AcquisitionGap(t *testing.T) {
	scanner, _, _ := scanFixture(t, diagonalFrame(), nil, diagonalFrame())

	var outcomes []string
	scanner.SetHook(func(ev FrameEvent) { outcomes = append(outcomes, ev.Outcome) })
	require.NoError(t, scanner.Run(context.Background()))

	assert.Equal(t, []string{OutcomeRecorded, OutcomeAcquisitionGap, OutcomeRecorded}, outcomes)
	assert.Equal(t, 2, scanner.Accumulator().Len())
	assert.Equal(t, 1, scanner.Stats().AcquisitionGaps)

	records := scanner.Accumulator().Snapshot()
	angle, _ := records[1].Pose.Angle()
	assert.InDelta(t, 240, angle, 1e-6, "the gap frame's pose is skipped, not reused")
}

func TestScanner_MoveTimeout(t *testing.T) {
	scanner, sim, _ := scanFixture(t, diagonalFrame(), diagonalFrame(), diagonalFrame())
	sim.DropMoves(true)

	var outcomes []string
	scanner.SetHook(func(ev FrameEvent) { outcomes = append(outcomes, ev.Outcome) })
	require.NoError(t, scanner.Run(context.Background()))

	assert.Equal(t, []string{OutcomeRecorded, OutcomeMoveTimeout, OutcomeMoveTimeout}, outcomes)
	assert.Equal(t, 2, scanner.Stats().MoveTimeouts)
	assert.Equal(t, 1, scanner.Accumulator().Len())
}

func TestScanner_NoPose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scanner.Frames = 2
	cfg.RANSAC = seededRANSAC(3)
	tracker := NewPositionTracker(cfg.Tracker)

	scanner := NewScanner(cfg, tracker, NewSliceFrameSource(diagonalFrame(), diagonalFrame()), nil)
	require.NoError(t, scanner.Run(context.Background()))

	assert.Equal(t, 0, scanner.Accumulator().Len())
	assert.Equal(t, 2, scanner.Stats().NoPose)
}

func TestScanner_SourceExhausted(t *testing.T) {
	scanner, _, _ := scanFixture(t, diagonalFrame())
	scanner.cfg.Frames = 0 // run until the source ends

	require.NoError(t, scanner.Run(context.Background()))
	assert.Equal(t, 1, scanner.Accumulator().Len())
}

func TestScanner_PresetCalibration(t *testing.T) {
	scanner, _, _ := scanFixture(t, diagonalFrame())
	preset := Calibration{CenterCol: 100, BaselineRow: 200, FrameWidth: 320, FrameHeight: 240, Established: true}
	scanner.SetCalibration(preset)

	require.NoError(t, scanner.Run(context.Background()))
	assert.Equal(t, preset, scanner.Reconstructor().Calibration, "a fitting calibration is kept")
}

func TestScanner_PresetCalibration_SizeMismatch(t *testing.T) {
	scanner, _, _ := scanFixture(t, diagonalFrame())
	scanner.SetCalibration(Calibration{CenterCol: 320, BaselineRow: 480, FrameWidth: 640, FrameHeight: 480, Established: true})

	require.NoError(t, scanner.Run(context.Background()))

	cal := scanner.Reconstructor().Calibration
	assert.True(t, cal.Established)
	assert.Equal(t, 320, cal.FrameWidth)
	assert.Equal(t, 240, cal.FrameHeight)
	assert.Equal(t, 160.0, cal.CenterCol)
	assert.Equal(t, 240.0, cal.BaselineRow)
	assert.Equal(t, 1, scanner.Accumulator().Len())
}

func TestScanner_PresetCalibration_ConfigWins(t *testing.T) {
	scanner, _, _ := scanFixture(t, diagonalFrame())
	scanner.Reconstructor().Config.CenterCol = 300
	scanner.SetCalibration(Calibration{CenterCol: 160, BaselineRow: 240, FrameWidth: 320, FrameHeight: 240, Established: true})

	require.NoError(t, scanner.Run(context.Background()))

	cal := scanner.Reconstructor().Calibration
	assert.Equal(t, 300.0, cal.CenterCol, "configured centre column overrides the cache")
	assert.Equal(t, 240.0, cal.BaselineRow)

	p, ok := ProjectPixel(RotaryPose(0, time.Now()), cal, scanner.Reconstructor().Config, PixelPoint{X: 300, Y: 100})
	require.True(t, ok)
	assert.InDelta(t, 0, math.Hypot(p.X, p.Z), 1e-9, "pixel on the configured axis has zero radius")
}

func TestScanner_Cancelled(t *testing.T) {
	scanner, _, _ := scanFixture(t, diagonalFrame(), diagonalFrame())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, scanner.Run(ctx))
	assert.Equal(t, 0, scanner.Accumulator().Len())
}

func TestScanner_NoFrameSource(t *testing.T) {
	cfg := DefaultConfig()
	scanner := NewScanner(cfg, NewPositionTracker(cfg.Tracker), nil, nil)
	assert.Error(t, scanner.Run(context.Background()))
}
