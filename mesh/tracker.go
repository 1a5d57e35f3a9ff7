package mesh

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// TrackerConfig maps raw controller axes onto physical quantities.
// The mapping is fixed per hardware build and never inferred.
type TrackerConfig struct {
	Mode        ScanMode `yaml:"mode" json:"mode"`
	AngleAxis   int      `yaml:"angleAxis" json:"angleAxis"`     // raw axis index feeding rotation
	LinearAxis  int      `yaml:"linearAxis" json:"linearAxis"`   // raw axis index feeding travel
	AngleRatio  float64  `yaml:"angleRatio" json:"angleRatio"`   // degrees per raw unit
	LinearScale float64  `yaml:"linearScale" json:"linearScale"` // mm per raw unit
}

// DefaultTrackerConfig returns the mapping used by the reference rig:
// controller X drives the turntable (0.1 unit = 10°), controller Y drives the
// lead screw (1 unit = 10 mm).
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Mode:        ModeRotary,
		AngleAxis:   0,
		LinearAxis:  1,
		AngleRatio:  100.0,
		LinearScale: 10.0,
	}
}

// ControllerStatus is an already-decoded machine position report
type ControllerStatus struct {
	RawAxisValues []float64 `json:"axes"`
	MachineState  string    `json:"state"`
	ReceivedAt    time.Time `json:"-"`
}

// Track converts a decoded status into a pose. A status that lacks the
// configured axis, or carries a non-finite value, yields ErrNoPose.
func (c TrackerConfig) Track(status ControllerStatus) (Pose, error) {
	ts := status.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	switch c.Mode {
	case ModeRotary, "":
		raw, err := axisValue(status.RawAxisValues, c.AngleAxis)
		if err != nil {
			return Pose{}, err
		}
		return RotaryPose(normalizeDegrees(raw*c.AngleRatio), ts), nil
	case ModeLinear:
		raw, err := axisValue(status.RawAxisValues, c.LinearAxis)
		if err != nil {
			return Pose{}, err
		}
		return LinearPose(raw*c.LinearScale, ts), nil
	default:
		return Pose{}, fmt.Errorf("%w: unknown scan mode %q", ErrNoPose, c.Mode)
	}
}

func axisValue(values []float64, idx int) (float64, error) {
	if idx < 0 || idx >= len(values) {
		return 0, fmt.Errorf("%w: axis %d missing from %d-axis status", ErrNoPose, idx, len(values))
	}
	v := values[idx]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: axis %d is not finite", ErrNoPose, idx)
	}
	return v, nil
}

// PoseDelta returns how far b has moved from a. Angles use circular distance.
// If a carries no reading for b's axis the delta is +Inf.
func PoseDelta(a, b Pose) float64 {
	if bAngle, ok := b.Angle(); ok {
		aAngle, ok := a.Angle()
		if !ok {
			return math.Inf(1)
		}
		return angularDistance(aAngle, bAngle)
	}
	if bOff, ok := b.Offset(); ok {
		aOff, ok := a.Offset()
		if !ok {
			return math.Inf(1)
		}
		return math.Abs(bOff - aOff)
	}
	return 0
}

// PositionTracker holds the most recent pose decoded from controller status
type PositionTracker struct {
	cfg TrackerConfig

	mu      sync.RWMutex
	current Pose
	hasPose bool
	state   string
	updates int
	changed chan struct{} // closed and replaced on every accepted update
}

// NewPositionTracker creates a tracker with the given axis mapping
func NewPositionTracker(cfg TrackerConfig) *PositionTracker {
	return &PositionTracker{
		cfg:     cfg,
		changed: make(chan struct{}),
	}
}

// Config returns the tracker's axis mapping
func (t *PositionTracker) Config() TrackerConfig {
	return t.cfg
}

// Update decodes a status and, if it yields a pose, makes it current.
// The machine state string is recorded even when the pose is unusable.
func (t *PositionTracker) Update(status ControllerStatus) (Pose, error) {
	pose, err := t.cfg.Track(status)

	t.mu.Lock()
	defer t.mu.Unlock()
	if status.MachineState != "" {
		t.state = status.MachineState
	}
	if err != nil {
		return Pose{}, err
	}
	t.current = pose
	t.hasPose = true
	t.updates++
	close(t.changed)
	t.changed = make(chan struct{})
	return pose, nil
}

// Current returns the latest pose, if one has been observed
func (t *PositionTracker) Current() (Pose, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current, t.hasPose
}

// MachineState returns the last reported controller state ("Idle", "Run", ...)
func (t *PositionTracker) MachineState() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Updates returns how many poses have been accepted
func (t *PositionTracker) Updates() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updates
}

// WaitForChange blocks until the current pose differs from `from` by at least
// minDelta, the timeout elapses, or ctx is done. On timeout the latest pose is
// returned together with ErrMoveTimeout.
func (t *PositionTracker) WaitForChange(ctx context.Context, from Pose, minDelta float64, timeout time.Duration) (Pose, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		t.mu.RLock()
		cur, ok, changed := t.current, t.hasPose, t.changed
		t.mu.RUnlock()

		if ok && PoseDelta(from, cur) >= minDelta {
			return cur, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-timer.C:
			return cur, ErrMoveTimeout
		}
	}
}
