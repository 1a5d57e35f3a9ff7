package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MotionController issues relative moves on one raw controller axis.
// Move returns once the command is accepted, not when motion completes;
// completion is observed through the position tracker.
type MotionController interface {
	Move(ctx context.Context, axis int, delta, feed float64) error
}

var axisLetters = []string{"X", "Y", "Z", "A", "B", "C"}

// MoveCommand is the decoded move published to the controller bridge
type MoveCommand struct {
	Axis  int     `json:"axis"`
	Delta float64 `json:"delta"`
	Feed  float64 `json:"feed"`
	GCode string  `json:"gcode"`
}

// NewMoveCommand builds a relative linear move. Feed is clamped to at least 1.
func NewMoveCommand(axis int, delta, feed float64) (MoveCommand, error) {
	if axis < 0 || axis >= len(axisLetters) {
		return MoveCommand{}, fmt.Errorf("axis %d out of range", axis)
	}
	feed = max(feed, 1)
	return MoveCommand{
		Axis:  axis,
		Delta: delta,
		Feed:  feed,
		GCode: fmt.Sprintf("G91 G1 %s%.4f F%.2f", axisLetters[axis], delta, feed),
	}, nil
}

// MQTTMotionController publishes move commands to a command topic.
// A bridge on the other side owns the serial link to the controller.
type MQTTMotionController struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTMotionController creates a controller publishing to topic
func NewMQTTMotionController(client mqtt.Client, topic string) *MQTTMotionController {
	return &MQTTMotionController{client: client, topic: topic, timeout: 2 * time.Second}
}

// Move publishes one command and waits for the broker to accept it
func (m *MQTTMotionController) Move(ctx context.Context, axis int, delta, feed float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.client == nil || !m.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	cmd, err := NewMoveCommand(axis, delta, feed)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshaling move: %w", err)
	}

	token := m.client.Publish(m.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("publishing move to %s: timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing move to %s: %w", m.topic, err)
	}
	return nil
}

// SimulatedController is an in-memory controller. Each accepted move updates
// its axes and, when a tracker is attached, reports the new status to it.
type SimulatedController struct {
	mu        sync.Mutex
	axes      []float64
	state     string
	tracker   *PositionTracker
	dropMoves bool
	moves     int
}

// NewSimulatedController creates a controller with nAxes axes at zero
func NewSimulatedController(nAxes int, tracker *PositionTracker) *SimulatedController {
	return &SimulatedController{
		axes:    make([]float64, nAxes),
		state:   "Idle",
		tracker: tracker,
	}
}

// Move applies delta to axis immediately
func (s *SimulatedController) Move(ctx context.Context, axis int, delta, feed float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if axis < 0 || axis >= len(s.axes) {
		s.mu.Unlock()
		return fmt.Errorf("axis %d out of range", axis)
	}
	s.moves++
	if s.dropMoves {
		s.mu.Unlock()
		return nil
	}
	s.axes[axis] += delta
	status := s.statusLocked()
	s.mu.Unlock()

	s.report(status)
	return nil
}

// DropMoves makes later moves be accepted but never take effect
func (s *SimulatedController) DropMoves(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropMoves = drop
}

// Moves returns how many moves were accepted
func (s *SimulatedController) Moves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moves
}

// Status returns the current decoded status
func (s *SimulatedController) Status() ControllerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// Publish reports the current status to the attached tracker, if any
func (s *SimulatedController) Publish() {
	s.report(s.Status())
}

func (s *SimulatedController) statusLocked() ControllerStatus {
	axes := make([]float64, len(s.axes))
	copy(axes, s.axes)
	return ControllerStatus{RawAxisValues: axes, MachineState: s.state, ReceivedAt: time.Now()}
}

func (s *SimulatedController) report(status ControllerStatus) {
	if s.tracker != nil {
		_, _ = s.tracker.Update(status)
	}
}
