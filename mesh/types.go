package mesh

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// ScanMode selects how the tracked axis maps onto the object
type ScanMode string

const (
	// ModeRotary is a turntable scan: the tracked axis is an angle in degrees
	ModeRotary ScanMode = "rotary"
	// ModeLinear is a translation-stage scan: the tracked axis is an offset in mm
	ModeLinear ScanMode = "linear"
)

// Pose is the scanner's tracked axis state at the moment a frame was captured.
// Exactly one of AngleDeg / LinearOffsetMM is set for a given scan mode.
type Pose struct {
	AngleDeg       *float64  `json:"angleDeg,omitempty"`
	LinearOffsetMM *float64  `json:"linearOffsetMm,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// RotaryPose returns a pose carrying only an angle
func RotaryPose(angleDeg float64, ts time.Time) Pose {
	a := angleDeg
	return Pose{AngleDeg: &a, Timestamp: ts}
}

// LinearPose returns a pose carrying only a linear offset
func LinearPose(offsetMM float64, ts time.Time) Pose {
	o := offsetMM
	return Pose{LinearOffsetMM: &o, Timestamp: ts}
}

// Valid reports whether at least one axis reading is present
func (p Pose) Valid() bool {
	return p.AngleDeg != nil || p.LinearOffsetMM != nil
}

// Angle returns the angle reading, if any
func (p Pose) Angle() (float64, bool) {
	if p.AngleDeg == nil {
		return 0, false
	}
	return *p.AngleDeg, true
}

// Offset returns the linear offset reading, if any
func (p Pose) Offset() (float64, bool) {
	if p.LinearOffsetMM == nil {
		return 0, false
	}
	return *p.LinearOffsetMM, true
}

// Mode reports which scan mode produced the pose
func (p Pose) Mode() ScanMode {
	if p.AngleDeg != nil {
		return ModeRotary
	}
	return ModeLinear
}

// ChannelMask is the HSV acceptance box for one laser colour.
// Hue uses the 0-179 range, saturation and value 0-255.
type ChannelMask struct {
	Name    string `yaml:"name" json:"name"`
	HueLow  int    `yaml:"hueLow" json:"hueLow"`
	HueHigh int    `yaml:"hueHigh" json:"hueHigh"`
	SatLow  int    `yaml:"satLow" json:"satLow"`
	SatHigh int    `yaml:"satHigh" json:"satHigh"`
	ValLow  int    `yaml:"valLow" json:"valLow"`
	ValHigh int    `yaml:"valHigh" json:"valHigh"`
}

// Clamp returns a copy with every bound forced into its legal range
func (m ChannelMask) Clamp() ChannelMask {
	m.HueLow = clampInt(m.HueLow, 0, 179)
	m.HueHigh = clampInt(m.HueHigh, 0, 179)
	m.SatLow = clampInt(m.SatLow, 0, 255)
	m.SatHigh = clampInt(m.SatHigh, 0, 255)
	m.ValLow = clampInt(m.ValLow, 0, 255)
	m.ValHigh = clampInt(m.ValHigh, 0, 255)
	return m
}

// Contains reports whether an HSV triple lies inside the box (bounds inclusive)
func (m ChannelMask) Contains(h, s, v uint8) bool {
	return int(h) >= m.HueLow && int(h) <= m.HueHigh &&
		int(s) >= m.SatLow && int(s) <= m.SatHigh &&
		int(v) >= m.ValLow && int(v) <= m.ValHigh
}

// DefaultChannels returns masks for a red and a green line laser
func DefaultChannels() []ChannelMask {
	return []ChannelMask{
		{Name: "red", HueLow: 0, HueHigh: 10, SatLow: 100, SatHigh: 255, ValLow: 120, ValHigh: 255},
		{Name: "green", HueLow: 45, HueHigh: 85, SatLow: 100, SatHigh: 255, ValLow: 120, ValHigh: 255},
	}
}

// PixelPoint is an image-space pixel coordinate
type PixelPoint struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// StripeFit is the line found for one channel on one frame: y = Slope*x + Intercept.
// Inliers is a bounded, evenly strided subset of the consensus set.
type StripeFit struct {
	Success   bool         `json:"success"`
	Slope     float64      `json:"slope"`
	Intercept float64      `json:"intercept"`
	Inliers   []PixelPoint `json:"inliers"`
}

// ChannelStripe holds one channel's contribution to a ScanRecord
type ChannelStripe struct {
	Channel string       `json:"channel"`
	Pixels  []PixelPoint `json:"pixels"`
	Points  []Point3D    `json:"points"`
}

// ScanRecord is one frame's result. It is never mutated after being appended.
type ScanRecord struct {
	FrameIndex int             `json:"frameIndex"`
	Pose       Pose            `json:"pose"`
	Stripes    []ChannelStripe `json:"stripes"`
}

// PointCount returns the number of reconstructed points across all channels
func (r ScanRecord) PointCount() int {
	n := 0
	for _, s := range r.Stripes {
		n += len(s.Points)
	}
	return n
}

// Point3D is a position in millimetres in the scanner frame
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec converts to a gonum vector
func (p Point3D) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// FromVec converts a gonum vector to a Point3D
func FromVec(v r3.Vec) Point3D {
	return Point3D{X: v.X, Y: v.Y, Z: v.Z}
}

// Distance returns the euclidean distance between two points
func (p Point3D) Distance(q Point3D) float64 {
	return r3.Norm(r3.Sub(p.Vec(), q.Vec()))
}

// SurfacePoint is a reconstructed point annotated with the azimuth and height
// used to place it into a cross-section.
type SurfacePoint struct {
	Point  Point3D `json:"point"`
	Angle  float64 `json:"angle"`  // degrees, [0, 360)
	Height float64 `json:"height"` // mm
}

// Triangle holds three vertex indices
type Triangle [3]int

// Mesh is a welded vertex list plus triangle index list
type Mesh struct {
	Vertices  []Point3D  `json:"vertices"`
	Triangles []Triangle `json:"triangles"`
}

// Config represents the full configuration file
type Config struct {
	Scanner        ScannerConfig        `yaml:"scanner" json:"scanner"`
	Tracker        TrackerConfig        `yaml:"tracker" json:"tracker"`
	Channels       []ChannelMask        `yaml:"channels" json:"channels"`
	RANSAC         RANSACConfig         `yaml:"ransac" json:"ransac"`
	Reconstruction ReconstructionConfig `yaml:"reconstruction" json:"reconstruction"`
	Mesh           MeshConfig           `yaml:"mesh" json:"mesh"`
	MQTT           MQTTConfig           `yaml:"mqtt" json:"mqtt"`
	Storage        StorageConfig        `yaml:"storage" json:"storage"`
}

// ScannerConfig drives the acquisition loop
type ScannerConfig struct {
	Mode        ScanMode      `yaml:"mode" json:"mode"`
	Frames      int           `yaml:"frames" json:"frames"`                           // target frame count
	Step        float64       `yaml:"step" json:"step"`                               // raw controller units per move
	Feed        float64       `yaml:"feed" json:"feed"`                               // feed rate passed to the controller
	MoveTimeout time.Duration `yaml:"moveTimeout" json:"moveTimeout"`                 // bounded wait for a move to register
	MinChange   float64       `yaml:"minChange" json:"minChange"`                     // degrees or mm
	SettleDelay time.Duration `yaml:"settleDelay,omitempty" json:"settleDelay,omitempty"` // pause after a move registers
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker         string `yaml:"broker" json:"broker"`
	StatusTopic    string `yaml:"statusTopic" json:"statusTopic"`
	CommandTopic   string `yaml:"commandTopic,omitempty" json:"commandTopic,omitempty"`
	PublishPrefix  string `yaml:"publishPrefix" json:"publishPrefix"`
	PublishQoS     byte   `yaml:"publishQos" json:"publishQos"`         // progress and record messages
	RetainProgress bool   `yaml:"retainProgress" json:"retainProgress"` // keep the latest progress on the broker
	ClientID       string `yaml:"clientId" json:"clientId"`
	Username       string `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string `yaml:"password,omitempty" json:"password,omitempty"`
}

// StorageConfig locates persisted scan sessions
type StorageConfig struct {
	SQLitePath  string `yaml:"sqlitePath,omitempty" json:"sqlitePath,omitempty"`
	SessionPath string `yaml:"sessionPath,omitempty" json:"sessionPath,omitempty"`
}

// GetChannel returns the channel mask with the given name
func (c *Config) GetChannel(name string) *ChannelMask {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			return &c.Channels[i]
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeDegrees maps any angle into [0, 360)
func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}
