package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultCalibrationCachePath is the default path for the established image calibration
const DefaultCalibrationCachePath = ".calibration-cache.json"

// ReconstructionConfig holds the image-to-physical mapping. CenterCol and
// BaselineRow are established from the first frame when left at zero.
type ReconstructionConfig struct {
	CenterCol   float64 `yaml:"centerCol,omitempty" json:"centerCol,omitempty"`     // px; rotation axis column
	BaselineRow float64 `yaml:"baselineRow,omitempty" json:"baselineRow,omitempty"` // px; height-zero row
	ScaleX      float64 `yaml:"scaleX" json:"scaleX"`                               // mm per px, horizontal
	ScaleY      float64 `yaml:"scaleY" json:"scaleY"`                               // mm per px, vertical
	MaxRadius   float64 `yaml:"maxRadius" json:"maxRadius"`                         // mm; envelope of the object
}

// DefaultReconstructionConfig returns a 0.1 mm/px mapping with a 150 mm envelope
func DefaultReconstructionConfig() ReconstructionConfig {
	return ReconstructionConfig{
		ScaleX:    0.1,
		ScaleY:    0.1,
		MaxRadius: 150,
	}
}

// Calibration is the per-session image geometry. Once established it stays
// fixed for the remainder of the scan.
type Calibration struct {
	CenterCol   float64 `json:"centerCol"`
	BaselineRow float64 `json:"baselineRow"`
	FrameWidth  int     `json:"frameWidth"`
	FrameHeight int     `json:"frameHeight"`
	Established bool    `json:"established"`
	LastUpdated int64   `json:"lastUpdated"`
}

// Establish fills in the centre column and baseline row from the frame size.
// Explicitly configured values take precedence. Calling it on an established
// calibration is a no-op.
func (c *Calibration) Establish(cfg ReconstructionConfig, width, height int) {
	if c.Established {
		return
	}
	c.FrameWidth, c.FrameHeight = width, height
	c.CenterCol = cfg.CenterCol
	if c.CenterCol == 0 {
		c.CenterCol = float64(width) / 2
	}
	c.BaselineRow = cfg.BaselineRow
	if c.BaselineRow == 0 {
		c.BaselineRow = float64(height)
	}
	c.Established = width > 0 && height > 0
	c.LastUpdated = time.Now().Unix()
}

// Fits reports whether c was established for frames of the given size and
// agrees with any explicitly configured centre column or baseline row.
func (c Calibration) Fits(cfg ReconstructionConfig, width, height int) bool {
	if !c.Established || c.FrameWidth != width || c.FrameHeight != height {
		return false
	}
	if cfg.CenterCol != 0 && cfg.CenterCol != c.CenterCol {
		return false
	}
	if cfg.BaselineRow != 0 && cfg.BaselineRow != c.BaselineRow {
		return false
	}
	return true
}

// LoadCalibration loads an established calibration from a JSON cache file.
// A missing file is not an error; nil is returned.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No calibration file yet
		}
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parsing calibration file: %w", err)
	}

	return &cal, nil
}

// SaveCalibration saves the calibration to a JSON cache file
func SaveCalibration(path string, cal *Calibration) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}

	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}

	return nil
}
