package mesh

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns a complete configuration for the reference rig
func DefaultConfig() *Config {
	return &Config{
		Scanner:        DefaultScannerConfig(),
		Tracker:        DefaultTrackerConfig(),
		Channels:       DefaultChannels(),
		RANSAC:         DefaultRANSACConfig(),
		Reconstruction: DefaultReconstructionConfig(),
		Mesh:           DefaultMeshConfig(),
		MQTT: MQTTConfig{
			StatusTopic:    "cnc/status",
			CommandTopic:   "cnc/command",
			PublishPrefix:  "stripemesh",
			RetainProgress: true,
			ClientID:       "stripemesh",
		},
	}
}

// LoadConfig loads the configuration from a YAML file. Keys missing from the
// file keep their defaults; a channels list replaces the default channels.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// The tracker and the scanner must agree on the mode; the scanner key wins
	if config.Scanner.Mode != "" {
		config.Tracker.Mode = config.Scanner.Mode
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.Scanner.Mode {
	case ModeRotary, ModeLinear:
	default:
		return fmt.Errorf("scanner.mode must be %q or %q, got %q", ModeRotary, ModeLinear, c.Scanner.Mode)
	}
	if c.Scanner.MoveTimeout <= 0 {
		return fmt.Errorf("scanner.moveTimeout must be positive")
	}
	if c.Scanner.MinChange < 0 {
		return fmt.Errorf("scanner.minChange must not be negative")
	}

	if c.Tracker.AngleAxis < 0 || c.Tracker.LinearAxis < 0 {
		return fmt.Errorf("tracker axis indices must not be negative")
	}
	if c.Tracker.AngleRatio == 0 && c.Scanner.Mode == ModeRotary {
		return fmt.Errorf("tracker.angleRatio is required for a rotary scan")
	}
	if c.Tracker.LinearScale == 0 && c.Scanner.Mode == ModeLinear {
		return fmt.Errorf("tracker.linearScale is required for a linear scan")
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel must be defined")
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channels[%d].name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channel %q defined twice", ch.Name)
		}
		seen[ch.Name] = true
		cl := ch.Clamp()
		if cl.HueLow > cl.HueHigh || cl.SatLow > cl.SatHigh || cl.ValLow > cl.ValHigh {
			return fmt.Errorf("channel %q has an empty HSV range", ch.Name)
		}
	}

	if c.RANSAC.Iterations <= 0 {
		return fmt.Errorf("ransac.iterations must be positive")
	}
	if c.RANSAC.InlierTolerance <= 0 {
		return fmt.Errorf("ransac.inlierTolerance must be positive")
	}

	if c.Reconstruction.ScaleX <= 0 || c.Reconstruction.ScaleY <= 0 {
		return fmt.Errorf("reconstruction scales must be positive")
	}
	if c.Reconstruction.MaxRadius < 0 {
		return fmt.Errorf("reconstruction.maxRadius must not be negative")
	}

	if c.Mesh.LayerPrecision <= 0 || c.Mesh.VertexPrecision <= 0 {
		return fmt.Errorf("mesh precisions must be positive")
	}
	if c.Mesh.AngleTolerance <= 0 || c.Mesh.AngleTolerance >= 180 {
		return fmt.Errorf("mesh.angleTolerance must be in (0, 180)")
	}
	if c.Mesh.MaxEdgeLength <= 0 {
		return fmt.Errorf("mesh.maxEdgeLength must be positive")
	}

	if c.MQTT.Broker != "" && c.MQTT.StatusTopic == "" {
		return fmt.Errorf("mqtt.statusTopic is required when mqtt.broker is set")
	}
	if c.MQTT.PublishQoS > 2 {
		return fmt.Errorf("mqtt.publishQos must be 0, 1 or 2, got %d", c.MQTT.PublishQoS)
	}
	if strings.ContainsAny(c.MQTT.PublishPrefix, "#+") {
		return fmt.Errorf("mqtt.publishPrefix must not contain wildcards")
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ParseChannelList picks channels by name from a comma-separated list, e.g.
// "red,green". An empty list returns every configured channel.
func (c *Config) ParseChannelList(list string) ([]ChannelMask, error) {
	if strings.TrimSpace(list) == "" {
		return c.Channels, nil
	}
	var out []ChannelMask
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ch := c.GetChannel(name)
		if ch == nil {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		out = append(out, *ch)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no channels selected")
	}
	return out, nil
}
