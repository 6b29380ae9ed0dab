package kalman

import (
	"fmt"
	"os"

	fusion "github.com/milosgajdos/go-fusion"
	"github.com/milosgajdos/go-fusion/model"
	"gopkg.in/yaml.v3"
)

// Config contains CTRV Kalman filter configuration parameters
type Config struct {
	// StdA is longitudinal acceleration process noise standard deviation [m/s^2]
	StdA float64 `yaml:"std_a"`
	// StdYawdd is yaw acceleration process noise standard deviation [rad/s^2]
	StdYawdd float64 `yaml:"std_yawdd"`
	// StdPosX is position sensor x noise standard deviation [m]
	StdPosX float64 `yaml:"std_pos_x"`
	// StdPosY is position sensor y noise standard deviation [m]
	StdPosY float64 `yaml:"std_pos_y"`
	// StdRange is range sensor range noise standard deviation [m]
	StdRange float64 `yaml:"std_range"`
	// StdBearing is range sensor bearing noise standard deviation [rad]
	StdBearing float64 `yaml:"std_bearing"`
	// StdRangeRate is range sensor range rate noise standard deviation [m/s]
	StdRangeRate float64 `yaml:"std_range_rate"`
	// Lambda is sigma point spreading parameter; only sigma point filters use it
	Lambda float64 `yaml:"lambda"`
	// UsePosition enables position sensor updates
	UsePosition bool `yaml:"use_position"`
	// UseRange enables range sensor updates
	UseRange bool `yaml:"use_range"`
	// MaxStep is the longest prediction step [s] taken in one go
	MaxStep float64 `yaml:"max_step"`
	// SubStep is the step [s] longer predictions are split into
	SubStep float64 `yaml:"sub_step"`
}

// DefaultConfig returns default filter configuration.
// Measurement noise values are provided by the sensor manufacturer.
func DefaultConfig() *Config {
	return &Config{
		StdA:         0.8,
		StdYawdd:     0.6,
		StdPosX:      0.15,
		StdPosY:      0.15,
		StdRange:     0.3,
		StdBearing:   0.03,
		StdRangeRate: 0.3,
		Lambda:       0,
		UsePosition:  true,
		UseRange:     true,
		MaxStep:      0.1,
		SubStep:      0.05,
	}
}

// ParseConfig parses YAML encoded configuration in data.
// Fields missing in data are set to their default values.
// It returns error if data can't be decoded or if the decoded config is invalid.
func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadConfig reads YAML configuration file stored in path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return ParseConfig(data)
}

// Validate checks the configuration and returns error if it's invalid.
func (c *Config) Validate() error {
	for name, std := range map[string]float64{
		"std_a":          c.StdA,
		"std_yawdd":      c.StdYawdd,
		"std_pos_x":      c.StdPosX,
		"std_pos_y":      c.StdPosY,
		"std_range":      c.StdRange,
		"std_bearing":    c.StdBearing,
		"std_range_rate": c.StdRangeRate,
	} {
		if std < 0 {
			return fmt.Errorf("invalid %s: %f", name, std)
		}
	}

	if c.Lambda+float64(model.StateDim+model.NoiseDim) <= 0 {
		return fmt.Errorf("invalid lambda: %f", c.Lambda)
	}

	if c.MaxStep <= 0 || c.SubStep <= 0 || c.SubStep > c.MaxStep {
		return fmt.Errorf("invalid prediction steps: max %f, sub %f", c.MaxStep, c.SubStep)
	}

	return nil
}

// Enabled returns true if updates from sensor s are enabled.
func (c *Config) Enabled(s fusion.Sensor) bool {
	switch s {
	case fusion.Position:
		return c.UsePosition
	case fusion.Range:
		return c.UseRange
	}

	return false
}
