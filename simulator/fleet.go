// Package simulator emulates shopfloor controllers: each simulated shopfloor
// consumes its instructions, reports them completed after a production delay
// and sends periodic heartbeats.
package simulator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the simulation parameters. Durations accept Go duration
// strings such as "5s".
type Config struct {
	Shopfloors        []string      `yaml:"shopfloors"`
	MinDelay          time.Duration `yaml:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	DefectMin         float64       `yaml:"defect_min"`
	DefectMax         float64       `yaml:"defect_max"`
	DropRate          float64       `yaml:"drop_rate"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Seed              int64         `yaml:"seed"`
}

// SetDefaults fills the values used by the reference shopfloor scripts:
// 5 to 15 s of production, 5 to 10% defects and a heartbeat every 10 s.
func (c *Config) SetDefaults() {
	if len(c.Shopfloors) == 0 {
		c.Shopfloors = []string{"Shopfloor-1", "Shopfloor-2", "Shopfloor-3"}
	}
	if c.MinDelay <= 0 && c.MaxDelay <= 0 {
		c.MinDelay = 5 * time.Second
		c.MaxDelay = 15 * time.Second
	}
	if c.DefectMin == 0 && c.DefectMax == 0 {
		c.DefectMin = 0.05
		c.DefectMax = 0.10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if len(c.Shopfloors) == 0 {
		return fmt.Errorf("simulator: no shopfloors")
	}
	seen := map[string]bool{}
	for _, id := range c.Shopfloors {
		if id == "" || seen[id] {
			return fmt.Errorf("simulator: empty or duplicate shopfloor %q", id)
		}
		seen[id] = true
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("simulator: invalid delay range [%s, %s]", c.MinDelay, c.MaxDelay)
	}
	if c.DefectMin < 0 || c.DefectMax > 1 || c.DefectMax < c.DefectMin {
		return fmt.Errorf("simulator: invalid defect range [%g, %g]", c.DefectMin, c.DefectMax)
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("simulator: drop_rate must be within [0, 1]")
	}
	return nil
}

// ParseConfig decodes a YAML or JSON fleet description and applies
// defaults.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse fleet: %w", err)
	}
	c.SetDefaults()
	return c, c.Validate()
}

// LoadConfig reads a fleet file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}
