// Package config loads the viewer configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps the configuration of the viewer and the remote streaming
// server. The zero value of each field means "use the default".
type Config struct {
	Server ServerConfig `yaml:"server"`
	Sim    SimConfig    `yaml:"sim"`

	// Interval between backend ticks of the viewer, in milliseconds.
	PollIntervalMs int `yaml:"poll-interval-ms"`

	// File to write the debug log to.
	LogFile string `yaml:"log-file"`
}

// ServerConfig keeps the configuration of the remote streaming server.
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

// SimConfig keeps the configuration of the live-simulation connection.
type SimConfig struct {
	Address string `yaml:"address"`
}

const defaultPollInterval = 50 * time.Millisecond

// Load reads the configuration from the named file. A missing file is not an
// error; the defaults are returned.
func Load(fname string) (*Config, error) {
	cfg := &Config{}
	if fname == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(fname)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PollInterval returns the tick interval of the viewer loop.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return defaultPollInterval
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
