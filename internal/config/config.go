// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration problems that are fatal at startup.
var ErrConfig = errors.New("configuration error")

// Telemetry controls the periodic telemetry loop.
type Telemetry struct {
	IntervalMs   int     `yaml:"interval_ms"`
	WarningRate  float64 `yaml:"warning_rate"`
	CriticalRate float64 `yaml:"critical_rate"`
}

// Upload controls blob upload waits.
type Upload struct {
	DeadlineMs int `yaml:"deadline_ms"`
	PollMs     int `yaml:"poll_ms"`
}

// Dispatch controls command broadcast pacing.
type Dispatch struct {
	TimeoutMs int      `yaml:"timeout_ms"`
	PollMs    int      `yaml:"poll_ms"`
	DelayMs   int      `yaml:"delay_ms"`
	Targets   []string `yaml:"targets"`
}

// Loopback tunes the in-memory transport.
type Loopback struct {
	LatencyMs   int     `yaml:"latency_ms"`
	FailureRate float64 `yaml:"failure_rate"`
}

// Logging configures the process logger.
type Logging struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config is the root configuration shared by the simulator and the console.
type Config struct {
	Telemetry Telemetry `yaml:"telemetry"`
	Upload    Upload    `yaml:"upload"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	Loopback  Loopback  `yaml:"loopback"`
	Logging   Logging   `yaml:"logging"`
}

// DefaultTargets is the built-in broadcast list used by --send_all.
var DefaultTargets = []string{
	"icu-device01",
	"icu-device02",
	"general-device01",
	"general-device02",
	"general-device03",
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Telemetry: Telemetry{IntervalMs: 5000},
		Upload:    Upload{DeadlineMs: 60000, PollMs: 1000},
		Dispatch: Dispatch{
			TimeoutMs: 1000,
			PollMs:    100,
			DelayMs:   500,
			Targets:   append([]string(nil), DefaultTargets...),
		},
		Loopback: Loopback{LatencyMs: 50},
		Logging:  Logging{Level: "info", MaxSizeMB: 10, MaxBackups: 3},
	}
}

// Load reads a YAML config validated against a CUE schema. An empty configPath
// returns the defaults; an empty schemaPath uses the built-in schema.
// Values absent from the file keep their defaults.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	cfg := Default()
	if configPath == "" {
		return cfg, nil
	}
	if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, configPath, err)
	}
	if len(cfg.Dispatch.Targets) == 0 {
		cfg.Dispatch.Targets = append([]string(nil), DefaultTargets...)
	}
	return cfg, nil
}

// ApplyEnv overrides selected settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("TELEMETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			ms, convErr := strconv.Atoi(v)
			if convErr != nil {
				return fmt.Errorf("%w: invalid TELEMETRY_INTERVAL %q", ErrConfig, v)
			}
			d = time.Duration(ms) * time.Millisecond
		}
		if d > 0 {
			c.Telemetry.IntervalMs = int(d / time.Millisecond)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	return nil
}

// Interval returns the telemetry interval.
func (t Telemetry) Interval() time.Duration { return ms(t.IntervalMs) }

// Deadline returns the upload ceiling.
func (u Upload) Deadline() time.Duration { return ms(u.DeadlineMs) }

// Poll returns the upload poll interval.
func (u Upload) Poll() time.Duration { return ms(u.PollMs) }

// Timeout returns the per-target acknowledgment timeout.
func (d Dispatch) Timeout() time.Duration { return ms(d.TimeoutMs) }

// Poll returns the per-target poll interval.
func (d Dispatch) Poll() time.Duration { return ms(d.PollMs) }

// Delay returns the pause between targets.
func (d Dispatch) Delay() time.Duration { return ms(d.DelayMs) }

// Latency returns the simulated loopback completion latency.
func (l Loopback) Latency() time.Duration { return ms(l.LatencyMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
