// Package config loads the YAML process configuration for an MP (capture
// daemon, format converter, or any other program linking DPMI).
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// SeqMismatchPolicy controls what the stream core does when an inbound
// measurement frame's sequence number does not match the expected value
// for its source (§4.I, §9 "legacy abort" open item).
type SeqMismatchPolicy string

const (
	// SeqPolicyLog logs the gap and resets the expected counter (default,
	// matches the spec's "observability event, not a failure").
	SeqPolicyLog SeqMismatchPolicy = "log"
	// SeqPolicyIgnore silently resets the expected counter.
	SeqPolicyIgnore SeqMismatchPolicy = "ignore"
	// SeqPolicyAbort reproduces the legacy C behaviour for operators who
	// want fail-fast semantics.
	SeqPolicyAbort SeqMismatchPolicy = "abort"
)

// Config is the complete configuration of a DPMI-linked process.
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Logging     LogConfig         `yaml:"logging"`
	Capture     CaptureConfig     `yaml:"capture"`
	Streams     []StreamConfig    `yaml:"streams"`

	mu sync.RWMutex
}

// ApplicationConfig holds process identity.
type ApplicationConfig struct {
	Name    string `yaml:"name"`
	MAMPid  string `yaml:"mampid"`
	Version string `yaml:"version"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// CaptureConfig holds the defaults the stream core falls back to when a
// backend or caller does not override them.
type CaptureConfig struct {
	BufferSize        int               `yaml:"buffer_size"`
	MTU               int               `yaml:"mtu"`
	NumFrames         int               `yaml:"num_frames"`
	SeqMismatchPolicy SeqMismatchPolicy `yaml:"seq_mismatch_policy"`
}

// StreamConfig describes one stream endpoint the process opens or creates
// at startup, analogous to the teacher's IngestionConfig.Sources.
type StreamConfig struct {
	Name      string `yaml:"name"`
	Address   string `yaml:"address"` // text form, see pkg/address
	Mode      string `yaml:"mode"`    // "open" (consumer) or "create" (producer)
	Interface string `yaml:"interface,omitempty"`
	Comment   string `yaml:"comment,omitempty"`
}

var (
	globalConfig *Config
	configMu     sync.RWMutex
)

// Load reads configuration from a YAML file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configMu.Lock()
	globalConfig = &cfg
	configMu.Unlock()

	return &cfg, nil
}

// Get returns the global configuration instance, or nil if Load was never
// called.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Reload re-reads configuration from disk and replaces the global instance.
func Reload(configPath string) error {
	_, err := Load(configPath)
	return err
}

// Validate applies the invariants a DPMI process needs before it opens any
// stream.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Application.MAMPid) > 8 {
		return fmt.Errorf("mampid must be at most 8 bytes, got %d", len(c.Application.MAMPid))
	}
	if c.Capture.BufferSize < 0 {
		return fmt.Errorf("capture.buffer_size must not be negative")
	}
	switch c.Capture.SeqMismatchPolicy {
	case "", SeqPolicyLog, SeqPolicyIgnore, SeqPolicyAbort:
	default:
		return fmt.Errorf("invalid seq_mismatch_policy: %q", c.Capture.SeqMismatchPolicy)
	}
	for _, s := range c.Streams {
		if s.Name == "" {
			return fmt.Errorf("stream entry missing name")
		}
		if s.Mode != "open" && s.Mode != "create" {
			return fmt.Errorf("stream %q: mode must be open or create", s.Name)
		}
	}
	return nil
}

// EffectiveSeqMismatchPolicy returns the configured policy, defaulting to
// SeqPolicyLog when unset.
func (c *Config) EffectiveSeqMismatchPolicy() SeqMismatchPolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Capture.SeqMismatchPolicy == "" {
		return SeqPolicyLog
	}
	return c.Capture.SeqMismatchPolicy
}
