package cdr

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config holds the engine's [general] section, loaded from an ini file
// and reloadable at runtime.
type Config struct {
	Enable bool
	Debug  bool

	Unanswered       bool
	Congestion       bool
	EndBeforeHExten  bool
	InitiatedSeconds bool

	Batch         bool
	Size          uint
	Time          uint
	SchedulerOnly bool
	SafeShutdown  bool
}

// DefaultConfig returns the documented defaults for every config key.
func DefaultConfig() *Config {
	return &Config{
		Enable:           true,
		Debug:            false,
		Unanswered:       false,
		Congestion:       false,
		EndBeforeHExten:  false,
		InitiatedSeconds: false,
		Batch:            false,
		Size:             100,
		Time:             300,
		SchedulerOnly:    false,
		SafeShutdown:     true,
	}
}

// LoadConfig parses path as an ini file and returns its [general]
// section as a Config, falling back to DefaultConfig for any key not
// present. Operational knobs that aren't CDR semantics (data dir,
// listen address) belong to the embedding application's own config, not
// here.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading cdr config %q: %w", path, err)
	}

	sec := f.Section("general")

	cfg.Enable = sec.Key("enable").MustBool(cfg.Enable)
	cfg.Debug = sec.Key("debug").MustBool(cfg.Debug)
	cfg.Unanswered = sec.Key("unanswered").MustBool(cfg.Unanswered)
	cfg.Congestion = sec.Key("congestion").MustBool(cfg.Congestion)
	cfg.EndBeforeHExten = sec.Key("endbeforehexten").MustBool(cfg.EndBeforeHExten)
	cfg.InitiatedSeconds = sec.Key("initiatedseconds").MustBool(cfg.InitiatedSeconds)
	cfg.Batch = sec.Key("batch").MustBool(cfg.Batch)
	cfg.Size = uint(sec.Key("size").MustUint(uint(cfg.Size)))
	cfg.Time = uint(sec.Key("time").MustUint(uint(cfg.Time)))
	cfg.SchedulerOnly = sec.Key("scheduleronly").MustBool(cfg.SchedulerOnly)
	cfg.SafeShutdown = sec.Key("safeshutdown").MustBool(cfg.SafeShutdown)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating cdr config %q: %w", path, err)
	}
	return cfg, nil
}

// validate enforces the documented bounds on size and time.
func (c *Config) validate() error {
	if c.Size > 1000 {
		return fmt.Errorf("size %d exceeds maximum of 1000", c.Size)
	}
	if c.Time > 86400 {
		return fmt.Errorf("time %d exceeds maximum of 86400", c.Time)
	}
	return nil
}

// clone returns a shallow copy, used so Reload can swap in a new Config
// atomically without callers observing a half-updated value.
func (c *Config) clone() *Config {
	cp := *c
	return &cp
}
