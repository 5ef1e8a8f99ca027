package main

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the esmtp-send configuration file. Command-line flags
// override the top-level fields.
type Config struct {
	Server   string `toml:"server"`
	Hostname string `toml:"hostname"`
	TLS      string `toml:"tls"` // "opportunistic", "required", "disabled"
	Parallel int    `toml:"parallel"`

	Auth struct {
		User     string `toml:"user"`
		Password string `toml:"password"`
		Require  bool   `toml:"require"`
	} `toml:"auth"`

	Timeouts struct {
		Command    string `toml:"command"`
		Submission string `toml:"submission"`
	} `toml:"timeouts"`

	Metrics struct {
		Listen string `toml:"listen"`
	} `toml:"metrics"`

	Messages []MessageConfig `toml:"message"`
}

// MessageConfig describes one message to submit.
type MessageConfig struct {
	From     string   `toml:"from"`
	To       []string `toml:"to"`
	Subject  string   `toml:"subject"`
	Body     string   `toml:"body"`
	BodyFile string   `toml:"body_file"`

	EightBit bool     `toml:"eight_bit"`
	Envid    string   `toml:"envid"`
	Ret      string   `toml:"ret"`    // "FULL" or "HDRS"
	Notify   []string `toml:"notify"` // "NEVER", "SUCCESS", "FAILURE", "DELAY"
}

func defaultConfig() *Config {
	cfg := &Config{TLS: "opportunistic", Parallel: 1}
	return cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return cfg, nil
}

func (c *Config) timeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad timeout %q: %w", s, err)
	}
	return d, nil
}
