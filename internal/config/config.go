// Package config loads and validates the optional .cmdrun YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file.
const FileName = ".cmdrun"

// Default values for runner and history configuration.
const (
	DefaultShell       = "/bin/sh"
	DefaultHistorySize = 16
)

// Config holds the parsed .cmdrun configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int           `yaml:"version"`
	Shell        string        `yaml:"shell"`      // e.g. /bin/bash
	RawTimeout   string        `yaml:"timeout"`    // e.g. "5m", "30s"; empty means no timeout
	RawMaxOutput int           `yaml:"max_output"` // bytes per stream; 0 means unlimited
	Env          []string      `yaml:"env"`        // KEY=VALUE entries added to every command
	History      HistoryConfig `yaml:"history"`
	Log          LogConfig     `yaml:"log"`
}

// HistoryConfig controls where run results are kept.
type HistoryConfig struct {
	Dir  string `yaml:"dir"`  // default: <user cache dir>/cmdrun/runs
	Size int    `yaml:"size"` // in-memory LRU capacity
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stderr, stdout, or a file path
}

// ShellPath returns the configured shell or the default.
func (c *Config) ShellPath() string {
	if c.Shell != "" {
		return c.Shell
	}
	return DefaultShell
}

// Timeout returns the configured timeout, or zero for none.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return 0
}

// MaxOutputBytes returns the configured per-stream capture cap, or zero.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return 0
}

// HistorySize returns the configured LRU capacity or the default.
func (c *Config) HistorySize() int {
	if c.History.Size > 0 {
		return c.History.Size
	}
	return DefaultHistorySize
}

// HistoryDir returns the configured history directory, falling back to
// the user cache directory. It returns "" if neither is available.
func (c *Config) HistoryDir() string {
	if c.History.Dir != "" {
		return c.History.Dir
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cache, "cmdrun", "runs")
}

// LoadResult holds the parsed config and where it was found.
type LoadResult struct {
	Config *Config
	Path   string // path of the .cmdrun file; empty if none was found
}

// Load looks for a .cmdrun file in dir and each of its parents, stopping
// at the first one found. If no file exists, a default Config is returned.
func Load(dir string) (*LoadResult, error) {
	path, err := findConfig(dir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &LoadResult{Config: &Config{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// findConfig walks upward from dir looking for a .cmdrun file.
func findConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
