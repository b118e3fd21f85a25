// Package config loads the server and CLI configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Server     ServerConfig     `yaml:"server"`
	FlameChart FlameChartConfig `yaml:"flamechart"`
	Report     ReportConfig     `yaml:"report"`
	Export     ExportConfig     `yaml:"export"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name          string `yaml:"name"`
	Transport     string `yaml:"transport"` // "stdio", "sse" or "http"
	Address       string `yaml:"address"`   // listen address for sse and http
	WatchProfiles bool   `yaml:"watch_profiles"`
}

// FlameChartConfig tunes interval reconstruction for chrome traces.
type FlameChartConfig struct {
	SkewUsec         float64 `yaml:"skew_usec"`
	LookaheadPeriods float64 `yaml:"lookahead_periods"`
}

// ReportConfig sets report defaults.
type ReportConfig struct {
	TopN           int     `yaml:"top_n"`
	TreeDepth      int     `yaml:"tree_depth"`
	TreeMinPercent float64 `yaml:"tree_min_percent"`
}

// ExportConfig configures the export command.
type ExportConfig struct {
	Parallelism int    `yaml:"parallelism"`
	OutDir      string `yaml:"out_dir"` // empty writes next to each input
}

// DefaultPaths are tried in order when no config file is given.
var DefaultPaths = []string{
	"vmprof-mcp.yaml",
	filepath.Join(os.Getenv("HOME"), ".config", "vmprof-mcp", "config.yaml"),
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or the first existing default path when path is
// empty. Without any file the defaults plus environment overrides are used.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	for _, candidate := range DefaultPaths {
		if _, err := os.Stat(candidate); err == nil {
			return Load(candidate)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Name:          "vmprof-profiler",
			Transport:     "stdio",
			Address:       "127.0.0.1:8080",
			WatchProfiles: true,
		},
		FlameChart: FlameChartConfig{
			SkewUsec:         1,
			LookaheadPeriods: 2,
		},
		Report: ReportConfig{
			TopN:           10,
			TreeDepth:      0,
			TreeMinPercent: 1,
		},
		Export: ExportConfig{
			Parallelism: 4,
		},
	}
}

// ApplyEnvOverrides reads VMPROF_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"VMPROF_LOG_LEVEL":        func(v string) { c.LogLevel = v },
		"VMPROF_SERVER_NAME":      func(v string) { c.Server.Name = v },
		"VMPROF_SERVER_TRANSPORT": func(v string) { c.Server.Transport = v },
		"VMPROF_SERVER_ADDRESS":   func(v string) { c.Server.Address = v },
		"VMPROF_EXPORT_OUT_DIR":   func(v string) { c.Export.OutDir = v },
	}

	boolOverrides := map[string]*bool{
		"VMPROF_SERVER_WATCH_PROFILES": &c.Server.WatchProfiles,
	}

	intOverrides := map[string]*int{
		"VMPROF_REPORT_TOP_N":       &c.Report.TopN,
		"VMPROF_REPORT_TREE_DEPTH":  &c.Report.TreeDepth,
		"VMPROF_EXPORT_PARALLELISM": &c.Export.Parallelism,
	}

	floatOverrides := map[string]*float64{
		"VMPROF_FLAMECHART_SKEW_USEC":         &c.FlameChart.SkewUsec,
		"VMPROF_FLAMECHART_LOOKAHEAD_PERIODS": &c.FlameChart.LookaheadPeriods,
		"VMPROF_REPORT_TREE_MIN_PERCENT":      &c.Report.TreeMinPercent,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				*target = n
			}
		}
	}

	for envKey, target := range floatOverrides {
		if val := os.Getenv(envKey); val != "" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				*target = f
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	switch c.Server.Transport {
	case "stdio":
	case "sse", "http":
		if c.Server.Address == "" {
			return fmt.Errorf("server.address is required for the %s transport", c.Server.Transport)
		}
	default:
		return fmt.Errorf("server.transport must be 'stdio', 'sse' or 'http'")
	}

	if c.FlameChart.SkewUsec < 0 {
		return fmt.Errorf("flamechart.skew_usec must not be negative")
	}
	if c.FlameChart.LookaheadPeriods <= 0 {
		return fmt.Errorf("flamechart.lookahead_periods must be positive")
	}

	if c.Report.TopN < 0 || c.Report.TreeDepth < 0 {
		return fmt.Errorf("report.top_n and report.tree_depth must not be negative")
	}
	if c.Report.TreeMinPercent < 0 || c.Report.TreeMinPercent > 100 {
		return fmt.Errorf("report.tree_min_percent must be between 0 and 100")
	}

	if c.Export.Parallelism < 1 {
		return fmt.Errorf("export.parallelism must be at least 1")
	}

	return nil
}
