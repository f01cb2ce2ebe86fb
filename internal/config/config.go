package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the zammy configuration
type Config struct {
	// Data directory; defaults to ~/.zammy
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Plugins root; defaults to <data_dir>/plugins
	PluginsDir string `json:"plugins_dir" mapstructure:"plugins_dir"`

	Installer InstallerConfig `json:"installer" mapstructure:"installer"`
	Hosts     HostsConfig     `json:"hosts" mapstructure:"hosts"`
	Watch     WatchConfig     `json:"watch" mapstructure:"watch"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// InstallerConfig holds plugin install settings
type InstallerConfig struct {
	NpmTimeout   time.Duration `json:"npm_timeout" mapstructure:"npm_timeout"`
	CloneTimeout time.Duration `json:"clone_timeout" mapstructure:"clone_timeout"`
	BuildTimeout time.Duration `json:"build_timeout" mapstructure:"build_timeout"`

	// AllowBuild permits running build scripts of cloned repositories
	AllowBuild bool `json:"allow_build" mapstructure:"allow_build"`
}

// HostsConfig holds module host settings
type HostsConfig struct {
	RPCStartTimeout time.Duration `json:"rpc_start_timeout" mapstructure:"rpc_start_timeout"`
}

// WatchConfig holds plugins directory watch settings
type WatchConfig struct {
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"`
}

// MetricsConfig holds metrics endpoint settings
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"` // empty disables the endpoint
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Installer: InstallerConfig{
			NpmTimeout:   2 * time.Minute,
			CloneTimeout: 2 * time.Minute,
			BuildTimeout: 5 * time.Minute,
			AllowBuild:   false,
		},
		Hosts: HostsConfig{
			RPCStartTimeout: 10 * time.Second,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
		Logging: LoggingConfig{
			Level:     "warn",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.toMap(), "", "  ")
	return string(data)
}

// toMap returns the config in its on-disk form, durations as strings
func (c *Config) toMap() map[string]any {
	return map[string]any{
		"data_dir":    c.DataDir,
		"plugins_dir": c.PluginsDir,
		"installer": map[string]any{
			"npm_timeout":   c.Installer.NpmTimeout.String(),
			"clone_timeout": c.Installer.CloneTimeout.String(),
			"build_timeout": c.Installer.BuildTimeout.String(),
			"allow_build":   c.Installer.AllowBuild,
		},
		"hosts": map[string]any{
			"rpc_start_timeout": c.Hosts.RPCStartTimeout.String(),
		},
		"watch": map[string]any{
			"debounce": c.Watch.Debounce.String(),
		},
		"metrics": map[string]any{
			"addr": c.Metrics.Addr,
		},
		"logging": map[string]any{
			"level":     c.Logging.Level,
			"file":      c.Logging.File,
			"console":   c.Logging.Console,
			"pretty":    c.Logging.Pretty,
			"redaction": c.Logging.Redaction,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateDir("data_dir", c.DataDir); err != nil {
		return err
	}
	if err := v.ValidateDir("plugins_dir", c.PluginsDir); err != nil {
		return err
	}

	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"installer.npm_timeout", c.Installer.NpmTimeout},
		{"installer.clone_timeout", c.Installer.CloneTimeout},
		{"installer.build_timeout", c.Installer.BuildTimeout},
		{"hosts.rpc_start_timeout", c.Hosts.RPCStartTimeout},
		{"watch.debounce", c.Watch.Debounce},
	}
	for _, timeout := range timeouts {
		if err := v.ValidateTimeout(timeout.name, timeout.value); err != nil {
			return err
		}
	}

	if c.Metrics.Addr != "" {
		if err := v.ValidateListenAddr(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr: %w", err)
		}
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}
