// Package config loads the optional YAML configuration file. Values from
// the file sit under command-line flags, which always win.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent configures the generative engine subprocess.
type Agent struct {
	Command   string   `yaml:"command"`
	ExtraArgs []string `yaml:"extraArgs"`
}

// Log configures the logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full server configuration.
type Config struct {
	Port        int    `yaml:"port"`
	ContentRoot string `yaml:"contentRoot"`
	DataDir     string `yaml:"dataDir"`
	Agent       Agent  `yaml:"agent"`
	Log         Log    `yaml:"log"`
}

// Default returns the configuration used when no file and no flags are
// given.
func Default() Config {
	return Config{
		Port:        3001,
		ContentRoot: "content",
		DataDir:     ".pipeboard",
		Agent:       Agent{Command: "claude"},
		Log:         Log{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults;
// a missing or unreadable file is an error, since the caller asked for it
// explicitly.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port in config file: %d", cfg.Port)
	}
	return cfg, nil
}
