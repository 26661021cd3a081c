// Package config loads ServerConfig from an optional YAML file, falling
// back to the documented defaults from spec.md §6.4.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the enumerated configuration surface from spec.md §6.4.
type ServerConfig struct {
	DataDir              string `yaml:"data_dir"`
	SessionTTLSeconds    int    `yaml:"session_ttl_seconds"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
	BusyRetryAttempts    int    `yaml:"busy_retry_attempts"`
	ExportZipLevel       int    `yaml:"export_zip_level"`
	SecretKey            string `yaml:"secret_key"`
	ListenAddress        string `yaml:"listen_address"`
}

// Default returns the documented defaults.
func Default() ServerConfig {
	return ServerConfig{
		DataDir:              "./data",
		SessionTTLSeconds:    300,
		SweepIntervalSeconds: 30,
		BusyRetryAttempts:    5,
		ExportZipLevel:       6,
		SecretKey:            "",
		ListenAddress:        ":8080",
	}
}

// Load reads path (if present) and overlays it onto Default(). A missing
// file is not an error: the server runs on defaults.
func Load(path string) (ServerConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}
