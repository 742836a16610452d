package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# THL Configuration File
#
# Settings for the transaction history log and the thl tool.
# Every value can be overridden with a THL_* environment variable,
# e.g. THL_LOG_DIRECTORY=/data/thl or THL_LOG_SEGMENT_SIZE=1GiB.
#
# Sizes accept human-readable units (128KiB, 100MiB, 1GB).
# Durations use Go syntax (250ms, 30s, 72h). A zero flush_interval
# disables implicit commits and a zero retention keeps segments forever.

`

// InitConfig writes a default configuration file to the default location
// and returns its path. It fails if the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
