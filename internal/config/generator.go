package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// SupportedFormats lists the config file formats we can generate.
var SupportedFormats = []string{"yaml", "toml", "json"}

// Generate writes a starter configuration file with the default values into
// the user config directory and returns its path.
func Generate(format string) (string, error) {
	if !isValidFormat(format) {
		return "", fmt.Errorf("unsupported format %q, supported: %v", format, SupportedFormats)
	}

	configDir, err := UserConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, fmt.Sprintf("config.%s", format))

	if _, err := os.Stat(configPath); err == nil {
		return configPath, fmt.Errorf("config file already exists: %s", configPath)
	}

	v := NewViperFromConfig(Default())
	v.SetConfigType(format)

	if err := v.WriteConfigAs(configPath); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}

// GenerateIfNotExists writes a starter config file when none exists in any
// supported format. It returns the path and whether a file was created.
func GenerateIfNotExists(format string) (string, bool, error) {
	configDir, err := UserConfigDir()
	if err != nil {
		return "", false, err
	}

	for _, ext := range SupportedFormats {
		path := filepath.Join(configDir, fmt.Sprintf("config.%s", ext))
		if _, err := os.Stat(path); err == nil {
			return path, false, nil
		}
	}

	path, err := Generate(format)
	if err != nil {
		return "", false, err
	}

	return path, true, nil
}

func isValidFormat(format string) bool {
	for _, f := range SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}
