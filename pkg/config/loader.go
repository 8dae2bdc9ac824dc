// Package config: optional YAML tunables loading
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load overlays a YAML tunables file onto the config. ${VAR_NAME}
// references inside the file are substituted from the environment before
// parsing, so credentials never need to live in the file itself.
func Load(filePath string, config *Config) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Substitute environment variables
	content := string(data)
	content = substituteEnvVars(content)

	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// UnmarshalYAML overlays sync tunables onto the existing values. Keys
// absent from the file keep whatever the environment or defaults set, and
// durations are accepted in Go syntax ("500ms", "2m").
func (s *SyncConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PageSize      *int    `yaml:"page_size"`
		ScrollLease   *string `yaml:"scroll_lease"`
		MaxRetries    *int    `yaml:"max_retries"`
		BaseDelay     *string `yaml:"base_delay"`
		MaxDelay      *string `yaml:"max_delay"`
		Interval      *string `yaml:"interval"`
		DetectChanges *bool   `yaml:"detect_changes"`
		PayloadField  *string `yaml:"payload_field"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.PageSize != nil {
		s.PageSize = *raw.PageSize
	}
	if raw.MaxRetries != nil {
		s.MaxRetries = *raw.MaxRetries
	}
	if raw.DetectChanges != nil {
		s.DetectChanges = *raw.DetectChanges
	}
	if raw.PayloadField != nil {
		s.PayloadField = *raw.PayloadField
	}

	durations := map[string]struct {
		src *string
		dst *time.Duration
	}{
		"scroll_lease": {raw.ScrollLease, &s.ScrollLease},
		"base_delay":   {raw.BaseDelay, &s.BaseDelay},
		"max_delay":    {raw.MaxDelay, &s.MaxDelay},
		"interval":     {raw.Interval, &s.Interval},
	}
	for key, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
