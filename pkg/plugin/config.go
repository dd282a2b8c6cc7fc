// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package plugin

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the per-plugin registration configuration block. All fields
// are optional; a nil Config registers the plugin with no SDK bounds, no
// declared dependencies, and no sandbox.
type Config struct {
	// MinSDKVersion and MaxSDKVersion bound the host SDK versions this
	// plugin supports. An empty bound is unbounded on that side.
	MinSDKVersion string `yaml:"min-sdk-version,omitempty" json:"min-sdk-version,omitempty"`
	MaxSDKVersion string `yaml:"max-sdk-version,omitempty" json:"max-sdk-version,omitempty"`

	// Dependencies maps plugin names to semver constraint expressions
	// (e.g. "^1.0.0") that the named plugin's version must satisfy.
	Dependencies map[string]string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`

	// Sandbox, when set, wraps the plugin's capability invocations in an
	// execution policy.
	Sandbox *SandboxConfig `yaml:"sandbox,omitempty" json:"sandbox,omitempty"`

	// Settings is passed verbatim to the plugin's Initialize.
	Settings map[string]any `yaml:"settings,omitempty" json:"settings,omitempty"`
}

// Duration wraps time.Duration so YAML and JSON configs can use
// human-readable strings like "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SandboxConfig is a per-plugin execution policy.
type SandboxConfig struct {
	// ExecutionTimeout bounds each capability invocation. Zero disables
	// the timeout. The timeout is best-effort: a timed-out operation's
	// result is discarded, the operation itself is not preempted.
	ExecutionTimeout Duration `yaml:"execution-timeout,omitempty" json:"execution-timeout,omitempty"`

	// MaxMemoryMB is a memory budget reserved from the resource manager
	// at registration time. Zero reserves nothing.
	MaxMemoryMB int64 `yaml:"max-memory-mb,omitempty" json:"max-memory-mb,omitempty"`

	// AllowedPaths and AllowedCommands are glob patterns ('/' separated
	// for paths) consulted by the sandbox policy. Empty means deny-all
	// when the corresponding access flag is set.
	AllowedPaths    []string `yaml:"allowed-paths,omitempty" json:"allowed-paths,omitempty"`
	AllowedCommands []string `yaml:"allowed-commands,omitempty" json:"allowed-commands,omitempty"`

	NetworkAccess bool `yaml:"network-access,omitempty" json:"network-access,omitempty"`
	FileAccess    bool `yaml:"file-access,omitempty" json:"file-access,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens. Cannot end with a
// hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ValidateName checks that a plugin name is acceptable as a registry key.
func ValidateName(name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", name)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(name))
	}
	return nil
}

// ParseConfig parses and validates a YAML plugin configuration block.
func ParseConfig(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("config data is empty")
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate checks config constraints that do not require the host SDK
// version. Semver syntax of bounds and constraints is checked at
// registration time, where parse failures carry registry error codes.
func (c *Config) Validate() error {
	for name, constraint := range c.Dependencies {
		if err := ValidateName(name); err != nil {
			return fmt.Errorf("dependency: %w", err)
		}
		if constraint == "" {
			return fmt.Errorf("dependency %q: constraint is required", name)
		}
	}

	if c.Sandbox != nil {
		if c.Sandbox.ExecutionTimeout < 0 {
			return fmt.Errorf("sandbox: execution-timeout cannot be negative")
		}
		if c.Sandbox.MaxMemoryMB < 0 {
			return fmt.Errorf("sandbox: max-memory-mb cannot be negative")
		}
	}

	return nil
}
