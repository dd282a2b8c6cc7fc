// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package sandbox wraps plugin capability invocations with per-plugin
// execution policy: timeouts, access patterns, and memory budgets
// reserved through an external resource manager.
package sandbox

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/capstanhq/capstan/pkg/plugin"
)

// compiledPattern holds a pattern and its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Policy is a compiled, immutable sandbox policy for one plugin.
//
// Pattern matching uses gobwas/glob. Path patterns use '/' as the
// segment separator, so '*' does not cross directory boundaries and
// '**' does. Command patterns match whole command names.
type Policy struct {
	timeout    time.Duration
	memoryMB   int64
	paths      []compiledPattern
	commands   []compiledPattern
	network    bool
	fileAccess bool
}

// Compile builds a Policy from a sandbox config. A nil config returns a
// nil policy, meaning "no sandbox" to the executor.
func Compile(cfg *plugin.SandboxConfig) (*Policy, error) {
	if cfg == nil {
		return nil, nil
	}

	p := &Policy{
		timeout:    cfg.ExecutionTimeout.Std(),
		memoryMB:   cfg.MaxMemoryMB,
		network:    cfg.NetworkAccess,
		fileAccess: cfg.FileAccess,
	}

	for i, pattern := range cfg.AllowedPaths {
		if pattern == "" {
			return nil, fmt.Errorf("allowed-paths %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("allowed-paths %d (%q): %w", i, pattern, err)
		}
		p.paths = append(p.paths, compiledPattern{pattern: pattern, glob: g})
	}

	for i, pattern := range cfg.AllowedCommands {
		if pattern == "" {
			return nil, fmt.Errorf("allowed-commands %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("allowed-commands %d (%q): %w", i, pattern, err)
		}
		p.commands = append(p.commands, compiledPattern{pattern: pattern, glob: g})
	}

	return p, nil
}

// Timeout returns the per-invocation execution timeout. Zero means no
// timeout.
func (p *Policy) Timeout() time.Duration {
	if p == nil {
		return 0
	}
	return p.timeout
}

// MemoryBudgetMB returns the memory budget in megabytes. Zero means no
// budget is reserved.
func (p *Policy) MemoryBudgetMB() int64 {
	if p == nil {
		return 0
	}
	return p.memoryMB
}

// NetworkAllowed reports whether the plugin may open network
// connections.
func (p *Policy) NetworkAllowed() bool {
	return p != nil && p.network
}

// AllowsPath reports whether the plugin may access the given path.
// Deny by default: file access must be enabled and the path must match
// an allowed pattern.
func (p *Policy) AllowsPath(path string) bool {
	if p == nil || !p.fileAccess || path == "" {
		return false
	}
	for _, cp := range p.paths {
		if cp.glob.Match(path) {
			return true
		}
	}
	return false
}

// AllowsCommand reports whether the plugin may run the given command.
// Deny by default.
func (p *Policy) AllowsCommand(cmd string) bool {
	if p == nil || cmd == "" {
		return false
	}
	for _, cp := range p.commands {
		if cp.glob.Match(cmd) {
			return true
		}
	}
	return false
}
