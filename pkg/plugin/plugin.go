// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package plugin defines the contracts that host-registered plugins implement.
package plugin

import "context"

// Plugin is the base contract every registered plugin implements.
// A concrete plugin may additionally implement one or more capability
// interfaces (Tool, Resource, Prompt, Background, Notification); the
// registry indexes it once per implemented capability.
type Plugin interface {
	// Name returns the unique registry key for this plugin.
	Name() string

	// Version returns the plugin's semantic version string.
	Version() string

	// Description returns a short human-readable description.
	Description() string

	// Initialize prepares the plugin for use. Settings come from the
	// plugin's registered configuration and may be nil.
	Initialize(ctx context.Context, settings map[string]any) error

	// Shutdown releases the plugin's resources. Called exactly once per
	// registration, during unregistration or host shutdown.
	Shutdown(ctx context.Context) error
}

// Tool is the capability for plugins exposing an executable operation.
type Tool interface {
	Plugin

	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Resource is the capability for plugins serving addressable content.
type Resource interface {
	Plugin

	// GetResource reads the resource identified by uri.
	GetResource(ctx context.Context, uri string, params map[string]any) (any, error)
}

// Prompt is the capability for plugins producing prompt results.
type Prompt interface {
	Plugin

	// ExecutePrompt renders the prompt with the given arguments.
	ExecutePrompt(ctx context.Context, args map[string]any) (any, error)
}

// Background is the capability for plugins running a long-lived task.
// Start and Stop are driven by the registry in dependency order.
type Background interface {
	Plugin

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// Notification is the capability for plugins delivering user-facing
// notifications through a platform adapter.
type Notification interface {
	Plugin

	ShowNotification(ctx context.Context, title, body string) error
}

// ArgsSchemaProvider is an optional interface for Tool plugins that
// publish a JSON Schema for their Execute arguments. The registry
// validates arguments against it before invoking Execute; validation
// failures are returned directly and never retried.
type ArgsSchemaProvider interface {
	// ArgsSchema returns the JSON Schema document for Execute args.
	ArgsSchema() []byte
}

// Killer is an optional interface for plugins backed by an isolated
// execution context (such as a subprocess worker). Kill must terminate
// the context immediately without waiting for in-flight work. The
// registry calls Kill, when present, before Shutdown during
// unregistration.
type Killer interface {
	Kill()
}
