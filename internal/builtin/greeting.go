// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package builtin

import (
	"context"
	"fmt"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/pkg/plugin"
)

// Compile-time interface check.
var _ plugin.Prompt = (*Greeting)(nil)

// Greeting is a prompt plugin that renders a greeting template. The
// template is configurable through the "template" setting and must
// contain a single %s verb for the subject name.
type Greeting struct {
	template string
}

// NewGreeting creates the greeting prompt plugin.
func NewGreeting() *Greeting {
	return &Greeting{template: "Hello, %s!"}
}

func (g *Greeting) Name() string        { return "greeting" }
func (g *Greeting) Version() string     { return "1.0.0" }
func (g *Greeting) Description() string { return "Renders greeting prompts" }

// Initialize reads the optional "template" setting.
func (g *Greeting) Initialize(_ context.Context, settings map[string]any) error {
	raw, ok := settings["template"]
	if !ok {
		return nil
	}
	tmpl, ok := raw.(string)
	if !ok {
		return oops.In("builtin").Code("INVALID_SETTING").
			With("setting", "template").
			Errorf("template must be a string, got %T", raw)
	}
	g.template = tmpl
	return nil
}

// ExecutePrompt renders the template with the "name" argument.
func (g *Greeting) ExecutePrompt(_ context.Context, args map[string]any) (any, error) {
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, oops.In("builtin").Code("INVALID_ARGS").
			Errorf("name must be a non-empty string")
	}
	return fmt.Sprintf(g.template, name), nil
}

func (g *Greeting) Shutdown(context.Context) error { return nil }
