// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package main implements an example out-of-process worker plugin.
// The shout tool uppercases its input text and optionally repeats it.
//
// Build and register with the host:
//
//	go build -o shout ./plugins/shout
//	capstan host --worker ./shout
package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/capstanhq/capstan/pkg/pluginsdk"
)

var argsSchema = []byte(`{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"repeat": {"type": "integer", "minimum": 1, "maximum": 10}
	},
	"required": ["text"],
	"additionalProperties": false
}`)

// Shout uppercases text. A "suffix" setting is appended to every result.
type Shout struct {
	suffix string
}

// Configure receives host-supplied settings before the first Execute.
func (s *Shout) Configure(settings map[string]any) error {
	if raw, ok := settings["suffix"]; ok {
		suffix, ok := raw.(string)
		if !ok {
			return fmt.Errorf("suffix must be a string, got %T", raw)
		}
		s.suffix = suffix
	}
	return nil
}

// Execute uppercases args["text"], repeated args["repeat"] times.
func (s *Shout) Execute(_ context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text must be a string")
	}

	repeat := 1
	if raw, ok := args["repeat"].(float64); ok {
		repeat = int(raw)
	}

	shouted := strings.ToUpper(text) + s.suffix
	parts := make([]string, repeat)
	for i := range parts {
		parts[i] = shouted
	}
	return strings.Join(parts, " "), nil
}

func main() {
	pluginsdk.Serve(&pluginsdk.ServeConfig{
		Name:        "shout",
		Version:     "1.0.0",
		Description: "Uppercases text, loudly",
		ArgsSchema:  argsSchema,
		Handler:     &Shout{},
	})
}
