// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package builtin provides the in-process plugins that ship with the
// Capstan host. They double as reference implementations for each
// capability interface.
package builtin

import (
	"context"
	"strings"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/pkg/plugin"
)

// EchoVersion is the version advertised by the echo plugin.
const EchoVersion = "1.0.0"

// echoArgsSchema validates Execute arguments for the echo tool.
var echoArgsSchema = []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "text": {"type": "string"},
    "uppercase": {"type": "boolean"}
  },
  "required": ["text"],
  "additionalProperties": false
}`)

// Compile-time interface checks.
var (
	_ plugin.Tool               = (*Echo)(nil)
	_ plugin.ArgsSchemaProvider = (*Echo)(nil)
)

// Echo is a tool plugin that returns its input text, optionally
// uppercased. A configured prefix is prepended to every result.
type Echo struct {
	prefix string
}

// NewEcho creates the echo tool plugin.
func NewEcho() *Echo {
	return &Echo{}
}

func (e *Echo) Name() string        { return "echo" }
func (e *Echo) Version() string     { return EchoVersion }
func (e *Echo) Description() string { return "Returns its input text" }

// ArgsSchema returns the JSON Schema for Execute arguments.
func (e *Echo) ArgsSchema() []byte { return echoArgsSchema }

// Initialize reads the optional "prefix" setting.
func (e *Echo) Initialize(_ context.Context, settings map[string]any) error {
	if raw, ok := settings["prefix"]; ok {
		prefix, ok := raw.(string)
		if !ok {
			return oops.In("builtin").Code("INVALID_SETTING").
				With("setting", "prefix").
				Errorf("prefix must be a string, got %T", raw)
		}
		e.prefix = prefix
	}
	return nil
}

// Execute returns the input text with the configured prefix applied.
func (e *Echo) Execute(_ context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, oops.In("builtin").Code("INVALID_ARGS").
			Errorf("text must be a string")
	}
	if upper, _ := args["uppercase"].(bool); upper {
		text = strings.ToUpper(text)
	}
	return e.prefix + text, nil
}

// Shutdown resets the configured prefix.
func (e *Echo) Shutdown(context.Context) error {
	e.prefix = ""
	return nil
}
