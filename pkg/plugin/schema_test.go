// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package plugin_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/capstanhq/capstan/pkg/plugin"
)

func TestValidateConfigSchema_ValidConfig(t *testing.T) {
	yaml := `
min-sdk-version: "1.0.0"
dependencies:
  auth: "^1.0.0"
sandbox:
  execution-timeout: 5s
  max-memory-mb: 64
settings:
  prefix: "echo: "
`
	err := plugin.ValidateConfigSchema([]byte(yaml))
	if err != nil {
		t.Errorf("ValidateConfigSchema() error = %v, want nil", err)
	}
}

func TestValidateConfigSchema_MinimalConfig(t *testing.T) {
	err := plugin.ValidateConfigSchema([]byte("settings: {}\n"))
	if err != nil {
		t.Errorf("ValidateConfigSchema() error = %v, want nil", err)
	}
}

func TestValidateConfigSchema_BadDurationFormat(t *testing.T) {
	yaml := `
sandbox:
  execution-timeout: fast
`
	err := plugin.ValidateConfigSchema([]byte(yaml))
	if err == nil {
		t.Error("ValidateConfigSchema() expected error for non-duration timeout")
	}
}

func TestValidateConfigSchema_WrongFieldType(t *testing.T) {
	yaml := `
dependencies: "not a map"
`
	err := plugin.ValidateConfigSchema([]byte(yaml))
	if err == nil {
		t.Error("ValidateConfigSchema() expected error for wrong dependencies type")
	}
}

func TestValidateConfigSchema_EmptyInput(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "nil input", input: nil},
		{name: "empty slice", input: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plugin.ValidateConfigSchema(tt.input)
			if err == nil {
				t.Error("ValidateConfigSchema() expected error for empty input")
			}
		})
	}
}

func TestValidateConfigSchema_InvalidYAML(t *testing.T) {
	yaml := `dependencies: [invalid`
	err := plugin.ValidateConfigSchema([]byte(yaml))
	if err == nil {
		t.Error("ValidateConfigSchema() expected error for invalid YAML")
	}
}

func TestGenerateConfigSchema(t *testing.T) {
	schema, err := plugin.GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema() error = %v", err)
	}

	if len(schema) == 0 {
		t.Error("GenerateConfigSchema() returned empty schema")
	}

	schemaStr := string(schema)
	expectedFields := []string{
		`"min-sdk-version"`,
		`"max-sdk-version"`,
		`"dependencies"`,
		`"sandbox"`,
		`"settings"`,
		`"$schema"`,
	}
	for _, field := range expectedFields {
		if !strings.Contains(schemaStr, field) {
			t.Errorf("GenerateConfigSchema() missing expected field %s", field)
		}
	}
}

func TestResetSchemaCache(t *testing.T) {
	yaml := "settings: {}\n"

	// First validation compiles and caches the schema
	if err := plugin.ValidateConfigSchema([]byte(yaml)); err != nil {
		t.Fatalf("ValidateConfigSchema() error = %v", err)
	}

	plugin.ResetSchemaCache()

	// Validation should still work (recompiles schema)
	if err := plugin.ValidateConfigSchema([]byte(yaml)); err != nil {
		t.Errorf("ValidateConfigSchema() after reset error = %v", err)
	}
}

func TestSchemaID(t *testing.T) {
	id := plugin.SchemaID()
	if id == "" {
		t.Error("SchemaID() returned empty string")
	}
	if !strings.Contains(id, "capstan") {
		t.Errorf("SchemaID() = %q, want to contain 'capstan'", id)
	}
}

func TestFormatSchemaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			want: "",
		},
		{
			name: "simple error",
			err:  fmt.Errorf("test error"),
			want: "test error",
		},
		{
			name: "schema validation error",
			err:  fmt.Errorf("schema validation failed: missing required field"),
			want: "missing required field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := plugin.FormatSchemaError(tt.err)
			if got != tt.want {
				t.Errorf("FormatSchemaError() = %q, want %q", got, tt.want)
			}
		})
	}
}
