// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package registry

import "errors"

// Sentinel errors for programmatic checks with errors.Is. The oops
// codes attached at the return sites carry the structured context.
var (
	// ErrAlreadyRegistered is returned when a plugin name is already
	// taken in the registry.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// Capability-specific lookup failures. Each execute/read call fails
	// with the kind matching its required capability.
	ErrToolNotFound     = errors.New("tool plugin not found")
	ErrResourceNotFound = errors.New("resource plugin not found")
	ErrPromptNotFound   = errors.New("prompt plugin not found")

	// ErrNotFound is returned by operations that address a plugin by
	// name without requiring a capability.
	ErrNotFound = errors.New("plugin not found")

	// ErrVersionIncompatible is returned when the SDK range check
	// fails at registration.
	ErrVersionIncompatible = errors.New("version incompatible")

	// ErrArgsInvalid is returned when tool arguments fail the plugin's
	// published schema. Never retried.
	ErrArgsInvalid = errors.New("arguments invalid")
)
