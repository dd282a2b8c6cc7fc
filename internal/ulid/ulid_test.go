// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package ulid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Monotonic(t *testing.T) {
	prev := New()
	for range 100 {
		next := New()
		assert.Equal(t, -1, prev.Compare(next), "IDs must sort in generation order")
		prev = next
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := New().String()
		require.False(t, seen[id], "duplicate ULID %s", id)
		seen[id] = true
	}
}

func TestParse(t *testing.T) {
	id := New()

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not-a-ulid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ULID")
}
