// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package ulid generates process-wide monotonic ULIDs for messages and
// events.
package ulid

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a new ULID. Monotonic within the process, so IDs
// generated in sequence sort in generation order.
func New() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// Parse parses a ULID string.
func Parse(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return id, nil
}
