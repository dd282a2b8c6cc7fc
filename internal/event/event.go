// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package event defines the typed lifecycle/error event records the
// registry and lifecycle manager publish, and a broadcast sink for
// external consumers.
package event

import (
	"time"

	oklogulid "github.com/oklog/ulid/v2"

	"github.com/capstanhq/capstan/internal/ulid"
)

// Type identifies the kind of host event.
type Type string

// Event types published by the runtime.
const (
	TypeStateChanged       Type = "state_changed"
	TypePluginRegistered   Type = "plugin_registered"
	TypePluginUnregistered Type = "plugin_unregistered"
	TypePluginError        Type = "plugin_error"
)

// Event is a structured record describing something that happened to a
// registered plugin. Fields carries event-specific attributes such as
// previous/new lifecycle state or an error string.
type Event struct {
	ID        oklogulid.ULID
	Type      Type
	Plugin    string
	Timestamp time.Time
	Fields    map[string]any
}

// New creates an event stamped with a fresh ULID and the current time.
func New(t Type, pluginName string, fields map[string]any) Event {
	return Event{
		ID:        ulid.New(),
		Type:      t,
		Plugin:    pluginName,
		Timestamp: time.Now(),
		Fields:    fields,
	}
}

// Sink receives host events. Implementations must not block; slow
// consumers should buffer internally.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}
