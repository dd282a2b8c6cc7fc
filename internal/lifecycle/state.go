// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package lifecycle owns the per-plugin state machine and the
// dependency-ordered start/stop sequencing.
package lifecycle

// State is a plugin lifecycle state.
type State string

// Lifecycle states.
const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateInitialized   State = "initialized"
	StateStarting      State = "starting"
	StateStarted       State = "started"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
	StateSuspended     State = "suspended"
	StateError         State = "error"
)

// transitions is the complete legal transition table. No state change
// outside this table is permitted, by any caller.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateInitialized, StateError},
	StateInitialized:   {StateStarting, StateError},
	StateStarting:      {StateStarted, StateError},
	StateStarted:       {StateStopping, StateSuspended, StateError},
	StateStopping:      {StateStopped, StateError},
	StateStopped:       {StateStarting, StateError},
	StateSuspended:     {StateStarted, StateError},
	StateError:         {StateInitializing, StateStopped},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
