// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/internal/event"
)

// Sentinel errors for programmatic checks.
var (
	// ErrInvalidTransition is returned for state changes outside the
	// transition table.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrDependencyUnsatisfied is returned when a start/stop would
	// violate dependency ordering.
	ErrDependencyUnsatisfied = errors.New("dependency unsatisfied")
	// ErrUnknownPlugin is returned for plugins the manager does not
	// track.
	ErrUnknownPlugin = errors.New("unknown plugin")
)

// Listener observes state changes. Listeners are best-effort: a
// panicking listener is logged and the transition still stands.
type Listener func(pluginName string, from, to State)

// Manager tracks lifecycle state per plugin, validates transitions,
// enforces dependency ordering for start/stop, and emits events.
//
// Manager is safe for concurrent use. Only the registry should mutate
// it; external code observes through listeners and the event sink.
type Manager struct {
	mu        sync.RWMutex
	states    map[string]State
	deps      map[string][]string // plugin -> declared dependencies
	startSeq  []string            // successful starts, in order
	listeners []Listener
	sink      event.Sink
}

// NewManager creates a lifecycle manager emitting to the given sink.
func NewManager(sink event.Sink) *Manager {
	if sink == nil {
		sink = event.NopSink{}
	}
	return &Manager{
		states: make(map[string]State),
		deps:   make(map[string][]string),
		sink:   sink,
	}
}

// AddListener registers a state-change listener.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Add begins tracking a plugin in the uninitialized state with its
// declared dependencies.
func (m *Manager) Add(name string, deps []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = StateUninitialized
	m.deps[name] = slices.Clone(deps)
}

// Remove stops tracking a plugin entirely: state, dependency edges, and
// any position in the start sequence.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, name)
	delete(m.deps, name)
	m.removeFromStartSeqLocked(name)
}

// StateOf returns the current state of a plugin, or StateUninitialized
// with ok=false for untracked plugins.
func (m *Manager) StateOf(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[name]
	if !ok {
		return StateUninitialized, false
	}
	return s, true
}

// Dependencies returns a copy of a plugin's declared dependencies.
func (m *Manager) Dependencies(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.deps[name])
}

// StartSequence returns a copy of the ordered list of started plugins.
// Shutdown walks this in reverse so dependents stop before their
// dependencies.
func (m *Manager) StartSequence() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.startSeq)
}

// UpdateState transitions a plugin to a new state, validating against
// the transition table and notifying listeners and the event sink.
func (m *Manager) UpdateState(name string, to State) error {
	m.mu.Lock()
	from, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return oops.In("lifecycle").
			Code("UNKNOWN_PLUGIN").
			With("plugin", name).
			Wrapf(ErrUnknownPlugin, "plugin %s is not tracked", name)
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return oops.In("lifecycle").
			Code("INVALID_STATE_TRANSITION").
			With("plugin", name).
			With("from", string(from)).
			With("to", string(to)).
			Wrapf(ErrInvalidTransition, "plugin %s cannot transition %s -> %s", name, from, to)
	}
	m.states[name] = to
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	m.notify(listeners, name, from, to)
	m.sink.Emit(event.New(event.TypeStateChanged, name, map[string]any{
		"from": string(from),
		"to":   string(to),
	}))
	return nil
}

// notify invokes listeners outside the manager lock. Listener failures
// never propagate.
func (m *Manager) notify(listeners []Listener, name string, from, to State) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("lifecycle listener panicked",
						"plugin", name,
						"from", string(from),
						"to", string(to),
						"panic", r)
				}
			}()
			l(name, from, to)
		}()
	}
}

// Start transitions a plugin initialized|stopped -> starting -> started,
// running fn between the transitions. Every declared dependency must
// already be started. A failing fn moves the plugin to error and the
// underlying error is returned.
func (m *Manager) Start(ctx context.Context, name string, fn func(context.Context) error) error {
	m.mu.Lock()
	state, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return oops.In("lifecycle").
			Code("UNKNOWN_PLUGIN").
			With("plugin", name).
			Wrapf(ErrUnknownPlugin, "plugin %s is not tracked", name)
	}
	if state != StateInitialized && state != StateStopped {
		m.mu.Unlock()
		return oops.In("lifecycle").
			Code("INVALID_STATE_TRANSITION").
			With("plugin", name).
			With("from", string(state)).
			With("to", string(StateStarting)).
			Wrapf(ErrInvalidTransition, "plugin %s cannot start from %s", name, state)
	}
	for _, dep := range m.deps[name] {
		if m.states[dep] != StateStarted {
			depState := m.states[dep]
			m.mu.Unlock()
			return oops.In("lifecycle").
				Code("DEPENDENCY_UNSATISFIED").
				With("plugin", name).
				With("dependency", dep).
				With("dependency_state", string(depState)).
				Wrapf(ErrDependencyUnsatisfied, "plugin %s requires %s to be started, is %s", name, dep, depState)
		}
	}
	m.mu.Unlock()

	if err := m.UpdateState(name, StateStarting); err != nil {
		return err
	}

	if fn != nil {
		if err := fn(ctx); err != nil {
			if stateErr := m.UpdateState(name, StateError); stateErr != nil {
				slog.Error("failed to record error state",
					"plugin", name,
					"error", stateErr)
			}
			return oops.In("lifecycle").
				Code("START_FAILED").
				With("plugin", name).
				Wrap(err)
		}
	}

	if err := m.UpdateState(name, StateStarted); err != nil {
		return err
	}

	m.mu.Lock()
	m.startSeq = append(m.startSeq, name)
	m.mu.Unlock()

	return nil
}

// Stop transitions a plugin started -> stopping -> stopped, running fn
// between the transitions. Fails while any other started plugin still
// declares a dependency on name: dependents must stop first.
func (m *Manager) Stop(ctx context.Context, name string, fn func(context.Context) error) error {
	m.mu.Lock()
	state, ok := m.states[name]
	if !ok {
		m.mu.Unlock()
		return oops.In("lifecycle").
			Code("UNKNOWN_PLUGIN").
			With("plugin", name).
			Wrapf(ErrUnknownPlugin, "plugin %s is not tracked", name)
	}
	if state != StateStarted {
		m.mu.Unlock()
		return oops.In("lifecycle").
			Code("INVALID_STATE_TRANSITION").
			With("plugin", name).
			With("from", string(state)).
			With("to", string(StateStopping)).
			Wrapf(ErrInvalidTransition, "plugin %s cannot stop from %s", name, state)
	}
	for other, deps := range m.deps {
		if other == name || m.states[other] != StateStarted {
			continue
		}
		if slices.Contains(deps, name) {
			m.mu.Unlock()
			return oops.In("lifecycle").
				Code("DEPENDENCY_UNSATISFIED").
				With("plugin", name).
				With("dependent", other).
				Wrapf(ErrDependencyUnsatisfied, "plugin %s is still required by started plugin %s", name, other)
		}
	}
	m.mu.Unlock()

	if err := m.UpdateState(name, StateStopping); err != nil {
		return err
	}

	if fn != nil {
		if err := fn(ctx); err != nil {
			if stateErr := m.UpdateState(name, StateError); stateErr != nil {
				slog.Error("failed to record error state",
					"plugin", name,
					"error", stateErr)
			}
			return oops.In("lifecycle").
				Code("STOP_FAILED").
				With("plugin", name).
				Wrap(err)
		}
	}

	if err := m.UpdateState(name, StateStopped); err != nil {
		return err
	}

	m.mu.Lock()
	m.removeFromStartSeqLocked(name)
	m.mu.Unlock()

	return nil
}

// Suspend transitions started -> suspended.
func (m *Manager) Suspend(name string) error {
	return m.UpdateState(name, StateSuspended)
}

// Resume transitions suspended -> started.
func (m *Manager) Resume(name string) error {
	m.mu.RLock()
	state, ok := m.states[name]
	m.mu.RUnlock()
	if !ok {
		return oops.In("lifecycle").
			Code("UNKNOWN_PLUGIN").
			With("plugin", name).
			Wrapf(ErrUnknownPlugin, "plugin %s is not tracked", name)
	}
	if state != StateSuspended {
		return oops.In("lifecycle").
			Code("INVALID_STATE_TRANSITION").
			With("plugin", name).
			With("from", string(state)).
			With("to", string(StateStarted)).
			Wrapf(ErrInvalidTransition, "plugin %s cannot resume from %s", name, state)
	}
	return m.UpdateState(name, StateStarted)
}

// ShutdownAll stops every started plugin in reverse start order, so
// dependents always stop before their dependencies. Per-plugin errors
// are collected, never raised mid-walk; the aggregate is returned.
func (m *Manager) ShutdownAll(ctx context.Context, stopFn func(context.Context, string) error) error {
	seq := m.StartSequence()

	var errs []error
	for i := len(seq) - 1; i >= 0; i-- {
		name := seq[i]
		if err := m.Stop(ctx, name, func(ctx context.Context) error {
			if stopFn == nil {
				return nil
			}
			return stopFn(ctx, name)
		}); err != nil {
			slog.Error("plugin failed to stop during shutdown",
				"plugin", name,
				"error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// removeFromStartSeqLocked removes name from the start sequence. Caller
// holds m.mu.
func (m *Manager) removeFromStartSeqLocked(name string) {
	for i, n := range m.startSeq {
		if n == name {
			m.startSeq = append(m.startSeq[:i], m.startSeq[i+1:]...)
			return
		}
	}
}
