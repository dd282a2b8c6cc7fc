// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package registry

import (
	"context"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/pkg/plugin"
)

// StartPlugin starts a plugin, enforcing the lifecycle state machine
// and dependency ordering: every declared dependency must already be
// started. Plugins implementing the Background capability have their
// Start invoked between the starting and started transitions.
func (r *Registry) StartPlugin(ctx context.Context, name string) error {
	if _, ok := r.Plugin(name); !ok {
		return oops.In("registry").
			Code("PLUGIN_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrNotFound, "plugin %s is not registered", name)
	}

	return r.lifecycle.Start(ctx, name, func(ctx context.Context) error {
		return r.startBackground(ctx, name)
	})
}

// StopPlugin stops a plugin. Fails while any started plugin still
// declares a dependency on it: dependents must stop first.
func (r *Registry) StopPlugin(ctx context.Context, name string) error {
	if _, ok := r.Plugin(name); !ok {
		return oops.In("registry").
			Code("PLUGIN_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrNotFound, "plugin %s is not registered", name)
	}

	return r.lifecycle.Stop(ctx, name, func(ctx context.Context) error {
		return r.stopBackground(ctx, name)
	})
}

// SuspendPlugin transitions a started plugin to suspended.
func (r *Registry) SuspendPlugin(name string) error {
	return r.lifecycle.Suspend(name)
}

// ResumePlugin transitions a suspended plugin back to started.
func (r *Registry) ResumePlugin(name string) error {
	return r.lifecycle.Resume(name)
}

// startBackground invokes the Background capability's Start when the
// plugin implements it; other plugins start with a pure state change.
func (r *Registry) startBackground(ctx context.Context, name string) error {
	r.mu.Lock()
	bg, ok := r.backgroundIdx[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return bg.Start(ctx)
}

// stopBackground mirrors startBackground for Stop.
func (r *Registry) stopBackground(ctx context.Context, name string) error {
	r.mu.Lock()
	bg, ok := r.backgroundIdx[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return bg.Stop(ctx)
}

// Background returns the Background capability view of a plugin, when
// implemented.
func (r *Registry) Background(name string) (plugin.Background, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bg, ok := r.backgroundIdx[name]
	return bg, ok
}
