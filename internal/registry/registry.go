// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package registry is the plugin host façade: it registers and
// unregisters plugins, indexes them by capability, drives version
// resolution and lifecycle sequencing, and dispatches capability calls
// through the sandbox executor.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/capstanhq/capstan/internal/event"
	"github.com/capstanhq/capstan/internal/lifecycle"
	"github.com/capstanhq/capstan/internal/sandbox"
	"github.com/capstanhq/capstan/internal/version"
	"github.com/capstanhq/capstan/pkg/plugin"
)

// CapabilityType identifies one typed contract a plugin may implement.
type CapabilityType string

// Capability types indexed by the registry.
const (
	CapabilityTool         CapabilityType = "tool"
	CapabilityResource     CapabilityType = "resource"
	CapabilityPrompt       CapabilityType = "prompt"
	CapabilityBackground   CapabilityType = "background"
	CapabilityNotification CapabilityType = "notification"
)

// DefaultSDKVersion is the host SDK version used when none is supplied.
const DefaultSDKVersion = "1.0.0"

// defaultExecuteRetries is the bounded retry count applied to the
// underlying operation of execute/read calls.
const defaultExecuteRetries = 2

// entry is the registry's record for one registered plugin.
type entry struct {
	plugin     plugin.Plugin
	cfg        *plugin.Config
	pv         *version.PluginVersion
	policy     *sandbox.Policy
	alloc      sandbox.Allocation
	caps       []CapabilityType
	argsSchema *jschema.Schema
}

// Registry is the plugin host façade. Construct one per host process
// with New and pass it explicitly to everything that needs it.
//
// All mutation runs under the registry mutex, so concurrent Register
// calls for one name cannot both pass the duplicate check.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order

	// Per-capability indexes; a composite plugin sits in several,
	// pointing at the same instance.
	toolIdx       map[string]plugin.Tool
	resourceIdx   map[string]plugin.Resource
	promptIdx     map[string]plugin.Prompt
	backgroundIdx map[string]plugin.Background
	notifierIdx   map[string]plugin.Notification

	resolver    *version.Resolver
	lifecycle   *lifecycle.Manager
	executor    *sandbox.Executor
	resourceMgr sandbox.ResourceManager
	sink        event.Sink

	strictConflicts bool
	executeRetries  uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithSDKVersion sets the host SDK version plugins are checked against.
// Panics on an unparseable version; the host SDK version is build
// configuration, not user input.
func WithSDKVersion(v string) Option {
	return func(r *Registry) {
		r.resolver = version.NewResolver(semver.MustParse(v))
	}
}

// WithResourceManager sets the resource manager used for memory
// budgets. Without one, sandbox configs declaring a budget fail
// registration.
func WithResourceManager(rm sandbox.ResourceManager) Option {
	return func(r *Registry) {
		r.resourceMgr = rm
	}
}

// WithStrictConflictCheck enables CheckConflicts during registration:
// a new plugin is rejected when a registered plugin's constraint on it
// is violated.
func WithStrictConflictCheck() Option {
	return func(r *Registry) {
		r.strictConflicts = true
	}
}

// WithEventSink sets the sink lifecycle and registry events publish to.
func WithEventSink(sink event.Sink) Option {
	return func(r *Registry) {
		r.sink = sink
	}
}

// WithExecuteRetries overrides the bounded retry count for execute/read
// calls.
func WithExecuteRetries(n uint64) Option {
	return func(r *Registry) {
		r.executeRetries = n
	}
}

// New creates a registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:        make(map[string]*entry),
		toolIdx:        make(map[string]plugin.Tool),
		resourceIdx:    make(map[string]plugin.Resource),
		promptIdx:      make(map[string]plugin.Prompt),
		backgroundIdx:  make(map[string]plugin.Background),
		notifierIdx:    make(map[string]plugin.Notification),
		executor:       sandbox.NewExecutor(),
		sink:           event.NopSink{},
		executeRetries: defaultExecuteRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resolver == nil {
		r.resolver = version.NewResolver(semver.MustParse(DefaultSDKVersion))
	}
	r.lifecycle = lifecycle.NewManager(r.sink)
	return r
}

// Lifecycle exposes the lifecycle manager for listener registration and
// state queries.
func (r *Registry) Lifecycle() *lifecycle.Manager {
	return r.lifecycle
}

// capabilitiesOf derives the capability set from the runtime type of a
// plugin instance. Explicit type switches instead of reflection; a
// composite plugin yields several entries.
func capabilitiesOf(p plugin.Plugin) []CapabilityType {
	var caps []CapabilityType
	if _, ok := p.(plugin.Tool); ok {
		caps = append(caps, CapabilityTool)
	}
	if _, ok := p.(plugin.Resource); ok {
		caps = append(caps, CapabilityResource)
	}
	if _, ok := p.(plugin.Prompt); ok {
		caps = append(caps, CapabilityPrompt)
	}
	if _, ok := p.(plugin.Background); ok {
		caps = append(caps, CapabilityBackground)
	}
	if _, ok := p.(plugin.Notification); ok {
		caps = append(caps, CapabilityNotification)
	}
	return caps
}

// Register validates, initializes, and indexes a plugin. On any
// failure the registry is left unchanged: no partial index and no
// leaked memory budget.
func (r *Registry) Register(ctx context.Context, p plugin.Plugin, cfg *plugin.Config) error {
	name := p.Name()
	errb := oops.In("registry").With("plugin", name)

	if err := plugin.ValidateName(name); err != nil {
		return errb.Code("INVALID_NAME").Wrap(err)
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return errb.Code("INVALID_CONFIG").Wrap(err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; ok {
		return errb.Code("PLUGIN_ALREADY_REGISTERED").
			Wrapf(ErrAlreadyRegistered, "plugin %s is already registered", name)
	}

	pv, err := version.Derive(name, p.Version(), cfg)
	if err != nil {
		return err
	}

	if !r.resolver.IsSDKCompatible(pv) {
		return errb.Code("VERSION_INCOMPATIBLE").
			With("sdk", r.resolver.SDK().String()).
			With("min_sdk", sdkBound(pv.MinSDK)).
			With("max_sdk", sdkBound(pv.MaxSDK)).
			Wrapf(ErrVersionIncompatible, "plugin %s does not support host SDK %s", name, r.resolver.SDK())
	}

	if r.strictConflicts {
		if err := version.CheckConflicts(pv, r.versionsLocked()); err != nil {
			return err
		}
	}

	ent := &entry{plugin: p, cfg: cfg, pv: pv, caps: capabilitiesOf(p)}

	if cfg != nil && cfg.Sandbox != nil {
		pol, err := sandbox.Compile(cfg.Sandbox)
		if err != nil {
			return errb.Code("INVALID_SANDBOX").Wrap(err)
		}
		ent.policy = pol

		if budget := pol.MemoryBudgetMB(); budget > 0 {
			if r.resourceMgr == nil {
				return errb.Code("NO_RESOURCE_MANAGER").
					With("budget_mb", budget).
					Errorf("sandbox declares a memory budget but no resource manager is configured")
			}
			alloc, err := r.resourceMgr.AllocateMemory(ctx, name, budget)
			if err != nil {
				return errb.Code("ALLOCATION_FAILED").With("budget_mb", budget).Wrap(err)
			}
			ent.alloc = alloc
		}
	}

	// An empty schema means the plugin publishes none; args pass unchecked.
	if sp, ok := p.(plugin.ArgsSchemaProvider); ok {
		if raw := sp.ArgsSchema(); len(raw) > 0 {
			sch, err := compileArgsSchema(name, raw)
			if err != nil {
				r.releaseAllocationLocked(ctx, ent)
				return err
			}
			ent.argsSchema = sch
		}
	}

	// Drive uninitialized -> initializing -> initialized around the
	// plugin's own Initialize. Failure rolls the state to error and
	// releases anything allocated above; the entry is never indexed.
	r.lifecycle.Add(name, dependencyNames(cfg))
	if err := r.initializeLocked(ctx, ent); err != nil {
		r.releaseAllocationLocked(ctx, ent)
		r.lifecycle.Remove(name)
		registrationsTotal.WithLabelValues(StatusError).Inc()
		r.sink.Emit(event.New(event.TypePluginError, name, map[string]any{
			"operation": "register",
			"error":     err.Error(),
		}))
		return err
	}

	r.entries[name] = ent
	r.order = append(r.order, name)
	r.indexLocked(name, ent)

	registrationsTotal.WithLabelValues(StatusSuccess).Inc()
	activePlugins.Inc()
	r.sink.Emit(event.New(event.TypePluginRegistered, name, map[string]any{
		"version":      pv.Version.String(),
		"capabilities": capabilityStrings(ent.caps),
	}))
	slog.Info("registered plugin",
		"plugin", name,
		"version", pv.Version.String(),
		"capabilities", capabilityStrings(ent.caps))
	return nil
}

// initializeLocked walks the plugin through initializing ->
// initialized, invoking Initialize with the configured settings.
func (r *Registry) initializeLocked(ctx context.Context, ent *entry) error {
	name := ent.plugin.Name()
	if err := r.lifecycle.UpdateState(name, lifecycle.StateInitializing); err != nil {
		return err
	}

	var settings map[string]any
	if ent.cfg != nil {
		settings = ent.cfg.Settings
	}
	if err := ent.plugin.Initialize(ctx, settings); err != nil {
		if stateErr := r.lifecycle.UpdateState(name, lifecycle.StateError); stateErr != nil {
			slog.Error("failed to record error state", "plugin", name, "error", stateErr)
		}
		return oops.In("registry").
			Code("PLUGIN_INIT_FAILED").
			With("plugin", name).
			Hint("plugin Initialize returned an error").
			Wrap(err)
	}

	return r.lifecycle.UpdateState(name, lifecycle.StateInitialized)
}

// Unregister tears a plugin down symmetrically: kill any isolated
// execution context, release the memory budget, call Shutdown, and
// remove every index and lifecycle record. Shutdown failures are
// logged, never allowed to leak a half-torn-down entry.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[name]
	if !ok {
		return oops.In("registry").
			Code("PLUGIN_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrNotFound, "plugin %s is not registered", name)
	}

	if k, ok := ent.plugin.(plugin.Killer); ok {
		k.Kill()
	}

	r.releaseAllocationLocked(ctx, ent)

	if err := ent.plugin.Shutdown(ctx); err != nil {
		slog.Error("plugin shutdown failed during unregistration, removing anyway",
			"plugin", name,
			"error", err)
	}

	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.unindexLocked(name)
	r.lifecycle.Remove(name)

	activePlugins.Dec()
	r.sink.Emit(event.New(event.TypePluginUnregistered, name, nil))
	slog.Info("unregistered plugin", "plugin", name)
	return nil
}

// UpdateConfiguration replaces a plugin's settings by calling Shutdown
// and then Initialize with the new settings. Failures are surfaced,
// not rolled back: the plugin is left in whatever state the failed
// re-initialization produced and is flagged for attention via the
// error state.
func (r *Registry) UpdateConfiguration(ctx context.Context, name string, cfg *plugin.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[name]
	if !ok {
		return oops.In("registry").
			Code("PLUGIN_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrNotFound, "plugin %s is not registered", name)
	}
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return oops.In("registry").
				Code("INVALID_CONFIG").
				With("plugin", name).
				Wrap(err)
		}
	}

	errb := oops.In("registry").With("plugin", name).Code("CONFIG_UPDATE_FAILED")

	if err := ent.plugin.Shutdown(ctx); err != nil {
		r.markError(name)
		return errb.Hint("shutdown before reconfiguration failed").Wrap(err)
	}

	var settings map[string]any
	if cfg != nil {
		settings = cfg.Settings
	}
	if err := ent.plugin.Initialize(ctx, settings); err != nil {
		r.markError(name)
		return errb.Hint("re-initialization failed, plugin needs attention").Wrap(err)
	}

	ent.cfg = cfg
	slog.Info("updated plugin configuration", "plugin", name)
	return nil
}

// UpdateSandbox replaces a plugin's sandbox policy, releasing any old
// memory budget and reserving the new one.
func (r *Registry) UpdateSandbox(ctx context.Context, name string, sc *plugin.SandboxConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[name]
	if !ok {
		return oops.In("registry").
			Code("PLUGIN_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrNotFound, "plugin %s is not registered", name)
	}

	pol, err := sandbox.Compile(sc)
	if err != nil {
		return oops.In("registry").
			Code("INVALID_SANDBOX").
			With("plugin", name).
			Wrap(err)
	}

	var alloc sandbox.Allocation
	if budget := pol.MemoryBudgetMB(); budget > 0 {
		if r.resourceMgr == nil {
			return oops.In("registry").
				Code("NO_RESOURCE_MANAGER").
				With("plugin", name).
				Errorf("sandbox declares a memory budget but no resource manager is configured")
		}
		// Release the old budget first so the new reservation does not
		// double-count the plugin's own usage.
		r.releaseAllocationLocked(ctx, ent)
		alloc, err = r.resourceMgr.AllocateMemory(ctx, name, budget)
		if err != nil {
			return oops.In("registry").
				Code("ALLOCATION_FAILED").
				With("plugin", name).
				With("budget_mb", budget).
				Wrap(err)
		}
	} else {
		r.releaseAllocationLocked(ctx, ent)
	}

	ent.policy = pol
	ent.alloc = alloc
	if ent.cfg == nil {
		ent.cfg = &plugin.Config{}
	}
	ent.cfg.Sandbox = sc
	return nil
}

// Plugin returns a registered plugin by name. Pure lookup; never
// errors.
func (r *Registry) Plugin(name string) (plugin.Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return ent.plugin, true
}

// PluginsByType returns all plugins implementing a capability, in
// registration order. Pure lookup; never errors.
func (r *Registry) PluginsByType(t CapabilityType) []plugin.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []plugin.Plugin
	for _, name := range r.order {
		ent := r.entries[name]
		if slices.Contains(ent.caps, t) {
			out = append(out, ent.plugin)
		}
	}
	return out
}

// Names returns registered plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// ResolveConflicts audits all registered dependency constraints and
// returns update suggestions for violations. This is the only place a
// plugin's own unmet dependencies surface; call it after registrations
// when strict auditing is desired.
func (r *Registry) ResolveConflicts() []version.UpdateSuggestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return version.ResolveConflicts(r.versionsLocked())
}

// Shutdown stops every started plugin in reverse start order, then
// unregisters all plugins in reverse registration order. Errors are
// aggregated, never short-circuiting the teardown.
func (r *Registry) Shutdown(ctx context.Context) error {
	stopErr := r.lifecycle.ShutdownAll(ctx, func(ctx context.Context, name string) error {
		return r.stopBackground(ctx, name)
	})

	names := r.Names()
	var errs []error
	if stopErr != nil {
		errs = append(errs, stopErr)
	}
	for i := len(names) - 1; i >= 0; i-- {
		if err := r.Unregister(ctx, names[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return oops.In("registry").
			Code("SHUTDOWN_INCOMPLETE").
			Wrap(errors.Join(errs...))
	}
	return nil
}

// markError moves a plugin to the error state, logging rather than
// surfacing transition failures.
func (r *Registry) markError(name string) {
	if err := r.lifecycle.UpdateState(name, lifecycle.StateError); err != nil {
		slog.Error("failed to record error state", "plugin", name, "error", err)
	}
}

// versionsLocked snapshots the registered version records. Caller
// holds r.mu.
func (r *Registry) versionsLocked() map[string]*version.PluginVersion {
	out := make(map[string]*version.PluginVersion, len(r.entries))
	for name, ent := range r.entries {
		out[name] = ent.pv
	}
	return out
}

// releaseAllocationLocked releases an entry's memory budget exactly
// once. Caller holds r.mu.
func (r *Registry) releaseAllocationLocked(ctx context.Context, ent *entry) {
	if ent.alloc == nil {
		return
	}
	if err := r.resourceMgr.ReleaseMemory(ctx, ent.alloc.Tag()); err != nil {
		slog.Error("failed to release memory budget",
			"plugin", ent.plugin.Name(),
			"tag", ent.alloc.Tag(),
			"error", err)
	}
	ent.alloc = nil
}

// indexLocked adds a plugin to each capability index it implements.
// Caller holds r.mu.
func (r *Registry) indexLocked(name string, ent *entry) {
	if t, ok := ent.plugin.(plugin.Tool); ok {
		r.toolIdx[name] = t
	}
	if res, ok := ent.plugin.(plugin.Resource); ok {
		r.resourceIdx[name] = res
	}
	if pr, ok := ent.plugin.(plugin.Prompt); ok {
		r.promptIdx[name] = pr
	}
	if bg, ok := ent.plugin.(plugin.Background); ok {
		r.backgroundIdx[name] = bg
	}
	if n, ok := ent.plugin.(plugin.Notification); ok {
		r.notifierIdx[name] = n
	}
}

// unindexLocked removes a plugin from all capability indexes. Caller
// holds r.mu.
func (r *Registry) unindexLocked(name string) {
	delete(r.toolIdx, name)
	delete(r.resourceIdx, name)
	delete(r.promptIdx, name)
	delete(r.backgroundIdx, name)
	delete(r.notifierIdx, name)
}

// dependencyNames extracts declared dependency names from a config.
func dependencyNames(cfg *plugin.Config) []string {
	if cfg == nil || len(cfg.Dependencies) == 0 {
		return nil
	}
	names := make([]string, 0, len(cfg.Dependencies))
	for name := range cfg.Dependencies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// capabilityStrings renders capability types for logs and events.
func capabilityStrings(caps []CapabilityType) []string {
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}

// sdkBound renders an optional SDK bound for error context.
func sdkBound(v *semver.Version) string {
	if v == nil {
		return "unbounded"
	}
	return v.String()
}

// compileArgsSchema compiles a tool plugin's published args schema.
func compileArgsSchema(name string, raw []byte) (*jschema.Schema, error) {
	errb := oops.In("registry").With("plugin", name).Code("INVALID_ARGS_SCHEMA")

	var schemaData any
	if err := json.Unmarshal(raw, &schemaData); err != nil {
		return nil, errb.Hint("args schema is not valid JSON").Wrap(err)
	}
	c := jschema.NewCompiler()
	resource := name + "-args.schema.json"
	if err := c.AddResource(resource, schemaData); err != nil {
		return nil, errb.Wrap(err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return nil, errb.Wrap(err)
	}
	return sch, nil
}

