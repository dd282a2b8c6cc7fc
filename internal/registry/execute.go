// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sethvargo/go-retry"

	"github.com/capstanhq/capstan/internal/sandbox"
)

// retryBackoff is the constant delay between execution retries.
const retryBackoff = 50 * time.Millisecond

// ExecuteTool invokes a tool plugin by name. Lookup and argument
// validation failures are returned directly; only the underlying
// operation call is retried, up to the configured bounded count, then
// wrapped as an execution failure.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args map[string]any) (any, error) {
	started := time.Now()

	r.mu.Lock()
	t, ok := r.toolIdx[name]
	var pol *sandbox.Policy
	var sch *jschema.Schema
	if ok {
		ent := r.entries[name]
		pol = ent.policy
		sch = ent.argsSchema
	}
	r.mu.Unlock()

	if !ok {
		recordExecution(string(CapabilityTool), StatusNotFound, started)
		return nil, oops.In("registry").
			Code("TOOL_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrToolNotFound, "no tool plugin named %s", name)
	}

	if sch != nil {
		if err := sch.Validate(normalizeArgs(args)); err != nil {
			recordExecution(string(CapabilityTool), StatusError, started)
			return nil, oops.In("registry").
				Code("ARGS_INVALID").
				With("plugin", name).
				Wrapf(ErrArgsInvalid, "tool arguments rejected by schema: %v", err)
		}
	}

	return r.invoke(ctx, string(CapabilityTool), name, pol, started, func(ctx context.Context) (any, error) {
		return t.Execute(ctx, args)
	})
}

// ExecutePrompt invokes a prompt plugin by name.
func (r *Registry) ExecutePrompt(ctx context.Context, name string, args map[string]any) (any, error) {
	started := time.Now()

	r.mu.Lock()
	p, ok := r.promptIdx[name]
	var pol *sandbox.Policy
	if ok {
		pol = r.entries[name].policy
	}
	r.mu.Unlock()

	if !ok {
		recordExecution(string(CapabilityPrompt), StatusNotFound, started)
		return nil, oops.In("registry").
			Code("PROMPT_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrPromptNotFound, "no prompt plugin named %s", name)
	}

	return r.invoke(ctx, string(CapabilityPrompt), name, pol, started, func(ctx context.Context) (any, error) {
		return p.ExecutePrompt(ctx, args)
	})
}

// GetResource reads from a resource plugin by name.
func (r *Registry) GetResource(ctx context.Context, name, uri string, params map[string]any) (any, error) {
	started := time.Now()

	r.mu.Lock()
	res, ok := r.resourceIdx[name]
	var pol *sandbox.Policy
	if ok {
		pol = r.entries[name].policy
	}
	r.mu.Unlock()

	if !ok {
		recordExecution(string(CapabilityResource), StatusNotFound, started)
		return nil, oops.In("registry").
			Code("RESOURCE_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrResourceNotFound, "no resource plugin named %s", name)
	}

	return r.invoke(ctx, string(CapabilityResource), name, pol, started, func(ctx context.Context) (any, error) {
		return res.GetResource(ctx, uri, params)
	})
}

// ShowNotification delivers a notification through a notification
// plugin by name.
func (r *Registry) ShowNotification(ctx context.Context, name, title, body string) error {
	started := time.Now()

	r.mu.Lock()
	n, ok := r.notifierIdx[name]
	var pol *sandbox.Policy
	if ok {
		pol = r.entries[name].policy
	}
	r.mu.Unlock()

	if !ok {
		recordExecution(string(CapabilityNotification), StatusNotFound, started)
		return oops.In("registry").
			Code("PLUGIN_NOT_FOUND").
			With("plugin", name).
			Wrapf(ErrNotFound, "no notification plugin named %s", name)
	}

	_, err := r.invoke(ctx, string(CapabilityNotification), name, pol, started, func(ctx context.Context) (any, error) {
		return nil, n.ShowNotification(ctx, title, body)
	})
	return err
}

// invoke runs one capability operation through the sandbox executor
// with the bounded retry policy. Sandbox timeouts are terminal for the
// call; other operation failures retry up to executeRetries times.
func (r *Registry) invoke(ctx context.Context, capability, name string, pol *sandbox.Policy, started time.Time, op sandbox.Operation) (any, error) {
	var value any

	backoff := retry.WithMaxRetries(r.executeRetries, retry.NewConstant(retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		v, err := r.executor.Run(ctx, name, pol, op)
		if err != nil {
			if errors.Is(err, sandbox.ErrTimeout) {
				return err // terminal, never retried
			}
			return retry.RetryableError(err)
		}
		value = v
		return nil
	})
	if err != nil {
		if errors.Is(err, sandbox.ErrTimeout) {
			recordExecution(capability, StatusTimeout, started)
			return nil, err
		}
		recordExecution(capability, StatusError, started)
		return nil, oops.In("registry").
			Code("EXECUTION_FAILED").
			With("plugin", name).
			With("capability", capability).
			With("retries", r.executeRetries).
			Wrap(err)
	}

	recordExecution(capability, StatusSuccess, started)
	return value, nil
}

// normalizeArgs makes a nil args map schema-validatable.
func normalizeArgs(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
