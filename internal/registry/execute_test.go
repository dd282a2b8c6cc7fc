// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstanhq/capstan/internal/sandbox"
	"github.com/capstanhq/capstan/pkg/plugin"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"}
	},
	"required": ["text"],
	"additionalProperties": false
}`

func TestExecuteTool(t *testing.T) {
	r := New()
	tool := &fakeTool{
		fakePlugin: fakePlugin{name: "echo", version: "1.0.0"},
		executeFn: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
	require.NoError(t, r.Register(context.Background(), tool, nil))

	result, err := r.ExecuteTool(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
	assert.Equal(t, 1, tool.executeCalls())
}

func TestExecuteTool_NotFound(t *testing.T) {
	r := New()
	_, err := r.ExecuteTool(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteTool_NotFoundForOtherCapability(t *testing.T) {
	// A prompt plugin is not addressable as a tool.
	r := New()
	p := &fakePrompt{fakePlugin: fakePlugin{name: "greeting", version: "1.0.0"}}
	require.NoError(t, r.Register(context.Background(), p, nil))

	_, err := r.ExecuteTool(context.Background(), "greeting", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteTool_ValidatesArgsAgainstSchema(t *testing.T) {
	r := New()
	tool := &schemaTool{
		fakeTool: fakeTool{fakePlugin: fakePlugin{name: "echo", version: "1.0.0"}},
		schema:   []byte(echoSchema),
	}
	require.NoError(t, r.Register(context.Background(), tool, nil))

	_, err := r.ExecuteTool(context.Background(), "echo", map[string]any{"text": true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArgsInvalid)
	assert.Equal(t, 0, tool.executeCalls(), "invalid args must never reach Execute")

	_, err = r.ExecuteTool(context.Background(), "echo", map[string]any{"unknown": "x"})
	assert.ErrorIs(t, err, ErrArgsInvalid)

	result, err := r.ExecuteTool(context.Background(), "echo", map[string]any{"text": "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExecuteTool_NilArgsValidateAsEmptyObject(t *testing.T) {
	r := New()
	tool := &schemaTool{
		fakeTool: fakeTool{fakePlugin: fakePlugin{name: "echo", version: "1.0.0"}},
		schema:   []byte(`{"type": "object"}`),
	}
	require.NoError(t, r.Register(context.Background(), tool, nil))

	_, err := r.ExecuteTool(context.Background(), "echo", nil)
	assert.NoError(t, err)
}

func TestExecuteTool_RetriesTransientFailures(t *testing.T) {
	r := New(WithExecuteRetries(2))
	attempts := 0
	tool := &fakeTool{
		fakePlugin: fakePlugin{name: "flaky", version: "1.0.0"},
		executeFn: func(context.Context, map[string]any) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient")
			}
			return "recovered", nil
		},
	}
	require.NoError(t, r.Register(context.Background(), tool, nil))

	result, err := r.ExecuteTool(context.Background(), "flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, attempts)
}

func TestExecuteTool_RetryBudgetExhausted(t *testing.T) {
	r := New(WithExecuteRetries(2))
	boom := errors.New("persistent failure")
	tool := &fakeTool{
		fakePlugin: fakePlugin{name: "broken", version: "1.0.0"},
		executeFn: func(context.Context, map[string]any) (any, error) {
			return nil, boom
		},
	}
	require.NoError(t, r.Register(context.Background(), tool, nil))

	_, err := r.ExecuteTool(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, tool.executeCalls(), "initial attempt plus two retries")
}

func TestExecuteTool_TimeoutIsTerminal(t *testing.T) {
	r := New()
	release := make(chan struct{})
	defer close(release)

	tool := &fakeTool{
		fakePlugin: fakePlugin{name: "slow", version: "1.0.0"},
		executeFn: func(context.Context, map[string]any) (any, error) {
			<-release
			return nil, nil
		},
	}
	cfg := &plugin.Config{Sandbox: &plugin.SandboxConfig{
		ExecutionTimeout: plugin.Duration(20 * time.Millisecond),
	}}
	require.NoError(t, r.Register(context.Background(), tool, cfg))

	_, err := r.ExecuteTool(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sandbox.ErrTimeout)
	assert.Equal(t, 1, tool.executeCalls(), "timeouts must not be retried")
}

func TestExecuteTool_CallerCancellation(t *testing.T) {
	r := New()
	tool := &fakeTool{
		fakePlugin: fakePlugin{name: "echo", version: "1.0.0"},
		executeFn: func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, r.Register(context.Background(), tool, nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.ExecuteTool(ctx, "echo", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, sandbox.ErrTimeout)
}

func TestExecutePrompt(t *testing.T) {
	r := New()
	p := &fakePrompt{fakePlugin: fakePlugin{name: "greeting", version: "1.0.0"}}
	require.NoError(t, r.Register(context.Background(), p, nil))

	result, err := r.ExecutePrompt(context.Background(), "greeting", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "prompt result", result)
}

func TestExecutePrompt_NotFound(t *testing.T) {
	r := New()
	_, err := r.ExecutePrompt(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestGetResource(t *testing.T) {
	r := New()
	res := &fakeResource{fakePlugin: fakePlugin{name: "sysinfo", version: "1.0.0"}}
	require.NoError(t, r.Register(context.Background(), res, nil))

	result, err := r.GetResource(context.Background(), "sysinfo", "sysinfo://runtime", nil)
	require.NoError(t, err)
	assert.Equal(t, "resource:sysinfo://runtime", result)
}

func TestGetResource_NotFound(t *testing.T) {
	r := New()
	_, err := r.GetResource(context.Background(), "ghost", "x://y", nil)
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestShowNotification(t *testing.T) {
	r := New()
	n := &fakeNotifier{fakePlugin: fakePlugin{name: "notifier", version: "1.0.0"}}
	require.NoError(t, r.Register(context.Background(), n, nil))

	require.NoError(t, r.ShowNotification(context.Background(), "notifier", "Build done", "all green"))
	assert.Equal(t, "Build done", n.lastTitle)
	assert.Equal(t, "all green", n.lastBody)
}

func TestShowNotification_NotFound(t *testing.T) {
	r := New()
	err := r.ShowNotification(context.Background(), "ghost", "t", "b")
	assert.ErrorIs(t, err, ErrNotFound)
}
