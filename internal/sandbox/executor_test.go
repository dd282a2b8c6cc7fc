// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstanhq/capstan/pkg/plugin"
)

func timeoutPolicy(t *testing.T, d time.Duration) *Policy {
	t.Helper()
	pol, err := Compile(&plugin.SandboxConfig{ExecutionTimeout: plugin.Duration(d)})
	require.NoError(t, err)
	return pol
}

func TestExecutor_NilPolicyRunsDirectly(t *testing.T) {
	e := NewExecutor()

	result, err := e.Run(context.Background(), "echo", nil, func(context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestExecutor_CompletesWithinTimeout(t *testing.T) {
	e := NewExecutor()

	result, err := e.Run(context.Background(), "echo", timeoutPolicy(t, time.Second),
		func(context.Context) (any, error) {
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExecutor_OperationError(t *testing.T) {
	e := NewExecutor()
	boom := errors.New("boom")

	_, err := e.Run(context.Background(), "echo", timeoutPolicy(t, time.Second),
		func(context.Context) (any, error) {
			return nil, boom
		})
	require.ErrorIs(t, err, boom)
}

func TestExecutor_TimeoutAbandonsResult(t *testing.T) {
	e := NewExecutor()

	var finished atomic.Bool
	release := make(chan struct{})

	_, err := e.Run(context.Background(), "slow", timeoutPolicy(t, 20*time.Millisecond),
		func(context.Context) (any, error) {
			<-release
			finished.Store(true)
			return "late", nil
		})
	require.ErrorIs(t, err, ErrTimeout)

	// The operation was not preempted; it completes after being abandoned.
	assert.False(t, finished.Load())
	close(release)
	assert.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
}

func TestExecutor_CallerCancellationIsNotTimeout(t *testing.T) {
	e := NewExecutor()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := e.Run(ctx, "slow", timeoutPolicy(t, time.Minute),
		func(ctx context.Context) (any, error) {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil, ctx.Err()
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestExecutor_OperationSeesDeadline(t *testing.T) {
	e := NewExecutor()

	_, err := e.Run(context.Background(), "slow", timeoutPolicy(t, 10*time.Millisecond),
		func(ctx context.Context) (any, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok, "operation context should carry the deadline")
			<-ctx.Done()
			return nil, ctx.Err()
		})
	require.ErrorIs(t, err, ErrTimeout)
}
