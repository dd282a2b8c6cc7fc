// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package sandbox

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// ErrTimeout is returned when a sandboxed operation exceeds its
// configured execution timeout.
var ErrTimeout = errors.New("sandbox timeout")

// Operation is a single plugin capability invocation.
type Operation func(context.Context) (any, error)

// Executor runs plugin operations under a sandbox policy.
//
// The timeout is best-effort, not preemption: the losing operation is
// not forcibly stopped, only its eventual result is discarded. Plugins
// needing hard termination should be backed by an isolated worker
// process (see sandbox/proc).
type Executor struct{}

// NewExecutor creates an executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// result pairs an operation's return values for channel delivery.
type result struct {
	value any
	err   error
}

// Run invokes op under the given policy. A nil policy or zero timeout
// invokes op directly. Otherwise op races the timeout; on timeout the
// operation's context is canceled, its result is abandoned, and an
// ErrTimeout-wrapping error is returned.
func (e *Executor) Run(ctx context.Context, pluginName string, pol *Policy, op Operation) (any, error) {
	timeout := pol.Timeout()
	if timeout <= 0 {
		return op(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so the goroutine can finish after a timeout abandoned it.
	done := make(chan result, 1)
	go func() {
		value, err := op(opCtx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-opCtx.Done():
		if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			slog.Warn("sandboxed operation timed out, result abandoned",
				"plugin", pluginName,
				"timeout", timeout)
			return nil, oops.In("sandbox").
				Code("SANDBOX_TIMEOUT").
				With("plugin", pluginName).
				With("timeout", timeout.String()).
				Wrapf(ErrTimeout, "plugin %s exceeded execution timeout %s", pluginName, timeout)
		}
		// Caller's context canceled; propagate it unchanged.
		return nil, opCtx.Err()
	}
}
