// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package sandbox

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
)

// ErrBudgetExhausted is returned when a memory pool cannot cover a
// requested budget.
var ErrBudgetExhausted = errors.New("memory budget exhausted")

// Allocation is an opaque handle for a reserved memory budget. The
// registry entry for a plugin owns its allocation and releases it
// exactly once.
type Allocation interface {
	// Tag identifies the allocation; the registry uses the plugin name.
	Tag() string
	// Megabytes is the reserved budget size.
	Megabytes() int64
}

// ResourceManager reserves and releases memory budgets. Enforcement of
// actual usage is the manager's concern; the executor only reserves
// alongside registration and releases alongside unregistration.
type ResourceManager interface {
	AllocateMemory(ctx context.Context, tag string, megabytes int64) (Allocation, error)
	ReleaseMemory(ctx context.Context, tag string) error
}

// allocation is the MemoryPool handle.
type allocation struct {
	tag       string
	megabytes int64
}

func (a *allocation) Tag() string      { return a.tag }
func (a *allocation) Megabytes() int64 { return a.megabytes }

// MemoryPool is an in-process ResourceManager with a fixed capacity.
// Budgets are bookkeeping only; the pool does not police usage.
//
// MemoryPool is safe for concurrent use.
type MemoryPool struct {
	mu       sync.Mutex
	capacity int64
	used     int64
	allocs   map[string]*allocation
}

// NewMemoryPool creates a pool with the given capacity in megabytes.
func NewMemoryPool(capacityMB int64) *MemoryPool {
	return &MemoryPool{
		capacity: capacityMB,
		allocs:   make(map[string]*allocation),
	}
}

// AllocateMemory reserves a budget under tag. Fails when the tag
// already holds an allocation or the pool lacks capacity.
func (p *MemoryPool) AllocateMemory(_ context.Context, tag string, megabytes int64) (Allocation, error) {
	if megabytes <= 0 {
		return nil, oops.In("sandbox").
			Code("INVALID_BUDGET").
			With("tag", tag).
			With("megabytes", megabytes).
			Errorf("memory budget must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.allocs[tag]; ok {
		return nil, oops.In("sandbox").
			Code("DUPLICATE_ALLOCATION").
			With("tag", tag).
			Errorf("tag %s already holds an allocation", tag)
	}
	if p.used+megabytes > p.capacity {
		return nil, oops.In("sandbox").
			Code("BUDGET_EXHAUSTED").
			With("tag", tag).
			With("requested_mb", megabytes).
			With("available_mb", p.capacity-p.used).
			Wrapf(ErrBudgetExhausted, "pool has %dMB free, %dMB requested", p.capacity-p.used, megabytes)
	}

	a := &allocation{tag: tag, megabytes: megabytes}
	p.allocs[tag] = a
	p.used += megabytes
	return a, nil
}

// ReleaseMemory returns a tag's budget to the pool. Releasing an
// unknown tag is a no-op, so release stays idempotent for teardown
// paths.
func (p *MemoryPool) ReleaseMemory(_ context.Context, tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.allocs[tag]
	if !ok {
		return nil
	}
	p.used -= a.megabytes
	delete(p.allocs, tag)
	return nil
}

// UsedMB returns the currently reserved total.
func (p *MemoryPool) UsedMB() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}
