// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package builtin

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/internal/bus"
	"github.com/capstanhq/capstan/pkg/plugin"
)

// HeartbeatChannel is the bus channel heartbeat ticks are published to.
const HeartbeatChannel = "system.heartbeat"

// defaultHeartbeatInterval is used when no interval setting is given.
const defaultHeartbeatInterval = 30 * time.Second

// Compile-time interface check.
var _ plugin.Background = (*Heartbeat)(nil)

// Heartbeat is a background plugin that publishes a periodic liveness
// tick on the communication bus. Other plugins subscribe to
// HeartbeatChannel to observe host liveness.
type Heartbeat struct {
	bus      *bus.Bus
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	ticks   atomic.Uint64
}

// NewHeartbeat creates the heartbeat plugin publishing on b.
// Panics if b is nil.
func NewHeartbeat(b *bus.Bus) *Heartbeat {
	if b == nil {
		panic("builtin: bus cannot be nil")
	}
	return &Heartbeat{bus: b, interval: defaultHeartbeatInterval}
}

func (h *Heartbeat) Name() string        { return "heartbeat" }
func (h *Heartbeat) Version() string     { return "1.0.0" }
func (h *Heartbeat) Description() string { return "Publishes periodic liveness ticks" }

// Initialize reads the optional "interval" setting (Go duration string).
func (h *Heartbeat) Initialize(_ context.Context, settings map[string]any) error {
	raw, ok := settings["interval"]
	if !ok {
		return nil
	}
	str, ok := raw.(string)
	if !ok {
		return oops.In("builtin").Code("INVALID_SETTING").
			With("setting", "interval").
			Errorf("interval must be a duration string, got %T", raw)
	}
	interval, err := time.ParseDuration(str)
	if err != nil {
		return oops.In("builtin").Code("INVALID_SETTING").
			With("setting", "interval").With("value", str).
			Wrap(err)
	}
	if interval <= 0 {
		return oops.In("builtin").Code("INVALID_SETTING").
			With("setting", "interval").With("value", str).
			Errorf("interval must be positive")
	}
	h.interval = interval
	return nil
}

// Start begins publishing ticks. Returns an error if already running.
func (h *Heartbeat) Start(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running.Load() {
		return oops.In("builtin").Code("ALREADY_RUNNING").
			Errorf("heartbeat is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})
	h.running.Store(true)

	go h.run(ctx, h.done)
	return nil
}

func (h *Heartbeat) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			count := h.ticks.Add(1)
			h.bus.Send(HeartbeatChannel, bus.NewMessage(
				h.Name(), HeartbeatChannel, bus.TypeNotification,
				map[string]any{
					"tick": count,
					"at":   t.UTC().Format(time.RFC3339),
				}))
		}
	}
}

// Stop halts the tick loop and waits for it to exit.
func (h *Heartbeat) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running.Load() {
		return nil
	}

	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return oops.In("builtin").Code("STOP_TIMEOUT").Wrap(ctx.Err())
	}
	h.running.Store(false)
	return nil
}

// IsRunning reports whether the tick loop is active.
func (h *Heartbeat) IsRunning() bool {
	return h.running.Load()
}

// Ticks returns the number of ticks published since Start.
func (h *Heartbeat) Ticks() uint64 {
	return h.ticks.Load()
}

// Shutdown stops the tick loop if it is still running.
func (h *Heartbeat) Shutdown(ctx context.Context) error {
	return h.Stop(ctx)
}
