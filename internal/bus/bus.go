// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Sentinel errors for programmatic checks.
var (
	// ErrRequestTimeout is returned when Request receives no matching
	// response within its timeout.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrAlreadySubscribed is returned when a subscriber ID is already
	// present on a channel.
	ErrAlreadySubscribed = errors.New("already subscribed")
)

const (
	// historyCap bounds the message history; the oldest entry is
	// evicted first.
	historyCap = 100
	// subscriberBuffer is the per-subscriber channel capacity.
	subscriberBuffer = 16
)

// Bus fans messages out over named channels. A channel exists from its
// first subscribe or send until its subscriber set empties.
//
// Within one channel, a single sender's messages arrive in send order.
// Delivery is non-blocking: a subscriber with a full buffer misses the
// message and a warning is logged.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[string]chan Message // channel -> subscriber ID -> stream
	history  []Message
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		channels: make(map[string]map[string]chan Message),
	}
}

// Subscribe adds a subscriber to a channel, creating the channel on
// first use, and returns its live stream. Subscribers receive only
// messages sent after they subscribe; history is never replayed.
func (b *Bus) Subscribe(channel, subscriberID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]chan Message)
		b.channels[channel] = subs
	}
	if _, ok := subs[subscriberID]; ok {
		return nil, oops.In("bus").
			Code("ALREADY_SUBSCRIBED").
			With("channel", channel).
			With("subscriber", subscriberID).
			Wrapf(ErrAlreadySubscribed, "subscriber %s already on channel %s", subscriberID, channel)
	}

	ch := make(chan Message, subscriberBuffer)
	subs[subscriberID] = ch
	subscribersGauge.WithLabelValues(channel).Inc()
	return ch, nil
}

// Unsubscribe removes a subscriber and closes its stream. The channel
// is torn down once its subscriber set is empty. Unknown subscribers
// are a no-op.
func (b *Bus) Unsubscribe(channel, subscriberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.channels[channel]
	if !ok {
		return
	}
	ch, ok := subs[subscriberID]
	if !ok {
		return
	}
	delete(subs, subscriberID)
	close(ch)
	subscribersGauge.WithLabelValues(channel).Dec()
	if len(subs) == 0 {
		delete(b.channels, channel)
	}
}

// Send records the message in history and delivers it to all current
// subscribers of the channel. A channel with no subscribers still
// records history.
func (b *Bus) Send(channel string, msg Message) {
	msg.Channel = channel

	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
	b.mu.Unlock()

	messagesTotal.WithLabelValues(channel, string(msg.Type)).Inc()

	// Deliver under the read lock: Unsubscribe closes streams under the
	// write lock, so a stream seen here cannot close mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.channels[channel] {
		select {
		case ch <- msg:
		default:
			droppedTotal.WithLabelValues(channel).Inc()
			slog.Warn("message dropped: subscriber buffer full",
				"channel", channel,
				"message_id", msg.ID,
				"message_type", string(msg.Type),
			)
		}
	}
}

// Request sends req on channel and waits for the first response whose
// CorrelationID matches req's ID. The transient subscription is always
// removed, including on timeout or context cancellation.
func (b *Bus) Request(ctx context.Context, channel string, req Message, timeout time.Duration) (Message, error) {
	subscriberID := "request:" + req.ID
	stream, err := b.Subscribe(channel, subscriberID)
	if err != nil {
		return Message{}, err
	}
	defer b.Unsubscribe(channel, subscriberID)

	b.Send(channel, req)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case msg := <-stream:
			if msg.Type == TypeResponse && msg.CorrelationID == req.ID {
				return msg, nil
			}
		case <-timer.C:
			return Message{}, oops.In("bus").
				Code("COMMUNICATION_TIMEOUT").
				With("channel", channel).
				With("request_id", req.ID).
				With("timeout", timeout.String()).
				Wrapf(ErrRequestTimeout, "no response on channel %s within %s", channel, timeout)
		case <-ctx.Done():
			return Message{}, oops.In("bus").
				Code("COMMUNICATION_CANCELED").
				With("channel", channel).
				With("request_id", req.ID).
				Wrap(ctx.Err())
		}
	}
}

// History returns a copy of recorded messages, filtered to one channel
// when channel is non-empty.
func (b *Bus) History(channel string) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if channel == "" {
		out := make([]Message, len(b.history))
		copy(out, b.history)
		return out
	}

	var out []Message
	for _, msg := range b.history {
		if msg.Channel == channel {
			out = append(out, msg)
		}
	}
	return out
}

// Subscribers returns the number of subscribers on a channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}
