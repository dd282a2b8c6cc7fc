// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package bus provides named broadcast channels for inter-plugin
// messaging, with request/response correlation and a bounded message
// history.
package bus

import (
	"time"

	"github.com/capstanhq/capstan/internal/ulid"
)

// MessageType identifies the kind of message.
type MessageType string

// Message types carried by the bus.
const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeBroadcast    MessageType = "broadcast"
)

// Message is one bus message. Messages are never mutated after
// creation; the history buffer and subscribers see the same value.
type Message struct {
	// ID is a process-unique monotonic ULID.
	ID     string
	Sender string
	// Channel is the name the message was sent to.
	Channel string
	Type    MessageType
	// Data is the opaque payload.
	Data any
	// CorrelationID, on a response, is the request message's ID.
	CorrelationID string
	Timestamp     time.Time
}

// NewMessage creates a message stamped with a fresh ULID and the
// current time.
func NewMessage(sender, channel string, t MessageType, data any) Message {
	return Message{
		ID:        ulid.New().String(),
		Sender:    sender,
		Channel:   channel,
		Type:      t,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewResponse creates a response to req, correlated by req's ID, on
// req's channel.
func NewResponse(req Message, sender string, data any) Message {
	m := NewMessage(sender, req.Channel, TypeResponse, data)
	m.CorrelationID = req.ID
	return m
}
