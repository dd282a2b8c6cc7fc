// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package builtin

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/internal/bus"
	"github.com/capstanhq/capstan/pkg/plugin"
)

// NotificationChannel is the bus channel notifications are mirrored to.
const NotificationChannel = "system.notifications"

// Compile-time interface check.
var _ plugin.Notification = (*LogNotifier)(nil)

// LogNotifier is a notification plugin that writes notifications to the
// structured log and mirrors them onto the communication bus so other
// plugins can observe them. Hosts with a platform notification adapter
// register that instead.
type LogNotifier struct {
	bus *bus.Bus
}

// NewLogNotifier creates the log-backed notification plugin. b may be
// nil, in which case notifications are only logged.
func NewLogNotifier(b *bus.Bus) *LogNotifier {
	return &LogNotifier{bus: b}
}

func (n *LogNotifier) Name() string        { return "log-notifier" }
func (n *LogNotifier) Version() string     { return "1.0.0" }
func (n *LogNotifier) Description() string { return "Logs user-facing notifications" }

func (n *LogNotifier) Initialize(context.Context, map[string]any) error { return nil }

// ShowNotification logs the notification and mirrors it to the bus.
func (n *LogNotifier) ShowNotification(_ context.Context, title, body string) error {
	if title == "" {
		return oops.In("builtin").Code("INVALID_ARGS").
			Errorf("notification title cannot be empty")
	}

	slog.Info("notification", "title", title, "body", body)

	if n.bus != nil {
		n.bus.Send(NotificationChannel, bus.NewMessage(
			n.Name(), NotificationChannel, bus.TypeNotification,
			map[string]any{"title": title, "body": body}))
	}
	return nil
}

func (n *LogNotifier) Shutdown(context.Context) error { return nil }
