// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package proc hosts worker plugins as separate processes using
// HashiCorp's go-plugin system over net/rpc.
package proc

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/capstanhq/capstan/pkg/plugin"
	"github.com/capstanhq/capstan/pkg/pluginsdk"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrProcessDead is returned when operating on a worker whose process
	// has been killed.
	ErrProcessDead = errors.New("worker process is dead")
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Worker)(nil)
	_ plugin.Tool               = (*Worker)(nil)
	_ plugin.Killer             = (*Worker)(nil)
	_ plugin.ArgsSchemaProvider = (*Worker)(nil)
)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the RPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the worker process.
	Kill()
}

// ToolConn is the host-side view of a dispensed worker.
type ToolConn interface {
	Info() (pluginsdk.InfoReply, error)
	Configure(settings map[string]any) error
	Execute(args map[string]any) (any, error)
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginMap,
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath comes from host configuration, not plugin input
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolNetRPC},
	})
}

// Worker adapts an out-of-process tool plugin to the in-process plugin
// interfaces. Killing the worker tears down the whole process, which is
// the hard isolation boundary in-process plugins cannot offer.
type Worker struct {
	execPath string
	client   PluginClient
	conn     ToolConn
	info     pluginsdk.InfoReply

	mu   sync.RWMutex // guards dead; Kill may race in-flight calls
	dead bool
}

// Launch starts the worker executable, performs the handshake, and
// fetches the worker's identity. The returned Worker is ready to be
// registered with the plugin registry.
func Launch(execPath string) (*Worker, error) {
	return LaunchWithFactory(execPath, &DefaultClientFactory{})
}

// LaunchWithFactory starts a worker using a custom client factory (for testing).
// Panics if factory is nil.
func LaunchWithFactory(execPath string, factory ClientFactory) (*Worker, error) {
	if factory == nil {
		panic("proc: factory cannot be nil")
	}

	errb := oops.In("proc").With("exec_path", execPath)

	client := factory.NewClient(execPath)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Code("WORKER_HANDSHAKE_FAILED").
			Hint("Check that the executable serves the capstan plugin handshake").
			Wrap(err)
	}

	raw, err := rpcClient.Dispense("tool")
	if err != nil {
		client.Kill()
		return nil, errb.Code("WORKER_DISPENSE_FAILED").Wrap(err)
	}

	conn, ok := raw.(ToolConn)
	if !ok {
		client.Kill()
		return nil, errb.Code("WORKER_DISPENSE_FAILED").
			Errorf("dispensed plugin does not implement the tool protocol")
	}

	info, err := conn.Info()
	if err != nil {
		client.Kill()
		return nil, errb.Code("WORKER_INFO_FAILED").Wrap(err)
	}

	return &Worker{
		execPath: execPath,
		client:   client,
		conn:     conn,
		info:     info,
	}, nil
}

// Name returns the worker-reported plugin name.
func (w *Worker) Name() string { return w.info.Name }

// Version returns the worker-reported semantic version.
func (w *Worker) Version() string { return w.info.Version }

// Description returns the worker-reported summary.
func (w *Worker) Description() string { return w.info.Description }

// ArgsSchema returns the worker's argument schema, or nil.
func (w *Worker) ArgsSchema() []byte { return w.info.ArgsSchema }

func (w *Worker) isDead() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dead
}

// Initialize delivers settings to the worker process.
func (w *Worker) Initialize(_ context.Context, settings map[string]any) error {
	if w.isDead() {
		return oops.In("proc").With("plugin", w.info.Name).Wrap(ErrProcessDead)
	}
	if err := w.conn.Configure(settings); err != nil {
		return oops.In("proc").Code("WORKER_CONFIGURE_FAILED").
			With("plugin", w.info.Name).
			Wrap(err)
	}
	return nil
}

// Execute runs the tool in the worker process. The RPC call itself has
// no deadline; callers race it against their own timeout and Kill the
// worker when it overruns.
func (w *Worker) Execute(_ context.Context, args map[string]any) (any, error) {
	if w.isDead() {
		return nil, oops.In("proc").With("plugin", w.info.Name).Wrap(ErrProcessDead)
	}
	result, err := w.conn.Execute(args)
	if err != nil {
		return nil, oops.In("proc").Code("WORKER_EXECUTE_FAILED").
			With("plugin", w.info.Name).
			Wrap(err)
	}
	return result, nil
}

// Shutdown terminates the worker process.
func (w *Worker) Shutdown(context.Context) error {
	w.Kill()
	return nil
}

// Kill terminates the worker process immediately. Safe to call more
// than once.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dead {
		return
	}
	w.dead = true
	w.client.Kill()
}
