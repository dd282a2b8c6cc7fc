// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

// Package pluginsdk provides the SDK for building Capstan worker plugins.
//
// Worker plugins run as separate processes and communicate with the
// Capstan host over net/rpc using the HashiCorp go-plugin framework.
// Running out of process gives the host a hard isolation boundary: a
// misbehaving worker can be killed without affecting the host.
//
// Example usage:
//
//	package main
//
//	import (
//		"context"
//		"github.com/capstanhq/capstan/pkg/pluginsdk"
//	)
//
//	type Shout struct{}
//
//	func (Shout) Execute(_ context.Context, args map[string]any) (any, error) {
//		text, _ := args["text"].(string)
//		return strings.ToUpper(text), nil
//	}
//
//	func main() {
//		pluginsdk.Serve(&pluginsdk.ServeConfig{
//			Name:        "shout",
//			Version:     "1.0.0",
//			Description: "Uppercases text",
//			Handler:     Shout{},
//		})
//	}
package pluginsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
)

// Handler is the interface worker plugins must implement.
type Handler interface {
	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Configurer is an optional interface workers can implement to receive
// host-supplied settings before the first Execute call.
type Configurer interface {
	Configure(settings map[string]any) error
}

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and workers must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "CAPSTAN_PLUGIN",
	MagicCookieValue: "capstan-v1",
}

// PluginMap names the plugins dispensable over the handshake.
var PluginMap = map[string]hashiplug.Plugin{
	"tool": &ToolPlugin{},
}

// InfoReply describes a worker to the host.
type InfoReply struct {
	Name        string
	Version     string
	Description string
	ArgsSchema  []byte
}

// ConfigureArgs carries JSON-encoded settings to the worker.
type ConfigureArgs struct {
	SettingsJSON []byte
}

// ExecuteArgs carries JSON-encoded tool arguments to the worker.
type ExecuteArgs struct {
	ArgsJSON []byte
}

// ExecuteReply carries the JSON-encoded tool result back to the host.
type ExecuteReply struct {
	ResultJSON []byte
}

// ServeConfig configures the worker plugin server.
type ServeConfig struct {
	// Name is the plugin name the host registers the worker under.
	// Required; Serve will panic if empty.
	Name string
	// Version is the worker's semantic version.
	Version string
	// Description is a short human-readable summary.
	Description string
	// ArgsSchema is an optional JSON Schema for Execute arguments.
	ArgsSchema []byte
	// Handler is the tool implementation.
	// Required; Serve will panic if nil.
	Handler Handler
}

// Serve starts the worker plugin server. This should be called from main().
// It blocks and never returns under normal operation.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("pluginsdk: config cannot be nil")
	}
	if config.Name == "" {
		panic("pluginsdk: config.Name cannot be empty")
	}
	if config.Handler == nil {
		panic("pluginsdk: config.Handler cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			"tool": &ToolPlugin{Impl: config.Handler, Info: InfoReply{
				Name:        config.Name,
				Version:     config.Version,
				Description: config.Description,
				ArgsSchema:  config.ArgsSchema,
			}},
		},
	})
}

// ToolPlugin implements go-plugin's Plugin interface over net/rpc.
// Impl and Info are set on the worker side only.
type ToolPlugin struct {
	Impl Handler
	Info InfoReply
}

// Server returns the RPC server (called in the worker process).
func (p *ToolPlugin) Server(_ *hashiplug.MuxBroker) (any, error) {
	return &rpcServer{impl: p.Impl, info: p.Info}, nil
}

// Client returns the RPC client (called in the host process).
func (p *ToolPlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (any, error) {
	return &ToolClient{client: c}, nil
}

// rpcServer adapts Handler to net/rpc in the worker process.
type rpcServer struct {
	impl Handler
	info InfoReply
}

func (s *rpcServer) Info(_ struct{}, reply *InfoReply) error {
	*reply = s.info
	return nil
}

func (s *rpcServer) Configure(args ConfigureArgs, _ *struct{}) error {
	cfg, ok := s.impl.(Configurer)
	if !ok {
		return nil
	}
	var settings map[string]any
	if len(args.SettingsJSON) > 0 {
		if err := json.Unmarshal(args.SettingsJSON, &settings); err != nil {
			return fmt.Errorf("decode settings: %w", err)
		}
	}
	return cfg.Configure(settings)
}

func (s *rpcServer) Execute(args ExecuteArgs, reply *ExecuteReply) error {
	var decoded map[string]any
	if len(args.ArgsJSON) > 0 {
		if err := json.Unmarshal(args.ArgsJSON, &decoded); err != nil {
			return fmt.Errorf("decode args: %w", err)
		}
	}

	// net/rpc carries no caller context; the host enforces deadlines on
	// its side and kills the process when the worker overruns.
	result, err := s.impl.Execute(context.Background(), decoded)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	reply.ResultJSON = encoded
	return nil
}

// ToolClient is the host-side RPC client for a worker plugin.
type ToolClient struct {
	client *rpc.Client
}

// Info fetches the worker's identity and argument schema.
func (c *ToolClient) Info() (InfoReply, error) {
	var reply InfoReply
	if err := c.client.Call("Plugin.Info", struct{}{}, &reply); err != nil {
		return InfoReply{}, fmt.Errorf("worker info: %w", err)
	}
	return reply, nil
}

// Configure delivers settings to the worker.
func (c *ToolClient) Configure(settings map[string]any) error {
	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := c.client.Call("Plugin.Configure", ConfigureArgs{SettingsJSON: encoded}, &struct{}{}); err != nil {
		return fmt.Errorf("worker configure: %w", err)
	}
	return nil
}

// Execute runs the tool in the worker process and decodes the result.
func (c *ToolClient) Execute(args map[string]any) (any, error) {
	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}

	var reply ExecuteReply
	if err := c.client.Call("Plugin.Execute", ExecuteArgs{ArgsJSON: encoded}, &reply); err != nil {
		return nil, fmt.Errorf("worker execute: %w", err)
	}

	var result any
	if len(reply.ResultJSON) > 0 {
		if err := json.Unmarshal(reply.ResultJSON, &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return result, nil
}
