// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package pluginsdk

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	lastArgs     map[string]any
	lastSettings map[string]any
	result       any
	err          error
}

func (h *fakeHandler) Execute(_ context.Context, args map[string]any) (any, error) {
	h.lastArgs = args
	return h.result, h.err
}

func (h *fakeHandler) Configure(settings map[string]any) error {
	h.lastSettings = settings
	return nil
}

func TestRPCServer_Info(t *testing.T) {
	srv := &rpcServer{info: InfoReply{
		Name:        "shout",
		Version:     "1.2.0",
		Description: "Uppercases text",
	}}

	var reply InfoReply
	require.NoError(t, srv.Info(struct{}{}, &reply))

	assert.Equal(t, "shout", reply.Name)
	assert.Equal(t, "1.2.0", reply.Version)
	assert.Equal(t, "Uppercases text", reply.Description)
}

func TestRPCServer_Execute(t *testing.T) {
	handler := &fakeHandler{result: map[string]any{"text": "HELLO"}}
	srv := &rpcServer{impl: handler}

	args, err := json.Marshal(map[string]any{"text": "hello"})
	require.NoError(t, err)

	var reply ExecuteReply
	require.NoError(t, srv.Execute(ExecuteArgs{ArgsJSON: args}, &reply))

	assert.Equal(t, map[string]any{"text": "hello"}, handler.lastArgs)

	var result map[string]any
	require.NoError(t, json.Unmarshal(reply.ResultJSON, &result))
	assert.Equal(t, "HELLO", result["text"])
}

func TestRPCServer_ExecuteError(t *testing.T) {
	handler := &fakeHandler{err: errors.New("boom")}
	srv := &rpcServer{impl: handler}

	var reply ExecuteReply
	err := srv.Execute(ExecuteArgs{}, &reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRPCServer_ExecuteBadArgs(t *testing.T) {
	srv := &rpcServer{impl: &fakeHandler{}}

	var reply ExecuteReply
	err := srv.Execute(ExecuteArgs{ArgsJSON: []byte("{not json")}, &reply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode args")
}

func TestRPCServer_Configure(t *testing.T) {
	handler := &fakeHandler{}
	srv := &rpcServer{impl: handler}

	settings, err := json.Marshal(map[string]any{"interval": "5s"})
	require.NoError(t, err)

	require.NoError(t, srv.Configure(ConfigureArgs{SettingsJSON: settings}, &struct{}{}))
	assert.Equal(t, "5s", handler.lastSettings["interval"])
}

func TestRPCServer_ConfigureIgnoredWithoutConfigurer(t *testing.T) {
	// A handler without Configure support silently accepts settings.
	srv := &rpcServer{impl: bareHandler{}}

	settings, err := json.Marshal(map[string]any{"interval": "5s"})
	require.NoError(t, err)
	require.NoError(t, srv.Configure(ConfigureArgs{SettingsJSON: settings}, &struct{}{}))
}

type bareHandler struct{}

func (bareHandler) Execute(context.Context, map[string]any) (any, error) { return nil, nil }

func TestServe_PanicsOnInvalidConfig(t *testing.T) {
	assert.Panics(t, func() { Serve(nil) })
	assert.Panics(t, func() { Serve(&ServeConfig{Name: "x"}) })
	assert.Panics(t, func() { Serve(&ServeConfig{Handler: bareHandler{}}) })
}
