// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package builtin

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/capstanhq/capstan/pkg/plugin"
)

// sysinfoScheme is the URI scheme served by the sysinfo plugin.
const sysinfoScheme = "sysinfo://"

// Compile-time interface check.
var _ plugin.Resource = (*SysInfo)(nil)

// SysInfo is a resource plugin serving host runtime information under
// sysinfo:// URIs. Supported resources are "runtime", "memory", and
// "uptime".
type SysInfo struct {
	started time.Time
}

// NewSysInfo creates the sysinfo resource plugin.
func NewSysInfo() *SysInfo {
	return &SysInfo{}
}

func (s *SysInfo) Name() string        { return "sysinfo" }
func (s *SysInfo) Version() string     { return "1.0.0" }
func (s *SysInfo) Description() string { return "Serves host runtime information" }

// Initialize records the start time used for uptime reporting.
func (s *SysInfo) Initialize(context.Context, map[string]any) error {
	s.started = time.Now()
	return nil
}

// GetResource serves the resource named by uri.
func (s *SysInfo) GetResource(_ context.Context, uri string, _ map[string]any) (any, error) {
	name, ok := strings.CutPrefix(uri, sysinfoScheme)
	if !ok {
		return nil, oops.In("builtin").Code("INVALID_URI").
			With("uri", uri).
			Hint("sysinfo URIs look like sysinfo://runtime").
			Errorf("unsupported URI scheme")
	}

	switch name {
	case "runtime":
		return map[string]any{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
		}, nil
	case "memory":
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return map[string]any{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		}, nil
	case "uptime":
		return map[string]any{
			"started": s.started.UTC().Format(time.RFC3339),
			"uptime":  time.Since(s.started).String(),
		}, nil
	default:
		return nil, oops.In("builtin").Code("RESOURCE_UNKNOWN").
			With("uri", uri).
			Errorf("unknown sysinfo resource %q", name)
	}
}

func (s *SysInfo) Shutdown(context.Context) error { return nil }
