// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Capstan Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	yamlparser "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/capstanhq/capstan/internal/builtin"
	"github.com/capstanhq/capstan/internal/bus"
	"github.com/capstanhq/capstan/internal/event"
	"github.com/capstanhq/capstan/internal/logging"
	"github.com/capstanhq/capstan/internal/observability"
	"github.com/capstanhq/capstan/internal/registry"
	"github.com/capstanhq/capstan/internal/sandbox"
	"github.com/capstanhq/capstan/internal/sandbox/proc"
	"github.com/capstanhq/capstan/internal/xdg"
	"github.com/capstanhq/capstan/pkg/plugin"
)

// hostConfig holds configuration for the host command.
type hostConfig struct {
	MetricsAddr     string   `koanf:"metrics-addr"`
	LogFormat       string   `koanf:"log-format"`
	SDKVersion      string   `koanf:"sdk-version"`
	MemoryBudgetMB  int64    `koanf:"memory-budget-mb"`
	StrictConflicts bool     `koanf:"strict-conflicts"`
	Workers         []string `koanf:"workers"`
	PluginConfigDir string   `koanf:"plugin-config-dir"`
}

// Validate checks that the configuration is valid.
func (cfg *hostConfig) Validate() error {
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", cfg.LogFormat)
	}
	if cfg.SDKVersion == "" {
		return fmt.Errorf("sdk-version is required")
	}
	if cfg.MemoryBudgetMB <= 0 {
		return fmt.Errorf("memory-budget-mb must be positive, got %d", cfg.MemoryBudgetMB)
	}
	return nil
}

// Default values for host command flags.
const (
	defaultMetricsAddr    = "127.0.0.1:9100"
	defaultLogFormat      = "json"
	defaultSDKVersion     = "1.0.0"
	defaultMemoryBudgetMB = 512
)

// shutdownTimeout bounds graceful shutdown of plugins and servers.
const shutdownTimeout = 10 * time.Second

// NewHostCmd creates the host subcommand.
func NewHostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Start the plugin host",
		Long: `Start the plugin host which registers built-in and worker plugins,
starts background plugins in dependency order, and serves metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadHostConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg, cmd)
		},
	}

	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().String("sdk-version", defaultSDKVersion, "host SDK version advertised to plugins")
	cmd.Flags().Int64("memory-budget-mb", defaultMemoryBudgetMB, "total memory budget for sandboxed plugins")
	cmd.Flags().Bool("strict-conflicts", false, "reject registrations that violate dependency constraints")
	cmd.Flags().StringSlice("worker", nil, "worker plugin executable path (repeatable)")
	cmd.Flags().String("plugin-config-dir", "", "directory of per-plugin YAML config files")

	return cmd
}

// loadHostConfig merges flag defaults, the optional config file, and
// explicitly set flags, in that order of precedence (lowest first).
// Without an explicit --config, the XDG config file is used when
// present.
func loadHostConfig(flags *pflag.FlagSet, path string) (*hostConfig, error) {
	k := koanf.New(".")

	if path == "" {
		if candidate := filepath.Join(xdg.ConfigDir(), "host.yaml"); fileExists(candidate) {
			path = candidate
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yamlparser.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := &hostConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// The worker flag is singular; the file key is plural. Merge both.
	if workers, _ := flags.GetStringSlice("worker"); len(workers) > 0 {
		cfg.Workers = append(cfg.Workers, workers...)
	}

	if cfg.PluginConfigDir == "" {
		if dir := xdg.PluginConfigDir(); fileExists(dir) {
			cfg.PluginConfigDir = dir
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runHost starts the plugin host and blocks until shutdown.
func runHost(ctx context.Context, cfg *hostConfig, cmd *cobra.Command) error {
	logging.SetDefault("capstan", version, cfg.LogFormat)

	slog.Info("starting plugin host",
		"sdk_version", cfg.SDKVersion,
		"memory_budget_mb", cfg.MemoryBudgetMB,
		"log_format", cfg.LogFormat,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	broadcaster := event.NewBroadcaster()
	defer broadcaster.Close()

	// Observability server, started before the registry so registration
	// events are counted from the first plugin on.
	var obsServer *observability.Server
	var sink event.Sink = broadcaster
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		registry.RegisterMetrics(obsServer.Registry())
		bus.RegisterMetrics(obsServer.Registry())
		obsServer.Metrics().BuildInfo.WithLabelValues(version).Set(1)
		sink = observability.NewEventSink(obsServer.Metrics(), broadcaster)

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	msgBus := bus.New()
	pool := sandbox.NewMemoryPool(cfg.MemoryBudgetMB)

	opts := []registry.Option{
		registry.WithSDKVersion(cfg.SDKVersion),
		registry.WithResourceManager(pool),
		registry.WithEventSink(sink),
	}
	if cfg.StrictConflicts {
		opts = append(opts, registry.WithStrictConflictCheck())
	}
	reg := registry.New(opts...)

	if err := registerBuiltins(ctx, reg, msgBus, cfg.PluginConfigDir); err != nil {
		return err
	}
	if err := registerWorkers(ctx, reg, cfg.Workers, cfg.PluginConfigDir); err != nil {
		return err
	}

	if err := startBackgroundPlugins(ctx, reg); err != nil {
		return err
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Plugin host started")
	slog.Info("plugin host ready", "plugins", reg.Names())

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := reg.Shutdown(shutdownCtx); err != nil {
		slog.Error("plugin shutdown incomplete", "error", err)
		errs = append(errs, err)
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
			errs = append(errs, err)
		}
	}

	slog.Info("shutdown complete")
	return errors.Join(errs...)
}

// registerBuiltins registers the plugins compiled into the host.
func registerBuiltins(ctx context.Context, reg *registry.Registry, msgBus *bus.Bus, configDir string) error {
	builtins := []plugin.Plugin{
		builtin.NewEcho(),
		builtin.NewHeartbeat(msgBus),
		builtin.NewSysInfo(),
		builtin.NewGreeting(),
		builtin.NewLogNotifier(msgBus),
	}

	for _, p := range builtins {
		cfg, err := loadPluginConfig(configDir, p.Name())
		if err != nil {
			return err
		}
		if err := reg.Register(ctx, p, cfg); err != nil {
			return fmt.Errorf("failed to register builtin %s: %w", p.Name(), err)
		}
	}
	return nil
}

// registerWorkers launches and registers out-of-process worker plugins.
func registerWorkers(ctx context.Context, reg *registry.Registry, paths []string, configDir string) error {
	for _, path := range paths {
		w, err := proc.Launch(path)
		if err != nil {
			return fmt.Errorf("failed to launch worker %s: %w", path, err)
		}

		cfg, err := loadPluginConfig(configDir, w.Name())
		if err != nil {
			w.Kill()
			return err
		}
		if err := reg.Register(ctx, w, cfg); err != nil {
			w.Kill()
			return fmt.Errorf("failed to register worker %s: %w", w.Name(), err)
		}
		slog.Info("worker registered", "plugin", w.Name(), "exec_path", path)
	}
	return nil
}

// startBackgroundPlugins starts every registered background plugin.
// Registration order is dependency-compatible for the built-in set;
// plugins whose dependencies are not yet started fail their start and
// abort host startup.
func startBackgroundPlugins(ctx context.Context, reg *registry.Registry) error {
	for _, p := range reg.PluginsByType(registry.CapabilityBackground) {
		if err := reg.StartPlugin(ctx, p.Name()); err != nil {
			return fmt.Errorf("failed to start plugin %s: %w", p.Name(), err)
		}
		slog.Info("background plugin started", "plugin", p.Name())
	}
	return nil
}

// loadPluginConfig reads dir/<name>.yaml when present. A missing file
// means the plugin runs with a nil config.
func loadPluginConfig(dir, name string) (*plugin.Config, error) {
	if dir == "" {
		return nil, nil
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from host configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin config %s: %w", path, err)
	}

	if err := plugin.ValidateConfigSchema(data); err != nil {
		return nil, fmt.Errorf("plugin config %s failed schema validation: %w", path, err)
	}

	cfg, err := plugin.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plugin config %s: %w", path, err)
	}
	return cfg, nil
}

// fileExists reports whether path exists, following symlinks.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
