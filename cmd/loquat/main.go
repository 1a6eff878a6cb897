// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command loquat runs the Loquat pipeline engine, its Plugin/Adapter
// managers, and the management HTTP surface.
//
// Usage:
//
//	loquat [dev|test|prod]
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/loquat/loquat/internal/buildinfo"
	"github.com/loquat/loquat/pkg/adapter"
	"github.com/loquat/loquat/pkg/channel"
	"github.com/loquat/loquat/pkg/config"
	"github.com/loquat/loquat/pkg/engine"
	"github.com/loquat/loquat/pkg/hotreload"
	"github.com/loquat/loquat/pkg/httpserver"
	"github.com/loquat/loquat/pkg/logger"
	"github.com/loquat/loquat/pkg/plugin"
	pluginscript "github.com/loquat/loquat/pkg/plugin/script"
	plugingrpc "github.com/loquat/loquat/pkg/plugin/grpc"
	"github.com/loquat/loquat/pkg/router"
	"github.com/loquat/loquat/pkg/shutdown"
	"github.com/loquat/loquat/pkg/stream"
)

// CLI is Loquat's entire command-line surface: one positional argument
// selecting the runtime environment.
type CLI struct {
	Environment string `arg:"" optional:"" enum:"dev,test,prod," default:"dev" help:"Runtime environment."`
	Config      string `short:"c" default:"./config/loquat.yaml" help:"Path to configuration file."`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("loquat"),
		kong.Description("Loquat pipeline engine"),
		kong.UsageOnError(),
	)
	if cli.Environment == "" {
		cli.Environment = "dev"
	}

	if err := run(cli); err != nil {
		fmt.Fprintln(os.Stderr, "loquat:", err)
		os.Exit(1)
	}
}

func run(cli CLI) error {
	for _, dir := range []string{"config", "plugins", "adapters", "logs"} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	loader := config.NewLoader(cli.Config)
	if err := loader.LoadFile(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The CLI's environment argument overrides whatever the file says,
	// so the overlay is merged in after the file load.
	if err := loader.Overlay(map[string]any{"general": map[string]any{"environment": cli.Environment}}); err != nil {
		return err
	}
	cfg, err := loader.Finalize()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.Init(level, os.Stderr, cfg.Logging.Format)
	log := logger.GetLogger()
	log.Info("loquat starting", "component", "main", "environment", cli.Environment, "version", buildinfo.Resolve())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received", "component", "main")
		cancel()
	}()

	rtr := router.New(router.WithAutoRoute(true), router.WithDefaultTarget("default"))
	channels := channel.New(channel.WithIdleTTL(cfg.General.ChannelIdleTTL.Duration()), channel.WithLogger(log))
	strm := stream.New(stream.WithLogger(log))
	eng := engine.New(rtr, channels, strm, engine.WithLogger(log))

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	pluginRegistry := plugin.NewRegistry(&plugin.RegistryConfig{Whitelist: cfg.Plugins.Whitelist, Blacklist: cfg.Plugins.Blacklist})
	_ = pluginRegistry.RegisterLoader(plugingrpc.NewLoader())
	_ = pluginRegistry.RegisterLoader(pluginscript.NewLoader())

	factories := adapter.NewFactoryRegistry()
	adapterMgr := adapter.NewManager(factories, log)

	pluginTracker := hotreload.NewTracker(hotreload.DefaultTrackerCapacity)
	pluginHistory := hotreload.NewHistory(hotreload.DefaultHistoryCapacity)
	var pluginWatcher *hotreload.Watcher

	if cfg.Plugins.Enabled {
		discovery := plugin.NewDiscovery(&plugin.DiscoveryConfig{
			Enabled:            true,
			Directory:          cfg.Plugins.Directory,
			ScanSubdirectories: true,
			ScriptingEnabled:   cfg.Plugins.ScriptingEnabled,
		})
		discovered, errs := discovery.Discover(ctx)
		for _, e := range errs {
			logger.LogAndContinue(ctx, log, "PluginDiscovery", "startup scan", e)
		}

		reloadPlugin := func(ctx context.Context, componentID, path string) error {
			for _, d := range discovered {
				if d.Name == componentID {
					return pluginRegistry.Reload(ctx, &plugin.Config{Name: d.Name, Path: d.Path, Enabled: true, Manifest: d.Manifest})
				}
			}
			return fmt.Errorf("no discovered plugin for %s", componentID)
		}

		pw, err := hotreload.NewWatcher(pluginTracker, pluginHistory, reloadPlugin,
			hotreload.WithPollInterval(cfg.Plugins.PollInterval.Duration()), hotreload.WithLogger(log))
		if err != nil {
			logger.LogAndContinue(ctx, log, "PluginHotReload", "start watcher", err)
		} else {
			pluginWatcher = pw
		}

		// Each discovered artifact loads independently, so the initial
		// scan fans out across them instead of loading one at a time.
		var loadGroup errgroup.Group
		var loadMu sync.Mutex
		for _, d := range discovered {
			d := d
			loadGroup.Go(func() error {
				pcfg := &plugin.Config{Name: d.Name, Path: d.Path, Enabled: true, Manifest: d.Manifest}
				if err := pluginRegistry.LoadOne(ctx, pcfg); err != nil {
					logger.LogAndContinue(ctx, log, "PluginManager", "load "+d.Name, err)
					return nil
				}
				if pluginWatcher != nil {
					loadMu.Lock()
					pluginWatcher.Watch(d.Name, d.Path)
					loadMu.Unlock()
				}
				return nil
			})
		}
		_ = loadGroup.Wait()

		if pluginWatcher != nil {
			go pluginWatcher.Run(ctx)
		}
	}

	var adapterGroup errgroup.Group
	for _, a := range cfg.Adapters.Instances {
		a := a
		adapterGroup.Go(func() error {
			if err := adapterMgr.Load(ctx, adapter.Config{Name: a.Name, FactoryType: a.FactoryType, Enabled: a.Enabled, Settings: a.Settings}); err != nil {
				logger.LogAndContinue(ctx, log, "AdapterManager", "load "+a.Name, err)
			}
			return nil
		})
	}
	_ = adapterGroup.Wait()

	reloadPlugins := func(ctx context.Context) (int, error) {
		discovery := plugin.NewDiscovery(&plugin.DiscoveryConfig{
			Enabled:            true,
			Directory:          cfg.Plugins.Directory,
			ScanSubdirectories: true,
			ScriptingEnabled:   cfg.Plugins.ScriptingEnabled,
		})
		discovered, errs := discovery.Discover(ctx)
		for _, e := range errs {
			logger.LogAndContinue(ctx, log, "PluginDiscovery", "reload scan", e)
		}
		reloaded := 0
		for _, d := range discovered {
			pcfg := &plugin.Config{Name: d.Name, Path: d.Path, Enabled: true, Manifest: d.Manifest}
			if err := pluginRegistry.Reload(ctx, pcfg); err != nil {
				logger.LogAndContinue(ctx, log, "PluginManager", "reload "+d.Name, err)
				continue
			}
			reloaded++
		}
		return reloaded, nil
	}

	reloadAdapters := func(ctx context.Context) (int, error) {
		reloaded := 0
		for _, a := range cfg.Adapters.Instances {
			acfg := adapter.Config{Name: a.Name, FactoryType: a.FactoryType, Enabled: a.Enabled, Settings: a.Settings}
			status, ok := adapterMgr.Status(a.Name)
			if !ok {
				if err := adapterMgr.Load(ctx, acfg); err != nil {
					logger.LogAndContinue(ctx, log, "AdapterManager", "reload load "+a.Name, err)
					continue
				}
				reloaded++
				continue
			}
			if status != adapter.StatusError {
				continue
			}
			if err := adapterMgr.Restart(ctx, a.Name, acfg); err != nil {
				logger.LogAndContinue(ctx, log, "AdapterManager", "reload restart "+a.Name, err)
				continue
			}
			reloaded++
		}
		return reloaded, nil
	}

	// Adapters are constructed from a factory_type, not a filesystem
	// artifact, so their hot-reload is a poll loop that retries anything
	// sitting in StatusError rather than an fsnotify watch.
	adapterPollInterval := cfg.Adapters.PollInterval.Duration()
	if adapterPollInterval <= 0 {
		adapterPollInterval = hotreload.DefaultAdapterPollInterval
	}
	adapterHotReloadStop := make(chan struct{})
	adapterHotReloadDone := make(chan struct{})
	go func() {
		defer close(adapterHotReloadDone)
		ticker := time.NewTicker(adapterPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-adapterHotReloadStop:
				return
			case <-ticker.C:
				if _, err := reloadAdapters(ctx); err != nil {
					logger.LogAndContinue(ctx, log, "AdapterHotReload", "poll", err)
				}
			}
		}
	}()

	var httpSrv *http.Server
	if cfg.Web.Enabled {
		mux := httpserver.New(eng, pluginRegistry, adapterMgr,
			httpserver.WithPluginReloader(reloadPlugins),
			httpserver.WithAdapterReloader(reloadAdapters))
		httpSrv = &http.Server{Addr: cfg.Web.Addr, Handler: mux}
		go func() {
			log.Info("http surface listening", "component", "HTTPServer", "addr", cfg.Web.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http surface stopped unexpectedly", "component", "HTTPServer", "error", err)
			}
		}()
	}

	coordinator := shutdown.NewCoordinator(log)
	coordinator.Register(shutdown.StageAdapterHotReload, func(ctx context.Context) error {
		close(adapterHotReloadStop)
		<-adapterHotReloadDone
		return nil
	})
	coordinator.Register(shutdown.StagePluginHotReload, func(ctx context.Context) error {
		if pluginWatcher != nil {
			pluginWatcher.Stop()
		}
		return nil
	})
	coordinator.Register(shutdown.StageWebService, func(ctx context.Context) error {
		if httpSrv == nil {
			return nil
		}
		return httpSrv.Shutdown(ctx)
	})
	coordinator.Register(shutdown.StageAdapters, func(ctx context.Context) error {
		return adapterMgr.Shutdown(ctx)
	})
	coordinator.Register(shutdown.StagePlugins, func(ctx context.Context) error {
		return pluginRegistry.Shutdown(ctx)
	})
	coordinator.Register(shutdown.StageEngine, func(ctx context.Context) error {
		return eng.Stop(ctx)
	})
	coordinator.Register(shutdown.StageLogging, func(ctx context.Context) error {
		return nil
	})

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	status := coordinator.Shutdown(shutdownCtx)
	log.Info("loquat stopped", "component", "main", "status", status)

	if status != shutdown.StatusCompleted {
		return fmt.Errorf("shutdown finished with status %s", status)
	}
	return nil
}
