// Package daemon wires the previewd runtime together: configuration store,
// event bus, pipeline registry, reconciliation client, preview engine, and
// the HTTP/WebSocket API server.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lanse6899/previewd/internal/config"
	configstore "github.com/lanse6899/previewd/internal/config/store"
	"github.com/lanse6899/previewd/internal/eventbus"
	"github.com/lanse6899/previewd/internal/pipeline"
	"github.com/lanse6899/previewd/internal/preview"
	"github.com/lanse6899/previewd/internal/procutil"
	"github.com/lanse6899/previewd/internal/reconcile"
	"github.com/lanse6899/previewd/internal/registry"
	"github.com/lanse6899/previewd/internal/runtime"
	"github.com/lanse6899/previewd/internal/server"
	"github.com/lanse6899/previewd/internal/version"
)

const (
	// DefaultListenAddr is the API server bind address when none is configured.
	DefaultListenAddr = "127.0.0.1:8899"

	// DefaultProcessorURL points the reconciliation client at a local
	// processor backend when none is configured.
	DefaultProcessorURL = "http://127.0.0.1:8188"

	settingsPollInterval = 2 * time.Second
)

// Options configures daemon construction.
type Options struct {
	Store  *configstore.Store
	Logger *log.Logger
}

// Daemon owns every long-running previewd component and coordinates their
// startup and shutdown order.
type Daemon struct {
	store    *configstore.Store
	logger   *log.Logger
	settings configstore.PreviewSettings
	paths    config.InstancePaths

	bus       *eventbus.Bus
	pipeline  *pipeline.Registry
	sessions  *registry.Registry
	client    *reconcile.Client
	engine    *preview.Engine
	apiServer *server.APIServer

	lifecycle *runtime.Lifecycle
	resultSub *eventbus.TypedSubscription[eventbus.PreviewResultEvent]
	cancel    context.CancelFunc
	serverErr chan error
}

// New builds a daemon from the configuration store. Settings missing from the
// store fall back to built-in defaults.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("daemon: configuration store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	settings, err := opts.Store.PreviewSettings(ctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("daemon: load settings: %w", err)
	}
	if settings.ListenAddr == "" {
		settings.ListenAddr = DefaultListenAddr
	}
	if settings.ProcessorURL == "" {
		settings.ProcessorURL = DefaultProcessorURL
	}

	bus := eventbus.New(eventbus.WithLogger(logger))
	pipe := pipeline.NewRegistry()
	sessions := registry.New()

	clientOpts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithBus(bus),
	}
	if settings.ThrottleWindow > 0 {
		clientOpts = append(clientOpts, reconcile.WithThrottleWindow(settings.ThrottleWindow))
	}
	if settings.JPEGQuality > 0 {
		clientOpts = append(clientOpts, reconcile.WithJPEGQuality(settings.JPEGQuality))
	}
	if settings.MaxPreviewSize > 0 {
		clientOpts = append(clientOpts, reconcile.WithMaxPreviewSize(settings.MaxPreviewSize))
	}
	client := reconcile.New(settings.ProcessorURL, clientOpts...)

	engine := preview.NewEngine(bus, sessions, client,
		preview.WithEngineLogger(logger),
		preview.WithSessionWindows(preview.Config{
			DebounceWindow: settings.DebounceWindow,
			DragInterval:   settings.DragInterval,
		}),
	)

	serverOpts := []server.Option{server.WithLogger(logger)}
	if settings.JPEGQuality > 0 {
		serverOpts = append(serverOpts, server.WithJPEGQuality(settings.JPEGQuality))
	}
	apiServer := server.New(settings.ListenAddr, pipe, bus, serverOpts...)

	return &Daemon{
		store:     opts.Store,
		logger:    logger,
		settings:  settings,
		paths:     config.GetInstancePaths(opts.Store.InstanceName()),
		bus:       bus,
		pipeline:  pipe,
		sessions:  sessions,
		client:    client,
		engine:    engine,
		apiServer: apiServer,
		lifecycle: runtime.NewLifecycle(),
		serverErr: make(chan error, 1),
	}, nil
}

// Engine exposes the preview engine for host integrations.
func (d *Daemon) Engine() *preview.Engine { return d.engine }

// Server exposes the API server, mainly so hosts can reach the hub.
func (d *Daemon) Server() *server.APIServer { return d.apiServer }

// Bus exposes the event bus.
func (d *Daemon) Bus() *eventbus.Bus { return d.bus }

// Settings returns the settings snapshot the daemon was built with.
func (d *Daemon) Settings() configstore.PreviewSettings { return d.settings }

// Start launches every component. It returns once the daemon is serving;
// use Wait to block until shutdown or a fatal error.
func (d *Daemon) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := runtime.WritePIDFile(d.paths.Lock, os.Getpid()); err != nil {
		cancel()
		return fmt.Errorf("daemon: write lock file: %w", err)
	}

	if err := d.engine.Start(runCtx); err != nil {
		runtime.RemovePIDFile(d.paths.Lock)
		cancel()
		return fmt.Errorf("daemon: start engine: %w", err)
	}

	d.resultSub = eventbus.Subscribe[eventbus.PreviewResultEvent](d.bus, eventbus.TopicPreviewResult)
	go d.forwardResults(runCtx)

	go func() {
		d.serverErr <- d.apiServer.Start()
	}()

	if events, err := d.store.Watch(runCtx, settingsPollInterval); err != nil {
		d.logger.Printf("[Daemon] settings watcher unavailable: %v", err)
	} else {
		go d.watchSettings(runCtx, events)
	}

	d.logger.Printf("[Daemon] previewd %s ready on %s (processor %s)",
		version.String(), d.settings.ListenAddr, d.settings.ProcessorURL)
	return nil
}

// Wait blocks until the daemon is asked to shut down, the API server fails,
// or the context is cancelled. A server failure is returned to the caller.
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-d.lifecycle.Done():
		return nil
	case err := <-d.serverErr:
		if err != nil {
			return fmt.Errorf("daemon: api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops all components in reverse startup order and releases the
// lock file. It is safe to call more than once.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.lifecycle.Shutdown()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.resultSub != nil {
		d.resultSub.Close()
	}
	record(d.apiServer.Shutdown(ctx))
	record(d.engine.Shutdown(ctx))
	d.bus.Shutdown()
	if d.cancel != nil {
		d.cancel()
	}
	runtime.RemovePIDFile(d.paths.Lock)
	record(d.store.Close())
	return firstErr
}

// forwardResults relays authoritative renders from the bus to the WebSocket
// hub so connected hosts can refresh their previews.
func (d *Daemon) forwardResults(ctx context.Context) {
	hub := d.apiServer.Hub()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-d.resultSub.C():
			if !ok {
				return
			}
			if env.Payload.ImageData == "" {
				continue
			}
			hub.BroadcastPreviewUpdate(env.Payload.SessionID, env.Payload.ImageData)
		}
	}
}

// watchSettings logs configuration changes. Most settings are bound at
// construction time, so a restart is needed for them to take effect.
func (d *Daemon) watchSettings(ctx context.Context, events <-chan configstore.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.SettingsChanged {
				d.logger.Printf("[Daemon] settings changed in store; restart previewd to apply")
			}
		}
	}
}

// IsRunning reports whether a previewd instance already owns the lock file,
// returning its PID when it does. Stale lock files from dead processes are
// ignored.
func IsRunning(instanceName string) (bool, int) {
	paths := config.GetInstancePaths(instanceName)
	data, err := os.ReadFile(paths.Lock)
	if err != nil {
		return false, 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false, 0
	}
	if !procutil.IsProcessAlive(pid) {
		return false, 0
	}
	return true, pid
}
