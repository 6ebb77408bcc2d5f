// Package services assembles the rain collaborators from configuration and
// runs the operations the CLI exposes.
package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/conneroisu/rain/internal/component"
	"github.com/conneroisu/rain/internal/config"
	"github.com/conneroisu/rain/internal/errors"
	"github.com/conneroisu/rain/internal/locale"
	"github.com/conneroisu/rain/internal/logging"
	"github.com/conneroisu/rain/internal/renderer"
	"github.com/conneroisu/rain/internal/resource"
	"github.com/conneroisu/rain/internal/server"
	"github.com/conneroisu/rain/internal/session"
	"github.com/conneroisu/rain/internal/taglib"
	"github.com/conneroisu/rain/internal/watcher"
)

// Runtime holds everything a render needs.
type Runtime struct {
	Config     *config.Config
	Components *component.Container
	Scanner    *component.Scanner
	Resources  *resource.Manager
	Tags       *taglib.Library
	Locales    *locale.Manager
	Sessions   *session.Store
	Env        *renderer.Env
	Logger     logging.Logger

	mothership *session.Mothership
	watcher    *watcher.FileWatcher
}

// RuntimeOption customizes NewRuntime.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	resourceOpts []resource.Option
	replicate    bool
}

// WithResourceOptions passes opts to the resource manager.
func WithResourceOptions(opts ...resource.Option) RuntimeOption {
	return func(o *runtimeOptions) { o.resourceOpts = append(o.resourceOpts, opts...) }
}

// WithoutReplication skips the mothership even when it is enabled.
func WithoutReplication() RuntimeOption {
	return func(o *runtimeOptions) { o.replicate = false }
}

// NewRuntime scans the component folder and wires the renderer environment.
func NewRuntime(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	o := runtimeOptions{replicate: true}
	for _, opt := range opts {
		opt(&o)
	}

	container := component.NewContainer()
	scanner := component.NewScanner(container, cfg.Components.Root, cfg.Components.URLPrefix, logger)
	if _, err := scanner.Scan(ctx); err != nil {
		return nil, err
	}

	resources := resource.NewManager(cfg.Components.URLPrefix, cfg.Components.Root,
		append([]resource.Option{resource.WithLogger(logger)}, o.resourceOpts...)...)
	tags := taglib.NewDefault(resources, logger)
	locales := locale.NewManager(resources, cfg.Locale.Default, logger)

	rt := &Runtime{
		Config:     cfg,
		Components: container,
		Scanner:    scanner,
		Resources:  resources,
		Tags:       tags,
		Locales:    locales,
		Logger:     logger,
	}

	storeOpts := []session.Option{session.WithLogger(logger)}
	if cfg.Mothership.Enabled && o.replicate {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		m, err := session.DialMothership(ctx, cfg.Mothership.URL, address, logger)
		if err != nil {
			return nil, err
		}
		rt.mothership = m
		storeOpts = append(storeOpts, session.WithReplicator(m))
	}
	rt.Sessions = session.NewStore(cfg.Session.TTL, storeOpts...)

	var ids atomic.Uint64
	rt.Env = &renderer.Env{
		Components: container,
		Resources:  resources,
		Tags:       tags,
		Locales: func(ctx context.Context, c *component.Config, lang string) renderer.Localizer {
			return locales.For(ctx, c, lang)
		},
		ServerID:      cfg.Server.ID,
		ClientRuntime: cfg.Renderer.ClientRuntime,
		NewID:         func() string { return strconv.FormatUint(ids.Add(1), 10) },
		Logger:        logger,
	}

	return rt, nil
}

// Start runs the background work of the runtime: the session sweeper, the
// mothership listener and, when configured, the component folder watcher.
// onReload is told which urls changed.
func (rt *Runtime) Start(ctx context.Context, onReload func(ctx context.Context, urls ...string)) error {
	go rt.Sessions.RunSweeper(ctx, time.Minute)

	if rt.mothership != nil {
		go func() {
			if err := rt.mothership.Listen(ctx); err != nil && ctx.Err() == nil {
				rt.Logger.Warn(ctx, err, "Mothership connection lost")
			}
		}()
	}

	if !rt.Config.Components.Watch {
		return nil
	}

	fw, err := watcher.NewFileWatcher(rt.Config.Components.Root, 100*time.Millisecond, rt.Logger)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeFileNotFound, "creating component watcher", err)
	}
	fw.AddFilter(watcher.ViewFilter)
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		urls := rt.Apply(ctx, events)
		if onReload != nil && len(urls) > 0 {
			onReload(ctx, urls...)
		}
		return nil
	})
	if err := fw.AddRecursive(); err != nil {
		fw.Stop()
		return errors.NewIOError(errors.ErrCodeFileNotFound, "watching "+rt.Config.Components.Root, err)
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return err
	}
	rt.watcher = fw
	return nil
}

// Apply brings the runtime up to date with changed files and returns the
// urls that changed. Descriptors are rescanned, cached templates and
// translations are dropped.
func (rt *Runtime) Apply(ctx context.Context, events []watcher.ChangeEvent) []string {
	var urls []string
	for _, ev := range events {
		if watcher.IsMeta(ev.Path) {
			if err := rt.Scanner.Reload(ctx, ev.Path); err != nil {
				rt.Logger.Warn(ctx, err, "Component descriptor not reloaded", "path", ev.Path)
			}
			rt.invalidateLocales(filepath.Dir(ev.Path))
			continue
		}

		url, ok := rt.Resources.URLForPath(ev.Path)
		if !ok {
			continue
		}
		rt.Resources.InvalidatePath(ev.Path)
		if cfg, err := rt.Components.ResolveFromRequestPath(url); err == nil {
			rt.Locales.Invalidate(cfg.ModuleID())
		}
		rt.Logger.Debug(ctx, "Resource changed", "url", url, "event", ev.Type.String())
		urls = append(urls, url)
	}
	return urls
}

func (rt *Runtime) invalidateLocales(dir string) {
	for _, cfg := range rt.Components.GetAll() {
		if cfg.Dir == dir {
			rt.Locales.Invalidate(cfg.ModuleID())
		}
	}
}

// Server builds the HTTP server over the runtime.
func (rt *Runtime) Server() *server.Server {
	return server.New(server.Deps{
		Config:     rt.Config,
		Components: rt.Components,
		Resources:  rt.Resources,
		Sessions:   rt.Sessions,
		Env:        rt.Env,
		Logger:     rt.Logger,
	})
}

// Close stops the watcher and the mothership connection.
func (rt *Runtime) Close() error {
	var err error
	if rt.watcher != nil {
		err = rt.watcher.Stop()
	}
	if rt.mothership != nil {
		if cerr := rt.mothership.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
