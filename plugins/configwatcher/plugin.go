// Package configwatcher reloads the retry policy of a running casesync
// agent when its TOML config file changes.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logAdapter "github.com/bft-labs/casesync/internal/adapters/log"
	"github.com/bft-labs/casesync/internal/cliconfig"
	"github.com/bft-labs/casesync/internal/ports"
	"github.com/bft-labs/casesync/pkg/casesync"
)

// Plugin watches the config file and applies its [retry] table.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration

	path       string
	logger     casesync.Logger
	controller casesync.Controller
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	debounce   *time.Timer

	// applied is called after every reload attempt; tests hook it.
	applied func(casesync.RetryPolicy, error)
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before reloading.
	// Editors often write a file in several steps.
	// Default: 200 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 200 * time.Millisecond}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultConfig().DebounceDelay
	}
	return &Plugin{debounceDelay: cfg.DebounceDelay}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching cfg.ConfigPath. Without a config path the
// plugin stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg casesync.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.ConfigPath
	p.logger = cfg.Logger
	p.controller = cfg.Controller
	if p.logger == nil {
		p.logger = logAdapter.NewNoopLogger()
	}
	p.mu.Unlock()

	if p.path == "" || p.controller == nil {
		p.logger.Warn("config watcher disabled: no config file")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and config managers replace the file
	// instead of writing it in place.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("config watcher started", ports.String("path", p.path))
	return nil
}

// Shutdown stops the watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			p.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher error", ports.Err(err))
		}
	}
}

func (p *Plugin) scheduleReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

// reload reads the file and applies its retry settings on top of the
// policy in effect. An unreadable or invalid file leaves the policy alone.
func (p *Plugin) reload() {
	policy, err := p.readPolicy()
	if err == nil {
		err = p.controller.SetRetryPolicy(policy)
	}
	if err != nil {
		p.logger.Warn("config reload rejected", ports.String("path", p.path), ports.Err(err))
	} else {
		p.logger.Info("config reloaded", ports.String("path", p.path))
		// A shorter policy may make failed records due right away.
		p.controller.RequestSync()
	}

	if p.applied != nil {
		p.applied(policy, err)
	}
}

func (p *Plugin) readPolicy() (casesync.RetryPolicy, error) {
	fc, err := cliconfig.LoadFileConfig(p.path)
	if err != nil {
		return casesync.RetryPolicy{}, err
	}

	current := p.controller.RetryPolicy()
	cfg := cliconfig.Config{
		RetryMaxAttempts: current.MaxAttempts,
		RetryBaseDelay:   current.BaseDelay,
		RetryMaxDelay:    current.MaxDelay,
	}
	if err := cliconfig.ApplyRetry(&cfg, fc.Retry, nil); err != nil {
		return casesync.RetryPolicy{}, err
	}
	return cfg.RetryPolicy(), nil
}
