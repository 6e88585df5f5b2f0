package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

const (
	gatewayFile   = "gateway.yaml"
	modelsFile    = "models.yaml"
	providersFile = "providers.yaml"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		return sub[2]
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
// Fields absent from the file keep whatever value dest already holds.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// loadOptional is LoadFile that treats a missing file as "use defaults".
func loadOptional(path string, dest any) error {
	err := LoadFile(path, dest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Snapshot is one consistent view of all configuration files.
type Snapshot struct {
	Gateway   *Config
	Models    *ModelsConfig
	Providers *ProvidersConfig
}

// Loader manages configuration loading and hot-reload via fsnotify.
// Readers always see a whole snapshot; reloads swap it atomically.
type Loader struct {
	configDir string
	logger    *slog.Logger

	mu   sync.RWMutex
	snap Snapshot

	watchMu  sync.Mutex
	watchers []func(Snapshot)
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		configDir: configDir,
		logger:    logger,
		snap: Snapshot{
			Gateway:   DefaultConfig(),
			Models:    DefaultModelsConfig(),
			Providers: DefaultProvidersConfig(),
		},
	}
}

// Load reads gateway.yaml (required) plus models.yaml and providers.yaml
// (optional) on top of the built-in defaults.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, gatewayFile), cfg); err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	models := DefaultModelsConfig()
	if err := loadOptional(filepath.Join(l.configDir, modelsFile), models); err != nil {
		return fmt.Errorf("load models config: %w", err)
	}
	if err := models.Validate(); err != nil {
		return fmt.Errorf("load models config: %w", err)
	}

	providers := DefaultProvidersConfig()
	if err := loadOptional(filepath.Join(l.configDir, providersFile), providers); err != nil {
		return fmt.Errorf("load providers config: %w", err)
	}

	l.mu.Lock()
	l.snap = Snapshot{Gateway: cfg, Models: models, Providers: providers}
	l.mu.Unlock()

	l.logger.Info("configuration loaded",
		"dir", l.configDir,
		"text_models", len(models.Text.Queue),
	)
	return nil
}

func (l *Loader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

func (l *Loader) Config() *Config {
	return l.Snapshot().Gateway
}

func (l *Loader) Models() *ModelsConfig {
	return l.Snapshot().Models
}

func (l *Loader) Providers() *ProvidersConfig {
	return l.Snapshot().Providers
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func(Snapshot)) {
	l.watchMu.Lock()
	l.watchers = append(l.watchers, fn)
	l.watchMu.Unlock()
}

// Watch reloads the configuration whenever a file in the config directory is
// written or created. It returns once the watcher is installed; the watch
// goroutine exits when ctx is cancelled.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isConfigFile(event.Name) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config file changed, reloading", "file", event.Name)
					if err := l.Load(); err != nil {
						l.logger.Error("failed to reload config", "error", err)
						continue
					}
					l.notify()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}

func (l *Loader) notify() {
	snap := l.Snapshot()
	l.watchMu.Lock()
	fns := append([]func(Snapshot){}, l.watchers...)
	l.watchMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func isConfigFile(name string) bool {
	switch filepath.Base(name) {
	case gatewayFile, modelsFile, providersFile:
		return true
	}
	return false
}
