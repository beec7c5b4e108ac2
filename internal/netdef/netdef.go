// Package netdef loads the network topology (NetJSON graph and routes) that
// is rendered into every playbook prompt.
package netdef

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// Dir is the subdirectory of the templates dir holding the topology files.
	Dir        = "netjson"
	GraphFile  = "networkgraph.json"
	RoutesFile = "networkroutes.json"
)

// Definition is the topology handed to the prompt template. Both documents
// are kept opaque.
type Definition struct {
	NetworkGraph  any `json:"networkgraph"`
	NetworkRoutes any `json:"networkroutes"`
}

// Load reads both topology documents from templatesDir/netjson.
func Load(templatesDir string) (*Definition, error) {
	base := filepath.Join(templatesDir, Dir)

	graph, err := loadJSON(filepath.Join(base, GraphFile))
	if err != nil {
		return nil, err
	}
	routes, err := loadJSON(filepath.Join(base, RoutesFile))
	if err != nil {
		return nil, err
	}
	return &Definition{NetworkGraph: graph, NetworkRoutes: routes}, nil
}

func loadJSON(path string) (any, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from operator config
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return v, nil
}

// Loader caches the definition loaded from disk. Reload is the only way the
// cached copy changes.
type Loader struct {
	dir    string
	logger log.Logger

	mu       sync.RWMutex
	def      *Definition
	loadedAt time.Time
}

// NewLoader creates a Loader for templatesDir. Nothing is read until Current or Reload.
func NewLoader(templatesDir string, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.Nop()
	}
	return &Loader{dir: templatesDir, logger: logger}
}

// Current returns the cached definition, loading it on first use.
func (l *Loader) Current(ctx context.Context) (*Definition, error) {
	l.mu.RLock()
	def := l.def
	l.mu.RUnlock()
	if def != nil {
		return def, nil
	}
	return l.Reload(ctx)
}

// Reload re-reads the topology from disk and replaces the cached copy. On
// error the previous copy is kept.
func (l *Loader) Reload(ctx context.Context) (*Definition, error) {
	def, err := Load(l.dir)
	if err != nil {
		l.logger.Error(ctx, err, "network definition load failed", "dir", l.dir)
		return nil, err
	}

	l.mu.Lock()
	l.def = def
	l.loadedAt = time.Now()
	l.mu.Unlock()

	l.logger.Info(ctx, "network definition loaded", "dir", filepath.Join(l.dir, Dir))
	return def, nil
}

// LoadedAt reports when the cached copy was last replaced.
func (l *Loader) LoadedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadedAt
}
