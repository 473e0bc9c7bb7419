package cmd

import (
	"fmt"

	"github.com/jupyter-cache/nbcache/internal/artifact"
	"github.com/jupyter-cache/nbcache/internal/cache"
	"github.com/jupyter-cache/nbcache/internal/config"
	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/executor"
	"github.com/jupyter-cache/nbcache/internal/notebook"
	"github.com/jupyter-cache/nbcache/internal/registry"
)

// app bundles the wiring every command group needs: the loaded config and
// the stores/engines built from it.
type app struct {
	cfg       *config.Config
	store     *db.Store
	artifacts *artifact.Store
	engine    *cache.Engine
	registry  *registry.Registry
}

// newApp loads configuration and opens the metadata/artifact stores at the
// resolved cache root.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := db.Open(cfg.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	artifacts := artifact.New(cfg.CacheRoot)
	engine := cache.New(store, artifacts, notebook.DefaultCanonicalizeOptions())
	reg := registry.New(store, engine)

	return &app{cfg: cfg, store: store, artifacts: artifacts, engine: engine, registry: reg}, nil
}

// coordinator builds an executor.Coordinator over this app's registry and
// cache engine, running cells via nbconvert.
func (a *app) coordinator() *executor.Coordinator {
	return executor.New(a.registry, a.engine, &executor.SubprocessExecutor{})
}

func (a *app) Close() error {
	return a.store.Close()
}
