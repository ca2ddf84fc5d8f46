package app

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"masterplan/internal/cache"
	"masterplan/internal/config"
	"masterplan/internal/db"
	"masterplan/internal/engine"
	"masterplan/internal/logger"
	"masterplan/internal/metrics"
	"masterplan/internal/migrate"
)

// Workspace is an opened, migrated workspace with its engine wired up.
type Workspace struct {
	Dir      string
	Config   *config.Config
	DB       *sql.DB
	Engine   engine.Engine
	Registry *prometheus.Registry
}

// Open ensures the workspace directory exists, loads masterplan.yml (or the
// defaults when absent), opens and migrates the database and builds the
// engine.
func Open(dir string, log logger.Logger) (*Workspace, error) {
	if dir == "" {
		dir = "."
	}
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Log = log
	e.Metrics = m
	return &Workspace{Dir: dir, Config: cfg, DB: conn, Engine: e, Registry: reg}, nil
}

// Close releases the database.
func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// CacheStore returns the local event cache configured for dir. Relative
// cache paths resolve against the workspace.
func CacheStore(dir string, cfg *config.Config, log logger.Logger) cache.FileStore {
	p := strings.TrimSpace(cfg.Sync.CacheFile)
	if p == "" {
		p = filepath.Join(".masterplan", "events.json")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return cache.FileStore{Path: p, Log: log}
}
