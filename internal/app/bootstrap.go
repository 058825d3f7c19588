// Package app wires configuration, storage, logging and metrics into an Engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"projectops/internal/config"
	"projectops/internal/db"
	"projectops/internal/engine"
	"projectops/internal/engine/auth"
	"projectops/internal/logging"
	"projectops/internal/metrics"
	"projectops/internal/migrate"
	"projectops/internal/storage"
)

// Options selects the workspace and overrides taken from flags.
type Options struct {
	Workspace string
	LogLevel  string
	LogFormat string
	// SkipMigrate leaves the schema untouched; used by migrate status.
	SkipMigrate bool
}

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
}

// LoadEnv reads <workspace>/.env when present. Variables already set in the
// process environment win.
func LoadEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Open loads config, opens and migrates the database, and builds the engine.
// The caller closes the App.
func Open(ctx context.Context, opts Options) (*App, error) {
	ws := opts.Workspace
	if ws == "" {
		ws = "."
	}
	if err := LoadEnv(ws); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := firstNonEmpty(opts.LogLevel, cfg.Log.Level)
	format := firstNonEmpty(opts.LogFormat, cfg.Log.Format)
	logger := logging.New(logging.Options{Level: level, Format: format})

	conn, err := db.Open(db.Config{Workspace: ws})
	if err != nil {
		return nil, err
	}
	if !opts.SkipMigrate {
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	blobs, err := OpenBlobStore(ctx, ws, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	eng := engine.New(conn, cfg).WithLogger(logrus.NewEntry(logger))
	eng.Blobs = blobs
	eng.Metrics = m

	return &App{Workspace: ws, Config: cfg, DB: conn, Engine: eng, Logger: logger, Metrics: m}, nil
}

// OpenBlobStore builds the configured document store. Minio credentials are
// read from the environment variables named in the config.
func OpenBlobStore(ctx context.Context, workspace string, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Kind {
	case "minio":
		mc := cfg.Storage.Minio
		st, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:        mc.Endpoint,
			AccessKeyID:     os.Getenv(mc.AccessKeyEnv),
			SecretAccessKey: os.Getenv(mc.SecretKeyEnv),
			Bucket:          mc.Bucket,
			UseSSL:          mc.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return st, nil
	default:
		return storage.NewFSStore(cfg.DocumentDir(workspace))
	}
}

// Seed fills an empty role catalog and missing parameters from config.
func (a *App) Seed(ctx context.Context) error {
	n, err := a.Engine.Repo.CountRoles(ctx, nil)
	if err != nil {
		return err
	}
	if n == 0 && len(a.Config.Roles) > 0 {
		inserted, err := a.Engine.SeedRoles(ctx, auth.Principal{}, a.Config.Roles)
		if err != nil {
			return fmt.Errorf("seed roles: %w", err)
		}
		a.Logger.WithField("roles", inserted).Info("seeded role catalog")
	}
	written, err := a.Engine.ImportParameters(ctx, auth.Principal{}, a.Config.Parameters, false)
	if err != nil {
		return fmt.Errorf("seed parameters: %w", err)
	}
	if written > 0 {
		a.Logger.WithField("parameters", written).Info("seeded parameters")
	}
	return nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
