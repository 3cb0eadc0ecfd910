package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ignatzorin/consult-backend/internal/app"
	"github.com/ignatzorin/consult-backend/internal/config"
	"github.com/ignatzorin/consult-backend/internal/db"
	"github.com/ignatzorin/consult-backend/migrations"
)

var version = "dev"

func main() {
	root := newRootCmd(connect, migrate)
	root.Version = version
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app.InitLogger(cfg)
	return cfg, nil
}

// connect поднимает полный набор зависимостей, как у воркера.
func connect(ctx context.Context) (*backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	container, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return nil, err
	}
	svc := container.Services
	return &backend{
		sweeps:   svc.Sweeps,
		qc:       svc.QC,
		payouts:  svc.Payouts,
		disputes: svc.Disputes,
		close:    container.Close,
	}, nil
}

// migrate применяет встроенные миграции, не трогая брокеры.
func migrate(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL, db.PoolConfig{MaxOpenConns: 2})
	if err != nil {
		return err
	}
	defer conn.Close()
	return db.RunMigrations(ctx, conn, migrations.FS)
}
