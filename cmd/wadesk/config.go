package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/store"
	"github.com/memohai/wadesk/internal/store/postgres"
	"github.com/memohai/wadesk/internal/store/sqlite"
)

// loadConfig reads the TOML file named by --config or CONFIG_PATH and applies
// environment overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err = config.ApplyEnv(cfg, os.LookupEnv)
	if err != nil {
		return config.Config{}, fmt.Errorf("apply env: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured driver and applies pending migrations.
func openStore(ctx context.Context, cfg config.Config) (store.Driver, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite":
		return sqlite.NewDB(ctx, cfg.Storage.SQLitePath)
	case "", "postgres":
		return postgres.NewDB(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
