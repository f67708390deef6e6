package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memohai/wadesk/internal/store/postgres"
	"github.com/memohai/wadesk/internal/store/sqlite"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply database migrations",
		Long:      "Apply all pending migrations (up, the default) or roll back one step (down, postgres only).",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if direction != "up" && direction != "down" {
				return fmt.Errorf("unknown direction %q", direction)
			}

			switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
			case "sqlite":
				if direction == "down" {
					return fmt.Errorf("migrate down is not supported for sqlite")
				}
				st, err := sqlite.NewDB(cmd.Context(), cfg.Storage.SQLitePath)
				if err != nil {
					return err
				}
				_ = st.Close()
			default:
				if err := postgres.Migrate(cfg.Postgres, direction == "up"); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", direction)
			return nil
		},
	}
}
