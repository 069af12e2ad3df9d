package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	pg "imagewatch/internal/adapters/postgres"
	"imagewatch/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate needs the %s store", config.StorePostgres)
			}
			db, err := pg.Connect(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()
			return db.Migrate(cmd.Context())
		},
	}
}
