package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"imagewatch/internal/adapters/memory"
	pg "imagewatch/internal/adapters/postgres"
	"imagewatch/internal/config"
	"imagewatch/internal/ports"
)

// openStore returns the configured store and a func releasing it. The
// postgres schema is migrated on open.
func openStore(ctx context.Context, cfg config.Config) (ports.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("Using the in-memory store, data is lost on exit")
		return memory.New(), func() {}, nil
	case config.StorePostgres:
		db, err := pg.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}
