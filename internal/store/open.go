package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/config"
)

// Open selects and connects the backend named by c.DBAdapter. For postgres
// pending migrations are applied first.
func Open(ctx context.Context, c *config.Config) (Store, error) {
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(ctx, c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		log.Info().Str("file", c.SQLiteFile).Msg("using sqlite database")
		return s, nil
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres config error: %w", err)
		}
		if err := ApplyMigrations(c.MigrationsDir, dsn); err != nil {
			// A schema already at head is fine; anything else is logged and the connect below decides.
			log.Warn().Err(err).Str("dir", c.MigrationsDir).Msg("applying migrations")
		}
		p, err := NewPostgresDB(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		log.Info().Msg("connected to postgres database")
		return p, nil
	case "memory":
		log.Warn().Msg("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}
