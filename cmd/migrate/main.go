package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/appauth/internal/config"
	"github.com/example/appauth/internal/store"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
		dir     = flag.String("dir", "", "Migrations directory (defaults to MIGRATIONS_DIR)")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	if cfg.DBAdapter != "postgres" {
		log.Fatal().Str("adapter", cfg.DBAdapter).Msg("migrations only work with PostgreSQL")
	}
	dsn, err := cfg.BuildPostgresDSN()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres config error")
	}

	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	mg, err := store.NewMigrator(migrationsDir, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("opening migrator")
	}
	defer mg.Close()

	if err := run(mg, *command, *steps, *version); err != nil {
		mg.Close()
		log.Fatal().Err(err).Str("command", *command).Msg("migration failed")
	}
}

func run(mg *store.Migrator, command string, steps int, version uint) error {
	switch command {
	case "up":
		if err := mg.Up(steps); err != nil {
			return err
		}
		fmt.Println("✓ Migrations applied successfully")
	case "down":
		if err := mg.Down(steps); err != nil {
			return err
		}
		fmt.Println("✓ Migrations rolled back successfully")
	case "version":
		v, dirty, err := mg.Version()
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("database is in a dirty state (version %d)", v)
		}
		fmt.Printf("Current migration version: %d\n", v)
	case "force":
		if version == 0 {
			return fmt.Errorf("version required for force command (use -version flag)")
		}
		if err := mg.Force(int(version)); err != nil {
			return err
		}
		fmt.Printf("✓ Forced database to version %d\n", version)
	default:
		return fmt.Errorf("unknown command: %s (supported: up, down, version, force)", command)
	}
	return nil
}
