package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/rules"
)

func main() {
	var databaseURL string
	var migrationsPath string
	var command string
	var seedPath string

	flag.StringVar(&databaseURL, "database", "", "Database URL (required)")
	flag.StringVar(&migrationsPath, "path", "migrations", "Path to migrations directory")
	flag.StringVar(&command, "command", "up", "Migration command: up, down, version, force, seed")
	flag.StringVar(&seedPath, "seed", "", "YAML seed file imported after up, or by the seed command (\"builtin\" for the demo fixtures)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		logger.Fatal("Database URL is required. Use -database flag or DATABASE_URL environment variable")
	}

	logger.Info("Connecting to database", "migrations_path", migrationsPath)

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		logger.Fatal("Failed to create migration instance", "error", err)
	}
	defer m.Close()

	switch command {
	case "up":
		logger.Info("Running migrations up...")
		err = m.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to run migrations", "error", err)
		}
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No migrations to run (database is up to date)")
		} else {
			logger.Info("Migrations completed successfully")
		}
		if seedPath != "" {
			importSeed(databaseURL, seedPath)
		}

	case "down":
		logger.Info("Rolling back migrations...")
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal("Failed to rollback migrations", "error", err)
		}
		logger.Info("Rollback completed successfully")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			logger.Fatal("Failed to get version", "error", err)
		}
		logger.Info("Current version", "version", version, "dirty", dirty)

	case "force":
		if len(flag.Args()) < 1 {
			logger.Fatal("Force command requires a version number: -command force <version>")
		}
		version, err := strconv.Atoi(flag.Arg(0))
		if err != nil {
			logger.Fatal("Invalid version number", "error", err)
		}
		if err := m.Force(version); err != nil {
			logger.Fatal("Failed to force version", "error", err)
		}
		logger.Info("Forced version", "version", version)

	case "seed":
		if seedPath == "" {
			logger.Fatal("Seed command requires -seed <file|builtin>")
		}
		importSeed(databaseURL, seedPath)

	default:
		logger.Fatal("Unknown command (use: up, down, version, force, seed)", "command", command)
	}
}

// importSeed upserts every definition in the seed file into the database.
func importSeed(databaseURL, seedPath string) {
	seed, err := loadSeed(seedPath)
	if err != nil {
		logger.Fatal("Failed to load seed", "error", err)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer db.Close()

	if err := rules.NewPostgresStore(db).ImportSeed(context.Background(), seed); err != nil {
		logger.Fatal("Failed to import seed", "error", err)
	}
	logger.Info("Seed imported",
		"rules", len(seed.Rules),
		"packs", len(seed.Packs),
		"targets", len(seed.Targets),
	)
}

func loadSeed(path string) (*rules.Seed, error) {
	if path == "builtin" {
		return rules.DefaultSeed(), nil
	}
	return rules.LoadSeedFile(path)
}
