// Command migrate manages the PostgreSQL schema for the auth service. It
// wraps golang-migrate with the service's configuration so migrations run
// against the same database the server uses.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/ilaygozlan/crypto-advisor-api/internal/config"
)

const defaultTimeout = 5 * time.Minute

func main() {
	_ = godotenv.Load()

	var (
		migrPath = flag.String("path", envOr("MIGRATIONS_PATH", "migrations"), "Path to migrations directory")
		timeout  = flag.Duration("timeout", defaultTimeout, "Timeout per migration")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Schema migration tool for the crypto advisor auth service\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Apply all or N down migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nDatabase settings come from DB_HOST, DB_PORT, DB_USER,\n")
		fmt.Fprintf(os.Stderr, "DB_PASSWORD, DB_NAME and DB_SSLMODE (a .env file is honored).\n")
	}

	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.Load()
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port,
		cfg.Database.DBName, cfg.Database.SSLMode)

	if err := run(dbURL, *migrPath, *timeout, args[0], args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(dbURL, migrPath string, timeout time.Duration, cmd string, args []string) error {
	if cmd == "create" {
		if len(args) < 1 {
			return fmt.Errorf("create requires a migration name")
		}
		return createMigration(migrPath, args[0])
	}

	m, err := newMigrate(dbURL, migrPath, timeout)
	if err != nil {
		return err
	}
	defer m.Close()

	switch cmd {
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Println("No migrations have been applied yet")
				return nil
			}
			return fmt.Errorf("failed to get version: %w", err)
		}
		status := ""
		if dirty {
			status = " (dirty)"
		}
		log.Printf("Current migration version: %d%s", version, status)
		return nil

	case "up":
		steps, err := parseSteps(args)
		if err != nil {
			return err
		}
		return finish(m, applySteps(m, steps, true))

	case "down":
		steps, err := parseSteps(args)
		if err != nil {
			return err
		}
		return finish(m, applySteps(m, steps, false))

	case "goto":
		if len(args) < 1 {
			return fmt.Errorf("goto requires a version number")
		}
		var version uint
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return finish(m, m.Migrate(version))

	case "force":
		if len(args) < 1 {
			return fmt.Errorf("force requires a version number")
		}
		var version int
		if _, err := fmt.Sscanf(args[0], "%d", &version); err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		log.Printf("Forcing version to %d (no migrations will be run)", version)
		return m.Force(version)

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	var steps int
	if _, err := fmt.Sscanf(args[0], "%d", &steps); err != nil {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return steps, nil
}

// applySteps runs migrations in the given direction, steps == 0 means all
func applySteps(m *migrate.Migrate, steps int, up bool) error {
	switch {
	case steps > 0 && up:
		return m.Steps(steps)
	case steps > 0:
		return m.Steps(-steps)
	case up:
		return m.Up()
	default:
		return m.Down()
	}
}

// finish normalizes migrate's terminal errors and logs the resulting version
func finish(m *migrate.Migrate, err error) error {
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("No migrations to apply")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}
	version, _, _ := m.Version()
	log.Printf("Migration completed, now at version %d", version)
	return nil
}

// createMigration writes an empty up/down migration file pair
func createMigration(migrPath, name string) error {
	nextNum, err := nextMigrationNumber(migrPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	if err := os.MkdirAll(migrPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	created := time.Now().Format(time.RFC3339)
	files := map[string]string{
		filepath.Join(migrPath, fmt.Sprintf("%03d_%s.up.sql", nextNum, name)):   fmt.Sprintf("-- Migration: %s\n-- Created: %s\n", name, created),
		filepath.Join(migrPath, fmt.Sprintf("%03d_%s.down.sql", nextNum, name)): fmt.Sprintf("-- Migration: %s (rollback)\n-- Created: %s\n", name, created),
	}

	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create migration file: %w", err)
		}
		log.Printf("Created %s", path)
	}
	return nil
}

func nextMigrationNumber(migrPath string) (int, error) {
	entries, err := os.ReadDir(migrPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, err
	}

	maxNum := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var num int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return maxNum + 1, nil
}

func newMigrate(dbURL, migrPath string, timeout time.Duration) (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	absPath, err := filepath.Abs(migrPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = timeout

	return m, nil
}

func envOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
