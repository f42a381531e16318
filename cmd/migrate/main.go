package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	databaseURL := env.GetEnv("DATABASE_URL", "")
	source, target, err := migrationTarget(databaseURL)
	if err != nil {
		log.Fatalf("[Migrate] %v", err)
	}
	log.Infof("[Migrate] Using %s", source)

	m, err := migrate.New(source, target)
	if err != nil {
		log.Fatalf("[Migrate] Init failed: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warnf("[Migrate] Close failed: %v, %v", sourceErr, dbErr)
		}
	}()

	switch os.Args[1] {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			log.Info("[Migrate] Nothing to do, schema is current")
		case err != nil:
			log.Fatalf("[Migrate] Up failed: %v", err)
		default:
			log.Info("[Migrate] Up complete")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("[Migrate] Down failed: %v", err)
		}
		log.Info("[Migrate] Rolled back one version")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("[Migrate] goto needs a version")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("[Migrate] Invalid version: %v", err)
		}
		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("[Migrate] goto %d failed: %v", version, err)
		}
		log.Infof("[Migrate] At version %d", version)

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			log.Info("[Migrate] No migrations applied")
		case err != nil:
			log.Fatalf("[Migrate] Reading version failed: %v", err)
		case dirty:
			log.Infof("[Migrate] Version %d (dirty)", version)
		default:
			log.Infof("[Migrate] Version %d", version)
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

// migrationTarget maps DATABASE_URL onto the per-dialect migration folder and
// the URL form golang-migrate expects.
func migrationTarget(databaseURL string) (source, target string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "file://migrations/postgres", databaseURL, nil
	case strings.HasPrefix(databaseURL, "mysql://"):
		if !strings.Contains(databaseURL, "multiStatements=") {
			sep := "?"
			if strings.Contains(databaseURL, "?") {
				sep = "&"
			}
			databaseURL += sep + "multiStatements=true"
		}
		return "file://migrations/mysql", databaseURL, nil
	case databaseURL == "":
		return "", "", errors.New("DATABASE_URL is not set")
	default:
		return "", "", fmt.Errorf("migrations support postgres:// and mysql:// only (sqlite uses auto-migrate)")
	}
}

func printUsage() {
	fmt.Println("Usage: migrate [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - print the current version")
}
