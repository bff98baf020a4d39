package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BaSui01/roundtable/config"
	"github.com/BaSui01/roundtable/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	var run func(*migration.CLI, context.Context) error
	switch args[0] {
	case "up":
		run = (*migration.CLI).RunUp
	case "down":
		run = (*migration.CLI).RunDown
	case "status":
		run = (*migration.CLI).RunStatus
	case "version":
		run = (*migration.CLI).RunVersion
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", args[0])
		printMigrateUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+args[0], flag.ExitOnError)
	migrator, err := createMigrator(fs, args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := run(migration.NewCLI(migrator), context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", args[0], err)
		migrator.Close()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Documentation Store Migration Commands

Usage:
  roundtable migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  status    Show migration status
  version   Show current migration version
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (requires --db-type)

Examples:
  roundtable migrate up
  roundtable migrate up --config /etc/roundtable/config.yaml
  roundtable migrate status --db-type sqlite --db-url ./data/roundtable.db
  roundtable migrate down`)
}

// createMigrator creates a migrator from command line flags. An explicit
// --db-type/--db-url pair wins over the configuration file.
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *dbURL != "" {
		if *dbType == "" {
			return nil, fmt.Errorf("--db-url requires --db-type")
		}
		t, err := migration.ParseDatabaseType(*dbType)
		if err != nil {
			return nil, err
		}
		return migration.NewMigrator(&migration.Config{
			DatabaseType: t,
			DatabaseURL:  *dbURL,
		})
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}
