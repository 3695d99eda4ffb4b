package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/BaSui01/flowgraph/internal/migration"
)

func runMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite")
	dbURL := fs.String("db-url", "", "Database URL (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("migrate requires a subcommand: up, down, down-all, steps, goto, force, version, status, info")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	var m *migration.DefaultMigrator
	if *dbURL != "" {
		typ := *dbType
		if typ == "" {
			typ = cfg.Database.Driver
		}
		m, err = migration.NewMigratorFromURL(typ, *dbURL, logger)
	} else {
		dbCfg := cfg.Database
		if *dbType != "" {
			dbCfg.Driver = *dbType
		}
		m, err = migration.NewMigratorFromDatabaseConfig(dbCfg, logger)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	return cli.Run(context.Background(), fs.Args())
}
