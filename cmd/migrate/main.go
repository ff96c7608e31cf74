package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/database"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
)

// schemaMigrator is the part of database.Migrator the actions use.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
}

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		steps  = flag.Int("steps", 0, "Number of migrations to apply or revert (0 = all)")
		file   = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := loadConfig(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required")
	}

	m, err := database.NewMigrator(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open migrator", zap.Error(err))
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	if err := runAction(m, *action, *steps, os.Stdout); err != nil {
		logger.Error("migration failed", zap.String("action", *action), zap.Error(err))
		os.Exit(1)
	}
	logger.Info("migration complete", zap.String("action", *action), zap.Int("steps", *steps))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func runAction(m schemaMigrator, action string, steps int, out io.Writer) error {
	if steps < 0 {
		return fmt.Errorf("steps must not be negative, got %d", steps)
	}

	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "version=%d dirty=%t\n", version, dirty)
	return err
}
