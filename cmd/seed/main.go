// Command seed loads the gamification catalog into the database and can
// promote an existing user to admin.
//
//	go run ./cmd/seed -catalog config/catalog.yaml
//	go run ./cmd/seed -promote alice@example.com
//
// It reads DB_PATH (and LOG_LEVEL / LOG_FORMAT) the same way the server does,
// but does not need JWT_SECRET.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/sakif/mentor-app/internal/catalog"
	"github.com/sakif/mentor-app/internal/config"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository/sqlite"
)

type seedEnv struct {
	DBPath    string     `env:"DB_PATH"    envDefault:"data/mentor.db"`
	LogLevel  slog.Level `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text"`
}

func main() {
	catalogPath := flag.String("catalog", "", "YAML catalog to apply (levels, badges, achievements)")
	promote := flag.String("promote", "", "email of a user to promote to admin")
	flag.Parse()

	if err := run(context.Background(), *catalogPath, *promote); err != nil {
		fmt.Fprintln(os.Stderr, "seed:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, catalogPath, promoteEmail string) error {
	if catalogPath == "" && promoteEmail == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -catalog and/or -promote")
	}

	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	raw, err := env.ParseAs[seedEnv]()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	cfg := config.Config{DBPath: raw.DBPath, LogLevel: raw.LogLevel, LogFormat: raw.LogFormat}
	logger := cfg.NewLogger(os.Stderr)

	// Validate the catalog before touching the database.
	var c *catalog.Catalog
	if catalogPath != "" {
		if c, err = catalog.Load(catalogPath); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if c != nil {
		sum, err := c.Apply(ctx, db)
		if err != nil {
			return err
		}
		logger.Info("catalog applied",
			slog.String("path", catalogPath),
			slog.String("database", cfg.DBPath),
			slog.Int("levels", sum.Levels),
			slog.Int("badges", sum.Badges),
			slog.Int("achievements", sum.Achievements),
		)
	}

	if promoteEmail != "" {
		email := strings.ToLower(strings.TrimSpace(promoteEmail))
		if err := db.SetUserRole(ctx, email, model.RoleAdmin); err != nil {
			return fmt.Errorf("promoting %s: %w", email, err)
		}
		logger.Info("user promoted to admin", slog.String("email", email))
	}

	return nil
}
