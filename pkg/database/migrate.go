package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/restoreassist/trial-engine/pkg/config"
)

// RunMigrations applies pending schema migrations from the configured
// migrations directory. An up-to-date database is not an error.
func RunMigrations(cfg *config.DatabaseConfig) error {
	sourceURL := "file://" + cfg.MigrationsPath

	databaseURL := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, cfg.Port),
		Path:     cfg.DBName,
		RawQuery: "sslmode=" + cfg.SSLMode,
	}

	m, err := migrate.New(sourceURL, databaseURL.String())
	if err != nil {
		return fmt.Errorf("unable to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("unable to apply migrations: %w", err)
	}
	return nil
}
