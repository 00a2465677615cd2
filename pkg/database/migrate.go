package database

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// FindMigrationsDir returns the first existing directory among the candidates, relative
// to the working directory and then to its parent.
func FindMigrationsDir(candidates ...string) (string, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for _, c := range candidates {
		if filepath.IsAbs(c) {
			if isDir(c) {
				return c, nil
			}
			continue
		}
		for _, base := range []string{workDir, filepath.Dir(workDir)} {
			if p := filepath.Join(base, c); isDir(p) {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("no migrations directory among %v", candidates)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// RunMigrations applies every pending up migration found in migrationsPath.
func RunMigrations(logger *slog.Logger, databaseURL, migrationsPath string) error {
	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}
	if !isDir(absPath) {
		return fmt.Errorf("migrations directory does not exist: %s", absPath)
	}

	m, err := migrate.New("file://"+filepath.ToSlash(absPath), databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err = m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No migrations to apply", "path", absPath)
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("Migrations applied", "version", version, "dirty", dirty)
	return nil
}
