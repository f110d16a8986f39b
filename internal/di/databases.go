// Package di provides dependency injection for database connections.
package di

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/database"
)

// InitializeDatabases opens reports.db and applies its schema
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	reportsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "reports.db"),
		Profile: database.ProfileStandard,
		Name:    "reports",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reports database: %w", err)
	}
	if err := reportsDB.Migrate(); err != nil {
		reportsDB.Close()
		return nil, fmt.Errorf("failed to migrate reports database: %w", err)
	}
	container.ReportsDB = reportsDB

	log.Info().Str("path", reportsDB.Path()).Msg("Reports database ready")
	return container, nil
}
