// Package di provides dependency injection for services.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/report"
	"github.com/aristath/quantlab/internal/reliability"
	"github.com/aristath/quantlab/internal/telemetry"
)

// InitializeServices builds the repositories and services on top of the databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.ReportsDB == nil {
		return fmt.Errorf("container databases must be initialized first")
	}

	simCfg, err := cfg.SimulationConfig()
	if err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}
	container.SimulationConfig = simCfg

	container.ReportRepo = report.NewRepository(container.ReportsDB.Conn(), log)
	container.EventBus = events.NewBus(log)
	container.Metrics = telemetry.NewMetrics()

	if cfg.Archive.Enabled() {
		client, err := reliability.NewS3Client(ctx, reliability.S3Config{
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
			Region:          cfg.Archive.Region,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create archive client: %w", err)
		}
		container.Archiver = reliability.NewArchiver(container.ReportRepo, client, cfg.Archive.Prefix, container.EventBus, log)
		log.Info().Str("bucket", cfg.Archive.Bucket).Msg("Report archive enabled")
	} else {
		log.Info().Msg("Report archive disabled (no ARCHIVE_BUCKET)")
	}

	return nil
}
