// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/config"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/reliability"
	"github.com/aristath/quantlab/internal/scheduler"
)

// RegisterJobs creates the scheduler and registers the maintenance jobs.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	container.Scheduler = sched
	instances := &JobInstances{}

	retention := reliability.NewRetentionJob(container.ReportRepo, container.ReportsDB, cfg.RetentionDays, log)
	retention.OnDeleted(func(n int64) {
		container.Metrics.ReportsDeleted.Add(float64(n))
	})
	if err := sched.AddJob(cfg.RetentionSchedule, retention); err != nil {
		return nil, fmt.Errorf("failed to register retention job: %w", err)
	}
	instances.Retention = retention

	if container.Archiver != nil {
		archive := reliability.NewArchiveJob(container.Archiver, cfg.Archive.BatchSize)
		if err := sched.AddJob(cfg.ArchiveSchedule, archive); err != nil {
			return nil, fmt.Errorf("failed to register archive job: %w", err)
		}
		instances.Archive = archive
	}

	container.EventBus.Subscribe(events.ReportArchived, func(*events.Event) {
		container.Metrics.ReportsArchived.Inc()
	})

	log.Info().Bool("archive", instances.Archive != nil).Msg("Jobs registered")
	return instances, nil
}
