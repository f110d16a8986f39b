/**
 * Package di provides dependency injection type definitions.
 *
 * The Container holds every long-lived service. It is built once by Wire()
 * and handed to the HTTP server and the scheduler.
 */
package di

import (
	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/report"
	"github.com/aristath/quantlab/internal/modules/simulation"
	"github.com/aristath/quantlab/internal/reliability"
	"github.com/aristath/quantlab/internal/scheduler"
	"github.com/aristath/quantlab/internal/telemetry"
)

// Container holds all dependencies for the application
type Container struct {
	// Databases
	ReportsDB *database.DB // Stored reports and their msgpack payloads

	// Repositories
	ReportRepo *report.Repository

	// Services
	EventBus         *events.Bus
	Metrics          *telemetry.Metrics
	SimulationConfig simulation.Config     // Engine configuration every backtest starts from
	Archiver         *reliability.Archiver // nil when no archive bucket is configured

	// Background jobs
	Scheduler *scheduler.Scheduler
}

// JobInstances holds the registered jobs for manual triggering
type JobInstances struct {
	Retention *reliability.RetentionJob
	Archive   *reliability.ArchiveJob // nil when archiving is disabled
}

// Close releases the databases
func (c *Container) Close() error {
	if c.ReportsDB == nil {
		return nil
	}
	return c.ReportsDB.Close()
}
