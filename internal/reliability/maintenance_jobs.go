package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/database"
)

// ReportPruner deletes reports older than a cutoff
type ReportPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJob removes expired reports and reclaims their space
type RetentionJob struct {
	pruner    ReportPruner
	db        *database.DB
	retention time.Duration
	timeout   time.Duration
	onDeleted func(n int64)
	now       func() time.Time
	log       zerolog.Logger
}

// NewRetentionJob keeps reports for retentionDays. db may be nil to skip vacuuming.
func NewRetentionJob(pruner ReportPruner, db *database.DB, retentionDays int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		pruner:    pruner,
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		timeout:   5 * time.Minute,
		now:       time.Now,
		log:       log.With().Str("job", "report_retention").Logger(),
	}
}

// OnDeleted registers a callback receiving the number of deleted reports
func (j *RetentionJob) OnDeleted(fn func(n int64)) {
	j.onDeleted = fn
}

// Name returns the job name for scheduler
func (j *RetentionJob) Name() string {
	return "report_retention"
}

// Run executes the retention job
func (j *RetentionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if j.onDeleted != nil {
		j.onDeleted(deleted)
	}
	if deleted == 0 || j.db == nil {
		return nil
	}

	// Space reclamation is best effort
	if err := j.db.IncrementalVacuum(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Incremental vacuum failed")
	}
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	return nil
}

// ArchiveJob uploads reports that have no archive copy yet
type ArchiveJob struct {
	archiver  *Archiver
	batchSize int
	timeout   time.Duration
}

// NewArchiveJob archives at most batchSize reports per run
func NewArchiveJob(archiver *Archiver, batchSize int) *ArchiveJob {
	return &ArchiveJob{archiver: archiver, batchSize: batchSize, timeout: 10 * time.Minute}
}

// Name returns the job name for scheduler
func (j *ArchiveJob) Name() string {
	return "report_archive"
}

// Run executes the archive sweep
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.archiver.ArchivePending(ctx, j.batchSize)
	return err
}
