package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/utils"
)

// ErrNotFound is returned when no report has the requested ID
var ErrNotFound = errors.New("report not found")

// Record is the listing view of a stored report
type Record struct {
	ID         string     `json:"id"`
	Series     string     `json:"series"`
	Drivers    []string   `json:"drivers"`
	MeanSharpe float64    `json:"mean_sharpe"`
	Iterations int        `json:"iterations"`
	Failures   int        `json:"failures"`
	CreatedAt  time.Time  `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	ArchiveKey string     `json:"archive_key,omitempty"`
}

// reportColumns is the column list scanned by scanRecord
const reportColumns = `id, series, drivers, mean_sharpe, iterations, failures, created_at, archived_at, archive_key`

// Repository stores reports in reports.db
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a report repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "report").Logger(),
	}
}

// Save inserts or replaces a report
func (r *Repository) Save(ctx context.Context, rep *Report) error {
	payload, err := Encode(rep)
	if err != nil {
		return err
	}

	iterations := 0
	for _, s := range rep.Summary {
		iterations += s.Iterations
	}

	query := `
		INSERT OR REPLACE INTO reports
		(id, series, drivers, mean_sharpe, iterations, failures, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		rep.ID,
		rep.Series,
		strings.Join(rep.Drivers, ","),
		rep.MeanSharpe(),
		iterations,
		len(rep.Failures),
		rep.CreatedAt.Unix(),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", rep.ID, err)
	}

	r.log.Info().
		Str("report_id", rep.ID).
		Str("series", rep.Series).
		Int("bytes", len(payload)).
		Msg("Report saved")
	return nil
}

// Get loads and decodes a report
func (r *Repository) Get(ctx context.Context, id string) (*Report, error) {
	payload, err := r.Payload(ctx, id)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}

// Payload returns the stored msgpack encoding of a report
func (r *Repository) Payload(ctx context.Context, id string) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, "SELECT payload FROM reports WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report %s: %w", id, err)
	}
	return payload, nil
}

// List returns the newest reports first
func (r *Repository) List(ctx context.Context, limit int) ([]Record, error) {
	query := "SELECT " + reportColumns + " FROM reports ORDER BY created_at DESC, rowid DESC LIMIT ?"
	return r.queryRecords(ctx, query, limit)
}

// ListUnarchived returns the oldest reports without an archive copy
func (r *Repository) ListUnarchived(ctx context.Context, limit int) ([]Record, error) {
	query := "SELECT " + reportColumns + " FROM reports WHERE archived_at IS NULL ORDER BY created_at ASC, rowid ASC LIMIT ?"
	return r.queryRecords(ctx, query, limit)
}

// MarkArchived records where a report was archived
func (r *Repository) MarkArchived(ctx context.Context, id, key string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, "UPDATE reports SET archived_at = ?, archive_key = ? WHERE id = ?", at.Unix(), key, id)
	if err != nil {
		return fmt.Errorf("failed to mark report %s archived: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteOlderThan removes reports created before cutoff and returns how many were removed
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM reports WHERE created_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete reports older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted reports: %w", err)
	}
	if n > 0 {
		r.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("Old reports deleted")
	}
	return n, nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec        Record
		drivers    string
		createdAt  int64
		archivedAt sql.NullInt64
		archiveKey sql.NullString
	)
	err := rows.Scan(&rec.ID, &rec.Series, &drivers, &rec.MeanSharpe, &rec.Iterations, &rec.Failures,
		&createdAt, &archivedAt, &archiveKey)
	if err != nil {
		return Record{}, err
	}
	rec.Drivers = utils.ParseCSV(drivers)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	if archivedAt.Valid {
		t := time.Unix(archivedAt.Int64, 0).UTC()
		rec.ArchivedAt = &t
	}
	rec.ArchiveKey = archiveKey.String
	return rec, nil
}
