package reliability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/report"
)

// Uploader stores an object in the archive
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// ReportStore is the part of the report repository the archiver needs
type ReportStore interface {
	ListUnarchived(ctx context.Context, limit int) ([]report.Record, error)
	Payload(ctx context.Context, id string) ([]byte, error)
	MarkArchived(ctx context.Context, id, key string, at time.Time) error
}

// Archiver copies stored report payloads to the archive under
// <prefix>/YYYY/MM/DD/<id>.msgpack, keyed by report creation date.
type Archiver struct {
	store    ReportStore
	uploader Uploader
	prefix   string
	bus      *events.Bus
	now      func() time.Time
	log      zerolog.Logger
}

// NewArchiver creates an archiver. bus may be nil.
func NewArchiver(store ReportStore, uploader Uploader, prefix string, bus *events.Bus, log zerolog.Logger) *Archiver {
	return &Archiver{
		store:    store,
		uploader: uploader,
		prefix:   prefix,
		bus:      bus,
		now:      time.Now,
		log:      log.With().Str("service", "report_archiver").Logger(),
	}
}

// Key returns the archive key of a report
func (a *Archiver) Key(rec report.Record) string {
	day := rec.CreatedAt.UTC()
	return path.Join(a.prefix, day.Format("2006"), day.Format("01"), day.Format("02"), rec.ID+".msgpack")
}

// ArchivePending uploads up to limit unarchived reports, oldest first. A
// failing report is logged and skipped; the errors are joined in the result.
func (a *Archiver) ArchivePending(ctx context.Context, limit int) (int, error) {
	pending, err := a.store.ListUnarchived(ctx, limit)
	if err != nil {
		return 0, err
	}

	archived := 0
	var errs []error
	for _, rec := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := a.archive(ctx, rec); err != nil {
			a.log.Warn().Err(err).Str("report_id", rec.ID).Msg("Failed to archive report")
			errs = append(errs, err)
			continue
		}
		archived++
	}

	if archived > 0 {
		a.log.Info().Int("archived", archived).Int("pending", len(pending)).Msg("Reports archived")
	}
	return archived, errors.Join(errs...)
}

func (a *Archiver) archive(ctx context.Context, rec report.Record) error {
	payload, err := a.store.Payload(ctx, rec.ID)
	if err != nil {
		return err
	}
	key := a.Key(rec)
	if err := a.uploader.Upload(ctx, key, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return err
	}
	if err := a.store.MarkArchived(ctx, rec.ID, key, a.now()); err != nil {
		return fmt.Errorf("uploaded %s but failed to record it: %w", key, err)
	}
	a.bus.Emit("reliability", &events.ReportArchivedData{ReportID: rec.ID, Key: key, Bytes: len(payload)})
	return nil
}
