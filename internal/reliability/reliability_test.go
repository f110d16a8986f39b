package reliability

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/report"
	"github.com/aristath/quantlab/internal/modules/simulation"
	testingpkg "github.com/aristath/quantlab/internal/testing"
)

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	failKey string
}

func (u *memoryUploader) Upload(_ context.Context, key string, body io.Reader, size int64) error {
	if key == u.failKey {
		return errors.New("upload refused")
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = data
	return nil
}

func saveReport(t *testing.T, repo *report.Repository, at time.Time) *report.Report {
	t.Helper()
	run := &simulation.Run{
		Driver:    simulation.DriverSimple,
		Series:    "spy",
		Attempted: 1,
		Results:   []simulation.BacktestResult{{Sharpe: 1.2, TotalReturn: 0.1}},
	}
	agg, err := report.NewAggregator(0.95, zerolog.Nop())
	require.NoError(t, err)
	rep, err := agg.Build(run)
	require.NoError(t, err)
	rep.CreatedAt = at
	require.NoError(t, repo.Save(context.Background(), rep))
	return rep
}

func TestArchiver_ArchivePending(t *testing.T) {
	db := testingpkg.NewTestDB(t, "reports")
	repo := report.NewRepository(db.Conn(), zerolog.Nop())
	day := time.Date(2024, 6, 9, 15, 0, 0, 0, time.UTC)
	first := saveReport(t, repo, day)
	second := saveReport(t, repo, day.AddDate(0, 0, 1))

	bus := events.NewBus(zerolog.Nop())
	var archivedEvents []*events.ReportArchivedData
	bus.Subscribe(events.ReportArchived, func(e *events.Event) {
		archivedEvents = append(archivedEvents, e.Data.(*events.ReportArchivedData))
	})

	up := &memoryUploader{objects: map[string][]byte{}}
	a := NewArchiver(repo, up, "quantlab/reports", bus, zerolog.Nop())

	n, err := a.ArchivePending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	key := "quantlab/reports/2024/06/09/" + first.ID + ".msgpack"
	require.Contains(t, up.objects, key)
	decoded, err := report.Decode(up.objects[key])
	require.NoError(t, err)
	assert.Equal(t, first.ID, decoded.ID)
	assert.Contains(t, up.objects, "quantlab/reports/2024/06/10/"+second.ID+".msgpack")

	require.Len(t, archivedEvents, 2)
	assert.Equal(t, key, archivedEvents[0].Key)

	records, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	for _, rec := range records {
		assert.NotNil(t, rec.ArchivedAt)
	}

	// nothing left to do
	n, err = a.ArchivePending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestArchiver_SkipsFailedUploads(t *testing.T) {
	db := testingpkg.NewTestDB(t, "reports")
	repo := report.NewRepository(db.Conn(), zerolog.Nop())
	day := time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC)
	bad := saveReport(t, repo, day)
	saveReport(t, repo, day.Add(time.Hour))

	up := &memoryUploader{objects: map[string][]byte{}}
	a := NewArchiver(repo, up, "r", nil, zerolog.Nop())
	up.failKey = a.Key(report.Record{ID: bad.ID, CreatedAt: day})

	n, err := a.ArchivePending(context.Background(), 0)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pending, err := repo.ListUnarchived(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, bad.ID, pending[0].ID)
}

func TestRetentionJob(t *testing.T) {
	db := testingpkg.NewTestDB(t, "reports")
	repo := report.NewRepository(db.Conn(), zerolog.Nop())
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	saveReport(t, repo, now.AddDate(0, 0, -40))
	kept := saveReport(t, repo, now.AddDate(0, 0, -5))

	job := NewRetentionJob(repo, db, 30, zerolog.Nop())
	job.now = func() time.Time { return now }
	var deleted int64
	job.OnDeleted(func(n int64) { deleted += n })

	require.NoError(t, job.Run())
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, "report_retention", job.Name())

	records, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, kept.ID, records[0].ID)
}

func TestArchiveJob(t *testing.T) {
	db := testingpkg.NewTestDB(t, "reports")
	repo := report.NewRepository(db.Conn(), zerolog.Nop())
	saveReport(t, repo, time.Now())

	up := &memoryUploader{objects: map[string][]byte{}}
	job := NewArchiveJob(NewArchiver(repo, up, "a", nil, zerolog.Nop()), 5)
	require.NoError(t, job.Run())
	assert.Len(t, up.objects, 1)
}
