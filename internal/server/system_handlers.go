package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/quantlab/internal/database"
	"github.com/aristath/quantlab/internal/di"
	"github.com/aristath/quantlab/internal/scheduler"
)

// JobStatus is the schedule of one registered job
type JobStatus struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// SystemStatus is the body of GET /api/system/status
type SystemStatus struct {
	Status         string          `json:"status"`
	UptimeSeconds  float64         `json:"uptime_seconds"`
	Goroutines     int             `json:"goroutines"`
	NumCPU         int             `json:"num_cpu"`
	Workers        int             `json:"workers"`
	CPUPercent     float64         `json:"cpu_percent"`
	MemoryPercent  float64         `json:"memory_percent"`
	HeapAllocMB    float64         `json:"heap_alloc_mb"`
	Database       *database.Stats `json:"database,omitempty"`
	ArchiveEnabled bool            `json:"archive_enabled"`
	Jobs           []JobStatus     `json:"jobs"`
}

// SystemHandlers serves runtime status and manual job triggers
type SystemHandlers struct {
	container *di.Container
	jobs      map[string]scheduler.Job
	started   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers. jobs may be nil.
func NewSystemHandlers(container *di.Container, jobs *di.JobInstances, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		container: container,
		jobs:      make(map[string]scheduler.Job),
		started:   time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
	if jobs != nil {
		if jobs.Retention != nil {
			h.jobs[jobs.Retention.Name()] = jobs.Retention
		}
		if jobs.Archive != nil {
			h.jobs[jobs.Archive.Name()] = jobs.Archive
		}
	}
	return h
}

// HandleStatus returns process, host and database status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	workers := h.container.SimulationConfig.NJobs
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	status := SystemStatus{
		Status:         "ok",
		UptimeSeconds:  time.Since(h.started).Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		NumCPU:         runtime.NumCPU(),
		Workers:        workers,
		CPUPercent:     cpuPercent,
		MemoryPercent:  memPercent,
		HeapAllocMB:    float64(ms.HeapAlloc) / 1024 / 1024,
		ArchiveEnabled: h.container.Archiver != nil,
		Jobs:           make([]JobStatus, 0, len(h.jobs)),
	}

	if stats, err := h.container.ReportsDB.GetStats(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get database statistics")
		status.Status = "degraded"
	} else {
		status.Database = stats
	}

	for _, name := range []string{"report_retention", "report_archive"} {
		if _, ok := h.jobs[name]; !ok {
			continue
		}
		js := JobStatus{Name: name}
		if h.container.Scheduler != nil {
			if entry, ok := h.container.Scheduler.NextRun(name); ok {
				js.Next = entry.Next
				js.Prev = entry.Prev
			}
		}
		status.Jobs = append(status.Jobs, js)
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleRunJob runs a maintenance job immediately
func (h *SystemHandlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job " + name})
		return
	}

	start := time.Now()
	var err error
	if h.container.Scheduler != nil {
		err = h.container.Scheduler.RunNow(job)
	} else {
		err = job.Run()
	}
	if err != nil {
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"job": name, "error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"status":      "completed",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// getSystemStats returns host CPU and RAM usage percentages. The CPU sample
// spans 100ms.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
