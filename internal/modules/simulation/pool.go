package simulation

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/aristath/quantlab/internal/modules/partition"
)

// job is one iteration of a driver. split is evaluated on the worker so
// resampling happens in parallel too.
type job struct {
	index    int
	label    string
	regime   *int
	scenario string
	split    func() (partition.Split, error)
}

// outcome is the explicit result of a job: exactly one of result, fit and
// err is set, unless the job was cancelled before it started.
type outcome struct {
	index     int
	result    *BacktestResult
	fit       *fitted
	err       *IterationError
	elapsed   time.Duration
	cancelled bool
}

// workerPool runs jobs on a bounded number of goroutines
type workerPool struct {
	numWorkers int
}

func newWorkerPool(numWorkers int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &workerPool{numWorkers: numWorkers}
}

type jobItem struct {
	slot int
	job  job
}

type resultItem struct {
	slot    int
	outcome outcome
}

// run executes jobs and returns their outcomes in input order. done is
// called on the calling goroutine as each outcome arrives. Once ctx is
// cancelled, jobs that have not started are marked cancelled; running ones
// finish.
func (wp *workerPool) run(ctx context.Context, jobs []job, exec func(job) outcome, done func(outcome)) []outcome {
	numJobs := len(jobs)
	if numJobs == 0 {
		return nil
	}

	jobCh := make(chan jobItem, numJobs)
	results := make(chan resultItem, numJobs)

	var wg sync.WaitGroup
	numActualWorkers := wp.numWorkers
	if numJobs < numActualWorkers {
		numActualWorkers = numJobs
	}
	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobCh {
				if ctx.Err() != nil {
					results <- resultItem{slot: item.slot, outcome: outcome{index: item.job.index, cancelled: true}}
					continue
				}
				results <- resultItem{slot: item.slot, outcome: exec(item.job)}
			}
		}()
	}

	for slot, j := range jobs {
		jobCh <- jobItem{slot: slot, job: j}
	}
	close(jobCh)

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]outcome, numJobs)
	for item := range results {
		out[item.slot] = item.outcome
		if done != nil && !item.outcome.cancelled {
			done(item.outcome)
		}
	}
	return out
}
