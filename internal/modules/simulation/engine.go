package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/quantlab/internal/domain"
	"github.com/aristath/quantlab/internal/events"
	"github.com/aristath/quantlab/internal/modules/metrics"
	"github.com/aristath/quantlab/internal/modules/partition"
	"github.com/aristath/quantlab/internal/modules/validation"
)

const eventModule = "simulation"

// Recorder receives run telemetry. Outcome is "success" or "failure",
// status is "completed" or "failed".
type Recorder interface {
	RunStarted(driver string)
	IterationFinished(driver, outcome string, elapsed time.Duration)
	RunFinished(driver, status string, elapsed time.Duration)
}

// Option customizes an Engine
type Option func(*Engine)

// WithEvents publishes progress on bus
func WithEvents(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithRecorder reports telemetry to r
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine runs the simulation drivers with one validated Config. An Engine is
// safe for concurrent use; every driver call gets its own RNG and results.
type Engine struct {
	cfg       Config
	calc      *metrics.Calculator
	validator *validation.Validator
	pool      *workerPool
	bus       *events.Bus
	recorder  Recorder
	log       zerolog.Logger
}

// NewEngine validates cfg and builds the shared metric and validation services
func NewEngine(cfg Config, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	calc, err := metrics.NewCalculator(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewValidator(cfg.Validation, log)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		calc:      calc,
		validator: validator,
		pool:      newWorkerPool(cfg.NJobs),
		log:       log.With().Str("component", "simulation").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Calculator returns the metrics calculator shared by every driver
func (e *Engine) Calculator() *metrics.Calculator {
	return e.calc
}

// runState tracks one driver invocation on the calling goroutine
type runState struct {
	run       *Run
	log       zerolog.Logger
	total     int
	completed int
}

func (e *Engine) begin(driver Driver, series string, total int) *runState {
	run := &Run{
		ID:        uuid.NewString(),
		Driver:    driver,
		Series:    series,
		Seed:      e.cfg.Seed,
		Config:    e.cfg,
		StartedAt: time.Now(),
	}
	rs := &runState{
		run:   run,
		log:   e.log.With().Str("driver", string(driver)).Str("run_id", run.ID).Logger(),
		total: total,
	}

	rs.log.Info().
		Str("series", series).
		Int("iterations", total).
		Int("workers", e.pool.numWorkers).
		Msg("Run started")
	e.bus.Emit(eventModule, &events.RunStartedData{
		RunID:      run.ID,
		Driver:     string(driver),
		Iterations: total,
		Workers:    e.pool.numWorkers,
	})
	if e.recorder != nil {
		e.recorder.RunStarted(string(driver))
	}
	return rs
}

// observe publishes one finished iteration
func (e *Engine) observe(rs *runState, o outcome) {
	rs.completed++
	driver := string(rs.run.Driver)

	if o.err != nil {
		rs.log.Warn().
			Err(o.err.Err).
			Int("iteration", o.index).
			Str("label", o.err.Label).
			Str("stage", string(o.err.Stage)).
			Int("train_start", o.err.TrainStart).
			Int("train_end", o.err.TrainEnd).
			Int("test_start", o.err.TestStart).
			Int("test_end", o.err.TestEnd).
			Msg("Iteration failed")
		e.bus.Emit(eventModule, &events.IterationFailedData{
			RunID:     rs.run.ID,
			Driver:    driver,
			Iteration: o.index,
			Label:     o.err.Label,
			Stage:     string(o.err.Stage),
			Error:     o.err.Err.Error(),
		})
		if e.recorder != nil {
			e.recorder.IterationFinished(driver, "failure", o.elapsed)
		}
		return
	}

	level := rs.log.Debug()
	if e.cfg.Verbose {
		level = rs.log.Info()
	}
	level.
		Int("iteration", o.index).
		Str("label", o.result.Label).
		Float64("sharpe", o.result.Sharpe).
		Float64("max_drawdown", o.result.MaxDrawdown).
		Dur("elapsed", o.elapsed).
		Msg("Iteration completed")
	e.bus.Emit(eventModule, &events.IterationCompletedData{
		RunID:       rs.run.ID,
		Driver:      driver,
		Iteration:   o.index,
		Label:       o.result.Label,
		Sharpe:      o.result.Sharpe,
		MaxDrawdown: o.result.MaxDrawdown,
		Completed:   rs.completed,
		Total:       rs.total,
	})
	if e.recorder != nil {
		e.recorder.IterationFinished(driver, "success", o.elapsed)
	}
}

// execute runs one batch of model iterations and folds the outcomes into the
// run in iteration order. With FailOnModelError the first model failure
// stops scheduling and is returned.
func (e *Engine) execute(ctx context.Context, rs *runState, factory domain.ModelFactory, jobs []job) error {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatal error
	outcomes := e.pool.run(batchCtx, jobs,
		func(j job) outcome { return e.cycle(rs.run.Driver, factory, j) },
		func(o outcome) {
			e.observe(rs, o)
			if o.err != nil && fatal == nil && e.cfg.FailOnModelError && isModelError(o.err) {
				fatal = o.err
				cancel()
			}
		})

	e.collect(rs, outcomes)
	if fatal != nil {
		return fatal
	}
	if ctx.Err() != nil {
		rs.run.Cancelled = true
	}
	return nil
}

func (e *Engine) collect(rs *runState, outcomes []outcome) {
	for _, o := range outcomes {
		switch {
		case o.cancelled:
		case o.err != nil:
			rs.run.Attempted++
			rs.run.Failures = append(rs.run.Failures, o.err)
		default:
			rs.run.Attempted++
			rs.run.Results = append(rs.run.Results, *o.result)
		}
	}
}

// finish validates the out-of-sample stream, closes the run and publishes
// the final status. A run without a single successful iteration fails.
func (e *Engine) finish(rs *runState, err error) (*Run, error) {
	run := rs.run
	run.FinishedAt = time.Now()
	elapsed := run.FinishedAt.Sub(run.StartedAt)

	if err == nil && len(run.Results) == 0 {
		reason := "no iterations were scheduled"
		if len(run.Failures) > 0 {
			reason = "first failure: " + run.Failures[0].Error()
		}
		err = domain.Insufficient("%s: no iteration succeeded out of %d (%s)", run.Driver, run.Attempted, reason)
	}
	if err == nil && run.Validation == nil {
		run.Validation = e.validator.Validate(run.InSample(), run.OutOfSample())
	}

	status := "completed"
	finished := &events.RunFinishedData{
		RunID:     run.ID,
		Driver:    string(run.Driver),
		Succeeded: len(run.Results),
		Failed:    len(run.Failures),
		Duration:  elapsed.Seconds(),
	}
	if err != nil {
		status = "failed"
		finished.Error = err.Error()
		rs.log.Error().Err(err).Int("failed", len(run.Failures)).Dur("elapsed", elapsed).Msg("Run failed")
	} else {
		finished.MeanSharpe = meanSharpe(run.Results)
		rs.log.Info().
			Int("succeeded", len(run.Results)).
			Int("failed", len(run.Failures)).
			Bool("cancelled", run.Cancelled).
			Float64("mean_sharpe", finished.MeanSharpe).
			Dur("elapsed", elapsed).
			Msg("Run completed")
	}
	finished.Status = status
	e.bus.Emit(eventModule, finished)
	if e.recorder != nil {
		e.recorder.RunFinished(string(run.Driver), status, elapsed)
	}

	if err != nil {
		return nil, err
	}
	return run, nil
}

// cycle is PARTITION → FIT → PREDICT → SCORE for one job on a fresh model
func (e *Engine) cycle(driver Driver, factory domain.ModelFactory, j job) (o outcome) {
	start := time.Now()
	o.index = j.index
	stage := StagePartition
	var split partition.Split

	fail := func(err error) {
		o.result = nil
		o.err = &IterationError{
			Driver:     driver,
			Iteration:  j.index,
			Label:      j.label,
			TrainStart: split.TrainStart,
			TrainEnd:   split.TrainEnd,
			TestStart:  split.TestStart,
			TestEnd:    split.TestEnd,
			Stage:      stage,
			Err:        err,
		}
	}
	defer func() {
		if r := recover(); r != nil {
			fail(recovered(stage, r))
		}
		o.elapsed = time.Since(start)
	}()

	var err error
	if split, err = j.split(); err != nil {
		fail(err)
		return o
	}

	f, err := fitPredict(factory, split, &stage)
	if err != nil {
		fail(err)
		return o
	}

	stage = StageScore
	summary, err := e.calc.Compute(f.returns)
	if err != nil {
		fail(err)
		return o
	}

	res := newBacktestResult(j, split, summary)
	res.Returns = f.returns
	res.InSample = f.inSample
	if e.cfg.KeepPredictions {
		res.Predictions = f.predictions
	}
	o.result = &res
	return o
}

// fitted is one trained model's output on both halves of a split
type fitted struct {
	predictions domain.PredictionSeries
	returns     []float64
	inSample    []float64
}

// fitPredict trains a fresh model on split.Train and predicts both halves.
// stage follows progress so a caller recovering a panic knows where it was.
func fitPredict(factory domain.ModelFactory, split partition.Split, stage *Stage) (*fitted, error) {
	*stage = StageFit
	model := factory()
	if model == nil {
		return nil, &domain.ModelError{Op: domain.OpFit, Err: errors.New("model factory returned nil")}
	}
	if err := model.Fit(split.Train); err != nil {
		return nil, asModelError(domain.OpFit, err)
	}

	*stage = StagePredict
	predictions, err := model.Predict(split.Test)
	if err != nil {
		return nil, asModelError(domain.OpPredict, err)
	}
	returns, err := domain.StrategyReturns(predictions, split.Test)
	if err != nil {
		return nil, err
	}
	trained, err := model.Predict(split.Train)
	if err != nil {
		return nil, asModelError(domain.OpPredict, err)
	}
	inSample, err := domain.StrategyReturns(trained, split.Train)
	if err != nil {
		return nil, err
	}
	return &fitted{predictions: predictions, returns: returns, inSample: inSample}, nil
}

// recovered turns a panic during stage into an error
func recovered(stage Stage, r interface{}) error {
	err := fmt.Errorf("panic: %v", r)
	switch stage {
	case StageFit:
		return &domain.ModelError{Op: domain.OpFit, Err: err}
	case StagePredict:
		return &domain.ModelError{Op: domain.OpPredict, Err: err}
	}
	return err
}

func asModelError(op domain.ModelOp, err error) error {
	var me *domain.ModelError
	if errors.As(err, &me) {
		return err
	}
	return &domain.ModelError{Op: op, Err: err}
}

func isModelError(err error) bool {
	return errors.Is(err, domain.ErrTraining) || errors.Is(err, domain.ErrPrediction)
}

func meanSharpe(results []BacktestResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Sharpe
	}
	return sum / float64(len(results))
}

// newRand builds the PCG stream for seed
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func checkSeries(series *domain.ReturnSeries, factory domain.ModelFactory) error {
	if series == nil || series.Len() == 0 {
		return domain.Insufficient("empty return series")
	}
	if series.HasNaN() {
		return domain.Invalid("series %q contains NaN or Inf returns", series.Name())
	}
	if factory == nil {
		return domain.Invalid("a model factory is required")
	}
	return nil
}
