package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/absmach/fedmob/pkg/codec"
	"github.com/absmach/fedmob/pkg/monitor"
)

const DefaultYieldEvery = 10

type Config struct {
	// YieldEvery is the number of batches between cooperative yields.
	YieldEvery int                `env:"YIELD_EVERY" envDefault:"10" toml:"yield_every"`
	Thresholds monitor.Thresholds `envPrefix:"RESOURCE_" toml:"thresholds"`
}

// Orchestrator runs rounds and evaluations. Every run gets its own sequence
// number so that tensor ids of an abandoned run never alias a later one.
type Orchestrator struct {
	monitor    *monitor.Monitor
	yieldEvery int
	thresholds monitor.Thresholds
	logger     *slog.Logger
	runs       atomic.Uint64
}

func New(mon *monitor.Monitor, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.YieldEvery <= 0 {
		cfg.YieldEvery = DefaultYieldEvery
	}

	return &Orchestrator{
		monitor:    mon,
		yieldEvery: cfg.YieldEvery,
		thresholds: cfg.Thresholds,
		logger:     logger,
	}
}

// RunRound trains model on data for cfg.Epochs epochs and returns the final
// weights with the metrics of the last epoch. onEpochEnd may be nil.
func (o *Orchestrator) RunRound(ctx context.Context, model Model, data Dataset, cfg RoundConfig, onEpochEnd EpochFunc) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, fail(StageConfig, 0, err)
	}
	n := data.Len()
	if n == 0 {
		return Result{}, fail(StageDataset, 0, ErrEmptyDataset)
	}

	o.check("before_round")
	run := o.runs.Add(1)
	unpin := o.pin(run, model.Weights())
	defer unpin()

	scope := NewScope(o.tracker(), fmt.Sprintf("round-%d", run))
	defer scope.Close()

	var (
		metrics Metrics
		batches int
	)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		var acc accumulator
		for start := 0; start < n; start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, n)

			batch, err := data.Batch(ctx, start, end)
			if err != nil {
				return Result{}, fail(StageDataset, epoch, err)
			}
			if batch.Len() == 0 {
				return Result{}, fail(StageDataset, epoch, fmt.Errorf("empty batch for samples [%d, %d)", start, end))
			}

			res, err := model.TrainBatch(ctx, batch, cfg.LearningRate, scope)
			if err != nil {
				return Result{}, fail(StageTrain, epoch, err)
			}
			if math.IsNaN(res.Loss) || math.IsInf(res.Loss, 0) {
				return Result{}, fail(StageTrain, epoch, ErrNonFiniteLoss)
			}
			acc.add(res, batch.Len())

			batches++
			if batches%o.yieldEvery == 0 {
				runtime.Gosched()
				if err := ctx.Err(); err != nil {
					return Result{}, fail(StageCanceled, epoch, err)
				}
			}
		}

		metrics = acc.metrics()
		report := EpochReport{
			Epoch:    epoch,
			Epochs:   cfg.Epochs,
			Progress: float64(epoch) / float64(cfg.Epochs) * 100,
			Metrics:  metrics,
		}
		o.logger.Debug("Epoch finished",
			slog.Int("epoch", epoch),
			slog.Int("epochs", cfg.Epochs),
			slog.Float64("loss", metrics.Loss),
			slog.Float64("accuracy", metrics.Accuracy),
		)

		o.check("after_epoch")
		if err := ctx.Err(); err != nil {
			return Result{}, fail(StageCanceled, epoch, err)
		}
		if onEpochEnd != nil {
			if err := onEpochEnd(ctx, report); err != nil {
				return Result{}, fail(StageEpoch, epoch, err)
			}
		}
	}

	weights := model.Weights()
	if err := codec.Validate(weights, nil); err != nil {
		return Result{}, fail(StageWeights, cfg.Epochs, err)
	}

	scope.Close()
	o.check("after_round")

	return Result{Weights: weights, Metrics: metrics}, nil
}

// Evaluate runs model over data without updating weights.
func (o *Orchestrator) Evaluate(ctx context.Context, model Model, data Dataset, batchSize int) (Metrics, error) {
	if batchSize <= 0 {
		return Metrics{}, fail(StageConfig, 0, fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, batchSize))
	}
	n := data.Len()
	if n == 0 {
		return Metrics{}, fail(StageDataset, 0, ErrEmptyDataset)
	}

	scope := NewScope(o.tracker(), fmt.Sprintf("evaluate-%d", o.runs.Add(1)))
	defer scope.Close()

	var acc accumulator
	batches := 0
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)
		batch, err := data.Batch(ctx, start, end)
		if err != nil {
			return Metrics{}, fail(StageDataset, 0, err)
		}
		res, err := model.EvaluateBatch(ctx, batch, scope)
		if err != nil {
			return Metrics{}, fail(StageEvaluate, 0, err)
		}
		acc.add(res, batch.Len())

		batches++
		if batches%o.yieldEvery == 0 {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				return Metrics{}, fail(StageCanceled, 0, err)
			}
		}
	}

	return acc.metrics(), nil
}

func (o *Orchestrator) tracker() *monitor.Tracker {
	if o.monitor == nil {
		return nil
	}

	return o.monitor.Tracker()
}

func (o *Orchestrator) check(stage string) {
	if o.monitor == nil {
		return
	}
	o.monitor.Check(stage, o.thresholds)
}

// pin marks the held model weights so that cleanup never releases them.
// The returned func releases only this run's pins.
func (o *Orchestrator) pin(run uint64, ws codec.WeightSet) func() {
	tr := o.tracker()
	if tr == nil {
		return func() {}
	}

	ids := make([]string, len(ws))
	for i, t := range ws {
		ids[i] = fmt.Sprintf("model-%d/%d", run, i)
		tr.Track(ids[i], int64(t.Bytes()), true)
	}

	return func() {
		for _, id := range ids {
			tr.Release(id)
		}
	}
}

// accumulator keeps sample-weighted sums so that a short final batch does
// not skew the epoch averages.
type accumulator struct {
	loss     float64
	accuracy float64
	samples  int
}

func (a *accumulator) add(r BatchResult, size int) {
	a.loss += r.Loss * float64(size)
	a.accuracy += r.Accuracy * float64(size)
	a.samples += size
}

func (a *accumulator) metrics() Metrics {
	if a.samples == 0 {
		return Metrics{}
	}

	return Metrics{
		Loss:       a.loss / float64(a.samples),
		Accuracy:   a.accuracy / float64(a.samples),
		NumSamples: a.samples,
	}
}
