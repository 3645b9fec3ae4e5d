package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"resindex/internal/dataset"
	"resindex/internal/infer"
	"resindex/internal/interaction"
	"resindex/internal/model"
	"resindex/internal/objective"
	"resindex/internal/regress"
)

// Budget expresses per-trial resource demands against a total pool. The
// accelerator share may be fractional so many trials share one device.
type Budget struct {
	TrialCPU         float64 `json:"trial_cpu"`         // default 1
	TrialAccelerator float64 `json:"trial_accelerator"` // default 0
	TotalCPU         float64 `json:"total_cpu"`         // default NumCPU
	TotalAccelerator float64 `json:"total_accelerator"` // default 1
}

func normalizeBudget(b Budget) Budget {
	if b.TrialCPU <= 0 {
		b.TrialCPU = 1
	}
	if b.TotalCPU <= 0 {
		b.TotalCPU = float64(runtime.NumCPU())
	}
	if b.TotalAccelerator <= 0 {
		b.TotalAccelerator = 1
	}
	return b
}

// Concurrency is the number of trials the budget admits at once.
func (b Budget) Concurrency() int {
	b = normalizeBudget(b)
	limit := b.TotalCPU / b.TrialCPU
	if b.TrialAccelerator > 0 {
		if acc := b.TotalAccelerator / b.TrialAccelerator; acc < limit {
			limit = acc
		}
	}
	if limit < 1 {
		return 1
	}
	return int(limit)
}

// Config configures one search run.
// Zero values are replaced with defaults.
type Config struct {
	NumTrials     int                 `json:"num_trials"` // default 10
	Seed          int64               `json:"seed"`
	Variant       interaction.Variant `json:"variant"`
	Space         Space               `json:"space"`
	Scheduler     ASHAConfig          `json:"scheduler"`
	Budget        Budget              `json:"budget"`
	TrainFraction float64             `json:"train_fraction"` // default 0.8
	DisableReduce bool                `json:"disable_reduce"`

	// Policy ranks reports; nil selects objective.DefaultPolicy.
	Policy objective.Policy `json:"-"`
	// Backend runs the evaluation regressions; nil selects in-process OLS.
	Backend regress.Backend `json:"-"`
}

func normalizeDriverConfig(cfg Config) Config {
	if cfg.NumTrials <= 0 {
		cfg.NumTrials = 10
	}
	if cfg.TrainFraction <= 0 || cfg.TrainFraction >= 1 {
		cfg.TrainFraction = 0.8
	}
	if cfg.Space.isZero() {
		cfg.Space = DefaultSpace()
	}
	if cfg.Policy == nil {
		cfg.Policy = objective.DefaultPolicy
	}
	cfg.Budget = normalizeBudget(cfg.Budget)
	return cfg
}

// Result is one completed search: the summary, every trial's lifecycle and
// the best trial's final model state.
type Result struct {
	Summary      model.SearchSummary
	Trials       []model.TrialRecord
	BestSnapshot *model.Snapshot
}

// Driver samples trial configurations, trains them in parallel under the
// resource budget and stops laggards with successive halving.
type Driver struct {
	cfg       Config
	evaluator *objective.Evaluator
}

func NewDriver(cfg Config) (*Driver, error) {
	cfg = normalizeDriverConfig(cfg)
	if err := validateSpace(cfg.Space); err != nil {
		return nil, err
	}
	return &Driver{cfg: cfg, evaluator: objective.NewEvaluator(cfg.Backend)}, nil
}

// Run executes the full search over the dataset and returns every trial
// record plus the best trial's snapshot.
func (d *Driver) Run(ctx context.Context, data *dataset.Dataset) (*Result, error) {
	if data.Outcome == nil {
		return nil, fmt.Errorf("search requires an observed outcome")
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	train, test, err := data.Split(d.cfg.TrainFraction, rng)
	if err != nil {
		return nil, err
	}

	var basis *mat.Dense
	if !d.cfg.DisableReduce {
		if basis, err = SVDBasis(train.Predictors); err != nil {
			return nil, err
		}
	}

	scheduler := NewASHA(d.cfg.Scheduler)
	runID := uuid.NewString()

	type job struct {
		idx    int
		params model.TrialParams
		seed   int64
	}
	type outcome struct {
		idx      int
		record   model.TrialRecord
		snapshot *model.Snapshot
		err      error
	}

	jobs := make(chan job)
	results := make(chan outcome, d.cfg.NumTrials)

	workerCount := d.cfg.Budget.Concurrency()
	if workerCount > d.cfg.NumTrials {
		workerCount = d.cfg.NumTrials
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- outcome{idx: j.idx, err: err}
					continue
				}
				record, snapshot, err := d.runTrial(ctx, runID, j.params, j.seed, basis, train, test, scheduler)
				results <- outcome{idx: j.idx, record: record, snapshot: snapshot, err: err}
			}
		}()
	}

	for i := 0; i < d.cfg.NumTrials; i++ {
		jobs <- job{idx: i, params: d.cfg.Space.Sample(rng), seed: rng.Int63()}
	}
	close(jobs)

	wg.Wait()
	close(results)

	trials := make([]model.TrialRecord, d.cfg.NumTrials)
	snapshots := make([]*model.Snapshot, d.cfg.NumTrials)
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		trials[res.idx] = res.record
		snapshots[res.idx] = res.snapshot
	}

	best := -1
	for i, trial := range trials {
		if trial.Status == model.TrialStatusFailed || math.IsInf(float64(trial.Composite), 1) || math.IsNaN(float64(trial.Composite)) {
			continue
		}
		if best < 0 || trial.Composite < trials[best].Composite {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("search produced no usable trial")
	}

	bestTrial := trials[best]
	summary := model.SearchSummary{
		RunID:          runID,
		CreatedAtUTC:   time.Now().UTC().Format(time.RFC3339),
		NumTrials:      d.cfg.NumTrials,
		BestTrialID:    bestTrial.TrialID,
		BestParams:     bestTrial.Params,
		BestComposite:  bestTrial.Composite,
		BestReport:     bestTrial.Reports[len(bestTrial.Reports)-1],
		BestSnapshotID: snapshots[best].ID,
	}
	return &Result{Summary: summary, Trials: trials, BestSnapshot: snapshots[best]}, nil
}

// runTrial trains one configuration through the scheduler's milestones.
// Divergence is a recorded trial failure, not a run error.
func (d *Driver) runTrial(ctx context.Context, runID string, params model.TrialParams, seed int64, basis *mat.Dense, train, test *dataset.Dataset, scheduler *ASHA) (model.TrialRecord, *model.Snapshot, error) {
	record := model.TrialRecord{
		RunID:     runID,
		TrialID:   uuid.NewString(),
		Params:    params,
		Composite: model.Metric(math.Inf(1)),
	}

	mcfg := interaction.Config{
		Variant:         d.cfg.Variant,
		InteractionVars: train.PredictorDim(),
		ControlVars:     train.ControlDim(),
		HiddenLayers:    []int{params.Layer1, params.Layer2},
		Seed:            seed,
	}
	if basis != nil {
		_, cols := basis.Dims()
		kdim := params.KDim
		if kdim > cols {
			kdim = cols
		}
		record.Params.KDim = kdim
		mcfg.Reduce = true
		mcfg.Basis = basis
		mcfg.KDim = kdim
	}

	m, err := interaction.New(mcfg)
	if err != nil {
		record.Status = model.TrialStatusFailed
		record.Failure = err.Error()
		return record, nil, nil
	}

	fitter := infer.NewMAP(infer.MAPConfig{
		BatchSize:   params.BatchSize,
		LR:          params.LR,
		WeightDecay: params.WeightDecay,
		Seed:        seed,
	})

	trained := 0
	for rung, milestone := range scheduler.Milestones() {
		if _, err := fitter.Fit(ctx, m, train, milestone-trained); err != nil {
			if errors.Is(err, infer.ErrDiverged) {
				report := d.evaluator.Evaluate(m, test, rung, milestone)
				report.FitFailure = err.Error()
				record.Reports = append(record.Reports, report)
				record.Status = model.TrialStatusFailed
				record.Failure = err.Error()
				return record, nil, nil
			}
			return record, nil, err
		}
		trained = milestone

		report := d.evaluator.Evaluate(m, test, rung, milestone)
		record.Reports = append(record.Reports, report)
		record.Composite = model.Metric(d.cfg.Policy(report))

		if !scheduler.Decide(rung, float64(record.Composite)) {
			if milestone >= scheduler.Milestones()[len(scheduler.Milestones())-1] {
				record.Status = model.TrialStatusCompleted
			} else {
				record.Status = model.TrialStatusStopped
			}
			break
		}
	}
	return record, m.Snapshot(), nil
}

// SVDBasis returns the right singular vectors of the training predictors,
// the projection basis reduced trials truncate.
func SVDBasis(predictors *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(predictors, mat.SVDThin) {
		return nil, fmt.Errorf("predictor decomposition failed to converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	return &v, nil
}
