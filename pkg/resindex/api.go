package resindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"resindex/internal/dataset"
	"resindex/internal/infer"
	"resindex/internal/interaction"
	"resindex/internal/model"
	"resindex/internal/objective"
	"resindex/internal/search"
	"resindex/internal/storage"
)

const (
	defaultDBPath     = "resindex.db"
	defaultExportsDir = "exports"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
}

// Client is the public entry point: it owns the store and exposes the
// train / search / index lifecycle.
type Client struct {
	store      storage.Store
	exportsDir string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{store: store, exportsDir: exportsDir}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Reset reinitializes the store, dropping in-memory state.
func (c *Client) Reset(ctx context.Context) error {
	return c.store.Init(ctx)
}

// DataRequest selects the observations an operation runs on: an explicit
// dataset, or a generated one when Data is nil.
type DataRequest struct {
	Data      *dataset.Dataset
	Synthetic dataset.SyntheticConfig
	DataSeed  int64
}

func (r DataRequest) resolve() (*dataset.Dataset, error) {
	if r.Data != nil {
		return r.Data, nil
	}
	return dataset.Synthetic(r.Synthetic, r.DataSeed)
}

type TrainRequest struct {
	DataRequest

	Variant              string
	HiddenLayers         []int
	Dropout              float64
	Reduce               bool
	KDim                 int
	Concatenate          bool
	DisableThresholdBias bool

	Epochs        int
	BatchSize     int
	LR            float64
	WeightDecay   float64
	TrainFraction float64
	Seed          int64

	// Posterior turns on random-walk refinement of the sampled sites
	// after point estimation.
	Posterior         bool
	PosteriorSamples  int
	PosteriorBurnIn   int
	PosteriorStepSize float64
}

type TrainSummary struct {
	SnapshotID          string
	FinalLoss           float64
	Report              model.TrialReport
	PosteriorAcceptRate float64
}

// Train fits one model configuration, optionally refines its posterior,
// evaluates it on the held-out split and persists the snapshot.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.Epochs <= 0 {
		req.Epochs = 100
	}
	if req.TrainFraction <= 0 || req.TrainFraction >= 1 {
		req.TrainFraction = 0.8
	}
	if len(req.HiddenLayers) == 0 {
		req.HiddenLayers = []int{50, 10}
	}

	data, err := req.resolve()
	if err != nil {
		return TrainSummary{}, err
	}
	rng := rand.New(rand.NewSource(req.Seed))
	train, test, err := data.Split(req.TrainFraction, rng)
	if err != nil {
		return TrainSummary{}, err
	}

	cfg := interaction.Config{
		Variant:              interaction.Variant(req.Variant),
		InteractionVars:      data.PredictorDim(),
		ControlVars:          data.ControlDim(),
		HiddenLayers:         req.HiddenLayers,
		Dropout:              req.Dropout,
		Concatenate:          req.Concatenate,
		DisableThresholdBias: req.DisableThresholdBias,
		Seed:                 req.Seed,
	}
	if req.Reduce {
		basis, err := search.SVDBasis(train.Predictors)
		if err != nil {
			return TrainSummary{}, err
		}
		// KDim 0 selects the model's default retained dimension; an
		// oversized value fails model construction.
		cfg.Reduce = true
		cfg.Basis = basis
		cfg.KDim = req.KDim
	}
	m, err := interaction.New(cfg)
	if err != nil {
		return TrainSummary{}, err
	}

	fitter := infer.NewMAP(infer.MAPConfig{
		BatchSize:   req.BatchSize,
		LR:          req.LR,
		WeightDecay: req.WeightDecay,
		Seed:        req.Seed,
	})
	loss, err := fitter.Fit(ctx, m, train, req.Epochs)
	if err != nil {
		return TrainSummary{}, err
	}

	summary := TrainSummary{FinalLoss: loss}
	if req.Posterior {
		sampler := infer.NewMetropolis(infer.MetropolisConfig{
			Samples:  req.PosteriorSamples,
			BurnIn:   req.PosteriorBurnIn,
			StepSize: req.PosteriorStepSize,
			Seed:     req.Seed,
		})
		chain, err := sampler.Sample(ctx, m, train.Full())
		if err != nil {
			return TrainSummary{}, err
		}
		summary.PosteriorAcceptRate = chain.AcceptRate()
	}

	summary.Report = objective.NewEvaluator(nil).Evaluate(m, test, 0, req.Epochs)

	snapshot := m.Snapshot()
	snapshot.VersionedRecord = storage.Stamp()
	if err := c.store.SaveSnapshot(ctx, *snapshot); err != nil {
		return TrainSummary{}, err
	}
	summary.SnapshotID = snapshot.ID
	return summary, nil
}

type SearchRequest struct {
	DataRequest

	Variant       string
	NumTrials     int
	Seed          int64
	TrainFraction float64
	DisableReduce bool
	Space         search.Space
	Scheduler     search.ASHAConfig
	Budget        search.Budget
	Policy        objective.Policy
}

// Search runs the full hyperparameter search, persists every trial record,
// the run summary and the best trial's snapshot.
func (c *Client) Search(ctx context.Context, req SearchRequest) (model.SearchSummary, error) {
	data, err := req.resolve()
	if err != nil {
		return model.SearchSummary{}, err
	}

	driver, err := search.NewDriver(search.Config{
		NumTrials:     req.NumTrials,
		Seed:          req.Seed,
		Variant:       interaction.Variant(req.Variant),
		Space:         req.Space,
		Scheduler:     req.Scheduler,
		Budget:        req.Budget,
		TrainFraction: req.TrainFraction,
		DisableReduce: req.DisableReduce,
		Policy:        req.Policy,
	})
	if err != nil {
		return model.SearchSummary{}, err
	}

	result, err := driver.Run(ctx, data)
	if err != nil {
		return model.SearchSummary{}, err
	}

	for _, trial := range result.Trials {
		trial.VersionedRecord = storage.Stamp()
		if err := c.store.SaveTrial(ctx, trial); err != nil {
			return model.SearchSummary{}, err
		}
	}
	result.BestSnapshot.VersionedRecord = storage.Stamp()
	if err := c.store.SaveSnapshot(ctx, *result.BestSnapshot); err != nil {
		return model.SearchSummary{}, err
	}
	result.Summary.VersionedRecord = storage.Stamp()
	if err := c.store.SaveSearchSummary(ctx, result.Summary); err != nil {
		return model.SearchSummary{}, err
	}
	return result.Summary, nil
}

type IndexRequest struct {
	DataRequest

	SnapshotID string
	Latest     bool
}

type IndexResult struct {
	SnapshotID string
	Index      []float64
}

// Index extracts the per-observation resilience index from a persisted
// snapshot.
func (c *Client) Index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	snapshot, err := c.resolveSnapshot(ctx, req.SnapshotID, req.Latest)
	if err != nil {
		return IndexResult{}, err
	}
	m, err := interaction.LoadModel(&snapshot)
	if err != nil {
		return IndexResult{}, err
	}
	data, err := req.resolve()
	if err != nil {
		return IndexResult{}, err
	}
	index, err := m.ResilienceIndex(data.Predictors)
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{SnapshotID: snapshot.ID, Index: index}, nil
}

type TrialsRequest struct {
	RunID  string
	Latest bool
}

// Trials lists the trial records of a run.
func (c *Client) Trials(ctx context.Context, req TrialsRequest) ([]model.TrialRecord, error) {
	runID := req.RunID
	if req.Latest || runID == "" {
		summary, ok, err := c.store.LatestSearchSummary(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("no completed search runs")
		}
		runID = summary.RunID
	}
	return c.store.ListTrials(ctx, runID)
}

type BestResult struct {
	Summary  model.SearchSummary
	Snapshot model.Snapshot
}

// BestSnapshot returns the best trial of a run together with its snapshot.
func (c *Client) BestSnapshot(ctx context.Context, runID string) (BestResult, error) {
	var summary model.SearchSummary
	if runID == "" {
		latest, ok, err := c.store.LatestSearchSummary(ctx)
		if err != nil {
			return BestResult{}, err
		}
		if !ok {
			return BestResult{}, errors.New("no completed search runs")
		}
		summary = latest
	} else {
		found, ok, err := c.store.GetSearchSummary(ctx, runID)
		if err != nil {
			return BestResult{}, err
		}
		if !ok {
			return BestResult{}, fmt.Errorf("unknown run: %s", runID)
		}
		summary = found
	}

	snapshot, ok, err := c.store.GetSnapshot(ctx, summary.BestSnapshotID)
	if err != nil {
		return BestResult{}, err
	}
	if !ok {
		return BestResult{}, fmt.Errorf("missing snapshot: %s", summary.BestSnapshotID)
	}
	return BestResult{Summary: summary, Snapshot: snapshot}, nil
}

type ExportRequest struct {
	SnapshotID string
	Latest     bool
	OutDir     string
}

type ExportSummary struct {
	SnapshotID string
	Path       string
}

// Export writes a snapshot as indented JSON under the exports directory.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	snapshot, err := c.resolveSnapshot(ctx, req.SnapshotID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return ExportSummary{}, err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return ExportSummary{}, err
	}
	path := filepath.Join(outDir, snapshot.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{SnapshotID: snapshot.ID, Path: filepath.Clean(path)}, nil
}

func (c *Client) resolveSnapshot(ctx context.Context, id string, latest bool) (model.Snapshot, error) {
	if latest || id == "" {
		summary, ok, err := c.store.LatestSearchSummary(ctx)
		if err != nil {
			return model.Snapshot{}, err
		}
		if !ok {
			return model.Snapshot{}, errors.New("no completed search runs; pass an explicit snapshot id")
		}
		id = summary.BestSnapshotID
	}
	snapshot, ok, err := c.store.GetSnapshot(ctx, id)
	if err != nil {
		return model.Snapshot{}, err
	}
	if !ok {
		return model.Snapshot{}, fmt.Errorf("unknown snapshot: %s", id)
	}
	return snapshot, nil
}
