package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"resindex/internal/dataset"
	"resindex/internal/storage"
	resapi "resindex/pkg/resindex"
)

const exportsDir = "exports"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "search":
		return runSearch(ctx, args[1:])
	case "index":
		return runIndex(ctx, args[1:])
	case "trials":
		return runTrials(ctx, args[1:])
	case "best":
		return runBest(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func storeFlags(fs *flag.FlagSet) (*string, *string) {
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "resindex.db", "sqlite database path")
	return storeKind, dbPath
}

func dataFlags(fs *flag.FlagSet) (obs, predictors, controls *int, dataSeed *int64) {
	obs = fs.Int("obs", 512, "synthetic dataset size")
	predictors = fs.Int("predictors", 8, "interaction predictor count")
	controls = fs.Int("controls", 4, "control variable count")
	dataSeed = fs.Int64("data-seed", 1, "synthetic dataset seed")
	return obs, predictors, controls, dataSeed
}

func newClient(storeKind, dbPath string) (*resapi.Client, error) {
	return resapi.New(resapi.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		ExportsDir: exportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}
	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	obs, predictors, controls, dataSeed := dataFlags(fs)
	variant := fs.String("variant", "full", "model variant: full|relaxed")
	layers := fs.String("layers", "50,10", "comma-separated hidden layer widths")
	dropout := fs.Float64("dropout", 0, "index network dropout (0 selects the default, negative disables)")
	reduce := fs.Bool("reduce", false, "project predictors onto an SVD basis before the index network")
	kDim := fs.Int("k-dim", 0, "retained dimensions when -reduce is set (0 selects the default)")
	concat := fs.Bool("concat", false, "append raw predictors to the control set")
	noThreshold := fs.Bool("no-threshold", false, "disable the learned exposure cutoff")
	epochs := fs.Int("epochs", 100, "training epochs")
	batchSize := fs.Int("batch", 64, "minibatch size")
	lr := fs.Float64("lr", 1e-3, "learning rate")
	weightDecay := fs.Float64("weight-decay", 0, "decoupled weight decay on network parameters")
	trainFraction := fs.Float64("train-fraction", 0.8, "train split fraction")
	seed := fs.Int64("seed", 1, "rng seed")
	posterior := fs.Bool("posterior", false, "refine sampled sites with random-walk sampling after point estimation")
	posteriorSamples := fs.Int("posterior-samples", 1000, "posterior samples")
	posteriorBurnIn := fs.Int("posterior-burn-in", 200, "posterior burn-in iterations")
	posteriorStep := fs.Float64("posterior-step", 0.05, "posterior proposal step size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hidden, err := parseLayers(*layers)
	if err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, resapi.TrainRequest{
		DataRequest:          syntheticRequest(*obs, *predictors, *controls, *dataSeed),
		Variant:              *variant,
		HiddenLayers:         hidden,
		Dropout:              *dropout,
		Reduce:               *reduce,
		KDim:                 *kDim,
		Concatenate:          *concat,
		DisableThresholdBias: *noThreshold,
		Epochs:               *epochs,
		BatchSize:            *batchSize,
		LR:                   *lr,
		WeightDecay:          *weightDecay,
		TrainFraction:        *trainFraction,
		Seed:                 *seed,
		Posterior:            *posterior,
		PosteriorSamples:     *posteriorSamples,
		PosteriorBurnIn:      *posteriorBurnIn,
		PosteriorStepSize:    *posteriorStep,
	})
	if err != nil {
		return err
	}

	fmt.Printf("train completed snapshot_id=%s variant=%s epochs=%d seed=%d\n", summary.SnapshotID, *variant, *epochs, *seed)
	fmt.Printf("final_loss=%.6f\n", summary.FinalLoss)
	fmt.Printf("test_mse=%v interaction_pval=%v vif_exposure=%v vif_interaction=%v\n",
		summary.Report.TestMSE,
		summary.Report.InteractionPVal,
		summary.Report.VIFExposure,
		summary.Report.VIFInteraction,
	)
	if *posterior {
		fmt.Printf("posterior_accept_rate=%.4f\n", summary.PosteriorAcceptRate)
	}
	return nil
}

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	obs, predictors, controls, dataSeed := dataFlags(fs)
	configPath := fs.String("config", "", "optional search config JSON path")
	variant := fs.String("variant", "full", "model variant: full|relaxed")
	numTrials := fs.Int("trials", 10, "trial count")
	seed := fs.Int64("seed", 1, "rng seed")
	trainFraction := fs.Float64("train-fraction", 0.8, "train split fraction")
	noReduce := fs.Bool("no-reduce", false, "disable SVD reduction of interaction predictors")
	grace := fs.Int("grace", 1, "scheduler grace period in epochs")
	reduction := fs.Int("reduction", 2, "scheduler reduction factor")
	maxResource := fs.Int("max-resource", 300, "maximum epochs per trial")
	trialCPU := fs.Float64("trial-cpu", 1, "cpu share per trial")
	trialAccelerator := fs.Float64("trial-accelerator", 0, "accelerator share per trial")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultSearchRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = resapi.SearchRequest{
			Variant:       *variant,
			NumTrials:     *numTrials,
			Seed:          *seed,
			TrainFraction: *trainFraction,
			DisableReduce: *noReduce,
		}
		req.Scheduler.GracePeriod = *grace
		req.Scheduler.ReductionFactor = *reduction
		req.Scheduler.MaxResource = *maxResource
		req.Budget.TrialCPU = *trialCPU
		req.Budget.TrialAccelerator = *trialAccelerator
	}
	req.DataRequest = syntheticRequest(*obs, *predictors, *controls, *dataSeed)

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Search(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("search completed run_id=%s trials=%d seed=%d\n", summary.RunID, summary.NumTrials, req.Seed)
	fmt.Printf("best trial_id=%s composite=%v\n", summary.BestTrialID, summary.BestComposite)
	fmt.Printf("best test_mse=%v interaction_pval=%v vif_exposure=%v vif_interaction=%v\n",
		summary.BestReport.TestMSE,
		summary.BestReport.InteractionPVal,
		summary.BestReport.VIFExposure,
		summary.BestReport.VIFInteraction,
	)
	fmt.Printf("best_snapshot_id=%s\n", summary.BestSnapshotID)
	return nil
}

func runIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	obs, predictors, controls, dataSeed := dataFlags(fs)
	snapshotID := fs.String("snapshot", "", "snapshot id (empty resolves the latest run's best)")
	jsonOut := fs.Bool("json", false, "emit the index as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Index(ctx, resapi.IndexRequest{
		DataRequest: syntheticRequest(*obs, *predictors, *controls, *dataSeed),
		SnapshotID:  *snapshotID,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(result)
	}
	fmt.Printf("index snapshot_id=%s observations=%d\n", result.SnapshotID, len(result.Index))
	for i, v := range result.Index {
		fmt.Printf("obs=%d index=%.6f\n", i, v)
	}
	return nil
}

func runTrials(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trials", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run", "", "run id (empty lists the latest run)")
	jsonOut := fs.Bool("json", false, "emit trial records as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	trials, err := client.Trials(ctx, resapi.TrialsRequest{RunID: *runID})
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		fmt.Println("no trials found")
		return nil
	}

	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(trials)
	}
	for _, trial := range trials {
		resource := 0
		if len(trial.Reports) > 0 {
			resource = trial.Reports[len(trial.Reports)-1].Resource
		}
		fmt.Printf("trial_id=%s status=%s resource=%d composite=%v", trial.TrialID, trial.Status, resource, trial.Composite)
		if trial.Failure != "" {
			fmt.Printf(" failure=%q", trial.Failure)
		}
		fmt.Println()
	}
	return nil
}

func runBest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("best", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	runID := fs.String("run", "", "run id (empty resolves the latest run)")
	jsonOut := fs.Bool("json", false, "emit the best trial summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	best, err := client.BestSnapshot(ctx, *runID)
	if err != nil {
		return err
	}

	if *jsonOut {
		return json.NewEncoder(os.Stdout).Encode(best)
	}
	fmt.Printf("run_id=%s best_trial_id=%s composite=%v\n", best.Summary.RunID, best.Summary.BestTrialID, best.Summary.BestComposite)
	fmt.Printf("snapshot_id=%s variant=%s layers=%v\n", best.Snapshot.ID, best.Snapshot.Config.Variant, best.Snapshot.Config.HiddenLayers)
	fmt.Printf("test_mse=%v interaction_pval=%v vif_exposure=%v vif_interaction=%v\n",
		best.Summary.BestReport.TestMSE,
		best.Summary.BestReport.InteractionPVal,
		best.Summary.BestReport.VIFExposure,
		best.Summary.BestReport.VIFInteraction,
	)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	snapshotID := fs.String("snapshot", "", "snapshot id (empty exports the latest run's best)")
	outDir := fs.String("out", exportsDir, "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, resapi.ExportRequest{SnapshotID: *snapshotID, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported snapshot_id=%s path=%s\n", exported.SnapshotID, exported.Path)
	return nil
}

func syntheticRequest(obs, predictors, controls int, seed int64) resapi.DataRequest {
	return resapi.DataRequest{
		Synthetic: dataset.SyntheticConfig{
			Observations:    obs,
			InteractionVars: predictors,
			ControlVars:     controls,
		},
		DataSeed: seed,
	}
}

func parseLayers(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	layers := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var width int
		if _, err := fmt.Sscanf(part, "%d", &width); err != nil || width <= 0 {
			return nil, fmt.Errorf("invalid layer width: %q", part)
		}
		layers = append(layers, width)
	}
	if len(layers) == 0 {
		return nil, errors.New("at least one hidden layer width is required")
	}
	return layers, nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: resindexctl <init|reset|train|search|index|trials|best|export> [flags]", msg)
}
