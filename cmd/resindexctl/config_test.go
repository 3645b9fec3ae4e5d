package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSearchRequestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search_config.json")
	payload := map[string]any{
		"variant":        "relaxed",
		"num_trials":     6,
		"seed":           77,
		"train_fraction": 0.75,
		"disable_reduce": true,
		"space": map[string]any{
			"layer1":       map[string]any{"low": 10, "high": 40},
			"layer2":       map[string]any{"low": 5, "high": 20},
			"k_dim":        map[string]any{"low": 3, "high": 8},
			"batch_sizes":  []any{32, 64},
			"lr":           map[string]any{"low": 1e-4, "high": 1e-2},
			"weight_decay": map[string]any{"low": 1e-5, "high": 1e-3},
		},
		"scheduler": map[string]any{
			"grace_period":     2,
			"reduction_factor": 3,
			"max_resource":     50,
		},
		"budget": map[string]any{
			"trial_cpu":         1,
			"trial_accelerator": 0.03,
			"total_cpu":         4,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	req, err := loadSearchRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if req.Variant != "relaxed" || req.NumTrials != 6 || req.Seed != 77 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.TrainFraction != 0.75 || !req.DisableReduce {
		t.Fatalf("unexpected split settings: %+v", req)
	}
	if req.Space.Layer1.Low != 10 || req.Space.Layer1.High != 40 {
		t.Fatalf("unexpected layer1 range: %+v", req.Space.Layer1)
	}
	if len(req.Space.BatchSizes) != 2 || req.Space.BatchSizes[0] != 32 {
		t.Fatalf("unexpected batch sizes: %v", req.Space.BatchSizes)
	}
	if req.Space.LR.Low != 1e-4 || req.Space.WeightDecay.High != 1e-3 {
		t.Fatalf("unexpected log ranges: %+v %+v", req.Space.LR, req.Space.WeightDecay)
	}
	if req.Scheduler.GracePeriod != 2 || req.Scheduler.ReductionFactor != 3 || req.Scheduler.MaxResource != 50 {
		t.Fatalf("unexpected scheduler: %+v", req.Scheduler)
	}
	if req.Budget.TrialAccelerator != 0.03 || req.Budget.TotalCPU != 4 {
		t.Fatalf("unexpected budget: %+v", req.Budget)
	}
}

func TestLoadOrDefaultSearchRequestEmptyPath(t *testing.T) {
	req, err := loadOrDefaultSearchRequest("")
	if err != nil {
		t.Fatalf("default request: %v", err)
	}
	if req.NumTrials != 0 || req.Variant != "" {
		t.Fatalf("expected zero request, got %+v", req)
	}
}

func TestLoadSearchRequestFromConfigMissingFile(t *testing.T) {
	if _, err := loadOrDefaultSearchRequest(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing file error")
	}
}
