package main

import (
	"encoding/json"
	"fmt"
	"os"

	"resindex/internal/search"
	resapi "resindex/pkg/resindex"
)

// loadSearchRequestFromConfig reads a search configuration from JSON. The
// format is tolerant: numeric fields accept both integer and float forms.
func loadSearchRequestFromConfig(path string) (resapi.SearchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return resapi.SearchRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return resapi.SearchRequest{}, err
	}

	var req resapi.SearchRequest
	if v, ok := asString(raw["variant"]); ok {
		req.Variant = v
	}
	if v, ok := asInt(raw["num_trials"]); ok {
		req.NumTrials = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asFloat64(raw["train_fraction"]); ok {
		req.TrainFraction = v
	}
	if v, ok := asBool(raw["disable_reduce"]); ok {
		req.DisableReduce = v
	}

	if spaceMap, ok := raw["space"].(map[string]any); ok {
		req.Space = spaceFromMap(spaceMap)
	}
	if schedMap, ok := raw["scheduler"].(map[string]any); ok {
		if v, ok := asInt(schedMap["grace_period"]); ok {
			req.Scheduler.GracePeriod = v
		}
		if v, ok := asInt(schedMap["reduction_factor"]); ok {
			req.Scheduler.ReductionFactor = v
		}
		if v, ok := asInt(schedMap["max_resource"]); ok {
			req.Scheduler.MaxResource = v
		}
	}
	if budgetMap, ok := raw["budget"].(map[string]any); ok {
		if v, ok := asFloat64(budgetMap["trial_cpu"]); ok {
			req.Budget.TrialCPU = v
		}
		if v, ok := asFloat64(budgetMap["trial_accelerator"]); ok {
			req.Budget.TrialAccelerator = v
		}
		if v, ok := asFloat64(budgetMap["total_cpu"]); ok {
			req.Budget.TotalCPU = v
		}
		if v, ok := asFloat64(budgetMap["total_accelerator"]); ok {
			req.Budget.TotalAccelerator = v
		}
	}
	return req, nil
}

func loadOrDefaultSearchRequest(configPath string) (resapi.SearchRequest, error) {
	if configPath == "" {
		return resapi.SearchRequest{}, nil
	}
	req, err := loadSearchRequestFromConfig(configPath)
	if err != nil {
		return resapi.SearchRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func spaceFromMap(raw map[string]any) search.Space {
	var space search.Space
	space.Layer1 = intRangeFromMap(raw["layer1"])
	space.Layer2 = intRangeFromMap(raw["layer2"])
	space.KDim = intRangeFromMap(raw["k_dim"])
	space.LR = logRangeFromMap(raw["lr"])
	space.WeightDecay = logRangeFromMap(raw["weight_decay"])
	if sizes, ok := raw["batch_sizes"].([]any); ok {
		for _, size := range sizes {
			if v, ok := asInt(size); ok {
				space.BatchSizes = append(space.BatchSizes, v)
			}
		}
	}
	return space
}

func intRangeFromMap(v any) search.IntRange {
	var r search.IntRange
	m, ok := v.(map[string]any)
	if !ok {
		return r
	}
	if low, ok := asInt(m["low"]); ok {
		r.Low = low
	}
	if high, ok := asInt(m["high"]); ok {
		r.High = high
	}
	return r
}

func logRangeFromMap(v any) search.LogRange {
	var r search.LogRange
	m, ok := v.(map[string]any)
	if !ok {
		return r
	}
	if low, ok := asFloat64(m["low"]); ok {
		r.Low = low
	}
	if high, ok := asFloat64(m["high"]); ok {
		r.High = high
	}
	return r
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
