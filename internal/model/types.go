package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Metric is a float64 whose JSON form survives NaN and infinities. Failed
// trials legitimately carry non-finite metrics and must still persist.
type Metric float64

func (m Metric) MarshalJSON() ([]byte, error) {
	v := float64(m)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"NaN"`:
		*m = Metric(math.NaN())
		return nil
	case `"+Inf"`:
		*m = Metric(math.Inf(1))
		return nil
	case `"-Inf"`:
		*m = Metric(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("metric: %w", err)
	}
	*m = Metric(v)
	return nil
}

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ModelConfig is the JSON-safe mirror of an interaction model configuration.
// A snapshot restored into a model built from the same ModelConfig reproduces
// the original predictions bit for bit.
type ModelConfig struct {
	Variant              string    `json:"variant"`
	InteractionVars      int       `json:"interaction_vars"`
	ControlVars          int       `json:"control_vars"`
	HiddenLayers         []int     `json:"hidden_layers"`
	DisableThresholdBias bool      `json:"disable_threshold_bias,omitempty"`
	Dropout              float64   `json:"dropout"`
	Reduce               bool      `json:"reduce,omitempty"`
	KDim                 int       `json:"k_dim,omitempty"`
	BasisRows            int       `json:"basis_rows,omitempty"`
	BasisCols            int       `json:"basis_cols,omitempty"`
	Basis                []float64 `json:"basis,omitempty"`
	Concatenate          bool      `json:"concatenate,omitempty"`
	DisableOutputNorm    bool      `json:"disable_output_norm,omitempty"`
	Device               string    `json:"device,omitempty"`
}

// LayerSnapshot holds one linear layer in row-major order.
type LayerSnapshot struct {
	In      int       `json:"in"`
	Out     int       `json:"out"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// NormSnapshot holds the running statistics of the output normalizer.
type NormSnapshot struct {
	Mean  float64 `json:"mean"`
	Var   float64 `json:"var"`
	Count int64   `json:"count"`
}

// Snapshot is a persisted set of model parameters keyed for later reload.
type Snapshot struct {
	VersionedRecord
	ID           string               `json:"id"`
	CreatedAtUTC string               `json:"created_at_utc"`
	Config       ModelConfig          `json:"config"`
	Layers       []LayerSnapshot      `json:"layers"`
	Norm         *NormSnapshot        `json:"norm,omitempty"`
	Params       map[string][]float64 `json:"params"`
}

// TrialParams is one sampled hyperparameter configuration.
type TrialParams struct {
	Layer1      int     `json:"layer1"`
	Layer2      int     `json:"layer2"`
	KDim        int     `json:"k_dim"`
	BatchSize   int     `json:"batch_size"`
	LR          float64 `json:"lr"`
	WeightDecay float64 `json:"weight_decay"`
}

// TrialReport is the set of metrics a trial reports each evaluation round.
// Predictive error and statistical-validity diagnostics are kept separate so
// callers can filter on validity independently of predictive error.
type TrialReport struct {
	Round           int    `json:"round"`
	Resource        int    `json:"resource"`
	TestMSE         Metric `json:"test_mse"`
	InteractionPVal Metric `json:"interaction_pval"`
	VIFExposure     Metric `json:"vif_exposure"`
	VIFInteraction  Metric `json:"vif_interaction"`
	FitFailure      string `json:"fit_failure,omitempty"`
	StatsFailure    string `json:"stats_failure,omitempty"`
}

type TrialStatus string

const (
	TrialStatusCompleted TrialStatus = "completed"
	TrialStatusStopped   TrialStatus = "stopped"
	TrialStatusFailed    TrialStatus = "failed"
)

// TrialRecord is the persisted lifecycle of one hyperparameter trial.
type TrialRecord struct {
	VersionedRecord
	RunID     string        `json:"run_id"`
	TrialID   string        `json:"trial_id"`
	Params    TrialParams   `json:"params"`
	Reports   []TrialReport `json:"reports"`
	Composite Metric        `json:"composite"`
	Status    TrialStatus   `json:"status"`
	Failure   string        `json:"failure,omitempty"`
}

// SearchSummary records the outcome of one completed search run.
type SearchSummary struct {
	VersionedRecord
	RunID          string      `json:"run_id"`
	CreatedAtUTC   string      `json:"created_at_utc"`
	NumTrials      int         `json:"num_trials"`
	BestTrialID    string      `json:"best_trial_id"`
	BestParams     TrialParams `json:"best_params"`
	BestComposite  Metric      `json:"best_composite"`
	BestReport     TrialReport `json:"best_report"`
	BestSnapshotID string      `json:"best_snapshot_id"`
}
