package search

import (
	"sort"
	"sync"
)

// ASHAConfig configures asynchronous successive halving.
// Zero values are replaced with defaults.
type ASHAConfig struct {
	GracePeriod     int `json:"grace_period"`     // default 1
	ReductionFactor int `json:"reduction_factor"` // default 2
	MaxResource     int `json:"max_resource"`     // default 300
}

func normalizeASHA(cfg ASHAConfig) ASHAConfig {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 1
	}
	if cfg.ReductionFactor <= 1 {
		cfg.ReductionFactor = 2
	}
	if cfg.MaxResource <= 0 {
		cfg.MaxResource = 300
	}
	return cfg
}

// ASHA stops underperforming trials at geometrically spaced resource
// milestones. Decisions are asynchronous: a trial is judged against
// whatever has been reported at its rung so far, never waiting for peers.
type ASHA struct {
	mu    sync.Mutex
	cfg   ASHAConfig
	rungs [][]float64
}

func NewASHA(cfg ASHAConfig) *ASHA {
	cfg = normalizeASHA(cfg)
	a := &ASHA{cfg: cfg}
	a.rungs = make([][]float64, len(a.Milestones()))
	return a
}

// Milestones lists the cumulative resources at which trials report, ending
// at the resource cap.
func (a *ASHA) Milestones() []int {
	out := []int{}
	for m := a.cfg.GracePeriod; m < a.cfg.MaxResource; m *= a.cfg.ReductionFactor {
		out = append(out, m)
	}
	return append(out, a.cfg.MaxResource)
}

// Decide records a trial's value at the given rung and reports whether the
// trial should keep training. The final rung always completes the trial.
func (a *ASHA) Decide(rung int, value float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rung >= len(a.rungs)-1 {
		return false
	}
	a.rungs[rung] = append(a.rungs[rung], value)

	observed := append([]float64(nil), a.rungs[rung]...)
	sort.Float64s(observed)

	keep := len(observed) / a.cfg.ReductionFactor
	if keep < 1 {
		keep = 1
	}
	return value <= observed[keep-1]
}
