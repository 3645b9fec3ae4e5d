package storage

import (
	"context"
	"sync"

	"resindex/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	snapshots   map[string]model.Snapshot
	trials      map[string]model.TrialRecord
	trialsByRun map[string][]string
	summaries   map[string]model.SearchSummary
	runOrder    []string
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.snapshots = make(map[string]model.Snapshot)
	s.trials = make(map[string]model.TrialRecord)
	s.trialsByRun = make(map[string][]string)
	s.summaries = make(map[string]model.SearchSummary)
	s.runOrder = nil
}

// Init drops all held records; a fresh memory store is already usable.
func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.ID] = snapshot
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, id string) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[id]
	return snapshot, ok, nil
}

func (s *MemoryStore) SaveTrial(_ context.Context, trial model.TrialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trials[trial.TrialID]; !exists {
		s.trialsByRun[trial.RunID] = append(s.trialsByRun[trial.RunID], trial.TrialID)
	}
	copied := trial
	copied.Reports = make([]model.TrialReport, len(trial.Reports))
	copy(copied.Reports, trial.Reports)
	s.trials[trial.TrialID] = copied
	return nil
}

func (s *MemoryStore) GetTrial(_ context.Context, trialID string) (model.TrialRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trial, ok := s.trials[trialID]
	if !ok {
		return model.TrialRecord{}, false, nil
	}
	copied := trial
	copied.Reports = make([]model.TrialReport, len(trial.Reports))
	copy(copied.Reports, trial.Reports)
	return copied, true, nil
}

func (s *MemoryStore) ListTrials(_ context.Context, runID string) ([]model.TrialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.trialsByRun[runID]
	out := make([]model.TrialRecord, 0, len(ids))
	for _, id := range ids {
		trial := s.trials[id]
		copied := trial
		copied.Reports = make([]model.TrialReport, len(trial.Reports))
		copy(copied.Reports, trial.Reports)
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) SaveSearchSummary(_ context.Context, summary model.SearchSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.summaries[summary.RunID]; !exists {
		s.runOrder = append(s.runOrder, summary.RunID)
	}
	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetSearchSummary(_ context.Context, runID string) (model.SearchSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) LatestSearchSummary(_ context.Context) (model.SearchSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.runOrder) == 0 {
		return model.SearchSummary{}, false, nil
	}
	summary := s.summaries[s.runOrder[len(s.runOrder)-1]]
	return summary, true, nil
}
