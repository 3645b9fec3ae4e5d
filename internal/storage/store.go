package storage

import (
	"context"

	"resindex/internal/model"
)

// Store defines persistence operations for snapshots, trials and search
// summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveSnapshot(ctx context.Context, snapshot model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (model.Snapshot, bool, error)
	SaveTrial(ctx context.Context, trial model.TrialRecord) error
	GetTrial(ctx context.Context, trialID string) (model.TrialRecord, bool, error)
	ListTrials(ctx context.Context, runID string) ([]model.TrialRecord, error)
	SaveSearchSummary(ctx context.Context, summary model.SearchSummary) error
	GetSearchSummary(ctx context.Context, runID string) (model.SearchSummary, bool, error)
	LatestSearchSummary(ctx context.Context) (model.SearchSummary, bool, error)
}
