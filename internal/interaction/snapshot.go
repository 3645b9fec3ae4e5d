package interaction

import (
	"time"

	"github.com/google/uuid"

	"resindex/internal/model"
)

// Snapshot captures the full model state: configuration mirror, network
// layers, normalizer statistics and every named parameter value.
func (m *Model) Snapshot() *model.Snapshot {
	layers, norm := m.network.Snapshot()
	return &model.Snapshot{
		ID:           uuid.NewString(),
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
		Config:       m.cfg.toModel(),
		Layers:       layers,
		Norm:         norm,
		Params:       m.params.Values(),
	}
}

// LoadModel rebuilds a model from a persisted snapshot. The rebuilt model
// reproduces the snapshot's predictions exactly.
func LoadModel(snap *model.Snapshot) (*Model, error) {
	cfg, err := ConfigFromModel(snap.Config)
	if err != nil {
		return nil, err
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(snap); err != nil {
		return nil, err
	}
	return m, nil
}

// Restore writes a snapshot's layers, normalizer statistics and parameter
// values into an identically configured model.
func (m *Model) Restore(snap *model.Snapshot) error {
	if err := m.network.Restore(snap.Layers, snap.Norm); err != nil {
		return err
	}
	return m.params.SetValues(snap.Params)
}
