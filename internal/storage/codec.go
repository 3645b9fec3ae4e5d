package storage

import (
	"encoding/json"
	"errors"

	"resindex/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp writes the current schema and codec versions into a record.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}

func EncodeSnapshot(s model.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.Snapshot{}, err
	}
	return snapshot, nil
}

func EncodeTrial(t model.TrialRecord) ([]byte, error) {
	return json.Marshal(t)
}

func DecodeTrial(data []byte) (model.TrialRecord, error) {
	var trial model.TrialRecord
	if err := json.Unmarshal(data, &trial); err != nil {
		return model.TrialRecord{}, err
	}
	if err := checkVersion(trial.VersionedRecord); err != nil {
		return model.TrialRecord{}, err
	}
	return trial, nil
}

func EncodeSearchSummary(s model.SearchSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSearchSummary(data []byte) (model.SearchSummary, error) {
	var summary model.SearchSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.SearchSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.SearchSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
