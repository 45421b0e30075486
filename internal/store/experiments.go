package store

import (
	"fmt"
	"time"

	"predictionmarket-trader/internal/model"
)

const timeLayout = time.RFC3339Nano

// StartExperiment opens a new ExperimentRun bound to modelID. Used at
// startup (if none is open) and by Swap (§4.10).
func (s *Store) StartExperiment(id, description, modelID, configJSON string, startedAt time.Time) (model.ExperimentRun, error) {
	run := model.ExperimentRun{
		ID:          id,
		Description: description,
		ModelID:     modelID,
		ConfigJSON:  configJSON,
		StartedAt:   startedAt,
	}
	_, err := s.sql.Exec(`
		INSERT INTO experiment_runs (id, description, model_id, config_json, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Description, run.ModelID, run.ConfigJSON, run.StartedAt.Format(timeLayout))
	if err != nil {
		return model.ExperimentRun{}, fmt.Errorf("start experiment: %w", err)
	}
	return run, nil
}

// EndExperiment sets the end time of a run still open.
func (s *Store) EndExperiment(runID string, endedAt time.Time) error {
	res, err := s.sql.Exec(`
		UPDATE experiment_runs SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, endedAt.Format(timeLayout), runID)
	if err != nil {
		return fmt.Errorf("end experiment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("end experiment: %q not found or already ended", runID)
	}
	return nil
}

// CurrentExperimentRun returns the run with no end time, or an error if
// none is open (a consistency violation: every trade write requires one).
func (s *Store) CurrentExperimentRun() (model.ExperimentRun, error) {
	var run model.ExperimentRun
	var startedAt string
	var endedAt *string
	err := s.sql.QueryRow(`
		SELECT id, description, model_id, config_json, started_at, ended_at
		  FROM experiment_runs WHERE ended_at IS NULL
		 ORDER BY started_at DESC LIMIT 1
	`).Scan(&run.ID, &run.Description, &run.ModelID, &run.ConfigJSON, &startedAt, &endedAt)
	if err != nil {
		return model.ExperimentRun{}, fmt.Errorf("current experiment run: %w", err)
	}
	run.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if endedAt != nil {
		t, _ := time.Parse(timeLayout, *endedAt)
		run.EndedAt = &t
	}
	return run, nil
}

// RecordModelSwap persists the §4.10 swap audit entry. Call after EndExperiment
// and StartExperiment have both succeeded, inside the same transaction scope
// the caller manages.
func (s *Store) RecordModelSwap(id, oldModelID, newModelID, reason, newRunID string, swappedAt time.Time) (model.ModelSwapEvent, error) {
	evt := model.ModelSwapEvent{
		ID:         id,
		OldModelID: oldModelID,
		NewModelID: newModelID,
		Reason:     reason,
		NewRunID:   newRunID,
		SwappedAt:  swappedAt,
	}
	_, err := s.sql.Exec(`
		INSERT INTO model_swap_events (id, old_model_id, new_model_id, reason, new_run_id, swapped_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.OldModelID, evt.NewModelID, evt.Reason, evt.NewRunID, evt.SwappedAt.Format(timeLayout))
	if err != nil {
		return model.ModelSwapEvent{}, fmt.Errorf("record model swap: %w", err)
	}
	return evt, nil
}
