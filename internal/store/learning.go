package store

import (
	"encoding/json"
	"fmt"

	"predictionmarket-trader/internal/model"
)

// LoadCalibrationBuckets returns all six buckets ordered by index.
func (s *Store) LoadCalibrationBuckets() ([]model.CalibrationBucket, error) {
	rows, err := s.sql.Query(`
		SELECT range_lo, range_hi, alpha, beta FROM calibration_buckets ORDER BY bucket_index ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load calibration buckets: %w", err)
	}
	defer rows.Close()

	var out []model.CalibrationBucket
	for rows.Next() {
		var b model.CalibrationBucket
		if err := rows.Scan(&b.RangeLo, &b.RangeHi, &b.Alpha, &b.Beta); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveCalibrationBucket persists one bucket's posterior counts.
func (s *Store) SaveCalibrationBucket(index int, b model.CalibrationBucket) error {
	_, err := s.sql.Exec(`
		UPDATE calibration_buckets SET alpha = ?, beta = ? WHERE bucket_index = ?
	`, b.Alpha, b.Beta, index)
	if err != nil {
		return fmt.Errorf("save calibration bucket %d: %w", index, err)
	}
	return nil
}

// ResetCalibrationToPriors sets every bucket back to alpha=beta=1 (§4.10 swap).
func (s *Store) ResetCalibrationToPriors() error {
	_, err := s.sql.Exec(`UPDATE calibration_buckets SET alpha = 1, beta = 1`)
	if err != nil {
		return fmt.Errorf("reset calibration to priors: %w", err)
	}
	return nil
}

// LoadMarketTypePerformance returns the tracked row for marketType, or a
// fresh zero-value row if none exists yet.
func (s *Store) LoadMarketTypePerformance(marketType string) (model.MarketTypePerformance, error) {
	var m model.MarketTypePerformance
	var scoresJSON string
	err := s.sql.QueryRow(`
		SELECT market_type, total_trades, total_pnl, brier_scores_json, total_observed_skips, counterfactual_pnl
		  FROM market_type_performance WHERE market_type = ?
	`, marketType).Scan(&m.MarketType, &m.TotalTrades, &m.TotalPnL, &scoresJSON, &m.TotalObservedSkips, &m.CounterfactualPnL)
	if err != nil {
		return model.MarketTypePerformance{MarketType: marketType}, nil
	}
	json.Unmarshal([]byte(scoresJSON), &m.BrierScores)
	return m, nil
}

// SaveMarketTypePerformance upserts the full row.
func (s *Store) SaveMarketTypePerformance(m model.MarketTypePerformance) error {
	scoresJSON, err := json.Marshal(m.BrierScores)
	if err != nil {
		return fmt.Errorf("marshal brier scores: %w", err)
	}
	_, err = s.sql.Exec(`
		INSERT INTO market_type_performance (market_type, total_trades, total_pnl, brier_scores_json, total_observed_skips, counterfactual_pnl)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_type) DO UPDATE SET
			total_trades = excluded.total_trades,
			total_pnl = excluded.total_pnl,
			brier_scores_json = excluded.brier_scores_json,
			total_observed_skips = excluded.total_observed_skips,
			counterfactual_pnl = excluded.counterfactual_pnl
	`, m.MarketType, m.TotalTrades, m.TotalPnL, string(scoresJSON), m.TotalObservedSkips, m.CounterfactualPnL)
	if err != nil {
		return fmt.Errorf("save market type performance: %w", err)
	}
	return nil
}

// ListMarketTypePerformance returns every tracked market type, used by
// the model-swap dampening step (§4.10) and by recalculate-learning.
func (s *Store) ListMarketTypePerformance() ([]model.MarketTypePerformance, error) {
	rows, err := s.sql.Query(`
		SELECT market_type, total_trades, total_pnl, brier_scores_json, total_observed_skips, counterfactual_pnl
		  FROM market_type_performance
	`)
	if err != nil {
		return nil, fmt.Errorf("list market type performance: %w", err)
	}
	defer rows.Close()

	var out []model.MarketTypePerformance
	for rows.Next() {
		var m model.MarketTypePerformance
		var scoresJSON string
		if err := rows.Scan(&m.MarketType, &m.TotalTrades, &m.TotalPnL, &scoresJSON, &m.TotalObservedSkips, &m.CounterfactualPnL); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(scoresJSON), &m.BrierScores)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteAllMarketTypePerformance clears the table — used by
// recalculate-learning before replaying from zero (§4.10).
func (s *Store) DeleteAllMarketTypePerformance() error {
	_, err := s.sql.Exec(`DELETE FROM market_type_performance`)
	return err
}

// LoadSignalTracker returns the tracker for (tier, infoType, marketType),
// or a fresh zero-value row if none exists yet.
func (s *Store) LoadSignalTracker(tier model.SourceTier, infoType model.InfoType, marketType string) (model.SignalTracker, error) {
	t := model.SignalTracker{Tier: tier, InfoType: infoType, MarketType: marketType}
	err := s.sql.QueryRow(`
		SELECT present_winning, present_losing, absent_winning, absent_losing
		  FROM signal_trackers WHERE tier = ? AND info_type = ? AND market_type = ?
	`, string(tier), string(infoType), marketType).Scan(&t.PresentWinning, &t.PresentLosing, &t.AbsentWinning, &t.AbsentLosing)
	if err != nil {
		return t, nil
	}
	return t, nil
}

// SaveSignalTracker upserts one tracker row.
func (s *Store) SaveSignalTracker(t model.SignalTracker) error {
	_, err := s.sql.Exec(`
		INSERT INTO signal_trackers (tier, info_type, market_type, present_winning, present_losing, absent_winning, absent_losing)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tier, info_type, market_type) DO UPDATE SET
			present_winning = excluded.present_winning,
			present_losing  = excluded.present_losing,
			absent_winning  = excluded.absent_winning,
			absent_losing   = excluded.absent_losing
	`, string(t.Tier), string(t.InfoType), t.MarketType, t.PresentWinning, t.PresentLosing, t.AbsentWinning, t.AbsentLosing)
	if err != nil {
		return fmt.Errorf("save signal tracker: %w", err)
	}
	return nil
}

// DeleteAllSignalTrackers clears the table — used by recalculate-learning.
func (s *Store) DeleteAllSignalTrackers() error {
	_, err := s.sql.Exec(`DELETE FROM signal_trackers`)
	return err
}

// ListAllSignalTrackers returns every tracked (tier, info_type, market_type)
// row — used by LoadLearningState to populate the in-memory signal map at
// startup and by recalculate-learning's rebuild.
func (s *Store) ListAllSignalTrackers() ([]model.SignalTracker, error) {
	rows, err := s.sql.Query(`
		SELECT tier, info_type, market_type, present_winning, present_losing, absent_winning, absent_losing
		  FROM signal_trackers
	`)
	if err != nil {
		return nil, fmt.Errorf("list all signal trackers: %w", err)
	}
	defer rows.Close()

	var out []model.SignalTracker
	for rows.Next() {
		var t model.SignalTracker
		var tier, infoType string
		if err := rows.Scan(&tier, &infoType, &t.MarketType, &t.PresentWinning, &t.PresentLosing, &t.AbsentWinning, &t.AbsentLosing); err != nil {
			return nil, err
		}
		t.Tier = model.SourceTier(tier)
		t.InfoType = model.InfoType(infoType)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListSignalTrackersForMarketType returns every (tier, info_type) tracker
// ever observed for marketType — the full combo set the §4.9 step 4 update
// needs in order to mark absent combos, not just the ones present on the
// candidate being recorded.
func (s *Store) ListSignalTrackersForMarketType(marketType string) ([]model.SignalTracker, error) {
	rows, err := s.sql.Query(`
		SELECT tier, info_type, market_type, present_winning, present_losing, absent_winning, absent_losing
		  FROM signal_trackers WHERE market_type = ?
	`, marketType)
	if err != nil {
		return nil, fmt.Errorf("list signal trackers for market type: %w", err)
	}
	defer rows.Close()

	var out []model.SignalTracker
	for rows.Next() {
		var t model.SignalTracker
		var tier, infoType string
		if err := rows.Scan(&tier, &infoType, &t.MarketType, &t.PresentWinning, &t.PresentLosing, &t.AbsentWinning, &t.AbsentLosing); err != nil {
			return nil, err
		}
		t.Tier = model.SourceTier(tier)
		t.InfoType = model.InfoType(infoType)
		out = append(out, t)
	}
	return out, rows.Err()
}
