package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"predictionmarket-trader/internal/model"
)

// round6 fixes a float at 6 decimal places through shopspring/decimal.
// InsertTradeRecord applies it to AdjustedProbability, PositionSize and
// IntendedPositionSize before writing them; every other column, PnL
// included, is stored as given.
func round6(f float64) float64 {
	d, _ := decimal.NewFromFloat(f).Round(6).Float64()
	return d
}

// InsertTradeRecord writes the full audit row at decision time (§3
// Ownership and lifecycle: created once here, later changed only by
// UpdateUnrealizedAdverseMove, ResolveTradeRecord and VoidTradeRecord). The
// experiment_run_id foreign key is enforced by the schema; a missing run is
// a consistency error (§7), surfaced here unwrapped for the caller to
// classify.
func (s *Store) InsertTradeRecord(r model.TradeRecord) error {
	tagsJSON, err := json.Marshal(r.SignalTags)
	if err != nil {
		return fmt.Errorf("marshal signal tags: %w", err)
	}
	_, err = s.sql.Exec(`
		INSERT INTO trade_records (
			id, experiment_run_id, model_id,
			market_id, question, market_type, market_tier, market_price_at_scan, fee_rate, resolution_time,
			raw_probability, raw_confidence, reasoning, signal_tags_json,
			calibration_confidence_delta, signal_weight_confidence_delta,
			probability_shrinkage_applied, shrinkage_factor,
			market_type_extra_edge, temporal_decay_confidence_mult,
			adjusted_probability, adjusted_confidence,
			action, position_size, kelly_fraction, calculated_edge, score, skip_reason, market_cluster_id,
			intended_side, intended_position_size,
			decided_at, headline_only
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ExperimentRunID, r.ModelID,
		r.MarketID, r.Question, r.MarketType, r.MarketTier, r.MarketPriceAtScan, r.FeeRate, r.ResolutionTime.Format(timeLayout),
		r.RawProbability, r.RawConfidence, r.Reasoning, string(tagsJSON),
		r.CalibrationConfidenceDelta, r.SignalWeightConfidenceDelta,
		r.ProbabilityShrinkageApplied, r.ShrinkageFactor,
		r.MarketTypeExtraEdge, r.TemporalDecayConfidenceMult,
		round6(r.AdjustedProbability), r.AdjustedConfidence,
		string(r.Action), round6(r.PositionSize), r.KellyFraction, r.CalculatedEdge, r.Score, r.SkipReason, r.MarketClusterID,
		string(r.IntendedSide), round6(r.IntendedPositionSize),
		r.DecidedAt.Format(timeLayout), r.HeadlineOnly,
	)
	if err != nil {
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// ResolveTradeRecord is the resolution poller's single mutation (§4.8):
// it sets outcome, pnl, both Brier scores, and resolved_at. Called inside
// the same transaction as the learning-feedback update (§4.9 step 5) by
// the caller via WithTx.
func (s *Store) ResolveTradeRecord(id string, outcome, pnl, brierRaw, brierAdjusted float64, resolvedAt time.Time) error {
	res, err := s.sql.Exec(`
		UPDATE trade_records
		   SET resolved = 1, actual_outcome = ?, pnl = ?, brier_raw = ?, brier_adjusted = ?, resolved_at = ?
		 WHERE id = ? AND resolved = 0 AND voided = 0
	`, outcome, pnl, brierRaw, brierAdjusted, resolvedAt.Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("resolve trade record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("resolve trade record: %q not found or already resolved/voided", id)
	}
	return nil
}

// UpdateUnrealizedAdverseMove is the periodic adverse-move sweep's write.
func (s *Store) UpdateUnrealizedAdverseMove(id string, fraction float64) error {
	_, err := s.sql.Exec(`
		UPDATE trade_records SET unrealized_adverse_move = ? WHERE id = ? AND resolved = 0 AND voided = 0
	`, fraction, id)
	return err
}

// VoidTradeRecord marks a record voided; the caller is then responsible for
// invoking recalculate-learning (§4.10).
func (s *Store) VoidTradeRecord(id, reason string) error {
	res, err := s.sql.Exec(`
		UPDATE trade_records SET voided = 1, void_reason = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("void trade record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("void trade record: %q not found", id)
	}
	return nil
}

func scanTradeRecord(scan func(...any) error) (model.TradeRecord, error) {
	var r model.TradeRecord
	var resolutionTime, decidedAt string
	var actualOutcome, brierRaw, brierAdjusted *float64
	var resolvedAt *string
	var action, intendedSide string
	var tagsJSON string
	err := scan(
		&r.ID, &r.ExperimentRunID, &r.ModelID,
		&r.MarketID, &r.Question, &r.MarketType, &r.MarketTier, &r.MarketPriceAtScan, &r.FeeRate, &resolutionTime,
		&r.RawProbability, &r.RawConfidence, &r.Reasoning, &tagsJSON,
		&r.CalibrationConfidenceDelta, &r.SignalWeightConfidenceDelta,
		&r.ProbabilityShrinkageApplied, &r.ShrinkageFactor,
		&r.MarketTypeExtraEdge, &r.TemporalDecayConfidenceMult,
		&r.AdjustedProbability, &r.AdjustedConfidence,
		&action, &r.PositionSize, &r.KellyFraction, &r.CalculatedEdge, &r.Score, &r.SkipReason, &r.MarketClusterID,
		&intendedSide, &r.IntendedPositionSize,
		&decidedAt,
		&r.Resolved, &actualOutcome, &r.PnL, &brierRaw, &brierAdjusted, &resolvedAt, &r.UnrealizedAdverseMove,
		&r.Voided, &r.VoidReason,
		&r.HeadlineOnly,
	)
	if err != nil {
		return model.TradeRecord{}, err
	}
	r.Action = model.Side(action)
	r.IntendedSide = model.Side(intendedSide)
	r.ResolutionTime, _ = time.Parse(timeLayout, resolutionTime)
	r.DecidedAt, _ = time.Parse(timeLayout, decidedAt)
	r.ActualOutcome = actualOutcome
	r.BrierRaw = brierRaw
	r.BrierAdjusted = brierAdjusted
	if resolvedAt != nil {
		t, _ := time.Parse(timeLayout, *resolvedAt)
		r.ResolvedAt = &t
	}
	if err := json.Unmarshal([]byte(tagsJSON), &r.SignalTags); err != nil {
		return model.TradeRecord{}, fmt.Errorf("unmarshal signal tags: %w", err)
	}
	return r, nil
}

const tradeRecordColumns = `
	id, experiment_run_id, model_id,
	market_id, question, market_type, market_tier, market_price_at_scan, fee_rate, resolution_time,
	raw_probability, raw_confidence, reasoning, signal_tags_json,
	calibration_confidence_delta, signal_weight_confidence_delta,
	probability_shrinkage_applied, shrinkage_factor,
	market_type_extra_edge, temporal_decay_confidence_mult,
	adjusted_probability, adjusted_confidence,
	action, position_size, kelly_fraction, calculated_edge, score, skip_reason, market_cluster_id,
	intended_side, intended_position_size,
	decided_at,
	resolved, actual_outcome, pnl, brier_raw, brier_adjusted, resolved_at, unrealized_adverse_move,
	voided, void_reason,
	headline_only
`

// ListOpenTradeRecords returns every unresolved, non-void record (the
// partial index target, §6) — the resolution poller's and the
// adverse-move sweep's input set.
func (s *Store) ListOpenTradeRecords() ([]model.TradeRecord, error) {
	rows, err := s.sql.Query(`SELECT ` + tradeRecordColumns + ` FROM trade_records WHERE resolved = 0 AND voided = 0`)
	if err != nil {
		return nil, fmt.Errorf("list open trade records: %w", err)
	}
	defer rows.Close()
	return scanTradeRecords(rows)
}

// ListResolvedNonVoidAscending returns every resolved, non-void record in
// ascending decision-timestamp order — the replay input for
// recalculate-learning (§4.10).
func (s *Store) ListResolvedNonVoidAscending() ([]model.TradeRecord, error) {
	rows, err := s.sql.Query(`
		SELECT ` + tradeRecordColumns + ` FROM trade_records
		 WHERE resolved = 1 AND voided = 0
		 ORDER BY decided_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list resolved trade records: %w", err)
	}
	defer rows.Close()
	return scanTradeRecords(rows)
}

// ListNonSkipDescending returns every non-SKIP record (resolved or open),
// newest decision first — the input to the cooldown streak evaluation
// (§4.7, §9 decision: recomputed fresh on every gate evaluation).
func (s *Store) ListNonSkipDescending(limit int) ([]model.TradeRecord, error) {
	rows, err := s.sql.Query(`
		SELECT `+tradeRecordColumns+` FROM trade_records
		 WHERE action != ? AND voided = 0
		 ORDER BY decided_at DESC
		 LIMIT ?
	`, string(model.Skip), limit)
	if err != nil {
		return nil, fmt.Errorf("list non-skip trade records: %w", err)
	}
	defer rows.Close()
	return scanTradeRecords(rows)
}

func scanTradeRecords(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]model.TradeRecord, error) {
	var out []model.TradeRecord
	for rows.Next() {
		r, err := scanTradeRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountExecutedToday returns how many executed (non-SKIP) trades in tier
// were decided since the start of today (UTC) — the tier_daily_cap input.
func (s *Store) CountExecutedToday(tier int, since time.Time) (int, error) {
	var n int
	err := s.sql.QueryRow(`
		SELECT COUNT(*) FROM trade_records
		 WHERE market_tier = ? AND action != ? AND voided = 0 AND decided_at >= ?
	`, tier, string(model.Skip), since.Format(timeLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count executed today: %w", err)
	}
	return n, nil
}

// SumResolvedPnLSince sums pnl for resolved, non-void records resolved at
// or after since — daily/weekly loss-limit inputs (§4.7).
func (s *Store) SumResolvedPnLSince(since time.Time) (float64, error) {
	var sum float64
	err := s.sql.QueryRow(`
		SELECT COALESCE(SUM(pnl), 0) FROM trade_records
		 WHERE resolved = 1 AND voided = 0 AND resolved_at >= ?
	`, since.Format(timeLayout)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum resolved pnl: %w", err)
	}
	return sum, nil
}

// SumClusterExposure sums position_size for open (unresolved, non-void,
// non-SKIP) records sharing clusterID — the cluster-exposure gate input.
func (s *Store) SumClusterExposure(clusterID string) (float64, error) {
	var sum float64
	err := s.sql.QueryRow(`
		SELECT COALESCE(SUM(position_size), 0) FROM trade_records
		 WHERE market_cluster_id = ? AND action != ? AND voided = 0 AND resolved = 0
	`, clusterID, string(model.Skip)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum cluster exposure: %w", err)
	}
	return sum, nil
}

// SumOpenExposure sums position_size across every open executed record —
// the max_exposure gate input.
func (s *Store) SumOpenExposure() (float64, error) {
	var sum float64
	err := s.sql.QueryRow(`
		SELECT COALESCE(SUM(position_size), 0) FROM trade_records
		 WHERE action != ? AND voided = 0 AND resolved = 0
	`, string(model.Skip)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum open exposure: %w", err)
	}
	return sum, nil
}
