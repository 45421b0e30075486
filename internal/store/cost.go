package store

import (
	"context"
	"fmt"
	"time"
)

// RecordAPICost atomically increments today's counter for service (§5: "a
// single cost counter is incremented atomically per LM/social call").
// Implements llm.CostRecorder.
func (s *Store) RecordAPICost(ctx context.Context, service string, amount float64, at time.Time) error {
	day := at.UTC().Format("2006-01-02")
	_, err := s.sql.ExecContext(ctx, `
		INSERT INTO api_cost_counters (day, service, amount) VALUES (?, ?, ?)
		ON CONFLICT(day, service) DO UPDATE SET amount = amount + excluded.amount
	`, day, service, amount)
	if err != nil {
		return fmt.Errorf("record api cost: %w", err)
	}
	return nil
}

// SumAPICostToday sums every service's spend for the UTC day containing at
// — the api_budget_exceeded gate input (§4.7).
func (s *Store) SumAPICostToday(at time.Time) (float64, error) {
	day := at.UTC().Format("2006-01-02")
	var sum float64
	err := s.sql.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM api_cost_counters WHERE day = ?
	`, day).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum api cost today: %w", err)
	}
	return sum, nil
}

// RecordDailyMode upserts today's mode-log entry (§6 Persisted state:
// "a daily mode log").
func (s *Store) RecordDailyMode(at time.Time, mode, note string) error {
	day := at.UTC().Format("2006-01-02")
	_, err := s.sql.Exec(`
		INSERT INTO daily_mode_log (day, mode, note) VALUES (?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET mode = excluded.mode, note = excluded.note
	`, day, mode, note)
	if err != nil {
		return fmt.Errorf("record daily mode: %w", err)
	}
	return nil
}
