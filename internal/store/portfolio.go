package store

import (
	"fmt"

	"predictionmarket-trader/internal/model"
)

// LoadPortfolio returns the single portfolio row, seeding it at
// initialBankroll if this is the first open.
func (s *Store) LoadPortfolio(initialBankroll float64) (model.Portfolio, error) {
	var p model.Portfolio
	err := s.sql.QueryRow(`
		SELECT cash, total_equity, total_pnl, peak_equity, max_drawdown, open_positions FROM portfolio WHERE id = 1
	`).Scan(&p.Cash, &p.TotalEquity, &p.TotalPnL, &p.PeakEquity, &p.MaxDrawdown, &p.OpenPositions)
	if err == nil {
		return p, nil
	}

	p = model.Portfolio{
		Cash:        initialBankroll,
		TotalEquity: initialBankroll,
		PeakEquity:  initialBankroll,
	}
	if err := s.SavePortfolio(p); err != nil {
		return model.Portfolio{}, fmt.Errorf("seed portfolio: %w", err)
	}
	return p, nil
}

// SavePortfolio upserts the single portfolio row. The Portfolio is read by
// the gate and written by Execution/Resolution under a mutex the caller
// holds (§5); the store itself does not serialize access.
func (s *Store) SavePortfolio(p model.Portfolio) error {
	_, err := s.sql.Exec(`
		INSERT INTO portfolio (id, cash, total_equity, total_pnl, peak_equity, max_drawdown, open_positions)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cash = excluded.cash,
			total_equity = excluded.total_equity,
			total_pnl = excluded.total_pnl,
			peak_equity = excluded.peak_equity,
			max_drawdown = excluded.max_drawdown,
			open_positions = excluded.open_positions
	`, p.Cash, p.TotalEquity, p.TotalPnL, p.PeakEquity, p.MaxDrawdown, p.OpenPositions)
	if err != nil {
		return fmt.Errorf("save portfolio: %w", err)
	}
	return nil
}
