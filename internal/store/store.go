// Package store is the Persistent Store (§3, §6): a single SQLite
// connection, opened WAL-style, holding experiment runs, model swaps, trade
// records, the three learning tables, the portfolio singleton, per-day API
// cost counters, and a daily mode log. Renamed from the teacher's
// internal/db to avoid clashing with database/sql's own "db" vocabulary.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"predictionmarket-trader/internal/logger"
	"predictionmarket-trader/internal/model"

	_ "modernc.org/sqlite"
)

// dbConn is the subset of *sql.DB and *sql.Tx that Store's methods use.
// Holding one of these rather than a concrete *sql.DB lets WithTx hand every
// method the same Store type, backed by a transaction instead of the pool.
type dbConn interface {
	Exec(query string, args ...any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a SQLite database connection.
type Store struct {
	sql  dbConn
	pool *sql.DB // nil for a Store backed by a transaction
}

// Open opens (or creates) the SQLite database at dsn and runs migrations.
// dsn is a plain file path ("trader.db") or ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping store: %w", err)
	}
	s := &Store{sql: sqlDB, pool: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Success("store", fmt.Sprintf("opened %s", dsn))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.pool.Close()
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on any error or panic. Used wherever the spec requires a set
// of writes to land atomically: the learning-feedback update (§4.9 step 5,
// Brier + calibration + market-type + signal-tracker together) and the
// model-swap/void recalculation (§4.10).
func (s *Store) WithTx(fn func(tx *Store) error) (err error) {
	sqlTx, err := s.pool.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{sql: sqlTx}
	defer func() {
		if p := recover(); p != nil {
			sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			sqlTx.Rollback()
			return
		}
		err = sqlTx.Commit()
	}()
	err = fn(txStore)
	return err
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS experiment_runs (
				id          TEXT PRIMARY KEY,
				description TEXT NOT NULL,
				model_id    TEXT NOT NULL,
				config_json TEXT NOT NULL,
				started_at  TEXT NOT NULL,
				ended_at    TEXT
			);

			CREATE TABLE IF NOT EXISTS model_swap_events (
				id           TEXT PRIMARY KEY,
				old_model_id TEXT NOT NULL,
				new_model_id TEXT NOT NULL,
				reason       TEXT NOT NULL,
				new_run_id   TEXT NOT NULL REFERENCES experiment_runs(id),
				swapped_at   TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS trade_records (
				id                  TEXT PRIMARY KEY,
				experiment_run_id   TEXT NOT NULL REFERENCES experiment_runs(id),
				model_id            TEXT NOT NULL,

				market_id             TEXT NOT NULL,
				question              TEXT NOT NULL,
				market_type           TEXT NOT NULL,
				market_tier           INTEGER NOT NULL DEFAULT 0,
				market_price_at_scan  REAL NOT NULL,
				fee_rate              REAL NOT NULL,
				resolution_time       TEXT NOT NULL,

				raw_probability  REAL NOT NULL,
				raw_confidence   REAL NOT NULL,
				reasoning        TEXT NOT NULL DEFAULT '',
				signal_tags_json TEXT NOT NULL DEFAULT '[]',

				calibration_confidence_delta   REAL NOT NULL DEFAULT 0,
				signal_weight_confidence_delta REAL NOT NULL DEFAULT 0,
				probability_shrinkage_applied  INTEGER NOT NULL DEFAULT 0,
				shrinkage_factor               REAL NOT NULL DEFAULT 0,
				market_type_extra_edge         REAL NOT NULL DEFAULT 0,
				temporal_decay_confidence_mult REAL NOT NULL DEFAULT 1,

				adjusted_probability REAL NOT NULL,
				adjusted_confidence  REAL NOT NULL,

				action            TEXT NOT NULL,
				position_size     REAL NOT NULL DEFAULT 0,
				kelly_fraction    REAL NOT NULL DEFAULT 0,
				calculated_edge   REAL NOT NULL DEFAULT 0,
				score             REAL NOT NULL DEFAULT 0,
				skip_reason       TEXT NOT NULL DEFAULT '',
				market_cluster_id TEXT NOT NULL DEFAULT '',

				intended_side           TEXT NOT NULL DEFAULT '',
				intended_position_size  REAL NOT NULL DEFAULT 0,

				decided_at TEXT NOT NULL,

				resolved                INTEGER NOT NULL DEFAULT 0,
				actual_outcome          REAL,
				pnl                     REAL NOT NULL DEFAULT 0,
				brier_raw               REAL,
				brier_adjusted          REAL,
				resolved_at             TEXT,
				unrealized_adverse_move REAL NOT NULL DEFAULT 0,

				voided      INTEGER NOT NULL DEFAULT 0,
				void_reason TEXT NOT NULL DEFAULT '',

				headline_only INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_trade_records_run ON trade_records(experiment_run_id);
			CREATE INDEX IF NOT EXISTS idx_trade_records_market ON trade_records(market_id);
			CREATE INDEX IF NOT EXISTS idx_trade_records_decided_at ON trade_records(decided_at);
			CREATE INDEX IF NOT EXISTS idx_trade_records_open
				ON trade_records(id) WHERE resolved = 0 AND voided = 0;
			CREATE INDEX IF NOT EXISTS idx_trade_records_headline_only
				ON trade_records(id) WHERE headline_only = 1;

			CREATE TABLE IF NOT EXISTS calibration_buckets (
				bucket_index INTEGER PRIMARY KEY,
				range_lo     REAL NOT NULL,
				range_hi     REAL NOT NULL,
				alpha        REAL NOT NULL DEFAULT 1,
				beta         REAL NOT NULL DEFAULT 1
			);

			CREATE TABLE IF NOT EXISTS market_type_performance (
				market_type          TEXT PRIMARY KEY,
				total_trades         INTEGER NOT NULL DEFAULT 0,
				total_pnl            REAL NOT NULL DEFAULT 0,
				brier_scores_json    TEXT NOT NULL DEFAULT '[]',
				total_observed_skips INTEGER NOT NULL DEFAULT 0,
				counterfactual_pnl   REAL NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS signal_trackers (
				tier             TEXT NOT NULL,
				info_type        TEXT NOT NULL,
				market_type      TEXT NOT NULL,
				present_winning  INTEGER NOT NULL DEFAULT 0,
				present_losing   INTEGER NOT NULL DEFAULT 0,
				absent_winning   INTEGER NOT NULL DEFAULT 0,
				absent_losing    INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (tier, info_type, market_type)
			);

			CREATE TABLE IF NOT EXISTS portfolio (
				id             INTEGER PRIMARY KEY CHECK (id = 1),
				cash           REAL NOT NULL,
				total_equity   REAL NOT NULL,
				total_pnl      REAL NOT NULL DEFAULT 0,
				peak_equity    REAL NOT NULL,
				max_drawdown   REAL NOT NULL DEFAULT 0,
				open_positions INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS api_cost_counters (
				day     TEXT NOT NULL,
				service TEXT NOT NULL,
				amount  REAL NOT NULL DEFAULT 0,
				PRIMARY KEY (day, service)
			);

			CREATE TABLE IF NOT EXISTS daily_mode_log (
				day  TEXT PRIMARY KEY,
				mode TEXT NOT NULL,
				note TEXT NOT NULL DEFAULT ''
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("store", "applied migration v1")
	}

	return s.seedCalibrationBuckets()
}

// seedCalibrationBuckets inserts the six fixed calibration ranges at
// alpha=beta=1 (uniform prior) the first time the store is opened. A no-op
// on subsequent opens thanks to INSERT OR IGNORE.
func (s *Store) seedCalibrationBuckets() error {
	for i, r := range model.CalibrationRanges {
		_, err := s.sql.Exec(`
			INSERT OR IGNORE INTO calibration_buckets (bucket_index, range_lo, range_hi, alpha, beta)
			VALUES (?, ?, ?, 1, 1)
		`, i, r[0], r[1])
		if err != nil {
			return fmt.Errorf("seed calibration bucket %d: %w", i, err)
		}
	}
	return nil
}
