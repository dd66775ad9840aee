// Package store implements the SQLite-backed data access layer: ledger data
// for both reconciled systems, the GL category cross-map, and the historical
// break pattern library.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is the single SQLite handle behind the LedgerStore, CategoryMapper,
// and PatternStore interfaces. Safe for concurrent use; writes serialize on
// the single connection.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *zap.Logger
}

// Open initializes the SQLite database at the given path, creating the
// schema when missing.
func Open(path string, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, dbPath: path, log: log}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	log.Debug("store opened", zap.String("path", path))
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS gl_balances (
    account       TEXT NOT NULL,
    valuation_dt  TEXT NOT NULL,
    system        TEXT NOT NULL,
    gl_account    TEXT NOT NULL,
    category      TEXT NOT NULL,
    balance       REAL NOT NULL,
    PRIMARY KEY (account, valuation_dt, system, gl_account)
);

CREATE TABLE IF NOT EXISTS positions (
    account           TEXT NOT NULL,
    valuation_dt      TEXT NOT NULL,
    system            TEXT NOT NULL,
    asset_id          TEXT NOT NULL,
    shares            REAL NOT NULL DEFAULT 0,
    market_value_base REAL NOT NULL DEFAULT 0,
    book_value_base   REAL NOT NULL DEFAULT 0,
    income_base       REAL NOT NULL DEFAULT 0,
    market_price      REAL NOT NULL DEFAULT 0,
    currency          TEXT NOT NULL DEFAULT '',
    security_type     TEXT NOT NULL DEFAULT '',
    security_desc     TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (account, valuation_dt, system, asset_id)
);

CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT NOT NULL,
    system         TEXT NOT NULL,
    account        TEXT NOT NULL,
    asset_id       TEXT NOT NULL,
    trans_code     TEXT NOT NULL,
    trade_date     TEXT NOT NULL,
    settle_date    TEXT NOT NULL DEFAULT '',
    units          REAL NOT NULL DEFAULT 0,
    amount_base    REAL NOT NULL DEFAULT 0,
    currency       TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (transaction_id, system)
);
CREATE INDEX IF NOT EXISTS idx_transactions_lookup
    ON transactions (account, asset_id, trade_date);

CREATE TABLE IF NOT EXISTS gl_category_map (
    account            TEXT NOT NULL,
    cpu_category       TEXT NOT NULL,
    incumbent_category TEXT NOT NULL,
    PRIMARY KEY (account, cpu_category)
);

CREATE TABLE IF NOT EXISTS break_patterns (
    pattern_id          TEXT PRIMARY KEY,
    pattern_name        TEXT NOT NULL,
    break_category      TEXT NOT NULL,
    fund_type           TEXT NOT NULL DEFAULT '',
    min_variance        REAL NOT NULL DEFAULT 0,
    max_variance        REAL NOT NULL DEFAULT 1e18,
    occurrence_count    INTEGER NOT NULL DEFAULT 0,
    avg_confidence      REAL NOT NULL DEFAULT 0,
    resolution_template TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS break_instances (
    break_id           TEXT PRIMARY KEY,
    account            TEXT NOT NULL,
    valuation_dt       TEXT NOT NULL,
    break_category     TEXT NOT NULL DEFAULT '',
    variance_absolute  REAL NOT NULL DEFAULT 0,
    root_cause_summary TEXT NOT NULL DEFAULT '',
    confidence_score   REAL NOT NULL DEFAULT 0,
    status             TEXT NOT NULL DEFAULT 'OPEN',
    resolution_type    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_break_instances_account
    ON break_instances (account, valuation_dt);

CREATE TABLE IF NOT EXISTS analysis_runs (
    run_id             TEXT PRIMARY KEY,
    break_id           TEXT NOT NULL,
    phase              TEXT NOT NULL,
    overall_confidence REAL NOT NULL DEFAULT 0,
    report_json        TEXT NOT NULL DEFAULT '{}',
    created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
