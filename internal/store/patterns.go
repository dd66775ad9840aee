package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"navrecon/internal/types"
)

// SearchPatterns returns historical break patterns matching the category,
// variance band, and optionally the fund type, most frequent first.
func (s *Store) SearchPatterns(ctx context.Context, category string, variance float64, fundType string) ([]types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_id, pattern_name, occurrence_count, avg_confidence, resolution_template
		FROM break_patterns
		WHERE break_category = ?
		  AND ? BETWEEN min_variance AND max_variance
		  AND (fund_type = '' OR fund_type = ?)
		ORDER BY occurrence_count DESC, pattern_id
		LIMIT 5`,
		category, math.Abs(variance), fundType)
	if err != nil {
		return nil, fmt.Errorf("search patterns: %w", err)
	}
	defer rows.Close()

	var out []types.Pattern
	for rows.Next() {
		var p types.Pattern
		if err := rows.Scan(&p.PatternID, &p.PatternName, &p.OccurrenceCount,
			&p.AvgConfidence, &p.ResolutionTemplate); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindSimilarBreaks returns resolved or accepted historical breaks for the
// account, most recent first.
func (s *Store) FindSimilarBreaks(ctx context.Context, account string) ([]types.HistoricalBreak, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT break_id, break_category, variance_absolute, root_cause_summary,
		       confidence_score, resolution_type
		FROM break_instances
		WHERE account = ? AND status IN ('RESOLVED', 'ACCEPTED')
		ORDER BY valuation_dt DESC, break_id
		LIMIT 10`,
		account)
	if err != nil {
		return nil, fmt.Errorf("find similar breaks: %w", err)
	}
	defer rows.Close()

	var out []types.HistoricalBreak
	for rows.Next() {
		var b types.HistoricalBreak
		if err := rows.Scan(&b.BreakID, &b.Category, &b.VarianceAbsolute,
			&b.RootCauseSummary, &b.Confidence, &b.ResolutionType); err != nil {
			return nil, fmt.Errorf("scan historical break: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveRun persists a finished drill-down run: a row in analysis_runs with
// the full report, and the break instance itself so future runs on the same
// account can find it once an analyst marks it resolved.
func (s *Store) SaveRun(ctx context.Context, run *types.RunState) error {
	if run.Alert == nil {
		return fmt.Errorf("cannot save run %s: no alert", run.RunID)
	}
	report, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_runs
			(run_id, break_id, phase, overall_confidence, report_json)
		VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Alert.BreakID, string(run.Phase), run.OverallConfidence, string(report)); err != nil {
		return fmt.Errorf("insert analysis run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO break_instances
			(break_id, account, valuation_dt, break_category, variance_absolute,
			 root_cause_summary, confidence_score, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Alert.BreakID, run.Alert.Account, run.Alert.ValuationDate,
		run.BreakCategory, run.Alert.VarianceAbsolute,
		run.RootCauseNarrative, run.OverallConfidence, string(run.Phase)); err != nil {
		return fmt.Errorf("insert break instance: %w", err)
	}

	return tx.Commit()
}

// LoadRun retrieves a previously saved drill-down run by its run ID.
func (s *Store) LoadRun(ctx context.Context, runID string) (*types.RunState, error) {
	var report string
	err := s.db.QueryRowContext(ctx,
		`SELECT report_json FROM analysis_runs WHERE run_id = ?`, runID).Scan(&report)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	var run types.RunState
	if err := json.Unmarshal([]byte(report), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &run, nil
}
