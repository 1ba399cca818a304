package database

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertRiskScore appends a new risk score calculation. History is kept for
// audit; concurrent writers for the same control resolve last-write-wins by
// calculated_at.
func (db *DB) InsertRiskScore(ctx context.Context, score *RiskScore) error {
	query := `
		INSERT INTO risk_scores (framework_id, control_id, calculated_at, status, base_score,
		                         threat_score, priority_score, stale_days,
		                         exploited_count, known_count, technique_count, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		score.FrameworkID,
		score.ControlID,
		score.CalculatedAt,
		score.Status,
		score.BaseScore,
		score.ThreatScore,
		score.PriorityScore,
		score.StaleDays,
		score.ExploitedCount,
		score.KnownCount,
		score.TechniqueCount,
		score.RunID,
	)
	if err != nil {
		return fmt.Errorf("inserting risk score: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}

	score.ID = id
	return nil
}

const latestScoreColumns = `
	id, framework_id, control_id, calculated_at, status, base_score,
	threat_score, priority_score, stale_days,
	exploited_count, known_count, technique_count, run_id
`

func scanRiskScore(scan func(dest ...any) error) (*RiskScore, error) {
	score := &RiskScore{}
	err := scan(
		&score.ID,
		&score.FrameworkID,
		&score.ControlID,
		&score.CalculatedAt,
		&score.Status,
		&score.BaseScore,
		&score.ThreatScore,
		&score.PriorityScore,
		&score.StaleDays,
		&score.ExploitedCount,
		&score.KnownCount,
		&score.TechniqueCount,
		&score.RunID,
	)
	if err != nil {
		return nil, err
	}
	return score, nil
}

// GetLatestScore returns the authoritative (most recent) score for a
// control, or nil if it has never been scored.
func (db *DB) GetLatestScore(ctx context.Context, frameworkID, controlID string) (*RiskScore, error) {
	query := `
		SELECT ` + latestScoreColumns + `
		FROM risk_scores
		WHERE framework_id = ? AND control_id = ?
		ORDER BY calculated_at DESC, id DESC
		LIMIT 1
	`

	var score *RiskScore
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, query, frameworkID, controlID)
		var scanErr error
		score, scanErr = scanRiskScore(row.Scan)
		return scanErr
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest score: %w", err)
	}

	return score, nil
}

// ListLatestScores returns the latest score per control, optionally
// filtered, ordered by priority descending with control id as the
// deterministic tiebreak.
func (db *DB) ListLatestScores(ctx context.Context, filter ScoreFilter) ([]*RiskScore, error) {
	query := `
		SELECT ` + latestScoreColumns + `
		FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY framework_id, control_id
				ORDER BY calculated_at DESC, id DESC
			) as rn
			FROM risk_scores
		)
		WHERE rn = 1
	`

	var args []any

	if filter.Framework != nil {
		query += " AND framework_id = ?"
		args = append(args, *filter.Framework)
	}

	if filter.MinPriority != nil {
		query += " AND priority_score >= ?"
		args = append(args, *filter.MinPriority)
	}

	query += " ORDER BY priority_score DESC, control_id ASC, framework_id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var scores []*RiskScore
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying latest scores: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			score, err := scanRiskScore(rows.Scan)
			if err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			scores = append(scores, score)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return scores, nil
}
