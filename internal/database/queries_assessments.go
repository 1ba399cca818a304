package database

import (
	"context"
	"database/sql"
	"fmt"
)

// BatchInsertAssessments inserts assessments in chunks. Assessments are
// append-only facts; the UNIQUE(framework, control, assessment_date)
// constraint makes re-runs idempotent.
func (db *DB) BatchInsertAssessments(ctx context.Context, assessments []*Assessment) error {
	if len(assessments) == 0 {
		return nil
	}

	for _, a := range assessments {
		if !a.Status.Valid() {
			return fmt.Errorf("assessment for %s/%s: unknown status %q", a.FrameworkID, a.ControlID, a.Status)
		}
	}

	const chunkSize = 500

	for i := 0; i < len(assessments); i += chunkSize {
		end := i + chunkSize
		if end > len(assessments) {
			end = len(assessments)
		}

		if err := db.insertAssessmentChunk(ctx, assessments[i:end]); err != nil {
			return fmt.Errorf("inserting chunk %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// insertAssessmentChunk inserts a chunk of assessments in a single transaction.
func (db *DB) insertAssessmentChunk(ctx context.Context, assessments []*Assessment) error {
	return db.InTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO assessments (framework_id, control_id, assessment_date, status, assessor, risk_rating, has_evidence)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(framework_id, control_id, assessment_date) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, a := range assessments {
			_, err := stmt.ExecContext(ctx,
				a.FrameworkID,
				a.ControlID,
				a.AssessmentDate,
				a.Status,
				a.Assessor,
				a.RiskRating,
				a.HasEvidence,
			)
			if err != nil {
				return fmt.Errorf("inserting assessment %s/%s: %w", a.FrameworkID, a.ControlID, err)
			}
		}

		return nil
	})
}

// GetLatestAssessment returns the most recent assessment for a control, or
// nil if the control has never been assessed. An empty history is not an
// error; scoring treats it as not_assessed.
func (db *DB) GetLatestAssessment(ctx context.Context, frameworkID, controlID string) (*Assessment, error) {
	query := `
		SELECT id, framework_id, control_id, assessment_date, status, assessor, risk_rating, has_evidence, created_at
		FROM assessments
		WHERE framework_id = ? AND control_id = ?
		ORDER BY assessment_date DESC
		LIMIT 1
	`

	assessment := &Assessment{}
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, frameworkID, controlID).Scan(
			&assessment.ID,
			&assessment.FrameworkID,
			&assessment.ControlID,
			&assessment.AssessmentDate,
			&assessment.Status,
			&assessment.Assessor,
			&assessment.RiskRating,
			&assessment.HasEvidence,
			&assessment.CreatedAt,
		)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest assessment: %w", err)
	}

	return assessment, nil
}

// BatchInsertThreatMappings inserts threat mappings in chunks, idempotent
// on (framework, control, threat id).
func (db *DB) BatchInsertThreatMappings(ctx context.Context, mappings []*ThreatMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	for _, m := range mappings {
		if !m.Kind.Valid() {
			return fmt.Errorf("threat mapping for %s/%s: unknown kind %q", m.FrameworkID, m.ControlID, m.Kind)
		}
	}

	const chunkSize = 500

	for i := 0; i < len(mappings); i += chunkSize {
		end := i + chunkSize
		if end > len(mappings) {
			end = len(mappings)
		}

		chunk := mappings[i:end]
		err := db.InTransaction(ctx, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, `
				INSERT INTO threat_mappings (framework_id, control_id, threat_id, kind, confidence)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(framework_id, control_id, threat_id) DO NOTHING
			`)
			if err != nil {
				return fmt.Errorf("preparing statement: %w", err)
			}
			defer func() {
				_ = stmt.Close()
			}()

			for _, m := range chunk {
				if _, err := stmt.ExecContext(ctx, m.FrameworkID, m.ControlID, m.ThreatID, m.Kind, m.Confidence); err != nil {
					return fmt.Errorf("inserting threat mapping %s/%s -> %s: %w", m.FrameworkID, m.ControlID, m.ThreatID, err)
				}
			}

			return nil
		})
		if err != nil {
			return fmt.Errorf("inserting chunk %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// GetThreatCounts returns per-kind threat association counts for a control.
func (db *DB) GetThreatCounts(ctx context.Context, frameworkID, controlID string) (ThreatCounts, error) {
	query := `
		SELECT
			COUNT(CASE WHEN kind = 'exploited' THEN 1 END) as exploited,
			COUNT(CASE WHEN kind = 'known' THEN 1 END) as known,
			COUNT(CASE WHEN kind = 'technique' THEN 1 END) as technique
		FROM threat_mappings
		WHERE framework_id = ? AND control_id = ?
	`

	var counts ThreatCounts
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, frameworkID, controlID).Scan(
			&counts.Exploited,
			&counts.Known,
			&counts.Technique,
		)
	})
	if err != nil {
		return ThreatCounts{}, fmt.Errorf("querying threat counts: %w", err)
	}

	return counts, nil
}

// GetControlState returns the joined current view the scoring engine reads:
// the control's weight, its latest assessment status (not_assessed when the
// history is empty), and its threat counts.
func (db *DB) GetControlState(ctx context.Context, frameworkID, controlID string) (*ControlState, error) {
	exists, err := db.ControlExists(ctx, frameworkID, controlID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, UnknownControlError(frameworkID, controlID)
	}

	states, err := db.listControlStates(ctx, frameworkID, &controlID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, UnknownControlError(frameworkID, controlID)
	}

	return states[0], nil
}

// ListControlStates returns the current state of every control in a
// framework, or of all frameworks when frameworkID is empty.
func (db *DB) ListControlStates(ctx context.Context, frameworkID string) ([]*ControlState, error) {
	return db.listControlStates(ctx, frameworkID, nil)
}

func (db *DB) listControlStates(ctx context.Context, frameworkID string, controlID *string) ([]*ControlState, error) {
	query := `
		SELECT
			c.framework_id,
			c.control_id,
			c.weight,
			latest.status,
			latest.assessment_date,
			COUNT(CASE WHEN t.kind = 'exploited' THEN 1 END) as exploited,
			COUNT(CASE WHEN t.kind = 'known' THEN 1 END) as known,
			COUNT(CASE WHEN t.kind = 'technique' THEN 1 END) as technique
		FROM controls c
		LEFT JOIN (
			SELECT framework_id, control_id, status, assessment_date,
			       ROW_NUMBER() OVER (PARTITION BY framework_id, control_id ORDER BY assessment_date DESC) as rn
			FROM assessments
		) latest ON latest.framework_id = c.framework_id
		        AND latest.control_id = c.control_id
		        AND latest.rn = 1
		LEFT JOIN threat_mappings t ON t.framework_id = c.framework_id
		                           AND t.control_id = c.control_id
		WHERE 1=1
	`

	var args []any

	if frameworkID != "" {
		query += " AND c.framework_id = ?"
		args = append(args, frameworkID)
	}

	if controlID != nil {
		query += " AND c.control_id = ?"
		args = append(args, *controlID)
	}

	query += " GROUP BY c.framework_id, c.control_id ORDER BY c.framework_id, c.control_id"

	var states []*ControlState
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying control states: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			state := &ControlState{}
			var status sql.NullString

			if err := rows.Scan(
				&state.FrameworkID,
				&state.ControlID,
				&state.Weight,
				&status,
				&state.LastAssessed,
				&state.Threats.Exploited,
				&state.Threats.Known,
				&state.Threats.Technique,
			); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}

			if status.Valid {
				state.Status = ComplianceStatus(status.String)
			} else {
				state.Status = StatusNotAssessed
			}

			states = append(states, state)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return states, nil
}
