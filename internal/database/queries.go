package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateFramework inserts a framework. Frameworks are append-only catalogs;
// re-inserting an existing framework id is a no-op so bulk loads can be
// re-run safely.
func (db *DB) CreateFramework(ctx context.Context, framework *Framework) error {
	query := `
		INSERT INTO frameworks (id, name, version, published_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := db.ExecContext(ctx, query,
		framework.ID,
		framework.Name,
		framework.Version,
		framework.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting framework: %w", err)
	}

	return nil
}

// GetFramework retrieves a framework by id.
func (db *DB) GetFramework(ctx context.Context, id string) (*Framework, error) {
	query := `
		SELECT id, name, version, published_at, created_at
		FROM frameworks
		WHERE id = ?
	`

	framework := &Framework{}
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, id).Scan(
			&framework.ID,
			&framework.Name,
			&framework.Version,
			&framework.PublishedAt,
			&framework.CreatedAt,
		)
	})
	if err == sql.ErrNoRows {
		return nil, UnknownFrameworkError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying framework: %w", err)
	}

	return framework, nil
}

// ListFrameworks retrieves all frameworks ordered by id.
func (db *DB) ListFrameworks(ctx context.Context) ([]*Framework, error) {
	query := `
		SELECT id, name, version, published_at, created_at
		FROM frameworks
		ORDER BY id
	`

	var frameworks []*Framework
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("querying frameworks: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			framework := &Framework{}
			if err := rows.Scan(
				&framework.ID,
				&framework.Name,
				&framework.Version,
				&framework.PublishedAt,
				&framework.CreatedAt,
			); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			frameworks = append(frameworks, framework)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return frameworks, nil
}

// BatchInsertControls inserts controls in chunks. Control weights are
// validated here, at the ingestion boundary; scoring assumes valid input.
// Re-inserting an existing (framework, control) pair is a no-op.
func (db *DB) BatchInsertControls(ctx context.Context, controls []*Control) error {
	if len(controls) == 0 {
		return nil
	}

	for _, control := range controls {
		if control.Weight < MinControlWeight || control.Weight > MaxControlWeight {
			return fmt.Errorf("%w: %s/%s weight %d outside [%d, %d]",
				ErrInvalidWeight, control.FrameworkID, control.ControlID,
				control.Weight, MinControlWeight, MaxControlWeight)
		}
	}

	// Process in chunks to avoid SQL query size limits
	const chunkSize = 500

	for i := 0; i < len(controls); i += chunkSize {
		end := i + chunkSize
		if end > len(controls) {
			end = len(controls)
		}

		if err := db.insertControlChunk(ctx, controls[i:end]); err != nil {
			return fmt.Errorf("inserting chunk %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// insertControlChunk inserts a chunk of controls in a single transaction.
func (db *DB) insertControlChunk(ctx context.Context, controls []*Control) error {
	return db.InTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO controls (framework_id, control_id, name, description, family, weight, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(framework_id, control_id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, control := range controls {
			var metadata any
			if len(control.Metadata) > 0 {
				metadata = string(control.Metadata)
			}

			_, err := stmt.ExecContext(ctx,
				control.FrameworkID,
				control.ControlID,
				control.Name,
				control.Description,
				control.Family,
				control.Weight,
				metadata,
			)
			if err != nil {
				return fmt.Errorf("inserting control %s/%s: %w", control.FrameworkID, control.ControlID, err)
			}
		}

		return nil
	})
}

// GetControl retrieves a control by framework and control id.
func (db *DB) GetControl(ctx context.Context, frameworkID, controlID string) (*Control, error) {
	query := `
		SELECT id, framework_id, control_id, name, description, family, weight, metadata, created_at
		FROM controls
		WHERE framework_id = ? AND control_id = ?
	`

	control := &Control{}
	var metadata sql.NullString

	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, frameworkID, controlID).Scan(
			&control.ID,
			&control.FrameworkID,
			&control.ControlID,
			&control.Name,
			&control.Description,
			&control.Family,
			&control.Weight,
			&metadata,
			&control.CreatedAt,
		)
	})
	if err == sql.ErrNoRows {
		return nil, UnknownControlError(frameworkID, controlID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying control: %w", err)
	}

	if metadata.Valid {
		control.Metadata = json.RawMessage(metadata.String)
	}

	return control, nil
}

// ControlExists reports whether a control exists in its declared framework.
func (db *DB) ControlExists(ctx context.Context, frameworkID, controlID string) (bool, error) {
	var count int
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM controls WHERE framework_id = ? AND control_id = ?`,
			frameworkID, controlID,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("checking control existence: %w", err)
	}

	return count > 0, nil
}

// CountControls returns the number of controls in a framework.
func (db *DB) CountControls(ctx context.Context, frameworkID string) (int, error) {
	var count int
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM controls WHERE framework_id = ?`,
			frameworkID,
		).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("counting controls: %w", err)
	}

	return count, nil
}

// ListControls retrieves controls with optional filtering and pagination.
func (db *DB) ListControls(ctx context.Context, filter ControlFilter) ([]*Control, error) {
	query := `
		SELECT id, framework_id, control_id, name, description, family, weight, metadata, created_at
		FROM controls
		WHERE 1=1
	`

	var args []any

	if filter.Framework != nil {
		query += " AND framework_id = ?"
		args = append(args, *filter.Framework)
	}

	if filter.Family != nil {
		query += " AND family = ?"
		args = append(args, *filter.Family)
	}

	if filter.MinWeight != nil {
		query += " AND weight >= ?"
		args = append(args, *filter.MinWeight)
	}

	query += " ORDER BY framework_id, control_id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	var controls []*Control
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying controls: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			control := &Control{}
			var metadata sql.NullString

			if err := rows.Scan(
				&control.ID,
				&control.FrameworkID,
				&control.ControlID,
				&control.Name,
				&control.Description,
				&control.Family,
				&control.Weight,
				&metadata,
				&control.CreatedAt,
			); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}

			if metadata.Valid {
				control.Metadata = json.RawMessage(metadata.String)
			}

			controls = append(controls, control)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return controls, nil
}
