package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// InsertControlMapping inserts a directed mapping edge. Duplicate
// (source, target, type) triples are rejected with ErrDuplicateMapping
// rather than merged, so curation conflicts stay visible.
func (db *DB) InsertControlMapping(ctx context.Context, mapping *ControlMapping) error {
	query := `
		INSERT INTO control_mappings (source_framework, source_control, target_framework,
		                              target_control, mapping_type, strength, rationale)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		mapping.SourceFramework,
		mapping.SourceControl,
		mapping.TargetFramework,
		mapping.TargetControl,
		mapping.Type,
		mapping.Strength,
		mapping.Rationale,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s/%s -> %s/%s (%s)",
				ErrDuplicateMapping,
				mapping.SourceFramework, mapping.SourceControl,
				mapping.TargetFramework, mapping.TargetControl,
				mapping.Type)
		}
		return fmt.Errorf("inserting control mapping: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}

	mapping.ID = id
	return nil
}

const mappingColumns = `
	id, source_framework, source_control, target_framework, target_control,
	mapping_type, strength, rationale, created_at
`

func scanControlMapping(scan func(dest ...any) error) (*ControlMapping, error) {
	mapping := &ControlMapping{}
	err := scan(
		&mapping.ID,
		&mapping.SourceFramework,
		&mapping.SourceControl,
		&mapping.TargetFramework,
		&mapping.TargetControl,
		&mapping.Type,
		&mapping.Strength,
		&mapping.Rationale,
		&mapping.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// queryMappings runs a mapping query and scans all rows.
func (db *DB) queryMappings(ctx context.Context, query string, args ...any) ([]*ControlMapping, error) {
	var mappings []*ControlMapping
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("querying control mappings: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			mapping, err := scanControlMapping(rows.Scan)
			if err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			mappings = append(mappings, mapping)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return mappings, nil
}

// ListMappingsFor returns all mapping edges touching a control, in either
// direction.
func (db *DB) ListMappingsFor(ctx context.Context, frameworkID, controlID string) ([]*ControlMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM control_mappings
		WHERE (source_framework = ? AND source_control = ?)
		   OR (target_framework = ? AND target_control = ?)
		ORDER BY strength DESC, id ASC
	`

	return db.queryMappings(ctx, query, frameworkID, controlID, frameworkID, controlID)
}

// ListMappingsBetween returns mapping edges from framework a into framework b.
func (db *DB) ListMappingsBetween(ctx context.Context, sourceFramework, targetFramework string) ([]*ControlMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM control_mappings
		WHERE source_framework = ? AND target_framework = ?
		ORDER BY source_control, target_control, id
	`

	return db.queryMappings(ctx, query, sourceFramework, targetFramework)
}

// ListIncomingMappings returns all mapping edges into a target framework.
func (db *DB) ListIncomingMappings(ctx context.Context, targetFramework string) ([]*ControlMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM control_mappings
		WHERE target_framework = ?
		ORDER BY target_control, strength DESC, id
	`

	return db.queryMappings(ctx, query, targetFramework)
}

// CountMappedControls returns how many distinct controls of the source
// framework have at least one mapping into the target framework.
func (db *DB) CountMappedControls(ctx context.Context, sourceFramework, targetFramework string) (int, error) {
	var count int
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, `
			SELECT COUNT(DISTINCT source_control)
			FROM control_mappings
			WHERE source_framework = ? AND target_framework = ?
		`, sourceFramework, targetFramework).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("counting mapped controls: %w", err)
	}

	return count, nil
}

// ListUnmappedControls returns controls of the source framework with no
// mapping into the target framework, heaviest first.
func (db *DB) ListUnmappedControls(ctx context.Context, sourceFramework, targetFramework string) ([]*Control, error) {
	query := `
		SELECT c.id, c.framework_id, c.control_id, c.name, c.description, c.family, c.weight, c.metadata, c.created_at
		FROM controls c
		WHERE c.framework_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM control_mappings m
			WHERE m.source_framework = c.framework_id
			  AND m.source_control = c.control_id
			  AND m.target_framework = ?
		  )
		ORDER BY c.weight DESC, c.control_id ASC
	`

	var controls []*Control
	err := db.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, sourceFramework, targetFramework)
		if err != nil {
			return fmt.Errorf("querying unmapped controls: %w", err)
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

			controls = append(controls, control)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return controls, nil
}

// MappingStats summarizes the mapping graph.
type MappingStats struct {
	ByType          map[MappingType]int
	TotalMappings   int
	AverageStrength float64
}

// GetMappingStats returns aggregate statistics for the mapping graph.
func (db *DB) GetMappingStats(ctx context.Context) (*MappingStats, error) {
	stats := &MappingStats{ByType: make(map[MappingType]int)}

	err := db.withConn(ctx, func(conn *sql.Conn) error {
		var avg sql.NullFloat64
		if err := conn.QueryRowContext(ctx, `
			SELECT COUNT(*), AVG(strength) FROM control_mappings
		`).Scan(&stats.TotalMappings, &avg); err != nil {
			return fmt.Errorf("querying mapping totals: %w", err)
		}
		if avg.Valid {
			stats.AverageStrength = avg.Float64
		}

		rows, err := conn.QueryContext(ctx, `
			SELECT mapping_type, COUNT(*) FROM control_mappings GROUP BY mapping_type
		`)
		if err != nil {
			return fmt.Errorf("querying mapping type counts: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()

		for rows.Next() {
			var mappingType MappingType
			var count int
			if err := rows.Scan(&mappingType, &count); err != nil {
				return fmt.Errorf("scanning row: %w", err)
			}
			stats.ByType[mappingType] = count
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}
