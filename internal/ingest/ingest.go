// Package ingest bulk-loads framework catalogs, assessments, and threat
// mappings from YAML bundles. Loads are idempotent so feeds can be re-run
// safely.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/lattice/internal/cache"
	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/pkg/logger"
)

// Bundle is the YAML shape of a framework load file.
type Bundle struct {
	Framework      FrameworkDoc       `yaml:"framework"`
	Controls       []ControlDoc       `yaml:"controls"`
	Assessments    []AssessmentDoc    `yaml:"assessments"`
	ThreatMappings []ThreatMappingDoc `yaml:"threat_mappings"`
}

// FrameworkDoc describes a framework catalog.
type FrameworkDoc struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Published string `yaml:"published"` // YYYY-MM-DD, optional
}

// ControlDoc describes one control.
type ControlDoc struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Family      string         `yaml:"family"`
	Metadata    map[string]any `yaml:"metadata"`
	Weight      int            `yaml:"weight"`
}

// AssessmentDoc describes one assessment fact.
type AssessmentDoc struct {
	ControlID  string `yaml:"control_id"`
	Date       string `yaml:"date"` // YYYY-MM-DD
	Status     string `yaml:"status"`
	Assessor   string `yaml:"assessor"`
	RiskRating string `yaml:"risk_rating"`
	Evidence   bool   `yaml:"evidence"`
}

// ThreatMappingDoc associates a control with an external threat entity.
type ThreatMappingDoc struct {
	ControlID  string  `yaml:"control_id"`
	ThreatID   string  `yaml:"threat_id"`
	Kind       string  `yaml:"kind"`
	Confidence float64 `yaml:"confidence"`
}

// Loader writes bundles into the store.
type Loader struct {
	db    *database.DB
	cache cache.Cache
	log   logger.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCache sets the cache to invalidate after assessment or threat-mapping
// writes. Defaults to the null cache.
func WithCache(c cache.Cache) LoaderOption {
	return func(l *Loader) {
		if c != nil {
			l.cache = c
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(db *database.DB, opts ...LoaderOption) *Loader {
	l := &Loader{
		db:    db,
		cache: cache.NewNull(),
		log:   logger.WithComponent("ingest"),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoadFile reads a YAML bundle from disk and loads it.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Summary, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing bundle YAML: %w", err)
	}

	return l.Load(ctx, &bundle)
}

// Summary reports what a load wrote.
type Summary struct {
	Framework      string
	Controls       int
	Assessments    int
	ThreatMappings int
}

// Load validates and writes a bundle. Validation happens here, at the
// boundary: bad weights, statuses, and dates are rejected before anything
// is persisted.
func (l *Loader) Load(ctx context.Context, bundle *Bundle) (*Summary, error) {
	if bundle.Framework.ID == "" {
		return nil, fmt.Errorf("framework.id is required")
	}
	if bundle.Framework.Name == "" {
		return nil, fmt.Errorf("framework.name is required")
	}

	framework := &database.Framework{
		ID:      bundle.Framework.ID,
		Name:    bundle.Framework.Name,
		Version: bundle.Framework.Version,
	}

	if bundle.Framework.Published != "" {
		published, err := time.Parse("2006-01-02", bundle.Framework.Published)
		if err != nil {
			return nil, fmt.Errorf("invalid framework.published date: %w", err)
		}
		framework.PublishedAt = sql.NullTime{Time: published, Valid: true}
	}

	controls, err := l.buildControls(bundle)
	if err != nil {
		return nil, err
	}

	assessments, err := l.buildAssessments(bundle)
	if err != nil {
		return nil, err
	}

	threats, err := l.buildThreatMappings(bundle)
	if err != nil {
		return nil, err
	}

	if err := l.db.CreateFramework(ctx, framework); err != nil {
		return nil, err
	}
	if err := l.db.BatchInsertControls(ctx, controls); err != nil {
		return nil, err
	}
	if err := l.db.BatchInsertAssessments(ctx, assessments); err != nil {
		return nil, err
	}
	if err := l.db.BatchInsertThreatMappings(ctx, threats); err != nil {
		return nil, err
	}

	// New assessments and threat mappings change scoring inputs, so any
	// cached score derived from the old state is stale. The writes above
	// are durable before the invalidation runs.
	if len(assessments) > 0 || len(threats) > 0 {
		l.cache.InvalidatePrefix(ctx, cache.PrefixRiskScore)
		l.cache.InvalidatePrefix(ctx, cache.PrefixRiskSummary)
		l.cache.InvalidatePrefix(ctx, cache.PrefixHighRisk)
	}

	summary := &Summary{
		Framework:      framework.ID,
		Controls:       len(controls),
		Assessments:    len(assessments),
		ThreatMappings: len(threats),
	}

	l.log.Info("bundle loaded",
		"framework", summary.Framework,
		"controls", summary.Controls,
		"assessments", summary.Assessments,
		"threat_mappings", summary.ThreatMappings,
	)

	return summary, nil
}

func (l *Loader) buildControls(bundle *Bundle) ([]*database.Control, error) {
	controls := make([]*database.Control, 0, len(bundle.Controls))
	for _, doc := range bundle.Controls {
		if doc.ID == "" {
			return nil, fmt.Errorf("control with empty id in framework %s", bundle.Framework.ID)
		}

		weight := doc.Weight
		if weight == 0 {
			weight = 5 // unweighted controls land mid-range
		}

		control := &database.Control{
			FrameworkID: bundle.Framework.ID,
			ControlID:   doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			Family:      doc.Family,
			Weight:      weight,
		}

		if len(doc.Metadata) > 0 {
			metadata, err := yamlToJSON(doc.Metadata)
			if err != nil {
				return nil, fmt.Errorf("control %s metadata: %w", doc.ID, err)
			}
			control.Metadata = metadata
		}

		controls = append(controls, control)
	}

	return controls, nil
}

func (l *Loader) buildAssessments(bundle *Bundle) ([]*database.Assessment, error) {
	assessments := make([]*database.Assessment, 0, len(bundle.Assessments))
	for _, doc := range bundle.Assessments {
		date, err := time.Parse("2006-01-02", doc.Date)
		if err != nil {
			return nil, fmt.Errorf("assessment for %s: invalid date %q: %w", doc.ControlID, doc.Date, err)
		}

		status := database.ComplianceStatus(doc.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("assessment for %s: unknown status %q", doc.ControlID, doc.Status)
		}

		assessment := &database.Assessment{
			FrameworkID:    bundle.Framework.ID,
			ControlID:      doc.ControlID,
			AssessmentDate: date,
			Status:         status,
			Assessor:       doc.Assessor,
			HasEvidence:    doc.Evidence,
		}
		if doc.RiskRating != "" {
			assessment.RiskRating = sql.NullString{String: doc.RiskRating, Valid: true}
		}

		assessments = append(assessments, assessment)
	}

	return assessments, nil
}

func (l *Loader) buildThreatMappings(bundle *Bundle) ([]*database.ThreatMapping, error) {
	mappings := make([]*database.ThreatMapping, 0, len(bundle.ThreatMappings))
	for _, doc := range bundle.ThreatMappings {
		kind := database.ThreatKind(doc.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("threat mapping for %s: unknown kind %q", doc.ControlID, doc.Kind)
		}

		confidence := doc.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		if confidence < 0 || confidence > 1 {
			return nil, fmt.Errorf("threat mapping for %s: confidence %v not in [0, 1]", doc.ControlID, confidence)
		}

		mappings = append(mappings, &database.ThreatMapping{
			FrameworkID: bundle.Framework.ID,
			ControlID:   doc.ControlID,
			ThreatID:    doc.ThreatID,
			Kind:        kind,
			Confidence:  confidence,
		})
	}

	return mappings, nil
}

// MappingDoc is the YAML shape of one cross-framework mapping edge.
// Bidirectional semantics require explicitly listing both directions;
// reverse edges are never inferred.
type MappingDoc struct {
	SourceFramework string  `yaml:"source_framework"`
	SourceControl   string  `yaml:"source_control"`
	TargetFramework string  `yaml:"target_framework"`
	TargetControl   string  `yaml:"target_control"`
	Type            string  `yaml:"type"`
	Rationale       string  `yaml:"rationale"`
	Strength        float64 `yaml:"strength"`
}

// MappingBundle is a YAML file of mapping edges.
type MappingBundle struct {
	Mappings []MappingDoc `yaml:"mappings"`
}

// ParseMappingFile reads a mapping bundle from disk.
func ParseMappingFile(path string) (*MappingBundle, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is operator-supplied
	if err != nil {
		return nil, fmt.Errorf("reading mapping bundle: %w", err)
	}

	var bundle MappingBundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing mapping bundle YAML: %w", err)
	}

	return &bundle, nil
}

// yamlToJSON converts a decoded YAML map into a JSON blob for storage.
// yaml.v3 decodes nested maps as map[string]any, which json.Marshal
// accepts directly.
func yamlToJSON(m map[string]any) ([]byte, error) {
	return json.Marshal(m)
}
