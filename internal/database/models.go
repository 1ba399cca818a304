package database

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ComplianceStatus represents the assessed state of a control.
type ComplianceStatus string

// Compliance status values, from an assessment's point of view.
const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusPartial      ComplianceStatus = "partial"
	StatusNonCompliant ComplianceStatus = "non_compliant"
	StatusNotAssessed  ComplianceStatus = "not_assessed"
)

// Valid reports whether the status is one of the known values.
func (s ComplianceStatus) Valid() bool {
	switch s {
	case StatusCompliant, StatusPartial, StatusNonCompliant, StatusNotAssessed:
		return true
	}
	return false
}

// MappingType classifies a cross-framework control equivalence.
type MappingType string

// Mapping types, strongest to weakest by convention.
const (
	MappingExact         MappingType = "EXACT"
	MappingPartial       MappingType = "PARTIAL"
	MappingRelated       MappingType = "RELATED"
	MappingComplementary MappingType = "COMPLEMENTARY"
)

// Valid reports whether the mapping type is one of the known values.
func (t MappingType) Valid() bool {
	switch t {
	case MappingExact, MappingPartial, MappingRelated, MappingComplementary:
		return true
	}
	return false
}

// ThreatKind classifies an external threat association.
type ThreatKind string

// Threat mapping kinds.
const (
	ThreatExploited ThreatKind = "exploited" // actively exploited vulnerability
	ThreatKnown     ThreatKind = "known"     // known vulnerability, no exploitation evidence
	ThreatTechnique ThreatKind = "technique" // adversary technique
)

// Valid reports whether the threat kind is one of the known values.
func (k ThreatKind) Valid() bool {
	switch k {
	case ThreatExploited, ThreatKnown, ThreatTechnique:
		return true
	}
	return false
}

// Control weight bounds enforced at ingestion time.
const (
	MinControlWeight = 1
	MaxControlWeight = 10
)

// Framework represents a compliance catalog.
type Framework struct {
	CreatedAt   time.Time
	PublishedAt sql.NullTime
	ID          string
	Name        string
	Version     string
}

// Control represents a single control within a framework.
type Control struct {
	CreatedAt   time.Time
	FrameworkID string
	ControlID   string
	Name        string
	Description string
	Family      string
	Metadata    json.RawMessage
	ID          int64
	Weight      int
}

// Assessment is an append-only, timestamped compliance fact for a control.
type Assessment struct {
	AssessmentDate time.Time
	CreatedAt      time.Time
	FrameworkID    string
	ControlID      string
	Status         ComplianceStatus
	Assessor       string
	RiskRating     sql.NullString
	ID             int64
	HasEvidence    bool
}

// ThreatMapping associates a control with an external threat entity.
type ThreatMapping struct {
	CreatedAt   time.Time
	FrameworkID string
	ControlID   string
	ThreatID    string
	Kind        ThreatKind
	ID          int64
	Confidence  float64
}

// ThreatCounts holds per-kind threat association counts for a control.
type ThreatCounts struct {
	Exploited int
	Known     int
	Technique int
}

// Total returns the total number of threat associations.
func (c ThreatCounts) Total() int {
	return c.Exploited + c.Known + c.Technique
}

// RiskScore is a computed score for a control. History is retained; the
// latest calculation per control is authoritative.
type RiskScore struct {
	CalculatedAt   time.Time
	FrameworkID    string
	ControlID      string
	Status         ComplianceStatus
	RunID          sql.NullString
	ID             int64
	BaseScore      float64
	ThreatScore    float64
	PriorityScore  float64
	StaleDays      int
	ExploitedCount int
	KnownCount     int
	TechniqueCount int
}

// ControlMapping is a directed, weighted edge between controls in two
// frameworks.
type ControlMapping struct {
	CreatedAt       time.Time
	SourceFramework string
	SourceControl   string
	TargetFramework string
	TargetControl   string
	Type            MappingType
	Rationale       string
	ID              int64
	Strength        float64
}

// ControlFilter provides filtering options for listing controls.
type ControlFilter struct {
	Framework *string
	Family    *string
	MinWeight *int
	Limit     int
	Offset    int
}

// ScoreFilter provides filtering options for querying latest risk scores.
type ScoreFilter struct {
	Framework   *string
	MinPriority *float64
	Limit       int
}

// ControlState is the joined current view the scoring engine reads:
// a control, its latest assessment (if any), and its threat counts.
type ControlState struct {
	LastAssessed sql.NullTime
	FrameworkID  string
	ControlID    string
	Status       ComplianceStatus
	Threats      ThreatCounts
	Weight       int
}
