// Package analytics composes the scoring engine and the framework mapper
// into cross-framework compliance views.
package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/internal/mapper"
	"github.com/joshsymonds/lattice/internal/scoring"
	"github.com/joshsymonds/lattice/pkg/logger"
)

// InheritancePolicy holds the per-mapping-type discount applied to
// compliance credit inherited across frameworks. The discounts are policy
// constants, not derived values: an EXACT mapping from a compliant source
// credits near-full compliance, weaker types credit less. Each credit is
// additionally scaled by the mapping's strength.
type InheritancePolicy struct {
	Discounts map[database.MappingType]float64 `yaml:"discounts"`
}

// DefaultInheritancePolicy returns the default discount table.
func DefaultInheritancePolicy() InheritancePolicy {
	return InheritancePolicy{
		Discounts: map[database.MappingType]float64{
			database.MappingExact:         0.9,
			database.MappingPartial:       0.5,
			database.MappingRelated:       0.3,
			database.MappingComplementary: 0.2,
		},
	}
}

// Validate ensures every mapping type has a discount in [0, 1].
func (p InheritancePolicy) Validate() error {
	for _, mappingType := range []database.MappingType{
		database.MappingExact,
		database.MappingPartial,
		database.MappingRelated,
		database.MappingComplementary,
	} {
		discount, ok := p.Discounts[mappingType]
		if !ok {
			return fmt.Errorf("discounts missing %q", mappingType)
		}
		if discount < 0 || discount > 1 {
			return fmt.Errorf("discounts[%q] must be in [0, 1], got %v", mappingType, discount)
		}
	}
	return nil
}

// Analytics produces multi-framework compliance views.
type Analytics struct {
	db          *database.DB
	engine      *scoring.Engine
	mapper      *mapper.Mapper
	inheritance InheritancePolicy
	log         logger.Logger
	titler      cases.Caser
}

// New creates an Analytics layer over the given engine and mapper.
func New(db *database.DB, engine *scoring.Engine, m *mapper.Mapper, inheritance InheritancePolicy) *Analytics {
	return &Analytics{
		db:          db,
		engine:      engine,
		mapper:      m,
		inheritance: inheritance,
		log:         logger.WithComponent("analytics"),
		titler:      cases.Title(language.English),
	}
}

// FrameworkStatus is the per-framework compliance summary computed from a
// framework's own assessments, with no inheritance applied.
type FrameworkStatus struct {
	CountByStatus map[database.ComplianceStatus]int
	FrameworkID   string
	DisplayName   string
	CompliancePct float64
	TotalControls int
}

// UnifiedComplianceStatus returns per-framework compliance percentages.
// Partial compliance counts as half credit.
func (a *Analytics) UnifiedComplianceStatus(ctx context.Context) ([]FrameworkStatus, error) {
	frameworks, err := a.db.ListFrameworks(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]FrameworkStatus, 0, len(frameworks))
	for _, framework := range frameworks {
		states, err := a.db.ListControlStates(ctx, framework.ID)
		if err != nil {
			return nil, err
		}

		status := FrameworkStatus{
			FrameworkID:   framework.ID,
			DisplayName:   a.titler.String(framework.Name),
			TotalControls: len(states),
			CountByStatus: make(map[database.ComplianceStatus]int),
		}

		var credit float64
		for _, state := range states {
			status.CountByStatus[state.Status]++
			switch state.Status {
			case database.StatusCompliant:
				credit += 1.0
			case database.StatusPartial:
				credit += 0.5
			}
		}

		if len(states) > 0 {
			status.CompliancePct = round2(credit / float64(len(states)) * 100)
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// InheritedControl is a control in the target framework with its direct
// compliance value and the credit inherited through incoming mappings.
type InheritedControl struct {
	FrameworkID     string
	ControlID       string
	DirectStatus    database.ComplianceStatus
	DirectValue     float64
	InheritedCredit float64
	EffectiveValue  float64
}

// directValue maps an assessed status to a [0, 1] compliance value.
func directValue(status database.ComplianceStatus) float64 {
	switch status {
	case database.StatusCompliant:
		return 1.0
	case database.StatusPartial:
		return 0.5
	default:
		return 0.0
	}
}

// InheritedCompliance computes, for each control in the target framework,
// the compliance credit inherited from compliant source controls in other
// frameworks. Inheritance only adds credit: the effective value is never
// below the control's own directly-assessed value, and never above 1.0.
func (a *Analytics) InheritedCompliance(ctx context.Context, targetFramework string) ([]InheritedControl, error) {
	if _, err := a.db.GetFramework(ctx, targetFramework); err != nil {
		return nil, err
	}

	states, err := a.db.ListControlStates(ctx, targetFramework)
	if err != nil {
		return nil, err
	}

	incoming, err := a.db.ListIncomingMappings(ctx, targetFramework)
	if err != nil {
		return nil, err
	}

	// Latest status per source control, looked up once per source
	// framework rather than per edge.
	sourceStatus := make(map[string]database.ComplianceStatus)
	sourceFrameworks := make(map[string]bool)
	for _, edge := range incoming {
		sourceFrameworks[edge.SourceFramework] = true
	}
	for frameworkID := range sourceFrameworks {
		sourceStates, err := a.db.ListControlStates(ctx, frameworkID)
		if err != nil {
			return nil, err
		}
		for _, state := range sourceStates {
			sourceStatus[state.FrameworkID+"/"+state.ControlID] = state.Status
		}
	}

	creditByControl := make(map[string]float64)
	for _, edge := range incoming {
		if sourceStatus[edge.SourceFramework+"/"+edge.SourceControl] != database.StatusCompliant {
			continue
		}

		discount := a.inheritance.Discounts[edge.Type]
		creditByControl[edge.TargetControl] += discount * edge.Strength
	}

	results := make([]InheritedControl, 0, len(states))
	for _, state := range states {
		direct := directValue(state.Status)
		credit := creditByControl[state.ControlID]

		effective := direct + credit
		if effective > 1.0 {
			effective = 1.0
		}
		if effective < direct {
			effective = direct
		}

		results = append(results, InheritedControl{
			FrameworkID:     targetFramework,
			ControlID:       state.ControlID,
			DirectStatus:    state.Status,
			DirectValue:     direct,
			InheritedCredit: round2(credit),
			EffectiveValue:  round2(effective),
		})
	}

	return results, nil
}

// PriorityControlsAcrossFrameworks returns the top-n latest scores across
// every framework, re-ranked together. Scores come from the engine's
// high-risk view, so cached results are reused when they are fresh.
func (a *Analytics) PriorityControlsAcrossFrameworks(ctx context.Context, topN int) ([]*database.RiskScore, error) {
	scores, err := a.engine.HighRisk(ctx, 0, true)
	if err != nil {
		return nil, err
	}

	if topN > 0 && len(scores) > topN {
		scores = scores[:topN]
	}

	a.log.Debug("global priority ranking", "top_n", topN, "controls", len(scores))

	return scores, nil
}

// ConsolidatedGap is a control missing mappings into one or more other
// frameworks, deduplicated by control.
type ConsolidatedGap struct {
	FrameworkID string
	ControlID   string
	MissingFrom []string
	Weight      int
}

// GapsAcrossFrameworks runs FindGaps over every ordered framework pair and
// consolidates the results, deduplicated by control.
func (a *Analytics) GapsAcrossFrameworks(ctx context.Context) ([]ConsolidatedGap, error) {
	frameworks, err := a.db.ListFrameworks(ctx)
	if err != nil {
		return nil, err
	}

	byControl := make(map[string]*ConsolidatedGap)
	for _, source := range frameworks {
		for _, target := range frameworks {
			if source.ID == target.ID {
				continue
			}

			gaps, err := a.mapper.FindGaps(ctx, source.ID, target.ID, mapper.OrderByWeight)
			if err != nil {
				return nil, err
			}

			for _, gap := range gaps {
				ref := gap.FrameworkID + "/" + gap.ControlID
				entry, ok := byControl[ref]
				if !ok {
					entry = &ConsolidatedGap{
						FrameworkID: gap.FrameworkID,
						ControlID:   gap.ControlID,
						Weight:      gap.Weight,
					}
					byControl[ref] = entry
				}
				entry.MissingFrom = append(entry.MissingFrom, target.ID)
			}
		}
	}

	consolidated := make([]ConsolidatedGap, 0, len(byControl))
	for _, entry := range byControl {
		sort.Strings(entry.MissingFrom)
		consolidated = append(consolidated, *entry)
	}

	sort.Slice(consolidated, func(i, j int) bool {
		if consolidated[i].Weight != consolidated[j].Weight {
			return consolidated[i].Weight > consolidated[j].Weight
		}
		if consolidated[i].FrameworkID != consolidated[j].FrameworkID {
			return consolidated[i].FrameworkID < consolidated[j].FrameworkID
		}
		return consolidated[i].ControlID < consolidated[j].ControlID
	})

	return consolidated, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
