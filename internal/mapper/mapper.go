// Package mapper maintains and queries the directed, weighted graph of
// cross-framework control equivalences.
package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/joshsymonds/lattice/internal/cache"
	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/pkg/logger"
)

// Mapper owns the control-mapping graph. The graph is a directed
// multigraph: several mapping types may connect the same pair, and a
// mapping A->B does not imply B->A. Asymmetric coverage is a real signal,
// so reverse edges are never inferred.
type Mapper struct {
	db          *database.DB
	cache       cache.Cache
	log         logger.Logger
	coverageTTL time.Duration
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithCache sets the cache fronting coverage queries. Defaults to the null
// cache.
func WithCache(c cache.Cache) Option {
	return func(m *Mapper) {
		if c != nil {
			m.cache = c
		}
	}
}

// WithCoverageTTL sets how long coverage results stay cached.
func WithCoverageTTL(ttl time.Duration) Option {
	return func(m *Mapper) {
		if ttl > 0 {
			m.coverageTTL = ttl
		}
	}
}

// New creates a Mapper.
func New(db *database.DB, opts ...Option) *Mapper {
	m := &Mapper{
		db:          db,
		cache:       cache.NewNull(),
		log:         logger.WithComponent("mapper"),
		coverageTTL: time.Hour,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// AddMapping validates and inserts a directed mapping edge. Validation is
// done here, at the boundary: strength outside [0,1] is rejected with
// ErrInvalidStrength and unknown endpoints with ErrUnknownControl before
// anything is persisted. Duplicates of the same (source, target, type)
// triple are rejected with ErrDuplicateMapping.
func (m *Mapper) AddMapping(ctx context.Context, mapping *database.ControlMapping) error {
	if mapping.Strength < 0 || mapping.Strength > 1 {
		return fmt.Errorf("%w: %v not in [0.0, 1.0]", database.ErrInvalidStrength, mapping.Strength)
	}

	if !mapping.Type.Valid() {
		return fmt.Errorf("unknown mapping type %q", mapping.Type)
	}

	for _, endpoint := range []struct {
		framework string
		control   string
	}{
		{mapping.SourceFramework, mapping.SourceControl},
		{mapping.TargetFramework, mapping.TargetControl},
	} {
		exists, err := m.db.ControlExists(ctx, endpoint.framework, endpoint.control)
		if err != nil {
			return err
		}
		if !exists {
			return database.UnknownControlError(endpoint.framework, endpoint.control)
		}
	}

	if err := m.db.InsertControlMapping(ctx, mapping); err != nil {
		return err
	}

	// A new edge changes coverage for its framework pair
	m.cache.InvalidatePrefix(ctx, cache.PrefixCoverage)

	m.log.Debug("mapping added",
		"source", mapping.SourceFramework+"/"+mapping.SourceControl,
		"target", mapping.TargetFramework+"/"+mapping.TargetControl,
		"type", mapping.Type,
		"strength", mapping.Strength,
	)

	return nil
}

// RelatedMapping is a mapping normalized from the perspective of a queried
// control: the other endpoint plus edge attributes, regardless of the
// stored direction.
type RelatedMapping struct {
	OtherFramework string
	OtherControl   string
	Type           database.MappingType
	Rationale      string
	Strength       float64
	// Outgoing is true when the queried control is the stored source.
	Outgoing bool
}

// MappingsFor returns every mapping touching the given control, in either
// direction, normalized into a "this control <-> other control" shape.
func (m *Mapper) MappingsFor(ctx context.Context, frameworkID, controlID string) ([]RelatedMapping, error) {
	exists, err := m.db.ControlExists(ctx, frameworkID, controlID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, database.UnknownControlError(frameworkID, controlID)
	}

	edges, err := m.db.ListMappingsFor(ctx, frameworkID, controlID)
	if err != nil {
		return nil, err
	}

	related := make([]RelatedMapping, 0, len(edges))
	for _, edge := range edges {
		normalized := RelatedMapping{
			Type:      edge.Type,
			Strength:  edge.Strength,
			Rationale: edge.Rationale,
		}

		if edge.SourceFramework == frameworkID && edge.SourceControl == controlID {
			normalized.OtherFramework = edge.TargetFramework
			normalized.OtherControl = edge.TargetControl
			normalized.Outgoing = true
		} else {
			normalized.OtherFramework = edge.SourceFramework
			normalized.OtherControl = edge.SourceControl
		}

		related = append(related, normalized)
	}

	return related, nil
}

// Coverage reports the mapping coverage between two frameworks.
type Coverage struct {
	AToB float64
	BToA float64
}

// GetCoverage computes the percentage of each framework's controls with at
// least one mapping into the other. A framework with zero controls has 0%
// coverage by definition, never a division error.
func (m *Mapper) GetCoverage(ctx context.Context, frameworkA, frameworkB string) (Coverage, error) {
	key := cache.PrefixCoverage + frameworkA + "|" + frameworkB

	if data, ok := m.cache.Get(ctx, key); ok {
		var coverage Coverage
		if err := json.Unmarshal(data, &coverage); err == nil {
			return coverage, nil
		}
		m.cache.Delete(ctx, key)
	}

	for _, framework := range []string{frameworkA, frameworkB} {
		if _, err := m.db.GetFramework(ctx, framework); err != nil {
			return Coverage{}, err
		}
	}

	aToB, err := m.directionalCoverage(ctx, frameworkA, frameworkB)
	if err != nil {
		return Coverage{}, err
	}

	bToA, err := m.directionalCoverage(ctx, frameworkB, frameworkA)
	if err != nil {
		return Coverage{}, err
	}

	coverage := Coverage{AToB: aToB, BToA: bToA}
	if data, err := json.Marshal(coverage); err == nil {
		m.cache.Set(ctx, key, data, m.coverageTTL)
	}

	return coverage, nil
}

func (m *Mapper) directionalCoverage(ctx context.Context, source, target string) (float64, error) {
	total, err := m.db.CountControls(ctx, source)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	mapped, err := m.db.CountMappedControls(ctx, source, target)
	if err != nil {
		return 0, err
	}

	return float64(mapped) / float64(total) * 100, nil
}

// GapOrder selects the ordering key for FindGaps results.
type GapOrder string

// Gap ordering keys.
const (
	OrderByWeight    GapOrder = "weight"
	OrderByControlID GapOrder = "control_id"
)

// FindGaps returns the controls of frameworkA with no mapping into
// frameworkB, ordered by the supplied key.
func (m *Mapper) FindGaps(ctx context.Context, frameworkA, frameworkB string, order GapOrder) ([]*database.Control, error) {
	for _, framework := range []string{frameworkA, frameworkB} {
		if _, err := m.db.GetFramework(ctx, framework); err != nil {
			return nil, err
		}
	}

	gaps, err := m.db.ListUnmappedControls(ctx, frameworkA, frameworkB)
	if err != nil {
		return nil, err
	}

	switch order {
	case OrderByControlID:
		sort.Slice(gaps, func(i, j int) bool {
			return gaps[i].ControlID < gaps[j].ControlID
		})
	case OrderByWeight, "":
		// Weight descending is the store's natural order; control id
		// breaks ties deterministically.
		sort.Slice(gaps, func(i, j int) bool {
			if gaps[i].Weight != gaps[j].Weight {
				return gaps[i].Weight > gaps[j].Weight
			}
			return gaps[i].ControlID < gaps[j].ControlID
		})
	default:
		return nil, fmt.Errorf("unknown gap order %q", order)
	}

	return gaps, nil
}

// Statistics returns aggregate statistics about the mapping graph.
func (m *Mapper) Statistics(ctx context.Context) (*database.MappingStats, error) {
	return m.db.GetMappingStats(ctx)
}
