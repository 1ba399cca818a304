// Package scoring computes deterministic, explainable risk scores for
// controls from compliance state, staleness, and threat-intelligence
// signals.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/joshsymonds/lattice/internal/database"
)

// Policy holds the scoring constants. All values are policy, supplied by
// configuration and validated at startup; the ordering of the status
// multipliers is the one structural invariant.
type Policy struct {
	StatusMultipliers map[database.ComplianceStatus]float64 `yaml:"status_multipliers"`

	// StalenessCap bounds the staleness factor so ancient or
	// never-assessed controls do not grow unbounded scores.
	StalenessCap float64 `yaml:"staleness_cap"`

	// StalenessPeriodDays is the number of days over which staleness
	// grows by one full factor.
	StalenessPeriodDays float64 `yaml:"staleness_period_days"`

	// Threat adjustment weights per association kind, and the cap on the
	// combined adjustment. A control with zero threat associations is
	// never penalized (the adjustment floor is 1.0).
	ExploitedWeight float64 `yaml:"exploited_weight"`
	KnownWeight     float64 `yaml:"known_weight"`
	TechniqueWeight float64 `yaml:"technique_weight"`
	ThreatCap       float64 `yaml:"threat_cap"`

	Bands BandThresholds `yaml:"bands"`
}

// BandThresholds define the priority-score bands used in summaries.
type BandThresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
}

// Band names.
const (
	BandCritical = "critical"
	BandHigh     = "high"
	BandMedium   = "medium"
	BandLow      = "low"
)

// DefaultPolicy returns the default scoring constants.
func DefaultPolicy() Policy {
	return Policy{
		StatusMultipliers: map[database.ComplianceStatus]float64{
			database.StatusNonCompliant: 3.0,
			database.StatusNotAssessed:  2.0,
			database.StatusPartial:      1.5,
			database.StatusCompliant:    0.1,
		},
		StalenessCap:        3.0,
		StalenessPeriodDays: 365,
		ExploitedWeight:     0.5,
		KnownWeight:         0.1,
		TechniqueWeight:     0.2,
		ThreatCap:           3.0,
		Bands: BandThresholds{
			Critical: 90,
			High:     45,
			Medium:   15,
		},
	}
}

// Validate ensures the policy is usable and that the status-multiplier
// ordering invariant holds: non_compliant > not_assessed > partial >
// compliant.
func (p Policy) Validate() error {
	for _, status := range []database.ComplianceStatus{
		database.StatusCompliant,
		database.StatusPartial,
		database.StatusNonCompliant,
		database.StatusNotAssessed,
	} {
		multiplier, ok := p.StatusMultipliers[status]
		if !ok {
			return fmt.Errorf("status_multipliers missing %q", status)
		}
		if multiplier < 0 {
			return fmt.Errorf("status_multipliers[%q] must be non-negative, got %v", status, multiplier)
		}
	}

	nc := p.StatusMultipliers[database.StatusNonCompliant]
	na := p.StatusMultipliers[database.StatusNotAssessed]
	pa := p.StatusMultipliers[database.StatusPartial]
	co := p.StatusMultipliers[database.StatusCompliant]
	if !(nc > na && na > pa && pa > co) {
		return fmt.Errorf("status multipliers must satisfy non_compliant > not_assessed > partial > compliant, got %v/%v/%v/%v", nc, na, pa, co)
	}

	if p.StalenessCap < 0 {
		return fmt.Errorf("staleness_cap must be non-negative, got %v", p.StalenessCap)
	}
	if p.StalenessPeriodDays <= 0 {
		return fmt.Errorf("staleness_period_days must be positive, got %v", p.StalenessPeriodDays)
	}
	if p.ExploitedWeight < 0 || p.KnownWeight < 0 || p.TechniqueWeight < 0 {
		return fmt.Errorf("threat weights must be non-negative")
	}
	if p.ThreatCap < 1 {
		return fmt.Errorf("threat_cap must be at least 1.0, got %v", p.ThreatCap)
	}
	if !(p.Bands.Critical > p.Bands.High && p.Bands.High > p.Bands.Medium && p.Bands.Medium > 0) {
		return fmt.Errorf("bands must satisfy critical > high > medium > 0")
	}

	return nil
}

// Inputs are the facts a score is computed from. Deterministic: the same
// inputs always produce the same result.
type Inputs struct {
	Status   database.ComplianceStatus
	Threats  database.ThreatCounts
	Weight   int
	Assessed bool
	// StaleDays is the number of days since the latest assessment.
	// Ignored when Assessed is false; unassessed controls are maximally
	// stale.
	StaleDays int
}

// Result is the breakdown of a computed score.
type Result struct {
	Base      float64
	Staleness float64
	Threat    float64
	Priority  float64
}

// Score computes the risk score breakdown for the given inputs.
func (p Policy) Score(in Inputs) Result {
	base := float64(in.Weight) * p.StatusMultipliers[in.Status]

	staleness := 1 + p.StalenessCap
	if in.Assessed {
		factor := float64(in.StaleDays) / p.StalenessPeriodDays
		staleness = 1 + math.Min(math.Max(factor, 0), p.StalenessCap)
	}

	threat := 1 +
		p.ExploitedWeight*float64(in.Threats.Exploited) +
		p.KnownWeight*float64(in.Threats.Known) +
		p.TechniqueWeight*float64(in.Threats.Technique)
	if threat > p.ThreatCap {
		threat = p.ThreatCap
	}

	return Result{
		Base:      round2(base),
		Staleness: round2(staleness),
		Threat:    round2(threat),
		Priority:  round2(base * staleness * threat),
	}
}

// Band returns the summary band a priority score falls into.
func (p Policy) Band(priority float64) string {
	switch {
	case priority >= p.Bands.Critical:
		return BandCritical
	case priority >= p.Bands.High:
		return BandHigh
	case priority >= p.Bands.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

// StaleDays computes whole days between the latest assessment and now.
func StaleDays(lastAssessed, now time.Time) int {
	if !lastAssessed.Before(now) {
		return 0
	}
	return int(now.Sub(lastAssessed).Hours() / 24)
}

// round2 rounds to two decimals for display stability.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
