package scoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/lattice/internal/cache"
	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/pkg/logger"
)

// Engine computes and persists risk scores. Reads go through the cache when
// the caller allows it; writes always land in the store first and only then
// touch the cache (write-then-invalidate).
type Engine struct {
	db     *database.DB
	cache  cache.Cache
	policy Policy
	log    logger.Logger
	now    func() time.Time

	scoreTTL   time.Duration
	summaryTTL time.Duration
	workers    int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log logger.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClock sets the time source. Used by tests; scoring has no wall-clock
// dependence beyond this.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithTTLs sets the cache TTL classes for scores and summaries.
func WithTTLs(score, summary time.Duration) EngineOption {
	return func(e *Engine) {
		e.scoreTTL = score
		e.summaryTTL = summary
	}
}

// WithBatchWorkers sets the parallelism for batch recomputes.
func WithBatchWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine creates a scoring engine. The policy must already be validated.
func NewEngine(db *database.DB, c cache.Cache, policy Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		db:         db,
		cache:      c,
		policy:     policy,
		log:        logger.WithComponent("scoring"),
		now:        time.Now,
		scoreTTL:   time.Hour,
		summaryTTL: time.Hour,
		workers:    4,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.cache == nil {
		e.cache = cache.NewNull()
	}

	return e
}

func scoreKey(frameworkID, controlID string) string {
	return cache.PrefixRiskScore + frameworkID + "/" + controlID
}

// Calculate computes, persists, and returns the risk score for a control.
// With useCache, a fresh cached score is returned without touching the
// store; the cache never changes the answer, only the latency.
func (e *Engine) Calculate(ctx context.Context, frameworkID, controlID string, useCache bool) (*database.RiskScore, error) {
	key := scoreKey(frameworkID, controlID)

	if useCache {
		if data, ok := e.cache.Get(ctx, key); ok {
			var score database.RiskScore
			if err := json.Unmarshal(data, &score); err == nil {
				return &score, nil
			}
			// Corrupt entry: drop it and fall through to the store.
			e.cache.Delete(ctx, key)
		}
	}

	state, err := e.db.GetControlState(ctx, frameworkID, controlID)
	if err != nil {
		return nil, err
	}

	score := e.scoreState(state, sql.NullString{})

	if err := e.db.InsertRiskScore(ctx, score); err != nil {
		return nil, err
	}

	// Store write is durable; now refresh the cache and drop derived
	// aggregates that include this control.
	e.writeThrough(ctx, key, score)
	e.cache.InvalidatePrefix(ctx, cache.PrefixRiskSummary)
	e.cache.InvalidatePrefix(ctx, cache.PrefixHighRisk)

	return score, nil
}

// scoreState computes a RiskScore row from a control's current state.
func (e *Engine) scoreState(state *database.ControlState, runID sql.NullString) *database.RiskScore {
	now := e.now().UTC()

	in := Inputs{
		Status:   state.Status,
		Weight:   state.Weight,
		Threats:  state.Threats,
		Assessed: state.LastAssessed.Valid,
	}
	if state.LastAssessed.Valid {
		in.StaleDays = StaleDays(state.LastAssessed.Time, now)
	}

	result := e.policy.Score(in)

	return &database.RiskScore{
		FrameworkID:    state.FrameworkID,
		ControlID:      state.ControlID,
		CalculatedAt:   now,
		Status:         state.Status,
		BaseScore:      result.Base,
		ThreatScore:    result.Threat,
		PriorityScore:  result.Priority,
		StaleDays:      in.StaleDays,
		ExploitedCount: state.Threats.Exploited,
		KnownCount:     state.Threats.Known,
		TechniqueCount: state.Threats.Technique,
		RunID:          runID,
	}
}

func (e *Engine) writeThrough(ctx context.Context, key string, score *database.RiskScore) {
	data, err := json.Marshal(score)
	if err != nil {
		return
	}
	e.cache.Set(ctx, key, data, e.scoreTTL)
}

// BatchOptions control a CalculateAll run.
type BatchOptions struct {
	// Recalculate forces rescoring of controls that already have a
	// current score. When false, only unscored controls are computed.
	Recalculate bool
}

// BatchSummary reports the outcome of a CalculateAll run. Per-control
// failures are collected here, never thrown as a whole-batch error.
type BatchSummary struct {
	Failures map[string]string
	RunID    string
	Duration time.Duration
	Updated  int
	Skipped  int
}

// CalculateAll recomputes scores for every control. Cancellation is
// cooperative: the context is checked between per-control iterations, so a
// large recompute never starves other callers. A failed control does not
// abort the batch.
func (e *Engine) CalculateAll(ctx context.Context, opts BatchOptions) (*BatchSummary, error) {
	start := e.now()
	runID := uuid.New().String()

	summary := &BatchSummary{
		RunID:    runID,
		Failures: make(map[string]string),
	}

	states, err := e.db.ListControlStates(ctx, "")
	if err != nil {
		return nil, err
	}

	scored := make(map[string]bool)
	if !opts.Recalculate {
		existing, err := e.db.ListLatestScores(ctx, database.ScoreFilter{})
		if err != nil {
			return nil, err
		}
		for _, score := range existing {
			scored[score.FrameworkID+"/"+score.ControlID] = true
		}
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workers)

	for _, state := range states {
		state := state
		ref := state.FrameworkID + "/" + state.ControlID
		if scored[ref] {
			summary.Skipped++
			continue
		}

		// Cooperative cancellation between iterations.
		if err := groupCtx.Err(); err != nil {
			break
		}

		group.Go(func() error {
			score := e.scoreState(state, sql.NullString{String: runID, Valid: true})

			if err := e.db.InsertRiskScore(groupCtx, score); err != nil {
				mu.Lock()
				summary.Failures[ref] = err.Error()
				mu.Unlock()
				return nil
			}

			// Per-control invalidation happens after this control's
			// write is durable.
			e.writeThrough(groupCtx, scoreKey(state.FrameworkID, state.ControlID), score)

			mu.Lock()
			summary.Updated++
			mu.Unlock()
			return nil
		})
	}

	_ = group.Wait()

	// Aggregates are stale once any control changed.
	e.cache.InvalidatePrefix(ctx, cache.PrefixRiskSummary)
	e.cache.InvalidatePrefix(ctx, cache.PrefixHighRisk)

	summary.Duration = e.now().Sub(start)

	e.log.Info("batch risk calculation finished",
		"run_id", runID,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"failed", len(summary.Failures),
		"duration", summary.Duration,
	)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// HighRisk returns the latest scores at or above the threshold, ordered by
// priority descending with control id ascending as the tiebreak.
func (e *Engine) HighRisk(ctx context.Context, threshold float64, useCache bool) ([]*database.RiskScore, error) {
	key := fmt.Sprintf("%s%.2f", cache.PrefixHighRisk, threshold)

	if useCache {
		if data, ok := e.cache.Get(ctx, key); ok {
			var scores []*database.RiskScore
			if err := json.Unmarshal(data, &scores); err == nil {
				return scores, nil
			}
			e.cache.Delete(ctx, key)
		}
	}

	scores, err := e.db.ListLatestScores(ctx, database.ScoreFilter{MinPriority: &threshold})
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(scores); err == nil {
		e.cache.Set(ctx, key, data, e.summaryTTL)
	}

	return scores, nil
}

// Summary aggregates the latest scores into an average and band counts.
type Summary struct {
	Bands   map[string]int
	Average float64
	Count   int
}

// GetSummary returns the risk summary across all scored controls.
func (e *Engine) GetSummary(ctx context.Context, useCache bool) (*Summary, error) {
	key := cache.PrefixRiskSummary + "all"

	if useCache {
		if data, ok := e.cache.Get(ctx, key); ok {
			var summary Summary
			if err := json.Unmarshal(data, &summary); err == nil {
				return &summary, nil
			}
			e.cache.Delete(ctx, key)
		}
	}

	scores, err := e.db.ListLatestScores(ctx, database.ScoreFilter{})
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Bands: map[string]int{
			BandCritical: 0,
			BandHigh:     0,
			BandMedium:   0,
			BandLow:      0,
		},
	}

	var total float64
	for _, score := range scores {
		total += score.PriorityScore
		summary.Bands[e.policy.Band(score.PriorityScore)]++
	}

	summary.Count = len(scores)
	if summary.Count > 0 {
		summary.Average = round2(total / float64(summary.Count))
	}

	if data, err := json.Marshal(summary); err == nil {
		e.cache.Set(ctx, key, data, e.summaryTTL)
	}

	return summary, nil
}

// Policy returns the engine's scoring policy.
func (e *Engine) Policy() Policy {
	return e.policy
}
