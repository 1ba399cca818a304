package scoring

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/lattice/internal/cache"
	"github.com/joshsymonds/lattice/internal/database"
)

var engineNow = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

// newEngineFixture seeds a store with one framework and two controls:
// AC-1 is non-compliant with threat associations, AC-2 is compliant and
// quiet.
func newEngineFixture(t *testing.T, c cache.Cache) (*Engine, *database.DB) {
	t.Helper()

	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx := context.Background()

	require.NoError(t, db.CreateFramework(ctx, &database.Framework{ID: "FW", Name: "Test Framework", Version: "1.0"}))
	require.NoError(t, db.BatchInsertControls(ctx, []*database.Control{
		{FrameworkID: "FW", ControlID: "AC-1", Name: "Access Control Policy", Family: "AC", Weight: 8},
		{FrameworkID: "FW", ControlID: "AC-2", Name: "Account Management", Family: "AC", Weight: 4},
	}))
	require.NoError(t, db.BatchInsertAssessments(ctx, []*database.Assessment{
		{FrameworkID: "FW", ControlID: "AC-1", AssessmentDate: engineNow.Truncate(24 * time.Hour), Status: database.StatusNonCompliant},
		{FrameworkID: "FW", ControlID: "AC-2", AssessmentDate: engineNow.Truncate(24 * time.Hour), Status: database.StatusCompliant},
	}))
	require.NoError(t, db.BatchInsertThreatMappings(ctx, []*database.ThreatMapping{
		{FrameworkID: "FW", ControlID: "AC-1", ThreatID: "CVE-2026-0001", Kind: database.ThreatExploited, Confidence: 1.0},
		{FrameworkID: "FW", ControlID: "AC-1", ThreatID: "CVE-2026-0002", Kind: database.ThreatExploited, Confidence: 0.9},
		{FrameworkID: "FW", ControlID: "AC-1", ThreatID: "T1190", Kind: database.ThreatTechnique, Confidence: 0.8},
	}))

	// Single batch worker keeps in-memory SQLite happy with concurrent
	// writes.
	engine := NewEngine(db, c, DefaultPolicy(),
		WithClock(func() time.Time { return engineNow }),
		WithBatchWorkers(1),
	)
	return engine, db
}

func TestCalculate(t *testing.T) {
	engine, db := newEngineFixture(t, cache.NewMemory())
	ctx := context.Background()

	score, err := engine.Calculate(ctx, "FW", "AC-1", false)
	require.NoError(t, err)

	// weight 8 x 3.0, fresh assessment, threat 1 + 2x0.5 + 0.2
	assert.InDelta(t, 24.0, score.BaseScore, 1e-9)
	assert.InDelta(t, 2.2, score.ThreatScore, 1e-9)
	assert.InDelta(t, 52.8, score.PriorityScore, 1e-9)
	assert.Equal(t, database.StatusNonCompliant, score.Status)
	assert.Equal(t, 2, score.ExploitedCount)
	assert.Equal(t, 0, score.KnownCount)
	assert.Equal(t, 1, score.TechniqueCount)

	// The calculation is persisted, not just returned
	persisted, err := db.GetLatestScore(ctx, "FW", "AC-1")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.InDelta(t, 52.8, persisted.PriorityScore, 1e-9)
}

func TestCalculateUnknownControl(t *testing.T) {
	engine, _ := newEngineFixture(t, cache.NewMemory())

	_, err := engine.Calculate(context.Background(), "FW", "missing", false)
	assert.ErrorIs(t, err, database.ErrUnknownControl)
}

func TestCalculateCacheTransparency(t *testing.T) {
	engine, db := newEngineFixture(t, cache.NewMemory())
	ctx := context.Background()

	first, err := engine.Calculate(ctx, "FW", "AC-1", true)
	require.NoError(t, err)

	// A cached read returns the same answer without writing a new score
	cached, err := engine.Calculate(ctx, "FW", "AC-1", true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, cached.ID)
	assert.InDelta(t, first.PriorityScore, cached.PriorityScore, 1e-9)

	latest, err := db.GetLatestScore(ctx, "FW", "AC-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID, "cached read must not append a new calculation")

	// Bypassing the cache recomputes and persists, with the same result
	fresh, err := engine.Calculate(ctx, "FW", "AC-1", false)
	require.NoError(t, err)
	assert.Greater(t, fresh.ID, first.ID)
	assert.InDelta(t, first.PriorityScore, fresh.PriorityScore, 1e-9,
		"the cache only changes latency, never the answer")
}

func TestCalculateNilCacheDegradation(t *testing.T) {
	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx := context.Background()
	require.NoError(t, db.CreateFramework(ctx, &database.Framework{ID: "FW", Name: "Test", Version: "1.0"}))
	require.NoError(t, db.BatchInsertControls(ctx, []*database.Control{
		{FrameworkID: "FW", ControlID: "AC-1", Name: "a", Weight: 5},
	}))

	engine := NewEngine(db, nil, DefaultPolicy())

	score, err := engine.Calculate(ctx, "FW", "AC-1", true)
	require.NoError(t, err)
	assert.Equal(t, database.StatusNotAssessed, score.Status)
}

func TestCalculateAll(t *testing.T) {
	engine, _ := newEngineFixture(t, cache.NewMemory())
	ctx := context.Background()

	summary, err := engine.CalculateAll(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, summary.Failures)
	assert.NotEmpty(t, summary.RunID)

	// A second run without Recalculate skips already-scored controls
	second, err := engine.CalculateAll(ctx, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Skipped)

	// Recalculate rescoring everything gets a new run id
	third, err := engine.CalculateAll(ctx, BatchOptions{Recalculate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, third.Updated)
	assert.NotEqual(t, summary.RunID, third.RunID)
}

func TestCalculateAllIdempotent(t *testing.T) {
	engine, db := newEngineFixture(t, cache.NewMemory())
	ctx := context.Background()

	_, err := engine.CalculateAll(ctx, BatchOptions{Recalculate: true})
	require.NoError(t, err)
	first, err := db.ListLatestScores(ctx, database.ScoreFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// With a fixed clock and no new assessments, rescoring must reproduce
	// every score exactly
	_, err = engine.CalculateAll(ctx, BatchOptions{Recalculate: true})
	require.NoError(t, err)
	second, err := db.ListLatestScores(ctx, database.ScoreFilter{})
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i, before := range first {
		after := second[i]
		assert.Equal(t, before.ControlID, after.ControlID)
		assert.Equal(t, before.Status, after.Status)
		assert.Equal(t, before.StaleDays, after.StaleDays)
		assert.InDelta(t, before.BaseScore, after.BaseScore, 1e-9)
		assert.InDelta(t, before.ThreatScore, after.ThreatScore, 1e-9)
		assert.InDelta(t, before.PriorityScore, after.PriorityScore, 1e-9)
	}
}

func TestHighRiskDuringBatch(t *testing.T) {
	// File-backed store: WAL lets readers run concurrently with the batch
	// writers.
	db, err := database.New(filepath.Join(t.TempDir(), "scores.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	ctx := context.Background()
	require.NoError(t, db.CreateFramework(ctx, &database.Framework{ID: "FW", Name: "Test Framework", Version: "1.0"}))

	var controls []*database.Control
	var assessments []*database.Assessment
	for i := 1; i <= 40; i++ {
		id := fmt.Sprintf("AC-%02d", i)
		controls = append(controls, &database.Control{
			FrameworkID: "FW", ControlID: id, Name: id, Weight: (i % 10) + 1,
		})
		assessments = append(assessments, &database.Assessment{
			FrameworkID: "FW", ControlID: id,
			AssessmentDate: engineNow.AddDate(0, 0, -i),
			Status:         database.StatusNonCompliant,
		})
	}
	require.NoError(t, db.BatchInsertControls(ctx, controls))
	require.NoError(t, db.BatchInsertAssessments(ctx, assessments))

	baseline := NewEngine(db, cache.NewMemory(), DefaultPolicy(),
		WithClock(func() time.Time { return engineNow }),
	)
	_, err = baseline.CalculateAll(ctx, BatchOptions{Recalculate: true})
	require.NoError(t, err)

	before, err := db.ListLatestScores(ctx, database.ScoreFilter{})
	require.NoError(t, err)
	old := make(map[string]float64, len(before))
	for _, score := range before {
		old[score.ControlID] = score.PriorityScore
	}

	// Rescore a year later while readers hammer the high-risk view
	later := engineNow.AddDate(1, 0, 0)
	rescorer := NewEngine(db, cache.NewMemory(), DefaultPolicy(),
		WithClock(func() time.Time { return later }),
		WithBatchWorkers(2),
	)

	type observation struct {
		control  string
		priority float64
	}

	var (
		mu       sync.Mutex
		seen     []observation
		readErr  error
		wg       sync.WaitGroup
		stopRead = make(chan struct{})
	)

	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopRead:
					return
				default:
				}

				scores, err := rescorer.HighRisk(ctx, 0, false)
				mu.Lock()
				if err != nil && readErr == nil {
					readErr = err
				}
				for _, score := range scores {
					seen = append(seen, observation{score.ControlID, score.PriorityScore})
				}
				mu.Unlock()
			}
		}()
	}

	_, err = rescorer.CalculateAll(ctx, BatchOptions{Recalculate: true})
	close(stopRead)
	wg.Wait()
	require.NoError(t, err)
	require.NoError(t, readErr)

	after, err := db.ListLatestScores(ctx, database.ScoreFilter{})
	require.NoError(t, err)
	updated := make(map[string]float64, len(after))
	for _, score := range after {
		updated[score.ControlID] = score.PriorityScore
	}

	// Every read mid-batch saw either the pre-batch or the post-batch
	// value for a control, never anything in between
	for _, obs := range seen {
		assert.True(t, obs.priority == old[obs.control] || obs.priority == updated[obs.control],
			"control %s: observed %v, want %v or %v", obs.control, obs.priority, old[obs.control], updated[obs.control])
	}
}

func TestHighRisk(t *testing.T) {
	engine, _ := newEngineFixture(t, cache.NewMemory())
	ctx := context.Background()

	_, err := engine.CalculateAll(ctx, BatchOptions{})
	require.NoError(t, err)

	high, err := engine.HighRisk(ctx, 45.0, false)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "AC-1", high[0].ControlID)
	assert.InDelta(t, 52.8, high[0].PriorityScore, 1e-9)

	all, err := engine.HighRisk(ctx, 0, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetSummary(t *testing.T) {
	engine, _ := newEngineFixture(t, cache.NewMemory())
	ctx := context.Background()

	_, err := engine.CalculateAll(ctx, BatchOptions{})
	require.NoError(t, err)

	summary, err := engine.GetSummary(ctx, false)
	require.NoError(t, err)

	// AC-1 scores 52.8 (high), AC-2 scores 0.4 (low)
	assert.Equal(t, 2, summary.Count)
	assert.Equal(t, 1, summary.Bands[BandHigh])
	assert.Equal(t, 1, summary.Bands[BandLow])
	assert.Equal(t, 0, summary.Bands[BandCritical])
	assert.InDelta(t, 26.6, summary.Average, 1e-9)
}

func TestBatchSummaryInvalidatesAggregates(t *testing.T) {
	mem := cache.NewMemory()
	engine, _ := newEngineFixture(t, mem)
	ctx := context.Background()

	_, err := engine.CalculateAll(ctx, BatchOptions{})
	require.NoError(t, err)

	// Prime the summary cache, then force a recompute
	_, err = engine.GetSummary(ctx, true)
	require.NoError(t, err)
	_, ok := mem.Get(ctx, cache.PrefixRiskSummary+"all")
	require.True(t, ok)

	_, err = engine.CalculateAll(ctx, BatchOptions{Recalculate: true})
	require.NoError(t, err)

	_, ok = mem.Get(ctx, cache.PrefixRiskSummary+"all")
	assert.False(t, ok, "batch writes must invalidate derived aggregates")
}
