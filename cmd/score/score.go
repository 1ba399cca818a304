// Package score implements the score command: single-control calculation,
// full batch recomputes, high-risk listings, and the risk summary.
package score

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/lattice/internal/config"
	"github.com/joshsymonds/lattice/internal/scoring"
	"github.com/joshsymonds/lattice/pkg/logger"
)

var (
	configFile  string
	dbPath      string
	framework   string
	controlID   string
	all         bool
	recalculate bool
	noCache     bool
	threshold   float64
	topN        int
	summaryOnly bool
)

// NewScoreCommand creates the score command.
func NewScoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Calculate and query control risk scores",
		Long: `Calculate risk scores for compliance controls.

Scores blend compliance status, control weight, assessment staleness, and
threat-intelligence signals into a single priority score. Results are
written to the store and cached; the cache only changes latency, never the
answer.`,
		Example: `  # Score a single control
  lattice score --framework NIST-800-53 --control AC-1

  # Recompute every control
  lattice score --all --recalculate

  # List high-risk controls across frameworks
  lattice score --threshold 45 --top 20

  # Show the risk summary
  lattice score --summary`,
		RunE: runScore,
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to database (overrides config)")
	cmd.Flags().StringVar(&framework, "framework", "", "Framework id")
	cmd.Flags().StringVar(&controlID, "control", "", "Control id within the framework")
	cmd.Flags().BoolVar(&all, "all", false, "Batch-score every control")
	cmd.Flags().BoolVar(&recalculate, "recalculate", false, "Rescore controls that already have a current score")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the cache")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "List scores at or above this priority")
	cmd.Flags().IntVar(&topN, "top", 0, "Limit high-risk listing to the top N controls")
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "Show the risk summary")

	return cmd
}

// Run executes the score command with the given arguments.
func Run(args []string) error {
	cmd := NewScoreCommand()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func runScore(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	db, err := cfg.OpenDatabase()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	engine := scoring.NewEngine(db, cfg.BuildCache(), cfg.Scoring,
		scoring.WithTTLs(cfg.Cache.MediumTTL.Std(), cfg.Cache.MediumTTL.Std()),
	)

	// A long batch recompute should stop cleanly on interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case all:
		return runBatch(ctx, engine)
	case summaryOnly:
		return runSummary(ctx, engine)
	case threshold > 0 || topN > 0:
		return runHighRisk(ctx, engine)
	case framework != "" && controlID != "":
		return runSingle(ctx, engine)
	default:
		return fmt.Errorf("specify --framework and --control, --all, --threshold, or --summary")
	}
}

func runSingle(ctx context.Context, engine *scoring.Engine) error {
	score, err := engine.Calculate(ctx, framework, controlID, !noCache)
	if err != nil {
		return err
	}

	//nolint:forbidigo
	fmt.Printf("%s/%s: priority %.2f (base %.2f, threat x%.2f, status %s, stale %dd, threats %d/%d/%d)\n",
		score.FrameworkID, score.ControlID, score.PriorityScore, score.BaseScore,
		score.ThreatScore, score.Status, score.StaleDays,
		score.ExploitedCount, score.KnownCount, score.TechniqueCount)

	return nil
}

func runBatch(ctx context.Context, engine *scoring.Engine) error {
	summary, err := engine.CalculateAll(ctx, scoring.BatchOptions{Recalculate: recalculate})
	if err != nil && summary == nil {
		return err
	}

	//nolint:forbidigo
	fmt.Printf("Run %s: %d updated, %d skipped, %d failed in %s\n",
		summary.RunID, summary.Updated, summary.Skipped, len(summary.Failures), summary.Duration)

	log := logger.WithComponent("score")
	for ref, reason := range summary.Failures {
		log.Warn("control failed to score", "control", ref, "error", reason)
	}

	return err
}

func runHighRisk(ctx context.Context, engine *scoring.Engine) error {
	scores, err := engine.HighRisk(ctx, threshold, !noCache)
	if err != nil {
		return err
	}

	if topN > 0 && len(scores) > topN {
		scores = scores[:topN]
	}

	for _, score := range scores {
		//nolint:forbidigo
		fmt.Printf("%8.2f  %s/%s (%s)\n", score.PriorityScore, score.FrameworkID, score.ControlID, score.Status)
	}

	return nil
}

func runSummary(ctx context.Context, engine *scoring.Engine) error {
	summary, err := engine.GetSummary(ctx, !noCache)
	if err != nil {
		return err
	}

	//nolint:forbidigo
	fmt.Printf("Scored controls: %d, average priority %.2f\n", summary.Count, summary.Average)
	for _, band := range []string{scoring.BandCritical, scoring.BandHigh, scoring.BandMedium, scoring.BandLow} {
		fmt.Printf("  %-8s %d\n", band, summary.Bands[band]) //nolint:forbidigo
	}

	return nil
}
