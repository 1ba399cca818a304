// Package status implements the status command: per-framework compliance
// percentages and inherited-compliance views.
package status

import (
	"context"
	"flag"
	"fmt"

	"github.com/joshsymonds/lattice/internal/analytics"
	"github.com/joshsymonds/lattice/internal/config"
	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/internal/mapper"
	"github.com/joshsymonds/lattice/internal/scoring"
)

// Run executes the status command.
func Run(args []string) error {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	configFile := flags.String("config", "", "Path to config file")
	dbPath := flags.String("db", "", "Path to database (overrides config)")
	inherited := flags.String("inherited", "", "Show inherited compliance for this framework")

	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	db, err := cfg.OpenDatabase()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := context.Background()
	engine := scoring.NewEngine(db, cfg.BuildCache(), cfg.Scoring)
	a := analytics.New(db, engine, mapper.New(db), cfg.Inheritance)

	if *inherited != "" {
		return showInherited(ctx, a, *inherited)
	}

	statuses, err := a.UnifiedComplianceStatus(ctx)
	if err != nil {
		return err
	}

	for _, fs := range statuses {
		//nolint:forbidigo
		fmt.Printf("%-16s %5.1f%%  (%d controls: %d compliant, %d partial, %d non-compliant, %d not assessed)\n",
			fs.FrameworkID, fs.CompliancePct, fs.TotalControls,
			fs.CountByStatus[database.StatusCompliant],
			fs.CountByStatus[database.StatusPartial],
			fs.CountByStatus[database.StatusNonCompliant],
			fs.CountByStatus[database.StatusNotAssessed])
	}

	return nil
}

func showInherited(ctx context.Context, a *analytics.Analytics, framework string) error {
	controls, err := a.InheritedCompliance(ctx, framework)
	if err != nil {
		return err
	}

	for _, control := range controls {
		if control.InheritedCredit == 0 {
			continue
		}
		//nolint:forbidigo
		fmt.Printf("%s: direct %.2f (%s) + inherited %.2f -> effective %.2f\n",
			control.ControlID, control.DirectValue, control.DirectStatus,
			control.InheritedCredit, control.EffectiveValue)
	}

	return nil
}
