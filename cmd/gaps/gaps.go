// Package gaps implements the gaps command: controls with no mapping into
// another framework, and the consolidated cross-framework gap list.
package gaps

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/joshsymonds/lattice/internal/analytics"
	"github.com/joshsymonds/lattice/internal/config"
	"github.com/joshsymonds/lattice/internal/mapper"
	"github.com/joshsymonds/lattice/internal/scoring"
)

// Run executes the gaps command.
func Run(args []string) error {
	flags := flag.NewFlagSet("gaps", flag.ExitOnError)
	configFile := flags.String("config", "", "Path to config file")
	dbPath := flags.String("db", "", "Path to database (overrides config)")
	from := flags.String("from", "", "Source framework id")
	to := flags.String("to", "", "Target framework id")
	orderBy := flags.String("order", "weight", "Gap ordering (weight or control_id)")
	allPairs := flags.Bool("all", false, "Consolidated gaps across every framework pair")

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
	m := mapper.New(db)

	if *allPairs {
		engine := scoring.NewEngine(db, cfg.BuildCache(), cfg.Scoring)
		a := analytics.New(db, engine, m, cfg.Inheritance)

		consolidated, err := a.GapsAcrossFrameworks(ctx)
		if err != nil {
			return err
		}

		for _, gap := range consolidated {
			//nolint:forbidigo
			fmt.Printf("w%-2d %s/%s missing from: %s\n",
				gap.Weight, gap.FrameworkID, gap.ControlID, strings.Join(gap.MissingFrom, ", "))
		}
		return nil
	}

	if *from == "" || *to == "" {
		return fmt.Errorf("both --from and --to are required (or use --all)")
	}

	controls, err := m.FindGaps(ctx, *from, *to, mapper.GapOrder(*orderBy))
	if err != nil {
		return err
	}

	//nolint:forbidigo
	fmt.Printf("%d controls in %s with no mapping into %s:\n", len(controls), *from, *to)
	for _, control := range controls {
		fmt.Printf("  w%-2d %s  %s\n", control.Weight, control.ControlID, control.Name) //nolint:forbidigo
	}

	return nil
}
