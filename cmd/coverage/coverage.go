// Package coverage implements the coverage command: mapping coverage
// percentages between two frameworks.
package coverage

import (
	"context"
	"flag"
	"fmt"

	"github.com/joshsymonds/lattice/internal/config"
	"github.com/joshsymonds/lattice/internal/mapper"
)

// Run executes the coverage command.
func Run(args []string) error {
	flags := flag.NewFlagSet("coverage", flag.ExitOnError)
	configFile := flags.String("config", "", "Path to config file")
	dbPath := flags.String("db", "", "Path to database (overrides config)")
	from := flags.String("from", "", "First framework id")
	to := flags.String("to", "", "Second framework id")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *from == "" || *to == "" {
		return fmt.Errorf("both --from and --to are required")
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

	m := mapper.New(db, mapper.WithCache(cfg.BuildCache()))
	coverage, err := m.GetCoverage(context.Background(), *from, *to)
	if err != nil {
		return err
	}

	//nolint:forbidigo
	fmt.Printf("%s -> %s: %.1f%%\n%s -> %s: %.1f%%\n",
		*from, *to, coverage.AToB,
		*to, *from, coverage.BToA)

	stats, err := m.Statistics(context.Background())
	if err != nil {
		return err
	}

	//nolint:forbidigo
	fmt.Printf("Graph: %d mappings, average strength %.2f\n", stats.TotalMappings, stats.AverageStrength)

	return nil
}
