// Package load implements the load command: bulk-loading framework bundles
// and cross-framework mapping files into the store.
package load

import (
	"context"
	"flag"
	"fmt"

	"github.com/joshsymonds/lattice/internal/cache"
	"github.com/joshsymonds/lattice/internal/config"
	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/internal/ingest"
	"github.com/joshsymonds/lattice/internal/mapper"
	"github.com/joshsymonds/lattice/pkg/logger"
)

// Run executes the load command.
func Run(args []string) error {
	flags := flag.NewFlagSet("load", flag.ExitOnError)
	configFile := flags.String("config", "", "Path to config file")
	dbPath := flags.String("db", "", "Path to database (overrides config)")
	bundleFile := flags.String("bundle", "", "Framework bundle YAML to load")
	mappingFile := flags.String("mappings", "", "Cross-framework mapping YAML to load")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *bundleFile == "" && *mappingFile == "" {
		return fmt.Errorf("nothing to load: provide --bundle and/or --mappings")
	}

	cfg, err := loadConfig(*configFile, *dbPath)
	if err != nil {
		return err
	}

	db, err := cfg.OpenDatabase()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := context.Background()
	c := cfg.BuildCache()

	if *bundleFile != "" {
		loader := ingest.NewLoader(db, ingest.WithCache(c))
		summary, err := loader.LoadFile(ctx, *bundleFile)
		if err != nil {
			return fmt.Errorf("loading bundle: %w", err)
		}
		fmt.Printf("Loaded %s: %d controls, %d assessments, %d threat mappings\n", //nolint:forbidigo
			summary.Framework, summary.Controls, summary.Assessments, summary.ThreatMappings)
	}

	if *mappingFile != "" {
		if err := loadMappings(ctx, db, c, *mappingFile); err != nil {
			return err
		}
	}

	return nil
}

func loadConfig(configFile, dbPath string) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

func loadMappings(ctx context.Context, db *database.DB, c cache.Cache, path string) error {
	bundle, err := ingest.ParseMappingFile(path)
	if err != nil {
		return err
	}

	m := mapper.New(db, mapper.WithCache(c))
	log := logger.WithComponent("load")

	added := 0
	for _, doc := range bundle.Mappings {
		mapping := &database.ControlMapping{
			SourceFramework: doc.SourceFramework,
			SourceControl:   doc.SourceControl,
			TargetFramework: doc.TargetFramework,
			TargetControl:   doc.TargetControl,
			Type:            database.MappingType(doc.Type),
			Strength:        doc.Strength,
			Rationale:       doc.Rationale,
		}

		if err := m.AddMapping(ctx, mapping); err != nil {
			log.Warn("skipping mapping",
				"source", doc.SourceFramework+"/"+doc.SourceControl,
				"target", doc.TargetFramework+"/"+doc.TargetControl,
				"error", err,
			)
			continue
		}
		added++
	}

	fmt.Printf("Loaded %d of %d mappings\n", added, len(bundle.Mappings)) //nolint:forbidigo
	return nil
}
