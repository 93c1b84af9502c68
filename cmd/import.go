package main

import (
	"context"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djesaja/backstage-ingest/internal/ingest"
	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Ingest saved manager units from JSON dumps",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		files, _ := cmd.Flags().GetStringSlice("file")
		month, _ := cmd.Flags().GetString("month")
		if len(files) == 0 {
			return eris.New("import: at least one --file is required")
		}
		period, err := resolvePeriod(month)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		sink := ingest.NewSink(st, cfg.Ingest.BatchSize, m)
		in := ingest.NewDeadLetterSink(sink, st, cfg.Ingest.DLQMaxRetries, m)

		total, err := importFiles(ctx, in, files, period, cfg.Ingest.ImportWorkers)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("period", period),
			zap.Int("files", len(files)),
			zap.Int("managers", total.Managers),
			zap.Int("creators", total.Creators),
			zap.Int("skipped", total.Skipped),
			zap.Int("skipped_managers", total.SkippedManagers),
		)
		if total.SkippedManagers > 0 && total.Managers == 0 {
			return eris.Errorf("import: none of %d managers could be identified", total.SkippedManagers)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringSlice("file", nil, "manager unit dump (JSON array, native or legacy scraper format), repeatable")
	importCmd.Flags().String("month", "", "period the dump belongs to as YYYYMM (default: current month)")
	rootCmd.AddCommand(importCmd)
}

// importTotals aggregates ingest stats across files.
type importTotals struct {
	Managers        int
	Creators        int
	Skipped         int
	SkippedManagers int
}

// importFiles ingests each dump on its own goroutine, at most workers at a
// time. The first read or ingest error cancels the rest.
func importFiles(ctx context.Context, in ingest.Ingester, files []string, period string, workers int) (importTotals, error) {
	var (
		mu    sync.Mutex
		total importTotals
	)

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, path := range files {
		g.Go(func() error {
			units, err := readDump(path)
			if err != nil {
				return err
			}
			for _, u := range units {
				stats, err := in.Ingest(gctx, u, period)
				if err != nil {
					return eris.Wrapf(err, "import: ingest %q from %s", u.Name(), path)
				}
				mu.Lock()
				if stats.ManagerSkipped {
					total.SkippedManagers++
				} else {
					total.Managers++
				}
				total.Creators += stats.Creators
				total.Skipped += stats.Skipped
				mu.Unlock()
			}
			zap.L().Debug("dump ingested", zap.String("file", path), zap.Int("managers", len(units)))
			return nil
		})
	}
	err := g.Wait()
	return total, err
}

// readDump decodes a JSON array of manager units in either dump format.
func readDump(path string) ([]model.ManagerUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "import: read %s", path)
	}
	units, err := ingest.DecodeDump(data)
	if err != nil {
		return nil, eris.Wrapf(err, "import: decode %s", path)
	}
	return units, nil
}
