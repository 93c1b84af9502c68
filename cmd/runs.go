package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect ingest run history",
	Long:  "Commands for listing and summarizing scrape runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ingest runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		period, _ := cmd.Flags().GetString("period")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Period: period,
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs, time.Now())
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		period, _ := cmd.Flags().GetString("period")
		runs, err := st.ListRuns(ctx, store.RunFilter{Period: period, Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("period", "", "filter by period (YYYYMM)")
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().String("period", "", "restrict stats to one period (YYYYMM)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Running     int
	AvgAttempts float64
	AvgDurSecs  float64

	// Coverage holds the newest complete run of each period, newest period
	// first.
	Coverage []model.Run
}

// computeRunStats computes aggregate statistics from a list of runs.
func computeRunStats(runs []model.Run) runStats {
	var s runStats
	s.Total = len(runs)

	var (
		totalDur  time.Duration
		durCount  int
		attempts  int
		finishedN int
		latest    = make(map[string]model.Run)
	)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusFailed:
			s.Failed++
		case model.RunStatusRunning:
			s.Running++
		}
		if r.FinishedAt != nil {
			finishedN++
			attempts += r.Attempts
			if r.Status == model.RunStatusComplete {
				totalDur += r.FinishedAt.Sub(r.StartedAt)
				durCount++
				if prev, ok := latest[r.Period]; !ok || r.FinishedAt.After(*prev.FinishedAt) {
					latest[r.Period] = r
				}
			}
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	if finishedN > 0 {
		s.AvgAttempts = float64(attempts) / float64(finishedN)
	}
	for _, r := range latest {
		s.Coverage = append(s.Coverage, r)
	}
	slices.SortFunc(s.Coverage, func(a, b model.Run) int {
		return strings.Compare(b.Period, a.Period)
	})
	return s
}

// formatRunsList writes a tabular list of runs to w. Unfinished runs show
// their age as of now.
func formatRunsList(out io.Writer, runs []model.Run, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPERIOD\tSTATUS\tATTEMPTS\tMANAGERS\tCREATORS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t--------\t--------\t--------\t-------\t--------")

	for _, r := range runs {
		end := now
		if r.FinishedAt != nil {
			end = *r.FinishedAt
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Period,
			r.Status,
			r.Attempts,
			r.Managers,
			r.Creators,
			r.StartedAt.Format("2006-01-02 15:04"),
			end.Sub(r.StartedAt).Round(time.Second),
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running:\t%d\n", s.Running)
	if s.AvgAttempts > 0 {
		_, _ = fmt.Fprintf(w, "Avg attempts:\t%.1f\n", s.AvgAttempts)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	if len(s.Coverage) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "PERIOD\tMANAGERS\tCREATORS\tFINISHED")
		for _, r := range s.Coverage {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n",
				r.Period, r.Managers, r.Creators, r.FinishedAt.Format("2006-01-02 15:04"))
		}
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
