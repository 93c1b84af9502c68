package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/ingest"
	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay manager units that failed to ingest",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(ctx, dlqFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-ingest due dead letter entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		// Replay drives the bare sink; a failure reschedules the entry
		// instead of enqueueing a duplicate.
		sink := ingest.NewSink(st, cfg.Ingest.BatchSize, metrics.New())
		res, err := ingest.Replay(ctx, st, sink, dlqFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "dlq replay")
		}

		zap.L().Info("dlq replay complete", zap.Int("replayed", res.Replayed), zap.Int("failed", res.Failed))
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqReplayCmd} {
		c.Flags().String("period", "", "filter by period (YYYYMM)")
		c.Flags().String("error-type", "", "filter by error type (transient, permanent)")
		c.Flags().Int("limit", 100, "max number of entries")
	}
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}

func dlqFilterFromFlags(cmd *cobra.Command) resilience.DLQFilter {
	period, _ := cmd.Flags().GetString("period")
	errType, _ := cmd.Flags().GetString("error-type")
	limit, _ := cmd.Flags().GetInt("limit")
	return resilience.DLQFilter{Period: period, ErrorType: errType, Limit: limit}
}

// formatDLQList writes a tabular list of dead letter entries to w.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPERIOD\tMANAGER\tTYPE\tRETRIES\tNEXT_RETRY\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t----\t-------\t----------\t-----")

	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			e.Period,
			e.Unit.Name(),
			e.ErrorType,
			e.RetryCount,
			e.MaxRetries,
			e.NextRetryAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}
