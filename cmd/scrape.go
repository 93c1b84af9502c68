package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/browser"
	"github.com/djesaja/backstage-ingest/internal/config"
	"github.com/djesaja/backstage-ingest/internal/crawler"
	"github.com/djesaja/backstage-ingest/internal/grid"
	"github.com/djesaja/backstage-ingest/internal/ingest"
	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/store"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Crawl the dashboard and ingest the period",
	Long:  "Opens the by-manager task view for a month, reads every manager and its creators, and upserts them as they are read. Exits non-zero only when every crawl attempt fails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		month, _ := cmd.Flags().GetString("month")
		limit, _ := cmd.Flags().GetInt("limit")
		previous, _ := cmd.Flags().GetBool("previous")
		if previous {
			if month != "" {
				return eris.New("scrape: --month and --previous are mutually exclusive")
			}
			month = previousPeriod(time.Now())
		}
		period, err := resolvePeriod(month)
		if err != nil {
			return err
		}

		layout, err := loadLayout(cfg.Scrape.LayoutPath)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m := metrics.New()
		factory := browser.NewFactory(cfg.Browser, cfg.Scrape, period)
		summary, runErr := runScrape(ctx, st, factory, m, cfg, layout, period, limit)

		if err := writeSummary(os.Stdout, summary); err != nil {
			zap.L().Warn("write summary failed", zap.Error(err))
		}
		if err := m.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, period); err != nil {
			zap.L().Warn("push metrics failed", zap.Error(err))
		}
		return runErr
	},
}

func init() {
	scrapeCmd.Flags().String("month", "", "period to scrape as YYYYMM (default: current month)")
	scrapeCmd.Flags().Bool("previous", false, "scrape the month before the current one")
	scrapeCmd.Flags().Int("limit", 0, "stop after this many managers (0 = all)")
	rootCmd.AddCommand(scrapeCmd)
}

// scrapeSummary is printed as JSON when a scrape finishes.
type scrapeSummary struct {
	RunID    string          `json:"run_id,omitempty"`
	Period   string          `json:"period"`
	Status   model.RunStatus `json:"status"`
	Attempts int             `json:"attempts"`
	Managers int             `json:"managers"`
	Creators int             `json:"creators"`
	Ingested int             `json:"creators_ingested"`
	Skipped  int             `json:"creators_skipped"`
	Partial  bool            `json:"partial,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// runScrape records an ingest run, crawls with retries and streams every
// manager unit into the sink. Sink failures are parked in the dead letter
// queue and never fail the run.
func runScrape(ctx context.Context, st store.Store, factory crawler.SessionFactory, m *metrics.Metrics, c *config.Config, layout *grid.Layout, period string, limit int) (scrapeSummary, error) {
	log := zap.L().With(zap.String("component", "scrape"), zap.String("period", period))
	summary := scrapeSummary{Period: period}

	ttl := time.Duration(c.Scrape.LockTTLMinutes) * time.Minute
	active, err := st.ActiveRun(ctx, period, time.Now().Add(-ttl))
	if err != nil {
		return summary, eris.Wrap(err, "scrape: check active run")
	}
	if active != nil {
		summary.Status = active.Status
		summary.RunID = active.ID
		return summary, eris.Errorf("scrape: run %s for %s in progress since %s",
			active.ID, period, active.StartedAt.Format(time.RFC3339))
	}

	run, err := st.CreateRun(ctx, period)
	if err != nil {
		return summary, eris.Wrap(err, "scrape: create run")
	}
	summary.RunID = run.ID
	log = log.With(zap.String("run_id", run.ID))

	sink := ingest.NewSink(st, c.Ingest.BatchSize, m)
	in := ingest.NewDeadLetterSink(sink, st, c.Ingest.DLQMaxRetries, m)
	emit := func(ctx context.Context, unit model.ManagerUnit) error {
		stats, err := in.Ingest(ctx, unit, period)
		summary.Ingested += stats.Creators
		summary.Skipped += stats.Skipped
		return err
	}

	ctrl := crawler.NewController(factory, newCrawler(c, layout, limit, m),
		c.Retry.MaxAttempts, time.Duration(c.Retry.BackoffSecs)*time.Second, m)
	res, crawlErr := ctrl.Run(ctx, emit)

	summary.Attempts = res.Attempts
	summary.Managers = res.Managers
	summary.Creators = res.Creators
	summary.Partial = res.Partial
	summary.Status = model.RunStatusComplete
	if crawlErr != nil {
		summary.Status = model.RunStatusFailed
		summary.Error = crawlErr.Error()
	}

	result := model.RunResult{
		Attempts: res.Attempts,
		Managers: res.Managers,
		Creators: res.Creators,
		Error:    summary.Error,
	}
	if err := st.FinishRun(context.WithoutCancel(ctx), run.ID, summary.Status, result); err != nil {
		log.Error("finish run failed", zap.Error(err))
	}

	if crawlErr != nil {
		if errors.Is(crawlErr, crawler.ErrRetriesExhausted) {
			log.Error("scrape failed", zap.Int("attempts", res.Attempts), zap.Error(crawlErr))
		}
		return summary, crawlErr
	}

	m.Success(time.Now())
	log.Info("scrape complete",
		zap.Int("attempts", res.Attempts),
		zap.Int("managers", res.Managers),
		zap.Int("creators", res.Creators),
		zap.Bool("partial", res.Partial),
	)
	return summary, nil
}

func pacingSpan(d config.DelaySpan) crawler.Span {
	return crawler.Span{Min: config.Ms(d.MinMs), Max: config.Ms(d.MaxMs)}
}

func newCrawler(c *config.Config, layout *grid.Layout, limit int, m *metrics.Metrics) *crawler.Crawler {
	s := c.Scrape
	pacer := crawler.NewPacer(s.Pacing.ActionsPerSec, map[crawler.Action]crawler.Span{
		crawler.ActionRow:   pacingSpan(s.Pacing.Row),
		crawler.ActionClick: pacingSpan(s.Pacing.Click),
		crawler.ActionPage:  pacingSpan(s.Pacing.Page),
	})
	return crawler.New(crawler.Options{
		Layout:        layout,
		CellTimeout:   config.Ms(s.CellTimeoutMs),
		ModalTimeout:  config.Ms(s.ModalTimeoutMs),
		EnrichTimeout: config.Ms(s.EnrichTimeoutMs),
		ProfileMarker: s.ProfileMarker,
		YieldEvery:    s.YieldEvery,
		Yield:         config.Ms(s.YieldMs),
		Limit:         limit,
	}, pacer, m)
}

// resolvePeriod validates month, defaulting to the current month.
func resolvePeriod(month string) (string, error) {
	if month == "" {
		month = model.CurrentPeriod(time.Now())
	}
	if _, err := model.ParsePeriod(month); err != nil {
		return "", err
	}
	return month, nil
}

// previousPeriod returns the code of the month before now's.
func previousPeriod(now time.Time) string {
	p, _ := model.ParsePeriod(model.CurrentPeriod(now))
	return p.Previous()
}

func loadLayout(path string) (*grid.Layout, error) {
	if path == "" {
		return grid.DefaultLayout()
	}
	return grid.LoadLayout(path)
}

func writeSummary(w io.Writer, s scrapeSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
