package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/djesaja/backstage-ingest/internal/config"
	"github.com/djesaja/backstage-ingest/internal/crawler"
	"github.com/djesaja/backstage-ingest/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig() *config.Config {
	return &config.Config{
		Scrape: config.ScrapeConfig{
			ProfileMarker:  "anchor_profile",
			CellTimeoutMs:  1000,
			ModalTimeoutMs: 1000,
			LockTTLMinutes: 180,
		},
		Ingest: config.IngestConfig{BatchSize: 10, DLQMaxRetries: 3, ImportWorkers: 2},
		Retry:  config.RetryConfig{MaxAttempts: 2},
	}
}

// scriptedRow is a manager row with fixed cells and no drill-down.
type scriptedRow map[int]string

func (r scriptedRow) Cell(_ context.Context, col int) (string, error) {
	v, ok := r[col]
	if !ok {
		return "", errors.New("no cell")
	}
	return v, nil
}

func (scriptedRow) HasDrillDown(context.Context, int) (bool, error) { return false, nil }
func (scriptedRow) ClickDrillDown(context.Context, int) error       { return errors.New("no control") }
func (scriptedRow) HoverProfile(context.Context) error              { return nil }

// scriptedSession renders one page of manager rows and no modal.
type scriptedSession struct {
	rows []crawler.Row
}

func (s *scriptedSession) Rows(_ context.Context, scope crawler.Scope) ([]crawler.Row, error) {
	if scope == crawler.ScopeModal {
		return nil, nil
	}
	return s.rows, nil
}

func (s *scriptedSession) Next(context.Context, crawler.Scope) (bool, error) { return false, nil }
func (s *scriptedSession) WaitModal(context.Context, time.Duration) error {
	return errors.New("no modal")
}
func (s *scriptedSession) CloseModal(context.Context) error { return nil }
func (s *scriptedSession) Close() error                     { return nil }

func (s *scriptedSession) AwaitResponse(context.Context, string, time.Duration, func(context.Context) error) ([]byte, error) {
	return nil, errors.New("no response")
}

type scriptedFactory struct {
	rows   []crawler.Row
	opened int
}

func (f *scriptedFactory) Open(context.Context) (crawler.Session, error) {
	f.opened++
	return &scriptedSession{rows: f.rows}, nil
}

func managerRows(names ...string) []crawler.Row {
	rows := []crawler.Row{scriptedRow{1: "Creator Network Manager"}}
	for _, n := range names {
		rows = append(rows, scriptedRow{1: n, 2: "0", 3: "$2,500.00", 4: "10,000"})
	}
	return rows
}
