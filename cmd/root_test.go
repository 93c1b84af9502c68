package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"scrape", "import", "migrate", "runs", "dlq"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "backstage-ingest", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag, "root should have a persistent --config flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestScrapeCommand_Flags(t *testing.T) {
	month := scrapeCmd.Flags().Lookup("month")
	require.NotNil(t, month, "scrape command should have --month flag")
	assert.Equal(t, "", month.DefValue)

	limit := scrapeCmd.Flags().Lookup("limit")
	require.NotNil(t, limit, "scrape command should have --limit flag")
	assert.Equal(t, "0", limit.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "month"} {
		assert.NotNil(t, importCmd.Flags().Lookup(name), "import should have --%s flag", name)
	}
}

func TestDLQCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range dlqCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "replay"} {
		assert.True(t, names[name], "dlq should have subcommand %q", name)
	}
	for _, flagName := range []string{"period", "error-type", "limit"} {
		assert.NotNil(t, dlqReplayCmd.Flags().Lookup(flagName), "dlq replay should have --%s flag", flagName)
	}
}

func TestResolvePeriod(t *testing.T) {
	p, err := resolvePeriod("202601")
	require.NoError(t, err)
	assert.Equal(t, "202601", p)

	p, err = resolvePeriod("")
	require.NoError(t, err)
	assert.Len(t, p, 6)

	_, err = resolvePeriod("2026-01")
	require.Error(t, err)
	_, err = resolvePeriod("202613")
	require.Error(t, err)
}

func TestPreviousPeriod(t *testing.T) {
	assert.Equal(t, "202512", previousPeriod(time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)))
	assert.Equal(t, "202602", previousPeriod(time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)))
	assert.NotNil(t, scrapeCmd.Flags().Lookup("previous"))
}

func TestLoadLayout_Default(t *testing.T) {
	l, err := loadLayout("")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Manager.DrillDownColumn)

	_, err = loadLayout("/nonexistent/layout.yaml")
	require.Error(t, err)
}
