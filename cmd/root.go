package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djesaja/backstage-ingest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "backstage-ingest",
	Short:        "Monthly manager and creator performance ingestion",
	Long:         "Crawls the agency backstage task dashboard, drills into each manager's creators, and upserts the period's figures into a relational store.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		c, err := config.LoadFile(path)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.CommandPath()),
			zap.String("store", cfg.Store.Driver),
			zap.String("file", path),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./config.yaml, env BACKSTAGE_*)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
