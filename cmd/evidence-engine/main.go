// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the evidence-engine CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/evidence-engine/internal/orchestrator"
	"github.com/pdiddy/evidence-engine/internal/secrets"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built in PersistentPreRunE and synced in PersistentPostRun.
var logger = zap.NewNop()

// loadedSecrets holds API keys loaded from .secrets/ and .env at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the evidence-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "evidence-engine",
	Short: "Graded biomedical literature reviews over PubMed",
	Long: `evidence-engine answers clinical research questions from PubMed. It expands
a question into search queries, grades each retrieved abstract for relevance
and methodological quality, retrieves again while the evidence is weak, and
writes a cited review from the documents that pass.

Sessions keep the graded evidence of a conversation so follow-up questions can
be answered from context, extended with a narrow search, or researched anew.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		l, err := newLogger(verbose)
		if err != nil {
			return err
		}
		logger = l

		dir, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		env, err := secrets.LoadEnv(".env")
		if err != nil {
			return err
		}
		loadedSecrets = secrets.Merge(dir, env)
		if len(loadedSecrets) > 0 {
			keys := make([]string, 0, len(loadedSecrets))
			for k := range loadedSecrets {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./evidence-engine.yaml or ~/.config/evidence-engine/config.yaml)")
	rootCmd.PersistentFlags().String("rubric", "", "YAML file overriding the grading rubric")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
}

// newLogger builds the production logger, at debug level when verbose.
// Logs go to stderr so stdout stays free for results and the MCP transport.
func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l, nil
}

// engineConfig resolves the configuration for cmd with secrets applied.
func engineConfig(cmd *cobra.Command) (types.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	rubricFile, _ := cmd.Flags().GetString("rubric")

	cfg, used, err := loadConfig(cfgFile)
	if err != nil {
		return types.Config{}, err
	}
	if used != "" {
		logger.Info("using config file", zap.String("path", used))
	}
	if rubricFile != "" {
		if err := loadRubric(rubricFile, &cfg.Rubric); err != nil {
			return types.Config{}, err
		}
	}
	secrets.Apply(&cfg, loadedSecrets)
	return cfg, nil
}

// openEngine opens an engine for cmd. The caller must Close it.
func openEngine(ctx context.Context, cmd *cobra.Command) (*orchestrator.Engine, error) {
	cfg, err := engineConfig(cmd)
	if err != nil {
		return nil, err
	}
	return orchestrator.Open(ctx, cfg, logger)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
