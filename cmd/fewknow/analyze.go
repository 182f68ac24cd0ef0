package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/fewknow/internal/observability"
	"github.com/jonathan/fewknow/internal/pipeline"
)

var (
	analyzeTicker string
	analyzeJSON   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one analysis in-process and print the report",
	Long: `Run the full pipeline for a single ticker without starting the server.
Progress lines are written to stderr; the report is written to stdout as text or, with --json, as the result document.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeTicker, "ticker", "t", "", "Stock ticker symbol, e.g. NVDA (required)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the result as JSON")
	_ = analyzeCmd.MarkFlagRequired("ticker")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ticker, err := parseTicker(analyzeTicker)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	progress := observability.NewPrinter(cmd.ErrOrStderr())
	runner := svc.newRunner(pipeline.PublisherFunc(progress.PrintProgress))

	snap, err := svc.store.Create(ticker)
	if err != nil {
		return err
	}
	result, err := runner.Run(ctx, snap.JobID, snap.Ticker)
	if err != nil {
		// the stored job error is the user-facing message; the cause is already logged
		if final, getErr := svc.store.Get(snap.JobID); getErr == nil && final.Error != nil {
			return errors.New(final.Error.Message)
		}
		return fmt.Errorf("analysis failed: %w", err)
	}

	if analyzeJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	observability.NewPrinter(cmd.OutOrStdout()).PrintResult(result)
	return nil
}
