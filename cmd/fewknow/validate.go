package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/jonathan/fewknow/internal/config"
	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/market"
	"github.com/jonathan/fewknow/internal/observability"
)

var validateTicker string

var tickerPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,10}$`)

// errUnknownTicker makes the command exit non-zero
var errUnknownTicker = errors.New("ticker not found")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a ticker exists and show its company profile",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateTicker, "ticker", "t", "", "Stock ticker symbol (required)")
	_ = validateCmd.MarkFlagRequired("ticker")
	rootCmd.AddCommand(validateCmd)
}

// parseTicker checks the ticker format and normalizes it
func parseTicker(raw string) (string, error) {
	ticker := jobs.NormalizeTicker(raw)
	if !tickerPattern.MatchString(ticker) {
		return "", fmt.Errorf("invalid ticker %q: must be 1-10 letters, digits, '.' or '-'", raw)
	}
	return ticker, nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ticker, err := parseTicker(validateTicker)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log)
	client := newMarketClient(cfg, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), config.Duration(cfg.Market.Timeout, market.DefaultTimeout))
	defer cancel()

	info, err := client.Lookup(ctx, ticker)
	switch {
	case errors.Is(err, market.ErrTickerNotFound) || (err == nil && info == nil):
		fmt.Fprintf(cmd.OutOrStdout(), "Ticker %s not found\n", ticker)
		return errUnknownTicker
	case err != nil:
		return fmt.Errorf("unable to validate ticker %s: %w", ticker, err)
	}

	observability.NewPrinter(cmd.OutOrStdout()).PrintCompany(info, nil)
	return nil
}
