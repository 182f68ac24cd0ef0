// Package main provides the fewknow command: the insight report API server and one-shot CLI commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fewknow",
	Short: "Post-earnings stock insight reports",
	Long: `FewKnow assembles a narrative insight report about a company's post-earnings period from
financial data, recent news and Reddit discussion, synthesized by an LLM.

Run "fewknow serve" for the HTTP API or "fewknow analyze --ticker NVDA" for a one-shot report.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML or JSON config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: trace, debug, info, warn, error")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
