package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/fewknow/internal/broadcast"
	"github.com/jonathan/fewknow/internal/config"
	"github.com/jonathan/fewknow/internal/jobs"
	"github.com/jonathan/fewknow/internal/observability"
	"github.com/jonathan/fewknow/internal/server"
	"github.com/jonathan/fewknow/internal/server/ratelimit"
)

// version is reported by the banner and health routes
const version = "1.0.0"

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server",
	Long: `Start an HTTP server that accepts analysis requests, runs them in the background and streams
progress over WebSocket (/ws/{job_id}) and Server-Sent Events (/api/stream/{job_id}).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config and PORT)")
	rootCmd.AddCommand(serveCmd)
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, server.DefaultShutdownTimeout),
		LookupTimeout:   config.Duration(cfg.Pipeline.AdapterTimeout, 0),
		Version:         version,
		RateLimit:       ratelimit.LoadConfig(),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	logger := observability.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	janitor := jobs.NewJanitor(svc.store, logger)
	if err := janitor.Start(ctx, cfg.Pipeline.EvictionSchedule); err != nil {
		return fmt.Errorf("invalid eviction schedule %q: %w", cfg.Pipeline.EvictionSchedule, err)
	}
	defer janitor.Stop()

	bcast := broadcast.New(svc.store, logger)
	runner := svc.newRunner(bcast)

	srvCfg := serverConfig(cfg)
	srv, err := server.New(srvCfg, server.Deps{
		Jobs:          svc.store,
		Runner:        runner,
		Subscriptions: bcast,
		Lookup:        svc.market,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info().
		Str("addr", srv.Addr()).
		Str("llm_provider", cfg.LLM.Provider).
		Str("reddit", enabled(cfg.RedditEnabled())).
		Str("news", enabled(cfg.News.FinnhubAPIKey != "")).
		Msg("FewKnow API starting")

	serveErr := srv.Start(ctx)

	// in-flight analyses are cancelled and recorded as failed before exit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Analyses still running at shutdown deadline")
	}
	return serveErr
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
