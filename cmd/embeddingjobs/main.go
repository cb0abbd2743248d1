// EmbeddingJobs worker — claims rows from the embedding_jobs table, embeds
// the referenced database rows and writes the vectors back. Also runs the
// retention sweeps over its own table.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/cleanup"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/database"
	"github.com/civicgrid/grievance-pipeline/pkg/health"
	"github.com/civicgrid/grievance-pipeline/pkg/jobs"
	"github.com/civicgrid/grievance-pipeline/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	once := flag.Bool("once", false, "Run one claim pass and exit")
	flag.Parse()

	config.LoadEnvFile(*envFile)

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting EmbeddingJobs worker", "version", version.Full(), "http_port", httpPort)

	ctx := context.Background()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	analyzerCfg, err := config.LoadAnalyzerConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load analyzer config", "error", err)
		os.Exit(1)
	}
	embeddingCfg, err := config.LoadEmbeddingConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load embedding config", "error", err)
		os.Exit(1)
	}
	llm, err := analyzer.NewLLMClient(analyzerCfg, embeddingCfg)
	if err != nil {
		slog.Error("Failed to create LLM client", "error", err)
		os.Exit(1)
	}

	jobsCfg, err := config.LoadJobsConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load jobs config", "error", err)
		os.Exit(1)
	}
	claimer := jobs.NewClaimer(dbClient.Pool(), jobsCfg)
	executor := jobs.NewEmbeddingExecutor(dbClient.Pool(), llm)
	worker := jobs.NewWorker(claimer, executor, jobsCfg)

	if *once {
		processed, err := worker.RunOnce(ctx)
		if err != nil {
			slog.Error("Claim pass failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Claim pass finished", "processed", processed)
		return
	}

	retentionCfg, err := config.LoadRetentionConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load retention config", "error", err)
		os.Exit(1)
	}
	retention := cleanup.NewService(retentionCfg, dbClient.Pool())
	retention.Start(ctx)
	defer retention.Stop()

	healthServer := health.NewServer("embeddingjobs", dbClient)
	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	worker.Start(ctx)
	slog.Info("EmbeddingJobs worker started", "claim_limit", jobsCfg.ClaimLimit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("Health server failed", "error", err)
	}

	worker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server shutdown failed", "error", err)
	}
	slog.Info("EmbeddingJobs worker stopped")
}
