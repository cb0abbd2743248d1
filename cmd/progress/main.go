// ProgressAnalyst worker — periodically scans department grievances, writes
// progress reports to blob storage and the insights table, and escalates
// unhealthy grievances.
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

	"github.com/robfig/cron/v3"

	"github.com/civicgrid/grievance-pipeline/pkg/analyzer"
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/database"
	"github.com/civicgrid/grievance-pipeline/pkg/health"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
	"github.com/civicgrid/grievance-pipeline/pkg/stages/progress"
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
	once := flag.Bool("once", false, "Run one scan and exit")
	targetID := flag.String("target-id", "", "Scan only this department")
	flag.Parse()

	config.LoadEnvFile(*envFile)

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting ProgressAnalyst worker", "version", version.Full(), "http_port", httpPort)

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

	progressCfg, err := config.LoadProgressConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load progress config", "error", err)
		os.Exit(1)
	}
	if *targetID != "" {
		progressCfg.TargetDepartmentID = *targetID
	}

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

	blobCfg, err := config.LoadBlobConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load blob config", "error", err)
		os.Exit(1)
	}
	store, err := blob.NewS3Store(ctx, blobCfg)
	if err != nil {
		slog.Error("Failed to create blob store", "error", err)
		os.Exit(1)
	}

	departments := services.NewDepartmentService(dbClient.Pool())
	progressStore := services.NewProgressService(dbClient.Pool(), getEnv("GRIEVANCE_TABLE", ""))
	escalations := services.NewEscalationService(dbClient.Pool())
	insights := services.NewInsightService(dbClient.Pool())

	// The escalation level enum casing varies across deployments; probe it
	// once before the first scan.
	if err := escalations.DiscoverLevelCasing(ctx); err != nil {
		slog.Error("Failed to probe escalation level casing", "error", err)
		os.Exit(1)
	}

	scanner := progress.NewScanner(departments, progressStore, escalations, insights,
		store, llm, progressCfg)

	if *once {
		if err := scanner.Run(ctx); err != nil {
			slog.Error("Scan failed", "error", err)
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(progressCfg.Schedule, func() {
		if err := scanner.Run(ctx); err != nil {
			slog.Error("Scheduled scan failed", "error", err)
		}
	}); err != nil {
		slog.Error("Invalid scan schedule", "schedule", progressCfg.Schedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	slog.Info("ProgressAnalyst worker started", "schedule", progressCfg.Schedule)

	healthServer := health.NewServer("progress", dbClient)
	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("Health server failed", "error", err)
	}

	// Wait for any in-flight scan before closing the pool.
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server shutdown failed", "error", err)
	}
	slog.Info("ProgressAnalyst worker stopped")
}
