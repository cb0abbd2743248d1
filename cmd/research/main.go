// ResearchAnalyst worker — listens for new-grievance notifications, reuses
// cached research patterns or runs the full web research workflow, and feeds
// validated source URLs back to the crawler queue.
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
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/database"
	"github.com/civicgrid/grievance-pipeline/pkg/health"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
	"github.com/civicgrid/grievance-pipeline/pkg/stages/research"
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
	flag.Parse()

	config.LoadEnvFile(*envFile)

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting ResearchAnalyst worker", "version", version.Full(), "http_port", httpPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
	if err := analyzerCfg.RequireSearch(); err != nil {
		slog.Error("Missing search credentials", "error", err)
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
	searcher := analyzer.NewSearchClient(analyzerCfg)

	queueCfg, err := config.LoadQueueConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load queue config", "error", err)
		os.Exit(1)
	}
	transport, err := queue.NewAMQPTransport(queueCfg.URL)
	if err != nil {
		slog.Error("Failed to connect to message broker", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	researchCfg, err := config.LoadResearchConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load research config", "error", err)
		os.Exit(1)
	}

	grievances := services.NewGrievanceService(dbClient.Pool(), getEnv("GRIEVANCE_TABLE", ""))
	patterns := services.NewPatternService(dbClient.Pool())
	validator := research.NewResultValidator(researchCfg.MinResultScore, researchCfg.MinContentLength)
	workflow := research.NewWorkflow(searcher, llm, validator)
	processor := research.NewProcessor(grievances, patterns, llm, workflow,
		transport, queueCfg.WebCrawlerQueue, researchCfg)
	listener := research.NewListener(dbClient.DSN(), researchCfg.Channel, processor)

	healthServer := health.NewServer("research", dbClient)
	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	listenerDone := make(chan error, 1)
	go func() {
		listenerDone <- listener.Run(ctx)
	}()
	slog.Info("ResearchAnalyst worker started", "channel", researchCfg.Channel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	listenerExited := false
	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("Health server failed", "error", err)
	case err := <-listenerDone:
		listenerExited = true
		if err != nil {
			slog.Error("Listener failed", "error", err)
		}
	}

	cancel()
	if !listenerExited {
		<-listenerDone
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server shutdown failed", "error", err)
	}
	slog.Info("ResearchAnalyst worker stopped")
}
