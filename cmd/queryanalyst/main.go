// QueryAnalyst worker — consumes the grievances queue and runs the full
// intake analysis pipeline for each grievance.
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
	"github.com/civicgrid/grievance-pipeline/pkg/blob"
	"github.com/civicgrid/grievance-pipeline/pkg/config"
	"github.com/civicgrid/grievance-pipeline/pkg/database"
	"github.com/civicgrid/grievance-pipeline/pkg/health"
	"github.com/civicgrid/grievance-pipeline/pkg/queue"
	"github.com/civicgrid/grievance-pipeline/pkg/services"
	"github.com/civicgrid/grievance-pipeline/pkg/stages/queryanalyst"
	"github.com/civicgrid/grievance-pipeline/pkg/vectorindex"
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
	once := flag.Bool("once", false, "Drain the queue once and exit")
	flag.Parse()

	config.LoadEnvFile(*envFile)

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting QueryAnalyst worker", "version", version.Full(), "http_port", httpPort)

	ctx := context.Background()

	// 1. Database
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

	// 2. External services
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

	vectorCfg, err := config.LoadVectorIndexConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load vector index config", "error", err)
		os.Exit(1)
	}
	index := vectorindex.NewHTTPIndex(vectorCfg)

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

	// 3. Queue transport
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

	// 4. Stage wiring
	grievances := services.NewGrievanceService(dbClient.Pool(), getEnv("GRIEVANCE_TABLE", ""))
	departments := services.NewDepartmentService(dbClient.Pool())
	handler := queryanalyst.NewHandler(
		llm, llm, llm, searcher, index,
		grievances, departments, store,
		queryanalyst.NopRenderer{},
		transport, queueCfg.WebCrawlerQueue,
	)
	runner := queue.NewRunner(transport, queueCfg.GrievancesQueue, handler, queueCfg)

	if *once {
		if err := runner.RunOnce(ctx); err != nil {
			slog.Error("Drain failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// 5. Health server
	healthServer := health.NewServer("queryanalyst", dbClient)
	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	runner.Start(ctx)
	slog.Info("QueryAnalyst worker started", "queue", queueCfg.GrievancesQueue)

	// 6. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("Health server failed", "error", err)
	}

	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Health server shutdown failed", "error", err)
	}
	slog.Info("QueryAnalyst worker stopped")
}
