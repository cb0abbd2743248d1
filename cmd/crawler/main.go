// Crawler worker — consumes the webcrawler queue, crawls or downloads each
// target, stores page artifacts and announces the folder to the embeddings
// queue.
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
	"github.com/civicgrid/grievance-pipeline/pkg/stages/crawl"
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
	slog.Info("Starting Crawler worker", "version", version.Full(), "http_port", httpPort)

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

	crawlerCfg, err := config.LoadCrawlerConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load crawler config", "error", err)
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

	fetcher := crawl.NewHTTPFetcher(crawlerCfg.PageTimeout)
	handler := crawl.NewHandler(fetcher, store, analyzer.NewDocExtractor(),
		transport, queueCfg.EmbeddingsQueue, crawlerCfg)
	runner := queue.NewRunner(transport, queueCfg.WebCrawlerQueue, handler, queueCfg)

	if *once {
		if err := runner.RunOnce(ctx); err != nil {
			slog.Error("Drain failed", "error", err)
			os.Exit(1)
		}
		return
	}

	healthServer := health.NewServer("crawler", dbClient)
	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	runner.Start(ctx)
	slog.Info("Crawler worker started", "queue", queueCfg.WebCrawlerQueue)

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
	slog.Info("Crawler worker stopped")
}
