package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docquery/internal/adapter/gemini"
	wstore "docquery/internal/adapter/weaviate"
	"docquery/internal/answer"
	"docquery/internal/app"
	"docquery/internal/config"
	"docquery/internal/document"
	"docquery/internal/index"
	"docquery/internal/logger"
	"docquery/internal/pipeline"
	"docquery/internal/registry"
	"docquery/internal/text"
	"docquery/internal/trace"
)

func main() {
	// Structured logger with correlation IDs pulled from request context.
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Weaviate client and schema-owning store.
	wClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.WeaviateHost,
		Scheme: cfg.WeaviateScheme,
	})
	if err != nil {
		slog.Error("failed to create weaviate client", "error", err)
		os.Exit(1)
	}
	store := wstore.NewStore(wClient, cfg.IndexClass)

	// Gemini client serves both embedding and generation.
	llm, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.GenerationModel)
	if err != nil {
		slog.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}
	defer llm.Close()

	// Bring up shared resources before accepting traffic.
	reg := registry.New(store, llm, llm, registry.Options{
		IndexTimeout:    cfg.IndexConnectTimeout,
		EmbedTimeout:    cfg.EmbedTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		SettleDelay:     cfg.IndexSettleDelay,
		RetryAttempts:   cfg.InitRetryAttempts,
		BackoffFactor:   cfg.InitBackoffFactor,
		ProbeTimeout:    cfg.HealthProbeTimeout,
	})
	if err := reg.Initialize(ctx); err != nil {
		slog.Error("resource initialization failed", "error", err)
		os.Exit(1)
	}

	// Pipeline stages.
	fetcher := document.NewFetcher(document.NewPDFExtractor(), document.FetcherOptions{
		MaxBytes:        cfg.MaxDocumentBytes(),
		ConnectTimeout:  cfg.HTTPConnectTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		ExtractTimeout:  cfg.ExtractTimeout,
		MaxRetries:      cfg.InitRetryAttempts,
		BackoffFactor:   cfg.InitBackoffFactor,
	})
	splitter := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, cfg.ChunkTimeout)
	indexer := index.NewIndexer(llm, store, cfg.EmbedBatchSize, cfg.UpsertBatchSize)
	answerer := answer.New(llm, cfg.TopK, cfg.SearchTimeout, cfg.GenerateTimeout, cfg.QuestionWorkers)

	monitor := trace.NewMonitor(cfg.TraceHistory, trace.DefaultThresholds())

	coordinator := pipeline.NewCoordinator(fetcher, splitter, indexer, answerer, reg, monitor, pipeline.Options{
		MaxQuestions:       cfg.MaxQuestions,
		StoreCreateTimeout: cfg.StoreCreateTimeout,
		GenerateTimeout:    cfg.GenerateTimeout,
	})

	handler := app.NewHandler(coordinator, reg, monitor, cfg.APIToken)
	a := app.New(cfg.ServerPort, handler)

	if err := a.Run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
