// cmd/toolserver is the JSON-RPC tool server child process: it speaks
// newline-delimited JSON-RPC on stdin/stdout and logs exclusively to
// stderr, since stdout is reserved for response frames.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nishaddevendra/pdf-qa-core/internal/completion"
	"github.com/nishaddevendra/pdf-qa-core/internal/config"
	"github.com/nishaddevendra/pdf-qa-core/internal/extractor"
	"github.com/nishaddevendra/pdf-qa-core/internal/logger"
	"github.com/nishaddevendra/pdf-qa-core/internal/retrieval"
	"github.com/nishaddevendra/pdf-qa-core/internal/telemetry"
	"github.com/nishaddevendra/pdf-qa-core/internal/toolserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger.InitStderr(cfg)
	logger.Info("tool server starting", "mcp_server_name", cfg.MCPServerName, "mcp_server_version", cfg.MCPServerVersion)

	if shutdownTracer, err := telemetry.InitTracer(cfg.MCPServerName); err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer shutdownTracer()
	}

	ctx := context.Background()

	ext := extractor.New(cfg.LowYieldCharsPerPage)

	embedder, err := retrieval.NewGoogleEmbedder(ctx, cfg.ModelAPIKey, cfg.ModelAPIURL, cfg.GoogleEmbeddingsModel, cfg.EmbeddingDim)
	if err != nil {
		logger.Error("failed to initialize embedder", "error", err)
		os.Exit(1)
	}

	completionTimeout := time.Duration(cfg.CompletionTimeoutSeconds) * time.Second
	completionClient, err := completion.New(ctx, cfg.ModelAPIKey, cfg.ModelAPIURL, cfg.CompletionRPS, cfg.CompletionBurst, cfg.CompletionMaxRetries, completionTimeout)
	if err != nil {
		logger.Error("failed to initialize completion client", "error", err)
		os.Exit(1)
	}

	chunkParams := retrieval.ChunkParams{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	registry := retrieval.Global(cfg.IndexDir, embedder, chunkParams)

	deps := &toolserver.Deps{
		Extractor:               ext,
		Registry:                registry,
		Embedder:                embedder,
		Completion:              completionClient,
		ChunkParams:             chunkParams,
		TopKDefault:             cfg.TopKDefault,
		TopKMax:                 cfg.TopKMax,
		ModelID:                 cfg.ModelID,
		FullDocumentCharCeiling: cfg.FullDocumentCharCeiling,
	}

	catalogue := toolserver.Catalogue(cfg.MCPServerName, cfg.MCPServerVersion, deps)
	info := toolserver.ServerInfo{Name: cfg.MCPServerName, Version: cfg.MCPServerVersion}

	shutdownGrace := time.Duration(cfg.ToolServerShutdownGraceSeconds) * time.Second
	srv := toolserver.New(os.Stdin, os.Stdout, catalogue, info, shutdownGrace)

	os.Exit(srv.Run())
}
