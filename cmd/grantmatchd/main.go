// Package main implements the grantmatchd daemon and its maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/grantmatchd/internal/analyzer"
	"github.com/fyrsmithlabs/grantmatchd/internal/config"
	"github.com/fyrsmithlabs/grantmatchd/internal/embeddings"
	"github.com/fyrsmithlabs/grantmatchd/internal/httpapi"
	"github.com/fyrsmithlabs/grantmatchd/internal/llm"
	"github.com/fyrsmithlabs/grantmatchd/internal/logging"
	"github.com/fyrsmithlabs/grantmatchd/internal/matcher"
	"github.com/fyrsmithlabs/grantmatchd/internal/store"
	"github.com/fyrsmithlabs/grantmatchd/internal/vectorstore"
)

var (
	configPath string

	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "grantmatchd",
	Short:   "Grant discovery and matching daemon",
	Long:    `grantmatchd enriches grant listings with embeddings and semantic tags, and matches them to organization profiles over HTTP.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (optional; env vars use the GRANTMATCH_ prefix)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the grantmatchd HTTP server.

Examples:
  # Start with environment configuration
  GRANTMATCH_OPENAI_API_KEY=... grantmatchd serve

  # Start with a config file
  grantmatchd serve --config /etc/grantmatchd/config.yaml`,
	RunE: runServe,
}

var processLimit int

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Batch-process unprocessed grants and exit",
	Long: `Select grants that still need AI processing, run each through
embedding and tag extraction, and print a summary.

Examples:
  # Process up to 50 grants (the default)
  grantmatchd process

  # Process up to 200 grants
  grantmatchd process --limit 200`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().IntVar(&processLimit, "limit", 50, "maximum grants to process in this run")
}

// app bundles the wired dependency graph.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *store.Store
	index   *vectorstore.Client
	matcher *matcher.Service
}

func (a *app) close() {
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// buildApp loads configuration and wires every service bottom-up: persistence
// first (it audits the AI providers' usage), then providers, then the
// orchestrator on top.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	a.store, err = store.New(cfg.Database, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.EmbeddingModel,
		Timeout: cfg.OpenAI.Timeout,
	}, a.store, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	chat, err := llm.NewClient(llm.Config{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.ChatModel,
		Timeout: cfg.OpenAI.Timeout,
	}, a.store, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	relevance, err := analyzer.New(chat, cfg.OpenAI.ChatModel, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating relevance analyzer: %w", err)
	}

	a.index, err = vectorstore.NewClient(vectorstore.Config{
		Host:      cfg.Qdrant.Host,
		Port:      cfg.Qdrant.Port,
		IndexName: cfg.Qdrant.IndexName,
		Dimension: cfg.Qdrant.Dimension,
		UseTLS:    cfg.Qdrant.UseTLS,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connecting to vector store: %w", err)
	}

	a.matcher, err = matcher.New(embedder, a.index, relevance, a.store, matcher.Config{
		TopK:                cfg.Matching.TopK,
		AnalysisConcurrency: cfg.Matching.AnalysisConcurrency,
		CacheMaxAge:         cfg.Matching.CacheMaxAge,
	}, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating matching service: %w", err)
	}

	return a, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	srv, err := httpapi.NewServer(a.cfg.Server, a.matcher, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.matcher.BatchProcessGrants(ctx, processLimit)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
