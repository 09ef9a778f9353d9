// Package main is the passage CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/passage/internal/cli"
	"github.com/hyperjump/passage/internal/config"
	"github.com/hyperjump/passage/internal/embedding"
	"github.com/hyperjump/passage/internal/extract"
	"github.com/hyperjump/passage/internal/indexer"
	"github.com/hyperjump/passage/internal/models"
	"github.com/hyperjump/passage/internal/pipeline"
	"github.com/hyperjump/passage/internal/server"
	"github.com/hyperjump/passage/internal/storage"
	"github.com/hyperjump/passage/internal/telemetry"
	"github.com/hyperjump/passage/internal/vector"
	"github.com/hyperjump/passage/internal/watcher"
	"github.com/hyperjump/passage/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/passage/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "passage",
		Short: "passage - local document retrieval for LLM context",
		Long: `passage chunks a directory of documents, embeds every chunk and answers
similarity queries over an exact vector index.

Environment variables:
  OPENAI_API_KEY          API key for the openai embedding provider
  PASSAGE_<SECTION>_<KEY> override any config value, e.g. PASSAGE_SEARCH_DEFAULT_K`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	rootCmd.PersistentFlags().String("config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "passage version %s\n", version)
		},
	})
	return rootCmd
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, so running from a project dir uses its config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads config and builds a logger from the root persistent flags.
func setup(cmd *cobra.Command, longRunning bool) (*config.Config, *zap.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	debugFlag, _ := cmd.Flags().GetBool("debug")

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	var logger *zap.Logger
	if longRunning {
		logger, err = utils.NewLogger(debug)
	} else {
		logger, err = utils.NewCLILogger(debug)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, logger, nil
}

// Components holds the long-lived objects built from config.
type Components struct {
	Embedder embedding.Embedder
	Index    *vector.FlatIndex
	Pipeline *pipeline.Pipeline
}

// Close releases the embedder and the index.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	tokenizer, err := indexer.NewTokenizer(cfg.Chunking.Tokenizer)
	if err != nil {
		return nil, err
	}
	chunker, err := indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.Overlap(), tokenizer)
	if err != nil {
		return nil, err
	}
	extractor := extract.NewExtractor()
	if plain := plainTextExtensions(extractor, cfg.Documents.Extensions); len(plain) > 0 {
		logger.Info("extensions without a dedicated extractor are read as plain text",
			zap.Strings("extensions", plain), zap.Strings("supported", extract.SupportedExtensions()))
	}
	collector := indexer.NewCollector(chunker, extractor,
		indexer.WithExtensions(cfg.Documents.Extensions),
		indexer.WithLogger(logger),
	)

	embedder, err := embedding.NewFromConfig(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	indexOpts := []vector.Option{vector.WithLogger(logger)}
	if cfg.Storage.S3.Enabled() {
		mirror, err := storage.NewS3Mirror(ctx, storage.S3MirrorConfig{
			Bucket:          cfg.Storage.S3.Bucket,
			Prefix:          cfg.Storage.S3.Prefix,
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		})
		if err != nil {
			_ = embedder.Close()
			return nil, fmt.Errorf("failed to initialize s3 mirror: %w", err)
		}
		indexOpts = append(indexOpts, vector.WithMirror(mirror))
	}
	index, err := vector.New(ctx, embedder.Dimensions(), cfg.Storage.IndexPath, indexOpts...)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	p, err := pipeline.New(pipeline.Options{
		DocumentsPath: cfg.Documents.Path,
		BatchSize:     cfg.Embedding.BatchSize,
		Concurrency:   cfg.Embedding.Concurrency,
		MaxK:          cfg.Search.MaxK,
		Retry: embedding.RetryPolicy{
			MaxRetries:      cfg.Embedding.MaxRetries,
			InitialInterval: embedding.DefaultRetryPolicy.InitialInterval,
			MaxInterval:     embedding.DefaultRetryPolicy.MaxInterval,
		},
	}, collector, embedder, index, pipeline.WithLogger(logger))
	if err != nil {
		_ = embedder.Close()
		_ = index.Close()
		return nil, err
	}
	logger.Info("pipeline ready",
		zap.String("documents_path", cfg.Documents.Path),
		zap.String("index_path", cfg.Storage.IndexPath),
		zap.Int("index_size", index.Size()))
	return &Components{Embedder: embedder, Index: index, Pipeline: p}, nil
}

// plainTextExtensions returns the configured extensions that have no dedicated extractor.
func plainTextExtensions(e *extract.Extractor, exts []string) []string {
	var plain []string
	for _, ext := range exts {
		if !e.Supports(ext) {
			plain = append(plain, ext)
		}
	}
	return plain
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with default values",
		Long: `Write a config file with default values to path (default ./config.yaml).
Relative paths in it resolve against the directory of the file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. The index is built from the documents directory on
startup when it is empty, and rebuilt on document changes when watch is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(cmd, true)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServe(cfg, logger)
		},
	}
}

func runServe(cfg *config.Config, logger *zap.Logger) error {
	flush := telemetry.Init(telemetry.Config{
		DSN:         cfg.Telemetry.SentryDSN,
		Environment: cfg.Telemetry.Environment,
		Release:     "passage@" + version,
		Debug:       cfg.Debug,
	}, logger)
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()
	p := components.Pipeline

	if components.Index.Size() == 0 {
		go func() {
			report, err := p.Ingest(ctx, false)
			if err != nil {
				logger.Warn("initial ingest failed", zap.Error(err))
				return
			}
			logger.Info("initial ingest finished",
				zap.Int("index_size", report.IndexSize),
				zap.Int("failed_chunks", report.FailedChunks))
		}()
	}

	if cfg.Watch.Enabled {
		w := watcher.New(cfg.Documents.Path, cfg.Documents.Extensions, func(ctx context.Context) {
			report, err := p.Ingest(ctx, true)
			if err != nil {
				logger.Warn("rebuild after document change failed", zap.Error(err))
				telemetry.CaptureError(ctx, err)
				return
			}
			logger.Info("index rebuilt", zap.Int("index_size", report.IndexSize))
		}, watcher.WithDebounce(cfg.Watch.Debounce), watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
		logger.Info("watching documents", zap.String("root", w.Root()), zap.Duration("debounce", cfg.Watch.Debounce))
	}

	srv := server.NewServer(p, &cfg.Server, cfg.Search, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func ingestCmd() *cobra.Command {
	var force bool
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the index from the documents directory",
		Long: `Build the index from the documents directory. An already populated index is
left alone unless --force is given. With --server the running server rebuilds its
own index instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if serverURL != "" {
				report, err := cli.NewClient(serverURL).Ingest(ctx, force)
				if err != nil {
					return err
				}
				return cli.WriteIngestReport(cmd.OutOrStdout(), report, format)
			}
			return withPipeline(cmd, func(p *pipeline.Pipeline) error {
				report, err := p.Ingest(ctx, force)
				if err != nil {
					return err
				}
				return cli.WriteIngestReport(cmd.OutOrStdout(), report, format)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild even if the index is populated")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "ask a running server instead, e.g. http://localhost:8080")
	return cmd
}

func searchCmd() *cobra.Command {
	var k int
	var minSimilarity float64
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the chunks most similar to a query",
		Long: `Find the chunks most similar to a query. The query is all arguments joined
by spaces, so quoting is optional.

Examples:
  passage search fire exit policy
  passage search "fire exit policy" --k 10 --min-similarity 0.4
  passage search fire exits --server http://localhost:8080 -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			q := &models.SearchQuery{Query: buildQuery(args), K: k}
			if cmd.Flags().Changed("min-similarity") {
				q.MinSimilarity = &minSimilarity
			}
			ctx := cmd.Context()
			if serverURL != "" {
				resp, err := cli.NewClient(serverURL).Search(ctx, q)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			}
			return withConfig(cmd, func(cfg *config.Config, p *pipeline.Pipeline) error {
				q.ApplyDefaults(cfg.Search.DefaultK, cfg.Search.MinSimilarity)
				start := time.Now()
				results, err := p.Search(ctx, q.Query, q.K, q.Floor())
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), &models.SearchResponse{
					Query:        q.Query,
					Results:      results,
					TotalResults: len(results),
					QueryTime:    time.Since(start).Milliseconds(),
				}, format)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of results (default from config)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "drop results below this similarity (0..1, default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead, e.g. http://localhost:8080")
	return cmd
}

func contextCmd() *cobra.Command {
	var k int
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "context <query>",
		Short: "Print a formatted context block for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			q := &models.ContextQuery{Query: buildQuery(args), K: k}
			ctx := cmd.Context()
			if serverURL != "" {
				resp, err := cli.NewClient(serverURL).Context(ctx, q)
				if err != nil {
					return err
				}
				return cli.WriteContext(cmd.OutOrStdout(), resp, format)
			}
			return withConfig(cmd, func(cfg *config.Config, p *pipeline.Pipeline) error {
				q.ApplyDefaults(cfg.Search.ContextK)
				text, err := p.ContextForQuery(ctx, q.Query, q.K)
				if err != nil {
					return err
				}
				return cli.WriteContext(cmd.OutOrStdout(), &models.ContextResponse{Query: q.Query, Context: text}, format)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of chunks (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead, e.g. http://localhost:8080")
	return cmd
}

func statsCmd() *cobra.Command {
	var output, serverURL string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index and pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseOutputFormat(output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				stats, err := cli.NewClient(serverURL).Stats(cmd.Context())
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, format)
			}
			return withPipeline(cmd, func(p *pipeline.Pipeline) error {
				stats := p.Stats()
				return cli.WriteStats(cmd.OutOrStdout(), &stats, format)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead, e.g. http://localhost:8080")
	return cmd
}

func clearCmd() *cobra.Command {
	var persist bool
	var serverURL string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the index",
		Long: `Remove every entry from the index. Without --persist only the in-memory index
of a running server is emptied; a local clear always persists since nothing else
would observe it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				msg, err := cli.NewClient(serverURL).Clear(cmd.Context(), persist)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			}
			return withPipeline(cmd, func(p *pipeline.Pipeline) error {
				if err := p.Clear(cmd.Context(), true); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Index cleared and persisted")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&persist, "persist", false, "also remove the persisted index (server mode)")
	cmd.Flags().StringVar(&serverURL, "server", "", "clear a running server instead, e.g. http://localhost:8080")
	return cmd
}

func withPipeline(cmd *cobra.Command, fn func(p *pipeline.Pipeline) error) error {
	return withConfig(cmd, func(_ *config.Config, p *pipeline.Pipeline) error { return fn(p) })
}

// withConfig builds the components for a one-shot command and releases them afterwards.
func withConfig(cmd *cobra.Command, fn func(cfg *config.Config, p *pipeline.Pipeline) error) error {
	cfg, logger, err := setup(cmd, false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	components, err := initializeComponents(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()
	return fn(cfg, components.Pipeline)
}

// buildQuery joins args into a single query. Multi-word queries work with or
// without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
