// Package main is the newsrag CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/newsrag/internal/cli"
	"github.com/hyperjump/newsrag/internal/config"
	"github.com/hyperjump/newsrag/internal/embedding"
	"github.com/hyperjump/newsrag/internal/extract"
	"github.com/hyperjump/newsrag/internal/ingest"
	"github.com/hyperjump/newsrag/internal/llm"
	"github.com/hyperjump/newsrag/internal/models"
	"github.com/hyperjump/newsrag/internal/readiness"
	"github.com/hyperjump/newsrag/internal/search"
	"github.com/hyperjump/newsrag/internal/server"
	"github.com/hyperjump/newsrag/internal/storage"
	"github.com/hyperjump/newsrag/internal/vector"
	"github.com/hyperjump/newsrag/internal/watcher"
	"github.com/hyperjump/newsrag/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/newsrag/config.yaml"

// loadConfig loads config from path after reading .env. When path is the default, config.yaml in
// the current directory wins if present; when neither exists the built-in defaults are used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		cfg, err := config.LoadOrDefault(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "ingest":
		runIngest()
	case "serve", "server":
		runServe()
	case "search":
		runSearch()
	case "chat":
		runChat()
	case "status":
		runStatus()
	case "runs":
		runRuns()
	case "reset":
		runReset()
	case "version", "--version", "-v":
		fmt.Printf("newsrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every subcommand.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, string) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if debugFlag {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, resolved
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	every := fs.Duration("every", 0, "repeat the ingestion on this interval until interrupted (e.g. 24h)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, resolved := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	orch, err := ingest.NewOrchestrator(cfg.IngestConfig(), components.Embedder, components.Index,
		ingest.WithLogger(logger),
		ingest.WithLedger(components.Runs),
		ingest.WithHostLimiter(extract.NewHostLimiter(cfg.Feeds.RateLimit, cfg.Feeds.RateBurst)),
	)
	if err != nil {
		logger.Fatal("Failed to create orchestrator", zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *every > 0 {
		logger.Info("scheduled ingestion", zap.Duration("every", *every))
		if err := ingest.RunEvery(ctx, orch, *every); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Shutting down...")
		return
	}

	_, stats, err := orch.Run(ctx)
	if errors.Is(err, ingest.ErrInterrupted) {
		logger.Warn("ingestion interrupted; previous snapshot and marker left in place", zap.String("run_id", stats.ID))
		components.Close()
		os.Exit(130)
	}
	if err != nil {
		logger.Error("ingestion failed", zap.String("run_id", stats.ID), zap.Error(err))
		components.Close()
		os.Exit(1)
	}
	fmt.Printf("Ingested %d records from %d feeds in %s\n",
		stats.Records, stats.Feeds, stats.Duration().Round(time.Millisecond))
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, resolved := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if readiness.IsReady(cfg.Storage.ReadyMarkerPath) {
		if err := components.Index.Load(cfg.Storage.SnapshotPath); err != nil {
			logger.Warn("snapshot load failed; serving an empty index", zap.Error(err))
		}
	} else {
		logger.Info("no data yet; serving an empty index until ingestion publishes one",
			zap.String("marker", cfg.Storage.ReadyMarkerPath))
	}

	engine := components.NewEngine(cfg, logger)

	snapshot := cfg.Storage.SnapshotPath
	watchSvc := watcher.NewWatcher(cfg.Storage.ReadyMarkerPath,
		func() {
			if _, err := engine.Reload(snapshot); err != nil {
				logger.Warn("reload failed; keeping the current index", zap.Error(err))
			}
		},
		watcher.WithLogger(logger),
		watcher.WithOnCleared(func() {
			logger.Info("readiness marker removed; keeping the current index until the next publish")
		}),
	)
	ctx, cancel := signalContext()
	defer cancel()
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	logger.Info("watching readiness marker", zap.String("marker", watchSvc.MarkerPath()))
	defer watchSvc.Stop()

	srv := server.NewServer(engine, &cfg.Server,
		server.WithRunStore(components.Runs),
		server.WithDataFiles(components.Files),
		server.WithLogger(logger),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: newsrag search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Without --server the snapshot is loaded directly from storage.snapshot_path.

Examples:
  newsrag search interest rates
  newsrag search --server http://localhost:8080 "launch window"
  newsrag search --output json rate cuts
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty loads the snapshot directly")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	var response *models.SearchResponse
	if *serverURL != "" {
		response, err = cli.NewClient(*serverURL).Search(ctx, queryStr)
	} else {
		response, err = searchDirect(ctx, *configPath, queryStr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchDirect(ctx context.Context, configPath, query string) (*models.SearchResponse, error) {
	cfg, logger, _ := setup(configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if err := components.Index.Load(cfg.Storage.SnapshotPath); err != nil {
		return nil, err
	}
	return components.NewEngine(cfg, logger).Search(ctx, query)
}

func runChat() {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty loads the snapshot and calls the model directly")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	message := buildSearchQuery(fs.Args())
	if message == "" {
		fmt.Fprintln(os.Stderr, "Usage: newsrag chat [flags] <message>")
		os.Exit(1)
	}
	ctx, cancel := signalContext()
	defer cancel()

	var related []models.GroupMatches
	var err error
	if *serverURL != "" {
		related, err = cli.NewClient(*serverURL).Chat(ctx, message, os.Stdout)
	} else {
		related, err = chatDirect(ctx, *configPath, message)
	}
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chat failed: %v\n", err)
		os.Exit(1)
	}
	if len(related) > 0 {
		fmt.Println("\nRelated articles:")
		for _, g := range related {
			for _, m := range g.Matches {
				fmt.Printf("  [%s] %s\n    %s\n", g.Group, m.Title, m.URL)
			}
		}
	}
}

func chatDirect(ctx context.Context, configPath, message string) ([]models.GroupMatches, error) {
	cfg, logger, _ := setup(configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()
	if err := components.Index.Load(cfg.Storage.SnapshotPath); err != nil {
		return nil, err
	}
	fragments, resp, err := components.NewEngine(cfg, logger).Chat(ctx, message)
	if err != nil {
		return nil, err
	}
	for frag := range fragments {
		fmt.Print(frag)
	}
	return resp.Groups, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty reads the data files directly")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, cancel := signalContext()
	defer cancel()

	var status *models.StatusResponse
	if *serverURL != "" {
		status, err = cli.NewClient(*serverURL).Status(ctx)
	} else {
		status, err = statusDirect(ctx, *configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusDirect(ctx context.Context, configPath string) (*models.StatusResponse, error) {
	cfg, logger, _ := setup(configPath, false)
	defer logger.Sync()

	index, err := newIndex(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := index.Load(cfg.Storage.SnapshotPath); err != nil {
		return nil, err
	}
	status := &models.StatusResponse{
		Ready:        readiness.IsReady(cfg.Storage.ReadyMarkerPath),
		Records:      index.Size(),
		Groups:       map[string]int{},
		SnapshotPath: cfg.Storage.SnapshotPath,
	}
	for _, g := range index.Groups() {
		status.Groups[g] = index.GroupSize(g)
	}
	if info, err := os.Stat(cfg.Storage.SnapshotPath); err == nil {
		status.LoadedAt = info.ModTime()
	}

	runs, err := storage.NewSQLiteRunStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer runs.Close()
	if last, err := runs.LatestRun(ctx); err == nil {
		status.LastRun = last
	} else if !errors.Is(err, storage.ErrNoRuns) {
		return nil, err
	}

	if n, err := storage.DiskUsageBytes(cfg.Storage.SnapshotPath, cfg.Storage.ReadyMarkerPath, cfg.Storage.DatabasePath); err == nil {
		status.DiskUsageBytes = n
	}
	return status, nil
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 10, "number of runs to show (0 = all)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger, _ := setup(*configPath, false)
	defer logger.Sync()

	runs, err := storage.NewSQLiteRunStore(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run ledger: %v\n", err)
		os.Exit(1)
	}
	defer runs.Close()
	list, err := runs.ListRuns(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List runs failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRuns(os.Stdout, list, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runReset() {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, _ := setup(*configPath, false)
	defer logger.Sync()
	if err := resetData(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %s and %s\n", cfg.Storage.ReadyMarkerPath, cfg.Storage.SnapshotPath)
}

// resetData withdraws the readiness marker first so a serving process never reloads a
// half-removed snapshot.
func resetData(cfg *config.Config) error {
	if err := readiness.Clear(cfg.Storage.ReadyMarkerPath); err != nil {
		return err
	}
	if err := os.Remove(cfg.Storage.SnapshotPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Embedder embedding.Embedder
	Index    *vector.Index
	Runs     *storage.SQLiteRunStore
	Files    storage.DataFiles
}

// Close releases the embedder and the run ledger. Safe to call twice.
func (c *Components) Close() {
	if c.Runs != nil {
		_ = c.Runs.Close()
		c.Runs = nil
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
		c.Embedder = nil
	}
}

// NewEngine builds the query engine over the component index with the configured model.
func (c *Components) NewEngine(cfg *config.Config, logger *zap.Logger) *search.Engine {
	gen := llm.NewOpenAIGenerator(cfg.LLMClientConfig(), llm.WithLogger(logger))
	logger.Debug("language model configured", zap.String("model", gen.Model()), zap.String("base_url", cfg.LLM.BaseURL))
	return search.NewEngine(c.Embedder, c.Index, search.WithGenerator(gen), search.WithLogger(logger))
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	index, err := newIndex(cfg, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	runs, err := storage.NewSQLiteRunStore(cfg.Storage.DatabasePath)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize run ledger: %w", err)
	}
	logger.Info("components initialized",
		zap.String("embedding_backend", cfg.Embedding.Backend),
		zap.Int("dimensions", embedder.Dimensions()),
		zap.Bool("accelerated", embedding.IsAccelerated(embedder)),
	)
	return &Components{
		Embedder: embedder,
		Index:    index,
		Runs:     runs,
		Files: storage.DataFiles{
			Snapshot: cfg.Storage.SnapshotPath,
			Marker:   cfg.Storage.ReadyMarkerPath,
			Database: cfg.Storage.DatabasePath,
		},
	}, nil
}

func newIndex(cfg *config.Config, logger *zap.Logger) (*vector.Index, error) {
	return vector.NewIndex(cfg.Embedding.Dimensions,
		vector.WithTopK(cfg.Search.TopK),
		vector.WithMinSimilarity(cfg.Search.Threshold()),
		vector.WithLogger(logger),
	)
}

// newEmbedder builds the configured backend. An ONNX model that cannot be loaded falls back to
// the deterministic mock embedder so the pipeline still runs.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Embedding.Backend {
	case config.BackendMock:
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	case config.BackendOpenAI:
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			CacheSize:  cfg.Embedding.CacheSize,
		})
	case config.BackendONNX:
		e, err := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
			cfg.Embedding.CacheSize,
		)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder",
				zap.String("model_path", cfg.Embedding.ModelPath), zap.Error(err))
			return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}
}

func printUsage() {
	fmt.Println(`newsrag - Feed ingestion and retrieval for newsletter RAG

Usage:
  newsrag ingest [flags]           Fetch feeds, embed articles, publish a snapshot
  newsrag serve [flags]            Start the HTTP server (reloads on new snapshots)
  newsrag search [flags] <query>   Retrieve matching articles
  newsrag chat [flags] <message>   Ask the language model about matching articles
  newsrag status [flags]           Show index, readiness and last run
  newsrag runs [flags]             List recorded ingestion runs
  newsrag reset [flags]            Remove the snapshot and readiness marker
  newsrag version                  Show version
  newsrag help                     Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/newsrag/config.yaml,
                     or ./config.yaml when present)

Ingest Flags:
  --every duration   Repeat on this interval until interrupted (e.g. 24h)
  --debug            Enable debug logging

Serve Flags:
  --debug            Enable debug logging

Search / Chat / Status Flags:
  --server string    Server URL. Empty (default) reads the data files directly.
  --output string    Output format: text, compact, or json (search, status)

Runs Flags:
  --limit int        Number of runs to show (default: 10, 0 = all)
  --output string    Output format: text, compact, or json

Environment:
  NEWSRAG_* variables (and a .env file) override the config file, e.g.
  NEWSRAG_LLM_BASE_URL, NEWSRAG_LLM_MODEL, NEWSRAG_EMBEDDING_BACKEND, NEWSRAG_SERVER_PORT.

Examples:
  newsrag ingest
  newsrag ingest --every 24h
  newsrag serve
  newsrag search "interest rates"
  newsrag search --server http://localhost:8080 --output json rate cuts
  newsrag chat --server http://localhost:8080 what happened with rates this week
  newsrag status --output json
  newsrag runs --limit 5`)
}
