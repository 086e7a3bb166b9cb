// Package main is the Hantei CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hantei/internal/config"
	"github.com/hyperjump/hantei/internal/corpus"
	"github.com/hyperjump/hantei/internal/decision"
	"github.com/hyperjump/hantei/internal/embedding"
	"github.com/hyperjump/hantei/internal/engine"
	"github.com/hyperjump/hantei/internal/extract"
	"github.com/hyperjump/hantei/internal/history"
	"github.com/hyperjump/hantei/internal/models"
	"github.com/hyperjump/hantei/internal/retrieval"
	"github.com/hyperjump/hantei/internal/server"
	"github.com/hyperjump/hantei/internal/watcher"
	"github.com/hyperjump/hantei/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/hantei/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "hantei server" from the project dir uses the project's config (including debug).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
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
	case "server":
		runServer()
	case "decide":
		runDecide()
	case "seed":
		runSeed()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("hantei version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if cfg.Storage.SeedPath != "" {
		count, err := components.CorpusStore.CountPolicies(ctx)
		if err != nil {
			logger.Fatal("Failed to count policies", zap.Error(err))
		}
		if count == 0 {
			if err := components.ReloadFromSeed(ctx, cfg.Storage.SeedPath, logger); err != nil {
				logger.Fatal("Failed to seed corpus", zap.Error(err))
			}
		}
	}
	if err := components.RefreshSnapshot(ctx, logger); err != nil {
		logger.Fatal("Failed to load corpus snapshot", zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Storage.WatchSeed && cfg.Storage.SeedPath != "" {
		watchSvc := watcher.NewWatcher(cfg.Storage.SeedPath, func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer rcancel()
			if err := components.ReloadFromSeed(rctx, cfg.Storage.SeedPath, logger); err != nil {
				logger.Warn("seed reload failed, keeping previous snapshot", zap.Error(err))
				return
			}
			if err := components.RefreshSnapshot(rctx, logger); err != nil {
				logger.Warn("snapshot refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}, logger)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start seed watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	srv := server.NewServer(
		components.Engine,
		components.Holder,
		components.CorpusStore,
		components.History,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// buildQuery joins all positional args with spaces so multi-word queries work
// the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runDecide() {
	fs := flag.NewFlagSet("decide", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = run the pipeline locally)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: hantei decide [flags] <query>")
		os.Exit(1)
	}
	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		fmt.Println("Usage: hantei decide [flags] <query>")
		os.Exit(1)
	}

	if *serverURL != "" {
		stored, err := decideViaHTTP(*serverURL, queryStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Decide failed: %v\n", err)
			os.Exit(1)
		}
		writeDecision(stored.Outcome, stored.DegradedReason, &stored.Record, *outputFormat)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.RefreshSnapshot(ctx, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load corpus snapshot: %v\n", err)
		os.Exit(1)
	}

	result, err := components.Engine.Process(ctx, queryStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Decide failed: %v\n", err)
		os.Exit(1)
	}
	writeDecision(result.Kind, result.DegradedReason, result.Record, *outputFormat)
}

func decideViaHTTP(serverURL, query string) (*history.StoredDecision, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/queries", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var stored history.StoredDecision
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &stored, nil
}

func writeDecision(outcome engine.OutcomeKind, degradedReason string, record *models.DecisionRecord, format string) {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		out := map[string]interface{}{
			"outcome": outcome,
			"record":  record,
		}
		if degradedReason != "" {
			out["degraded_reason"] = degradedReason
		}
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("decision:      %s\n", record.Decision)
		if record.Amount != nil {
			fmt.Printf("amount:        %d\n", *record.Amount)
		}
		fmt.Printf("confidence:    %.4f\n", record.Confidence)
		fmt.Printf("justification: %s\n", record.Justification)
		if outcome == engine.OutcomeDegraded {
			fmt.Printf("outcome:       degraded (%s)\n", degradedReason)
		}
		if len(record.SourceClauses) > 0 {
			fmt.Println("\n# cited clauses")
			for _, rc := range record.SourceClauses {
				fmt.Printf("  %s  %s  %s  similarity=%.4f\n",
					rc.Clause.ID, rc.Clause.PolicyUIN, rc.Clause.Category, rc.Similarity)
			}
		}
		if len(record.ReasoningSteps) > 0 {
			fmt.Println("\n# reasoning")
			for _, step := range record.ReasoningSteps {
				fmt.Printf("  %s\n", step)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", format)
		os.Exit(1)
	}
}

func runSeed() {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	seedFile := fs.String("file", "", "seed file path (default: storage.seed_path from config)")
	_ = fs.Parse(os.Args[2:])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	path := *seedFile
	if path == "" {
		path = cfg.Storage.SeedPath
	}
	if path == "" {
		fmt.Println("No seed file: pass --file or set storage.seed_path in config")
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.ReloadFromSeed(ctx, path, logger); err != nil {
		fmt.Printf("Seeding failed: %v\n", err)
		os.Exit(1)
	}
	policies, _ := components.CorpusStore.CountPolicies(ctx)
	clauses, _ := components.CorpusStore.CountClauses(ctx)
	fmt.Printf("Seeded corpus from %s: %d policies, %d clauses\n", path, policies, clauses)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8090", "server URL (empty = use direct storage)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer components.Close()

	ctx := context.Background()
	policies, err := components.CorpusStore.CountPolicies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count policies failed: %v\n", err)
		os.Exit(1)
	}
	clauses, err := components.CorpusStore.CountClauses(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count clauses failed: %v\n", err)
		os.Exit(1)
	}
	decisions, err := components.History.CountDecisions(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Count decisions failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("policies:           %d\n", policies)
	fmt.Printf("clauses:            %d\n", clauses)
	fmt.Printf("decisions:          %d\n", decisions)
	fmt.Printf("embedding_provider: %s\n", cfg.Embedding.Provider)
	fmt.Printf("embedding_version:  %s\n", cfg.Embedding.Version)
	fmt.Printf("corpus_path:        %s\n", cfg.Storage.CorpusPath)
	fmt.Printf("history_path:       %s\n", cfg.Storage.HistoryPath)
}

// Components holds initialized services.
type Components struct {
	CorpusStore *corpus.Store
	History     *history.Store
	Embedder    embedding.Embedder
	Holder      *corpus.Holder
	Engine      *engine.Engine
}

func (c *Components) Close() {
	if c.CorpusStore != nil {
		_ = c.CorpusStore.Close()
	}
	if c.History != nil {
		_ = c.History.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

// ReloadFromSeed ingests the seed file into the corpus store, embedding every
// clause with the configured embedder.
func (c *Components) ReloadFromSeed(ctx context.Context, path string, logger *zap.Logger) error {
	seed, err := corpus.LoadSeed(path)
	if err != nil {
		return err
	}
	embedded, err := corpus.Seed(ctx, c.CorpusStore, c.Embedder, seed)
	if err != nil {
		return err
	}
	logger.Info("corpus seeded",
		zap.String("path", path),
		zap.Int("policies", len(seed.Policies)),
		zap.Int("clauses_embedded", embedded),
	)
	return nil
}

// RefreshSnapshot rebuilds the immutable snapshot from the corpus store and
// atomically swaps it in. In-flight queries keep the snapshot they started with.
func (c *Components) RefreshSnapshot(ctx context.Context, logger *zap.Logger) error {
	snap, err := c.CorpusStore.LoadSnapshot(ctx)
	if err != nil {
		return err
	}
	c.Holder.Swap(snap)
	logger.Info("corpus snapshot loaded",
		zap.Int("clauses", snap.Len()),
		zap.String("embedding_version", snap.EmbeddingVersion()),
	)
	return nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := corpus.NewStore(cfg.Storage.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize corpus store: %w", err)
	}

	hist, err := history.NewStore(cfg.Storage.HistoryPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize history store: %w", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		_ = store.Close()
		_ = hist.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	extractor := extract.NewExtractor(cfg.Vocab.Procedures, cfg.Vocab.Locations)
	holder := corpus.NewHolder(nil)
	retriever := retrieval.NewRetriever(*cfg.Retrieval.SimilarityFloor)
	synth := decision.NewSynthesizer(decision.Options{
		RelevanceFloor:    *cfg.Retrieval.RelevanceFloor,
		NoMatchConfidence: *cfg.Decision.NoMatchConfidence,
		ConditionalFactor: *cfg.Decision.ConditionalFactor,
		Rules:             &cfg.Rules,
	})
	eng := engine.New(extractor, embedder, holder, retriever, synth, engine.Options{
		TopK:            cfg.Retrieval.TopK,
		EmbedTimeout:    time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		FallbackEnabled: cfg.Decision.FallbackEnabled,
		DegradedCap:     *cfg.Decision.DegradedConfidenceCap,
	}, logger)

	return &Components{
		CorpusStore: store,
		History:     hist,
		Embedder:    embedder,
		Holder:      holder,
		Engine:      eng,
	}, nil
}

func printUsage() {
	fmt.Println(`hantei - Insurance query reasoning and decision engine

Usage:
  hantei server [flags]           Start the HTTP server
  hantei decide [flags] <query>   Decide a claim query
  hantei seed [flags]             Ingest the policy seed file into the corpus
  hantei status [flags]           Show corpus/history status
  hantei version                  Show version
  hantei help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/hantei/config.yaml)
  --debug            Enable debug logging

Decide Flags:
  --config string    Config file path (for local mode)
  --server string    Server URL (default: empty, runs the pipeline locally).
                     Use --server http://localhost:8090 to go through a running server.
  --output string    Output format: text or json (default: text)

Seed Flags:
  --config string    Config file path
  --file string      Seed file path (default: storage.seed_path from config)

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8090). Use empty (--server "") for direct storage.

Examples:
  hantei server
  hantei decide "46M, knee surgery, Pune, 3-month policy"
  hantei decide --output json 46M knee surgery in Pune, 3 month policy
  hantei seed --file seed.yaml
  hantei status`)
}
