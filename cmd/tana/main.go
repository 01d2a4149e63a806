// Package main is the tana CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tana-search/tana/internal/agent"
	"github.com/tana-search/tana/internal/config"
	"github.com/tana-search/tana/internal/embedding"
	"github.com/tana-search/tana/internal/foldertree"
	"github.com/tana-search/tana/internal/ingest"
	"github.com/tana-search/tana/internal/models"
	"github.com/tana-search/tana/internal/progress"
	"github.com/tana-search/tana/internal/registry"
	"github.com/tana-search/tana/internal/server"
	"github.com/tana-search/tana/internal/watchsvc"
	"github.com/tana-search/tana/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tana/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence so running from the project dir
// picks up the project's config.
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
	switch os.Args[1] {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "topics":
		runTopics()
	case "status":
		runStatus()
	case "export":
		runExport()
	case "import":
		runImport()
	case "pause":
		runControl("pause")
	case "resume":
		runControl("resume")
	case "version", "--version", "-v":
		fmt.Printf("tana version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`tana - topic-scoped local document index and search

Usage:
  tana server [-config path] [-debug]      start the HTTP server
  tana search [flags] <query>              search via a running server
  tana topics [-server url]                list topics
  tana status [-server url]                show server status
  tana pause [-server url]                 pause ingestion
  tana resume [-server url]                resume ingestion
  tana export -topic <name> -out <file>    export a topic archive
  tana import -archive <file>              import a topic archive
  tana version                             print version
  tana help                                show this help
`)
}

// components holds everything the in-process commands need.
type components struct {
	cfg        *config.Config
	logger     *zap.Logger
	embeddings *embedding.Manager
	progress   *progress.Coordinator
	folders    *foldertree.Service
	registry   *registry.Manager
	agents     *agent.Cache
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) *components {
	embeddings := embedding.NewManager(
		cfg.Embedding.Model,
		cfg.Embedding.ModelPath,
		cfg.Embedding.Available,
		cfg.Embedding.Dimensions,
		cfg.Embedding.MaxTokens,
		cfg.Embedding.CacheSize,
		embedding.WithManagerLogger(logger),
	)
	prog := progress.NewCoordinator(progress.WithLogger(logger))
	folders := foldertree.NewService(cfg.Storage.Root, foldertree.WithLogger(logger))
	reg := registry.NewManager(cfg, embeddings, prog, folders, registry.WithLogger(logger))
	reg.SetPipeline(ingest.NewDefaultPipeline(
		embeddings,
		embedding.NewCache(cfg.Embedding.CacheSize),
		reg,
		cfg.Search.ChunkSize,
		cfg.Search.ChunkOverlap,
		ingest.WithLogger(logger),
	))
	agents := agent.NewCache(logger)
	go agents.Listen(reg.CleanupEvents())
	return &components{
		cfg:        cfg,
		logger:     logger,
		embeddings: embeddings,
		progress:   prog,
		folders:    folders,
		registry:   reg,
		agents:     agents,
	}
}

func (c *components) Close() {
	_ = c.embeddings.Close()
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (watch events, ingestion steps, etc.)")
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

	comp := initializeComponents(cfg, logger)
	defer comp.Close()

	ctx := context.Background()
	if err := comp.registry.EnsureInitialized(ctx); err != nil {
		logger.Fatal("Failed to initialize registry", zap.Error(err))
	}

	var watch *watchsvc.Coordinator
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	if cfg.Watch.Enabled && len(cfg.Watch.Folders) > 0 {
		watch, err = watchsvc.NewCoordinator(cfg.Watch, comp.registry, watchsvc.WithLogger(logger))
		if err != nil {
			logger.Fatal("Invalid watch configuration", zap.Error(err))
		}
		comp.folders.SetWatchFolders(watch.Folders())
		if err := watch.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watch coordinator", zap.Error(err))
		}
	}

	srv := server.NewServer(comp.registry, comp.progress, comp.embeddings, comp.agents, watch, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watch != nil {
		watch.Stop()
	}
	watchCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://127.0.0.1:8412", "server URL")
	topic := fs.String("topic", "", "topic name (default: first available)")
	limit := fs.Int("limit", 10, "number of results")
	asJSON := fs.Bool("json", false, "print raw JSON response")
	_ = fs.Parse(os.Args[2:])

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Println("Usage: tana search [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", *limit))
	if *topic != "" {
		params.Set("topic", *topic)
	}
	body, err := httpGet(*serverURL + "/search?" + params.Encode())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		fmt.Println(string(body))
		return
	}
	var response models.SearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d results for %q (%s, %dms)\n\n", response.TotalResults, response.Query, response.Strategy, response.ExecutionTime)
	for i, r := range response.Results {
		fmt.Printf("%2d. [%.3f] %s\n    %s\n", i+1, r.Score, r.Path, utils.Truncate(r.Content, 160))
	}
}

func runTopics() {
	fs := flag.NewFlagSet("topics", flag.ExitOnError)
	serverURL := fs.String("server", "http://127.0.0.1:8412", "server URL")
	_ = fs.Parse(os.Args[2:])

	body, err := httpGet(*serverURL + "/topics")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list topics: %v\n", err)
		os.Exit(1)
	}
	var listing struct {
		Topics []struct {
			Name          string `json:"name"`
			DocumentCount int    `json:"document_count"`
			ChunkCount    int    `json:"chunk_count"`
			Source        string `json:"source"`
		} `json:"topics"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		fmt.Fprintf(os.Stderr, "Bad response: %v\n", err)
		os.Exit(1)
	}
	if len(listing.Topics) == 0 {
		fmt.Println("No topics.")
		return
	}
	for _, t := range listing.Topics {
		marker := ""
		if t.Source == "common" {
			marker = " (read-only)"
		}
		fmt.Printf("%-30s %5d docs %7d chunks%s\n", t.Name, t.DocumentCount, t.ChunkCount, marker)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://127.0.0.1:8412", "server URL")
	_ = fs.Parse(os.Args[2:])

	body, err := httpGet(*serverURL + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server unreachable: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func runControl(action string) {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	serverURL := fs.String("server", "http://127.0.0.1:8412", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Post(*serverURL+"/"+action, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	topicName := fs.String("topic", "", "topic name to export")
	out := fs.String("out", "", "output archive path (.tar.gz)")
	_ = fs.Parse(os.Args[2:])
	if *topicName == "" || *out == "" {
		fmt.Println("Usage: tana export -topic <name> -out <file>")
		os.Exit(1)
	}
	comp := offlineComponents(*configPath)
	defer comp.Close()

	ctx := context.Background()
	topic, err := comp.registry.TopicByName(ctx, *topicName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	if err := comp.registry.ExportTopic(ctx, topic.ID, *out); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %q to %s\n", topic.Name, *out)
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	archive := fs.String("archive", "", "archive path (.tar.gz)")
	_ = fs.Parse(os.Args[2:])
	if *archive == "" {
		fmt.Println("Usage: tana import -archive <file>")
		os.Exit(1)
	}
	comp := offlineComponents(*configPath)
	defer comp.Close()

	topic, err := comp.registry.ImportTopic(context.Background(), *archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported topic %q (%d documents)\n", topic.Name, topic.DocumentCount)
}

// offlineComponents builds the in-process stack for commands that touch the
// storage root directly. Run them only while the server is stopped; the
// stores are single-writer.
func offlineComponents(configPath string) *components {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return initializeComponents(cfg, logger)
}

func httpGet(rawURL string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s (HTTP %d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return body, nil
}
