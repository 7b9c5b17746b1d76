package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teleprompt/autocue/internal/api"
	"github.com/teleprompt/autocue/internal/classify"
	"github.com/teleprompt/autocue/internal/config"
	"github.com/teleprompt/autocue/internal/corpus"
	"github.com/teleprompt/autocue/internal/pipeline"
	"github.com/teleprompt/autocue/internal/prompt"
	"github.com/teleprompt/autocue/internal/provider"
	"github.com/teleprompt/autocue/internal/reindex"
	"github.com/teleprompt/autocue/internal/retrieval"
	"github.com/teleprompt/autocue/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the autocue server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running autocue server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show autocue system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "autocue.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// cloudModels adapts the OpenRouter catalog to the model-listing interface.
type cloudModels struct {
	client *provider.OpenRouter
}

func (c cloudModels) ListModels(ctx context.Context) ([]string, error) {
	models, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "autocue version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if cfg.LogLevelDebug() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in the platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if a server is already running via the health
	// endpoint first.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("autocue is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("autocue is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Select the generation backend and check local model readiness. The
	// embedding and classification models are always local; the format model
	// only needs pulling when generation runs on Ollama too.
	generator, ollamaClient, err := provider.Detect(&cfg)
	if err != nil {
		return fmt.Errorf("detecting generation backend: %w", err)
	}
	required := []string{cfg.Ollama.EmbedModel, cfg.Ollama.FastModel}
	if cfg.Generation.Backend == "ollama" {
		required = append(required, cfg.Ollama.FormatModel)
	}
	if err := provider.EnsureReady(ctx, ollamaClient, required, func(msg string) {
		printStep("%s", msg)
	}); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the format pipeline.
	corpusStore := corpus.NewStore(store.DB(), cfg.Retrieval.Dimension)
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)

	// Merge the bundled example corpus. A failure here (Ollama mid-restart,
	// say) should not stop the server; the merge reruns on next start.
	if added, updated, err := corpus.Seed(ctx, corpusStore, embedder); err != nil {
		slog.Warn("bundled corpus merge failed", "error", err)
	} else if added+updated > 0 {
		slog.Info("bundled corpus merged", "added", added, "updated", updated)
	}

	classifier := classify.New(ollamaClient, cfg.Ollama.FastModel)
	manager := corpus.NewManager(corpusStore, embedder, classifier)
	searcher := retrieval.NewSearcher(corpusStore)
	selector := retrieval.NewSelector(embedder, searcher, cfg.Retrieval.TopK, float32(cfg.Retrieval.MinSimilarity))
	builder := prompt.New(0)
	processor := pipeline.New(selector, builder, generator, store)
	defaultModel := provider.GenerationModel(&cfg)

	var models api.ModelLister = ollamaClient
	if or, ok := generator.(*provider.OpenRouter); ok {
		models = cloudModels{client: or}
	}

	handler := api.NewHandler(api.Deps{
		Manager:      manager,
		Store:        store,
		CorpusStore:  corpusStore,
		Formatter:    processor,
		Models:       models,
		DefaultModel: defaultModel,
		Token:        apiToken,
		HTTPClient:   &http.Client{Timeout: 15 * time.Second},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start the reindex worker.
	worker := reindex.NewWorker(store, corpusStore, embedder, 0)
	go worker.Run(ctx)

	// Build and start the MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Manager:      manager,
		Formatter:    processor,
		Searcher:     searcher,
		Embedder:     embedder,
		DefaultModel: defaultModel,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "autocue listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("autocue is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop autocue (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to autocue (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Backend", "%s", cfg.Generation.Backend)
	if cfg.Generation.Backend == "openrouter" {
		printStatus("Cloud model", "%s", cfg.Generation.CloudModel)
	} else {
		printStatus("Format model", "%s", cfg.Ollama.FormatModel)
	}
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show corpus and result counts if the server is running.
	if apiToken, tokenErr := config.GetAPIToken(config.NewKeychain()); tokenErr == nil && serverUp {
		ac := &apiClient{baseURL: serverURL, token: apiToken, httpClient: client}
		ctx := context.Background()

		if resp, err := ac.get(ctx, "/v1/examples"); err == nil {
			var body struct {
				Examples []json.RawMessage `json:"examples"`
			}
			if decodeJSON(resp, &body) == nil {
				printStatus("Examples", "%d", len(body.Examples))
			}
		}
		if resp, err := ac.get(ctx, "/v1/results?limit=100"); err == nil {
			var body struct {
				Results []json.RawMessage `json:"results"`
			}
			if decodeJSON(resp, &body) == nil {
				printStatus("Results", "%s", countLabel(len(body.Results), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
