package main

import (
	"context"
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

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/pkorolov/weir/internal/api"
	"github.com/pkorolov/weir/internal/backend"
	"github.com/pkorolov/weir/internal/config"
	"github.com/pkorolov/weir/internal/coordinator"
	"github.com/pkorolov/weir/internal/embedding"
	"github.com/pkorolov/weir/internal/extract"
	"github.com/pkorolov/weir/internal/federation"
	"github.com/pkorolov/weir/internal/ingest"
	"github.com/pkorolov/weir/internal/retrieval"
	"github.com/pkorolov/weir/internal/routing"
	"github.com/pkorolov/weir/internal/schedule"
	"github.com/pkorolov/weir/internal/scoring"
	"github.com/pkorolov/weir/internal/telemetry"
	"github.com/pkorolov/weir/internal/vector"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the weir daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running weir daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show weir system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "weir.pid")
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

// loadOrCreateToken returns the API bearer token: the configured one if
// set, otherwise a generated token persisted in the data dir so the CLI
// can find it across restarts.
func loadOrCreateToken(cfg config.Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	path := filepath.Join(cfg.Storage.DataDir, "token")
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}
	token := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("writing token file: %w", err)
	}
	return token, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "weir version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	token, err := loadOrCreateToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start twice. A reachable health endpoint means a live
	// daemon; a stale PID file alone does not.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("weir is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("weir is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local backend. The daemon starts even when Ollama is down; routing
	// and health checks surface the degradation per request.
	local := backend.NewOllamaClient(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	if !local.Healthy(ctx) {
		printWarning("Ollama not reachable at %s; local inference unavailable until it starts", cfg.Ollama.BaseURL)
	} else {
		for _, model := range []string{cfg.Ollama.Model, cfg.Ollama.EmbedModel} {
			if !local.HasModel(ctx, model) {
				printWarning("model %q not found locally; run: ollama pull %s", model, model)
			}
		}
	}

	// Remote backend is optional.
	var remote *backend.RemoteClient
	if cfg.Remote.APIKey != "" {
		if cfg.Remote.BaseURL != "" {
			remote = backend.NewRemoteClientWithBaseURL(cfg.Remote.APIKey, cfg.Remote.Model, cfg.Remote.BaseURL)
		} else {
			remote = backend.NewRemoteClient(cfg.Remote.APIKey, cfg.Remote.Model)
		}
		slog.Info("remote backend configured", "model", cfg.Remote.Model)
	} else {
		slog.Info("no remote API key; running local-only")
	}

	// Storage.
	vectors, err := vector.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer func() {
		if err := vectors.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing vector store: %v\n", err)
		}
	}()

	interactions, err := telemetry.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening telemetry log: %w", err)
	}
	defer interactions.Close()

	// Request path.
	embedder := embedding.NewClient(local, cfg.Ollama.EmbedModel)
	retriever := retrieval.NewRetriever(vectors, 0)
	router := routing.NewEngine(routing.Thresholds{
		HighScore: cfg.Routing.HighScore, HighComplexity: cfg.Routing.HighComplexity,
		MidScore: cfg.Routing.MidScore, MidComplexity: cfg.Routing.MidComplexity,
		LowScore: cfg.Routing.LowScore, LowComplexity: cfg.Routing.LowComplexity,
	}, remote.Configured())
	scorer, err := scoring.NewScorer(cfg.Scoring.Weights, vectors)
	if err != nil {
		return fmt.Errorf("building scorer: %w", err)
	}
	defaultMode, err := routing.ParseMode(cfg.Routing.Mode)
	if err != nil {
		return fmt.Errorf("routing.mode: %w", err)
	}

	deps := coordinator.Deps{
		Embedder:  embedder,
		Retriever: retriever,
		Router:    router,
		Local:     local,
		Scorer:    scorer,
		Telemetry: interactions,
		Vectors:   vectors,

		DefaultMode:           defaultMode,
		DefaultLimit:          cfg.Retrieval.Limit,
		DefaultScoreThreshold: cfg.Retrieval.ScoreThreshold,
	}
	if remote.Configured() {
		deps.Remote = remote
	}
	coord := coordinator.New(deps)

	ingestor := ingest.NewIngestor(embedder, vectors)

	// Background jobs.
	extractCfg := extract.Config{
		WindowRecords:       cfg.Extraction.WindowRecords,
		WindowAge:           time.Duration(cfg.Extraction.WindowAgeDays) * 24 * time.Hour,
		SimilarityThreshold: cfg.Extraction.SimilarityThreshold,
		MinClusterSize:      cfg.Extraction.MinClusterSize,
		MinTemplateLength:   cfg.Extraction.MinTemplateLength,
	}
	extractor := extract.NewExtractor(extractCfg, interactions, embedder, vectors)

	fedCfg := federation.Config{
		ExportDir:      cfg.Federation.ExportDir,
		SourcePaths:    cfg.Federation.SourcePaths,
		RetentionCount: cfg.Federation.RetentionCount,
		Origin:         cfg.Federation.Origin,
	}

	var jobs []schedule.Job
	if cfg.Extraction.Enabled {
		jobs = append(jobs, schedule.Job{
			Name:     "pattern-extraction",
			Interval: time.Duration(cfg.Extraction.IntervalMinutes) * time.Minute,
			Run: func(jobCtx context.Context) error {
				_, err := extractor.Run(jobCtx)
				return err
			},
		})
	}
	if cfg.Federation.Enabled {
		jobs = append(jobs, schedule.Job{
			Name:     "federation-sync",
			Interval: time.Duration(cfg.Federation.IntervalMinutes) * time.Minute,
			Run: func(jobCtx context.Context) error {
				if _, err := federation.Export(vectors, fedCfg); err != nil {
					return err
				}
				_, err := federation.Import(jobCtx, vectors, embedder, fedCfg)
				return err
			},
		})
	}
	runner := schedule.NewRunner(jobs...)
	go runner.Run(ctx)

	// HTTP API.
	handler := api.NewHandler(api.Deps{
		Service:   coord,
		Telemetry: interactions,
		Patterns:  vectors,
		Ingestor:  ingestor,
		Export: func() (federation.ExportResult, error) {
			return federation.Export(vectors, fedCfg)
		},
		Import: func(importCtx context.Context) (federation.ImportResult, error) {
			return federation.Import(importCtx, vectors, embedder, fedCfg)
		},
		Extract: func(extractCtx context.Context) (extract.Result, error) {
			return extractor.Run(extractCtx)
		},
		Token: token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio for editor and agent integrations.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Service:   coord,
		Telemetry: interactions,
		Ingestor:  ingestor,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Serve with a bounded connection count.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "weir listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

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
		printError("weir is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop weir (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to weir (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

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

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Local model", "%s", cfg.Ollama.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	if cfg.Remote.APIKey != "" {
		printStatus("Remote model", "%s", cfg.Remote.Model)
	} else {
		printStatus("Remote model", "not configured (local-only)")
	}

	if serverUp {
		if apiClient, err := newAPIClient(); err == nil {
			statsResp, err := apiClient.get(context.Background(), "/stats")
			if err == nil {
				var stats telemetry.Stats
				if decodeJSON(statsResp, &stats) == nil {
					printStatus("Interactions", "%d (%d served locally)", stats.Total, stats.LocalServed)
					if stats.ScoredCount > 0 {
						printStatus("Avg value score", "%.2f", stats.AverageValueScore)
					}
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
