package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/amelabs/ame/internal/api"
	"github.com/amelabs/ame/internal/config"
	"github.com/amelabs/ame/internal/embed"
	"github.com/amelabs/ame/internal/graph"
	"github.com/amelabs/ame/internal/lifecycle"
	"github.com/amelabs/ame/internal/repository"
	"github.com/amelabs/ame/internal/scheduler"
	"github.com/amelabs/ame/internal/storage"
	"github.com/amelabs/ame/internal/vector"
)

const (
	jobLifecycle = "lifecycle_management"
	jobExpiry    = "expiry_cleanup"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ame server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ame server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ame system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ame.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "ame version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ame is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ame is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// Build the hybrid repository. A missing embedder is tolerated: search
	// degrades to the graph leg until Ollama comes up.
	embedder := embed.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.EmbedModel)
	if !embedder.IsRunning(ctx) {
		slog.Warn("Ollama not reachable, vector search degraded until it comes up", "url", cfg.Ollama.BaseURL)
	}
	vectorIndex := vector.NewIndex(store.DB())
	graphStore := graph.NewStore(store.DB())

	repoOpts := repository.DefaultOptions()
	repoOpts.VectorWeight = cfg.Search.VectorWeight
	repoOpts.GraphWeight = cfg.Search.GraphWeight
	repoOpts.GraphDepth = cfg.Search.GraphDepth
	repo := repository.New(store, vectorIndex, graphStore, embedder, repoOpts, slog.Default())
	defer repo.Close()

	// Lifecycle jobs.
	manager := lifecycle.NewManager(store, repo, lifecycle.Config{
		HotDays:             cfg.Lifecycle.HotDays,
		WarmDays:            cfg.Lifecycle.WarmDays,
		RetentionDays:       cfg.Lifecycle.RetentionDays,
		ImportanceThreshold: cfg.Lifecycle.ImportanceThreshold,
	}, slog.Default())

	sched := scheduler.New(store, slog.Default())
	sched.Register(jobLifecycle, scheduler.Daily{Hour: 2}, lifecycleHandler(manager.RunLifecycle))
	sched.Register(jobExpiry, scheduler.Weekly{Weekday: time.Sunday, Hour: 3}, lifecycleHandler(manager.RunExpiry))
	sched.Start(ctx)
	defer sched.Stop()

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Repo:        repo,
		Jobs:        sched,
		History:     store,
		Token:       cfg.API.Token,
		SearchLimit: cfg.Search.TopK,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Repo:    repo,
		Jobs:    sched,
		History: store,
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
		fmt.Fprintf(os.Stderr, "ame listening on %s\n", addr)
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

	// Graceful shutdown with timeout. The deferred scheduler stop and
	// repository close drain in-flight jobs and writebacks afterwards.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// lifecycleHandler adapts a stats-returning lifecycle run to a scheduler
// handler, logging the run summary.
func lifecycleHandler(run func(ctx context.Context) (lifecycle.Stats, error)) scheduler.Handler {
	return func(ctx context.Context) error {
		stats, err := run(ctx)
		if err != nil {
			return err
		}
		slog.Info("lifecycle run complete",
			"processed", stats.Processed,
			"demoted", stats.Demoted,
			"purged", stats.Purged,
			"failed", stats.Failed,
		)
		if stats.Failed > 0 {
			return fmt.Errorf("%d documents failed", stats.Failed)
		}
		return nil
	}
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
		printError("ame is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ame (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ame (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
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
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show job status if the server is running.
	if running {
		if c, err := newAPIClient(); err == nil {
			if jobsResp, err := c.get("/jobs"); err == nil {
				var jobs []struct {
					Name    string `json:"name"`
					NextRun string `json:"next_run"`
				}
				if decodeJSON(jobsResp, &jobs) == nil {
					for _, j := range jobs {
						printStatus("Job "+j.Name, "next run %s", j.NextRun)
					}
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
