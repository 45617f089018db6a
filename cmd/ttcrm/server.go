package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tableturnerr/ttcrm/internal/api"
	"github.com/tableturnerr/ttcrm/internal/config"
	"github.com/tableturnerr/ttcrm/internal/storage"
)

// staleJobAge is how long a running job may go untouched before serve
// assumes its process died and requeues it.
const staleJobAge = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API, MCP server and outbox worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("stdio")
		return runServer(cmd.Context(), stdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ttcrm server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and outbox status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("stdio", false, "also serve MCP over stdin/stdout")
}

// pidFile records the PID of the running `ttcrm serve`.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "ttcrm.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func (p pidFile) remove() {
	_ = os.Remove(string(p))
}

// checkHealth asks a local server on port for /health and returns its HTTP
// status, or an error when nothing answers.
func checkHealth(port int) (int, error) {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// ensureNotRunning fails when another server already answers on port.
func ensureNotRunning(port int, pid pidFile) error {
	if _, err := checkHealth(port); err != nil {
		return nil
	}
	if n, err := pid.read(); err == nil {
		return fmt.Errorf("ttcrm is already running (PID %d)", n)
	}
	return fmt.Errorf("port %d is already serving ttcrm", port)
}

func runServer(ctx context.Context, stdio bool) error {
	fmt.Fprintf(os.Stderr, "ttcrm version %s\n", version)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()
	slog.SetDefault(a.logger)
	cfg := a.cfg

	apiToken := cfg.Server.APIToken
	if apiToken == "" {
		if apiToken, err = config.GetAPIToken(a.kc); err != nil {
			return fmt.Errorf("initializing API token: %w", err)
		}
	}
	a.logger.Info("API bearer token available")

	pid := pidFileIn(cfg.Storage.DataDir)
	if err := ensureNotRunning(cfg.Server.Port, pid); err != nil {
		return err
	}
	if err := pid.write(); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer pid.remove()

	if n, err := a.store.RequeueStale(staleJobAge); err != nil {
		a.logger.Warn("requeueing stale jobs", "error", err)
	} else if n > 0 {
		a.logger.Info("requeued stale jobs", "count", n)
	}
	if err := a.metrics.WatchJobs(a.store, a.logger); err != nil {
		return fmt.Errorf("registering outbox metrics: %w", err)
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Companies: a.companies,
		ColdCalls: a.coldCalls,
		Notes:     a.notes,
		Counter:   a.client,
		Jobs:      a.store,
		Version:   version,
		Logger:    a.logger,
	})
	handler := api.NewAppHandler(api.AppDeps{
		Auth:       a.client.Auth(),
		Companies:  a.companies,
		ColdCalls:  a.coldCalls,
		Recordings: a.recordings,
		Notes:      a.notes,
		Team:       a.team,
		Counter:    a.client,
		Jobs:       a.store,
		Worker:     a.worker,
		Token:      apiToken,
		Metrics:    a.metrics,
		MCP:        mcpSrv,
		Logger:     a.logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.worker.Run(ctx)

	if stdio {
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("MCP stdio server error", "error", err)
			}
		}()
		a.logger.Info("MCP server started (stdio transport)")
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pid := pidFileIn(cfg.Storage.DataDir)
	n, err := pid.read()
	if err != nil {
		return fmt.Errorf("ttcrm is not running (no PID file): %w", err)
	}
	// FindProcess always succeeds on Unix; Signal reports a dead PID.
	proc, _ := os.FindProcess(n)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		pid.remove()
		return fmt.Errorf("stopping ttcrm (PID %d): %w", n, err)
	}
	printSuccess("Sent stop signal to ttcrm (PID %d)", n)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	switch code, err := checkHealth(cfg.Server.Port); {
	case err != nil:
		printStatus("Server", "stopped")
	case code == http.StatusOK:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "error (HTTP %d)", code)
	}

	if cfg.Store.URL == "" {
		printStatus("Store", "not configured")
	} else {
		printStatus("Store", "%s", cfg.Store.URL)
	}
	if _, err := config.SessionToken(newKeychain()); err == nil {
		printStatus("Session", "signed in")
	} else {
		printStatus("Session", "signed out")
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printStatus("Outbox", "unavailable: %v", err)
	} else {
		defer store.Close()
		if counts, err := store.CountJobs(); err == nil {
			printStatus("Outbox", "%d pending, %d failed", counts[storage.JobPending], counts[storage.JobFailed])
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
