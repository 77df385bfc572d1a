package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/flowcast/forecaster/internal/config"
	"github.com/flowcast/forecaster/internal/httpapi"
	"github.com/flowcast/forecaster/internal/logger"
	"github.com/flowcast/forecaster/internal/persistence"
	"github.com/flowcast/forecaster/internal/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	lg := logger.New(logLevel)
	lg.Banner(version)

	cfg := config.FromEnv()
	if dbPath != "" {
		cfg.DBURL = dbPath
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = runtime.NumCPU()
	}

	db, err := persistence.Open(cfg.DBURL, lg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	handlers := httpapi.BuildTaskHandlers(db, lg)
	runner := tasks.New(
		cfg.WorkerPoolSize,
		time.Duration(cfg.TaskResultTTLSeconds)*time.Second,
		cfg.TaskQueueHighWater,
		handlers, lg, prometheus.DefaultRegisterer,
	)
	defer runner.Shutdown()

	srv := httpapi.New(cfg, db, runner, lg)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		lg.Info("server", "shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			lg.Error("server", "shutdown error", map[string]any{"error": err.Error()})
		}
	}()

	lg.Info("server", fmt.Sprintf("listening on %s", cfg.HTTPAddr), map[string]any{"workers": cfg.WorkerPoolSize})
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	lg.Info("server", "stopped")
	return nil
}
