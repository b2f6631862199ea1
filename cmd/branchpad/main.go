// Package main is the entry point for the branchpad server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/branchpad/branchpad/internal/chat"
	"github.com/branchpad/branchpad/internal/config"
	"github.com/branchpad/branchpad/internal/httpapi"
	"github.com/branchpad/branchpad/internal/oplog"
	"github.com/branchpad/branchpad/internal/remote"
	"github.com/branchpad/branchpad/internal/syncer"
	"github.com/branchpad/branchpad/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting branchpad server")

	opLog, err := oplog.BuildLogFromDSN(cfg.OplogDSN)
	if err != nil {
		log.Error("failed to open operation log", zap.String("dsn", cfg.OplogDSN), zap.Error(err))
		os.Exit(1)
	}
	defer opLog.Close()

	remoteStore, err := remote.BuildStoreFromDSN(cfg.RemoteDSN, cfg.RemoteToken)
	if err != nil {
		log.Error("failed to build remote store", zap.Error(err))
		os.Exit(1)
	}

	var conn syncer.Connectivity
	if cfg.ConnectivityURL != "" {
		monitor := syncer.NewSocketMonitor(cfg.ConnectivityURL, log)
		defer monitor.Close()
		conn = monitor
	} else {
		conn = syncer.NewStatic(true)
	}

	exec := syncer.New(opLog, remoteStore, conn, log, syncer.Options{
		MaxAttempts: cfg.SyncMaxAttempts,
	})
	defer exec.Close()

	store := chat.NewStore(exec, log)
	if err := store.LoadFrom(cfg.SnapshotPath); err != nil {
		log.Error("failed to load snapshot", zap.String("path", cfg.SnapshotPath), zap.Error(err))
		os.Exit(1)
	}

	// When another process shares the file-backed log, pick up its
	// appends and drain them.
	if watcher := watchSharedLog(cfg, opLog, exec, log); watcher != nil {
		defer watcher.Close()
	}

	server := httpapi.NewServer(store, exec, log, httpapi.ServerConfig{
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Drain anything left over from a previous session.
	go exec.Drain(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if err := store.SaveTo(cfg.SnapshotPath); err != nil {
		log.Error("failed to save snapshot", zap.Error(err))
	}
	log.Info("stopped", zap.Int("pending_operations", exec.Depth()))
}

// watchSharedLog wires a filesystem watcher to the file-backed log so
// operations appended by another process get reloaded and drained.
func watchSharedLog(cfg *config.Config, opLog oplog.Log, exec *syncer.Executor, log *logger.Logger) *oplog.Watcher {
	if !cfg.WatchOplog {
		return nil
	}
	reloader, ok := opLog.(oplog.Reloader)
	if !ok {
		return nil
	}
	path := strings.TrimPrefix(cfg.OplogDSN, "file://")
	if strings.Contains(path, "://") {
		return nil
	}
	watcher, err := oplog.Watch(path)
	if err != nil {
		log.Warn("failed to watch operation log", zap.String("path", path), zap.Error(err))
		return nil
	}
	go func() {
		for range watcher.Events() {
			if err := reloader.Reload(); err != nil {
				log.Warn("failed to reload operation log", zap.Error(err))
				continue
			}
			exec.Drain(context.Background())
		}
	}()
	return watcher
}
