package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mediarchive/internal/server"
	"mediarchive/internal/watcher"
)

var (
	serveListen string
	serveWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archive daemon",
	Long: `Serves the archive over HTTP: upload, download, deploy and inspect
objects through a JSON API backed by the SQLite metadata database.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the deployment root for drift",
	Long: `Watches deployed files and logs when they are modified or removed out
from under the archive. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "listen address (default: from config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also watch the deployment root for drift")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(a)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if err := reconfigureLogger(cfg.Logging); err != nil {
		return err
	}

	meta, err := openMeta(a)
	if err != nil {
		return err
	}
	defer meta.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if serveWatch && !a.Bare() {
		debounce, err := cfg.WatchDebounce()
		if err != nil {
			return err
		}
		dw, err := watcher.New(a, meta, debounce, logger)
		if err != nil {
			return err
		}
		if err := dw.Start(); err != nil {
			return err
		}
		defer dw.Stop()
	}

	return server.New(cfg, a, meta, logger).Start(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(a)
	if err != nil {
		return err
	}
	debounce, err := cfg.WatchDebounce()
	if err != nil {
		return err
	}
	if err := reconfigureLogger(cfg.Logging); err != nil {
		return err
	}

	meta, err := openMeta(a)
	if err != nil {
		return err
	}
	defer meta.Close()

	dw, err := watcher.New(a, meta, debounce, logger)
	if err != nil {
		return err
	}
	if err := dw.Start(); err != nil {
		return err
	}
	defer dw.Stop()

	logger.Info("watching deployment root", zap.String("root", a.DeployPath()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	stats := dw.Stats()
	logger.Info("watcher stopped",
		zap.Int("modified", stats.Modified),
		zap.Int("removed", stats.Removed),
		zap.Int("errors", stats.Errors))
	return nil
}
