package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mediarchive/internal/archive"
	"mediarchive/internal/config"
	"mediarchive/internal/store"
)

var (
	// Global flags
	verbose     bool
	archivePath string
	configPath  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mediarchive",
	Short: "mediarchive - content-addressable media archive",
	Long: `mediarchive stores media files exactly once, keyed by the BLAKE3 hash
of their contents, and deploys them to working paths by copy, symlink or
hardlink.

A normal archive lives in a hidden .media-archive directory inside the
deployment root. A bare archive (--bare on init) only stores objects and
cannot deploy, similar to a bare Git repository.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing config file yields defaults plus environment
		// overrides, so MEDIARCHIVE_PATH and MEDIARCHIVE_LOG_LEVEL
		// apply even before an archive exists.
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// --path wins over the config file and the environment.
		if !cmd.Root().PersistentFlags().Changed("path") {
			archivePath = cfg.Path
		}

		logger, err = newLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&archivePath, "path", "p", ".", "archive location (deployment root, or the archive directory for bare archives)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default <archive>/config.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
}

// newLogger builds the process logger from the logging config.
// --verbose forces debug regardless of the configured level.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// reconfigureLogger swaps the process logger for one built from the
// archive's config file.
func reconfigureLogger(cfg config.LoggingConfig) error {
	l, err := newLogger(cfg)
	if err != nil {
		return err
	}
	_ = logger.Sync()
	logger = l
	return nil
}

// openArchive opens the archive the command operates on, failing when path
// does not hold one.
func openArchive() (*archive.Archive, error) {
	a, err := archive.Detect(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'mediarchive init' first)", err)
	}
	return a, nil
}

// openMeta opens the metadata database living inside the archive.
func openMeta(a *archive.Archive) (*store.Store, error) {
	meta, err := store.Open(a.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	return meta, nil
}

// loadConfig loads the config file for the archive, honoring --config.
func loadConfig(a *archive.Archive) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(a.Path(), "config.yaml")
	}
	return config.Load(path)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
