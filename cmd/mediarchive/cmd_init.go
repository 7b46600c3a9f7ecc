package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mediarchive/internal/archive"
	"mediarchive/internal/config"
)

var initBare bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a media archive",
	Long: `Creates a media archive at --path (default: the current directory).

Without --bare the archive directory is created hidden inside the path and
the path itself becomes the deployment root. With --bare the path itself is
the archive and nothing can be deployed into it.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initBare, "bare", false, "create a bare archive (no deployment root)")
}

func runInit(cmd *cobra.Command, args []string) error {
	bare := initBare
	if !cmd.Flags().Changed("bare") {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		bare = cfg.Bare
	}

	a, err := archive.Open(archivePath, bare)
	if err != nil {
		return err
	}

	meta, err := openMeta(a)
	if err != nil {
		return err
	}
	defer meta.Close()

	cfgPath := filepath.Join(a.Path(), "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		cfg.Path = archivePath
		cfg.Bare = bare
		if err := cfg.Save(cfgPath); err != nil {
			return err
		}
	}

	kind := "archive"
	if bare {
		kind = "bare archive"
	}
	fmt.Printf("Initialized %s at %s\n", kind, a.Path())
	return nil
}
