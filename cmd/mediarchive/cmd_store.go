package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/hash"
	"mediarchive/internal/store"
)

var storeMove bool

var storeCmd = &cobra.Command{
	Use:   "store <file>...",
	Short: "Store files in the archive",
	Long: `Hashes each file and stores it under its content hash. A file whose
content is already stored is reported and skipped. With --move the files
are moved into the store instead of copied.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStore,
}

var removeCmd = &cobra.Command{
	Use:   "remove <hash>",
	Short: "Remove a stored object",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored objects",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show archive statistics",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	storeCmd.Flags().BoolVar(&storeMove, "move", false, "move files into the store instead of copying")
}

func runStore(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	meta, err := openMeta(a)
	if err != nil {
		return err
	}
	defer meta.Close()

	failed := 0
	for _, path := range args {
		h, err := a.StoreFile(path, storeMove)
		switch {
		case errors.Is(err, archive.ErrExists):
			fmt.Printf("%s  %s (already stored)\n", h, path)
			continue
		case err != nil:
			logger.Error("failed to store file", zap.String("path", path), zap.Error(err))
			failed++
			continue
		}

		fi, statErr := os.Stat(a.StoredFilePath(h))
		var size int64
		if statErr == nil {
			size = fi.Size()
		}
		mediaType := mime.TypeByExtension(filepath.Ext(path))
		if err := meta.RecordFile(store.File{Hash: h.String(), Size: size, MediaType: mediaType}); err != nil {
			logger.Warn("stored file but failed to record metadata",
				zap.String("hash", h.String()), zap.Error(err))
		}

		fmt.Printf("%s  %s\n", h, path)
	}

	if failed > 0 {
		return fmt.Errorf("%d file(s) could not be stored", failed)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	h, err := hash.Parse(args[0])
	if err != nil {
		return err
	}

	a, err := openArchive()
	if err != nil {
		return err
	}
	meta, err := openMeta(a)
	if err != nil {
		return err
	}
	defer meta.Close()

	if err := a.RemoveFile(h); err != nil {
		return err
	}
	if err := meta.DeleteFile(h.String()); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("removed object but failed to delete metadata",
			zap.String("hash", h.String()), zap.Error(err))
	}

	fmt.Printf("Removed %s\n", h)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}

	hashes, err := a.List()
	if err != nil {
		return err
	}
	for _, h := range hashes {
		fmt.Println(h)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	meta, err := openMeta(a)
	if err != nil {
		return err
	}
	defer meta.Close()

	hashes, err := a.List()
	if err != nil {
		return err
	}
	stats, err := meta.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Archive:          %s\n", a.Path())
	if a.Bare() {
		fmt.Println("Layout:           bare")
	} else {
		fmt.Printf("Deployment root:  %s\n", a.DeployPath())
	}
	fmt.Printf("Stored objects:   %d\n", len(hashes))
	fmt.Printf("Tracked objects:  %d (%d bytes)\n", stats.Files, stats.TotalSize)
	fmt.Printf("Deployments:      %d\n", stats.Deployments)
	return nil
}
