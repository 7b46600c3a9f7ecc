package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var verifyWorkers int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-hash every stored object and report corruption",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().IntVarP(&verifyWorkers, "workers", "w", 0, "concurrent hashing workers (default: from config)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(a)
	if err != nil {
		return err
	}

	workers := verifyWorkers
	if workers <= 0 {
		workers = cfg.Verify.Workers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := a.VerifyAll(ctx, workers)
	if err != nil {
		return err
	}

	fmt.Printf("Checked %d object(s)\n", result.Checked)
	if len(result.Issues) == 0 {
		return nil
	}
	for _, issue := range result.Issues {
		fmt.Printf("%s: %s (%s)\n", issue.Kind, issue.Hash, issue.Detail)
	}
	return fmt.Errorf("%d object(s) failed verification", len(result.Issues))
}
