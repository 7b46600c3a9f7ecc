package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/hash"
)

var deployMethodName string

var deployCmd = &cobra.Command{
	Use:   "deploy <hash> <target>",
	Short: "Deploy a stored object to a path in the deployment root",
	Long: `Materializes the stored object at a relative path inside the deployment
root. The target must not already exist and must stay inside the root;
bare archives cannot deploy.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployMethodName, "method", "m", "copy", "deploy method: copy, symlink or hardlink")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	h, err := hash.Parse(args[0])
	if err != nil {
		return err
	}
	method, err := archive.ParseDeployMethod(deployMethodName)
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

	target := args[1]
	if err := a.DeployFile(h, target, method); err != nil {
		return err
	}
	if _, err := meta.RecordDeployment(h.String(), target, method.String()); err != nil {
		logger.Warn("deployed object but failed to record deployment",
			zap.String("hash", h.String()), zap.Error(err))
	}

	fmt.Printf("Deployed %s to %s (%s)\n", h, target, method)
	return nil
}
