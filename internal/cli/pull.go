package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var pullUpgrade bool

var pullCmd = &cobra.Command{
	Use:   "pull IMAGE",
	Short: "Pull an image into the local store",
	Long: `Pull accepts any of the following reference forms:

  name[:tag]                    an OCI/Docker registry reference
  ostree:<remote>:<branch>      a branch from another local store
  docker:<name>                 an image already loaded in a local Docker daemon
  dockertar:/path/to/file.tar   a pre-built docker-save tarball`,
	Args: cobra.ExactArgs(1),
	RunE: runPull,
}

func init() {
	pullCmd.Flags().BoolVar(&pullUpgrade, "upgrade", false, "re-fetch even if already present")
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	im := buildImporter(cfg, store)

	result, err := im.Pull(context.Background(), args[0], pullUpgrade)
	if err != nil {
		return err
	}
	if result.NoOp {
		fmt.Printf("%s is already present\n", result.Name)
		return nil
	}
	fmt.Printf("Pulled %s (%s)\n", result.Name, result.ImageID)
	return nil
}
