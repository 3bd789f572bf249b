package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var deleteImageCmd = &cobra.Command{
	Use:     "delete-image IMAGE [IMAGE...]",
	Short:   "Delete one or more images from the local store",
	Aliases: []string{"rmi"},
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDeleteImage,
}

func runDeleteImage(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	var lastErr error
	for _, ref := range args {
		matches, err := store.Resolve(ref, false)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			lastErr = err
			continue
		}
		if len(matches) == 0 {
			fmt.Printf("Error: no such image: %s\n", ref)
			lastErr = fmt.Errorf("no such image: %s", ref)
			continue
		}
		if err := store.DeleteBranch(matches[0].Branch); err != nil {
			fmt.Printf("Error: failed to delete %s: %v\n", ref, err)
			lastErr = err
			continue
		}
		fmt.Printf("Deleted: %s\n", ref)
	}
	return lastErr
}
