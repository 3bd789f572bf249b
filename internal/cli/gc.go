package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
	"github.com/giuseppe/atomic/internal/gc"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Reclaim orphaned deployment slots, unreferenced layers, and stale storage",
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	collector := &gc.Collector{
		Store:        store,
		CheckoutRoot: cfg.CheckoutRoot,
		StorageRoot:  cfg.StorageRoot,
		Log:          newLogger(),
	}

	result, err := collector.Run()
	if err != nil {
		return err
	}

	fmt.Printf("Orphaned slots removed:    %d\n", len(result.OrphanedSlots))
	fmt.Printf("Illegal branches removed:  %d\n", len(result.IllegalBranches))
	fmt.Printf("Layers pruned:             %d\n", len(result.PrunedLayers))
	fmt.Printf("Orphaned storage removed:  %d\n", len(result.OrphanedStorage))
	return nil
}
