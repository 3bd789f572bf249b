package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback NAME",
	Short: "Switch a deployment back to its other slot and restart it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := buildManager(cfg, store)

	if err := mgr.Rollback(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Rolled back %s\n", args[0])
	return nil
}
