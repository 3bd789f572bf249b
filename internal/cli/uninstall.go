package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall NAME",
	Short: "Stop and remove a deployed service",
	Args:  cobra.ExactArgs(1),
	RunE:  runUninstall,
}

func runUninstall(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := buildManager(cfg, store)

	if err := mgr.Uninstall(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Uninstalled %s\n", args[0])
	return nil
}
