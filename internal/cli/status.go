package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show a deployment's current slot and unit state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := buildManager(cfg, store)

	state, err := mgr.Status(context.Background(), args[0])
	if err != nil {
		return err
	}

	if !state.Deployed {
		fmt.Printf("%s: not deployed\n", state.Name)
		return nil
	}
	fmt.Printf("Name:     %s\n", state.Name)
	fmt.Printf("Slot:     %s\n", state.Slot)
	fmt.Printf("Image ID: %s\n", state.ImageID)
	if state.NoService {
		fmt.Println("Service:  no service")
		return nil
	}
	fmt.Printf("Active:   %t\n", state.Active)
	fmt.Printf("Failed:   %t\n", state.Failed)
	return nil
}
