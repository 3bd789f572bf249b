package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var installOverrides map[string]string
var installSystemPackage string

var installCmd = &cobra.Command{
	Use:   "install NAME IMAGE",
	Short: "Install an image as a named host service",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstall,
}

func init() {
	installCmd.Flags().StringToStringVar(&installOverrides, "set", nil,
		"template variable override, may be repeated (KEY=VALUE)")
	installCmd.Flags().StringVar(&installSystemPackage, "system-package", "",
		"host package handling: no, yes, auto, build, or absent")
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := buildManager(cfg, store)

	name, image := args[0], args[1]
	if err := mgr.Install(context.Background(), name, image, installOverrides, installSystemPackage); err != nil {
		return err
	}
	fmt.Printf("Installed %s from %s\n", name, image)
	return nil
}
