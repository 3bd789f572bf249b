package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/config"
)

var upgradeOverrides map[string]string
var upgradeSystemPackage string

var upgradeCmd = &cobra.Command{
	Use:   "upgrade NAME IMAGE",
	Short: "Re-pull an image and, if it changed, deploy the new version",
	Args:  cobra.ExactArgs(2),
	RunE:  runUpgrade,
}

func init() {
	upgradeCmd.Flags().StringToStringVar(&upgradeOverrides, "set", nil,
		"template variable override, may be repeated (KEY=VALUE)")
	upgradeCmd.Flags().StringVar(&upgradeSystemPackage, "system-package", "",
		"host package handling: no, yes, auto, build, or absent (default: keep the current deployment's setting)")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	mgr := buildManager(cfg, store)

	name, image := args[0], args[1]
	if err := mgr.Upgrade(context.Background(), name, image, upgradeOverrides, upgradeSystemPackage); err != nil {
		return err
	}
	fmt.Printf("Upgraded %s to %s\n", name, image)
	return nil
}
