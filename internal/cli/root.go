package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at release time via -ldflags.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "atomic",
	Short: "Install and manage system containers as host services",
	Long: `atomic pulls OCI/Docker images into a local content-addressed store
and installs them as systemd-managed host services: a checkout of the
image's layers becomes a unit's rootfs, atomically deployed and rolled
back with a two-slot scheme.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&userMode, "user", false,
		"operate in per-user mode (rootless), under $HOME/.containers")

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(deleteImageCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(runCmd)
}
