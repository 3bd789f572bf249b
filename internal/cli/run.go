package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/giuseppe/atomic/internal/checkout"
	"github.com/giuseppe/atomic/internal/config"
	"github.com/giuseppe/atomic/internal/objectstore"
	"github.com/giuseppe/atomic/internal/overlay"
)

var runRuntime string
var runTerminal bool

var runCmd = &cobra.Command{
	Use:   "run NAME [-- ARGS...]",
	Short: "Run a one-shot command against a deployed service's rootfs",
	Long: `Run mounts the current deployment's layer stack as a throwaway
overlayfs and invokes the configured OCI runtime against it once, without
touching the live checkout, useful for debugging a deployed service's
rootfs without restarting it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRuntime, "runtime", "runc", "OCI runtime binary")
	runCmd.Flags().BoolVarP(&runTerminal, "tty", "t", false, "allocate a terminal for the command")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load(userMode)
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	name := args[0]
	execArgs := args[1:]
	if len(execArgs) == 0 {
		execArgs = []string{"/bin/sh"}
	}

	symlink := filepath.Join(cfg.CheckoutRoot, name)
	slotDir, err := os.Readlink(symlink)
	if err != nil {
		return fmt.Errorf("%s has no active deployment: %w", name, err)
	}
	if !filepath.IsAbs(slotDir) {
		slotDir = filepath.Join(cfg.CheckoutRoot, slotDir)
	}

	info, err := checkout.ReadInfo(filepath.Join(slotDir, "info.json"))
	if err != nil {
		return fmt.Errorf("read deployment info: %w", err)
	}

	commit, err := store.ReadCommit(info.Branch)
	if err != nil {
		return fmt.Errorf("read image commit: %w", err)
	}
	digests, err := objectstore.LayersFromManifest(commit.Manifest)
	if err != nil {
		return err
	}

	mounter := &overlay.Mounter{Store: store, StorageRoot: cfg.StorageRoot}
	lowerdirs, err := mounter.PrepareLayers(digests)
	if err != nil {
		return fmt.Errorf("prepare overlay layers: %w", err)
	}

	bundleDir, err := os.MkdirTemp("", "atomic-run-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(bundleDir)

	configPath := filepath.Join(slotDir, "config.json")
	return overlay.OneShotExec(context.Background(), runRuntime, configPath, bundleDir, lowerdirs, execArgs, runTerminal)
}
