//go:build !linux

// Package overlay mounts overlayfs stacks of Object Store layer trees.
// Overlayfs is a Linux kernel filesystem; this build has no implementation.
package overlay

import (
	"context"
	"fmt"

	"github.com/giuseppe/atomic/internal/objectstore"
)

type Mounter struct {
	Store       *objectstore.Store
	StorageRoot string
}

func (m *Mounter) PrepareLayers(digests []string) ([]string, error) {
	return nil, fmt.Errorf("overlay mounting is not supported on this platform")
}

func Mount(lowerdirs []string, upperdir, workdir, target string) error {
	return fmt.Errorf("overlay mounting is not supported on this platform")
}

func Unmount(target string) error {
	return fmt.Errorf("overlay unmounting is not supported on this platform")
}

func OneShotExec(ctx context.Context, runtime, configPath, bundleDir string, lowerdirs []string, args []string, terminal bool) error {
	return fmt.Errorf("overlay exec is not supported on this platform")
}
