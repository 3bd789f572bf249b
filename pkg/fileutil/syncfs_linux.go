//go:build linux
// +build linux

package fileutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SyncTree fsyncs the filesystem containing path, preferring syncfs(2) on an
// open directory descriptor over a full "sync" so only the rootfs's
// filesystem is flushed.
func SyncTree(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s for sync: %w", path, err)
	}
	defer f.Close()

	if err := unix.Syncfs(int(f.Fd())); err != nil {
		unix.Sync()
		return nil
	}
	return nil
}
