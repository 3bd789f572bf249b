//go:build !linux
// +build !linux

package fileutil

import "fmt"

// SyncTree is unsupported outside Linux; overlay checkout is a Linux-only
// operation so callers only reach this on unsupported platforms.
func SyncTree(path string) error {
	return fmt.Errorf("SyncTree: unsupported on this platform")
}
