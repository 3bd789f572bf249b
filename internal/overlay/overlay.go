//go:build linux

package overlay

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Mount assembles and performs an overlayfs mount from lowerdirs (ordered
// least to most specific) onto target. upperdir and workdir are optional;
// when both are empty the mount is read-only.
func Mount(lowerdirs []string, upperdir, workdir, target string) error {
	if len(lowerdirs) == 0 {
		return fmt.Errorf("overlay mount needs at least one lowerdir")
	}
	opts := "lowerdir=" + strings.Join(lowerdirs, ":")
	if upperdir != "" && workdir != "" {
		opts += ",upperdir=" + upperdir + ",workdir=" + workdir
	}
	return unix.Mount("overlay", target, "overlay", 0, opts)
}

// Unmount tears down a mount previously created by Mount.
func Unmount(target string) error {
	return unix.Unmount(target, 0)
}
