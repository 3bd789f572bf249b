//go:build linux || darwin
// +build linux darwin

package objectstore

import (
	"os"
	"syscall"
)

// devIno extracts the (device, inode) pair used to deduplicate hard links
// when summing a layer's size.
func devIno(info os.FileInfo) (dev, ino uint64, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), true
}
