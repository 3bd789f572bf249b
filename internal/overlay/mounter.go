//go:build linux

// Package overlay turns an ordered stack of Object Store layer trees into
// a single overlayfs mount,
// translating the docker-style ".wh." whiteout markers the Object Store
// stores verbatim into the char-device/xattr representation overlayfs
// itself expects.
package overlay

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/giuseppe/atomic/internal/objectstore"
)

const whiteoutPrefix = ".wh."
const whiteoutOpaque = ".wh..wh..opq"

// Mounter materializes a private, overlay-ready copy of each layer a
// checkout needs under StorageRoot, since the Object Store's own layer
// trees are shared and immutable and must never be mutated in place.
// Translated copies are cached by digest (content-addressed, so the
// translation is stable) and reused across checkouts.
type Mounter struct {
	Store       *objectstore.Store
	StorageRoot string
}

// PrepareLayers returns, for each digest in order, the path to a
// whiteout-translated copy of that layer's content tree, materializing it
// under StorageRoot on first use.
func (m *Mounter) PrepareLayers(digests []string) ([]string, error) {
	dirs := make([]string, len(digests))
	for i, d := range digests {
		dir, err := m.prepareLayer(d)
		if err != nil {
			return nil, fmt.Errorf("prepare layer %s: %w", d, err)
		}
		dirs[i] = dir
	}
	return dirs, nil
}

func (m *Mounter) prepareLayer(digest string) (string, error) {
	dest := filepath.Join(m.StorageRoot, sanitize(digest))
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return dest, nil
	}

	src := m.Store.LayerTreePath(digest)
	scratch := dest + ".tmp"
	os.RemoveAll(scratch)
	if err := translateTree(src, scratch); err != nil {
		os.RemoveAll(scratch)
		return "", err
	}
	if err := os.Rename(scratch, dest); err != nil {
		if os.IsExist(err) {
			os.RemoveAll(scratch)
			return dest, nil
		}
		return "", err
	}
	return dest, nil
}

// translateTree copies src to dst, converting ".wh.NAME" marker files into
// character-device whiteouts (0,0) and ".wh..wh..opq" into the
// trusted.overlay.opaque xattr on the containing directory, per overlayfs's
// whiteout convention.
func translateTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		base := filepath.Base(rel)

		if base == whiteoutOpaque {
			dir := filepath.Join(dst, filepath.Dir(rel))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			return unix.Setxattr(dir, "trusted.overlay.opaque", []byte("y"), 0)
		}

		target := filepath.Join(dst, rel)

		if strings.HasPrefix(base, whiteoutPrefix) {
			real := filepath.Join(filepath.Dir(target), strings.TrimPrefix(base, whiteoutPrefix))
			if err := os.MkdirAll(filepath.Dir(real), 0755); err != nil {
				return err
			}
			return unix.Mknod(real, unix.S_IFCHR, 0)
		}

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode()|0200)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			return copyFile(p, target, info)
		}
	})
}

func copyFile(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func sanitize(digest string) string {
	return strings.ReplaceAll(digest, ":", "_")
}
