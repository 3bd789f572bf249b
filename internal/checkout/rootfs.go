package checkout

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const whiteoutPrefix = ".wh."
const whiteoutOpaque = ".wh..wh..opq"

// unionCheckout composites an ordered stack of Object Store layer trees
// (root-first, most specific last) into dest as real files, interpreting
// whiteout markers as real deletions rather than overlayfs char-devices,
// a deliberate distinction from the Overlay Mounter, which needs a live
// kernel overlay mount and therefore needs the char-device/xattr
// representation instead.
func unionCheckout(layerDirs []string, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("create checkout root: %w", err)
	}

	for _, layerDir := range layerDirs {
		if err := applyLayer(layerDir, dest); err != nil {
			return fmt.Errorf("apply layer %s: %w", layerDir, err)
		}
	}
	return nil
}

func applyLayer(layerDir, dest string) error {
	// Pass 1: whiteout/opaque markers, applied before this layer's real
	// content so a layer can both clear a directory and repopulate it.
	err := filepath.Walk(layerDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(layerDir, p)
		if err != nil {
			return err
		}
		base := filepath.Base(rel)

		switch {
		case base == whiteoutOpaque:
			dir := filepath.Join(dest, filepath.Dir(rel))
			return clearDir(dir)
		case strings.HasPrefix(base, whiteoutPrefix):
			target := filepath.Join(dest, filepath.Dir(rel), strings.TrimPrefix(base, whiteoutPrefix))
			return os.RemoveAll(target)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Pass 2: real content, skipping marker files themselves.
	return filepath.Walk(layerDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(layerDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		base := filepath.Base(rel)
		if base == whiteoutOpaque || strings.HasPrefix(base, whiteoutPrefix) {
			return nil
		}

		target := filepath.Join(dest, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode()|0200)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			return copyRegular(p, target, info)
		}
	})
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyRegular(src, dst string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	os.Remove(dst)
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
