package objectstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LayersFromManifest is the exported form of layersFromManifestJSON, used
// by callers outside this package (the Image Importer's ostree-remote
// path) that already hold a manifest string read off a Commit.
func LayersFromManifest(manifest string) ([]string, error) {
	return layersFromManifestJSON(manifest)
}

// AdoptLayerTree copies an already-extracted layer content tree (typically
// read from another Store's on-disk layout) into this store and publishes
// it as a layer commit, without re-extracting a tarball. Used by the
// Image Importer's local-remote ("ostree:<remote>:<branch>") path, where
// the source layer is already a directory tree rather than a blob.
func (s *Store) AdoptLayerTree(digest, sourceDir string) error {
	if err := s.tx.Acquire(); err != nil {
		return err
	}
	defer s.tx.Release()

	branch := LayerBranchName(digest)
	if s.HasBranch(branch) {
		return nil
	}

	scratchRoot, err := os.MkdirTemp(filepath.Join(s.root, "objects"), ".adopting-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchRoot)

	dest := filepath.Join(scratchRoot, sanitizeDigest(digest))
	size, err := copyTree(sourceDir, dest)
	if err != nil {
		return fmt.Errorf("copy layer tree %s: %w", digest, err)
	}

	return s.publishLayer(digest, dest, size)
}

// PublishImage binds branch to an image commit directly, for callers (the
// ostree-remote import path) that already hold a validated manifest and
// image id rather than a tarball to extract.
func (s *Store) PublishImage(branch, manifest, imageID string) error {
	if err := s.tx.Acquire(); err != nil {
		return err
	}
	defer s.tx.Release()
	return s.publishImage(branch, manifest, imageID)
}

func copyTree(src, dst string) (int64, error) {
	var total int64
	seenInodes := make(map[[2]uint64]bool)

	err := filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode()|0200)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			if err := os.Symlink(link, target); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := copyRegularFile(p, target, info); err != nil {
				return err
			}
		}
		total += entrySize(target, seenInodes)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func copyRegularFile(src, dst string, info os.FileInfo) error {
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
