package objectstore

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/giuseppe/atomic/pkg/fileutil"
)

// LayerInput is one layer tarball to import, addressed by its already-known
// digest (verified by the caller, the Image Importer, which computed or
// received the digest from the manifest/registry).
type LayerInput struct {
	Digest string
	Open   func() (io.ReadCloser, error)
}

// ImportInput bundles everything a single transactional image import needs.
type ImportInput struct {
	Branch   string // ociimage/<encoded-name>
	Manifest string // raw manifest JSON, stored verbatim
	ImageID  string // docker.digest, empty if unknown
	Layers   []LayerInput
}

// Import performs a transactional import: extract any not-yet-present
// layer tarballs to scratch directories,
// publish them as layer commits, then bind the image branch last so a
// failure partway through never leaves a referenced-but-unreachable layer.
func (s *Store) Import(in ImportInput) error {
	if err := s.tx.Acquire(); err != nil {
		return err
	}
	defer s.tx.Release()

	scratchRoot, err := os.MkdirTemp(filepath.Join(s.root, "objects"), ".importing-")
	if err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratchRoot)

	type staged struct {
		digest string
		dir    string
		size   int64
	}
	var toPublish []staged

	for _, layer := range in.Layers {
		branch := LayerBranchName(layer.Digest)
		if s.HasBranch(branch) {
			continue
		}

		dest := filepath.Join(scratchRoot, sanitizeDigest(layer.Digest))
		if err := os.MkdirAll(dest, 0755); err != nil {
			return fmt.Errorf("create scratch dir for layer %s: %w", layer.Digest, err)
		}

		rc, err := layer.Open()
		if err != nil {
			return fmt.Errorf("open layer %s: %w", layer.Digest, err)
		}
		size, err := extractLayerTar(rc, dest)
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract layer %s: %w", layer.Digest, err)
		}

		toPublish = append(toPublish, staged{digest: layer.Digest, dir: dest, size: size})
	}

	for _, p := range toPublish {
		if err := s.publishLayer(p.digest, p.dir, p.size); err != nil {
			return fmt.Errorf("publish layer %s: %w", p.digest, err)
		}
	}

	return s.publishImage(in.Branch, in.Manifest, in.ImageID)
}

func (s *Store) publishLayer(digest, scratchDir string, size int64) error {
	final := s.layerTreePath(digest)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return err
	}
	if err := os.Rename(scratchDir, final); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("rename layer tree into place: %w", err)
	}

	commit := Commit{
		Kind:        KindLayer,
		LayerDigest: digest,
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	return s.writeRef(LayerBranchName(digest), &commit)
}

func (s *Store) publishImage(branch, manifest, imageID string) error {
	commit := Commit{
		Kind:      KindImage,
		Manifest:  manifest,
		ImageID:   imageID,
		CreatedAt: time.Now().UTC(),
	}
	return s.writeRef(branch, &commit)
}

func (s *Store) writeRef(branch string, c *Commit) error {
	path := s.refPath(branch)
	if err := fileutil.EnsureParentDir(path, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal commit: %w", err)
	}
	return fileutil.AtomicWriteFile(path, data, 0644)
}

// LayerBranchName returns the branch name for a raw layer digest.
func LayerBranchName(digest string) string {
	return "ociimage/" + digest
}

// extractLayerTar extracts a (possibly gzip-compressed) tar stream into
// dest, applying the Object Store's commit filter: device, socket, and
// FIFO entries are skipped, and every directory gets the owner-write bit
// set so later checkouts can always write whiteout markers into it.
// Whiteout marker files ("*.wh.*") are stored as ordinary regular/special
// entries; interpreting them is the Checkout Engine's job when it
// composites an ordered layer stack, not the store's.
//
// It returns the layer's size: the sum of lstat sizes for every entry,
// deduplicated by (device, inode) so hard links are counted once.
func extractLayerTar(r io.Reader, dest string) (int64, error) {
	tr, err := newTarReader(r)
	if err != nil {
		return 0, err
	}

	seenInodes := make(map[[2]uint64]bool)
	var size int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read tar entry: %w", err)
		}

		cleanName := filepath.Clean(header.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return 0, fmt.Errorf("invalid path in layer tar: %s", header.Name)
		}
		target := filepath.Join(dest, cleanName)
		if target != filepath.Clean(dest) && !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return 0, fmt.Errorf("path traversal in layer tar: %s", header.Name)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return 0, fmt.Errorf("create parent for %s: %w", cleanName, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)|0200); err != nil {
				return 0, fmt.Errorf("create dir %s: %w", cleanName, err)
			}

		case tar.TypeReg, tar.TypeRegA:
			if err := writeRegularFile(tr, target, header); err != nil {
				return 0, fmt.Errorf("write file %s: %w", cleanName, err)
			}
			size += entrySize(target, seenInodes)

		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return 0, fmt.Errorf("create symlink %s: %w", cleanName, err)
			}
			size += entrySize(target, seenInodes)

		case tar.TypeLink:
			linkTarget := filepath.Join(dest, filepath.Clean(header.Linkname))
			os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				// A hardlink to content outside this tar stream; fall back
				// to a plain copy rather than failing the whole import.
				if err := copyFile(linkTarget, target); err != nil {
					return 0, fmt.Errorf("create hardlink %s: %w", cleanName, err)
				}
			}
			size += entrySize(target, seenInodes)

		case tar.TypeChar, tar.TypeBlock, tar.TypeFifo:
			// Device/fifo nodes are skipped by the commit filter.
			continue

		default:
			continue
		}
	}

	// Ensure every directory (including dest itself) is owner-writable.
	err = filepath.Walk(dest, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, info.Mode()|0200)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply owner-write to directories: %w", err)
	}

	return size, nil
}

func writeRegularFile(tr *tar.Reader, target string, header *tar.Header) error {
	os.Remove(target)
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
	if err != nil {
		return err
	}
	_, err = io.Copy(f, tr)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func entrySize(path string, seenInodes map[[2]uint64]bool) int64 {
	info, err := os.Lstat(path)
	if err != nil {
		return 0
	}
	if dev, ino, ok := devIno(info); ok {
		key := [2]uint64{dev, ino}
		if seenInodes[key] {
			return 0
		}
		seenInodes[key] = true
	}
	return info.Size()
}

// newTarReader auto-detects gzip compression by sniffing the magic bytes.
func newTarReader(r io.Reader) (*tar.Reader, error) {
	buf := make([]byte, 2)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	mr := io.MultiReader(strings.NewReader(string(buf[:n])), r)

	if n >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		gz, err := gzip.NewReader(mr)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return tar.NewReader(gz), nil
	}
	return tar.NewReader(mr), nil
}
