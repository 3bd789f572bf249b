package objectstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const (
	configMarker = "config"
	refsDir      = "refs"
	layersDir    = "objects/layers"
	configBody   = "[core]\nrepo_version=1\n"
)

// Store is the Object Store root. <root>/config marks the repo root;
// refs live under <root>/refs/ociimage/<...>.
type Store struct {
	root string
	log  *zap.SugaredLogger
	tx   *txLock
}

// NewStore opens (creating if absent) the repository rooted at root.
func NewStore(root string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{root: root, log: log}
	if err := s.init(); err != nil {
		return nil, err
	}
	s.tx = newTxLock(filepath.Join(root, ".lock"))
	return s, nil
}

func (s *Store) init() error {
	if err := os.MkdirAll(filepath.Join(s.root, refsDir, "ociimage"), 0755); err != nil {
		return fmt.Errorf("create refs dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.root, layersDir), 0755); err != nil {
		return fmt.Errorf("create layers dir: %w", err)
	}
	marker := filepath.Join(s.root, configMarker)
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		if err := os.WriteFile(marker, []byte(configBody), 0644); err != nil {
			return fmt.Errorf("write repo config marker: %w", err)
		}
	}
	return nil
}

// Root returns the repository root path.
func (s *Store) Root() string { return s.root }

func (s *Store) refPath(branch string) string {
	return filepath.Join(s.root, refsDir, filepath.FromSlash(branch))
}

func (s *Store) layerTreePath(digest string) string {
	return filepath.Join(s.root, layersDir, sanitizeDigest(digest))
}

func sanitizeDigest(digest string) string {
	return strings.ReplaceAll(digest, ":", "_")
}

// HasBranch reports whether branch currently resolves to a commit.
func (s *Store) HasBranch(branch string) bool {
	_, err := os.Stat(s.refPath(branch))
	return err == nil
}

// ReadCommit loads the metadata sidecar for branch.
func (s *Store) ReadCommit(branch string) (*Commit, error) {
	data, err := os.ReadFile(s.refPath(branch))
	if err != nil {
		return nil, err
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse commit metadata for %s: %w", branch, err)
	}
	return &c, nil
}

// LayerTreePath returns the on-disk path of a layer commit's content tree.
// The caller must have already verified the branch exists.
func (s *Store) LayerTreePath(digest string) string {
	return s.layerTreePath(digest)
}

// ListBranches returns every ref currently present, as branch names
// ("ociimage/...").
func (s *Store) ListBranches() ([]string, error) {
	var out []string
	root := filepath.Join(s.root, refsDir)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return out, nil
}
