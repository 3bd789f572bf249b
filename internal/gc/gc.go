// Package gc reclaims orphaned deployment slots, unreferenced layer
// commits, image branches with corrupted names, and stale overlay
// storage-root copies.
package gc

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/giuseppe/atomic/internal/objectstore"
)

// Result summarizes what one Run removed, for CLI reporting.
type Result struct {
	OrphanedSlots   []string
	IllegalBranches []string
	PrunedLayers    []string
	OrphanedStorage []string
}

// Collector runs garbage collection against one Object Store, one
// checkout root (for orphaned deployment slots), and one overlay storage
// root (for orphaned translated-layer copies, internal/overlay.Mounter's
// StorageRoot).
type Collector struct {
	Store        *objectstore.Store
	CheckoutRoot string
	StorageRoot  string
	Log          *zap.SugaredLogger
}

func (c *Collector) log() *zap.SugaredLogger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop().Sugar()
}

// Run performs garbage collection in order: orphaned deployment
// directories, illegal-name branch removal, layer pruning (by
// reachability), then orphaned overlay storage-root directories. Each
// step is made cheaper by the ones before it having already run.
func (c *Collector) Run() (*Result, error) {
	res := &Result{}

	orphans, err := c.orphanedSlots()
	if err != nil {
		return nil, err
	}
	for _, dir := range orphans {
		if err := os.RemoveAll(dir); err != nil {
			c.log().Warnw("failed to remove orphaned slot", "dir", dir, "error", err)
			continue
		}
		res.OrphanedSlots = append(res.OrphanedSlots, dir)
	}

	illegal, err := c.Store.DeleteImageBranchesWithIllegalNames()
	if err != nil {
		return res, err
	}
	res.IllegalBranches = illegal

	pruned, err := c.Store.Prune()
	if err != nil {
		return res, err
	}
	res.PrunedLayers = pruned

	orphanedStorage, err := c.orphanedStorage()
	if err != nil {
		return res, err
	}
	for _, dir := range orphanedStorage {
		if err := os.RemoveAll(dir); err != nil {
			c.log().Warnw("failed to remove orphaned storage copy", "dir", dir, "error", err)
			continue
		}
		res.OrphanedStorage = append(res.OrphanedStorage, dir)
	}

	return res, nil
}

// orphanedSlots finds deployment slot directories ("<name>.0"/"<name>.1")
// under CheckoutRoot that neither symlink target points at. Left behind
// by a checkout that failed after creating its slot but before flipping
// the live symlink, or by an old slot an upgrade superseded without a
// later GC pass running.
func (c *Collector) orphanedSlots() ([]string, error) {
	entries, err := os.ReadDir(c.CheckoutRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	live := make(map[string]bool)
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(filepath.Join(c.CheckoutRoot, e.Name()))
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(c.CheckoutRoot, target)
		}
		live[filepath.Clean(target)] = true
	}

	var orphans []string
	for _, e := range entries {
		if e.Type()&os.ModeSymlink != 0 || !e.IsDir() {
			continue
		}
		if !strings.Contains(e.Name(), ".") {
			continue
		}
		path := filepath.Join(c.CheckoutRoot, e.Name())
		if !live[filepath.Clean(path)] {
			orphans = append(orphans, path)
		}
	}
	return orphans, nil
}

// orphanedStorage finds translated layer copies under StorageRoot
// (internal/overlay.Mounter's cache) whose digest no longer has a layer
// branch in the Object Store, left behind once Prune has already run.
func (c *Collector) orphanedStorage() ([]string, error) {
	entries, err := os.ReadDir(c.StorageRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		digest := strings.Replace(e.Name(), "_", ":", 1)
		if !c.Store.HasBranch(objectstore.LayerBranchName(digest)) {
			orphans = append(orphans, filepath.Join(c.StorageRoot, e.Name()))
		}
	}
	return orphans, nil
}
