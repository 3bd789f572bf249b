package gc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/giuseppe/atomic/internal/objectstore"
)

func TestOrphanedSlotsSkipsLiveTargets(t *testing.T) {
	root := t.TempDir()
	live := filepath.Join(root, "app.0")
	orphan := filepath.Join(root, "app.1")
	if err := os.MkdirAll(live, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(orphan, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(live, filepath.Join(root, "app")); err != nil {
		t.Fatal(err)
	}

	store, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := &Collector{Store: store, CheckoutRoot: root, StorageRoot: t.TempDir()}

	orphans, err := c.orphanedSlots()
	if err != nil {
		t.Fatalf("orphanedSlots: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != orphan {
		t.Errorf("expected [%s], got %v", orphan, orphans)
	}
}

func TestOrphanedStorageMatchesMissingLayerBranch(t *testing.T) {
	store, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	storageRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(storageRoot, "sha256_deadbeef"), 0755); err != nil {
		t.Fatal(err)
	}

	c := &Collector{Store: store, CheckoutRoot: t.TempDir(), StorageRoot: storageRoot}
	orphans, err := c.orphanedStorage()
	if err != nil {
		t.Fatalf("orphanedStorage: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("expected 1 orphaned storage dir, got %v", orphans)
	}
}

func TestRunIsSafeOnEmptyStore(t *testing.T) {
	store, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := &Collector{Store: store, CheckoutRoot: t.TempDir(), StorageRoot: t.TempDir()}

	if _, err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
