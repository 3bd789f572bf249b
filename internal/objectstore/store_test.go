package objectstore

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"testing"
)

func tarballOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return buf.Bytes()
}

func openerFor(data []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func TestImportThenResolve(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	layerData := tarballOf(t, map[string]string{"bin/app": "binary-content"})
	manifest := `{"layers":[{"digest":"sha256:aaa"}]}`

	err = store.Import(ImportInput{
		Branch:   "ociimage/app_3Alatest",
		Manifest: manifest,
		ImageID:  "sha256:aaa",
		Layers: []LayerInput{
			{Digest: "sha256:aaa", Open: openerFor(layerData)},
		},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if !store.HasBranch("ociimage/aaa") && !store.HasBranch(LayerBranchName("sha256:aaa")) {
		t.Fatal("expected layer branch to exist after import")
	}
	if !store.HasBranch("ociimage/app_3Alatest") {
		t.Fatal("expected image branch to exist after import")
	}

	matches, err := store.Resolve("app:latest", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ImageID != "sha256:aaa" {
		t.Errorf("unexpected image id: %s", matches[0].ImageID)
	}
}

func TestResolveByImageIDPrefix(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	layerData := tarballOf(t, map[string]string{"bin/app": "x"})
	err = store.Import(ImportInput{
		Branch:   "ociimage/app_3Alatest",
		Manifest: `{"layers":[{"digest":"sha256:bbb"}]}`,
		ImageID:  "deadbeefcafe",
		Layers: []LayerInput{
			{Digest: "sha256:bbb", Open: openerFor(layerData)},
		},
	})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	matches, err := store.Resolve("deadbeef", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match by prefix, got %d", len(matches))
	}
}

func TestResolveMissingReturnsNilNil(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	matches, err := store.Resolve("doesnotexist", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if matches != nil {
		t.Errorf("expected nil matches, got %v", matches)
	}
}

func TestPruneRemovesUnreferencedLayers(t *testing.T) {
	store, err := NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	data := tarballOf(t, map[string]string{"f": "x"})
	if err := store.Import(ImportInput{
		Branch:   "ociimage/app_3A1_2E0",
		Manifest: `{"layers":[{"digest":"sha256:aaa"},{"digest":"sha256:bbb"}]}`,
		ImageID:  "aaa",
		Layers: []LayerInput{
			{Digest: "sha256:aaa", Open: openerFor(data)},
			{Digest: "sha256:bbb", Open: openerFor(data)},
		},
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	// Retag to an image manifest that only references one layer, then
	// delete the old branch to simulate an upgrade that dropped a layer.
	if err := store.Import(ImportInput{
		Branch:   "ociimage/app_3A2_2E0",
		Manifest: `{"layers":[{"digest":"sha256:ccc"},{"digest":"sha256:aaa"}]}`,
		ImageID:  "ccc",
		Layers: []LayerInput{
			{Digest: "sha256:ccc", Open: openerFor(data)},
		},
	}); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if err := store.DeleteBranch("ociimage/app_3A1_2E0"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}

	removed, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}

	foundBBB := false
	for _, r := range removed {
		if r == LayerBranchName("sha256:bbb") {
			foundBBB = true
		}
	}
	if !foundBBB {
		t.Errorf("expected sha256:bbb to be pruned, removed=%v", removed)
	}
	if !store.HasBranch(LayerBranchName("sha256:aaa")) {
		t.Error("sha256:aaa is still referenced and should survive prune")
	}
	if !store.HasBranch(LayerBranchName("sha256:ccc")) {
		t.Error("sha256:ccc is still referenced and should survive prune")
	}
	if _, err := os.Stat(store.LayerTreePath("sha256:bbb")); !os.IsNotExist(err) {
		t.Error("expected sha256:bbb's content tree to be removed")
	}
}
