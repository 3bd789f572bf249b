package importer

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/giuseppe/atomic/internal/objectstore"
)

func writeTar(t *testing.T, files map[string]string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "docker-*.tar")
	if err != nil {
		t.Fatalf("create temp tarball: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	return f.Name()
}

func layerTar(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	tw.Close()
	return buf.String()
}

func TestPullDockerTarFileWithManifest(t *testing.T) {
	manifest := []dockerManifestEntry{
		{Config: "deadbeef.json", RepoTags: []string{"app:latest"}, Layers: []string{"layer1/layer.tar"}},
	}
	manifestJSON, _ := json.Marshal(manifest)

	outer := writeTar(t, map[string]string{
		"manifest.json":    string(manifestJSON),
		"deadbeef.json":    `{}`,
		"layer1/layer.tar": layerTar(t, map[string]string{"bin/app": "content"}),
	})

	store, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	im := &Importer{Store: store}

	result, err := im.pullDockerTarFile(outer, "", false)
	if err != nil {
		t.Fatalf("pullDockerTarFile: %v", err)
	}
	if result.Name != "app:latest" {
		t.Errorf("unexpected name: %s", result.Name)
	}
	if result.NoOp {
		t.Error("expected a real import, not a no-op")
	}
	if !store.HasBranch(result.Branch) {
		t.Error("expected image branch to exist after import")
	}

	again, err := im.pullDockerTarFile(outer, "", false)
	if err != nil {
		t.Fatalf("second pullDockerTarFile: %v", err)
	}
	if !again.NoOp {
		t.Error("expected re-entrant pull to be a no-op")
	}
}

func TestPullDockerTarFileLegacyFormat(t *testing.T) {
	rootJSON, _ := json.Marshal(legacyLayerJSON{ID: "root", Parent: ""})
	childJSON, _ := json.Marshal(legacyLayerJSON{ID: "child", Parent: "root"})

	outer := writeTar(t, map[string]string{
		"repositories":    `{"app":{"latest":"child"}}`,
		"root/json":       string(rootJSON),
		"root/layer.tar":  layerTar(t, map[string]string{"a": "1"}),
		"child/json":      string(childJSON),
		"child/layer.tar": layerTar(t, map[string]string{"b": "2"}),
	})

	store, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	im := &Importer{Store: store}

	result, err := im.pullDockerTarFile(outer, "", false)
	if err != nil {
		t.Fatalf("pullDockerTarFile: %v", err)
	}
	if result.Name != "app:latest" {
		t.Errorf("unexpected name: %s", result.Name)
	}
	if !store.HasBranch(result.Branch) {
		t.Error("expected image branch to exist after import")
	}
}

func TestAlreadyPresentRequiresImageAndAllLayers(t *testing.T) {
	store, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	im := &Importer{Store: store}

	if im.alreadyPresent("ociimage/app", []string{"sha256:aaa"}, false) {
		t.Error("expected false when branch doesn't exist yet")
	}
	if im.alreadyPresent("ociimage/app", []string{"sha256:aaa"}, true) {
		t.Error("upgrade should always bypass the re-entrancy short-circuit")
	}
}

func TestOstreePullUnknownRemoteFails(t *testing.T) {
	local, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore local: %v", err)
	}
	im := &Importer{Store: local, Remotes: map[string]string{"origin": t.TempDir()}}

	if _, err := im.pullOstree("unknown:ociimage/app_3Alatest"); err == nil {
		t.Error("expected error for unknown remote")
	}
}

func TestOstreePullAdoptsFromRemoteStore(t *testing.T) {
	remoteRoot := t.TempDir()
	remote, err := objectstore.NewStore(remoteRoot, nil)
	if err != nil {
		t.Fatalf("NewStore remote: %v", err)
	}

	data := []byte(layerTar(t, map[string]string{"f": "x"}))
	if err := remote.Import(objectstore.ImportInput{
		Branch:   "ociimage/app_3Alatest",
		Manifest: `{"layers":[{"digest":"sha256:aaa"}]}`,
		ImageID:  "sha256:aaa",
		Layers: []objectstore.LayerInput{
			{Digest: "sha256:aaa", Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			}},
		},
	}); err != nil {
		t.Fatalf("seed remote store: %v", err)
	}

	local, err := objectstore.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore local: %v", err)
	}
	im := &Importer{Store: local, Remotes: map[string]string{"origin": remoteRoot}}

	result, err := im.pullOstree("origin:ociimage/app_3Alatest")
	if err != nil {
		t.Fatalf("pullOstree: %v", err)
	}
	if result.NoOp {
		t.Error("expected a real adopt, not a no-op")
	}
	if !local.HasBranch("ociimage/app_3Alatest") {
		t.Error("expected adopted image branch to exist locally")
	}
	if !local.HasBranch(objectstore.LayerBranchName("sha256:aaa")) {
		t.Error("expected adopted layer branch to exist locally")
	}
}
