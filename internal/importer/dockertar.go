package importer

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/giuseppe/atomic/internal/objectstore"
	"github.com/giuseppe/atomic/internal/refcodec"
	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// dockerManifestEntry is one element of a docker-save tarball's top-level
// manifest.json.
type dockerManifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

// legacyLayerJSON is the per-layer metadata file ("<id>/json") of the
// pre-manifest.json docker save format, used for its "parent" chain.
type legacyLayerJSON struct {
	ID     string `json:"id"`
	Parent string `json:"parent"`
}

// pullDockerTarFile implements the "dockertar:/path" entry point: a
// pre-built docker-save tarball, read once into a set of temporary files
// keyed by tar entry name, then normalized into an Object Store import
// either via manifest.json (preferred, ordered) or the legacy
// repositories/parent-chain walk (fallback).
func (im *Importer) pullDockerTarFile(filePath, callerName string, upgrade bool) (*Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open docker tarball: %w", err)
	}
	defer f.Close()

	entries, cleanup, err := extractTarToTempFiles(f)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	if raw, ok := entries["manifest.json"]; ok {
		return im.importFromDockerManifest(raw, entries, callerName, upgrade)
	}
	return im.importFromLegacyDockerTar(entries, callerName, upgrade)
}

// extractTarToTempFiles reads every regular-file entry of r into its own
// temp file, returning a name-to-path map. The outer docker-save tarball is
// read once; individual layer.tar members are handed to the Object Store as
// plain files rather than re-seeking through the outer stream.
func extractTarToTempFiles(r io.Reader) (map[string]string, func(), error) {
	entries := make(map[string]string)
	cleanup := func() {
		for _, p := range entries {
			os.Remove(p)
		}
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, cleanup, fmt.Errorf("read docker tarball: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			continue
		}
		tmp, err := os.CreateTemp("", "dockertar-entry-*")
		if err != nil {
			return entries, cleanup, err
		}
		if _, err := io.Copy(tmp, tr); err != nil {
			tmp.Close()
			return entries, cleanup, fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		tmp.Close()
		entries[path.Clean(hdr.Name)] = tmp.Name()
	}
	return entries, cleanup, nil
}

func (im *Importer) importFromDockerManifest(manifestPath string, entries map[string]string, callerName string, upgrade bool) (*Result, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifests []dockerManifestEntry
	if err := json.Unmarshal(raw, &manifests); err != nil {
		return nil, fmt.Errorf("%w: manifest.json: %v", ocierrors.ErrManifestInvalidJSON, err)
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("%w: manifest.json has no entries", ocierrors.ErrManifestInvalidJSON)
	}
	m := manifests[0]

	name := callerName
	if name == "" && len(m.RepoTags) > 0 {
		name = m.RepoTags[0]
	}
	if name == "" {
		return nil, fmt.Errorf("%w: docker tarball has no repo tag and no name was given", ocierrors.ErrConfigInvalid)
	}
	ref := refcodec.ParseImageName(name)
	branch := ref.Branch()

	configDigest := "sha256:" + m.Config
	ociManifest, digests, err := syntheticOCIManifest(entries, m.Layers)
	if err != nil {
		return nil, err
	}

	if im.alreadyPresent(branch, digests, upgrade) {
		return &Result{Branch: branch, ImageID: configDigest, Name: ref.String(), NoOp: true}, nil
	}

	in := objectstore.ImportInput{
		Branch:   branch,
		Manifest: ociManifest,
		ImageID:  configDigest,
	}
	for i, layerPath := range m.Layers {
		lp := entries[path.Clean(layerPath)]
		digest := digests[i]
		in.Layers = append(in.Layers, objectstore.LayerInput{
			Digest: digest,
			Open: func() (io.ReadCloser, error) {
				return os.Open(lp)
			},
		})
	}

	if err := im.Store.Import(in); err != nil {
		return nil, err
	}
	return &Result{Branch: branch, ImageID: configDigest, Name: ref.String()}, nil
}

// syntheticOCIManifest builds a manifest JSON blob this store can store and
// later re-parse, and computes a digest per layer path by hashing its temp
// file, since docker-save layer directory names aren't content digests.
func syntheticOCIManifest(entries map[string]string, layerPaths []string) (string, []string, error) {
	digests := make([]string, len(layerPaths))
	for i, lp := range layerPaths {
		d, err := digestOfFile(entries[path.Clean(lp)])
		if err != nil {
			return "", nil, fmt.Errorf("hash layer %s: %w", lp, err)
		}
		digests[i] = d
	}
	type layerRef struct {
		Digest string `json:"digest"`
	}
	doc := struct {
		Layers []layerRef `json:"layers"`
	}{}
	for _, d := range digests {
		doc.Layers = append(doc.Layers, layerRef{Digest: d})
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", nil, err
	}
	return string(raw), digests, nil
}

// importFromLegacyDockerTar handles the pre-manifest.json docker save
// layout: a top-level "repositories" file plus one directory per layer
// containing VERSION, json (with a "parent" pointer), and layer.tar.
// Ordering walks the parent chain from the tagged layer back to the root.
func (im *Importer) importFromLegacyDockerTar(entries map[string]string, callerName string, upgrade bool) (*Result, error) {
	reposPath, ok := entries["repositories"]
	if !ok {
		return nil, fmt.Errorf("%w: not a recognized docker tarball (no manifest.json or repositories)", ocierrors.ErrConfigInvalid)
	}
	raw, err := os.ReadFile(reposPath)
	if err != nil {
		return nil, err
	}
	var repos map[string]map[string]string
	if err := json.Unmarshal(raw, &repos); err != nil {
		return nil, fmt.Errorf("%w: repositories: %v", ocierrors.ErrConfigInvalid, err)
	}

	var name, leafID string
	for repo, tags := range repos {
		for tag, id := range tags {
			name = repo + ":" + tag
			leafID = id
		}
	}
	if callerName != "" {
		name = callerName
	}
	if leafID == "" {
		return nil, fmt.Errorf("%w: repositories file has no entries", ocierrors.ErrConfigInvalid)
	}

	chain, err := legacyParentChain(entries, leafID)
	if err != nil {
		return nil, err
	}

	ref := refcodec.ParseImageName(name)
	branch := ref.Branch()

	digests := make([]string, len(chain))
	for i, id := range chain {
		d, err := digestOfFile(entries[path.Clean(id+"/layer.tar")])
		if err != nil {
			return nil, fmt.Errorf("hash layer %s: %w", id, err)
		}
		digests[i] = d
	}

	if im.alreadyPresent(branch, digests, upgrade) {
		return &Result{Branch: branch, ImageID: "sha256:" + leafID, Name: ref.String(), NoOp: true}, nil
	}

	type layerRef struct {
		Digest string `json:"digest"`
	}
	doc := struct {
		Layers []layerRef `json:"layers"`
	}{}
	for _, d := range digests {
		doc.Layers = append(doc.Layers, layerRef{Digest: d})
	}
	manifestJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	in := objectstore.ImportInput{
		Branch:   branch,
		Manifest: string(manifestJSON),
		ImageID:  "sha256:" + leafID,
	}
	for i, id := range chain {
		lp := entries[path.Clean(id+"/layer.tar")]
		digest := digests[i]
		in.Layers = append(in.Layers, objectstore.LayerInput{
			Digest: digest,
			Open: func() (io.ReadCloser, error) {
				return os.Open(lp)
			},
		})
	}

	if err := im.Store.Import(in); err != nil {
		return nil, err
	}
	return &Result{Branch: branch, ImageID: "sha256:" + leafID, Name: ref.String()}, nil
}

// legacyParentChain walks "<id>/json"'s parent pointer from leafID back to
// the root layer, returning layer ids root-first (the order the Object
// Store expects layers in).
func legacyParentChain(entries map[string]string, leafID string) ([]string, error) {
	var chain []string
	seen := make(map[string]bool)
	id := leafID
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("%w: cycle in docker tarball layer parent chain at %s", ocierrors.ErrManifestInvalidJSON, id)
		}
		seen[id] = true
		chain = append([]string{id}, chain...)

		jsonPath, ok := entries[path.Clean(id+"/json")]
		if !ok {
			break
		}
		raw, err := os.ReadFile(jsonPath)
		if err != nil {
			return nil, err
		}
		var layer legacyLayerJSON
		if err := json.Unmarshal(raw, &layer); err != nil {
			return nil, fmt.Errorf("%w: %s/json: %v", ocierrors.ErrConfigInvalid, id, err)
		}
		id = layer.Parent
	}
	return chain, nil
}
