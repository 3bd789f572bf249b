package importer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/giuseppe/atomic/internal/objectstore"
	"github.com/giuseppe/atomic/internal/refcodec"
	"github.com/giuseppe/atomic/internal/registryclient"
	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// pullOCIRemote implements the "anything else" entry point: any reference
// that isn't ostree:, docker:, or dockertar: is treated as an OCI/Docker
// registry reference. Preferred path: a single external copy step
// (crane.Pull) from the registry straight into an in-memory v1.Image.
// Fallback path: the hand-rolled Registry Client, diffing against
// already-present layers and fetching only what's missing.
func (im *Importer) pullOCIRemote(ctx context.Context, image string, upgrade bool) (*Result, error) {
	ref := refcodec.ParseImageName(image)
	branch := ref.Branch()

	img, err := crane.Pull(image, crane.WithContext(ctx), crane.WithAuthFromKeychain(authn.DefaultKeychain))
	if err == nil {
		return im.importFromCraneImage(branch, image, img, upgrade)
	}
	im.log().Warnw("preferred OCI copy path failed, falling back to registry client", "image", image, "error", err)

	return im.pullOCIRemoteFallback(ctx, ref, branch, upgrade)
}

func (im *Importer) importFromCraneImage(branch, imageName string, img v1.Image, upgrade bool) (*Result, error) {
	manifest, err := img.RawManifest()
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %v", ocierrors.ErrManifestInvalidJSON, err)
	}
	configDigest, err := img.ConfigName()
	if err != nil {
		return nil, fmt.Errorf("read config digest: %w", err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("list layers: %w", err)
	}

	digests := make([]string, len(layers))
	for i, l := range layers {
		d, err := l.Digest()
		if err != nil {
			return nil, fmt.Errorf("layer digest: %w", err)
		}
		digests[i] = d.String()
	}

	if im.alreadyPresent(branch, digests, upgrade) {
		return &Result{Branch: branch, ImageID: configDigest.String(), Name: imageName, NoOp: true}, nil
	}

	in := objectstore.ImportInput{
		Branch:   branch,
		Manifest: string(manifest),
		ImageID:  configDigest.String(),
	}
	for i, l := range layers {
		layer := l
		in.Layers = append(in.Layers, objectstore.LayerInput{
			Digest: digests[i],
			Open: func() (io.ReadCloser, error) {
				return layer.Uncompressed()
			},
		})
	}

	if err := im.Store.Import(in); err != nil {
		return nil, err
	}
	return &Result{Branch: branch, ImageID: configDigest.String(), Name: imageName}, nil
}

func (im *Importer) pullOCIRemoteFallback(ctx context.Context, ref refcodec.Ref, branch string, upgrade bool) (*Result, error) {
	registryHost := ref.Registry
	if registryHost == "" {
		registryHost = "registry-1.docker.io"
	}

	client := registryclient.New(registryHost, "https", im.httpClient(), im.Log)
	repoPath := ref.Repository
	if ref.Registry == "" {
		repoPath = "library/" + ref.Repository
		if _, err := name.NewRepository(repoPath); err != nil {
			repoPath = ref.Repository
		}
	}

	manifest, err := client.Manifest(ctx, repoPath, ref.Tag)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, fmt.Errorf("%w: %s", ocierrors.ErrImageNotFound, ref.String())
	}

	digests, err := registryclient.Layers(manifest)
	if err != nil {
		return nil, err
	}

	if im.alreadyPresent(branch, digests, upgrade) {
		return &Result{Branch: branch, Name: ref.String(), NoOp: true}, nil
	}

	missing := missingLayers(im.Store, digests)
	fetched, err := client.FetchLayers(ctx, repoPath, missing)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, path := range fetched {
			os.Remove(path)
		}
	}()

	in := objectstore.ImportInput{
		Branch:   branch,
		Manifest: string(manifest),
	}
	for _, d := range digests {
		digest := d
		path, ok := fetched[d]
		in.Layers = append(in.Layers, objectstore.LayerInput{
			Digest: digest,
			Open: func() (io.ReadCloser, error) {
				if !ok {
					return nil, fmt.Errorf("layer %s was not fetched", digest)
				}
				return os.Open(path)
			},
		})
	}

	if err := im.Store.Import(in); err != nil {
		return nil, err
	}
	return &Result{Branch: branch, Name: ref.String()}, nil
}
