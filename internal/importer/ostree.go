package importer

import (
	"fmt"
	"strings"

	"github.com/giuseppe/atomic/internal/objectstore"
	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// pullOstree implements the "ostree:<remote>:<branch>" entry point. No Go
// ostree bindings or network-remote protocol are available in this stack,
// so a remote here names another Store root this process can read
// directly rather than a real ostree remote; see DESIGN.md for the
// reasoning. branchSpec is "<remote>:<branch>".
func (im *Importer) pullOstree(branchSpec string) (*Result, error) {
	remote, branch, ok := strings.Cut(branchSpec, ":")
	if !ok {
		return nil, fmt.Errorf("%w: malformed ostree reference %q, want <remote>:<branch>", ocierrors.ErrConfigInvalid, branchSpec)
	}

	root, ok := im.Remotes[remote]
	if !ok {
		return nil, fmt.Errorf("%w: unknown ostree remote %q", ocierrors.ErrConfigInvalid, remote)
	}
	source, err := objectstore.NewStore(root, im.Log)
	if err != nil {
		return nil, fmt.Errorf("open remote %q: %w", remote, err)
	}

	commit, err := source.ReadCommit(branch)
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%s", ocierrors.ErrImageNotFound, remote, branch)
	}
	if commit.Kind != objectstore.KindImage {
		return nil, fmt.Errorf("%w: %s:%s is not an image branch", ocierrors.ErrConfigInvalid, remote, branch)
	}

	digests, err := objectstore.LayersFromManifest(commit.Manifest)
	if err != nil {
		return nil, err
	}

	if im.alreadyPresent(branch, digests, false) {
		return &Result{Branch: branch, ImageID: commit.ImageID, Name: branch, NoOp: true}, nil
	}

	for _, d := range digests {
		if err := im.Store.AdoptLayerTree(d, source.LayerTreePath(d)); err != nil {
			return nil, fmt.Errorf("adopt layer %s from remote %q: %w", d, remote, err)
		}
	}
	if err := im.Store.PublishImage(branch, commit.Manifest, commit.ImageID); err != nil {
		return nil, err
	}

	return &Result{Branch: branch, ImageID: commit.ImageID, Name: branch}, nil
}
