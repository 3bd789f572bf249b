// Package importer implements four image ingest paths (ostree remote,
// remote OCI/Docker registry, local docker daemon via docker save, and
// docker-save tarball file) that normalize into ordered layer digests, manifest JSON, and
// optional labels, then hand off to the Object Store.
package importer

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/giuseppe/atomic/internal/objectstore"
)

// Importer normalizes any of the supported image reference forms into an
// Object Store import.
type Importer struct {
	Store *objectstore.Store
	Log   *zap.SugaredLogger

	// Remotes maps an ostree-style remote name to another Store root this
	// process can read directly. Resolves the "ostree:<remote>:<branch>"
	// entry point without requiring a full ostree network remote protocol;
	// see DESIGN.md for the reasoning.
	Remotes map[string]string

	// HTTPClient is used for the fallback registry-client pull path.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Result describes what Pull actually did, for CLI reporting.
type Result struct {
	Branch   string
	ImageID  string
	Name     string
	NoOp     bool // re-entrant: image and all layers already present
}

// Pull dispatches on the prefix of image and imports into the Object
// Store. upgrade disables the re-entrancy short-circuit.
func (im *Importer) Pull(ctx context.Context, image string, upgrade bool) (*Result, error) {
	switch {
	case strings.HasPrefix(image, "ostree:"):
		return im.pullOstree(strings.TrimPrefix(image, "ostree:"))
	case strings.HasPrefix(image, "docker:"):
		return im.pullDockerDaemon(ctx, strings.TrimPrefix(image, "docker:"), upgrade)
	case strings.HasPrefix(image, "dockertar:/"):
		return im.pullDockerTarFile(strings.TrimPrefix(image, "dockertar:"), "", upgrade)
	default:
		return im.pullOCIRemote(ctx, image, upgrade)
	}
}

// alreadyPresent implements the re-entrancy rule: if the branch resolves
// and every referenced layer is present, and the caller isn't upgrading,
// no I/O is needed.
func (im *Importer) alreadyPresent(branch string, layers []string, upgrade bool) bool {
	if upgrade {
		return false
	}
	if !im.Store.HasBranch(branch) {
		return false
	}
	for _, l := range layers {
		if !im.Store.HasBranch(objectstore.LayerBranchName(l)) {
			return false
		}
	}
	return true
}

func (im *Importer) httpClient() *http.Client {
	if im.HTTPClient != nil {
		return im.HTTPClient
	}
	return http.DefaultClient
}

func (im *Importer) log() *zap.SugaredLogger {
	if im.Log != nil {
		return im.Log
	}
	return zap.NewNop().Sugar()
}

// missingLayers returns the subset of layers not already present as layer
// branches, preserving order.
func missingLayers(store *objectstore.Store, layers []string) []string {
	var missing []string
	for _, l := range layers {
		if !store.HasBranch(objectstore.LayerBranchName(l)) {
			missing = append(missing, l)
		}
	}
	return missing
}
