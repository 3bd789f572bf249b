package objectstore

import (
	"encoding/json"
	"fmt"

	specsv1 "github.com/opencontainers/image-spec/specs-go/v1"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

type manifestLayers struct {
	FSLayers []struct {
		BlobSum string `json:"blobSum"`
	} `json:"fsLayers"`
	Layers      []specsv1.Descriptor `json:"layers"`
	LayersPlain []string             `json:"Layers"`
}

// layersFromManifestJSON extracts the ordered layer digest list from a
// manifest stored verbatim on an image commit, recognizing the legacy
// fsLayers form, the OCI/Docker v2 layers form, and the plain Layers
// digest list. Used by Prune (reachability) and by image summaries
// (aggregate size).
func layersFromManifestJSON(manifest string) ([]string, error) {
	if manifest == "" {
		return nil, fmt.Errorf("%w: empty manifest", ocierrors.ErrManifestInvalidJSON)
	}
	var m manifestLayers
	if err := json.Unmarshal([]byte(manifest), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ocierrors.ErrManifestInvalidJSON, err)
	}

	switch {
	case len(m.FSLayers) > 0:
		out := make([]string, len(m.FSLayers))
		for i, l := range m.FSLayers {
			out[len(m.FSLayers)-1-i] = l.BlobSum
		}
		return out, nil
	case len(m.Layers) > 0:
		out := make([]string, len(m.Layers))
		for i, l := range m.Layers {
			out[i] = string(l.Digest)
		}
		return out, nil
	default:
		return m.LayersPlain, nil
	}
}
