package registryclient

import (
	"encoding/json"
	"fmt"

	specsv1 "github.com/opencontainers/image-spec/specs-go/v1"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// rawManifest covers three manifest shapes: legacy fsLayers (reversed on
// ingest), OCI layers (in order), and a plain tarball-style Layers array.
type rawManifest struct {
	FSLayers []struct {
		BlobSum string `json:"blobSum"`
	} `json:"fsLayers"`
	Layers      []specsv1.Descriptor `json:"layers"`
	LayersPlain []string             `json:"Layers"`
}

// Layers parses a manifest body and returns its layer digests in image
// order (bottom to top). fsLayers are reversed, since the legacy format
// lists them most-specific first.
func Layers(manifest []byte) ([]string, error) {
	var m rawManifest
	if err := json.Unmarshal(manifest, &m); err != nil {
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
	case len(m.LayersPlain) > 0:
		return m.LayersPlain, nil
	default:
		return nil, fmt.Errorf("%w: manifest has no recognized layer list", ocierrors.ErrManifestInvalidJSON)
	}
}
