package objectstore

import (
	"fmt"
	"strings"

	"github.com/giuseppe/atomic/internal/refcodec"
	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// Resolve implements the name resolution rule: first try encode(name)
// as a branch; on miss, if name is alphanumeric, enumerate every image
// branch whose ImageId starts with name. Exactly one match returns it;
// zero returns (nil, nil); more than one fails with ErrAmbiguousID unless
// allowMultiple is set, in which case all matches are returned.
func (s *Store) Resolve(name string, allowMultiple bool) ([]ImageSummary, error) {
	branch := "ociimage/" + refcodec.Encode(name)
	if s.HasBranch(branch) {
		summary, err := s.imageSummary(branch)
		if err != nil {
			return nil, err
		}
		return []ImageSummary{*summary}, nil
	}

	if !isAlphanumeric(name) {
		return nil, nil
	}

	images, err := s.Enumerate()
	if err != nil {
		return nil, err
	}

	var matches []ImageSummary
	for _, img := range images {
		if strings.HasPrefix(img.ImageID, name) && hasRealTag(img.Name) {
			matches = append(matches, img)
		}
	}

	switch {
	case len(matches) == 0:
		return nil, nil
	case len(matches) == 1 || allowMultiple:
		return matches, nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d images", ocierrors.ErrAmbiguousID, name, len(matches))
	}
}

// Enumerate returns every image branch (not layer branches) as a summary,
// a natural read-only companion to Resolve/Prune.
func (s *Store) Enumerate() ([]ImageSummary, error) {
	branches, err := s.ListBranches()
	if err != nil {
		return nil, err
	}

	var out []ImageSummary
	for _, branch := range branches {
		commit, err := s.ReadCommit(branch)
		if err != nil {
			continue
		}
		if commit.Kind != KindImage {
			continue
		}
		summary, err := s.summaryFromCommit(branch, commit)
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}
	return out, nil
}

func (s *Store) imageSummary(branch string) (*ImageSummary, error) {
	commit, err := s.ReadCommit(branch)
	if err != nil {
		return nil, fmt.Errorf("read commit for %s: %w", branch, err)
	}
	return s.summaryFromCommit(branch, commit)
}

func (s *Store) summaryFromCommit(branch string, commit *Commit) (*ImageSummary, error) {
	name := refcodec.Decode(strings.TrimPrefix(branch, "ociimage/"))
	return &ImageSummary{
		Branch:   branch,
		Name:     name,
		ImageID:  commit.ImageID,
		Manifest: commit.Manifest,
		Size:     s.manifestSize(commit.Manifest),
	}, nil
}

// manifestSize sums the sizes of the layer commits referenced by a
// manifest, skipping any layer that (unexpectedly) isn't present.
func (s *Store) manifestSize(manifest string) int64 {
	digests, err := layersFromManifestJSON(manifest)
	if err != nil {
		return 0
	}
	var total int64
	for _, d := range digests {
		c, err := s.ReadCommit(LayerBranchName(d))
		if err != nil {
			continue
		}
		total += c.Size
	}
	return total
}

// hasRealTag reports whether name (a decoded "repo:tag" image name) carries
// a real tag rather than the "<none>" placeholder an untagged docker-save
// tarball import produces, per the RepoTags[0] != "<none>" prefix-match
// restriction.
func hasRealTag(name string) bool {
	return refcodec.ParseImageName(name).Tag != "<none>"
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
