package objectstore

import (
	"fmt"
	"os"
	"strings"

	"github.com/giuseppe/atomic/internal/refcodec"
)

// ReachableLayers walks every image branch's manifest and collects the set
// of referenced layer digests.
func (s *Store) ReachableLayers() (map[string]bool, error) {
	images, err := s.Enumerate()
	if err != nil {
		return nil, err
	}
	reachable := make(map[string]bool)
	for _, img := range images {
		digests, err := layersFromManifestJSON(img.Manifest)
		if err != nil {
			continue
		}
		for _, d := range digests {
			reachable[d] = true
		}
	}
	return reachable, nil
}

// Prune deletes every layer branch whose digest is not reachable from any
// image branch's manifest, then removes the now-empty on-disk content
// trees for those layers.
func (s *Store) Prune() (removed []string, err error) {
	if err := s.tx.Acquire(); err != nil {
		return nil, err
	}
	defer s.tx.Release()

	reachable, err := s.ReachableLayers()
	if err != nil {
		return nil, err
	}

	branches, err := s.ListBranches()
	if err != nil {
		return nil, err
	}

	for _, branch := range branches {
		commit, err := s.ReadCommit(branch)
		if err != nil {
			continue
		}
		if commit.Kind != KindLayer {
			continue
		}
		if reachable[commit.LayerDigest] {
			continue
		}
		if err := s.deleteBranch(branch); err != nil {
			return removed, fmt.Errorf("delete unreferenced layer branch %s: %w", branch, err)
		}
		if err := os.RemoveAll(s.layerTreePath(commit.LayerDigest)); err != nil {
			return removed, fmt.Errorf("remove layer tree %s: %w", commit.LayerDigest, err)
		}
		removed = append(removed, branch)
	}

	return removed, nil
}

// DeleteImageBranchesWithIllegalNames removes any image branch whose
// decoded name doesn't round-trip through the Ref Codec, guarding against
// a corrupted or hand-edited refs tree, since Encode/Decode is defined as
// a bijection over legal names.
func (s *Store) DeleteImageBranchesWithIllegalNames() (removed []string, err error) {
	branches, err := s.ListBranches()
	if err != nil {
		return nil, err
	}
	for _, branch := range branches {
		commit, err := s.ReadCommit(branch)
		if err != nil || commit.Kind != KindImage {
			continue
		}
		encoded := strings.TrimPrefix(branch, "ociimage/")
		decoded := refcodec.Decode(encoded)
		if refcodec.Encode(decoded) != encoded {
			if err := s.deleteBranch(branch); err != nil {
				return removed, fmt.Errorf("delete malformed image branch %s: %w", branch, err)
			}
			removed = append(removed, branch)
		}
	}
	return removed, nil
}

// DeleteBranch removes a single ref, image or layer, without touching its
// content tree (callers that also own a tree use Prune for layers).
func (s *Store) DeleteBranch(branch string) error {
	return s.deleteBranch(branch)
}

func (s *Store) deleteBranch(branch string) error {
	if err := os.Remove(s.refPath(branch)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
