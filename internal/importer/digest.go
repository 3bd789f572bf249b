package importer

import (
	"os"

	"github.com/opencontainers/go-digest"
)

// digestOfFile computes the sha256 content digest of a file on disk, used
// for docker-save tarball layers whose on-disk directory names aren't
// themselves content digests.
func digestOfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d, err := digest.FromReader(f)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
