package importer

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// pullDockerDaemon implements the "docker:<name>" entry point: ask a
// running Docker daemon to save the named image to a tarball, then hand
// that tarball to the same path pullDockerTarFile uses, shelling out to
// the docker CLI rather than speaking the daemon's HTTP API directly.
func (im *Importer) pullDockerDaemon(ctx context.Context, imageName string, upgrade bool) (*Result, error) {
	tmp, err := os.CreateTemp("", "docker-save-*.tar")
	if err != nil {
		return nil, fmt.Errorf("create docker save temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, "docker", "save", "-o", tmpPath, imageName)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: docker save %s: %v: %s", ocierrors.ErrInternal, imageName, err, string(out))
	}

	im.log().Infow("saved image from docker daemon", "image", imageName, "tarball", tmpPath)
	return im.pullDockerTarFile(tmpPath, imageName, upgrade)
}
