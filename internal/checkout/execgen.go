package checkout

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"

	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// RuntimeProbe detects which flags the configured OCI runtime supports,
// caching the result per Engine instance since it only depends on the
// runtime binary, not on the image being checked out. Probing rather than
// assuming runtime capabilities (--pid-file, --systemd-cgroup) keeps
// generated unit files correct across runc versions.
type RuntimeProbe struct {
	Runtime string

	once        sync.Once
	help        string
	helpErr     error
	supportsPID bool
	supportsCG  bool
}

func (p *RuntimeProbe) probe() {
	p.once.Do(func() {
		out, err := exec.Command(p.Runtime, "run", "--help").CombinedOutput()
		p.help = string(out)
		p.helpErr = err
		p.supportsPID = strings.Contains(p.help, "--pid-file")
		p.supportsCG = strings.Contains(p.help, "--systemd-cgroup")
	})
}

// SupportsPIDFile reports whether the runtime accepts --pid-file.
func (p *RuntimeProbe) SupportsPIDFile() bool {
	p.probe()
	return p.supportsPID
}

// SupportsSystemdCgroup reports whether the runtime accepts --systemd-cgroup.
func (p *RuntimeProbe) SupportsSystemdCgroup() bool {
	p.probe()
	return p.supportsCG
}

// GenerateExec builds the EXEC_* reserved values against the configured
// OCI runtime. When detached is true it emits the detached-with-pid-file
// form (runc run -d --pid-file, paired with a pre-start pidfile cleanup and
// a post-stop runc delete); otherwise it emits the foreground run/kill
// pair with startPre and stopPost left empty.
func GenerateExec(probe *RuntimeProbe, bundleDir, containerName, pidFile string, detached bool) (start, startPre, stop, stopPost string, err error) {
	if probe.Runtime == "" {
		return "", "", "", "", fmt.Errorf("%w: no OCI runtime configured", ocierrors.ErrRuntimeMissing)
	}

	cgroup := probe.SupportsSystemdCgroup()

	if detached {
		startArgs := []string{probe.Runtime, "run", "-d"}
		if probe.SupportsPIDFile() {
			startArgs = append(startArgs, "--pid-file", pidFile)
		}
		if cgroup {
			startArgs = append(startArgs, "--systemd-cgroup")
		}
		startArgs = append(startArgs, "--bundle", bundleDir, containerName)

		start = strings.Join(startArgs, " ")
		startPre = fmt.Sprintf("/bin/rm -f %s", pidFile)
		stop = strings.Join([]string{probe.Runtime, "kill", containerName}, " ")
		stopPost = strings.Join([]string{probe.Runtime, "delete", containerName}, " ")
		return start, startPre, stop, stopPost, nil
	}

	startArgs := []string{probe.Runtime, "run", "--bundle", bundleDir}
	if cgroup {
		startArgs = append(startArgs, "--systemd-cgroup")
	}
	startArgs = append(startArgs, containerName)

	start = strings.Join(startArgs, " ")
	stop = strings.Join([]string{probe.Runtime, "kill", containerName}, " ")
	return start, "", stop, "", nil
}
