package checkout

import (
	"encoding/json"
	"os"
	"time"

	"github.com/giuseppe/atomic/pkg/fileutil"
)

// Info is the per-deployment record written as info.json alongside a
// deployment slot so Rollback/Uninstall and image listing don't need to
// re-derive it from the checkout's rootfs.
type Info struct {
	Name      string            `json:"name"`
	ImageID   string            `json:"image_id"`
	Branch    string            `json:"branch"`
	Slot      string            `json:"slot"`
	Values    map[string]string `json:"values"`
	CreatedAt time.Time         `json:"created_at"`

	// HasContainerService is false when the image's exports manifest set
	// noContainerService: host-installed files are still reconciled but
	// no unit is installed, enabled, or restarted.
	HasContainerService bool `json:"has_container_service"`

	// InstalledFilesTemplate lists the exports/ template paths this
	// checkout rendered onto the host, and RenameInstalledFiles the
	// template-path-to-destination-name overrides the manifest declared
	// for any of them.
	InstalledFilesTemplate []string          `json:"installed_files_template,omitempty"`
	RenameInstalledFiles   map[string]string `json:"rename_installed_files,omitempty"`

	// InstalledFiles and InstalledFilesChecksum are filled in by the
	// Deployment Manager once host-install reconciliation has actually
	// placed the files: the union of InstalledFiles always equals the
	// key set of InstalledFilesChecksum.
	InstalledFiles         []string          `json:"installed_files,omitempty"`
	InstalledFilesChecksum map[string]string `json:"installed_files_checksum,omitempty"`

	// SystemPackage is the {no,yes,auto,build,absent} mode this
	// deployment was installed with, and PackagePath the host package
	// file the adapter produced for it, if any.
	SystemPackage string `json:"system_package,omitempty"`
	PackagePath   string `json:"package_path,omitempty"`
}

// WriteInfo marshals info and atomically writes it to path. Exported so
// the Deployment Manager can rewrite a slot's info.json once host-install
// reconciliation has resolved the final InstalledFiles/checksum fields,
// which aren't known until after Checkout returns.
func WriteInfo(path string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(path, data, 0644)
}

// ReadInfo reads an info.json written by a checkout, for callers outside
// this package (the Deployment Manager, querying the currently live slot).
func ReadInfo(path string) (*Info, error) {
	var info Info
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
