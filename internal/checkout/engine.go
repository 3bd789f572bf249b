// Package checkout turns a resolved image into an on-disk deployment slot
// (rootfs, config.json, info.json) plus the rendered systemd unit,
// tmpfiles content, and host-installed files the Deployment Manager
// installs on the host. Installing those rendered files onto the host and
// flipping the live symlink is the Deployment Manager's job, not this
// package's. Checkout only prepares the slot.
package checkout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/giuseppe/atomic/internal/objectstore"
	ocierrors "github.com/giuseppe/atomic/pkg/errors"
	"github.com/giuseppe/atomic/pkg/fileutil"
)

// defaultAllCapabilities is the engine's fallback for the
// ALL_PROCESS_CAPABILITIES overridable-default template variable: every
// capability a container image might plausibly request, space-separated
// the way a bounding-set list is conventionally written.
const defaultAllCapabilities = "CAP_CHOWN CAP_DAC_OVERRIDE CAP_FOWNER CAP_FSETID CAP_KILL " +
	"CAP_SETGID CAP_SETUID CAP_SETPCAP CAP_NET_BIND_SERVICE CAP_NET_RAW " +
	"CAP_SYS_CHROOT CAP_MKNOD CAP_AUDIT_WRITE CAP_SETFCAP"

// exportsManifest is the optional exports/manifest.json an image may ship
// in its rootfs, carrying default template values, a custom unit
// template, host-installed file templates, and service-management flags.
type exportsManifest struct {
	Defaults               map[string]string `json:"defaultValues"`
	UnitTemplate           string            `json:"unit_template"`
	InstalledFilesTemplate []string          `json:"installedFilesTemplate"`
	RenameFiles            map[string]string `json:"renameFiles"`
	NoContainerService     bool              `json:"noContainerService"`
}

// Options configures a single checkout.
type Options struct {
	Name      string            // deployment name, used as $NAME and in paths
	Image     string            // image reference passed to Store.Resolve
	Overrides map[string]string // caller-supplied template values
	Runtime   string            // OCI runtime binary, e.g. "runc"

	// RemoteRootfsPath, if set, is used directly as the container's root
	// filesystem instead of union-checking out the image's layers; the
	// read-only root.path=="rootfs" config.json validation is waived
	// since the engine doesn't control how that filesystem is mounted.
	RemoteRootfsPath string

	// SystemPackage selects the {no,yes,auto,build,absent} host-package
	// handling for this deployment. Empty is equivalent to "no".
	SystemPackage string
}

// Result is everything Checkout produced for the Deployment Manager to
// install.
type Result struct {
	SlotDir         string
	Info            *Info
	UnitContent     string
	TmpfilesContent string

	// HostFiles maps an absolute host destination path to its rendered
	// content, for files the image's exports manifest declared under
	// installedFilesTemplate.
	HostFiles map[string]string

	NoContainerService bool
	SystemPackage      string
}

// Engine runs checkouts against one Object Store and one checkout root
// directory, typically Config.CheckoutRoot. RunDirectory, ConfDirectory,
// and StateDirectory mirror config.Config's mode-dependent defaults and
// seed the overridable-default template variables.
type Engine struct {
	Store        *objectstore.Store
	CheckoutRoot string
	Log          *zap.SugaredLogger
	Probe        *RuntimeProbe

	RunDirectory   string
	ConfDirectory  string
	StateDirectory string
}

// Checkout runs the full procedure: resolve the image, compute the next
// deployment slot, union-checkout its layers (or adopt a remote rootfs),
// sync to disk, resolve template values, generate EXEC_* values, render
// the unit template, generate and validate config.json, render
// host-installed files, generate tmpfiles content, and write info.json.
// On any failure the slot directory is removed.
func (e *Engine) Checkout(opts Options) (res *Result, err error) {
	matches, err := e.Store.Resolve(opts.Image, false)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ocierrors.ErrImageNotFound, opts.Image)
	}
	image := matches[0]

	slotDir, err := e.nextSlot(opts.Name)
	if err != nil {
		return nil, err
	}

	undo := &undoChain{}
	undo.push(func() { os.RemoveAll(slotDir) })
	defer func() {
		if err != nil {
			undo.run()
		}
	}()

	remote := opts.RemoteRootfsPath != ""
	var rootfs string
	if remote {
		rootfs = opts.RemoteRootfsPath
	} else {
		digests, err2 := objectstore.LayersFromManifest(image.Manifest)
		if err2 != nil {
			return nil, err2
		}
		layerDirs := make([]string, len(digests))
		for i, d := range digests {
			layerDirs[i] = e.Store.LayerTreePath(d)
		}

		rootfs = filepath.Join(slotDir, "rootfs")
		if err = unionCheckout(layerDirs, rootfs); err != nil {
			return nil, fmt.Errorf("union checkout: %w", err)
		}
		if syncErr := fileutil.SyncTree(rootfs); syncErr != nil {
			e.log().Warnw("syncfs fallback failed, continuing", "rootfs", rootfs, "error", syncErr)
		}
	}

	exports, err := readExportsManifest(rootfs)
	if err != nil {
		return nil, err
	}

	unitTemplate := exports.UnitTemplate
	if raw, rerr := os.ReadFile(filepath.Join(rootfs, "exports", "service.template")); rerr == nil {
		unitTemplate = string(raw)
	}
	detached := isDetached(unitTemplate)

	values := NewValues(exports.Defaults, opts.Overrides)
	values.SetReserved("NAME", opts.Name)
	values.SetReserved("DESTDIR", rootfs)
	values.SetReserved("HOST_UID", strconv.Itoa(os.Getuid()))
	values.SetReserved("HOST_GID", strconv.Itoa(os.Getgid()))
	values.SetReserved("IMAGE_ID", image.ImageID)
	values.SetReserved("IMAGE_NAME", image.Name)

	values.FillDefault("RUN_DIRECTORY", e.runDirectory())
	values.FillDefault("CONF_DIRECTORY", e.confDirectory())
	values.FillDefault("STATE_DIRECTORY", e.stateDirectory())
	values.FillDefault("UUID", uuid.NewString())
	values.FillDefault("ALL_PROCESS_CAPABILITIES", defaultAllCapabilities)
	values.FillDefault("PIDFILE", filepath.Join(values.Lookup("RUN_DIRECTORY"), opts.Name+".pid"))
	pidFile := values.Lookup("PIDFILE")

	probe := e.Probe
	if probe == nil {
		probe = &RuntimeProbe{Runtime: opts.Runtime}
	}
	execStart, execStartPre, execStop, execStopPost, err := GenerateExec(probe, slotDir, opts.Name, pidFile, detached)
	if err != nil {
		return nil, err
	}
	values.SetReserved("EXEC_START", execStart)
	values.SetReserved("EXEC_STARTPRE", execStartPre)
	values.SetReserved("EXEC_STOP", execStop)
	values.SetReserved("EXEC_STOPPOST", execStopPost)

	var unitContent string
	if !exports.NoContainerService {
		unitContent, err = RenderUnit(unitTemplate, values)
		if err != nil {
			return nil, err
		}
	}

	if err = writeRuntimeConfig(slotDir, rootfs, remote); err != nil {
		return nil, err
	}

	hostFiles, err := e.renderHostFiles(rootfs, exports, values)
	if err != nil {
		return nil, err
	}

	tmpfilesContent := fmt.Sprintf("d %s 0755 root root -\nd %s 0755 root root -\n",
		filepath.Dir(pidFile), values.Lookup("STATE_DIRECTORY"))

	systemPackage := opts.SystemPackage
	if systemPackage == "" {
		systemPackage = "no"
	}

	info := &Info{
		Name:                   opts.Name,
		ImageID:                image.ImageID,
		Branch:                 image.Branch,
		Slot:                   filepath.Base(slotDir),
		Values:                 flattenValues(exports.Defaults, opts.Overrides),
		CreatedAt:              time.Now().UTC(),
		HasContainerService:    !exports.NoContainerService,
		InstalledFilesTemplate: exports.InstalledFilesTemplate,
		RenameInstalledFiles:   exports.RenameFiles,
		SystemPackage:          systemPackage,
	}
	if err = WriteInfo(filepath.Join(slotDir, "info.json"), info); err != nil {
		return nil, err
	}

	if err = e.persistSlotArtifacts(slotDir, opts.Name, unitContent, tmpfilesContent, hostFiles); err != nil {
		return nil, err
	}

	return &Result{
		SlotDir:            slotDir,
		Info:               info,
		UnitContent:        unitContent,
		TmpfilesContent:    tmpfilesContent,
		HostFiles:          hostFiles,
		NoContainerService: exports.NoContainerService,
		SystemPackage:      systemPackage,
	}, nil
}

// persistSlotArtifacts writes the rendered unit, tmpfiles config, and
// host files into the slot directory itself, alongside rootfs/config.json
// /info.json, so Rollback can restore the other slot's host state without
// re-running Checkout.
func (e *Engine) persistSlotArtifacts(slotDir, name, unitContent, tmpfilesContent string, hostFiles map[string]string) error {
	if unitContent != "" {
		if err := fileutil.AtomicWriteFile(filepath.Join(slotDir, name+".service"), []byte(unitContent), 0644); err != nil {
			return err
		}
	}
	if err := fileutil.AtomicWriteFile(filepath.Join(slotDir, "tmpfiles-"+name+".conf"), []byte(tmpfilesContent), 0644); err != nil {
		return err
	}
	if len(hostFiles) == 0 {
		return nil
	}
	dir := filepath.Join(slotDir, "hostfiles")
	if err := fileutil.EnsureDir(dir, 0755); err != nil {
		return err
	}
	for dest, content := range hostFiles {
		path := filepath.Join(dir, HostFileStorageName(dest))
		if err := fileutil.AtomicWriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// HostFileStorageName derives the slot-relative filename a rendered host
// file is stored under from its absolute destination path, so Rollback
// can look content back up by the destination paths recorded in Info.
func HostFileStorageName(destPath string) string {
	return strings.ReplaceAll(strings.TrimPrefix(destPath, "/"), "/", "_")
}

// LoadHostFiles re-reads the rendered host files a prior Checkout
// persisted under slotDir/hostfiles, keyed back by destination path using
// Info.InstalledFiles, for Rollback to re-apply.
func LoadHostFiles(slotDir string, destPaths []string) (map[string]string, error) {
	if len(destPaths) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(destPaths))
	for _, dest := range destPaths {
		path := filepath.Join(slotDir, "hostfiles", HostFileStorageName(dest))
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load host file %s: %w", dest, err)
		}
		out[dest] = string(raw)
	}
	return out, nil
}

// nextSlot implements the two-slot atomic deployment pattern (N.0/N.1):
// it inspects the existing "<name>" symlink, if any, and returns the
// other slot so the Deployment Manager can build the new deployment
// without disturbing the live one.
func (e *Engine) nextSlot(name string) (string, error) {
	base := filepath.Join(e.CheckoutRoot, name)
	current, err := os.Readlink(base)
	next := base + ".0"
	if err == nil {
		if filepath.Base(current) == name+".0" {
			next = base + ".1"
		}
	}
	if err := os.RemoveAll(next); err != nil {
		return "", fmt.Errorf("clear stale slot %s: %w", next, err)
	}
	if err := fileutil.EnsureDir(next, 0755); err != nil {
		return "", err
	}
	return next, nil
}

func readExportsManifest(rootfs string) (*exportsManifest, error) {
	path := filepath.Join(rootfs, "exports", "manifest.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &exportsManifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read exports manifest: %w", err)
	}
	var m exportsManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: exports/manifest.json: %v", ocierrors.ErrConfigInvalid, err)
	}
	return &m, nil
}

// renderHostFiles expands every installedFilesTemplate entry the exports
// manifest declared against values, resolving each to an absolute
// destination path under the engine's configuration directory (honoring
// any renameFiles override, otherwise stripping a trailing ".template").
func (e *Engine) renderHostFiles(rootfs string, exports *exportsManifest, values *Values) (map[string]string, error) {
	if len(exports.InstalledFilesTemplate) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(exports.InstalledFilesTemplate))
	for _, rel := range exports.InstalledFilesTemplate {
		src := filepath.Join(rootfs, "exports", rel)
		raw, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read host file template %s: %w", rel, err)
		}
		var unresolved []string
		rendered := values.Expand(string(raw), &unresolved)
		if len(unresolved) > 0 {
			return nil, fmt.Errorf("%w: %s: %v", ocierrors.ErrTemplateVariableUnresolved, rel, unresolved)
		}

		destName, ok := exports.RenameFiles[rel]
		if !ok {
			destName = strings.TrimSuffix(rel, ".template")
		}
		dest := filepath.Join(e.confDirectory(), destName)
		out[dest] = rendered
	}
	return out, nil
}

// writeRuntimeConfig generates a minimal OCI runtime config.json pointing
// at rootfs. Images that ship their own exports/config.json take
// precedence over the generated default, but both are subject to the
// same read-only-root validation unless remote is set.
func writeRuntimeConfig(slotDir, rootfs string, remote bool) error {
	dst := filepath.Join(slotDir, "config.json")

	src := filepath.Join(rootfs, "exports", "config.json")
	if raw, err := os.ReadFile(src); err == nil {
		if !remote {
			if verr := validateRuntimeConfig(raw); verr != nil {
				return verr
			}
		}
		return fileutil.AtomicWriteFile(dst, raw, 0644)
	}

	rootPath := "rootfs"
	if remote {
		rootPath = rootfs
	}
	cfg := map[string]interface{}{
		"ociVersion": "1.0.2",
		"root":       map[string]interface{}{"path": rootPath, "readonly": true},
		"process":    map[string]interface{}{"terminal": false, "args": []string{"run.sh"}, "cwd": "/"},
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if !remote {
		if verr := validateRuntimeConfig(raw); verr != nil {
			return verr
		}
	}
	return fileutil.AtomicWriteFile(dst, raw, 0644)
}

// validateRuntimeConfig enforces the one invariant the deployment
// lifecycle depends on: a read-only root at path "rootfs". This runs
// against both the generated default and any image-shipped config.json.
func validateRuntimeConfig(raw []byte) error {
	var cfg struct {
		Root struct {
			Path     string `json:"path"`
			ReadOnly bool   `json:"readonly"`
		} `json:"root"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: %v", ocierrors.ErrConfigInvalid, err)
	}
	if !cfg.Root.ReadOnly {
		return fmt.Errorf("%w: root.readonly must be true", ocierrors.ErrConfigInvalid)
	}
	if cfg.Root.Path != "rootfs" {
		return fmt.Errorf("%w: root.path must be \"rootfs\", got %q", ocierrors.ErrConfigInvalid, cfg.Root.Path)
	}
	return nil
}

func flattenValues(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func (e *Engine) runDirectory() string {
	if e.RunDirectory != "" {
		return e.RunDirectory
	}
	return "/run"
}

func (e *Engine) confDirectory() string {
	if e.ConfDirectory != "" {
		return e.ConfDirectory
	}
	return "/etc"
}

func (e *Engine) stateDirectory() string {
	if e.StateDirectory != "" {
		return e.StateDirectory
	}
	return "/var/lib"
}

func (e *Engine) log() *zap.SugaredLogger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop().Sugar()
}
