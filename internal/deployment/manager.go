// Package deployment implements Install/Upgrade/Rollback/Uninstall/Status
// on top of the Checkout Engine.
package deployment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/giuseppe/atomic/internal/checkout"
	"github.com/giuseppe/atomic/internal/importer"
	"github.com/giuseppe/atomic/internal/objectstore"
	ocierrors "github.com/giuseppe/atomic/pkg/errors"
)

// Manager ties the Checkout Engine to a Supervisor and a HostInstall
// adapter to carry out full deployment lifecycle operations.
type Manager struct {
	Store    *objectstore.Store
	Importer *importer.Importer
	Engine   *checkout.Engine
	Super    Supervisor
	Host     HostInstall
	Log      *zap.SugaredLogger
}

// State describes one deployment's current status, for `atomic status`.
type State struct {
	Name    string
	Slot    string
	ImageID string
	Active  bool
	Failed  bool

	// NoService is true when the deployed image set noContainerService:
	// no unit is managed, so Active/Failed don't apply.
	NoService bool
	Deployed  bool
}

func (m *Manager) log() *zap.SugaredLogger {
	if m.Log != nil {
		return m.Log
	}
	return zap.NewNop().Sugar()
}

func (m *Manager) symlinkPath(name string) string {
	return filepath.Join(m.Engine.CheckoutRoot, name)
}

// Install pulls the image if needed, runs a checkout, installs the
// rendered unit/tmpfiles/host files, and enables and starts the service.
// Fails with ErrAlreadyInstalled if name already has a live deployment or
// already has a unit/tmpfiles file sitting on the host outside this
// manager's knowledge.
func (m *Manager) Install(ctx context.Context, name, image string, overrides map[string]string, systemPackage string) error {
	if _, err := os.Lstat(m.symlinkPath(name)); err == nil {
		return fmt.Errorf("%w: %s", ocierrors.ErrAlreadyInstalled, name)
	}
	if m.Host.Exists(name) {
		return fmt.Errorf("%w: %s already has a unit or tmpfiles file on the host", ocierrors.ErrAlreadyInstalled, name)
	}

	if _, err := m.Importer.Pull(ctx, image, false); err != nil {
		return err
	}

	result, err := m.Engine.Checkout(checkout.Options{Name: name, Image: image, Overrides: overrides, SystemPackage: systemPackage})
	if err != nil {
		return err
	}

	if result.SystemPackage == "build" {
		return m.buildPackage(result)
	}

	if err := m.activate(ctx, name, result, nil); err != nil {
		os.RemoveAll(result.SlotDir)
		return err
	}
	return nil
}

// Upgrade re-pulls the image with upgrade semantics, checks out the other
// slot, and if the new deployment's image id or resolved values differ
// from the current one, flips over to it. Returns ErrNothingToUpgrade if
// both are unchanged.
func (m *Manager) Upgrade(ctx context.Context, name, image string, overrides map[string]string, systemPackage string) error {
	currentInfo, err := m.currentInfo(name)
	if err != nil {
		return err
	}
	if systemPackage == "" && currentInfo != nil {
		systemPackage = currentInfo.SystemPackage
	}

	if _, err := m.Importer.Pull(ctx, image, true); err != nil {
		return err
	}

	result, err := m.Engine.Checkout(checkout.Options{Name: name, Image: image, Overrides: overrides, SystemPackage: systemPackage})
	if err != nil {
		return err
	}

	if currentInfo != nil && currentInfo.ImageID == result.Info.ImageID && valuesEqual(currentInfo.Values, result.Info.Values) {
		os.RemoveAll(result.SlotDir)
		return fmt.Errorf("%w: %s is already at %s", ocierrors.ErrNothingToUpgrade, name, result.Info.ImageID)
	}

	if result.SystemPackage == "build" {
		return m.buildPackage(result)
	}

	if err := m.activate(ctx, name, result, currentInfo); err != nil {
		os.RemoveAll(result.SlotDir)
		return err
	}
	return nil
}

// Rollback flips the live symlink back to the other existing slot,
// re-applies that slot's unit/tmpfiles/host-installed files, and restarts
// the service if it manages one. Returns ErrNoPreviousDeployment if
// there's no other slot to roll back to.
func (m *Manager) Rollback(ctx context.Context, name string) error {
	base := m.symlinkPath(name)
	current, err := os.Readlink(base)
	if err != nil {
		return fmt.Errorf("%w: %s has no active deployment", ocierrors.ErrNoPreviousDeployment, name)
	}

	other := base + ".1"
	if filepath.Base(current) == name+".1" {
		other = base + ".0"
	}
	if _, err := os.Stat(other); err != nil {
		return fmt.Errorf("%w: %s has no other slot to roll back to", ocierrors.ErrNoPreviousDeployment, name)
	}

	info, err := checkout.ReadInfo(filepath.Join(other, "info.json"))
	if err != nil {
		return fmt.Errorf("read rollback target info: %w", err)
	}

	if info.HasContainerService {
		if unitContent, rerr := os.ReadFile(filepath.Join(other, name+".service")); rerr == nil {
			if _, err := m.Host.InstallUnit(name, string(unitContent)); err != nil {
				return fmt.Errorf("install unit: %w", err)
			}
		}
	}
	if tmpfilesContent, rerr := os.ReadFile(filepath.Join(other, "tmpfiles-"+name+".conf")); rerr == nil {
		if _, err := m.Host.InstallTmpfiles(name, string(tmpfilesContent)); err != nil {
			return fmt.Errorf("install tmpfiles: %w", err)
		}
	}

	if hostFiles, herr := checkout.LoadHostFiles(other, info.InstalledFiles); herr == nil && len(hostFiles) > 0 {
		if _, err := m.Host.ReconcileFiles(name, hostFiles, info.InstalledFilesChecksum); err != nil {
			return fmt.Errorf("reconcile host files: %w", err)
		}
	}

	if info.PackagePath != "" {
		if err := m.Host.InstallPackage(name, info.PackagePath); err != nil {
			m.log().Warnw("reinstall package failed", "name", name, "error", err)
		}
	}

	if err := m.flipSymlink(base, other); err != nil {
		return err
	}

	if err := m.Super.DaemonReload(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if !info.HasContainerService {
		return nil
	}
	return m.restart(ctx, name)
}

// Uninstall stops and disables the unit, removes the host-installed
// files and any tracked package, and removes both deployment slots and
// the live symlink.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	info, _ := m.currentInfo(name)

	m.Super.Stop(ctx, name+".service")
	m.Super.Disable(ctx, name+".service")
	if err := m.Host.Remove(name); err != nil {
		m.log().Warnw("host-install cleanup failed", "name", name, "error", err)
	}
	if info != nil && info.PackagePath != "" {
		if err := m.Host.RemovePackage(name); err != nil {
			m.log().Warnw("package cleanup failed", "name", name, "error", err)
		}
	}
	m.Super.DaemonReload(ctx)

	base := m.symlinkPath(name)
	os.Remove(base)
	os.RemoveAll(base + ".0")
	os.RemoveAll(base + ".1")
	return nil
}

// Status reports a deployment's current state for `atomic status`. A
// deployment whose image set noContainerService reports NoService
// instead of Active/Failed, since there's no unit to query.
func (m *Manager) Status(ctx context.Context, name string) (*State, error) {
	info, err := m.currentInfo(name)
	if err != nil {
		return nil, err
	}
	state := &State{Name: name, Deployed: info != nil}
	if info == nil {
		return state, nil
	}
	state.Slot = info.Slot
	state.ImageID = info.ImageID
	if !info.HasContainerService {
		state.NoService = true
		return state, nil
	}
	state.Active, _ = m.Super.IsActive(ctx, name+".service")
	state.Failed, _ = m.Super.IsFailed(ctx, name+".service")
	return state, nil
}

// activate installs everything a fresh checkout produced: host files
// first (so InstalledFiles/InstalledFilesChecksum can be recorded before
// the slot is live), then the unit (only when the image manages a
// service) and the tmpfiles config (always), before flipping the symlink;
// enable and restart happen only for a managed service. prior is the
// previously active deployment's Info, if any,
// supplying the checksum ReconcileFiles needs to know what to remove.
func (m *Manager) activate(ctx context.Context, name string, result *checkout.Result, prior *checkout.Info) error {
	var priorChecksum map[string]string
	if prior != nil {
		priorChecksum = prior.InstalledFilesChecksum
	}
	checksum, err := m.Host.ReconcileFiles(name, result.HostFiles, priorChecksum)
	if err != nil {
		return fmt.Errorf("reconcile host files: %w", err)
	}
	result.Info.InstalledFilesChecksum = checksum
	keys := make([]string, 0, len(checksum))
	for k := range checksum {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result.Info.InstalledFiles = keys

	if !result.NoContainerService {
		if _, err := m.Host.InstallUnit(name, result.UnitContent); err != nil {
			return fmt.Errorf("install unit: %w", err)
		}
		tmpfilesPath, err := m.Host.InstallTmpfiles(name, result.TmpfilesContent)
		if err != nil {
			return fmt.Errorf("install tmpfiles: %w", err)
		}

		m.trackPackage(name, result)

		if err := checkout.WriteInfo(filepath.Join(result.SlotDir, "info.json"), result.Info); err != nil {
			return err
		}
		if err := m.flipSymlink(m.symlinkPath(name), result.SlotDir); err != nil {
			return err
		}

		if err := m.Super.DaemonReload(ctx); err != nil {
			return fmt.Errorf("daemon-reload: %w", err)
		}
		if err := m.Super.Tmpfiles(ctx, tmpfilesPath); err != nil {
			m.log().Warnw("tmpfiles create failed", "name", name, "error", err)
		}
		if err := m.Super.Enable(ctx, name+".service"); err != nil {
			return fmt.Errorf("enable: %w", err)
		}
		return m.restart(ctx, name)
	}

	if _, err := m.Host.InstallTmpfiles(name, result.TmpfilesContent); err != nil {
		return fmt.Errorf("install tmpfiles: %w", err)
	}
	m.trackPackage(name, result)

	if err := checkout.WriteInfo(filepath.Join(result.SlotDir, "info.json"), result.Info); err != nil {
		return err
	}
	if err := m.flipSymlink(m.symlinkPath(name), result.SlotDir); err != nil {
		return err
	}
	return m.Super.DaemonReload(ctx)
}

// trackPackage handles the "yes"/"auto" system-package modes: generate
// and install a host package alongside the direct file placement
// activate already did. Failures here are logged, not fatal, since the
// systemd-managed deployment is already functional without it.
func (m *Manager) trackPackage(name string, result *checkout.Result) {
	if result.SystemPackage != "yes" && result.SystemPackage != "auto" {
		return
	}
	pkgPath, err := m.Host.GeneratePackage(name, result.Info.ImageID, result.UnitContent, result.TmpfilesContent, result.HostFiles)
	if err != nil {
		m.log().Warnw("generate package failed", "name", name, "error", err)
		return
	}
	if err := m.Host.InstallPackage(name, pkgPath); err != nil {
		m.log().Warnw("install package failed", "name", name, "error", err)
		return
	}
	result.Info.PackagePath = pkgPath
}

// buildPackage handles system-package mode "build": produce a host
// package file from the checkout's rendered artifacts and stop there,
// without activating the deployment.
func (m *Manager) buildPackage(result *checkout.Result) error {
	path, err := m.Host.GeneratePackage(result.Info.Name, result.Info.ImageID, result.UnitContent, result.TmpfilesContent, result.HostFiles)
	if err != nil {
		os.RemoveAll(result.SlotDir)
		return fmt.Errorf("generate package: %w", err)
	}
	result.Info.PackagePath = path
	return checkout.WriteInfo(filepath.Join(result.SlotDir, "info.json"), result.Info)
}

func (m *Manager) restart(ctx context.Context, name string) error {
	m.Super.Stop(ctx, name+".service")
	return m.Super.Start(ctx, name+".service")
}

func (m *Manager) flipSymlink(base, target string) error {
	tmp := base + ".new"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return os.Rename(tmp, base)
}

func (m *Manager) currentInfo(name string) (*checkout.Info, error) {
	base := m.symlinkPath(name)
	current, err := os.Readlink(base)
	if err != nil {
		return nil, nil
	}
	return checkout.ReadInfo(filepath.Join(filepath.Dir(base), filepath.Base(current), "info.json"))
}

func valuesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
