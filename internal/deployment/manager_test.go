package deployment

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/giuseppe/atomic/internal/checkout"
)

type fakeSupervisor struct {
	active  map[string]bool
	failed  map[string]bool
	started []string
	stopped []string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{active: map[string]bool{}, failed: map[string]bool{}}
}

func (f *fakeSupervisor) Enable(ctx context.Context, unit string) error  { return nil }
func (f *fakeSupervisor) Disable(ctx context.Context, unit string) error { return nil }
func (f *fakeSupervisor) Start(ctx context.Context, unit string) error {
	f.started = append(f.started, unit)
	f.active[unit] = true
	return nil
}
func (f *fakeSupervisor) Stop(ctx context.Context, unit string) error {
	f.stopped = append(f.stopped, unit)
	f.active[unit] = false
	return nil
}
func (f *fakeSupervisor) IsActive(ctx context.Context, unit string) (bool, error) {
	return f.active[unit], nil
}
func (f *fakeSupervisor) IsFailed(ctx context.Context, unit string) (bool, error) {
	return f.failed[unit], nil
}
func (f *fakeSupervisor) DaemonReload(ctx context.Context) error          { return nil }
func (f *fakeSupervisor) Tmpfiles(ctx context.Context, confPath string) error { return nil }

type fakeHostInstall struct{}

func (fakeHostInstall) InstallUnit(name, content string) (string, error)     { return "/dev/null", nil }
func (fakeHostInstall) InstallTmpfiles(name, content string) (string, error) { return "/dev/null", nil }
func (fakeHostInstall) Exists(name string) bool                              { return false }
func (fakeHostInstall) ReconcileFiles(name string, files, prior map[string]string) (map[string]string, error) {
	checksum := make(map[string]string, len(files))
	for dest := range files {
		checksum[dest] = "checksum"
	}
	return checksum, nil
}
func (fakeHostInstall) GeneratePackage(name, imageID, unitContent, tmpfilesContent string, files map[string]string) (string, error) {
	return "/dev/null", nil
}
func (fakeHostInstall) InstallPackage(name, path string) error { return nil }
func (fakeHostInstall) RemovePackage(name string) error        { return nil }
func (fakeHostInstall) Remove(name string) error               { return nil }


func seedSlot(t *testing.T, checkoutRoot, name, slotSuffix, imageID string) string {
	t.Helper()
	slotDir := filepath.Join(checkoutRoot, name+slotSuffix)
	if err := os.MkdirAll(slotDir, 0755); err != nil {
		t.Fatal(err)
	}
	info := checkout.Info{Name: name, ImageID: imageID, Slot: name + slotSuffix, HasContainerService: true}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(slotDir, "info.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(slotDir, "tmpfiles-"+name+".conf"), []byte("d /run/"+name+" 0755 root root -\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(slotDir, name+".service"), []byte("[Service]\nExecStart=/bin/true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return slotDir
}

func TestValuesEqual(t *testing.T) {
	a := map[string]string{"PORT": "8080"}
	b := map[string]string{"PORT": "8080"}
	if !valuesEqual(a, b) {
		t.Error("expected identical maps to be equal")
	}
	b["PORT"] = "9090"
	if valuesEqual(a, b) {
		t.Error("expected differing values to be unequal")
	}
	b = map[string]string{"PORT": "8080", "EXTRA": "x"}
	if valuesEqual(a, b) {
		t.Error("expected differing key sets to be unequal")
	}
}

func TestStatusReportsNoServiceWithoutQueryingSupervisor(t *testing.T) {
	checkoutRoot := t.TempDir()
	slot0 := filepath.Join(checkoutRoot, "app.0")
	if err := os.MkdirAll(slot0, 0755); err != nil {
		t.Fatal(err)
	}
	info := checkout.Info{Name: "app", ImageID: "sha256:x", Slot: "app.0", HasContainerService: false}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(slot0, "info.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(slot0, filepath.Join(checkoutRoot, "app")); err != nil {
		t.Fatal(err)
	}

	sup := newFakeSupervisor()
	m := &Manager{
		Engine: &checkout.Engine{CheckoutRoot: checkoutRoot},
		Super:  sup,
		Host:   fakeHostInstall{},
	}

	state, err := m.Status(context.Background(), "app")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !state.NoService {
		t.Error("expected NoService=true for an image with no container service")
	}
}

func TestRollbackSkipsRestartWhenTargetHasNoContainerService(t *testing.T) {
	checkoutRoot := t.TempDir()
	slot0 := filepath.Join(checkoutRoot, "app.0")
	if err := os.MkdirAll(slot0, 0755); err != nil {
		t.Fatal(err)
	}
	info := checkout.Info{Name: "app", ImageID: "sha256:old", Slot: "app.0", HasContainerService: false}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(slot0, "info.json"), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(slot0, "tmpfiles-app.conf"), []byte("d /run/app 0755 root root -\n"), 0644); err != nil {
		t.Fatal(err)
	}
	seedSlot(t, checkoutRoot, "app", ".1", "sha256:new")

	base := filepath.Join(checkoutRoot, "app")
	if err := os.Symlink(filepath.Join(checkoutRoot, "app.1"), base); err != nil {
		t.Fatal(err)
	}

	sup := newFakeSupervisor()
	m := &Manager{
		Engine: &checkout.Engine{CheckoutRoot: checkoutRoot},
		Super:  sup,
		Host:   fakeHostInstall{},
	}

	if err := m.Rollback(context.Background(), "app"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(sup.started) != 0 {
		t.Errorf("expected no restart for a noContainerService target, started=%v", sup.started)
	}
}

func TestStatusReportsUndeployedWhenNoSymlink(t *testing.T) {
	checkoutRoot := t.TempDir()
	m := &Manager{
		Engine: &checkout.Engine{CheckoutRoot: checkoutRoot},
		Super:  newFakeSupervisor(),
		Host:   fakeHostInstall{},
	}

	state, err := m.Status(context.Background(), "app")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state.Deployed {
		t.Error("expected Deployed=false with no symlink")
	}
}

func TestRollbackSwitchesToOtherSlot(t *testing.T) {
	checkoutRoot := t.TempDir()
	slot0 := seedSlot(t, checkoutRoot, "app", ".0", "sha256:old")
	seedSlot(t, checkoutRoot, "app", ".1", "sha256:new")

	base := filepath.Join(checkoutRoot, "app")
	if err := os.Symlink(slot0, base); err != nil {
		t.Fatal(err)
	}

	sup := newFakeSupervisor()
	m := &Manager{
		Engine: &checkout.Engine{CheckoutRoot: checkoutRoot},
		Super:  sup,
		Host:   fakeHostInstall{},
	}

	if err := m.Rollback(context.Background(), "app"); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	current, err := os.Readlink(base)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if filepath.Base(current) != "app.1" {
		t.Errorf("expected symlink to point at app.1, got %s", current)
	}
	if len(sup.started) != 1 || sup.started[0] != "app.service" {
		t.Errorf("expected service restart after rollback, started=%v", sup.started)
	}
}

func TestRollbackFailsWithoutOtherSlot(t *testing.T) {
	checkoutRoot := t.TempDir()
	slot0 := seedSlot(t, checkoutRoot, "app", ".0", "sha256:old")
	base := filepath.Join(checkoutRoot, "app")
	if err := os.Symlink(slot0, base); err != nil {
		t.Fatal(err)
	}

	m := &Manager{
		Engine: &checkout.Engine{CheckoutRoot: checkoutRoot},
		Super:  newFakeSupervisor(),
		Host:   fakeHostInstall{},
	}

	if err := m.Rollback(context.Background(), "app"); err == nil {
		t.Error("expected error rolling back with no other slot")
	}
}

func TestUninstallRemovesSlotsAndSymlink(t *testing.T) {
	checkoutRoot := t.TempDir()
	slot0 := seedSlot(t, checkoutRoot, "app", ".0", "sha256:old")
	base := filepath.Join(checkoutRoot, "app")
	if err := os.Symlink(slot0, base); err != nil {
		t.Fatal(err)
	}

	m := &Manager{
		Engine: &checkout.Engine{CheckoutRoot: checkoutRoot},
		Super:  newFakeSupervisor(),
		Host:   fakeHostInstall{},
	}

	if err := m.Uninstall(context.Background(), "app"); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := os.Lstat(base); !os.IsNotExist(err) {
		t.Error("expected symlink to be removed")
	}
	if _, err := os.Stat(slot0); !os.IsNotExist(err) {
		t.Error("expected slot directory to be removed")
	}
}
