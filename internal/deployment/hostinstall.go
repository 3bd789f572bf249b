package deployment

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/giuseppe/atomic/pkg/fileutil"
)

// HostInstall is the adapter interface for getting a rendered unit file,
// tmpfiles config, and host-installed files onto the host and tracked
// well enough to remove cleanly later. It also covers the optional
// system-package path (generate/install/remove a host package file
// instead of, or in addition to, direct file placement). FileInstall
// below is the only implementation this repo ships: plain files plus a
// JSON registry of what it placed, and a tar.gz stand-in for a real
// package format.
type HostInstall interface {
	InstallUnit(name, content string) (path string, err error)
	InstallTmpfiles(name, content string) (path string, err error)

	// Exists reports whether name already has a unit or tmpfiles file on
	// the host, independent of whatever this adapter's own registry
	// remembers installing.
	Exists(name string) bool

	// ReconcileFiles writes files (destination path to rendered content)
	// to the host, removes any previously-installed destination absent
	// from files, and returns a destination-to-checksum map recording
	// what is now present.
	ReconcileFiles(name string, files map[string]string, prior map[string]string) (checksum map[string]string, err error)

	// GeneratePackage builds a host package file from a deployment's
	// rendered artifacts without installing it.
	GeneratePackage(name, imageID, unitContent, tmpfilesContent string, files map[string]string) (path string, err error)
	InstallPackage(name, path string) error
	RemovePackage(name string) error

	Remove(name string) error
}

// registryEntry records what FileInstall placed on the host for one
// deployment name, so Remove can undo exactly that and nothing else.
type registryEntry struct {
	UnitPath     string            `json:"unit_path,omitempty"`
	TmpfilesPath string            `json:"tmpfiles_path,omitempty"`
	Files        map[string]string `json:"files,omitempty"`
	PackagePath  string            `json:"package_path,omitempty"`
}

// FileInstall places unit/tmpfiles/host files directly under
// UnitDir/TmpfilesDir/their declared destinations, and tracks them in a
// small JSON registry guarded by a mutex.
type FileInstall struct {
	UnitDir     string
	TmpfilesDir string
	RegistryDir string

	mu sync.Mutex
}

func (f *FileInstall) registryPath() string {
	return filepath.Join(f.RegistryDir, "host-install.json")
}

func (f *FileInstall) load() (map[string]registryEntry, error) {
	reg := make(map[string]registryEntry)
	data, err := os.ReadFile(f.registryPath())
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (f *FileInstall) save(reg map[string]registryEntry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	if err := fileutil.EnsureDir(f.RegistryDir, 0755); err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(f.registryPath(), data, 0644)
}

func (f *FileInstall) InstallUnit(name, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.UnitDir, name+".service")
	if err := fileutil.EnsureParentDir(path, 0755); err != nil {
		return "", err
	}
	if err := fileutil.AtomicWriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}

	reg, err := f.load()
	if err != nil {
		return "", err
	}
	entry := reg[name]
	entry.UnitPath = path
	reg[name] = entry
	return path, f.save(reg)
}

func (f *FileInstall) InstallTmpfiles(name, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.TmpfilesDir, name+".conf")
	if err := fileutil.EnsureParentDir(path, 0755); err != nil {
		return "", err
	}
	if err := fileutil.AtomicWriteFile(path, []byte(content), 0644); err != nil {
		return "", err
	}

	reg, err := f.load()
	if err != nil {
		return "", err
	}
	entry := reg[name]
	entry.TmpfilesPath = path
	reg[name] = entry
	return path, f.save(reg)
}

// Exists checks the host directly rather than this adapter's registry,
// since the files the install guard cares about may predate this adapter
// ever running (another install, or a hand-placed unit).
func (f *FileInstall) Exists(name string) bool {
	if _, err := os.Stat(filepath.Join(f.UnitDir, name+".service")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(f.TmpfilesDir, name+".conf")); err == nil {
		return true
	}
	return false
}

func (f *FileInstall) ReconcileFiles(name string, files map[string]string, prior map[string]string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	checksum := make(map[string]string, len(files))
	for dest, content := range files {
		if err := fileutil.EnsureParentDir(dest, 0755); err != nil {
			return nil, err
		}
		if err := fileutil.AtomicWriteFile(dest, []byte(content), 0644); err != nil {
			return nil, err
		}
		sum := sha256.Sum256([]byte(content))
		checksum[dest] = hex.EncodeToString(sum[:])
	}

	for dest := range prior {
		if _, ok := files[dest]; !ok {
			os.Remove(dest)
		}
	}

	reg, err := f.load()
	if err != nil {
		return nil, err
	}
	entry := reg[name]
	entry.Files = checksum
	reg[name] = entry
	return checksum, f.save(reg)
}

// GeneratePackage bundles a deployment's rendered unit, tmpfiles config,
// and host files into a tar.gz under RegistryDir. No library in the
// retrieval pack builds actual RPM/deb packages, so this stands in for
// that without pretending to be one.
func (f *FileInstall) GeneratePackage(name, imageID, unitContent, tmpfilesContent string, files map[string]string) (string, error) {
	dir := filepath.Join(f.RegistryDir, "packages")
	if err := fileutil.EnsureDir(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+"-"+shortImageID(imageID)+".tar.gz")

	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	gz := gzip.NewWriter(fh)
	tw := tar.NewWriter(gz)

	write := func(entryName string, content []byte) error {
		hdr := &tar.Header{Name: entryName, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(content)
		return err
	}

	if unitContent != "" {
		if err := write(name+".service", []byte(unitContent)); err != nil {
			fh.Close()
			return "", err
		}
	}
	if tmpfilesContent != "" {
		if err := write("tmpfiles-"+name+".conf", []byte(tmpfilesContent)); err != nil {
			fh.Close()
			return "", err
		}
	}
	for dest, content := range files {
		if err := write("hostfiles"+dest, []byte(content)); err != nil {
			fh.Close()
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		fh.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		fh.Close()
		return "", err
	}
	if err := fh.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

func (f *FileInstall) InstallPackage(name, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	reg, err := f.load()
	if err != nil {
		return err
	}
	entry := reg[name]
	entry.PackagePath = path
	reg[name] = entry
	return f.save(reg)
}

func (f *FileInstall) RemovePackage(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	reg, err := f.load()
	if err != nil {
		return err
	}
	entry, ok := reg[name]
	if !ok || entry.PackagePath == "" {
		return nil
	}
	os.Remove(entry.PackagePath)
	entry.PackagePath = ""
	reg[name] = entry
	return f.save(reg)
}

func (f *FileInstall) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	reg, err := f.load()
	if err != nil {
		return err
	}
	entry, ok := reg[name]
	if !ok {
		return nil
	}
	if entry.UnitPath != "" {
		os.Remove(entry.UnitPath)
	}
	if entry.TmpfilesPath != "" {
		os.Remove(entry.TmpfilesPath)
	}
	for dest := range entry.Files {
		os.Remove(dest)
	}
	if entry.PackagePath != "" {
		os.Remove(entry.PackagePath)
	}
	delete(reg, name)
	return f.save(reg)
}

func shortImageID(imageID string) string {
	id := strings.TrimPrefix(imageID, "sha256:")
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
