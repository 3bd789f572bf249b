// Package config constructs the engine's configuration record once at
// process start. Per the design notes, no component below this package
// reads the process environment directly; everything that would otherwise
// be a global (home directory, libexec path, repo overrides, test-only
// forced image id) is threaded through this struct instead.
package config

import (
	"os"
	"path/filepath"
)

const (
	envOSTreeRepo        = "ATOMIC_OSTREE_REPO"
	envCheckoutPath       = "ATOMIC_OSTREE_CHECKOUT_PATH"
	envLibexec            = "ATOMIC_LIBEXEC"
	envForceImageIDForTest = "ATOMIC_OSTREE_TEST_FORCE_IMAGE_ID"

	envStorageRoot = "ATOMIC_OVERLAY_STORAGE"

	defaultSystemRepo     = "/ostree/repo"
	defaultSystemCheckout = "/var/lib/containers/atomic"
	defaultSystemStorage  = "/var/lib/containers/storage/overlay-layers"
	defaultLibexec        = "/usr/libexec/atomic"
)

// Config is the engine's singleton configuration record. Construct once per
// process with Load and pass by pointer to every component constructor.
type Config struct {
	// UserMode selects per-user repo/checkout paths under $HOME instead of
	// the system-wide ones.
	UserMode bool

	// Home is the invoking user's home directory (used only to derive the
	// per-user defaults below; nothing else consults it).
	Home string

	// RepoPath is the Object Store root ("<repo>/config" marks it).
	RepoPath string

	// CheckoutRoot is the directory holding "<name> -> <name>.<slot>" symlinks.
	CheckoutRoot string

	// StorageRoot is where the Overlay Mounter caches translated layer
	// trees (overlayfs whiteout representation) between checkouts.
	StorageRoot string

	// Libexec is the directory holding external helper binaries (the
	// docker-tar sha256 helper, etc).
	Libexec string

	// ForceImageIDForTest holds ATOMIC_OSTREE_TEST_FORCE_IMAGE_ID. No
	// component reads it, so computed ImageId values are never overridden.
	ForceImageIDForTest string
}

// Load builds a Config from the process environment. userMode is supplied
// explicitly by the CLI layer (a --user flag), not inferred from the
// environment, since it changes which defaults below apply.
func Load(userMode bool) *Config {
	home, _ := os.UserHomeDir()

	c := &Config{
		UserMode:            userMode,
		Home:                home,
		Libexec:             envOrDefault(envLibexec, defaultLibexec),
		ForceImageIDForTest: os.Getenv(envForceImageIDForTest),
	}

	if userMode {
		c.RepoPath = envOrDefault(envOSTreeRepo, filepath.Join(home, ".containers", "repo"))
		c.CheckoutRoot = envOrDefault(envCheckoutPath, filepath.Join(home, ".containers", "atomic"))
		c.StorageRoot = envOrDefault(envStorageRoot, filepath.Join(home, ".containers", "storage", "overlay-layers"))
	} else {
		c.RepoPath = envOrDefault(envOSTreeRepo, defaultSystemRepo)
		c.CheckoutRoot = envOrDefault(envCheckoutPath, defaultSystemCheckout)
		c.StorageRoot = envOrDefault(envStorageRoot, defaultSystemStorage)
	}

	return c
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// RunDirectory, ConfDirectory and StateDirectory give the mode-dependent
// defaults for the checkout engine's overridable template variables.
func (c *Config) RunDirectory() string {
	if c.UserMode {
		return filepath.Join(c.Home, ".containers", "run")
	}
	return "/run"
}

func (c *Config) ConfDirectory() string {
	if c.UserMode {
		return filepath.Join(c.Home, ".containers", "config")
	}
	return "/etc"
}

func (c *Config) StateDirectory() string {
	if c.UserMode {
		return filepath.Join(c.Home, ".containers", "state")
	}
	return "/var/lib"
}
