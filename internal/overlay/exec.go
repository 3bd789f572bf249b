//go:build linux

package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/giuseppe/atomic/pkg/fileutil"
)

// OneShotExec mounts lowerdirs as an overlay at a scratch target, patches
// a scratch copy of configPath with args/terminal, runs it via runtime
// (e.g. "runc"), and tears the mount down afterward regardless of the
// command's outcome.
func OneShotExec(ctx context.Context, runtime, configPath, bundleDir string, lowerdirs []string, args []string, terminal bool) error {
	target := filepath.Join(bundleDir, "rootfs")
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create exec rootfs dir: %w", err)
	}
	if err := Mount(lowerdirs, "", "", target); err != nil {
		return fmt.Errorf("mount overlay for exec: %w", err)
	}
	defer Unmount(target)

	scratchConfig := filepath.Join(bundleDir, "config.json")
	if err := patchConfig(configPath, scratchConfig, args, terminal); err != nil {
		return fmt.Errorf("patch exec config: %w", err)
	}
	defer os.Remove(scratchConfig)

	cmd := exec.CommandContext(ctx, runtime, "run", "--bundle", bundleDir, filepath.Base(bundleDir))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// patchConfig copies config.json to dst, overwriting only process.args and
// process.terminal and leaving every other field (root, mounts, linux,
// ...) untouched, rather than mutating the checkout's own config.json.
func patchConfig(src, dst string, args []string, terminal bool) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse config.json: %w", err)
	}

	var process map[string]json.RawMessage
	if err := json.Unmarshal(cfg["process"], &process); err != nil {
		return fmt.Errorf("parse config.json process: %w", err)
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return err
	}
	terminalJSON, err := json.Marshal(terminal)
	if err != nil {
		return err
	}
	process["args"] = argsJSON
	process["terminal"] = terminalJSON

	patchedProcess, err := json.Marshal(process)
	if err != nil {
		return err
	}
	cfg["process"] = patchedProcess

	patched, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(dst, patched, 0644)
}
