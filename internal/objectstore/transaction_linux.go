//go:build linux
// +build linux

package objectstore

import (
	"fmt"
	"os"
	"syscall"
)

// txLock serializes writers against the repository root using flock(2),
// an in-process/same-host advisory lock guarding against two invocations
// racing the same transaction.
type txLock struct {
	path string
	file *os.File
}

func newTxLock(path string) *txLock {
	return &txLock{path: path}
}

// Acquire blocks until the lock is held.
func (l *txLock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return fmt.Errorf("acquire lock: %w", err)
	}
	l.file = f
	return nil
}

// Release drops the lock.
func (l *txLock) Release() error {
	if l.file == nil {
		return nil
	}
	defer func() {
		l.file.Close()
		l.file = nil
	}()
	return syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
}
