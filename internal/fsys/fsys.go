// Package fsys defines a minimal filesystem interface for testability.
//
// Production code uses [OSFS] which delegates to the os package. Tests
// use [Fake], an in-memory filesystem with spy capabilities and error
// injection — the same pattern as [mux.Multiplexer] / [mux.Fake].
package fsys

import (
	"os"
)

// FS abstracts the filesystem operations the state directory needs:
// document reads, atomic replace (write sibling + rename), appends to
// the history log, and cleanup of per-session marker files. It covers
// exactly those operations — no more.
type FS interface {
	// MkdirAll creates a directory path and all parents that do not exist.
	MkdirAll(path string, perm os.FileMode) error

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// AppendFile appends data to the named file, creating it if necessary.
	AppendFile(name string, data []byte, perm os.FileMode) error

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// Rename atomically replaces newpath with oldpath.
	Rename(oldpath, newpath string) error

	// Remove removes the named file.
	Remove(name string) error

	// Stat returns file info for the named file.
	Stat(name string) (os.FileInfo, error)

	// ReadDir reads the named directory and returns its entries.
	ReadDir(name string) ([]os.DirEntry, error)
}

// OSFS implements [FS] by delegating to the os package.
type OSFS struct{}

// MkdirAll delegates to [os.MkdirAll].
func (OSFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// WriteFile delegates to [os.WriteFile].
func (OSFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// AppendFile opens the named file in append mode and writes data.
func (OSFS) AppendFile(name string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile delegates to [os.ReadFile].
func (OSFS) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// Rename delegates to [os.Rename].
func (OSFS) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Remove delegates to [os.Remove].
func (OSFS) Remove(name string) error {
	return os.Remove(name)
}

// Stat delegates to [os.Stat].
func (OSFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

// ReadDir delegates to [os.ReadDir].
func (OSFS) ReadDir(name string) ([]os.DirEntry, error) {
	return os.ReadDir(name)
}
