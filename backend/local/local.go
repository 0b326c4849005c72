// Package local implements interfaces.StorageBackend over the host
// filesystem, rooted at a configurable directory so mounted storages
// (spec §3 Storage) map onto real SD-card/USB/internal-storage
// mountpoints.
//
// Grounded on the retrieval pack's Pepperjack-svg-zynq local object
// store (services/go-storage/internal/store/local.go): the root-
// relative path resolution that rejects any path escaping the root,
// and the temp-file-plus-atomic-rename write pattern, both reused here
// behind the StorageBackend interface instead of that store's own
// Write/Read/Delete/Rename API shape.
package local

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
)

// Backend is a StorageBackend rooted at a directory on the host
// filesystem.
type Backend struct {
	root string
}

// New creates a Backend rooted at root, creating the directory if it
// does not already exist.
func New(root string) (*Backend, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local: create storage root %q: %w", root, err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local: resolve storage root: %w", err)
	}
	return &Backend{root: absRoot}, nil
}

// abs resolves a caller-supplied logical path to a concrete path under
// root, rejecting any path that would escape it.
func (b *Backend) abs(path string) (string, error) {
	joined := filepath.Join(b.root, filepath.Clean(filepath.FromSlash(path)))
	rel, err := filepath.Rel(b.root, joined)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("local: path %q escapes storage root", path)
	}
	return joined, nil
}

// OpenRead opens path for sequential reading.
func (b *Backend) OpenRead(path string) (io.ReadCloser, error) {
	abs, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

// OpenWrite opens a temp file alongside path and returns a WriteCloser
// that renames it into place atomically on Close, so a failed or
// cancelled transfer never leaves a partial file visible at path.
func (b *Backend) OpenWrite(path string) (io.WriteCloser, error) {
	abs, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return nil, fmt.Errorf("local: mkdir %q: %w", filepath.Dir(abs), err)
	}

	tmp := abs + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("local: open temp %q: %w", tmp, err)
	}
	return &atomicWriter{f: f, tmp: tmp, dest: abs}, nil
}

type atomicWriter struct {
	f    *os.File
	tmp  string
	dest string
}

func (w *atomicWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *atomicWriter) Close() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return err
	}
	if err := os.Rename(w.tmp, w.dest); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("local: rename to %q: %w", w.dest, err)
	}
	return nil
}

// Stat returns file info for path.
func (b *Backend) Stat(path string) (os.FileInfo, error) {
	abs, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// Unlink removes path (file or, recursively, directory).
func (b *Backend) Unlink(path string) error {
	abs, err := b.abs(path)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Mkdir creates path and any missing parents.
func (b *Backend) Mkdir(path string) error {
	abs, err := b.abs(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o750)
}

// Listdir lists the immediate children of path.
func (b *Backend) Listdir(path string) ([]os.FileInfo, error) {
	abs, err := b.abs(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Statvfs reports free/total bytes for the filesystem containing path,
// via the golang.org/x/sys/unix statfs(2) binding (spec §6).
func (b *Backend) Statvfs(path string) (free, total uint64, err error) {
	abs, err := b.abs(path)
	if err != nil {
		return 0, 0, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(abs, &st); err != nil {
		return 0, 0, fmt.Errorf("local: statfs %q: %w", abs, err)
	}
	total = st.Blocks * uint64(st.Bsize)
	free = st.Bavail * uint64(st.Bsize)
	return free, total, nil
}

var _ interfaces.StorageBackend = (*Backend)(nil)
