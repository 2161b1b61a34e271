// Package fsops defines the filesystem capability surface the engine is
// written against, with a local implementation. The remote SFTP
// implementation lives in internal/remote; both sides of a transfer are
// driven through the same interface.
package fsops

import (
	"context"
	"io"
	"io/fs"
	"os"
)

// Endpoint is one side of a reconciliation: a root directory plus the
// primitives the apply engine needs. All paths are root-relative,
// slash-separated.
type Endpoint interface {
	// Root returns the absolute root path on the endpoint's host.
	Root() string
	// Home returns the home directory on the endpoint's host, used for
	// symlink target mapping.
	Home() string

	// Lstat stats a path without following symlinks. A missing path
	// returns an error satisfying os.IsNotExist semantics via
	// errors.Is(err, fs.ErrNotExist).
	Lstat(path string) (fs.FileInfo, error)
	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)
	// WriteFile streams r into path atomically: the data lands in a
	// temp file in the destination directory and is renamed into place.
	WriteFile(path string, r io.Reader, mode fs.FileMode) error
	// Mkdir creates a directory, parents included; existing is fine.
	Mkdir(path string, mode fs.FileMode) error
	// Remove deletes a file, symlink, or empty directory.
	Remove(path string) error
	// Readlink returns a symlink's target, slash-separated.
	Readlink(path string) (string, error)
	// Symlink creates (replacing if present) a symlink at path.
	Symlink(target, path string) error
	// Chmod sets permission bits.
	Chmod(path string, mode fs.FileMode) error
	// Chtimes sets the modification time from nanoseconds.
	Chtimes(path string, mtimeNS int64) error
	// Hash returns the hex SHA-256 of a file's content.
	Hash(ctx context.Context, path string) (string, error)

	// Close releases any underlying connections.
	Close() error
}

// Signature is the destination snapshot captured at plan time and
// re-checked immediately before a copy overwrites it.
type Signature struct {
	Exists  bool
	Size    int64
	MtimeNS int64
}

// SignatureOf captures the current signature of a path on an endpoint.
// Directories and symlinks carry size 0.
func SignatureOf(ep Endpoint, path string) (Signature, error) {
	info, err := ep.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Signature{}, nil
		}
		return Signature{}, err
	}
	sig := Signature{Exists: true, MtimeNS: info.ModTime().UnixNano()}
	if info.Mode().IsRegular() {
		sig.Size = info.Size()
	}
	return sig, nil
}

// Matches reports whether a freshly captured signature still agrees
// with the planned one. Mtimes compare exactly; a copy target that
// moved at all since planning is treated as changed.
func (s Signature) Matches(now Signature) bool {
	if s.Exists != now.Exists {
		return false
	}
	if !s.Exists {
		return true
	}
	return s.Size == now.Size && s.MtimeNS == now.MtimeNS
}
