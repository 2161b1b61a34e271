package fsops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/driftsync/driftsync/internal/errors"
)

// LocalEndpoint implements Endpoint against the local filesystem.
type LocalEndpoint struct {
	root string
	home string
}

// NewLocal creates an endpoint rooted at the given directory.
func NewLocal(root string) (*LocalEndpoint, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRootNotFound,
			fmt.Sprintf("local root not found: %s", abs), err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeRootNotFound,
			fmt.Sprintf("local root is not a directory: %s", abs), nil)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return &LocalEndpoint{root: abs, home: home}, nil
}

func (l *LocalEndpoint) Root() string { return filepath.ToSlash(l.root) }
func (l *LocalEndpoint) Home() string { return filepath.ToSlash(l.home) }

func (l *LocalEndpoint) abs(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func (l *LocalEndpoint) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(l.abs(path))
}

func (l *LocalEndpoint) Open(path string) (io.ReadCloser, error) {
	return os.Open(l.abs(path))
}

// WriteFile writes into a temp file beside the destination and renames
// it into place, so a failed or cancelled copy never leaves a partial
// target.
func (l *LocalEndpoint) WriteFile(path string, r io.Reader, mode fs.FileMode) error {
	abs := l.abs(path)
	dir := filepath.Dir(abs)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".driftsync-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode.Perm()); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (l *LocalEndpoint) Mkdir(path string, mode fs.FileMode) error {
	abs := l.abs(path)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return err
	}
	return os.Chmod(abs, mode.Perm())
}

func (l *LocalEndpoint) Remove(path string) error {
	return os.Remove(l.abs(path))
}

func (l *LocalEndpoint) Readlink(path string) (string, error) {
	target, err := os.Readlink(l.abs(path))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(target), nil
}

func (l *LocalEndpoint) Symlink(target, path string) error {
	abs := l.abs(path)
	if _, err := os.Lstat(abs); err == nil {
		if err := os.Remove(abs); err != nil {
			return err
		}
	}
	return os.Symlink(filepath.FromSlash(target), abs)
}

func (l *LocalEndpoint) Chmod(path string, mode fs.FileMode) error {
	return os.Chmod(l.abs(path), mode.Perm())
}

func (l *LocalEndpoint) Chtimes(path string, mtimeNS int64) error {
	t := time.Unix(0, mtimeNS)
	return os.Chtimes(l.abs(path), t, t)
}

// Hash streams the file through SHA-256, checking for cancellation
// between chunks.
func (l *LocalEndpoint) Hash(ctx context.Context, path string) (string, error) {
	f, err := os.Open(l.abs(path))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, 256*1024)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		n, err := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (l *LocalEndpoint) Close() error { return nil }
