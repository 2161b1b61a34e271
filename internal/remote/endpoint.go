package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/driftsync/driftsync/internal/fsops"
)

// SFTPEndpoint implements fsops.Endpoint over a small pool of SFTP
// sessions on one SSH connection. Pooling keeps parallel transfers
// from serializing on a single sftp channel.
type SFTPEndpoint struct {
	conn *Conn
	pool chan *sftp.Client
	all  []*sftp.Client
}

// NewEndpoint opens the session pool. sessions < 1 gets one session.
func NewEndpoint(conn *Conn, sessions int) (*SFTPEndpoint, error) {
	if sessions < 1 {
		sessions = 1
	}
	ep := &SFTPEndpoint{conn: conn, pool: make(chan *sftp.Client, sessions)}
	for i := 0; i < sessions; i++ {
		client, err := conn.NewSFTP()
		if err != nil {
			_ = ep.Close()
			return nil, fmt.Errorf("failed to open sftp session: %w", err)
		}
		ep.all = append(ep.all, client)
		ep.pool <- client
	}
	return ep, nil
}

func (ep *SFTPEndpoint) Root() string { return ep.conn.Root() }
func (ep *SFTPEndpoint) Home() string { return ep.conn.Home() }

func (ep *SFTPEndpoint) abs(p string) string {
	return path.Join(ep.conn.Root(), p)
}

func (ep *SFTPEndpoint) acquire() *sftp.Client { return <-ep.pool }
func (ep *SFTPEndpoint) release(c *sftp.Client) { ep.pool <- c }

func (ep *SFTPEndpoint) Lstat(p string) (fs.FileInfo, error) {
	c := ep.acquire()
	defer ep.release(c)
	return c.Lstat(ep.abs(p))
}

func (ep *SFTPEndpoint) Open(p string) (io.ReadCloser, error) {
	// The session stays checked out until the file is closed.
	c := ep.acquire()
	f, err := c.Open(ep.abs(p))
	if err != nil {
		ep.release(c)
		return nil, err
	}
	return &pooledFile{f: f, ep: ep, c: c}, nil
}

type pooledFile struct {
	f  *sftp.File
	ep *SFTPEndpoint
	c  *sftp.Client
}

func (p *pooledFile) Read(b []byte) (int, error) { return p.f.Read(b) }

func (p *pooledFile) Close() error {
	err := p.f.Close()
	p.ep.release(p.c)
	return err
}

func (ep *SFTPEndpoint) WriteFile(p string, r io.Reader, mode fs.FileMode) error {
	c := ep.acquire()
	defer ep.release(c)

	abs := ep.abs(p)
	tmp := path.Join(path.Dir(abs), "."+path.Base(abs)+".driftsync-"+uuid.NewString()[:8])

	f, err := c.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = c.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = c.Remove(tmp)
		return err
	}
	if err := c.Chmod(tmp, mode.Perm()); err != nil {
		_ = c.Remove(tmp)
		return err
	}
	if err := c.PosixRename(tmp, abs); err != nil {
		_ = c.Remove(tmp)
		return err
	}
	return nil
}

func (ep *SFTPEndpoint) Mkdir(p string, mode fs.FileMode) error {
	c := ep.acquire()
	defer ep.release(c)
	abs := ep.abs(p)
	if err := c.MkdirAll(abs); err != nil {
		return err
	}
	return c.Chmod(abs, mode.Perm())
}

func (ep *SFTPEndpoint) Remove(p string) error {
	c := ep.acquire()
	defer ep.release(c)
	return c.Remove(ep.abs(p))
}

func (ep *SFTPEndpoint) Readlink(p string) (string, error) {
	c := ep.acquire()
	defer ep.release(c)
	return c.ReadLink(ep.abs(p))
}

func (ep *SFTPEndpoint) Symlink(target, p string) error {
	c := ep.acquire()
	defer ep.release(c)
	abs := ep.abs(p)
	if _, err := c.Lstat(abs); err == nil {
		if err := c.Remove(abs); err != nil {
			return err
		}
	}
	return c.Symlink(target, abs)
}

func (ep *SFTPEndpoint) Chmod(p string, mode fs.FileMode) error {
	c := ep.acquire()
	defer ep.release(c)
	return c.Chmod(ep.abs(p), mode.Perm())
}

func (ep *SFTPEndpoint) Chtimes(p string, mtimeNS int64) error {
	c := ep.acquire()
	defer ep.release(c)
	t := time.Unix(0, mtimeNS)
	return c.Chtimes(ep.abs(p), t, t)
}

// Hash prefers a remote sha256sum invocation so the bytes never cross
// the wire; when the binary is unavailable it falls back to streaming
// the file over SFTP.
func (ep *SFTPEndpoint) Hash(ctx context.Context, p string) (string, error) {
	if h, err := ep.conn.HashExec(ctx, ep.abs(p)); err == nil {
		return h, nil
	}
	return ep.hashSFTP(ctx, p)
}

func (ep *SFTPEndpoint) hashSFTP(ctx context.Context, p string) (string, error) {
	f, err := ep.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return hashStream(ctx, f)
}

// Close tears down every pooled session.
func (ep *SFTPEndpoint) Close() error {
	var first error
	for _, c := range ep.all {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ fsops.Endpoint = (*SFTPEndpoint)(nil)

// HashExec hashes a remote absolute path by running sha256sum.
func (c *Conn) HashExec(ctx context.Context, absPath string) (string, error) {
	session, err := c.NewSession()
	if err != nil {
		return "", err
	}
	defer func() { _ = session.Close() }()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Signal(ssh.SIGKILL)
		case <-done:
		}
	}()

	out, err := session.Output("sha256sum -- " + shellQuote(absPath))
	close(done)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 || len(fields[0]) != 64 {
		return "", fmt.Errorf("unexpected sha256sum output for %s", absPath)
	}
	return fields[0], nil
}
