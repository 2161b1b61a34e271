// Package remote implements the SSH side of a reconciliation: one ssh
// connection per run, a pooled SFTP endpoint for transfers, a scanner
// that drives the driftsync-helper record stream, and exec-based
// hashing with an SFTP fallback.
package remote

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/errors"
)

// Conn is one SSH connection to the remote host, shared by the
// scanner, the endpoint, and the hash runner for the whole run.
type Conn struct {
	client *ssh.Client
	cfg    config.RemoteConfig
	root   string
	home   string
}

// Dial connects and resolves the remote root and home directories.
func Dial(cfg *config.Config) (*Conn, error) {
	auths := authMethods()
	if len(auths) == 0 {
		return nil, errors.New(errors.ErrCodeSSHConnect,
			"no SSH authentication methods available", nil).
			WithSuggestion("start ssh-agent or provide a key in ~/.ssh")
	}

	remote := cfg.Remote
	clientCfg := &ssh.ClientConfig{
		User:            remote.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout(),
	}

	addr := net.JoinHostPort(remote.Host, fmt.Sprintf("%d", remote.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSSHConnect,
			fmt.Sprintf("ssh connection to %s failed: %v", addr, err), err)
	}

	c := &Conn{client: client, cfg: remote}
	if err := c.resolvePaths(); err != nil {
		_ = client.Close()
		return nil, err
	}
	slog.Info("ssh_connected", "host", remote.Host, "user", remote.User,
		"root", c.root, "home", c.home)
	return c, nil
}

// resolvePaths expands the configured root against the remote home.
func (c *Conn) resolvePaths() error {
	home, err := c.Output("printf %s \"$HOME\"")
	if err != nil || home == "" {
		home = "/home/" + c.cfg.User
	}
	c.home = home

	root := c.cfg.Root
	switch {
	case root == "~":
		root = home
	case strings.HasPrefix(root, "~/"):
		root = home + root[1:]
	}
	c.root = strings.TrimRight(root, "/")
	if c.root == "" {
		c.root = "/"
	}

	out, err := c.Output("test -d " + shellQuote(c.root) + " && echo ok")
	if err != nil || strings.TrimSpace(out) != "ok" {
		return errors.New(errors.ErrCodeRootNotFound,
			fmt.Sprintf("remote root not found: %s", c.root), err)
	}
	return nil
}

// Root returns the resolved absolute remote root.
func (c *Conn) Root() string { return c.root }

// Home returns the remote home directory.
func (c *Conn) Home() string { return c.home }

// Output runs a command on the remote host and returns its stdout.
func (c *Conn) Output(cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", err
	}
	defer func() { _ = session.Close() }()
	out, err := session.Output(cmd)
	return strings.TrimRight(string(out), "\n"), err
}

// NewSession opens a fresh exec session.
func (c *Conn) NewSession() (*ssh.Session, error) {
	return c.client.NewSession()
}

// NewSFTP opens a new SFTP subsystem session.
func (c *Conn) NewSFTP() (*sftp.Client, error) {
	return sftp.NewClient(c.client)
}

// Close tears down the connection.
func (c *Conn) Close() error {
	return c.client.Close()
}

// authMethods builds the auth chain: ssh-agent first, then the default
// unencrypted keys under ~/.ssh.
func authMethods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if m := agentAuth(); m != nil {
		methods = append(methods, m)
	}
	methods = append(methods, defaultKeyAuths()...)
	return methods
}

func agentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

func defaultKeyAuths() []ssh.AuthMethod {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var methods []ssh.AuthMethod
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			// Encrypted keys are skipped; the agent covers those.
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	return methods
}

// shellQuote single-quotes s for safe use in a remote shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
