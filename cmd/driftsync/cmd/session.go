package cmd

import (
	"fmt"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/engine"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/fsops"
	"github.com/driftsync/driftsync/internal/ignore"
	"github.com/driftsync/driftsync/internal/remote"
	"github.com/driftsync/driftsync/internal/scanner"
	"github.com/driftsync/driftsync/internal/state"
)

// session bundles the opened store and, when needed, the SSH-backed
// engine for one command invocation.
type session struct {
	root  string
	cfg   *config.Config
	store *state.Store
	conn  *remote.Conn
	eng   *engine.Engine
}

// openStore opens config and state for commands that work offline
// (status, set-action, review without apply).
func openStore() (*session, error) {
	root, err := localRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(root)
	if err != nil {
		return nil, err
	}
	return &session{root: root, cfg: cfg, store: store}, nil
}

// openEngine additionally dials the remote and assembles the engine.
func openEngine() (*session, error) {
	s, err := openStore()
	if err != nil {
		return nil, err
	}
	if err := s.connect(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// connect dials the remote and assembles the engine on an open session.
func (s *session) connect() error {
	if s.eng != nil {
		return nil
	}
	if s.cfg.Remote.Host == "" || s.cfg.Remote.Root == "" {
		return errors.New(errors.ErrCodeConfigInvalid,
			"remote host and root are not configured", nil).
			WithSuggestion("run 'driftsync config init' and fill in the remote section")
	}

	conn, err := remote.Dial(s.cfg)
	if err != nil {
		return err
	}
	s.conn = conn

	localEP, err := fsops.NewLocal(s.root)
	if err != nil {
		return err
	}
	remoteEP, err := remote.NewEndpoint(conn, s.cfg.Remote.Sessions)
	if err != nil {
		return err
	}

	matcher, err := ignore.New(s.cfg.ExcludedDirs(), s.cfg.ExcludedFiles(), s.cfg.Exclude.Patterns)
	if err != nil {
		return err
	}
	localSc, err := scanner.New(s.root, matcher)
	if err != nil {
		return err
	}
	remoteSc := remote.NewScanner(conn, s.cfg.Remote.HelperPath)

	s.eng = engine.New(s.cfg, s.store, localSc, remoteSc, localEP, remoteEP)
	return nil
}

// Close releases the store lock and the SSH connection.
func (s *session) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}

// latestDoneRun returns the newest finished run or a guiding error.
func (s *session) latestDoneRun() (*state.Run, error) {
	run, err := s.store.LatestRun()
	if err != nil {
		return nil, err
	}
	if run == nil || run.Status != state.StatusDone {
		return nil, errors.New(errors.ErrCodeStateIO,
			fmt.Sprintf("no finished scan for %s", s.root), nil).
			WithSuggestion("run 'driftsync scan' first")
	}
	return run, nil
}
