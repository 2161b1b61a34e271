// Package state persists run snapshots and diff entries in a SQLite
// database under the local root's .driftsync directory. One process
// writes at a time, serialized by a file lock; a corrupt database is
// fatal and is left untouched so the prior snapshot can be recovered.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/tree"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Run is one scan/compare cycle's snapshot header.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	LocalRoot  string
	RemoteRoot string
	Status     string
	Stats      RunStats
}

// RunStats carries the per-side scan counters recorded on finish.
type RunStats struct {
	DirsScannedLocal  int
	FilesSeenLocal    int
	DirsScannedRemote int
	FilesSeenRemote   int
}

// Store is the SQLite-backed state store for one local root.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	dir  string
}

// Open locks and opens the state store under root/.driftsync, creating
// it on first use. A database that fails the integrity check aborts
// with the file left in place.
func Open(root string) (*Store, error) {
	dir := filepath.Join(root, config.StateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStateIO,
			fmt.Sprintf("failed to create state directory: %v", err), err)
	}

	lock := flock.New(filepath.Join(dir, "state.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO,
			fmt.Sprintf("failed to acquire state lock: %v", err), err)
	}
	if !locked {
		return nil, errors.New(errors.ErrCodeStateLocked,
			"state database is locked by another driftsync process", nil).
			WithSuggestion("wait for the other run to finish, or remove a stale .driftsync/state.lock")
	}

	dbPath := filepath.Join(dir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.New(errors.ErrCodeStateIO, "failed to open state database", err)
	}
	// Single writer; WAL keeps readers cheap.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, errors.New(errors.ErrCodeStateIO,
				fmt.Sprintf("failed to configure state database: %v", err), err)
		}
	}

	var integrity string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil || integrity != "ok" {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, errors.New(errors.ErrCodeStateCorrupt,
			fmt.Sprintf("state database failed integrity check: %s", integrity), err).
			WithSuggestion("move .driftsync/state.db aside and rescan")
	}

	s := &Store{db: db, lock: lock, dir: dir}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the database and the cross-process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		local_root TEXT NOT NULL,
		remote_root TEXT NOT NULL,
		dirs_scanned_local INTEGER NOT NULL DEFAULT 0,
		files_seen_local INTEGER NOT NULL DEFAULT 0,
		dirs_scanned_remote INTEGER NOT NULL DEFAULT 0,
		files_seen_remote INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS diff_entries (
		run_id TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		content_state TEXT NOT NULL,
		metadata_state TEXT NOT NULL,
		metadata_diff TEXT NOT NULL DEFAULT '[]',
		meta_source TEXT NOT NULL DEFAULT '',
		delete_hint TEXT NOT NULL DEFAULT '',
		conflict INTEGER NOT NULL DEFAULT 0,
		recommended_action TEXT NOT NULL DEFAULT '',
		user_action TEXT NOT NULL DEFAULT '',
		local_size INTEGER,
		remote_size INTEGER,
		local_mtime_ns INTEGER,
		remote_mtime_ns INTEGER,
		local_mode INTEGER,
		remote_mode INTEGER,
		last_error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, path)
	);
	CREATE INDEX IF NOT EXISTS idx_diff_entries_state
		ON diff_entries(run_id, content_state);

	CREATE TABLE IF NOT EXISTS ui_preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to create state schema", err)
	}
	return nil
}

// BeginRun records a new running snapshot and returns its id.
func (s *Store) BeginRun(localRoot, remoteRoot string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, started_at, local_root, remote_root, status)
		VALUES (?, ?, ?, ?, ?)
	`, runID, time.Now().UTC(), localRoot, remoteRoot, StatusRunning)
	if err != nil {
		return "", errors.New(errors.ErrCodeStateIO, "failed to begin run", err)
	}
	return runID, nil
}

// FinishRun marks a run done or failed and records scan counters.
func (s *Store) FinishRun(runID string, stats RunStats, status string) error {
	_, err := s.db.Exec(`
		UPDATE runs SET finished_at = ?, status = ?,
			dirs_scanned_local = ?, files_seen_local = ?,
			dirs_scanned_remote = ?, files_seen_remote = ?
		WHERE run_id = ?
	`, time.Now().UTC(), status,
		stats.DirsScannedLocal, stats.FilesSeenLocal,
		stats.DirsScannedRemote, stats.FilesSeenRemote, runID)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to finish run", err)
	}
	return nil
}

// LatestRun returns the newest run header, nil when the store is empty.
func (s *Store) LatestRun() (*Run, error) {
	return s.scanRun(s.db.QueryRow(`
		SELECT run_id, started_at, finished_at,
			local_root, remote_root, status,
			dirs_scanned_local, files_seen_local,
			dirs_scanned_remote, files_seen_remote
		FROM runs ORDER BY started_at DESC LIMIT 1
	`))
}

// BaselineRun returns the newest finished run other than excludeRunID;
// its entries are the baseline for the next recommendation pass.
func (s *Store) BaselineRun(excludeRunID string) (*Run, error) {
	return s.scanRun(s.db.QueryRow(`
		SELECT run_id, started_at, finished_at,
			local_root, remote_root, status,
			dirs_scanned_local, files_seen_local,
			dirs_scanned_remote, files_seen_remote
		FROM runs WHERE status = ? AND run_id != ?
		ORDER BY started_at DESC LIMIT 1
	`, StatusDone, excludeRunID))
}

func (s *Store) scanRun(row *sql.Row) (*Run, error) {
	var r Run
	// finished_at is scanned as nullable and coalesced to started_at here:
	// the driver only maps TIMESTAMP columns (not SQL expressions like
	// COALESCE) to time.Time.
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.StartedAt, &finished, &r.LocalRoot, &r.RemoteRoot,
		&r.Status, &r.Stats.DirsScannedLocal, &r.Stats.FilesSeenLocal,
		&r.Stats.DirsScannedRemote, &r.Stats.FilesSeenRemote)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to read run", err)
	}
	r.FinishedAt = r.StartedAt
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

// BaselineStates loads a run's content states by path.
func (s *Store) BaselineStates(runID string) (map[string]diff.ContentState, error) {
	rows, err := s.db.Query(
		"SELECT path, content_state FROM diff_entries WHERE run_id = ?", runID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to load baseline", err)
	}
	defer rows.Close()

	states := make(map[string]diff.ContentState)
	for rows.Next() {
		var path, state string
		if err := rows.Scan(&path, &state); err != nil {
			return nil, errors.New(errors.ErrCodeStateIO, "failed to scan baseline row", err)
		}
		states[path] = diff.ContentState(state)
	}
	return states, rows.Err()
}

// SaveEntries writes a run's entries in one transaction.
func (s *Store) SaveEntries(runID string, entries []*diff.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertEntries(tx, runID, entries); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to commit entries", err)
	}
	return nil
}

func insertEntries(tx *sql.Tx, runID string, entries []*diff.Entry) error {
	stmt, err := tx.Prepare(`
		INSERT INTO diff_entries (
			run_id, path, kind, content_state, metadata_state, metadata_diff,
			meta_source, delete_hint, conflict, recommended_action, user_action,
			local_size, remote_size, local_mtime_ns, remote_mtime_ns,
			local_mode, remote_mode, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, path) DO UPDATE SET
			kind = excluded.kind,
			content_state = excluded.content_state,
			metadata_state = excluded.metadata_state,
			metadata_diff = excluded.metadata_diff,
			meta_source = excluded.meta_source,
			delete_hint = excluded.delete_hint,
			conflict = excluded.conflict,
			recommended_action = excluded.recommended_action,
			user_action = excluded.user_action,
			local_size = excluded.local_size,
			remote_size = excluded.remote_size,
			local_mtime_ns = excluded.local_mtime_ns,
			remote_mtime_ns = excluded.remote_mtime_ns,
			local_mode = excluded.local_mode,
			remote_mode = excluded.remote_mode,
			last_error = excluded.last_error
	`)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to prepare entry insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		metaDiff, _ := json.Marshal(e.MetadataDiff)
		conflict := 0
		if e.Conflict {
			conflict = 1
		}
		var localSize, remoteSize, localMtime, remoteMtime, localMode, remoteMode any
		if e.Local != nil {
			localSize, localMtime, localMode = e.Local.Size, e.Local.MtimeNS, e.Local.Mode
		}
		if e.Remote != nil {
			remoteSize, remoteMtime, remoteMode = e.Remote.Size, e.Remote.MtimeNS, e.Remote.Mode
		}
		_, err := stmt.Exec(runID, e.Path, string(e.Kind),
			string(e.ContentState), string(e.MetadataState), string(metaDiff),
			string(e.MetaSource), string(e.DeleteHint), conflict,
			string(e.RecommendedAction), string(e.UserAction),
			localSize, remoteSize, localMtime, remoteMtime,
			localMode, remoteMode, e.LastError)
		if err != nil {
			return errors.New(errors.ErrCodeStateIO,
				fmt.Sprintf("failed to save entry %s", e.Path), err)
		}
	}
	return nil
}

// LoadEntries reads a run's entries sorted by path. Node snapshots are
// reconstructed from the stored per-side columns.
func (s *Store) LoadEntries(runID string) ([]*diff.Entry, error) {
	rows, err := s.db.Query(`
		SELECT path, kind, content_state, metadata_state, metadata_diff,
			meta_source, delete_hint, conflict, recommended_action, user_action,
			local_size, remote_size, local_mtime_ns, remote_mtime_ns,
			local_mode, remote_mode, last_error
		FROM diff_entries WHERE run_id = ? ORDER BY path
	`, runID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to load entries", err)
	}
	defer rows.Close()

	var entries []*diff.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*diff.Entry, error) {
	var (
		e                                              diff.Entry
		kind, contentState, metadataState, metaDiff    string
		metaSource, deleteHint, recommended, userAct   string
		conflict                                       int
		localSize, remoteSize, localMtime, remoteMtime sql.NullInt64
		localMode, remoteMode                          sql.NullInt64
	)
	err := rows.Scan(&e.Path, &kind, &contentState, &metadataState, &metaDiff,
		&metaSource, &deleteHint, &conflict, &recommended, &userAct,
		&localSize, &remoteSize, &localMtime, &remoteMtime,
		&localMode, &remoteMode, &e.LastError)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to scan entry row", err)
	}

	e.Kind = tree.Kind(kind)
	e.ContentState = diff.ContentState(contentState)
	e.MetadataState = diff.MetadataState(metadataState)
	e.MetaSource = diff.Side(metaSource)
	e.DeleteHint = diff.DeleteHint(deleteHint)
	e.Conflict = conflict != 0
	e.RecommendedAction = diff.Action(recommended)
	e.UserAction = diff.Action(userAct)
	_ = json.Unmarshal([]byte(metaDiff), &e.MetadataDiff)

	if localMtime.Valid {
		e.Local = &tree.Node{Path: e.Path, Kind: e.Kind,
			Size: localSize.Int64, MtimeNS: localMtime.Int64, Mode: uint32(localMode.Int64)}
	}
	if remoteMtime.Valid {
		e.Remote = &tree.Node{Path: e.Path, Kind: e.Kind,
			Size: remoteSize.Int64, MtimeNS: remoteMtime.Int64, Mode: uint32(remoteMode.Int64)}
	}
	return &e, nil
}

// CarryForwardUserActions copies the previous run's user choices onto
// the new run's entries wherever the diff is still the same: same path,
// same content state, not yet resolved.
func (s *Store) CarryForwardUserActions(prevRunID, runID string) error {
	_, err := s.db.Exec(`
		UPDATE diff_entries SET user_action = (
			SELECT prev.user_action FROM diff_entries prev
			WHERE prev.run_id = ?1 AND prev.path = diff_entries.path
				AND prev.user_action != ''
				AND prev.content_state = diff_entries.content_state
		)
		WHERE run_id = ?2 AND user_action = ''
			AND NOT (content_state = 'identical' AND metadata_state = 'identical')
			AND EXISTS (
				SELECT 1 FROM diff_entries prev
				WHERE prev.run_id = ?1 AND prev.path = diff_entries.path
					AND prev.user_action != ''
					AND prev.content_state = diff_entries.content_state
			)
	`, prevRunID, runID)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to carry forward user actions", err)
	}
	return nil
}

// SetUserAction records a user choice for one path or, when the path
// names a directory entry, for its whole subtree. Returns the number of
// affected entries.
func (s *Store) SetUserAction(runID, pathOrSubtree string, action diff.Action) (int, error) {
	prefix := strings.TrimSuffix(pathOrSubtree, "/")
	res, err := s.db.Exec(`
		UPDATE diff_entries SET user_action = ?
		WHERE run_id = ? AND (path = ? OR path LIKE ?)
	`, string(action), runID, prefix, prefix+"/%")
	if err != nil {
		return 0, errors.New(errors.ErrCodeStateIO, "failed to set user action", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkResolved records a successful copy/chmod: the path is now
// identical on both axes and needs no action.
func (s *Store) MarkResolved(runID, path string) error {
	_, err := s.db.Exec(`
		UPDATE diff_entries SET
			content_state = 'identical', metadata_state = 'identical',
			metadata_diff = '[]', meta_source = '', delete_hint = '',
			conflict = 0, recommended_action = 'skip', user_action = '',
			last_error = ''
		WHERE run_id = ? AND path = ?
	`, runID, path)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to mark resolved", err)
	}
	return nil
}

// RemoveEntry drops a path after a successful user-chosen delete.
func (s *Store) RemoveEntry(runID, path string) error {
	_, err := s.db.Exec(
		"DELETE FROM diff_entries WHERE run_id = ? AND path = ?", runID, path)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to remove entry", err)
	}
	return nil
}

// RecordApplyFailure keeps the entry pending with the error attributed
// to the path.
func (s *Store) RecordApplyFailure(runID, path, message string) error {
	_, err := s.db.Exec(`
		UPDATE diff_entries SET last_error = ? WHERE run_id = ? AND path = ?
	`, message, runID, path)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to record apply failure", err)
	}
	return nil
}

// ReplaceSubtree swaps the entries under prefix (inclusive) for the
// given set, in one transaction. Used by targeted rescans.
func (s *Store) ReplaceSubtree(runID, prefix string, entries []*diff.Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	p := strings.TrimSuffix(prefix, "/")
	if _, err := tx.Exec(`
		DELETE FROM diff_entries WHERE run_id = ? AND (path = ? OR path LIKE ?)
	`, runID, p, p+"/%"); err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to clear subtree", err)
	}
	if err := insertEntries(tx, runID, entries); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to commit subtree replacement", err)
	}
	return nil
}

// GetPref reads a ui preference, returning def when unset.
func (s *Store) GetPref(key, def string) (string, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM ui_preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return "", errors.New(errors.ErrCodeStateIO, "failed to read preference", err)
	}
	return value, nil
}

// SetPref upserts a ui preference.
func (s *Store) SetPref(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO ui_preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return errors.New(errors.ErrCodeStateIO, "failed to write preference", err)
	}
	return nil
}
