package remote

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/crypto/ssh"

	"github.com/driftsync/driftsync/internal/errors"
	"github.com/driftsync/driftsync/internal/tree"
)

// maxRecordLine bounds one helper stream line.
const maxRecordLine = 1024 * 1024

// Scanner drives the remote helper over an SSH session and turns its
// record stream into scan results. Malformed records are quarantined
// per path; losing the stream before the done event is fatal.
type Scanner struct {
	conn       *Conn
	helperPath string
}

// NewScanner creates a scanner using the given helper binary path on
// the remote host.
func NewScanner(conn *Conn, helperPath string) *Scanner {
	if helperPath == "" {
		helperPath = "driftsync-helper"
	}
	return &Scanner{conn: conn, helperPath: helperPath}
}

// Scan implements tree.Scanner.
func (s *Scanner) Scan(ctx context.Context, opts tree.ScanOptions) (<-chan tree.ScanResult, error) {
	session, err := s.conn.NewSession()
	if err != nil {
		return nil, errors.New(errors.ErrCodeHelperFailed,
			"failed to open helper session", err)
	}

	cmd := s.helperPath + " scan --root " + shellQuote(s.conn.Root())
	if opts.Subtree != "" && opts.Subtree != "." {
		cmd += " --subtree " + shellQuote(opts.Subtree)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, errors.New(errors.ErrCodeHelperFailed,
			"failed to attach helper stdout", err)
	}
	if err := session.Start(cmd); err != nil {
		_ = session.Close()
		return nil, errors.New(errors.ErrCodeHelperFailed,
			fmt.Sprintf("failed to start remote helper: %v", err), err).
			WithSuggestion("install driftsync-helper on the remote host or set remote.helper_path")
	}

	results := make(chan tree.ScanResult, 64)
	go func() {
		defer close(results)
		defer func() { _ = session.Close() }()

		killOnCancel := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = session.Signal(ssh.SIGKILL)
			case <-killOnCancel:
			}
		}()
		defer close(killOnCancel)

		doneSeen, readErr := consumeStream(ctx, stdout, opts, results)

		waitErr := session.Wait()
		if ctx.Err() != nil {
			return
		}
		switch {
		case !doneSeen:
			emit(ctx, results, tree.ScanResult{
				Err: errors.New(errors.ErrCodeStreamLost,
					"remote record stream ended before completion", waitErr),
			})
		case waitErr != nil:
			emit(ctx, results, tree.ScanResult{
				Err: errors.New(errors.ErrCodeHelperFailed,
					fmt.Sprintf("remote helper exited with error: %v", waitErr), waitErr),
			})
		case readErr != nil:
			emit(ctx, results, tree.ScanResult{
				Err: errors.New(errors.ErrCodeStreamLost,
					"remote record stream read failed", readErr),
			})
		}
	}()
	return results, nil
}

// consumeStream reads helper events until EOF, emitting records and
// quarantining malformed lines per path. It reports whether the done
// event arrived.
func consumeStream(ctx context.Context, r io.Reader, opts tree.ScanOptions, results chan<- tree.ScanResult) (bool, error) {
	doneSeen := false
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxRecordLine)

	for sc.Scan() {
		if ctx.Err() != nil {
			return doneSeen, ctx.Err()
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		ev, err := tree.DecodeEvent(sc.Bytes())
		if err != nil {
			emit(ctx, results, tree.ScanResult{Err: err})
			continue
		}
		switch ev.Event {
		case tree.EventRecord:
			node, err := ev.ToNode()
			if err != nil {
				emit(ctx, results, tree.ScanResult{Err: err})
				continue
			}
			emit(ctx, results, tree.ScanResult{Node: node})
		case tree.EventProgress:
			if opts.Progress != nil {
				opts.Progress(ev.Path, ev.DirsScanned, ev.FilesSeen)
			}
		case tree.EventError:
			emit(ctx, results, tree.ScanResult{
				Err: errors.New(errors.ErrCodeScanIO, ev.Message, nil).WithPath(ev.Path),
			})
		case tree.EventDone:
			doneSeen = true
			slog.Debug("remote_scan_done",
				"dirs_scanned", ev.DirsScanned,
				"files_seen", ev.FilesSeen,
				"errors", ev.Errors)
		}
	}
	return doneSeen, sc.Err()
}

func emit(ctx context.Context, results chan<- tree.ScanResult, r tree.ScanResult) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}
