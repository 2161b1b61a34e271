package ui

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/apply"
	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/engine"
	"github.com/driftsync/driftsync/internal/plan"
)

// PlainRenderer outputs line-oriented progress (for CI/pipes). Scan
// progress is throttled so large trees do not flood the output.
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	lastScan time.Time
	lastHash time.Time
	errors   int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

const plainThrottle = 2 * time.Second

// Handle implements Renderer.
func (r *PlainRenderer) Handle(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case engine.EventScanProgress:
		if time.Since(r.lastScan) < plainThrottle {
			return
		}
		r.lastScan = time.Now()
		_, _ = fmt.Fprintf(r.out, "[SCAN] %s: %d dirs, %d files - %s\n",
			ev.Side, ev.Dirs, ev.Files, ev.Path)

	case engine.EventHashProgress:
		if time.Since(r.lastHash) < plainThrottle && ev.Done != ev.Total {
			return
		}
		r.lastHash = time.Now()
		_, _ = fmt.Fprintf(r.out, "[HASH] %d/%d\n", ev.Done, ev.Total)

	case engine.EventPathError:
		r.errors++
		_, _ = fmt.Fprintf(r.out, "WARN: %s: %v\n", ev.Path, ev.Err)

	case engine.EventApplyResult:
		if ev.Err != nil {
			r.errors++
			_, _ = fmt.Fprintf(r.out, "[APPLY] %d/%d FAIL %s: %v\n", ev.Done, ev.Total, ev.Path, ev.Err)
		} else {
			_, _ = fmt.Fprintf(r.out, "[APPLY] %d/%d ok %s\n", ev.Done, ev.Total, ev.Path)
		}
	}
}

// Errors returns the number of error events seen so far.
func (r *PlainRenderer) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// ScanSummary prints the post-scan state breakdown.
func (r *PlainRenderer) ScanSummary(entries []*diff.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := diff.Summarize(entries)
	_, _ = fmt.Fprintf(r.out,
		"Scan complete: %d paths (%d identical, %d different, %d only-local, %d only-remote, %d metadata-only",
		s.Total, s.Identical, s.Different, s.OnlyLocal, s.OnlyRemote, s.MetaOnly)
	if s.Unknown > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d unresolved", s.Unknown)
	}
	_, _ = fmt.Fprint(r.out, ")\n")
	if s.Conflicts > 0 {
		_, _ = fmt.Fprintf(r.out, "%d conflicts need a manual decision\n", s.Conflicts)
	}
	if s.Errors > 0 {
		_, _ = fmt.Fprintf(r.out, "%d paths reported errors\n", s.Errors)
	}
}

// ListPending prints entries that still need attention, one per line.
func (r *PlainRenderer) ListPending(entries []*diff.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		if e.Resolved() && e.LastError == "" {
			continue
		}
		_, _ = fmt.Fprintf(r.out, "%-14s %s", badgeText(e), e.Path)
		if a := e.EffectiveAction(); a != diff.ActionSkip && a != diff.ActionNone {
			_, _ = fmt.Fprintf(r.out, "  -> %s", a)
		}
		if e.LastError != "" {
			_, _ = fmt.Fprintf(r.out, "  (error: %s)", e.LastError)
		}
		_, _ = fmt.Fprintln(r.out)
	}
}

// ApplySummary prints per-kind counts and the overall outcome.
func (r *PlainRenderer) ApplySummary(stats apply.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Apply complete: %d succeeded, %d failed, %d skipped\n",
		stats.Succeeded, stats.Failed, stats.Skipped)

	kinds := make([]plan.OpKind, 0, len(stats.Counts))
	for k := range stats.Counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		_, _ = fmt.Fprintf(r.out, "  %-6s %4d ops in %.1fs\n", k, stats.Counts[k], stats.Seconds[k])
	}
}

// badgeText is the plain-mode state label for an entry.
func badgeText(e *diff.Entry) string {
	switch {
	case e.Conflict:
		return "CONFLICT"
	case e.ContentState == diff.ContentOnlyLocal:
		return "ONLY-LOCAL"
	case e.ContentState == diff.ContentOnlyRemote:
		return "ONLY-REMOTE"
	case e.ContentState == diff.ContentDifferent:
		return "DIFFERENT"
	case e.ContentState == diff.ContentUnknown:
		return "UNRESOLVED"
	case e.MetadataState == diff.MetaDifferent:
		return "METADATA"
	default:
		return "IDENTICAL"
	}
}
