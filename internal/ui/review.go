package ui

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/driftsync/driftsync/internal/diff"
)

// Outcome is how the review session ended.
type Outcome int

const (
	// OutcomeQuit means the user left without applying.
	OutcomeQuit Outcome = iota
	// OutcomeApply means the user asked to apply the reviewed plan.
	OutcomeApply
)

// PrefStore persists review preferences across sessions.
type PrefStore interface {
	GetPref(key, def string) (string, error)
	SetPref(key, value string) error
}

// ReviewDeps wires the browser to the engine and store.
type ReviewDeps struct {
	Entries []*diff.Entry
	// SetAction records a choice for a path or subtree and returns the
	// refreshed entry list.
	SetAction func(pathOrSubtree string, action diff.Action) ([]*diff.Entry, error)
	Prefs     PrefStore
	LocalRoot string
	Remote    string
}

const prefHideIdentical = "hide_identical"

// RunReview runs the interactive review browser and reports how the
// session ended.
func RunReview(cfg Config, deps ReviewDeps) (Outcome, error) {
	m := newReviewModel(cfg, deps)

	var opts []tea.ProgramOption
	if f, ok := cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	opts = append(opts, tea.WithAltScreen())

	out, err := tea.NewProgram(m, opts...).Run()
	if err != nil {
		return OutcomeQuit, err
	}
	final, ok := out.(*reviewModel)
	if !ok {
		return OutcomeQuit, nil
	}
	return final.outcome, nil
}

type reviewModel struct {
	deps   ReviewDeps
	styles Styles

	view     *TreeView
	rows     []Row
	expanded map[string]bool
	hideSame bool

	cursor  int
	offset  int
	width   int
	height  int
	status  string
	outcome Outcome
}

func newReviewModel(cfg Config, deps ReviewDeps) *reviewModel {
	m := &reviewModel{
		deps:     deps,
		styles:   GetStyles(cfg.NoColor || DetectNoColor()),
		expanded: map[string]bool{},
		width:    80,
		height:   24,
	}
	if deps.Prefs != nil {
		if v, err := deps.Prefs.GetPref(prefHideIdentical, "0"); err == nil && v == "1" {
			m.hideSame = true
		}
	}
	// Top-level directories start open.
	m.view = NewTreeView(deps.Entries)
	for _, r := range m.view.Flatten(map[string]bool{}, false) {
		if r.IsDir && r.Depth == 0 {
			m.expanded[r.Path] = true
		}
	}
	m.rebuild(deps.Entries)
	return m
}

// rebuild recomputes the index and visible rows, keeping the cursor on
// a valid line.
func (m *reviewModel) rebuild(entries []*diff.Entry) {
	m.deps.Entries = entries
	m.view = NewTreeView(entries)
	m.rows = m.view.Flatten(m.expanded, m.hideSame)
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// Init implements tea.Model.
func (m *reviewModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m *reviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *reviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	switch msg.String() {
	case "ctrl+c", "q":
		m.outcome = OutcomeQuit
		return m, tea.Quit

	case "a":
		m.outcome = OutcomeApply
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "pgup":
		m.cursor -= m.listHeight()
		if m.cursor < 0 {
			m.cursor = 0
		}
	case "pgdown":
		m.cursor += m.listHeight()
		if m.cursor > len(m.rows)-1 {
			m.cursor = len(m.rows) - 1
		}

	case "enter", " ", "right":
		if r, ok := m.current(); ok && r.IsDir {
			m.expanded[r.Path] = !m.expanded[r.Path]
			m.rebuild(m.deps.Entries)
		}
	case "left":
		if r, ok := m.current(); ok {
			if r.IsDir && m.expanded[r.Path] {
				m.expanded[r.Path] = false
			} else if p := parentOf(r.Path); p != "" {
				m.expanded[p] = false
				m.moveTo(p)
			}
			m.rebuild(m.deps.Entries)
		}

	case "i":
		m.hideSame = !m.hideSame
		if m.deps.Prefs != nil {
			v := "0"
			if m.hideSame {
				v = "1"
			}
			_ = m.deps.Prefs.SetPref(prefHideIdentical, v)
		}
		m.rebuild(m.deps.Entries)

	case "l":
		m.choose(diff.ActionSyncLocalToRemote)
	case "r":
		m.choose(diff.ActionSyncRemoteToLocal)
	case "s":
		m.choose(diff.ActionSkip)
	case "u":
		m.choose(diff.ActionNone)
	case "m":
		m.chooseMetadata()
	case "d":
		m.chooseDelete()
	}
	m.clampScroll()
	return m, nil
}

func (m *reviewModel) current() (Row, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return Row{}, false
	}
	return m.rows[m.cursor], true
}

func (m *reviewModel) moveTo(path string) {
	for i, r := range m.rows {
		if r.Path == path {
			m.cursor = i
			return
		}
	}
}

// choose records an action for the current row; on a directory it
// covers the whole subtree.
func (m *reviewModel) choose(action diff.Action) {
	r, ok := m.current()
	if !ok {
		return
	}
	entries, err := m.deps.SetAction(r.Path, action)
	if err != nil {
		m.status = err.Error()
		return
	}
	m.rebuild(entries)
	if action == diff.ActionNone {
		m.status = fmt.Sprintf("cleared choice for %s", r.Path)
	} else {
		m.status = fmt.Sprintf("%s: %s", r.Path, action)
	}
}

// chooseMetadata picks the metadata direction from the entry's winning
// side. Only single files have one, so directory rows are refused.
func (m *reviewModel) chooseMetadata() {
	r, ok := m.current()
	if !ok || r.IsDir || r.Entry == nil {
		m.status = "metadata sync needs a single file"
		return
	}
	if r.Entry.MetadataState != diff.MetaDifferent {
		m.status = "metadata already matches"
		return
	}
	action := diff.ActionMetaLocalToRemote
	if r.Entry.MetaSource == diff.SideRemote {
		action = diff.ActionMetaRemoteToLocal
	}
	m.choose(action)
}

// chooseDelete accepts the recorded deletion hint for the current file.
func (m *reviewModel) chooseDelete() {
	r, ok := m.current()
	if !ok || r.IsDir || r.Entry == nil {
		m.status = "delete needs a single file"
		return
	}
	if !r.Entry.RecommendedAction.IsDelete() {
		m.status = "no deletion suggested for this path"
		return
	}
	m.choose(r.Entry.RecommendedAction)
}

func (m *reviewModel) listHeight() int {
	h := m.height - 4 // header, summary, status, help
	if h < 3 {
		h = 3
	}
	return h
}

func (m *reviewModel) clampScroll() {
	h := m.listHeight()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+h {
		m.offset = m.cursor - h + 1
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// View implements tea.Model.
func (m *reviewModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf("driftsync review · %s ⇄ %s", m.deps.LocalRoot, m.deps.Remote)
	b.WriteString(m.styles.Header.Render(title))
	b.WriteByte('\n')
	b.WriteString(m.renderSummary())
	b.WriteByte('\n')

	h := m.listHeight()
	end := m.offset + h
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(m.rows[i], i == m.cursor))
		b.WriteByte('\n')
	}
	if len(m.rows) == 0 {
		b.WriteString(m.styles.Dim.Render("nothing to review"))
		b.WriteByte('\n')
	}
	for i := end - m.offset; i < h; i++ {
		b.WriteByte('\n')
	}

	if m.status != "" {
		b.WriteString(m.styles.Warning.Render(m.status))
	}
	b.WriteByte('\n')
	b.WriteString(m.styles.Dim.Render(
		"l local wins · r remote wins · m metadata · d delete · s skip · u undo · i hide identical · a apply · q quit"))
	return b.String()
}

func (m *reviewModel) renderSummary() string {
	c := m.view.Counts("")
	parts := []string{
		m.styles.Local.Render(fmt.Sprintf("%d only-local", c.OnlyLocal)),
		m.styles.Remote.Render(fmt.Sprintf("%d only-remote", c.OnlyRemote)),
		m.styles.Conflict.Render(fmt.Sprintf("%d conflicts", c.Conflicts)),
		m.styles.Meta.Render(fmt.Sprintf("%d metadata", c.MetaOnly)),
		m.styles.Success.Render(fmt.Sprintf("%d identical", c.Identical)),
	}
	if c.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("%d errors", c.Errors)))
	}
	if c.Chosen > 0 {
		parts = append(parts, m.styles.Action.Render(fmt.Sprintf("%d chosen", c.Chosen)))
	}
	return strings.Join(parts, m.styles.Dim.Render(" · "))
}

func (m *reviewModel) renderRow(r Row, selected bool) string {
	indent := strings.Repeat("  ", r.Depth)

	var line string
	if r.IsDir {
		marker := "▸"
		if m.expanded[r.Path] {
			marker = "▾"
		}
		line = fmt.Sprintf("%s%s %s/ %s", indent, marker, r.Name, m.renderDirBadges(r.Counts))
	} else {
		line = fmt.Sprintf("%s  %s %s", indent, m.renderBadge(r.Entry), r.Name)
		if a := r.Entry.EffectiveAction(); a != diff.ActionNone && a != diff.ActionSkip {
			line += " " + m.styles.Action.Render("["+string(a)+"]")
		}
		if r.Entry.LastError != "" {
			line += " " + m.styles.Error.Render("!")
		}
	}

	if selected {
		return m.styles.Cursor.Render(line)
	}
	return line
}

// renderDirBadges shows the non-zero aggregates for a folder.
func (m *reviewModel) renderDirBadges(c Counts) string {
	var parts []string
	if c.OnlyLocal > 0 {
		parts = append(parts, m.styles.Local.Render(fmt.Sprintf("←%d", c.OnlyLocal)))
	}
	if c.OnlyRemote > 0 {
		parts = append(parts, m.styles.Remote.Render(fmt.Sprintf("→%d", c.OnlyRemote)))
	}
	if c.Conflicts > 0 {
		parts = append(parts, m.styles.Conflict.Render(fmt.Sprintf("✗%d", c.Conflicts)))
	}
	if c.MetaOnly > 0 {
		parts = append(parts, m.styles.Meta.Render(fmt.Sprintf("~%d", c.MetaOnly)))
	}
	if c.Unknown > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("?%d", c.Unknown)))
	}
	if len(parts) == 0 {
		return m.styles.Success.Render("✓")
	}
	return strings.Join(parts, " ")
}

func (m *reviewModel) renderBadge(e *diff.Entry) string {
	switch {
	case e.Conflict:
		return m.styles.Conflict.Render("✗")
	case e.ContentState == diff.ContentOnlyLocal:
		return m.styles.Local.Render("←")
	case e.ContentState == diff.ContentOnlyRemote:
		return m.styles.Remote.Render("→")
	case e.ContentState == diff.ContentDifferent:
		return m.styles.Warning.Render("≠")
	case e.ContentState == diff.ContentUnknown:
		return m.styles.Warning.Render("?")
	case e.MetadataState == diff.MetaDifferent:
		return m.styles.Meta.Render("~")
	default:
		return m.styles.Success.Render("=")
	}
}

var _ tea.Model = (*reviewModel)(nil)
