package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/driftsync/driftsync/internal/diff"
	"github.com/driftsync/driftsync/internal/engine"
)

// TUIRenderer shows live scan and hash progress in an interactive
// terminal. It implements Renderer; events are forwarded into the
// running bubbletea program.
type TUIRenderer struct {
	mu      sync.Mutex
	program *tea.Program
	model   *scanModel
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a progress TUI. It fails on a non-TTY output
// so callers can fall back to the plain renderer.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	return &TUIRenderer{
		model: newScanModel(GetStyles(cfg.NoColor || DetectNoColor())),
		done:  make(chan struct{}),
	}, nil
}

// Start runs the program in the background.
func (r *TUIRenderer) Start(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}

	var opts []tea.ProgramOption
	if f, ok := cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
}

// Handle implements Renderer.
func (r *TUIRenderer) Handle(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(eventMsg(ev))
	}
}

// Stop ends the program and waits briefly for a clean teardown.
func (r *TUIRenderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program == nil {
		return
	}
	r.program.Send(finishedMsg{})
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
}

type eventMsg engine.Event
type finishedMsg struct{}

// sideCounter tracks one side's scan counters.
type sideCounter struct {
	dirs, files int
	current     string
}

type scanModel struct {
	styles  Styles
	spinner spinner.Model
	bar     progress.Model

	local, remote sideCounter
	hashDone      int
	hashTotal     int
	errCount      int
	width         int
}

func newScanModel(styles Styles) *scanModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorCyan))

	b := progress.New(
		progress.WithSolidFill(ColorCyan),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return &scanModel{styles: styles, spinner: s, bar: b, width: 80}
}

// Init implements tea.Model.
func (m *scanModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 24
		if m.bar.Width < 16 {
			m.bar.Width = 16
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		switch msg.Type {
		case engine.EventScanProgress:
			side := &m.local
			if msg.Side == diff.SideRemote {
				side = &m.remote
			}
			side.dirs, side.files, side.current = msg.Dirs, msg.Files, msg.Path
		case engine.EventHashProgress:
			m.hashDone, m.hashTotal = msg.Done, msg.Total
		case engine.EventPathError:
			m.errCount++
		}
		return m, nil

	case finishedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *scanModel) View() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(m.styles.Header.Render(" scanning"))
	b.WriteByte('\n')
	b.WriteString(m.renderSide("local ", m.local))
	b.WriteString(m.renderSide("remote", m.remote))

	if m.hashTotal > 0 {
		pct := float64(m.hashDone) / float64(m.hashTotal)
		b.WriteString(fmt.Sprintf("  hash   %s %s\n",
			m.bar.ViewAs(pct),
			m.styles.Label.Render(fmt.Sprintf("%d/%d", m.hashDone, m.hashTotal))))
	}
	if m.errCount > 0 {
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("  %d path errors", m.errCount)))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *scanModel) renderSide(label string, c sideCounter) string {
	dir := c.current
	if max := m.width - 30; max > 8 && len(dir) > max {
		dir = "..." + dir[len(dir)-max+3:]
	}
	return fmt.Sprintf("  %s %s %s\n",
		m.styles.Label.Render(label),
		fmt.Sprintf("%5d dirs %6d files", c.dirs, c.files),
		m.styles.Dim.Render(dir))
}

var _ tea.Model = (*scanModel)(nil)
var _ Renderer = (*TUIRenderer)(nil)
