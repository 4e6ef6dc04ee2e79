package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"murmur/engine"
	"murmur/transcribe"
)

// TUI message types
type stateMsg struct{ state transcribe.State }
type tuiTickMsg struct{}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex

	// Record toggles flow back to the control loop through here; the model
	// never touches the transcriber directly.
	tuiToggle = make(chan struct{}, 1)
)

var (
	titleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	recStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	meterOnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterOffStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	confirmedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	unconfirmedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	partialStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	helpStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpBoldStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

type tuiModel struct {
	state   transcribe.State
	width   int
	height  int
	started time.Time
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return tuiTickMsg{}
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			select {
			case tuiToggle <- struct{}{}:
			default:
			}
		}

	case tuiTickMsg:
		// Re-render so the elapsed clock advances.
		return m, tuiTick()

	case stateMsg:
		if msg.state.IsRecording && !m.state.IsRecording {
			// Recording resumed; restart the elapsed clock.
			m.started = time.Now()
		}
		m.state = msg.state
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("murmur") + helpStyle.Render("  "+version) + "\n\n")

	if m.state.IsRecording {
		elapsed := int(time.Since(m.started).Seconds())
		b.WriteString(recStyle.Render("● REC") +
			idleStyle.Render(fmt.Sprintf(" %02d:%02d", elapsed/60, elapsed%60)))
	} else {
		b.WriteString(idleStyle.Render("○ PAUSED"))
	}
	b.WriteString("  " + renderMeter(lastEnergy(m.state), m.state.IsRecording) + "\n\n")

	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	if text := strings.TrimSpace(joinSegments(m.state.Confirmed)); text != "" {
		for _, line := range wrapText(text, wrapWidth) {
			b.WriteString(confirmedStyle.Render(line) + "\n")
		}
	}
	if text := strings.TrimSpace(joinSegments(m.state.Unconfirmed)); text != "" {
		for _, line := range wrapText(text, wrapWidth) {
			b.WriteString(unconfirmedStyle.Render(line) + "\n")
		}
	}
	if m.state.PartialText != "" {
		b.WriteString("\n")
		for _, line := range wrapText(m.state.PartialText, wrapWidth) {
			b.WriteString(partialStyle.Render(line) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(helpBoldStyle.Render("space") + helpStyle.Render(" pause/resume  "))
	b.WriteString(helpBoldStyle.Render("q") + helpStyle.Render(" finish"))
	return b.String()
}

// lastEnergy returns the newest relative-energy reading, 0 when none exist.
func lastEnergy(st transcribe.State) float64 {
	if len(st.EnergyTrace) == 0 {
		return 0
	}
	return st.EnergyTrace[len(st.EnergyTrace)-1]
}

func renderMeter(level float64, recording bool) string {
	const cells = 20
	lit := int(level * cells)
	if lit > cells {
		lit = cells
	}
	if !recording {
		lit = 0
	}
	var b strings.Builder
	for i := 0; i < cells; i++ {
		if i < lit {
			b.WriteString(meterOnStyle.Render("▰"))
		} else {
			b.WriteString(meterOffStyle.Render("▱"))
		}
	}
	return b.String()
}

func joinSegments(segments []engine.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func NewTUIProgram() *tea.Program {
	p := tea.NewProgram(tuiModel{started: time.Now()}, tea.WithAltScreen())
	tuiMu.Lock()
	tuiProgram = p
	tuiMu.Unlock()
	return p
}
