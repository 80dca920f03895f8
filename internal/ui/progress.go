package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"wisp/internal/workload"
)

type progressModel struct {
	title      string
	events     <-chan workload.Event
	spinner    spinner.Model
	prog       progress.Model
	items      []workerItem
	stageLabel string
	width      int
	done       bool
}

type workerItem struct {
	name   string
	status string
	stage  workload.Stage
	ops    int
	total  int
}

type eventMsg workload.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model that renders stress-run
// progress, one row per worker.
func NewProgressModel(title string, workers int, events <-chan workload.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	items := make([]workerItem, workers)
	for i := range items {
		items[i] = workerItem{name: fmt.Sprintf("worker %d", i), status: "queued"}
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(workload.Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		progressModel, cmd := m.prog.Update(msg)
		m.prog = progressModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.stageLabel != "" {
		header = fmt.Sprintf("%s (%s)", header, m.stageLabel)
	}
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 12
	nameWidth := m.width - statusWidth - 4
	if nameWidth < 20 {
		nameWidth = 20
	}

	for _, item := range m.items {
		name := item.name
		if item.stage == workload.StageChurn && item.status == "churning" && item.total > 0 {
			name = fmt.Sprintf("%s  %d/%d ops", name, item.ops, item.total)
		}
		name = truncate(name, nameWidth)
		statusStyled := styleStatus(item.status).Render(fmt.Sprintf("%12s", item.status))
		b.WriteString(fmt.Sprintf("  %s %s", statusStyled, name))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")

	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) applyEvent(ev workload.Event) tea.Cmd {
	if ev.Worker < 0 || ev.Worker >= len(m.items) {
		return nil
	}
	label := statusLabel(ev.Stage, ev.Status)
	if label != "" {
		item := &m.items[ev.Worker]
		item.status = label
		item.stage = ev.Stage
		item.ops = ev.Done
		item.total = ev.Total
		m.stageLabel = label
	}

	totalProgress := 0.0
	for _, item := range m.items {
		totalProgress += workerProgress(item)
	}
	return m.prog.SetPercent(totalProgress / float64(len(m.items)))
}

// workerProgress maps a worker's stage and in-stage position onto 0..1.
func workerProgress(item workerItem) float64 {
	if item.status == "error" {
		return 1.0
	}
	frac := 0.0
	if item.total > 0 {
		frac = float64(item.ops) / float64(item.total)
		if frac > 1 {
			frac = 1
		}
	}
	if item.status == "done" {
		frac = 1
	}
	switch item.stage {
	case workload.StagePopulate:
		return 0.00 + 0.10*frac
	case workload.StageChurn:
		return 0.10 + 0.80*frac
	case workload.StageCollect:
		return 0.90 + 0.05*frac
	case workload.StageDrain:
		return 0.95 + 0.05*frac
	default:
		return 0.0
	}
}

func statusLabel(stage workload.Stage, status workload.Status) string {
	switch status {
	case workload.StatusQueued:
		return "queued"
	case workload.StatusDone:
		return "done"
	case workload.StatusError:
		return "error"
	case workload.StatusWorking:
		return stageLabel(stage)
	default:
		return ""
	}
}

func stageLabel(stage workload.Stage) string {
	switch stage {
	case workload.StagePopulate:
		return "populating"
	case workload.StageChurn:
		return "churning"
	case workload.StageCollect:
		return "collecting"
	case workload.StageDrain:
		return "draining"
	default:
		return ""
	}
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "populating", "churning", "collecting", "draining":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
