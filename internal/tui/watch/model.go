package watch

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rendergw/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health    HealthState
	board     *Board
	eventLog  []events.Event
	lastEvent time.Time

	jobTable table.Model
	spinner  spinner.Model
	theme    Theme

	hubEvents chan events.Event
	lastID    *atomic.Int64

	lastError string
}

// New creates a watch model for the server at apiURL.
func New(apiURL string) *Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &Model{
		apiURL:    apiURL,
		board:     NewBoard(),
		eventLog:  make([]events.Event, 0),
		jobTable:  newJobTable(),
		spinner:   spin,
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
		lastID:    new(atomic.Int64),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.jobTable, cmd = m.jobTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// Elapsed columns move even without events.
		m.jobTable.SetRows(jobRows(m.board.SortedJobs(), time.Now()))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = HealthState{
			Status:        msg.Status,
			Version:       msg.Version,
			UptimeSeconds: msg.UptimeSeconds,
			Jobs:          msg.Jobs,
			Streams:       msg.Streams,
			Connected:     true,
			LastCheck:     time.Now(),
		}
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// applyEvent records e in the log and folds it into the board.
func (m *Model) applyEvent(e events.Event) {
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}
	m.lastEvent = time.Now()
	m.board.Apply(e)
	m.jobTable.SetRows(jobRows(m.board.SortedJobs(), time.Now()))
	m.health.Connected = true
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to rendergw..."
	}

	header := renderHeader(m.health, m.spinner, m.lastEvent, m.board.Active(), m.theme, m.width)
	jobs := m.theme.Border.Width(m.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("RENDER JOBS"),
		m.jobTable.View(),
	))
	streams := renderStreams(m.board.SortedStreams(), m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width, 8)

	parts := []string{header, jobs, streams, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll jobs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
