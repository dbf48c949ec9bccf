package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks server health from /healthz polling.
type HealthState struct {
	Status        string
	Version       string
	UptimeSeconds int64
	Jobs          map[string]int
	Streams       map[string]int
	Connected     bool
	LastCheck     time.Time
}

func renderHeader(health HealthState, spin spinner.Model, lastEvent time.Time, active int, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	lastEventStr := "never"
	if !lastEvent.IsZero() {
		lastEventStr = fmt.Sprintf("%s ago", time.Since(lastEvent).Round(time.Second))
	}

	title := " RENDERGW WATCH"
	if health.Version != "" {
		title += " " + theme.Dim.Render(health.Version)
	}
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4, 1)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Jobs: %s  Streams: %s",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		formatCounts(health.Jobs),
		formatCounts(health.Streams),
	)

	activity := theme.Dim.Render("idle")
	if active > 0 {
		activity = spin.View() + theme.StatusRunning.Render(fmt.Sprintf(" %d rendering", active))
	}
	activityLine := fmt.Sprintf(" %s  Last event: %s", activity, lastEventStr)

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleLine, statsLine, activityLine,
	))
}

// formatCounts renders a status histogram as "running=1 completed=4".
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "0"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
