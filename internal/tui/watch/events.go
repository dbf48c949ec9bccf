package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/rendergw/internal/events"
)

const maxEventLog = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"):
		typeStyle = theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.StatusFailed
	case strings.HasSuffix(e.Type, ".started"), strings.HasSuffix(e.Type, ".created"):
		typeStyle = theme.StatusRunning
	case strings.HasPrefix(e.Type, "janitor"):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), describeEvent(e))
}

// describeEvent summarizes the payload in a few words.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	for _, key := range []string{"id", "job_id", "jobId"} {
		if id, ok := data[key].(string); ok && id != "" {
			parts = append(parts, "["+shortID(id)+"]")
			break
		}
	}
	if c, ok := data["compositionId"].(string); ok {
		parts = append(parts, c)
	}
	if p, ok := data["progress"].(float64); ok && e.Type == events.RenderProgress {
		parts = append(parts, fmt.Sprintf("%d%%", int(p)))
	}
	if s, ok := data["status"].(string); ok {
		parts = append(parts, s)
	}
	if e.Type == events.JanitorSweep {
		parts = append(parts, fmt.Sprintf("jobs=%v streams=%v outputs=%v", data["jobs"], data["streams"], data["outputs"]))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
