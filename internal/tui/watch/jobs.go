package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

func newJobTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 8},
			{Title: "Composition", Width: 18},
			{Title: "Status", Width: 10},
			{Title: "Progress", Width: 18},
			{Title: "Elapsed", Width: 10},
			{Title: "Detail", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func jobRows(jobs []*JobState, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, table.Row{
			shortID(j.ID),
			j.CompositionID,
			j.Status,
			progressBar(j.Progress, 10) + fmt.Sprintf(" %3d%%", j.Progress),
			elapsed(j.StartTime, j.EndTime, now),
			jobDetail(j),
		})
	}
	return rows
}

func jobDetail(j *JobState) string {
	switch {
	case j.Error != "":
		line, _, _ := strings.Cut(j.Error, "\n")
		return line
	case j.OutputPath != "":
		return j.OutputPath
	case j.Total > 0:
		return fmt.Sprintf("frame %d/%d", j.Frame, j.Total)
	default:
		return ""
	}
}

func renderStreams(streams []*StreamState, theme Theme, width int) string {
	innerWidth := width - 4
	if len(streams) == 0 {
		return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("STREAMS"),
			theme.Dim.Render("  No streams yet..."),
		))
	}

	lines := []string{theme.Title.Render("STREAMS")}
	for i, s := range streams {
		if i >= 5 {
			lines = append(lines, theme.Dim.Render(fmt.Sprintf("  ... %d more", len(streams)-i)))
			break
		}
		pct := 0
		if s.TotalBytes > 0 {
			pct = int(s.StreamedBytes * 100 / s.TotalBytes)
		}
		lines = append(lines, fmt.Sprintf(" %s %s %s %s / %s",
			theme.Highlight.Render(fmt.Sprintf("%-36s", s.ID)),
			theme.statusStyle(s.Status).Render(fmt.Sprintf("%-10s", s.Status)),
			theme.Progress.Render(progressBar(pct, 10)),
			humanize.IBytes(uint64(s.StreamedBytes)),
			humanize.IBytes(uint64(s.TotalBytes)),
		))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func progressBar(pct, width int) string {
	pct = max(0, min(pct, 100))
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func elapsed(start, end, now time.Time) string {
	if start.IsZero() {
		return "-"
	}
	if end.IsZero() {
		end = now
	}
	return formatDuration(end.Sub(start))
}
