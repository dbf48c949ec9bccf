package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/rendergw/internal/composition"
	"github.com/mattjoyce/rendergw/internal/config"
	"github.com/mattjoyce/rendergw/internal/doctor"
	"github.com/mattjoyce/rendergw/internal/history"
	"github.com/mattjoyce/rendergw/internal/inspect"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/tui/watch"
)

// openHistory opens the history database named by the config.
func openHistory(configPath string) (*history.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.History.Path == "" {
		return nil, errors.New("history is disabled (set history.path in the config)")
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		return nil, fmt.Errorf("no history database at %s: %w", cfg.History.Path, err)
	}
	return history.Open(context.Background(), cfg.History.Path)
}

func runHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Maximum number of entries (0 for all)")
	status := fs.String("status", "", "Only show jobs with this status (completed, failed, cancelled)")
	compositionID := fs.String("composition", "", "Only show jobs of this composition")
	summary := fs.Bool("summary", false, "Show counts per status instead of entries")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--limit must not be negative")
		return 1
	}
	if s := render.Status(*status); s != "" && !s.Terminal() {
		fmt.Fprintf(os.Stderr, "--status must be completed, failed, or cancelled (got %q)\n", *status)
		return 1
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer store.Close()
	ctx := context.Background()

	if *summary {
		counts, err := store.Summary(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to summarize history: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(counts)
		}
		fmt.Println(summaryLine(counts))
		return 0
	}

	entries, err := store.List(ctx, history.Filter{
		CompositionID: *compositionID,
		Status:        render.Status(*status),
		Limit:         *limit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list history: %v\n", err)
		return 1
	}
	if *jsonOut {
		if entries == nil {
			entries = []history.Entry{}
		}
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No recorded render jobs.")
		return 0
	}
	fmt.Println(historyTable(entries))
	return 0
}

func summaryLine(counts map[render.Status]int) string {
	statuses := make([]string, 0, len(counts))
	total := 0
	for s, n := range counts {
		statuses = append(statuses, fmt.Sprintf("%s=%d", s, n))
		total += n
	}
	sort.Strings(statuses)
	if total == 0 {
		return "No recorded render jobs."
	}
	return fmt.Sprintf("%d recorded job(s): %s", total, strings.Join(statuses, " "))
}

func historyTable(entries []history.Entry) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	failed := cell.Foreground(lipgloss.Color("9"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("JOB", "COMPOSITION", "STATUS", "STARTED", "TOOK", "OUTPUT / ERROR").
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row >= 0 && row < len(entries) && entries[row].Status == render.StatusFailed:
				return failed
			default:
				return cell
			}
		})
	for _, e := range entries {
		took := "-"
		if e.ActualDuration != nil {
			took = time.Duration(*e.ActualDuration * float64(time.Second)).Round(100 * time.Millisecond).String()
		}
		detail := e.OutputPath
		if e.Status == render.StatusFailed {
			detail = firstLine(e.Error)
		}
		t.Row(e.ID, e.CompositionID, string(e.Status), humanize.Time(e.StartTime), took, detail)
	}
	return t.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	checksum := fs.Bool("checksum", false, "Compute the BLAKE3 checksum of the output file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: rendergw inspect <job_id> [--config PATH] [--checksum] [--json]")
		return 1
	}

	store, err := openHistory(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer store.Close()

	opts := inspect.Options{Checksum: *checksum}
	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(context.Background(), store, positional[0], opts)
	} else {
		out, err = inspect.BuildReport(context.Background(), store, positional[0], opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("url", defaultAPIURL(), "Gateway API URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(*apiURL)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	comps := composition.FromConfig(cfg.Compositions)
	if err := composition.Discover(comps, cfg.CompositionsDir, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Composition discovery error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, comps).Validate()
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return printYAML(cfg)
}

func printYAML(cfg *config.Config) int {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render YAML: %v\n", err)
		return 1
	}
	fmt.Print(string(data))
	return 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
