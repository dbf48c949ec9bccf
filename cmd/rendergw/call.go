package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/rendergw/internal/api"
	"github.com/mattjoyce/rendergw/internal/log"
	"github.com/mattjoyce/rendergw/internal/render"
	"github.com/mattjoyce/rendergw/internal/toolerr"
	"github.com/mattjoyce/rendergw/internal/tools"
)

// toolClient is a tool router reached either in-process or over HTTP.
type toolClient interface {
	Tools(ctx context.Context) ([]tools.Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

type localClient struct {
	router *tools.Router
}

func (c localClient) Tools(context.Context) ([]tools.Tool, error) {
	return c.router.Tools(), nil
}

func (c localClient) Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	return c.router.Call(ctx, name, args)
}

// httpClient talks to the REST tool surface of a running gateway.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *httpClient) Tools(ctx context.Context) ([]tools.Tool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /tools: %s", resp.Status)
	}
	var body struct {
		Tools []tools.Tool `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return body.Tools, nil
}

func (c *httpClient) Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + "/tools/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var res tools.Result
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("decode tool result: %w", err)
		}
		return &res, nil
	case http.StatusBadRequest:
		var e api.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return nil, toolerr.Validation(e.Field, e.Constraint, e.Error)
	case http.StatusNotFound:
		return nil, toolerr.Processing("tools.call", toolerr.ReasonToolNotFound, fmt.Sprintf("tool %q not found", name))
	default:
		var e api.ErrorResponse
		_ = json.Unmarshal(data, &e)
		return nil, fmt.Errorf("POST %s: %s: %s", endpoint, resp.Status, e.Error)
	}
}

func runCall(args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file (in-process mode)")
	apiURL := fs.String("url", "", "Gateway API URL; calls over HTTP instead of in-process")
	jsonOut := fs.Bool("json", false, "Print the full tool result as JSON")
	noWait := fs.Bool("no-wait", false, "Do not wait for an in-process render to finish")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 2
	}
	if len(positional) < 1 || len(positional) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: rendergw call <tool> [json-arguments|-] [--config PATH | --url URL] [--json] [--no-wait]")
		return 2
	}
	name := positional[0]
	var rawArgs string
	if len(positional) == 2 {
		rawArgs = positional[1]
	}
	toolArgs, err := parseToolArguments(rawArgs, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *apiURL != "" {
		return callAndPrint(ctx, newHTTPClient(*apiURL), name, toolArgs, *jsonOut)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("call")

	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\nHint: use --url to call a running gateway\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Render.TerminationGrace+shutdownSlack)
		defer cancel()
		_ = svc.Close(closeCtx)
	}()

	client := localClient{router: svc.router}
	if name != "trigger_render" || *noWait {
		return callAndPrint(ctx, client, name, toolArgs, *jsonOut)
	}

	res, err := client.Call(ctx, name, toolArgs)
	if err != nil {
		return reportCallError(err)
	}
	jobID, _ := res.StructuredContent["jobId"].(string)
	if !res.Success() || jobID == "" {
		return printResult(res, *jsonOut)
	}
	fmt.Fprintln(os.Stderr, firstText(res))

	if err := waitForJob(ctx, svc.jobs, jobID, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "\nStopped waiting: %v\n", err)
		return 1
	}
	return callAndPrint(context.Background(), client, "get_render_status", map[string]any{"jobId": jobID}, *jsonOut)
}

func runTools(args []string) int {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	apiURL := fs.String("url", "", "Gateway API URL; lists the tools of a running gateway")
	jsonOut := fs.Bool("json", false, "Print tools with their input schemas as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var client toolClient
	if *apiURL != "" {
		client = newHTTPClient(*apiURL)
	} else {
		client = localClient{router: tools.NewRouter(nil, nil, nil, tools.Settings{})}
	}
	list, err := client.Tools(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list tools: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(map[string]any{"tools": list}, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	fmt.Println(toolsTable(list))
	return 0
}

func toolsTable(list []tools.Tool) string {
	header := lipgloss.NewStyle().Bold(true)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TOOL", "ARGUMENTS", "DESCRIPTION").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, tool := range list {
		t.Row(tool.Name, describeArguments(tool.InputSchema), tool.Description)
	}
	return t.String()
}

// describeArguments renders "name:type" pairs, marking required ones with *.
func describeArguments(s tools.InputSchema) string {
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	slices.Sort(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		p := name + ":" + s.Properties[name].Type
		if required[name] {
			p += "*"
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func callAndPrint(ctx context.Context, client toolClient, name string, args map[string]any, jsonOut bool) int {
	res, err := client.Call(ctx, name, args)
	if err != nil {
		return reportCallError(err)
	}
	return printResult(res, jsonOut)
}

// reportCallError prints a rejected call. Rejections are exit code 2.
func reportCallError(err error) int {
	te, ok := toolerr.As(err)
	switch {
	case ok && te.Kind == toolerr.KindValidation:
		fmt.Fprintf(os.Stderr, "Invalid arguments: %s\n", te.Message)
		return 2
	case ok && te.Reason == toolerr.ReasonToolNotFound:
		fmt.Fprintf(os.Stderr, "%s\nRun 'rendergw tools' to list available tools.\n", te.Message)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "Call failed: %v\n", err)
		return 1
	}
}

func printResult(res *tools.Result, jsonOut bool) int {
	if jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, c := range res.Content {
			switch c.Type {
			case tools.ContentText:
				fmt.Println(c.Text)
			case tools.ContentResourceLink:
				fmt.Printf("-> %s (%s)\n", c.URI, c.MimeType)
			}
		}
	}
	if !res.Success() {
		return 1
	}
	return 0
}

func firstText(res *tools.Result) string {
	for _, c := range res.Content {
		if c.Type == tools.ContentText {
			return c.Text
		}
	}
	return ""
}

// jobGetter is the registry lookup waitForJob polls.
type jobGetter interface {
	Get(id string) (*render.Job, error)
}

var waitPollInterval = 250 * time.Millisecond

// waitForJob polls until jobID is terminal, drawing progress on w.
func waitForJob(ctx context.Context, jobs jobGetter, jobID string, w io.Writer) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := jobs.Get(jobID)
		if err != nil {
			return err
		}
		if job.Progress != last {
			last = job.Progress
			fmt.Fprintf(w, "\r%s %3d%%", job.Status, job.Progress)
		}
		if job.Status.Terminal() {
			fmt.Fprintln(w)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// parseToolArguments decodes a JSON object from raw, or from stdin when raw
// is "-". Empty input means no arguments.
func parseToolArguments(raw string, stdin io.Reader) (map[string]any, error) {
	if raw == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return args, nil
}

// parseInterspersed parses flags that appear before, between, or after
// positional arguments and returns the positionals in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}
