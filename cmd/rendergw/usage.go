package main

import (
	"fmt"
	"os"
)

func printUsage() {
	fmt.Print(`rendergw - Render job gateway for AI agents

Usage:
  rendergw <command> [flags]

Server:
  serve             Run the gateway (MCP over stdio, optional HTTP API)

Clients:
  call <tool> [json]  Invoke a tool in-process or against a running API
  tools             List the tools the gateway exposes
  watch             Real-time TUI for jobs, streams, and events

Records:
  history           List recorded render outcomes
  inspect <job_id>  Show one recorded job and the state of its output

Config:
  config check      Validate configuration against this machine
  config show       Print the resolved configuration

General:
  version           Show version information
  help              Show this help message

Use 'rendergw <command> --help' for command-specific flags.
`)
}

func printServeHelp() {
	fmt.Println("Usage: rendergw serve [--config PATH] [--no-stdio]")
	fmt.Println("Run the gateway in the foreground. MCP requests are read from stdin and")
	fmt.Println("answered on stdout; logs go to stderr. Closing stdin stops the server")
	fmt.Println("unless --no-stdio is set, in which case only the HTTP API is served.")
}

func printCallHelp() {
	fmt.Println("Usage: rendergw call <tool> [json-arguments|-] [--config PATH | --url URL] [--json] [--no-wait]")
	fmt.Println("Invoke one tool. Arguments are a JSON object, or '-' to read them from stdin.")
	fmt.Println()
	fmt.Println("Without --url the tool runs in this process; trigger_render then waits for")
	fmt.Println("the job to finish unless --no-wait is set (the job is cancelled on exit).")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0  Tool succeeded")
	fmt.Println("  1  Tool reported a failure")
	fmt.Println("  2  Bad arguments or unknown tool")
}

func printToolsHelp() {
	fmt.Println("Usage: rendergw tools [--url URL] [--json]")
	fmt.Println("List the declared tools and their input schemas.")
}

func printWatchHelp() {
	fmt.Println("Usage: rendergw watch [--url URL]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI. Shows gateway health, render jobs with progress,")
	fmt.Println("active streams, and the event log.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL        Gateway API URL (default: $RENDERGW_URL or http://127.0.0.1:8080)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate jobs")
}

func printHistoryHelp() {
	fmt.Println("Usage: rendergw history [--config PATH] [--limit N] [--status S] [--composition ID] [--summary] [--json]")
	fmt.Println("List finished render jobs recorded in history.path, newest first.")
}

func printInspectHelp() {
	fmt.Println("Usage: rendergw inspect <job_id> [--config PATH] [--checksum] [--json]")
	fmt.Println("Show a recorded job's parameters, outcome, and whether its output still exists.")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: rendergw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: rendergw config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration, the render worker, and output directories.")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  One or more errors")
	fmt.Println("  2  Warnings present and --strict set")
}

func printConfigShowHelp() {
	fmt.Println("Usage: rendergw config show [--config PATH]")
	fmt.Println("Print the resolved configuration (defaults applied, paths absolute).")
}
