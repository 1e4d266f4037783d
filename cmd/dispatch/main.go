// Package main provides the dispatch reference front-end: it reads a batch
// of tool call requests from a YAML file, runs them through the policy
// engine and scheduler, and drives confirmations through an interactive
// approval console.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/toolwave/dispatch/internal/call"
	"github.com/toolwave/dispatch/internal/config"
	"github.com/toolwave/dispatch/internal/executor"
	"github.com/toolwave/dispatch/internal/policy"
	"github.com/toolwave/dispatch/internal/policy/policyconf"
	"github.com/toolwave/dispatch/internal/scheduler"
	"github.com/toolwave/dispatch/internal/shellexec"
	"github.com/toolwave/dispatch/internal/tool"
)

// batchFile is the YAML shape of a request batch.
type batchFile struct {
	Calls []struct {
		CallID string         `yaml:"call_id"`
		Name   string         `yaml:"name"`
		Args   map[string]any `yaml:"args"`
	} `yaml:"calls"`
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func main() {
	var (
		batchPath      string
		excludeTools   stringList
		allowTools     stringList
		trustedServers stringList
		policyDirs     stringList
		workspace      string
		yes            bool
	)
	flag.StringVar(&batchPath, "batch", "", "YAML file with the tool calls to schedule (required)")
	flag.Var(&excludeTools, "exclude-tools", "comma-separated tool names to deny outright")
	flag.Var(&allowTools, "allow-tools", "comma-separated tool names to allow without confirmation")
	flag.Var(&trustedServers, "trusted-server", "MCP server names whose tools are allowed")
	flag.Var(&policyDirs, "policy", "override policy directories (user tier)")
	flag.StringVar(&workspace, "workspace", ".", "workspace directory")
	flag.BoolVar(&yes, "yes", false, "approve every confirmation (non-interactive)")
	flag.Parse()

	if batchPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: dispatch -batch calls.yaml [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(batchPath, policyconf.Settings{
		ExcludedTools:  excludeTools,
		AllowedTools:   allowTools,
		TrustedServers: trustedServers,
		PolicyDirs:     policyDirs,
		UserDir:        defaultUserPolicyDir(),
		WorkspaceDir:   policyconf.FindWorkspacePolicyDir(workspace),
	}, yes); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(batchPath string, settings policyconf.Settings, yes bool) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Using default configuration.\n")
		cfg = config.DefaultConfig()
	}

	requests, err := loadBatch(batchPath)
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	builder := policyconf.NewBuilder(cfg.Policy.DefaultDir, cfg.Policy.AdminDir, settings, log)
	rules, loadErrs := builder.Build()
	for _, le := range loadErrs {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", le)
	}

	defaultDecision, err := policy.ParseDecision(cfg.Policy.DefaultDecision)
	if err != nil {
		return err
	}
	engine := policy.NewEngine(rules, defaultDecision, log)

	registry := tool.NewRegistry(
		shellexec.New(gracefulShutdown(cfg)),
	)
	exec := executor.New(cfg.Executor, log)

	if yes {
		return runHeadless(requests, registry, engine, exec, settings, log)
	}
	return runConsole(requests, registry, engine, exec, settings, log)
}

func runHeadless(requests []call.Request, registry *tool.Registry, engine *policy.Engine,
	exec *executor.Executor, settings policyconf.Settings, log *slog.Logger) error {

	sched := scheduler.New(registry, engine, exec, scheduler.Options{
		Confirmer:          approveAll{},
		Editor:             &scheduler.ExternalEditor{},
		WorkspacePolicyDir: settings.WorkspaceDir,
		Logger:             log,
	})
	completed, err := sched.Schedule(context.Background(), requests)
	if err != nil {
		return err
	}
	printResults(os.Stdout, completed)
	return nil
}

func runConsole(requests []call.Request, registry *tool.Registry, engine *policy.Engine,
	exec *executor.Executor, settings policyconf.Settings, log *slog.Logger) error {

	events := make(chan call.Event, 64)
	confirmer := newChannelConfirmer()

	sched := scheduler.New(registry, engine, exec, scheduler.Options{
		Confirmer:          confirmer,
		Editor:             confirmer, // edits happen inline in the console
		Events:             events,
		WorkspacePolicyDir: settings.WorkspaceDir,
		Logger:             log,
	})

	console := newConsole(requests, events, confirmer)
	program := tea.NewProgram(console)
	confirmer.notify = func() { program.Send(confirmMsg{}) }

	done := make(chan batchResult, 1)
	go func() {
		completed, err := sched.Schedule(context.Background(), requests)
		done <- batchResult{completed: completed, err: err}
		program.Send(doneMsg{})
	}()
	go func() {
		for ev := range events {
			program.Send(eventMsg{ev: ev})
		}
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	sched.CancelAll()

	res := <-done
	if res.err != nil {
		return res.err
	}
	printResults(os.Stdout, res.completed)
	return nil
}

type batchResult struct {
	completed []call.Completed
	err       error
}

// approveAll is the -yes confirmer.
type approveAll struct{}

func (approveAll) Confirm(ctx context.Context, req scheduler.ConfirmationRequest) (call.Outcome, error) {
	return call.OutcomeAllowOnce, nil
}

func loadBatch(path string) ([]call.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(batch.Calls) == 0 {
		return nil, fmt.Errorf("batch file %s contains no calls", path)
	}
	requests := make([]call.Request, 0, len(batch.Calls))
	for _, c := range batch.Calls {
		requests = append(requests, call.Request{
			CallID: c.CallID,
			Name:   c.Name,
			Args:   c.Args,
		})
	}
	return requests, nil
}

func printResults(w *os.File, completed []call.Completed) {
	for _, c := range completed {
		status := c.Status.String()
		if c.Response.ErrorMessage != "" {
			fmt.Fprintf(w, "%-24s %-10s %s\n", c.Request.Name, status, c.Response.ErrorMessage)
			continue
		}
		fmt.Fprintf(w, "%-24s %-10s %s\n", c.Request.Name, status, firstLine(c.Response.Content))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func gracefulShutdown(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Executor.GracefulShutdownMs) * time.Millisecond
}

// defaultUserPolicyDir is ~/.config/dispatch/policies; empty when the home
// directory cannot be determined.
func defaultUserPolicyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", config.ConfigDir, "policies")
}
