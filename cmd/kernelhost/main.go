// kernelhost is a minimal CLI that wires the core into one runnable
// session: it loads a mount plan, resolves module identifiers through a
// small built-in loader, and drives one Execute call against the
// mounted orchestrator. It plays the role teacher's cmd/kernel played
// for the single-agent kernel — a demonstration host, not a
// production supervisor; a real deployment supplies its own
// module.Loader backed by whatever discovery/transport it needs.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/agentkernel/core/module"
	"github.com/agentkernel/core/mountplan"
	"github.com/agentkernel/core/observability"
	"github.com/agentkernel/core/session"
)

func main() {
	var (
		planFile = flag.String("plan", "", "Path to mount plan YAML file (required)")
		prompt   = flag.String("prompt", "", "Prompt to send to the orchestrator (required)")
		verbose  = flag.Bool("verbose", false, "Enable debug logging to stderr")
	)
	flag.Parse()

	if *planFile == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: kernelhost -plan <file> -prompt <text>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observer := observability.NewSlogObserver(logger)

	plan, err := mountplan.Load(*planFile)
	if err != nil {
		log.Fatalf("failed to load mount plan: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loader := newDemoLoader()

	var response string
	runErr := session.Use(ctx, plan, loader, func(s *session.Session) error {
		r, err := s.Execute(ctx, *prompt)
		response = r
		return err
	},
		session.WithObserver(observer),
		session.WithApprovalSystem(cliApproval{}),
		session.WithDisplaySystem(cliDisplay{}),
	)
	if runErr != nil {
		log.Fatalf("session run failed: %v", runErr)
	}

	fmt.Printf("Response: %s\n", response)
}

// demoLoader resolves a small set of builtin module identifiers useful
// for smoke-testing a mount plan without any external module source.
// It never resolves anything else; a real host replaces it entirely.
type demoLoader struct {
	mounters map[string]module.Mounter
}

func newDemoLoader() *demoLoader {
	return &demoLoader{
		mounters: map[string]module.Mounter{
			"builtin:memory-context": session.MountInMemoryContext(200),
			"builtin:echo":           module.MounterFunc(mountEchoOrchestrator),
		},
	}
}

func (l *demoLoader) Load(ctx context.Context, moduleID string) (module.Mounter, error) {
	m, ok := l.mounters[moduleID]
	if !ok {
		return nil, fmt.Errorf("kernelhost: no builtin module registered for %q (demo loader only knows builtin:memory-context, builtin:echo)", moduleID)
	}
	return m, nil
}

// echoOrchestrator echoes the prompt back, standing in for a real
// provider-backed orchestrator. It does not write to the mounted context.
type echoOrchestrator struct{}

func mountEchoOrchestrator(ctx context.Context, coord module.Coordinator, config map[string]any) (any, module.Cleanup, error) {
	return echoOrchestrator{}, nil, nil
}

func (echoOrchestrator) Run(ctx context.Context, prompt string, coord module.Coordinator, cancellation module.Cancellation) (string, error) {
	if cancellation.IsCancelled() {
		return "", context.Canceled
	}
	return "echo: " + prompt, nil
}

// cliApproval resolves ask_user verdicts by prompting on stdin.
type cliApproval struct{}

func (cliApproval) RequestApproval(ctx context.Context, prompt string, options []string, timeout time.Duration, defaultOption string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s [%s] (default %s): ", prompt, strings.Join(options, "/"), defaultOption)

	resultCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			resultCh <- strings.TrimSpace(scanner.Text())
		} else {
			resultCh <- ""
		}
	}()

	select {
	case answer := <-resultCh:
		if answer == "" {
			return defaultOption, nil
		}
		return answer, nil
	case <-time.After(timeout):
		return defaultOption, context.DeadlineExceeded
	case <-ctx.Done():
		return defaultOption, ctx.Err()
	}
}

// cliDisplay prints hook-originated user messages to stdout.
type cliDisplay struct{}

func (cliDisplay) ShowMessage(ctx context.Context, text, level, source string) {
	fmt.Printf("[%s %s] %s\n", level, source, text)
}
