// Command autopilotctl is the pipeline's operator surface: it runs one
// scheduled tick of discovery/transcribe/summarize/index, replays a single
// dead-lettered job, or lists DLQ entries by filter (spec section 6's
// run-daily / replay-dlq / query-dlq operations).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autopiloot/corepipe/internal/app"
	"github.com/autopiloot/corepipe/internal/config"
	"github.com/autopiloot/corepipe/internal/domain"
	"github.com/autopiloot/corepipe/internal/pipeline/planner"
	"github.com/autopiloot/corepipe/internal/store"
)

// Exit codes per spec section 6.
const (
	exitSuccess             = 0
	exitPartial             = 1
	exitConfigError         = 2
	exitDependencyUnavailable = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: autopilotctl <run-daily|replay-dlq|query-dlq> [flags]")
		return exitConfigError
	}

	cfgPath := os.Getenv("COREPIPE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: config: %v\n", err)
		return exitConfigError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: dependency unavailable: %v\n", err)
		return exitDependencyUnavailable
	}
	defer a.Close()

	switch args[0] {
	case "run-daily":
		return runDaily(ctx, a, log)
	case "replay-dlq":
		return replayDLQ(ctx, a, args[1:])
	case "query-dlq":
		return queryDLQ(ctx, a, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "autopilotctl: unknown command %q\n", args[0])
		return exitConfigError
	}
}

// runDaily implements plan_and_run: it builds a RunPlan from the
// configured channel/sheet sources, dispatches one scrape job per source,
// starts the dispatcher so downstream stages can run, waits a fixed grace
// window for the run to settle, then reports the terminal summary.
func runDaily(ctx context.Context, a *app.App, log *slog.Logger) int {
	if err := a.Dispatcher.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: dispatcher start: %v\n", err)
		return exitDependencyUnavailable
	}
	defer a.Dispatcher.Stop()

	sources := planner.Sources{Channels: a.Config.Scheduler.Channels, Sheets: a.Config.Scheduler.Sheets}
	plan, err := a.Planner.Plan(ctx, sources)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: plan: %v\n", err)
		return exitDependencyUnavailable
	}

	planned, err := a.Planner.Run(ctx, plan, sources)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: run: %v\n", err)
		return exitDependencyUnavailable
	}
	log.Info("run.started", "run_id", plan.RunID, "planned", planned)

	select {
	case <-time.After(settleWindow):
	case <-ctx.Done():
	}

	summary, health, err := a.Planner.Summarize(ctx, plan, planned)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: summarize: %v\n", err)
		return exitDependencyUnavailable
	}

	if summary.Failed > 0 || summary.DLQCount > 0 || health < 100 {
		return exitPartial
	}
	return exitSuccess
}

// settleWindow is how long run-daily waits for the dispatched stage chain
// to settle before reporting a terminal RunSummary; it does not block
// indefinitely because the pipeline's jobs continue running asynchronously
// through the dispatcher after this process could otherwise exit.
const settleWindow = 5 * time.Minute

func replayDLQ(ctx context.Context, a *app.App, args []string) int {
	fs := flag.NewFlagSet("replay-dlq", flag.ContinueOnError)
	jobID := fs.String("job-id", "", "DLQ job id to replay")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	if *jobID == "" {
		fmt.Fprintln(os.Stderr, "autopilotctl: replay-dlq requires --job-id")
		return exitConfigError
	}
	if err := a.DLQ.Replay(ctx, *jobID); err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: replay-dlq: %v\n", err)
		return exitDependencyUnavailable
	}
	fmt.Printf("replayed %s\n", *jobID)
	return exitSuccess
}

func queryDLQ(ctx context.Context, a *app.App, args []string) int {
	fs := flag.NewFlagSet("query-dlq", flag.ContinueOnError)
	severity := fs.String("severity", "", "filter by severity (low|medium|high|critical)")
	jobType := fs.String("job-type", "", "filter by job type (scrape|transcribe|summarize|index)")
	since := fs.String("since", "", "RFC3339 timestamp; only entries created at or after this time")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	q := store.DLQQuery{JobType: *jobType}
	if *severity != "" {
		q.Severity = domain.DLQSeverity(*severity)
	}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "autopilotctl: --since: %v\n", err)
			return exitConfigError
		}
		q.Since = t
	}

	entries, err := a.DLQ.Query(ctx, q)
	if err != nil {
		fmt.Fprintf(os.Stderr, "autopilotctl: query-dlq: %v\n", err)
		return exitDependencyUnavailable
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\n", e.JobID, e.JobType, e.VideoID, e.Severity, e.Failure.ErrorType, e.Failure.Message)
	}
	return exitSuccess
}

