// Command xpire-e2e runs the browser end-to-end suite against the Xpire web
// build.
//
// Usage:
//
//	go run ./cmd/xpire-e2e -project chromium -grep Registration
//	go run ./cmd/xpire-e2e -list
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kuitang/xpire-e2e/internal/artifactstore"
	"github.com/kuitang/xpire-e2e/internal/browser"
	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/obs"
	"github.com/kuitang/xpire-e2e/internal/report"
	"github.com/kuitang/xpire-e2e/internal/runner"
	"github.com/kuitang/xpire-e2e/internal/scenario"
	"github.com/kuitang/xpire-e2e/internal/spa"
)

const (
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := config.ParseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}
	obs.Init()
	logger := obs.Pkg("main")

	cfg.PrintStartupSummary(stdout)

	if cfg.List {
		if err := listScenarios(stdout, cfg, scenario.Catalog()); err != nil {
			fmt.Fprintf(stderr, "list: %v\n", err)
			return exitUsage
		}
		return 0
	}

	if err := report.Reset(cfg.ReportDir); err != nil {
		fmt.Fprintf(stderr, "report: %v\n", err)
		return exitFailed
	}

	server := spa.NewWebServer(cfg.WebServer)
	if err := server.Start(ctx); err != nil {
		logger.Error("web_server_start_failed", "error", err.Error())
		fmt.Fprintf(stderr, "web server: %v\n", err)
		return exitFailed
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("web_server_stop_failed", "error", err.Error())
		}
	}()

	launcher, err := browser.Launch(cfg.Headless)
	if err != nil {
		fmt.Fprintf(stderr, "browser: %v\n", err)
		return exitFailed
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			logger.Warn("launcher_close_failed", "error", err.Error())
		}
	}()

	summary, runErr := runner.New(cfg, runner.FromLauncher(launcher)).Run(ctx, scenario.Catalog())
	if summary == nil {
		fmt.Fprintf(stderr, "run: %v\n", runErr)
		return exitUsage
	}

	if err := report.Write(cfg.ReportDir, summary); err != nil {
		logger.Error("report_write_failed", "error", err.Error())
	}
	if err := report.AppendStepSummary(cfg.StepSummaryPath, summary, cfg.ReportDir); err != nil {
		logger.Warn("step_summary_failed", "error", err.Error())
	}
	if cfg.ReportStore.Enabled() {
		publish(ctx, stdout, cfg, summary)
	}

	printTotals(stdout, summary)
	if runErr != nil {
		fmt.Fprintf(stderr, "run: %v\n", runErr)
		return exitFailed
	}
	return summary.ExitCode()
}

// publish uploads the report. Failures are logged; the verdict stands.
func publish(ctx context.Context, stdout io.Writer, cfg *config.Config, summary *runner.Summary) {
	logger := obs.Pkg("main")
	store, err := artifactstore.New(ctx, cfg.ReportStore)
	if err != nil {
		logger.Error("report_store_init_failed", "error", err.Error())
		return
	}
	url, err := report.Publish(ctx, store, cfg.ReportDir, summary.RunID)
	if err != nil {
		logger.Error("report_publish_failed", "error", err.Error())
		return
	}
	fmt.Fprintf(stdout, "Report: %s\n", url)
}

func listScenarios(w io.Writer, cfg *config.Config, catalog []scenario.Scenario) error {
	jobs, err := runner.Plan(cfg, catalog)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", j.Project, j.Scenario.ID, j.Scenario.FullTitle())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "Total: %d scenarios in %d projects\n", len(jobs), len(cfg.Projects))
	return nil
}

func printTotals(w io.Writer, s *runner.Summary) {
	fmt.Fprintf(w, "\n%d passed, %d flaky, %d failed, %d skipped (%s)\n",
		s.Counts[runner.StatusPassed], s.Counts[runner.StatusFlaky],
		s.Counts[runner.StatusFailed], s.Counts[runner.StatusSkipped],
		s.Duration.Round(time.Millisecond))
	for _, r := range s.Results {
		if r.Status == runner.StatusFailed {
			fmt.Fprintf(w, "  FAIL [%s] %s > %s: %s\n", r.Project, r.Suite, r.Title, r.LastError())
		}
	}
}
