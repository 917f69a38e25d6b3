// Package runner expands scenarios across browser projects and runs them on a
// bounded worker pool with retries.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kuitang/xpire-e2e/internal/browser"
	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/driver"
	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/obs"
	"github.com/kuitang/xpire-e2e/internal/scenario"
)

// Session is a page for one attempt plus its artifact lifecycle.
type Session interface {
	driver.Page
	Finish(failed bool) (browser.Artifacts, error)
}

// Opener creates an isolated session for one attempt.
type Opener func(ctx context.Context, opts browser.PageOptions) (Session, error)

// FromLauncher adapts a browser launcher.
func FromLauncher(l *browser.Launcher) Opener {
	return func(ctx context.Context, opts browser.PageOptions) (Session, error) {
		p, err := l.NewPage(ctx, opts)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Status is the final verdict for a scenario in one project.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	// StatusFlaky passed only after at least one retry.
	StatusFlaky Status = "flaky"
)

// Attempt records one try of a scenario.
type Attempt struct {
	Index       int               `json:"index"`
	State       driver.State      `json:"state"`
	Transitions []driver.State    `json:"transitions"`
	Code        string            `json:"code,omitempty"`
	Error       string            `json:"error,omitempty"`
	SkipReason  string            `json:"skip_reason,omitempty"`
	FinalURL    string            `json:"final_url,omitempty"`
	Duration    time.Duration     `json:"duration_ns"`
	Artifacts   browser.Artifacts `json:"artifacts"`
}

// Result is the verdict for one scenario in one project.
type Result struct {
	ID         string        `json:"id"`
	Suite      string        `json:"suite"`
	Title      string        `json:"title"`
	Project    string        `json:"project"`
	Status     Status        `json:"status"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Attempts   []Attempt     `json:"attempts"`
	Duration   time.Duration `json:"duration_ns"`
}

// LastError returns the error of the final attempt, if any.
func (r Result) LastError() string {
	if len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Error
}

// Summary aggregates a whole run.
type Summary struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration_ns"`
	Projects []string       `json:"projects"`
	Results  []Result       `json:"results"`
	Counts   map[Status]int `json:"counts"`
}

// Failed reports whether any scenario failed.
func (s *Summary) Failed() bool {
	return s.Counts[StatusFailed] > 0
}

// ExitCode is 1 when anything failed.
func (s *Summary) ExitCode() int {
	if s.Failed() {
		return 1
	}
	return 0
}

// Job is one scenario bound to one project.
type Job struct {
	Project  string
	Scenario scenario.Scenario
}

// Runner runs jobs. Create with New.
type Runner struct {
	cfg    *config.Config
	open   Opener
	driver *driver.Driver
	now    func() time.Time
}

// New returns a runner for cfg using open to create sessions.
func New(cfg *config.Config, open Opener) *Runner {
	return &Runner{
		cfg:  cfg,
		open: open,
		driver: driver.New(driver.Options{
			BaseURL:       cfg.BaseURL,
			ExpectTimeout: cfg.ExpectTimeout,
			ActionTimeout: cfg.ActionTimeout,
			Renderer:      cfg.Renderer,
		}),
		now: time.Now,
	}
}

// Select applies focus and grep to scenarios. Focused scenarios under
// forbid-only are an error.
func Select(cfg *config.Config, scenarios []scenario.Scenario) ([]scenario.Scenario, error) {
	if focused := scenario.Focused(scenarios); len(focused) > 0 {
		if cfg.ForbidOnly {
			ids := make([]string, len(focused))
			for i, s := range focused {
				ids[i] = s.ID
			}
			return nil, errs.New(errs.InvalidArgument,
				fmt.Sprintf("focused scenarios are forbidden: %s", strings.Join(ids, ", ")))
		}
		scenarios = focused
	}
	if cfg.Grep != "" {
		re, err := regexp.Compile(cfg.Grep)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, "invalid grep", err)
		}
		scenarios = scenario.Filter(scenarios, re)
	}
	return scenarios, nil
}

// Plan expands the selected scenarios across every configured project.
func Plan(cfg *config.Config, scenarios []scenario.Scenario) ([]Job, error) {
	selected, err := Select(cfg, scenarios)
	if err != nil {
		return nil, err
	}
	var jobs []Job
	for _, project := range cfg.Projects {
		for _, sc := range selected {
			jobs = append(jobs, Job{Project: project, Scenario: sc})
		}
	}
	return jobs, nil
}

// units groups job indexes that must run serially. Fully parallel runs give
// every job its own unit; otherwise a suite runs in order within a project.
func (r *Runner) units(jobs []Job) [][]int {
	if r.cfg.FullyParallel {
		out := make([][]int, len(jobs))
		for i := range jobs {
			out[i] = []int{i}
		}
		return out
	}
	index := map[string]int{}
	var out [][]int
	for i, j := range jobs {
		key := j.Project + "\x00" + j.Scenario.Suite
		u, ok := index[key]
		if !ok {
			u = len(out)
			index[key] = u
			out = append(out, nil)
		}
		out[u] = append(out[u], i)
	}
	return out
}

// Run executes scenarios and returns the summary. Scenario failures are
// reported in the summary; the error is reserved for a run that could not
// start or was cancelled.
func (r *Runner) Run(ctx context.Context, scenarios []scenario.Scenario) (*Summary, error) {
	jobs, err := Plan(r.cfg, scenarios)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:    uuid.NewString(),
		Started:  r.now().UTC(),
		Projects: append([]string(nil), r.cfg.Projects...),
		Results:  make([]Result, len(jobs)),
		Counts:   map[Status]int{},
	}
	ctx = obs.WithRunID(ctx, summary.RunID)
	logger := obs.From(ctx).With("pkg", "runner")
	logger.Info("run_started", "jobs", len(jobs), "workers", r.cfg.Workers, "retries", r.cfg.Retries)

	var g errgroup.Group
	g.SetLimit(max(1, r.cfg.Workers))
	var mu sync.Mutex
	for _, unit := range r.units(jobs) {
		g.Go(func() error {
			for _, i := range unit {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				res := r.runJob(ctx, summary.RunID, jobs[i])
				mu.Lock()
				summary.Results[i] = res
				mu.Unlock()
			}
			return nil
		})
	}
	waitErr := g.Wait()

	for i := range summary.Results {
		if summary.Results[i].Status == "" {
			// Never started because the run was cancelled.
			summary.Results[i] = Result{
				ID: jobs[i].Scenario.ID, Suite: jobs[i].Scenario.Suite, Title: jobs[i].Scenario.Title,
				Project: jobs[i].Project, Status: StatusSkipped, SkipReason: "run cancelled",
			}
		}
		summary.Counts[summary.Results[i].Status]++
	}
	summary.Duration = r.now().Sub(summary.Started)

	logger.Info("run_finished",
		"passed", summary.Counts[StatusPassed],
		"failed", summary.Counts[StatusFailed],
		"flaky", summary.Counts[StatusFlaky],
		"skipped", summary.Counts[StatusSkipped],
		"dur_ms", summary.Duration.Milliseconds(),
	)
	if waitErr != nil {
		return summary, fmt.Errorf("run interrupted: %w", waitErr)
	}
	return summary, nil
}

func (r *Runner) runJob(ctx context.Context, runID string, job Job) Result {
	sc := job.Scenario
	res := Result{ID: sc.ID, Suite: sc.Suite, Title: sc.Title, Project: job.Project}
	start := time.Now()

	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		a := r.runAttempt(ctx, runID, job, attempt)
		res.Attempts = append(res.Attempts, a)
		if a.State != driver.StateFailed {
			break
		}
	}
	res.Duration = time.Since(start)

	last := res.Attempts[len(res.Attempts)-1]
	switch last.State {
	case driver.StatePassed:
		res.Status = StatusPassed
		if len(res.Attempts) > 1 {
			res.Status = StatusFlaky
		}
	case driver.StateSkipped:
		res.Status = StatusSkipped
		res.SkipReason = last.SkipReason
	default:
		res.Status = StatusFailed
	}
	return res
}

func (r *Runner) runAttempt(ctx context.Context, runID string, job Job, attempt int) Attempt {
	sc := job.Scenario
	ctx = obs.WithCorrelation(ctx, obs.Correlation{
		RunID:    runID,
		Project:  job.Project,
		Scenario: sc.ID,
		Attempt:  attempt,
	})
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	logger := obs.From(ctx).With("pkg", "runner")

	a := Attempt{Index: attempt}
	session, err := r.open(ctx, browser.PageOptions{
		Project:        job.Project,
		BaseURL:        r.cfg.BaseURL,
		ScenarioID:     sc.ID,
		Attempt:        attempt,
		ArtifactDir:    ArtifactDir(r.cfg.ReportDir),
		Trace:          r.cfg.Trace,
		Screenshot:     r.cfg.Screenshot,
		Video:          r.cfg.Video,
		DefaultTimeout: float64(r.cfg.Timeout.Milliseconds()),
	})
	if err != nil {
		a.State = driver.StateFailed
		a.Transitions = []driver.State{driver.StateNotStarted, driver.StateFailed}
		a.Code = string(errs.CodeOf(err))
		a.Error = err.Error()
		logger.Error("session_open_failed", "error", err.Error())
		return a
	}

	out := r.driver.Run(ctx, session, sc)
	a.State = out.State
	a.Transitions = out.Transitions
	a.FinalURL = out.FinalURL
	a.Duration = out.Duration
	if out.Err != nil {
		a.Code = string(errs.CodeOf(out.Err))
		a.Error = out.Err.Error()
	}
	a.SkipReason = out.SkipReason

	artifacts, err := session.Finish(out.State == driver.StateFailed)
	if err != nil {
		logger.Warn("artifact_capture_failed", "error", err.Error())
	}
	a.Artifacts = artifacts

	logger.Info("attempt_finished",
		"state", string(a.State),
		"code", a.Code,
		"dur_ms", a.Duration.Milliseconds(),
	)
	return a
}

// ArtifactDir nests per-attempt artifacts under the report directory.
func ArtifactDir(reportDir string) string {
	return filepath.Join(reportDir, "artifacts")
}

// SortedCounts returns the counts in a fixed display order.
func (s *Summary) SortedCounts() []StatusCount {
	order := map[Status]int{StatusPassed: 0, StatusFlaky: 1, StatusFailed: 2, StatusSkipped: 3}
	out := make([]StatusCount, 0, len(s.Counts))
	for st, n := range s.Counts {
		out = append(out, StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Status] < order[out[j].Status] })
	return out
}

// StatusCount pairs a status with how many results have it.
type StatusCount struct {
	Status Status
	Count  int
}
