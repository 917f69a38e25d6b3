// Package driver walks a scenario against a page: navigate, wait for the app,
// interact, assert. Every step is sequential; every wait is bounded.
package driver

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/obs"
	"github.com/kuitang/xpire-e2e/internal/readiness"
	"github.com/kuitang/xpire-e2e/internal/scenario"
	"github.com/kuitang/xpire-e2e/internal/urlutil"
)

// Page is the browser surface a scenario needs.
type Page interface {
	readiness.Target

	// Goto loads an absolute URL and returns the HTTP status of the main
	// document, or 0 when there was none.
	Goto(ctx context.Context, url string, timeout time.Duration) (int, error)
	Reload(ctx context.Context, timeout time.Duration) (int, error)
	URL() string
	// WaitForURL resolves once the current URL matches re.
	WaitForURL(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error
	SetViewport(ctx context.Context, width, height int) error

	// TextboxVisible reports, without waiting, whether a textbox with a
	// matching accessible name is visible.
	TextboxVisible(ctx context.Context, name *regexp.Regexp) (bool, error)
	FillTextbox(ctx context.Context, nth int, value string, timeout time.Duration) error
	ClickButton(ctx context.Context, name *regexp.Regexp, timeout time.Duration) error
	WaitForText(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error
	WaitForBodyAttribute(ctx context.Context, name string, re *regexp.Regexp, timeout time.Duration) error
}

// State is a point in a scenario's lifecycle.
type State string

const (
	StateNotStarted State = "not_started"
	StateNavigated  State = "navigated"
	StateReady      State = "ready"
	StateInteracted State = "interacted"
	StateAsserted   State = "asserted"
	StatePassed     State = "passed"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

// Terminal reports whether s ends a scenario.
func (s State) Terminal() bool {
	return s == StatePassed || s == StateFailed || s == StateSkipped
}

// Result is the outcome of one scenario run.
type Result struct {
	ScenarioID  string
	State       State
	Transitions []State
	Err         error
	SkipReason  string
	FinalURL    string
	Duration    time.Duration
}

// Options configures a Driver.
type Options struct {
	BaseURL string
	// ExpectTimeout bounds URL, text and attribute assertions.
	ExpectTimeout time.Duration
	// ActionTimeout bounds navigation, fills and clicks. Zero leaves it to
	// the per-test deadline.
	ActionTimeout time.Duration
	Renderer      config.Renderer
	// Polling, when non-zero, replaces animation-frame polling for readiness.
	Polling time.Duration
	Now     func() time.Time
}

// Driver runs scenarios. It is stateless and safe for concurrent use.
type Driver struct {
	opts Options
}

const defaultExpectTimeout = 5 * time.Second

// New returns a driver with opts, filling unset fields with defaults.
func New(opts Options) *Driver {
	if opts.ExpectTimeout <= 0 {
		opts.ExpectTimeout = defaultExpectTimeout
	}
	if opts.Renderer == "" {
		opts.Renderer = config.RendererAuto
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Driver{opts: opts}
}

// run tracks one scenario walk.
type run struct {
	sc     scenario.Scenario
	result Result
}

func (r *run) to(s State) {
	r.result.State = s
	r.result.Transitions = append(r.result.Transitions, s)
}

// errSkip carries an intentional skip through the step chain.
type errSkip struct{ reason string }

func (e errSkip) Error() string { return "skipped: " + e.reason }

// Run walks sc to a terminal state. Failures never panic and never leak out of
// the Result.
func (d *Driver) Run(ctx context.Context, page Page, sc scenario.Scenario) Result {
	start := time.Now()
	r := &run{sc: sc, result: Result{ScenarioID: sc.ID}}
	r.to(StateNotStarted)

	logger := obs.From(ctx).With("pkg", "driver", "scenario_kind", string(sc.Kind))
	err := d.walk(ctx, page, r)

	r.result.FinalURL = page.URL()
	r.result.Duration = time.Since(start)
	switch e := err.(type) {
	case nil:
		r.to(StatePassed)
	case errSkip:
		r.result.SkipReason = e.reason
		r.to(StateSkipped)
		logger.Info("scenario_skipped", "reason", e.reason)
	default:
		r.result.Err = err
		r.to(StateFailed)
		logger.Warn("scenario_failed",
			"code", string(errs.CodeOf(err)),
			"error", err.Error(),
			"url", r.result.FinalURL,
		)
	}
	return r.result
}

func (d *Driver) walk(ctx context.Context, page Page, r *run) error {
	sc := r.sc
	if sc.NeedsForm() && d.opts.Renderer == config.RendererCanvasKit {
		return errSkip{reason: "canvaskit renderer does not expose form controls in the DOM"}
	}

	if sc.Viewport != nil {
		if err := page.SetViewport(ctx, sc.Viewport.Width, sc.Viewport.Height); err != nil {
			return errs.Wrap(errs.Internal, "set viewport", err)
		}
	}
	for _, path := range sc.Preload {
		if err := d.navigate(ctx, page, path); err != nil {
			return err
		}
	}

	if err := d.navigate(ctx, page, sc.StartPath); err != nil {
		return err
	}
	if sc.ReadyBeforeURL {
		r.to(StateNavigated)
		if err := d.ready(ctx, page, sc); err != nil {
			return err
		}
		r.to(StateReady)
		if err := d.expectURL(ctx, page, sc.ExpectURL); err != nil {
			return err
		}
	} else {
		if err := d.expectURL(ctx, page, sc.ExpectURL); err != nil {
			return err
		}
		r.to(StateNavigated)
		if err := d.ready(ctx, page, sc); err != nil {
			return err
		}
		r.to(StateReady)
	}

	switch sc.Kind {
	case scenario.KindReload:
		if err := d.reload(ctx, page, sc); err != nil {
			return err
		}
	case scenario.KindJourney:
		for _, v := range sc.Visits {
			if err := d.navigate(ctx, page, v.Path); err != nil {
				return err
			}
			if err := d.expectURL(ctx, page, v.ExpectURL); err != nil {
				return err
			}
		}
	case scenario.KindForm:
		if err := d.gateForm(ctx, page); err != nil {
			return err
		}
		for _, step := range sc.Interactions {
			if err := d.interact(ctx, page, step); err != nil {
				return err
			}
		}
		r.to(StateInteracted)
		if err := d.expectOutcome(ctx, page, sc.Outcome); err != nil {
			return err
		}
	}

	if a := sc.BodyAttribute; a != nil {
		if err := page.WaitForBodyAttribute(ctx, a.Name, a.Pattern, d.opts.ExpectTimeout); err != nil {
			return assertionError(errs.OutcomeAssertion,
				fmt.Sprintf("body attribute %s never matched /%s/", a.Name, a.Pattern), err)
		}
	}
	r.to(StateAsserted)
	return nil
}

func (d *Driver) navigate(ctx context.Context, page Page, path string) error {
	target := urlutil.BuildAbsolute(d.opts.BaseURL, path)
	status, err := page.Goto(ctx, target, d.opts.ActionTimeout)
	if err != nil {
		return errs.Wrap(errs.NavigationAssertion, fmt.Sprintf("navigate to %s", path), err)
	}
	if status >= 400 {
		return errs.New(errs.NavigationAssertion, fmt.Sprintf("navigate to %s: server answered %d", path, status))
	}
	if got := page.URL(); got != "" && !urlutil.SameOrigin(got, d.opts.BaseURL) {
		return errs.New(errs.NavigationAssertion, fmt.Sprintf("navigate to %s: left the application for %s", path, got))
	}
	return nil
}

func (d *Driver) reload(ctx context.Context, page Page, sc scenario.Scenario) error {
	status, err := page.Reload(ctx, d.opts.ActionTimeout)
	if err != nil {
		return errs.Wrap(errs.NavigationAssertion, "reload", err)
	}
	if status >= 400 {
		return errs.New(errs.NavigationAssertion, fmt.Sprintf("reload of %s: server answered %d", sc.StartPath, status))
	}
	if err := d.expectURL(ctx, page, sc.ExpectURL); err != nil {
		return err
	}
	return d.ready(ctx, page, sc)
}

func (d *Driver) ready(ctx context.Context, page Page, sc scenario.Scenario) error {
	det := readiness.New(readiness.WithTimeout(sc.ReadyTimeout), readiness.WithPolling(d.opts.Polling))
	return det.Wait(ctx, page)
}

func (d *Driver) expectURL(ctx context.Context, page Page, want scenario.URLPattern) error {
	if want.IsZero() {
		return nil
	}
	if err := page.WaitForURL(ctx, want.Regexp(d.opts.BaseURL), d.opts.ExpectTimeout); err != nil {
		return assertionError(errs.NavigationAssertion,
			fmt.Sprintf("expected URL %s, got %s", want, page.URL()), err)
	}
	if got := page.URL(); !want.Match(got, d.opts.BaseURL) {
		return errs.New(errs.NavigationAssertion, fmt.Sprintf("expected URL %s, got %s", want, got))
	}
	return nil
}

// gateForm decides whether DOM form controls are present. Only auto mode
// checks for them; html mode lets the interactions fail on their own.
func (d *Driver) gateForm(ctx context.Context, page Page) error {
	if d.opts.Renderer != config.RendererAuto {
		return nil
	}
	visible, err := page.TextboxVisible(ctx, scenario.EmailTextbox().Regexp())
	if err != nil || !visible {
		return errSkip{reason: "registration form controls are not in the DOM"}
	}
	return nil
}

func (d *Driver) interact(ctx context.Context, page Page, step scenario.Interaction) error {
	var err error
	switch step.Action {
	case scenario.ActionFill:
		err = page.FillTextbox(ctx, step.Nth, step.ValueAt(d.opts.Now()), d.opts.ActionTimeout)
	case scenario.ActionClick:
		err = page.ClickButton(ctx, step.Name.Regexp(), d.opts.ActionTimeout)
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown action %q", step.Action))
	}
	if err != nil {
		return errs.Wrap(errs.InteractionTimeout, step.String(), err)
	}
	return nil
}

func (d *Driver) expectOutcome(ctx context.Context, page Page, want *scenario.Outcome) error {
	if want == nil {
		return nil
	}
	timeout := want.Timeout
	if timeout <= 0 {
		timeout = d.opts.ExpectTimeout
	}
	if want.Text != nil {
		if err := page.WaitForText(ctx, want.Text.Regexp(), timeout); err != nil {
			return assertionError(errs.OutcomeAssertion, fmt.Sprintf("no message matching %s", want.Text), err)
		}
	}
	if !want.URL.IsZero() {
		return d.expectLanding(ctx, page, want, timeout)
	}
	return nil
}

// expectLanding checks where the page settles. The page usually still sits
// on an acceptable URL when the wait starts, so a redirect is waited for
// explicitly and the final URL is checked after it.
func (d *Driver) expectLanding(ctx context.Context, page Page, want *scenario.Outcome, timeout time.Duration) error {
	wait := want.URL
	if !want.Redirect.IsZero() {
		wait = want.Redirect
	}
	err := page.WaitForURL(ctx, wait.Regexp(d.opts.BaseURL), timeout)
	switch {
	case err == nil:
	case !want.Redirect.IsZero() && errs.IsTimeout(err) && ctx.Err() == nil:
		// No redirect; the final check decides.
	default:
		return assertionError(errs.OutcomeAssertion,
			fmt.Sprintf("URL never reached %s, last %s", wait, page.URL()), err)
	}
	if got := page.URL(); !want.URL.Match(got, d.opts.BaseURL) {
		return errs.New(errs.OutcomeAssertion, fmt.Sprintf("expected to settle on %s, got %s", want.URL, got))
	}
	return nil
}

// assertionError tags a failed wait with the assertion code.
func assertionError(code errs.Code, message string, err error) error {
	return errs.Wrap(code, message, err)
}
