// Package readiness decides when the Flutter web app has finished mounting.
//
// Flutter can paint through two backends. One tags <body> with a renderer
// attribute; the other mounts a custom element tree (flt-glass-pane or
// flutter-view). The detector accepts either signal and polls for it inside
// the browser, so callers never assert against a half-rendered document.
package readiness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/obs"
)

const (
	// DefaultTimeout is used for the shell routes.
	DefaultTimeout = 45 * time.Second
	// ExtendedTimeout is used by the registration and journey suites.
	ExtendedTimeout = 60 * time.Second

	DefaultMarkerAttribute = "flt-renderer"
)

// DefaultMountSelectors are the elements Flutter mounts its view tree into.
var DefaultMountSelectors = []string{"flt-glass-pane", "flutter-view"}

// Target is the page surface the detector polls. Polling itself is left to
// the browser engine.
type Target interface {
	WaitForDOMContentLoaded(ctx context.Context, timeout time.Duration) error
	// WaitForPredicate resolves once expression evaluates truthy. A zero
	// interval means the engine's animation-frame polling.
	WaitForPredicate(ctx context.Context, expression string, timeout, interval time.Duration) error
}

// Detector waits for the app to signal readiness.
type Detector struct {
	timeout         time.Duration
	interval        time.Duration
	markerAttribute string
	mountSelectors  []string
}

// Option configures a Detector.
type Option func(*Detector)

// WithTimeout bounds the whole wait.
func WithTimeout(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.timeout = d
		}
	}
}

// WithPolling switches from animation-frame polling to a fixed interval.
func WithPolling(interval time.Duration) Option {
	return func(det *Detector) {
		if interval > 0 {
			det.interval = interval
		}
	}
}

// WithMarkerAttribute overrides the body attribute that marks readiness.
func WithMarkerAttribute(name string) Option {
	return func(det *Detector) {
		if name = strings.TrimSpace(name); name != "" {
			det.markerAttribute = name
		}
	}
}

// WithMountSelectors overrides the mount elements that must have children.
func WithMountSelectors(selectors ...string) Option {
	return func(det *Detector) {
		var cleaned []string
		for _, s := range selectors {
			if s = strings.TrimSpace(s); s != "" {
				cleaned = append(cleaned, s)
			}
		}
		if len(cleaned) > 0 {
			det.mountSelectors = cleaned
		}
	}
}

// New returns a detector with the default Flutter signals.
func New(opts ...Option) *Detector {
	d := &Detector{
		timeout:         DefaultTimeout,
		markerAttribute: DefaultMarkerAttribute,
		mountSelectors:  append([]string(nil), DefaultMountSelectors...),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the configured bound.
func (d *Detector) Timeout() time.Duration {
	return d.timeout
}

// Expression returns the predicate evaluated in the page. It is a
// side-effect-free arrow function returning a boolean.
func (d *Detector) Expression() string {
	marker, _ := json.Marshal(d.markerAttribute)
	selector, _ := json.Marshal(strings.Join(d.mountSelectors, ", "))
	return fmt.Sprintf(`() => {
	const body = document.body;
	if (!body) return false;
	if (body.getAttribute(%s)) return true;
	const mount = document.querySelector(%s);
	return !!mount && mount.childElementCount > 0;
}`, marker, selector)
}

// Wait blocks until the predicate holds or the timeout elapses. A timeout is
// reported as errs.ReadinessTimeout; any other engine error as errs.Unavailable.
func (d *Detector) Wait(ctx context.Context, target Target) error {
	start := time.Now()
	deadline := start.Add(d.timeout)

	if err := target.WaitForDOMContentLoaded(ctx, d.timeout); err != nil {
		return d.failure("document never reached DOMContentLoaded", err)
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return errs.New(errs.ReadinessTimeout, fmt.Sprintf("app not ready within %s", d.timeout))
	}
	if err := target.WaitForPredicate(ctx, d.Expression(), remaining, d.interval); err != nil {
		return d.failure("app did not mount", err)
	}

	obs.From(ctx).With("pkg", "readiness").Debug("app_ready",
		"wait_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (d *Detector) failure(message string, err error) error {
	if errs.IsTimeout(err) {
		return errs.Wrap(errs.ReadinessTimeout, fmt.Sprintf("%s within %s", message, d.timeout), err)
	}
	return errs.Wrap(errs.Unavailable, message, err)
}
