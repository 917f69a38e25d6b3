// Package browser adapts playwright-go to the driver's Page surface and owns
// browser lifecycles, isolated contexts and per-attempt artifacts.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/obs"
)

var logger = obs.Pkg("browser")

// deviceNames maps a project to the descriptor its contexts emulate.
var deviceNames = map[string]string{
	"chromium": "Desktop Chrome",
	"firefox":  "Desktop Firefox",
	"webkit":   "Desktop Safari",
}

// Launcher runs the playwright driver once and launches one browser per
// project on first use.
type Launcher struct {
	pw       *playwright.Playwright
	headless bool

	mu       sync.Mutex
	browsers map[string]playwright.Browser
}

// Launch starts the playwright driver. Browsers are launched lazily.
func Launch(headless bool) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "start playwright", err)
	}
	return &Launcher{
		pw:       pw,
		headless: headless,
		browsers: make(map[string]playwright.Browser),
	}, nil
}

func (l *Launcher) browserType(project string) (playwright.BrowserType, error) {
	switch project {
	case "chromium":
		return l.pw.Chromium, nil
	case "firefox":
		return l.pw.Firefox, nil
	case "webkit":
		return l.pw.WebKit, nil
	}
	return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("unknown project %q", project))
}

// Browser returns the project's browser, launching it if needed.
func (l *Launcher) Browser(project string) (playwright.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.browsers[project]; ok && b.IsConnected() {
		return b, nil
	}
	bt, err := l.browserType(project)
	if err != nil {
		return nil, err
	}
	b, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.headless),
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("launch %s", project), err)
	}
	logger.Info("browser_launched", "project", project, "version", b.Version(), "headless", l.headless)
	l.browsers[project] = b
	return b, nil
}

// Close shuts every browser and the driver.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for project, b := range l.browsers {
		if err := b.Close(); err != nil {
			logger.Warn("browser_close_failed", "project", project, "error", err.Error())
		}
	}
	l.browsers = map[string]playwright.Browser{}
	if err := l.pw.Stop(); err != nil {
		return fmt.Errorf("stop playwright: %w", err)
	}
	return nil
}

// PageOptions describes one scenario attempt.
type PageOptions struct {
	Project    string
	BaseURL    string
	ScenarioID string
	// Attempt is zero-based; the first retry is attempt 1.
	Attempt     int
	ArtifactDir string
	Trace       config.ArtifactPolicy
	Screenshot  config.ArtifactPolicy
	Video       config.ArtifactPolicy
	// DefaultTimeout applies to engine calls made without an explicit bound.
	DefaultTimeout float64
}

// attemptDir is where artifacts for this attempt land.
func (o PageOptions) attemptDir() string {
	safe := strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(o.ScenarioID)
	return filepath.Join(o.ArtifactDir, o.Project, safe, fmt.Sprintf("attempt-%d", o.Attempt))
}

// contextOptions builds the isolated context for the project's device.
func (l *Launcher) contextOptions(opts PageOptions) playwright.BrowserNewContextOptions {
	co := playwright.BrowserNewContextOptions{}
	if opts.BaseURL != "" {
		co.BaseURL = playwright.String(opts.BaseURL)
	}
	if d, ok := l.pw.Devices[deviceNames[opts.Project]]; ok && d != nil {
		co.UserAgent = playwright.String(d.UserAgent)
		co.Viewport = d.Viewport
		co.DeviceScaleFactor = playwright.Float(d.DeviceScaleFactor)
		co.IsMobile = playwright.Bool(d.IsMobile)
		co.HasTouch = playwright.Bool(d.HasTouch)
	}
	if opts.Video.Record(opts.Attempt) {
		co.RecordVideo = &playwright.RecordVideo{Dir: filepath.Join(opts.attemptDir(), "video")}
	}
	return co
}

// NewPage opens a fresh context and page for one attempt. Nothing is shared
// with other attempts.
func (l *Launcher) NewPage(ctx context.Context, opts PageOptions) (*Page, error) {
	b, err := l.Browser(opts.Project)
	if err != nil {
		return nil, err
	}
	bctx, err := b.NewContext(l.contextOptions(opts))
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "new browser context", err)
	}
	if opts.DefaultTimeout > 0 {
		bctx.SetDefaultTimeout(opts.DefaultTimeout)
		bctx.SetDefaultNavigationTimeout(opts.DefaultTimeout)
	}

	tracing := opts.Trace.Record(opts.Attempt)
	if tracing {
		if err := bctx.Tracing().Start(playwright.TracingStartOptions{
			Name:        playwright.String(opts.ScenarioID),
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		}); err != nil {
			_ = bctx.Close()
			return nil, errs.Wrap(errs.Unavailable, "start tracing", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, errs.Wrap(errs.Unavailable, "new page", err)
	}
	obs.From(ctx).With("pkg", "browser").Debug("page_opened", "tracing", tracing, "video", opts.Video.Record(opts.Attempt))
	return &Page{bctx: bctx, page: page, opts: opts, tracing: tracing}, nil
}

// Artifacts are files kept for one attempt. Empty fields were not kept.
type Artifacts struct {
	Trace      string `json:"trace,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Video      string `json:"video,omitempty"`
}

// Finish captures or discards artifacts according to the policies and closes
// the context. It is safe to call once per page.
func (p *Page) Finish(failed bool) (Artifacts, error) {
	var out Artifacts
	var problems []string
	dir := p.opts.attemptDir()
	attempt := p.opts.Attempt

	if p.opts.Screenshot.Keep(attempt, failed) {
		path := filepath.Join(dir, "screenshot.png")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			problems = append(problems, err.Error())
		} else if _, err := p.page.Screenshot(playwright.PageScreenshotOptions{
			Path:     playwright.String(path),
			FullPage: playwright.Bool(true),
		}); err != nil {
			problems = append(problems, "screenshot: "+err.Error())
		} else {
			out.Screenshot = path
		}
	}

	if p.tracing {
		if p.opts.Trace.Keep(attempt, failed) {
			path := filepath.Join(dir, "trace.zip")
			if err := p.bctx.Tracing().Stop(path); err != nil {
				problems = append(problems, "trace: "+err.Error())
			} else {
				out.Trace = path
			}
		} else if err := p.bctx.Tracing().Stop(); err != nil {
			problems = append(problems, "trace: "+err.Error())
		}
	}

	video := p.page.Video()
	if err := p.bctx.Close(); err != nil {
		problems = append(problems, "close context: "+err.Error())
	}
	if video != nil {
		// The file is complete only once the context is closed.
		if path, err := video.Path(); err == nil && path != "" {
			if p.opts.Video.Keep(attempt, failed) {
				out.Video = path
			} else {
				_ = os.Remove(path)
			}
		}
	}

	if len(problems) > 0 {
		return out, fmt.Errorf("finish %s: %s", p.opts.ScenarioID, strings.Join(problems, "; "))
	}
	return out, nil
}
