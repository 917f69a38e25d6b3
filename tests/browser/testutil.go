// Package browser runs the scenario catalog through real browsers against
// fixture builds served by the built-in static server.
// All tests share one playwright launcher via SetupSuiteEnv(t, fixture).
package browser

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pwbrowser "github.com/kuitang/xpire-e2e/internal/browser"
	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/runner"
	"github.com/kuitang/xpire-e2e/internal/scenario"
	"github.com/kuitang/xpire-e2e/internal/spa"
)

const (
	// FixtureHTML exposes form controls like the HTML renderer does.
	FixtureHTML = "html"
	// FixtureCanvasKit paints to a canvas and exposes no form controls.
	FixtureCanvasKit = "canvaskit"

	serverStartTimeout = 5 * time.Second
)

var (
	launcherMu     sync.Mutex
	sharedLauncher *pwbrowser.Launcher
)

// SuiteEnv is a served fixture plus a config pointing at it.
type SuiteEnv struct {
	BaseURL  string
	Config   *config.Config
	Launcher *pwbrowser.Launcher
}

// SetupSuiteEnv serves the fixture on a free port and returns a chromium-only
// config for it. Skips under -short or when Playwright is not installed.
func SetupSuiteEnv(t *testing.T, fixture string) *SuiteEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}

	l := launcher(t)

	port := freePort(t)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	ws := config.WebServerConfig{
		Root:        filepath.Join("testdata", fixture),
		URL:         baseURL,
		Port:        port,
		Timeout:     serverStartTimeout,
		SPAFallback: true,
	}
	server := spa.NewWebServer(ws)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start fixture server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	cfg := config.Defaults(false)
	cfg.BaseURL = baseURL
	cfg.WebServer = ws
	cfg.Projects = []string{"chromium"}
	cfg.Retries = 0
	cfg.Workers = 4
	cfg.ReportDir = t.TempDir()
	cfg.ActionTimeout = 3 * time.Second
	cfg.Trace = config.PolicyOff
	cfg.Video = config.PolicyOff
	return &SuiteEnv{BaseURL: baseURL, Config: cfg, Launcher: l}
}

// Run runs the catalog scenarios matching grep.
func (env *SuiteEnv) Run(t *testing.T, grep string) *runner.Summary {
	t.Helper()
	env.Config.Grep = grep
	summary, err := runner.New(env.Config, runner.FromLauncher(env.Launcher)).Run(context.Background(), scenario.Catalog())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return summary
}

// ResultByID finds a scenario's result.
func ResultByID(t *testing.T, s *runner.Summary, id string) runner.Result {
	t.Helper()
	for _, r := range s.Results {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no result for %s", id)
	return runner.Result{}
}

func launcher(t *testing.T) *pwbrowser.Launcher {
	t.Helper()
	launcherMu.Lock()
	defer launcherMu.Unlock()

	if sharedLauncher != nil {
		return sharedLauncher
	}
	l, err := pwbrowser.Launch(true)
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	if _, err := l.Browser("chromium"); err != nil {
		_ = l.Close()
		t.Skip("Could not launch browser:", err)
	}
	sharedLauncher = l
	return l
}

func closeLauncher() {
	launcherMu.Lock()
	defer launcherMu.Unlock()
	if sharedLauncher != nil {
		_ = sharedLauncher.Close()
		sharedLauncher = nil
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
