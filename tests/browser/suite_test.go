package browser

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/xpire-e2e/internal/config"
	"github.com/kuitang/xpire-e2e/internal/driver"
	"github.com/kuitang/xpire-e2e/internal/runner"
	"github.com/kuitang/xpire-e2e/internal/scenario"
)

func TestMain(m *testing.M) {
	code := m.Run()
	closeLauncher()
	os.Exit(code)
}

func TestCatalog_HTMLRenderer(t *testing.T) {
	env := SetupSuiteEnv(t, FixtureHTML)
	env.Config.Renderer = config.RendererHTML

	summary := env.Run(t, "")
	require.Len(t, summary.Results, len(scenario.Catalog()))
	for _, r := range summary.Results {
		assert.Equal(t, runner.StatusPassed, r.Status, "%s: %s", r.ID, r.LastError())
	}
	assert.Equal(t, 0, summary.ExitCode())
}

func TestCatalog_CanvasKitSkipsForms(t *testing.T) {
	env := SetupSuiteEnv(t, FixtureCanvasKit)

	summary := env.Run(t, "Registration")
	for _, r := range summary.Results {
		sc := findScenario(t, r.ID)
		if sc.NeedsForm() {
			assert.Equal(t, runner.StatusSkipped, r.Status, r.ID)
			assert.NotEmpty(t, r.SkipReason, r.ID)
			continue
		}
		assert.Equal(t, runner.StatusPassed, r.Status, "%s: %s", r.ID, r.LastError())
	}
	assert.Equal(t, 0, summary.ExitCode())
}

func TestCatalog_HTMLRendererFailsWithoutControls(t *testing.T) {
	env := SetupSuiteEnv(t, FixtureCanvasKit)
	env.Config.Renderer = config.RendererHTML

	summary := env.Run(t, "invalid email")
	require.Len(t, summary.Results, 1)
	r := summary.Results[0]
	assert.Equal(t, runner.StatusFailed, r.Status)
	assert.Equal(t, 1, summary.ExitCode())
	last := r.Attempts[len(r.Attempts)-1]
	assert.Contains(t, last.Transitions, driver.StateReady)
	assert.Equal(t, driver.StateFailed, last.State)
}

func TestCatalog_ScreenshotOnFailure(t *testing.T) {
	env := SetupSuiteEnv(t, FixtureCanvasKit)
	env.Config.Renderer = config.RendererHTML
	env.Config.Screenshot = config.PolicyOnlyOnFailure

	summary := env.Run(t, "mismatched passwords")
	r := ResultByID(t, summary, "register/password-mismatch")
	require.Equal(t, runner.StatusFailed, r.Status)
	shot := r.Attempts[0].Artifacts.Screenshot
	require.NotEmpty(t, shot)
	_, err := os.Stat(shot)
	assert.NoError(t, err)
}

func TestCatalog_ReloadKeepsRoute(t *testing.T) {
	env := SetupSuiteEnv(t, FixtureHTML)

	summary := env.Run(t, "(?i)reload")
	require.NotEmpty(t, summary.Results)
	for _, r := range summary.Results {
		assert.Equal(t, runner.StatusPassed, r.Status, "%s: %s", r.ID, r.LastError())
		assert.Contains(t, r.Attempts[0].FinalURL, "/challenges")
	}
}

func findScenario(t *testing.T, id string) scenario.Scenario {
	t.Helper()
	for _, sc := range scenario.Catalog() {
		if sc.ID == id {
			return sc
		}
	}
	t.Fatalf("unknown scenario %s", id)
	return scenario.Scenario{}
}
