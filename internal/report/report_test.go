package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/xpire-e2e/internal/artifactstore"
	"github.com/kuitang/xpire-e2e/internal/browser"
	"github.com/kuitang/xpire-e2e/internal/driver"
	"github.com/kuitang/xpire-e2e/internal/runner"
)

func sampleSummary(dir string) *runner.Summary {
	return &runner.Summary{
		RunID:    "run-123",
		Started:  time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Duration: 42 * time.Second,
		Projects: []string{"chromium", "webkit"},
		Results: []runner.Result{
			{
				ID: "shell/dashboard", Suite: "App shell", Title: "dashboard route", Project: "chromium",
				Status: runner.StatusPassed, Duration: time.Second,
				Attempts: []runner.Attempt{{Index: 0, State: driver.StatePassed}},
			},
			{
				ID: "register/empty-submit", Suite: "Registration", Title: "empty submit | shows messages", Project: "webkit",
				Status: runner.StatusFailed, Duration: 3 * time.Second,
				Attempts: []runner.Attempt{{
					Index: 0, State: driver.StateFailed, Code: "outcome_assertion",
					Error: "no message\nwithin 10s",
					Artifacts: browser.Artifacts{
						Trace:      filepath.Join(dir, "artifacts", "webkit", "register-empty-submit", "attempt-0", "trace.zip"),
						Screenshot: filepath.Join(dir, "artifacts", "webkit", "register-empty-submit", "attempt-0", "screenshot.png"),
					},
				}},
			},
			{
				ID: "register/valid-submit", Suite: "Registration", Title: "valid submit", Project: "webkit",
				Status: runner.StatusSkipped, SkipReason: "form controls not exposed",
				Attempts: []runner.Attempt{{Index: 0, State: driver.StateSkipped}},
			},
		},
		Counts: map[runner.Status]int{runner.StatusPassed: 1, runner.StatusFailed: 1, runner.StatusSkipped: 1},
	}
}

func TestMarkdown(t *testing.T) {
	dir := t.TempDir()
	md := string(Markdown(sampleSummary(dir), dir))

	assert.Contains(t, md, "# E2E run run-123")
	assert.Contains(t, md, "Projects: chromium, webkit.")
	assert.Contains(t, md, "| passed | 1 |")
	assert.Contains(t, md, "## Failures")
	assert.Contains(t, md, "`outcome_assertion`: no message\\nwithin 10s")
	assert.Contains(t, md, "[trace](artifacts/webkit/register-empty-submit/attempt-0/trace.zip)")
	assert.Contains(t, md, `empty submit \| shows messages`)
	assert.Contains(t, md, "skipped: form controls not exposed")

	// Counts come in display order.
	assert.Less(t, strings.Index(md, "| passed |"), strings.Index(md, "| failed |"))
	assert.Less(t, strings.Index(md, "| failed |"), strings.Index(md, "| skipped |"))
}

func TestMarkdown_NoFailuresSection(t *testing.T) {
	sum := sampleSummary(t.TempDir())
	sum.Results = sum.Results[:1]
	sum.Counts = map[runner.Status]int{runner.StatusPassed: 1}
	assert.NotContains(t, string(Markdown(sum, "")), "## Failures")
}

func TestMarkdown_TagsInfrastructureFailures(t *testing.T) {
	sum := sampleSummary(t.TempDir())
	sum.Results[1].Attempts = append(sum.Results[1].Attempts, runner.Attempt{
		Index: 1, State: driver.StateFailed, Code: "unavailable",
		Error: "browser closed", FinalURL: "http://127.0.0.1:4173/register?step=2",
	})
	md := string(Markdown(sum, ""))

	assert.Contains(t, md, "- attempt 0 `outcome_assertion`: no message")
	assert.Contains(t, md, "- attempt 1 `unavailable` (infrastructure, at /register): browser closed")
}

func TestCell_Truncates(t *testing.T) {
	long := strings.Repeat("x", maxErrorText+50)
	got := cell(long)
	assert.True(t, strings.HasSuffix(got, "... [truncated]"))
	assert.Equal(t, `a\|b`, cell(" a|b "))
}

func TestHTML_SanitizesAndMarksVerdict(t *testing.T) {
	sum := sampleSummary(t.TempDir())
	sum.Results[1].Attempts[0].Error = `<script>alert(1)</script> boom`

	page, err := HTML(sum, Markdown(sum, ""))
	require.NoError(t, err)
	out := string(page)
	assert.Contains(t, out, `<p class="verdict failed">failed</p>`)
	assert.Contains(t, out, "<table>")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "<title>E2E run run-123</title>")
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	sum := sampleSummary(dir)
	require.NoError(t, Write(dir, sum))

	data, err := os.ReadFile(filepath.Join(dir, ResultsFile))
	require.NoError(t, err)
	var decoded runner.Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-123", decoded.RunID)
	assert.Len(t, decoded.Results, 3)

	for _, name := range []string{SummaryFile, IndexFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestAppendStepSummary(t *testing.T) {
	require.NoError(t, AppendStepSummary("", sampleSummary(""), ""))

	path := filepath.Join(t.TempDir(), "step-summary.md")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o644))
	require.NoError(t, AppendStepSummary(path, sampleSummary(""), ""))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "existing\n# E2E run run-123"))
}

func TestPublish(t *testing.T) {
	store := artifactstore.TestStore(t, "reports", "e2e")
	dir := t.TempDir()
	sum := sampleSummary(dir)
	require.NoError(t, Write(dir, sum))

	url, err := Publish(context.Background(), store, dir, sum.RunID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/e2e/run-123/index.html"), url)

	got, err := store.GetObject(context.Background(), "e2e/run-123/"+ResultsFile)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"run_id": "run-123"`)
}

func TestReset_DropsPreviousRun(t *testing.T) {
	store := artifactstore.TestStore(t, "reports", "e2e")
	dir := t.TempDir()
	stale := filepath.Join(runner.ArtifactDir(dir), "webkit", "old-scenario", "attempt-0", "screenshot.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("from a previous run"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, SummaryFile), []byte("old"), 0o644))
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(keep, []byte("mine"), 0o644))

	require.NoError(t, Reset(dir))
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, SummaryFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)

	sum := sampleSummary(dir)
	sum.RunID = "run-new"
	require.NoError(t, Write(dir, sum))
	_, err = Publish(context.Background(), store, dir, sum.RunID)
	require.NoError(t, err)
	_, err = store.GetObject(context.Background(), "e2e/run-new/artifacts/webkit/old-scenario/attempt-0/screenshot.png")
	assert.ErrorIs(t, err, artifactstore.ErrObjectNotFound)
}

func TestReset_MissingDir(t *testing.T) {
	require.NoError(t, Reset(filepath.Join(t.TempDir(), "never-created")))
}
