// Package report renders a run summary as JSON, markdown and HTML, appends it
// to the CI step summary and publishes the report directory.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kuitang/xpire-e2e/internal/artifactstore"
	"github.com/kuitang/xpire-e2e/internal/browser"
	"github.com/kuitang/xpire-e2e/internal/errs"
	"github.com/kuitang/xpire-e2e/internal/logutil"
	"github.com/kuitang/xpire-e2e/internal/obs"
	"github.com/kuitang/xpire-e2e/internal/runner"
	"github.com/kuitang/xpire-e2e/internal/urlutil"
)

const (
	ResultsFile  = "results.json"
	SummaryFile  = "summary.md"
	IndexFile    = "index.html"
	maxErrorText = 300
)

//go:embed templates/index.html
var indexTemplate string

var pageTmpl = template.Must(template.New("index").Parse(indexTemplate))

// Reset removes the previous run's report files and artifacts from dir so
// nothing stale is published with the next run. Other files are left alone.
func Reset(dir string) error {
	for _, p := range []string{
		filepath.Join(dir, ResultsFile),
		filepath.Join(dir, SummaryFile),
		filepath.Join(dir, IndexFile),
		runner.ArtifactDir(dir),
	} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("clear %s: %w", p, err)
		}
	}
	return nil
}

// Write renders every report format into dir.
func Write(dir string, sum *runner.Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ResultsFile), data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	md := Markdown(sum, dir)
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), md, 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	page, err := HTML(sum, md)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), page, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	obs.Pkg("report").Info("report_written", "dir", dir, "results", len(sum.Results))
	return nil
}

// Markdown renders the summary. Artifact links are made relative to dir.
func Markdown(sum *runner.Summary, dir string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# E2E run %s\n\n", sum.RunID)
	fmt.Fprintf(&b, "Started %s, took %s. Projects: %s.\n\n",
		sum.Started.Format(time.RFC3339), sum.Duration.Round(time.Millisecond), strings.Join(sum.Projects, ", "))

	b.WriteString("| Status | Count |\n|---|---|\n")
	for _, c := range sum.SortedCounts() {
		fmt.Fprintf(&b, "| %s | %d |\n", c.Status, c.Count)
	}
	b.WriteString("\n")

	var failures []runner.Result
	for _, r := range sum.Results {
		if r.Status == runner.StatusFailed || r.Status == runner.StatusFlaky {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, r := range failures {
			fmt.Fprintf(&b, "### %s: %s > %s (%s)\n\n", r.Project, r.Suite, r.Title, r.Status)
			for _, a := range r.Attempts {
				if a.Error == "" {
					continue
				}
				fmt.Fprintf(&b, "- attempt %d `%s`%s: %s\n", a.Index, a.Code, failureContext(a), cell(a.Error))
				if links := artifactLinks(a.Artifacts, dir); links != "" {
					fmt.Fprintf(&b, "  - artifacts: %s\n", links)
				}
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Results\n\n")
	b.WriteString("| Project | Suite | Scenario | Status | Attempts | Duration |\n|---|---|---|---|---|---|\n")
	for _, r := range sum.Results {
		status := string(r.Status)
		if r.SkipReason != "" {
			status += ": " + r.SkipReason
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %s |\n",
			r.Project, cell(r.Suite), cell(r.Title), cell(status), len(r.Attempts), r.Duration.Round(time.Millisecond))
	}
	return b.Bytes()
}

// cell makes text safe inside a markdown table cell.
func cell(s string) string {
	s = logutil.TruncateForLog(s, maxErrorText)
	return strings.ReplaceAll(s, "|", `\|`)
}

// failureContext tags attempts that broke outside the app's own behavior
// and names the route the page ended on.
func failureContext(a runner.Attempt) string {
	var parts []string
	if !errs.IsScenarioFailure(errs.Code(a.Code)) {
		parts = append(parts, "infrastructure")
	}
	if a.FinalURL != "" {
		parts = append(parts, "at "+urlutil.PathOf(a.FinalURL))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func artifactLinks(a browser.Artifacts, dir string) string {
	var links []string
	for _, item := range []struct{ name, path string }{
		{"trace", a.Trace}, {"screenshot", a.Screenshot}, {"video", a.Video},
	} {
		if item.path == "" {
			continue
		}
		target := item.path
		if rel, err := filepath.Rel(dir, item.path); err == nil && !strings.HasPrefix(rel, "..") {
			target = filepath.ToSlash(rel)
		}
		links = append(links, fmt.Sprintf("[%s](%s)", item.name, target))
	}
	return strings.Join(links, ", ")
}

// renderMarkdown converts markdown to sanitized HTML.
func renderMarkdown(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse(md)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	out := markdown.Render(doc, renderer)

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("pre", "code")
	policy.AllowAttrs("class").OnElements("code", "pre")
	return policy.SanitizeBytes(out)
}

// HTML wraps the rendered markdown in the report page.
func HTML(sum *runner.Summary, md []byte) ([]byte, error) {
	verdict := "passed"
	if sum.Failed() {
		verdict = "failed"
	}
	var b bytes.Buffer
	err := pageTmpl.Execute(&b, struct {
		Title   string
		Verdict string
		Body    template.HTML
	}{
		Title:   "E2E run " + sum.RunID,
		Verdict: verdict,
		Body:    template.HTML(renderMarkdown(md)),
	})
	if err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	return b.Bytes(), nil
}

// AppendStepSummary appends the markdown summary to a CI step summary file.
// An empty path is a no-op.
func AppendStepSummary(path string, sum *runner.Summary, dir string) error {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(Markdown(sum, dir), '\n')); err != nil {
		return fmt.Errorf("write step summary: %w", err)
	}
	return nil
}

// Publish uploads the report directory under the run ID and returns the URL
// of the published index.
func Publish(ctx context.Context, store *artifactstore.Store, dir, runID string) (string, error) {
	prefix := store.Key(runID)
	n, err := store.UploadDir(ctx, dir, prefix)
	if err != nil {
		return "", err
	}
	url := store.PublicURL(prefix + "/" + IndexFile)
	obs.From(ctx).With("pkg", "report").Info("report_published", "files", n, "bucket", store.Bucket(), "url", url)
	return url, nil
}
