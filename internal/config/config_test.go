package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

var envKeys = []string{
	"CI",
	"E2E_BASE_URL", "E2E_TIMEOUT", "E2E_EXPECT_TIMEOUT", "E2E_RETRIES", "E2E_WORKERS",
	"E2E_HEADLESS", "E2E_PROJECTS", "E2E_GREP", "E2E_RENDERER", "E2E_REPORT_DIR",
	"E2E_BUILD_DIR", "E2E_SERVER_COMMAND", "E2E_PORT",
	"E2E_REPORT_BUCKET", "E2E_REPORT_PREFIX", "E2E_REPORT_PUBLIC_URL",
	"AWS_ENDPOINT_URL_S3", "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"GITHUB_STEP_SUMMARY",
}

// clearEnv blanks every variable the loader reads and moves into an empty
// directory so a stray e2e.yaml is never picked up.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func mustParseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	f, err := ParseFlags(args, nil)
	if err != nil {
		t.Fatalf("ParseFlags(%v): %v", args, err)
	}
	return f
}

func TestLoadConfig_LocalDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(mustParseFlags(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CI {
		t.Fatal("CI should be false without the CI variable")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Timeout != 90*time.Second {
		t.Errorf("Timeout = %s, want 90s", cfg.Timeout)
	}
	if cfg.Retries != 0 || cfg.ForbidOnly {
		t.Errorf("local run should have 0 retries and no forbid-only, got %d/%t", cfg.Retries, cfg.ForbidOnly)
	}
	if !cfg.WebServer.ReuseExistingServer {
		t.Error("local run should reuse an existing server")
	}
	if cfg.WebServer.URL != cfg.BaseURL {
		t.Errorf("web server URL %q should default to base URL", cfg.WebServer.URL)
	}
	if got := strings.Join(cfg.Projects, ","); got != "chromium,firefox,webkit" {
		t.Errorf("Projects = %s", got)
	}
	if cfg.Trace != PolicyOnFirstRetry || cfg.Screenshot != PolicyOnlyOnFailure || cfg.Video != PolicyOnFirstRetry {
		t.Errorf("unexpected artifact policies: %s/%s/%s", cfg.Trace, cfg.Screenshot, cfg.Video)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("no config file expected, got %q", cfg.ConfigFile)
	}
}

func TestLoadConfig_CIDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CI", "true")

	cfg, err := LoadConfig(mustParseFlags(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.CI || cfg.Retries != 2 || cfg.Workers != 1 || !cfg.ForbidOnly {
		t.Fatalf("CI defaults not applied: ci=%t retries=%d workers=%d forbidOnly=%t",
			cfg.CI, cfg.Retries, cfg.Workers, cfg.ForbidOnly)
	}
	if cfg.WebServer.ReuseExistingServer {
		t.Fatal("CI must not reuse an existing server")
	}
}

func TestLoadConfig_AnyCIValueCounts(t *testing.T) {
	clearEnv(t)
	t.Setenv("CI", "false")

	cfg, err := LoadConfig(mustParseFlags(t))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.CI || cfg.Retries != 2 {
		t.Fatalf("CI=false must still select CI defaults: ci=%t retries=%d", cfg.CI, cfg.Retries)
	}
}

func TestLoadConfig_LayersFileEnvAndFlags(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "suite.yaml")
	yamlBody := `
base_url: http://127.0.0.1:9000
timeout: 45s
retries: 1
projects: [firefox]
renderer: html
web_server:
  port: 9000
  root: dist
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("E2E_RETRIES", "3")
	t.Setenv("E2E_REPORT_BUCKET", "reports")

	cfg, err := LoadConfig(mustParseFlags(t, "-config", path, "-project", "chromium, webkit", "-headed"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.BaseURL != "http://127.0.0.1:9000" || cfg.Timeout != 45*time.Second {
		t.Errorf("file values not applied: %s %s", cfg.BaseURL, cfg.Timeout)
	}
	if cfg.WebServer.Root != "dist" || cfg.WebServer.Port != 9000 {
		t.Errorf("web server file values not applied: %+v", cfg.WebServer)
	}
	if !cfg.WebServer.SPAFallback || cfg.WebServer.Timeout != 30*time.Second {
		t.Errorf("keys absent from the file must keep defaults: %+v", cfg.WebServer)
	}
	if cfg.Retries != 3 {
		t.Errorf("env should override file: retries = %d", cfg.Retries)
	}
	if got := strings.Join(cfg.Projects, ","); got != "chromium,webkit" {
		t.Errorf("flag should override file: projects = %s", got)
	}
	if cfg.Headless {
		t.Error("-headed should disable headless mode")
	}
	if cfg.Renderer != RendererHTML {
		t.Errorf("Renderer = %q", cfg.Renderer)
	}
	if !cfg.ReportStore.Enabled() || cfg.ReportStore.Region != "auto" {
		t.Errorf("report store = %+v", cfg.ReportStore)
	}
}

func TestLoadConfig_MissingExplicitFileFails(t *testing.T) {
	clearEnv(t)
	if _, err := LoadConfig(mustParseFlags(t, "-config", filepath.Join(t.TempDir(), "nope.yaml"))); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadConfig_InvalidValuesReported(t *testing.T) {
	clearEnv(t)
	t.Setenv("E2E_PROJECTS", "chromium,edge")
	t.Setenv("E2E_RENDERER", "skia")

	_, err := LoadConfig(mustParseFlags(t, "-workers", "0"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	msg := verr.Error()
	for _, want := range []string{`unknown project "edge"`, `renderer "skia"`, "workers must be at least 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("validation error missing %q: %s", want, msg)
		}
	}
}

func TestArtifactPolicy_RecordAndKeep(t *testing.T) {
	t.Parallel()
	cases := []struct {
		policy     ArtifactPolicy
		attempt    int
		failed     bool
		wantRecord bool
		wantKeep   bool
	}{
		{PolicyOff, 0, true, false, false},
		{PolicyOn, 0, false, true, true},
		{PolicyOnlyOnFailure, 0, false, true, false},
		{PolicyOnlyOnFailure, 0, true, true, true},
		{PolicyRetainOnFailure, 2, true, true, true},
		{PolicyOnFirstRetry, 0, true, false, false},
		{PolicyOnFirstRetry, 1, false, true, true},
		{PolicyOnFirstRetry, 2, true, false, false},
	}
	for _, tc := range cases {
		if got := tc.policy.Record(tc.attempt); got != tc.wantRecord {
			t.Errorf("%s.Record(%d) = %t, want %t", tc.policy, tc.attempt, got, tc.wantRecord)
		}
		if got := tc.policy.Keep(tc.attempt, tc.failed); got != tc.wantKeep {
			t.Errorf("%s.Keep(%d, %t) = %t, want %t", tc.policy, tc.attempt, tc.failed, got, tc.wantKeep)
		}
	}
}

func testKeepImpliesRecord(t *rapid.T) {
	policy := rapid.SampledFrom([]ArtifactPolicy{
		PolicyOff, PolicyOn, PolicyOnlyOnFailure, PolicyRetainOnFailure, PolicyOnFirstRetry,
	}).Draw(t, "policy")
	attempt := rapid.IntRange(0, 5).Draw(t, "attempt")
	failed := rapid.Bool().Draw(t, "failed")

	if policy.Keep(attempt, failed) && !policy.Record(attempt) {
		t.Fatalf("%s keeps an artifact for attempt %d that was never recorded", policy, attempt)
	}
}

func TestArtifactPolicy_KeepImpliesRecord(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testKeepImpliesRecord)
}

func TestIsCI(t *testing.T) {
	t.Parallel()
	for value, want := range map[string]bool{
		"":      false,
		"0":     true,
		"false": true,
		" ":     true,
		"1":     true,
		"true":  true,
	} {
		if got := isCI(value); got != want {
			t.Errorf("isCI(%q) = %t, want %t", value, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(rt *rapid.T) {
		items := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 1, 5).Draw(rt, "items")
		joined := strings.Join(items, " , ")
		got := splitList(joined)
		if strings.Join(got, ",") != strings.Join(items, ",") {
			rt.Fatalf("splitList(%q) = %v, want %v", joined, got, items)
		}
	})
}

func TestPrintStartupSummary(t *testing.T) {
	t.Parallel()
	cfg := Defaults(true)
	var sb strings.Builder
	cfg.PrintStartupSummary(&sb)
	out := sb.String()
	for _, want := range []string{"http://localhost:8080", "chromium, firefox, webkit", "Mode:     CI"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestLoadConfig_ExampleFileParses(t *testing.T) {
	example, err := filepath.Abs(filepath.Join("..", "..", "e2e.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	clearEnv(t)

	cfg, err := LoadConfig(mustParseFlags(t, "-config", example))
	if err != nil {
		t.Fatalf("LoadConfig(example): %v", err)
	}
	if cfg.ConfigFile != example || cfg.WebServer.Timeout != 30*time.Second || cfg.Renderer != RendererAuto {
		t.Fatalf("example not applied: %+v", cfg)
	}
}
