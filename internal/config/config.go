// Package config provides centralized configuration for the xpire e2e runner.
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables, then CLI flags.
//
// The CI environment variable switches several defaults the same way the
// suite has always behaved on build machines: retries go up, workers go down,
// focused scenarios are forbidden and an already-running server is never reused.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "e2e.yaml"

	defaultBaseURL        = "http://localhost:8080"
	defaultPort           = 8080
	defaultTimeout        = 90 * time.Second
	defaultExpectTimeout  = 5 * time.Second
	defaultServerTimeout  = 30 * time.Second
	defaultBuildDir       = "../build/web"
	defaultReportDir      = "e2e-report"
	defaultReportRegion   = "auto"
	defaultCIRetries      = 2
	defaultCIWorkers      = 1
	defaultLocalRetries   = 0
	projectChromium       = "chromium"
	projectFirefox        = "firefox"
	projectWebKit         = "webkit"
	defaultReportKeyspace = "e2e-reports"
)

// ArtifactPolicy controls when traces, screenshots and videos are captured.
type ArtifactPolicy string

const (
	PolicyOff             ArtifactPolicy = "off"
	PolicyOn              ArtifactPolicy = "on"
	PolicyOnlyOnFailure   ArtifactPolicy = "only-on-failure"
	PolicyRetainOnFailure ArtifactPolicy = "retain-on-failure"
	PolicyOnFirstRetry    ArtifactPolicy = "on-first-retry"
)

// Valid reports whether p is a known policy.
func (p ArtifactPolicy) Valid() bool {
	switch p {
	case PolicyOff, PolicyOn, PolicyOnlyOnFailure, PolicyRetainOnFailure, PolicyOnFirstRetry:
		return true
	}
	return false
}

// Record reports whether recording must start for the given zero-based attempt.
func (p ArtifactPolicy) Record(attempt int) bool {
	switch p {
	case PolicyOn, PolicyOnlyOnFailure, PolicyRetainOnFailure:
		return true
	case PolicyOnFirstRetry:
		return attempt == 1
	}
	return false
}

// Keep reports whether an artifact recorded during attempt is retained.
func (p ArtifactPolicy) Keep(attempt int, failed bool) bool {
	switch p {
	case PolicyOn:
		return true
	case PolicyOnlyOnFailure, PolicyRetainOnFailure:
		return failed
	case PolicyOnFirstRetry:
		return attempt == 1
	}
	return false
}

// Renderer selects how form-interaction scenarios treat missing DOM controls.
type Renderer string

const (
	// RendererAuto detects form controls at runtime and skips when absent.
	RendererAuto Renderer = "auto"
	// RendererHTML expects DOM form controls; their absence is a failure.
	RendererHTML Renderer = "html"
	// RendererCanvasKit paints to canvas; form scenarios are skipped outright.
	RendererCanvasKit Renderer = "canvaskit"
)

// WebServerConfig describes how the built application is hosted.
type WebServerConfig struct {
	// Command, when set, is run through the shell to host the build.
	Command string `yaml:"command"`
	// Dir is the working directory for Command.
	Dir string `yaml:"dir"`
	// Root is the build directory served by the built-in static server.
	Root string `yaml:"root"`
	// URL is polled until the server answers. Defaults to the base URL.
	URL                 string        `yaml:"url"`
	Port                int           `yaml:"port"`
	ReuseExistingServer bool          `yaml:"reuse_existing_server"`
	Timeout             time.Duration `yaml:"timeout"`
	SPAFallback         bool          `yaml:"spa_fallback"`
}

// ReportStoreConfig points at an S3-compatible bucket for published reports.
type ReportStoreConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	PublicURL       string `yaml:"public_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

// Enabled reports whether publishing is configured.
func (r ReportStoreConfig) Enabled() bool {
	return r.Bucket != ""
}

// Config holds all runner configuration.
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	ExpectTimeout time.Duration `yaml:"expect_timeout"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
	FullyParallel bool          `yaml:"fully_parallel"`
	ForbidOnly    bool          `yaml:"forbid_only"`
	Retries       int           `yaml:"retries"`
	Workers       int           `yaml:"workers"`
	Headless      bool          `yaml:"headless"`
	Projects      []string      `yaml:"projects"`
	Grep          string        `yaml:"grep"`
	Renderer      Renderer      `yaml:"renderer"`

	Trace      ArtifactPolicy `yaml:"trace"`
	Screenshot ArtifactPolicy `yaml:"screenshot"`
	Video      ArtifactPolicy `yaml:"video"`

	WebServer WebServerConfig `yaml:"web_server"`

	ReportDir       string            `yaml:"report_dir"`
	ReportStore     ReportStoreConfig `yaml:"report_store"`
	StepSummaryPath string            `yaml:"-"`

	// CI is true when the CI environment variable is set.
	CI bool `yaml:"-"`
	// List prints the scenario catalog instead of running it.
	List bool `yaml:"-"`
	// ConfigFile is the YAML file that was loaded, if any.
	ConfigFile string `yaml:"-"`
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Defaults returns the built-in configuration. ci selects the CI variants.
func Defaults(ci bool) *Config {
	cfg := &Config{
		BaseURL:       defaultBaseURL,
		Timeout:       defaultTimeout,
		ExpectTimeout: defaultExpectTimeout,
		FullyParallel: true,
		ForbidOnly:    ci,
		Retries:       defaultLocalRetries,
		Workers:       localWorkers(),
		Headless:      true,
		Projects:      []string{projectChromium, projectFirefox, projectWebKit},
		Renderer:      RendererAuto,
		Trace:         PolicyOnFirstRetry,
		Screenshot:    PolicyOnlyOnFailure,
		Video:         PolicyOnFirstRetry,
		WebServer: WebServerConfig{
			Root:                defaultBuildDir,
			Port:                defaultPort,
			ReuseExistingServer: !ci,
			Timeout:             defaultServerTimeout,
			SPAFallback:         true,
		},
		ReportDir: defaultReportDir,
		ReportStore: ReportStoreConfig{
			Region: defaultReportRegion,
			Prefix: defaultReportKeyspace,
		},
		CI: ci,
	}
	if ci {
		cfg.Retries = defaultCIRetries
		cfg.Workers = defaultCIWorkers
	}
	return cfg
}

func localWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	return n
}

// Flags holds CLI flag values and which of them were explicitly set.
type Flags struct {
	ConfigFile string
	Projects   string
	Grep       string
	List       bool
	Workers    int
	Retries    int
	Headed     bool
	ReportDir  string
	BaseURL    string
	BuildDir   string
	Renderer   string

	set map[string]bool
}

// IsSet reports whether the named flag was given on the command line.
func (f *Flags) IsSet(name string) bool {
	return f.set[name]
}

// ParseFlags parses CLI args (without the program name).
func ParseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("xpire-e2e", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	fs.StringVar(&f.ConfigFile, "config", "", "YAML config file (default e2e.yaml when present)")
	fs.StringVar(&f.Projects, "project", "", "Comma-separated browser projects to run (chromium,firefox,webkit)")
	fs.StringVar(&f.Grep, "grep", "", "Only run scenarios whose title matches this regular expression")
	fs.BoolVar(&f.List, "list", false, "List scenarios and exit")
	fs.IntVar(&f.Workers, "workers", 0, "Number of parallel workers")
	fs.IntVar(&f.Retries, "retries", 0, "Retries per failed scenario")
	fs.BoolVar(&f.Headed, "headed", false, "Run browsers with a visible window")
	fs.StringVar(&f.ReportDir, "report-dir", "", "Directory for the HTML report and artifacts")
	fs.StringVar(&f.BaseURL, "base-url", "", "Base URL of the served application")
	fs.StringVar(&f.BuildDir, "build-dir", "", "Build directory served by the built-in static server")
	fs.StringVar(&f.Renderer, "renderer", "", "Form control handling: auto, html or canvaskit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})
	return f, nil
}

// LoadConfig builds the effective configuration from defaults, the YAML file,
// environment variables and flags, then validates it.
func LoadConfig(flags *Flags) (*Config, error) {
	if flags == nil {
		flags = &Flags{set: map[string]bool{}}
	}
	cfg := Defaults(isCI(os.Getenv("CI")))

	path := flags.ConfigFile
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else {
		cfg.ConfigFile = path
	}

	cfg.applyEnv()
	cfg.applyFlags(flags)

	if cfg.WebServer.URL == "" {
		cfg.WebServer.URL = cfg.BaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays YAML values on top of cfg. Keys absent from the file keep
// their current value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.BaseURL = getEnvOrDefault("E2E_BASE_URL", c.BaseURL)
	c.Timeout = parseDurationOrDefault("E2E_TIMEOUT", c.Timeout)
	c.ExpectTimeout = parseDurationOrDefault("E2E_EXPECT_TIMEOUT", c.ExpectTimeout)
	c.Retries = parseIntOrDefault("E2E_RETRIES", c.Retries)
	c.Workers = parseIntOrDefault("E2E_WORKERS", c.Workers)
	c.Headless = parseBoolOrDefault("E2E_HEADLESS", c.Headless)
	if projects := os.Getenv("E2E_PROJECTS"); projects != "" {
		c.Projects = splitList(projects)
	}
	c.Grep = getEnvOrDefault("E2E_GREP", c.Grep)
	c.Renderer = Renderer(getEnvOrDefault("E2E_RENDERER", string(c.Renderer)))
	c.ReportDir = getEnvOrDefault("E2E_REPORT_DIR", c.ReportDir)

	c.WebServer.Root = getEnvOrDefault("E2E_BUILD_DIR", c.WebServer.Root)
	c.WebServer.Command = getEnvOrDefault("E2E_SERVER_COMMAND", c.WebServer.Command)
	c.WebServer.Port = parseIntOrDefault("E2E_PORT", c.WebServer.Port)

	c.ReportStore.Bucket = strings.TrimSpace(getEnvOrDefault("E2E_REPORT_BUCKET", c.ReportStore.Bucket))
	c.ReportStore.Prefix = getEnvOrDefault("E2E_REPORT_PREFIX", c.ReportStore.Prefix)
	c.ReportStore.PublicURL = getEnvOrDefault("E2E_REPORT_PUBLIC_URL", c.ReportStore.PublicURL)
	c.ReportStore.Endpoint = strings.TrimSpace(getEnvOrDefault("AWS_ENDPOINT_URL_S3", c.ReportStore.Endpoint))
	c.ReportStore.Region = getEnvOrDefault("AWS_REGION", c.ReportStore.Region)
	c.ReportStore.AccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	c.ReportStore.SecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))

	c.StepSummaryPath = os.Getenv("GITHUB_STEP_SUMMARY")
}

func (c *Config) applyFlags(f *Flags) {
	if f.IsSet("project") {
		c.Projects = splitList(f.Projects)
	}
	if f.IsSet("grep") {
		c.Grep = f.Grep
	}
	if f.IsSet("workers") {
		c.Workers = f.Workers
	}
	if f.IsSet("retries") {
		c.Retries = f.Retries
	}
	if f.IsSet("headed") {
		c.Headless = !f.Headed
	}
	if f.IsSet("report-dir") {
		c.ReportDir = f.ReportDir
	}
	if f.IsSet("base-url") {
		c.BaseURL = f.BaseURL
	}
	if f.IsSet("build-dir") {
		c.WebServer.Root = f.BuildDir
	}
	if f.IsSet("renderer") {
		c.Renderer = Renderer(f.Renderer)
	}
	c.List = f.List
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("base_url %q must be an absolute http(s) URL", c.BaseURL))
	}
	if c.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if c.ExpectTimeout <= 0 {
		errs = append(errs, "expect_timeout must be positive")
	}
	if c.ActionTimeout < 0 {
		errs = append(errs, "action_timeout must not be negative")
	}
	if c.Retries < 0 {
		errs = append(errs, "retries must not be negative")
	}
	if c.Workers < 1 {
		errs = append(errs, "workers must be at least 1")
	}

	if len(c.Projects) == 0 {
		errs = append(errs, "at least one project is required")
	}
	for _, p := range c.Projects {
		switch p {
		case projectChromium, projectFirefox, projectWebKit:
		default:
			errs = append(errs, fmt.Sprintf("unknown project %q (want chromium, firefox or webkit)", p))
		}
	}

	switch c.Renderer {
	case RendererAuto, RendererHTML, RendererCanvasKit:
	default:
		errs = append(errs, fmt.Sprintf("renderer %q must be auto, html or canvaskit", c.Renderer))
	}

	for name, p := range map[string]ArtifactPolicy{"trace": c.Trace, "screenshot": c.Screenshot, "video": c.Video} {
		if !p.Valid() {
			errs = append(errs, fmt.Sprintf("%s policy %q is not recognized", name, p))
		}
	}

	if c.WebServer.Command == "" && c.WebServer.Root == "" {
		errs = append(errs, "web_server.root or web_server.command is required")
	}
	if c.WebServer.Port < 1 || c.WebServer.Port > 65535 {
		errs = append(errs, "web_server.port must be between 1 and 65535")
	}
	if c.WebServer.Timeout <= 0 {
		errs = append(errs, "web_server.timeout must be positive")
	}

	if c.ReportStore.Enabled() && c.ReportStore.Region == "" {
		errs = append(errs, "report_store.region is required when a report bucket is set")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "xpire-e2e starting...")
	if c.ConfigFile != "" {
		fmt.Fprintf(w, "  Config:   %s\n", c.ConfigFile)
	}
	fmt.Fprintf(w, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Projects: %s\n", strings.Join(c.Projects, ", "))
	fmt.Fprintf(w, "  Workers:  %d (fully parallel: %t)\n", c.Workers, c.FullyParallel)
	fmt.Fprintf(w, "  Retries:  %d\n", c.Retries)
	fmt.Fprintf(w, "  Timeout:  %s\n", c.Timeout)
	fmt.Fprintf(w, "  Renderer: %s\n", c.Renderer)
	if c.WebServer.Command != "" {
		fmt.Fprintf(w, "  Server:   %q (reuse: %t)\n", c.WebServer.Command, c.WebServer.ReuseExistingServer)
	} else {
		fmt.Fprintf(w, "  Server:   built-in, root %s on :%d (reuse: %t)\n", c.WebServer.Root, c.WebServer.Port, c.WebServer.ReuseExistingServer)
	}
	if c.ReportStore.Enabled() {
		fmt.Fprintf(w, "  Publish:  s3://%s/%s\n", c.ReportStore.Bucket, c.ReportStore.Prefix)
	}
	if c.CI {
		fmt.Fprintln(w, "  Mode:     CI")
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

// isCI treats any non-empty CI value as CI, "false" and "0" included.
func isCI(value string) bool {
	return value != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
