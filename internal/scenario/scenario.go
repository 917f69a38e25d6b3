// Package scenario declares the navigation and form scenarios the suite drives.
//
// Scenarios are immutable values built once by Catalog. The driver consumes
// them; nothing here touches a browser.
package scenario

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kuitang/xpire-e2e/internal/urlutil"
)

// Kind classifies how the driver walks a scenario.
type Kind string

const (
	// KindNavigation loads a path, asserts the URL and waits for readiness.
	KindNavigation Kind = "navigation"
	// KindReload additionally reloads the page and re-asserts.
	KindReload Kind = "reload"
	// KindJourney visits several routes in one page.
	KindJourney Kind = "journey"
	// KindForm interacts with DOM form controls and asserts an outcome.
	KindForm Kind = "form"
)

// URLPattern matches the page URL either exactly or by regular expression.
// An exact pattern holds a path resolved against the base URL at match time,
// the same way a relative expectation is resolved by the browser.
type URLPattern struct {
	exact string
	re    *regexp.Regexp
}

// ExactURL matches the absolute form of path and nothing else.
func ExactURL(path string) URLPattern {
	return URLPattern{exact: path}
}

// MatchURL matches any URL the expression finds a match in.
func MatchURL(expr string) URLPattern {
	return URLPattern{re: regexp.MustCompile(expr)}
}

// IsZero reports whether the pattern was never set.
func (p URLPattern) IsZero() bool {
	return p.exact == "" && p.re == nil
}

// Match reports whether actual satisfies the pattern given the base URL.
func (p URLPattern) Match(actual, base string) bool {
	if p.re != nil {
		return p.re.MatchString(actual)
	}
	if p.exact == "" {
		return false
	}
	return actual == urlutil.BuildAbsolute(base, p.exact)
}

// Regexp returns an equivalent expression. Exact patterns are anchored.
func (p URLPattern) Regexp(base string) *regexp.Regexp {
	if p.re != nil {
		return p.re
	}
	return regexp.MustCompile("^" + regexp.QuoteMeta(urlutil.BuildAbsolute(base, p.exact)) + "$")
}

func (p URLPattern) String() string {
	if p.re != nil {
		return "/" + p.re.String() + "/"
	}
	return p.exact
}

// TextPattern matches visible text against any of several alternatives,
// ignoring case.
type TextPattern struct {
	alternatives []string
	re           *regexp.Regexp
}

// AnyOf builds a case-insensitive pattern from literal alternatives.
func AnyOf(alternatives ...string) TextPattern {
	quoted := make([]string, len(alternatives))
	for i, a := range alternatives {
		quoted[i] = regexp.QuoteMeta(a)
	}
	return TextPattern{
		alternatives: append([]string(nil), alternatives...),
		re:           regexp.MustCompile("(?i)" + strings.Join(quoted, "|")),
	}
}

// Regexp returns the compiled pattern.
func (p TextPattern) Regexp() *regexp.Regexp {
	return p.re
}

// MatchString reports whether s contains one of the alternatives.
func (p TextPattern) MatchString(s string) bool {
	return p.re != nil && p.re.MatchString(s)
}

// Alternatives returns a copy of the literal alternatives.
func (p TextPattern) Alternatives() []string {
	return append([]string(nil), p.alternatives...)
}

func (p TextPattern) String() string {
	return strings.Join(p.alternatives, " | ")
}

// Action is a UI interaction verb.
type Action string

const (
	ActionFill  Action = "fill"
	ActionClick Action = "click"
)

// Interaction is one form step. Fill targets the Nth textbox on the page;
// Click targets the first button whose accessible name matches Name.
type Interaction struct {
	Action Action
	Nth    int
	Value  string
	// Generate, when set, produces the fill value at run time.
	Generate func(now time.Time) string
	Name     TextPattern
}

// ValueAt returns the value to type for this step.
func (i Interaction) ValueAt(now time.Time) string {
	if i.Generate != nil {
		return i.Generate(now)
	}
	return i.Value
}

func (i Interaction) String() string {
	switch i.Action {
	case ActionFill:
		if i.Generate != nil {
			return fmt.Sprintf("fill textbox %d with a generated value", i.Nth)
		}
		return fmt.Sprintf("fill textbox %d with %q", i.Nth, i.Value)
	case ActionClick:
		return fmt.Sprintf("click button %q", i.Name.String())
	}
	return string(i.Action)
}

// Outcome is what must become observable after the interactions.
// Exactly one of Text or URL is expected to be set.
type Outcome struct {
	Text *TextPattern
	// URL is where the page must be once the outcome settles.
	URL URLPattern
	// Redirect, when set, is waited for before URL is checked. Not arriving
	// within Timeout is fine as long as the page still satisfies URL.
	Redirect URLPattern
	Timeout  time.Duration
}

// Visit is one hop of a journey.
type Visit struct {
	Path      string
	ExpectURL URLPattern
}

// Viewport overrides the page size.
type Viewport struct {
	Width  int
	Height int
}

// AttributeExpectation asserts an attribute on <body> matches a pattern.
type AttributeExpectation struct {
	Name    string
	Pattern *regexp.Regexp
}

// Scenario is one independent navigation, interaction and assertion unit.
type Scenario struct {
	ID    string
	Suite string
	Title string
	Kind  Kind
	// Only focuses the run on flagged scenarios. Forbidden under CI.
	Only bool

	// Preload paths are visited in order before StartPath, without assertions.
	Preload   []string
	StartPath string
	ExpectURL URLPattern
	// ReadyBeforeURL waits for readiness before asserting ExpectURL.
	ReadyBeforeURL bool
	ReadyTimeout   time.Duration
	Viewport       *Viewport

	Visits        []Visit
	BodyAttribute *AttributeExpectation

	Interactions []Interaction
	Outcome      *Outcome
}

// FullTitle joins suite and title the way reports and -grep see them.
func (s Scenario) FullTitle() string {
	if s.Suite == "" {
		return s.Title
	}
	return s.Suite + " > " + s.Title
}

// NeedsForm reports whether the scenario relies on DOM form controls.
func (s Scenario) NeedsForm() bool {
	return s.Kind == KindForm
}

// Validate checks the catalog invariants for a single scenario.
func (s Scenario) Validate() error {
	var problems []string
	if s.ID == "" {
		problems = append(problems, "missing id")
	}
	if s.Title == "" {
		problems = append(problems, "missing title")
	}
	if !strings.HasPrefix(s.StartPath, "/") {
		problems = append(problems, fmt.Sprintf("start path %q must begin with /", s.StartPath))
	}
	if s.ExpectURL.IsZero() {
		problems = append(problems, "missing expected URL")
	}
	switch s.Kind {
	case KindNavigation, KindReload:
	case KindJourney:
		if len(s.Visits) == 0 {
			problems = append(problems, "journey without visits")
		}
	case KindForm:
		if s.Outcome == nil {
			problems = append(problems, "form scenario without outcome")
		} else if s.Outcome.Text == nil && s.Outcome.URL.IsZero() {
			problems = append(problems, "outcome needs text or URL")
		} else if s.Outcome.URL.IsZero() && !s.Outcome.Redirect.IsZero() {
			problems = append(problems, "outcome redirect without a settled URL")
		}
		if len(s.Interactions) == 0 {
			problems = append(problems, "form scenario without interactions")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown kind %q", s.Kind))
	}
	for i, v := range s.Visits {
		if v.ExpectURL.IsZero() {
			problems = append(problems, fmt.Sprintf("visit %d missing expected URL", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("scenario %s: %s", s.ID, strings.Join(problems, "; "))
	}
	return nil
}

// Filter keeps scenarios whose full title matches grep. A nil grep keeps all.
func Filter(scenarios []Scenario, grep *regexp.Regexp) []Scenario {
	if grep == nil {
		return scenarios
	}
	var out []Scenario
	for _, s := range scenarios {
		if grep.MatchString(s.FullTitle()) {
			out = append(out, s)
		}
	}
	return out
}

// Focused returns the scenarios flagged Only.
func Focused(scenarios []Scenario) []Scenario {
	var out []Scenario
	for _, s := range scenarios {
		if s.Only {
			out = append(out, s)
		}
	}
	return out
}

// UniqueEmail returns a timestamp-based address that does not collide across
// scenarios or runs.
func UniqueEmail(now time.Time) string {
	return fmt.Sprintf("e2e-%d@example.com", now.UnixMilli())
}
