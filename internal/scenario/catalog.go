package scenario

import (
	"regexp"
	"time"
)

const (
	shellReadyTimeout    = 45 * time.Second
	extendedReadyTimeout = 60 * time.Second
	messageTimeout       = 10 * time.Second
	submitRedirectWait   = 20 * time.Second
)

const (
	SuiteApp          = "Xpire Web App"
	SuiteShell        = "Web shell navigation"
	SuiteRouting      = "SPA routing"
	SuiteWideSidebar  = "Sidebar navigation (web wide)"
	SuiteRegistration = "Registration"
	SuiteJourney      = "User journey"
)

var (
	// Entry URL may land on the root, or the router may redirect to an auth
	// screen or the dashboard.
	rootURL     = MatchURL(`/(login|dashboard|register)?$`)
	registerURL = MatchURL(`/(register|login|dashboard)?$`)
	challenges  = MatchURL(`/challenges`)

	emailTextbox = AnyOf("email")
	submitButton = AnyOf("create account", "hesap oluştur")

	wideViewport = Viewport{Width: 1200, Height: 800}
)

var routes = []string{"/", "/login", "/register", "/dashboard", "/challenges", "/stats", "/profile"}

// Routes returns every top-level route that must be deep-linkable.
func Routes() []string {
	return append([]string(nil), routes...)
}

// EmailTextbox is the accessible name used to detect the registration form.
func EmailTextbox() TextPattern {
	return emailTextbox
}

// Catalog returns the full scenario list in declaration order.
func Catalog() []Scenario {
	var all []Scenario
	all = append(all, appScenarios()...)
	all = append(all, shellScenarios()...)
	all = append(all, routingScenarios()...)
	all = append(all, wideSidebarScenarios()...)
	all = append(all, registrationScenarios()...)
	all = append(all, journeyScenarios()...)
	return all
}

func appScenarios() []Scenario {
	// Every scenario in this suite opens the root first.
	preload := []string{"/"}
	return []Scenario{
		{
			ID: "app/root", Suite: SuiteApp, Title: "loads and reaches app or login URL",
			Kind: KindNavigation, StartPath: "/", ExpectURL: rootURL, ReadyTimeout: shellReadyTimeout,
		},
		{
			ID: "app/login", Suite: SuiteApp, Title: "login page loads",
			Kind: KindNavigation, Preload: preload, StartPath: "/login", ExpectURL: ExactURL("/login"),
			ReadyTimeout: shellReadyTimeout,
		},
		{
			ID: "app/register", Suite: SuiteApp, Title: "register page loads",
			Kind: KindNavigation, Preload: preload, StartPath: "/register", ExpectURL: ExactURL("/register"),
			ReadyTimeout: shellReadyTimeout,
		},
	}
}

func shellScenarios() []Scenario {
	nav := func(id, title, path string, want URLPattern) Scenario {
		return Scenario{
			ID: id, Suite: SuiteShell, Title: title,
			Kind: KindNavigation, StartPath: path, ExpectURL: want, ReadyTimeout: shellReadyTimeout,
		}
	}
	return []Scenario{
		nav("shell/dashboard", "dashboard route loads", "/dashboard", ExactURL("/dashboard")),
		nav("shell/challenges", "challenges route loads", "/challenges", challenges),
		nav("shell/stats", "stats route loads", "/stats", ExactURL("/stats")),
		nav("shell/profile", "profile route loads", "/profile", ExactURL("/profile")),
		nav("shell/challenges-direct", "direct navigation to /challenges shows challenges URL", "/challenges", challenges),
	}
}

func routingScenarios() []Scenario {
	return []Scenario{
		{
			ID: "routing/challenges-reload", Suite: SuiteRouting,
			Title: "refresh on /challenges serves app and keeps path",
			Kind:  KindReload, StartPath: "/challenges", ExpectURL: challenges, ReadyTimeout: shellReadyTimeout,
		},
	}
}

func shellHops() []Visit {
	return []Visit{
		{Path: "/challenges", ExpectURL: challenges},
		{Path: "/stats", ExpectURL: ExactURL("/stats")},
		{Path: "/profile", ExpectURL: ExactURL("/profile")},
		{Path: "/dashboard", ExpectURL: ExactURL("/dashboard")},
	}
}

func wideSidebarScenarios() []Scenario {
	vp := wideViewport
	return []Scenario{
		{
			ID: "sidebar/wide", Suite: SuiteWideSidebar, Title: "navigates between shell routes by URL",
			Kind: KindJourney, Viewport: &vp, StartPath: "/dashboard", ExpectURL: ExactURL("/dashboard"),
			ReadyTimeout: shellReadyTimeout, Visits: shellHops(),
		},
	}
}

func registrationScenarios() []Scenario {
	base := func(id, title string) Scenario {
		return Scenario{
			ID: id, Suite: SuiteRegistration, Title: title,
			StartPath: "/register", ExpectURL: registerURL,
			ReadyBeforeURL: true, ReadyTimeout: extendedReadyTimeout,
		}
	}
	fill := func(nth int, value string) Interaction {
		return Interaction{Action: ActionFill, Nth: nth, Value: value}
	}
	submit := Interaction{Action: ActionClick, Name: submitButton}
	message := func(p TextPattern) *Outcome {
		return &Outcome{Text: &p, Timeout: messageTimeout}
	}

	loads := base("register/loads", "register page loads and becomes ready")
	loads.Kind = KindNavigation

	marks := base("register/renderer-marker", "register page marks the renderer on body")
	marks.Kind = KindNavigation
	marks.BodyAttribute = &AttributeExpectation{Name: "flt-renderer", Pattern: regexp.MustCompile(`.+`)}

	empty := base("register/empty-submit", "empty form shows validation errors")
	empty.Kind = KindForm
	empty.Interactions = []Interaction{submit}
	empty.Outcome = message(AnyOf(
		"enter your email", "enter a valid email", "at least 6", "en az 6",
		"passwords do not match", "şifreler eşleşmiyor",
	))

	invalid := base("register/invalid-email", "invalid email shows an error")
	invalid.Kind = KindForm
	invalid.Interactions = []Interaction{fill(0, "invalid"), fill(1, "123456"), fill(2, "123456"), submit}
	invalid.Outcome = message(AnyOf("enter a valid email", "geçerli bir e-posta"))

	mismatch := base("register/password-mismatch", "mismatched passwords show an error")
	mismatch.Kind = KindForm
	mismatch.Interactions = []Interaction{fill(0, "test@example.com"), fill(1, "123456"), fill(2, "different"), submit}
	mismatch.Outcome = message(AnyOf("passwords do not match", "şifreler eşleşmiyor", "do not match"))

	valid := base("register/valid-submit", "valid form submits (redirect or error)")
	valid.Kind = KindForm
	valid.Interactions = []Interaction{
		{Action: ActionFill, Nth: 0, Generate: UniqueEmail},
		fill(1, "Test123456"),
		fill(2, "Test123456"),
		submit,
	}
	valid.Outcome = &Outcome{
		Redirect: MatchURL(`/dashboard$`),
		URL:      MatchURL(`/(dashboard|register)$`),
		Timeout:  submitRedirectWait,
	}

	return []Scenario{loads, marks, empty, invalid, mismatch, valid}
}

func journeyScenarios() []Scenario {
	step := func(id, title, path string, want URLPattern) Scenario {
		return Scenario{
			ID: id, Suite: SuiteJourney, Title: title,
			Kind: KindNavigation, StartPath: path, ExpectURL: want,
			ReadyBeforeURL: true, ReadyTimeout: extendedReadyTimeout,
		}
	}
	reload := step("journey/08-reload", "8. reloading a page does not 404", "/challenges", challenges)
	reload.Kind = KindReload

	vp := wideViewport
	wide := step("journey/09-wide-sidebar", "9. wide screen sidebar navigation by URL", "/dashboard", ExactURL("/dashboard"))
	wide.Kind = KindJourney
	wide.Viewport = &vp
	wide.Visits = shellHops()

	return []Scenario{
		step("journey/01-open", "1. app opens and the first page loads", "/", rootURL),
		step("journey/02-login", "2. go to the login page", "/login", ExactURL("/login")),
		step("journey/03-register", "3. go to the registration page", "/register", registerURL),
		step("journey/04-dashboard", "4. dashboard opens", "/dashboard", ExactURL("/dashboard")),
		step("journey/05-challenges", "5. challenges page opens", "/challenges", challenges),
		step("journey/06-stats", "6. stats page opens", "/stats", ExactURL("/stats")),
		step("journey/07-profile", "7. profile page opens", "/profile", ExactURL("/profile")),
		reload,
		wide,
	}
}
