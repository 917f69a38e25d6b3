package browser

import (
	"context"
	"regexp"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/xpire-e2e/internal/driver"
)

var _ driver.Page = (*Page)(nil)

// Page wraps one playwright page inside its own context.
type Page struct {
	bctx    playwright.BrowserContext
	page    playwright.Page
	opts    PageOptions
	tracing bool
}

// budget converts a step timeout into engine milliseconds, clamped to the
// context deadline. A nil result means the context default applies.
func budget(ctx context.Context, timeout time.Duration) (*float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, nil
	}
	return playwright.Float(float64(timeout.Milliseconds())), nil
}

func status(resp playwright.Response) int {
	if resp == nil {
		return 0
	}
	return resp.Status()
}

func (p *Page) WaitForDOMContentLoaded(ctx context.Context, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: ms,
	})
}

func (p *Page) WaitForPredicate(ctx context.Context, expression string, timeout, interval time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	opts := playwright.PageWaitForFunctionOptions{Timeout: ms}
	if interval > 0 {
		opts.Polling = float64(interval.Milliseconds())
	}
	_, err = p.page.WaitForFunction(expression, nil, opts)
	return err
}

func (p *Page) Goto(ctx context.Context, url string, timeout time.Duration) (int, error) {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return 0, err
	}
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms,
	})
	if err != nil {
		return 0, err
	}
	return status(resp), nil
}

func (p *Page) Reload(ctx context.Context, timeout time.Duration) (int, error) {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return 0, err
	}
	resp, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms,
	})
	if err != nil {
		return 0, err
	}
	return status(resp), nil
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) WaitForURL(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	// Commit resolves immediately when the URL already matches, which keeps
	// this usable as an assertion as well as a wait.
	return p.page.WaitForURL(func(u string) bool { return re.MatchString(u) }, playwright.PageWaitForURLOptions{
		Timeout:   ms,
		WaitUntil: playwright.WaitUntilStateCommit,
	})
}

func (p *Page) SetViewport(ctx context.Context, width, height int) error {
	return p.page.SetViewportSize(width, height)
}

func (p *Page) TextboxVisible(ctx context.Context, name *regexp.Regexp) (bool, error) {
	loc := p.page.GetByRole(*playwright.AriaRoleTextbox, playwright.PageGetByRoleOptions{Name: name}).First()
	visible, err := loc.IsVisible()
	if err != nil {
		return false, err
	}
	return visible, nil
}

func (p *Page) FillTextbox(ctx context.Context, nth int, value string, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	return p.page.GetByRole(*playwright.AriaRoleTextbox).Nth(nth).Fill(value, playwright.LocatorFillOptions{Timeout: ms})
}

func (p *Page) ClickButton(ctx context.Context, name *regexp.Regexp, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	btn := p.page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{Name: name}).First()
	return btn.Click(playwright.LocatorClickOptions{Timeout: ms})
}

func (p *Page) WaitForText(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	// Several messages may show at once; any one of them satisfies the wait.
	return p.page.GetByText(re).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: ms,
	})
}

func (p *Page) WaitForBodyAttribute(ctx context.Context, name string, re *regexp.Regexp, timeout time.Duration) error {
	ms, err := budget(ctx, timeout)
	if err != nil {
		return err
	}
	opts := playwright.LocatorAssertionsToHaveAttributeOptions{}
	if ms != nil {
		opts.Timeout = ms
	}
	return playwright.NewPlaywrightAssertions().Locator(p.page.Locator("body")).ToHaveAttribute(name, re, opts)
}
