package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PlaywrightLauncher starts Chromium through playwright-go.
type PlaywrightLauncher struct {
	cfg Config
}

// NewPlaywrightLauncher creates a launcher with the given settings
func NewPlaywrightLauncher(cfg Config) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: withDefaults(cfg)}
}

// Launch starts the playwright driver and a Chromium instance.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("starting playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.cfg.Headless),
		Args:     []string{"--disable-dev-shm-usage", "--no-sandbox"},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	return &pwSession{pw: pw, browser: browser, cfg: l.cfg}, nil
}

type pwSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	cfg     Config
}

func (s *pwSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bctx, err := s.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  s.cfg.ViewportWidth,
			Height: s.cfg.ViewportHeight,
		},
		UserAgent: playwright.String(s.cfg.UserAgent),
	})
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("creating page: %w", err)
	}

	return &pwPage{page: page, bctx: bctx, cfg: s.cfg}, nil
}

// Close releases the browser and the driver process.
func (s *pwSession) Close() error {
	var errs []error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

type pwPage struct {
	page playwright.Page
	bctx playwright.BrowserContext
	cfg  Config
}

func (p *pwPage) FrameContext() FrameContext { return FrameMain }

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Evaluate(ctx context.Context, script Script, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Evaluate(script.Source, arg)
}

func (p *pwPage) Element(selector string) Element {
	return &pwElement{loc: p.page.Locator(selector).First(), selector: selector, timeout: p.cfg.ActionTimeout}
}

func (p *pwPage) Navigate(ctx context.Context, url string, opts NavigateOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout == 0 {
			timeout = remaining
		}
	}

	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(opts.WaitUntil),
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if isPlaywrightTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
		}
		return nil, err
	}
	if resp == nil {
		// Same-document navigations report no response.
		return &Response{Status: 200, URL: p.page.URL()}, nil
	}
	return &Response{Status: resp.Status(), URL: resp.URL()}, nil
}

func (p *pwPage) Frames() []Scope {
	main := p.page.MainFrame()
	var scopes []Scope
	for _, f := range p.page.Frames() {
		if f == main {
			continue
		}
		u := f.URL()
		if u == "" || u == "about:blank" || strings.HasPrefix(u, "javascript:") {
			continue
		}
		scopes = append(scopes, &pwFrame{frame: f, timeout: p.cfg.ActionTimeout})
	}
	return scopes
}

func (p *pwPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *pwPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypeJpeg,
		Quality:  playwright.Int(70),
	})
}

func (p *pwPage) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (p *pwPage) Close() error {
	var errs []error
	if err := p.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing page: %w", err))
	}
	if err := p.bctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing browser context: %w", err))
	}
	return errors.Join(errs...)
}

type pwFrame struct {
	frame   playwright.Frame
	timeout time.Duration
}

func (f *pwFrame) FrameContext() FrameContext { return FrameIframe }

func (f *pwFrame) URL() string { return f.frame.URL() }

func (f *pwFrame) Evaluate(ctx context.Context, script Script, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.frame.Evaluate(script.Source, arg)
}

func (f *pwFrame) Element(selector string) Element {
	return &pwElement{loc: f.frame.Locator(selector).First(), selector: selector, timeout: f.timeout}
}

type pwElement struct {
	loc      playwright.Locator
	selector string
	timeout  time.Duration
}

func (e *pwElement) ms() *float64 {
	return playwright.Float(float64(e.timeout.Milliseconds()))
}

func (e *pwElement) Selector() string { return e.selector }

func (e *pwElement) Exists(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n, err := e.loc.Count()
	return n > 0, err
}

func (e *pwElement) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.loc.IsVisible()
}

func (e *pwElement) IsDisabled(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.loc.IsDisabled(playwright.LocatorIsDisabledOptions{Timeout: e.ms()})
}

func (e *pwElement) IsChecked(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.loc.IsChecked(playwright.LocatorIsCheckedOptions{Timeout: e.ms()})
}

func (e *pwElement) Value(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.loc.InputValue(playwright.LocatorInputValueOptions{Timeout: e.ms()})
}

func (e *pwElement) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.loc.TextContent(playwright.LocatorTextContentOptions{Timeout: e.ms()})
}

func (e *pwElement) BoundingBox(ctx context.Context) (*Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rect, err := e.loc.BoundingBox(playwright.LocatorBoundingBoxOptions{Timeout: e.ms()})
	if err != nil || rect == nil {
		return nil, err
	}
	return &Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

func (e *pwElement) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.Click(playwright.LocatorClickOptions{Timeout: e.ms()})
}

func (e *pwElement) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.Focus(playwright.LocatorFocusOptions{Timeout: e.ms()})
}

func (e *pwElement) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.Clear(playwright.LocatorClearOptions{Timeout: e.ms()})
}

func (e *pwElement) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.Fill(value, playwright.LocatorFillOptions{Timeout: e.ms()})
}

func (e *pwElement) Type(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.PressSequentially(value, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(20),
		Timeout: e.ms(),
	})
}

func (e *pwElement) SelectOption(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: e.ms()})
	if err == nil {
		return nil
	}
	// The value may be the option label rather than its value attribute.
	_, lerr := e.loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{value}},
		playwright.LocatorSelectOptionOptions{Timeout: e.ms()})
	if lerr != nil {
		return err
	}
	return nil
}

func (e *pwElement) SetChecked(ctx context.Context, checked bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.SetChecked(checked, playwright.LocatorSetCheckedOptions{
		Force:   playwright.Bool(true),
		Timeout: e.ms(),
	})
}

func (e *pwElement) ScrollIntoView(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: e.ms()})
}

func (e *pwElement) Dispatch(ctx context.Context, event string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.loc.DispatchEvent(event, nil, playwright.LocatorDispatchEventOptions{Timeout: e.ms()})
}

func (e *pwElement) SetValue(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.loc.Evaluate(setValueSource, value, playwright.LocatorEvaluateOptions{Timeout: e.ms()})
	return err
}

// setValueSource uses the native setter so framework-controlled inputs see
// the change.
const setValueSource = `(el, v) => {
  const proto = el.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype
    : el.tagName === 'SELECT' ? HTMLSelectElement.prototype : HTMLInputElement.prototype;
  const desc = Object.getOwnPropertyDescriptor(proto, 'value');
  if (desc && desc.set) { desc.set.call(el, v); } else { el.value = v; }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
}`

func waitUntilState(w WaitUntil) *playwright.WaitUntilState {
	switch w {
	case WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	default:
		return playwright.WaitUntilStateNetworkidle
	}
}

func isPlaywrightTimeout(err error) bool {
	return errors.Is(err, playwright.ErrTimeout) || strings.Contains(err.Error(), "Timeout")
}

func withDefaults(cfg Config) Config {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1920
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 1080
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return cfg
}
