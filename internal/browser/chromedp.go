package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromedpLauncher drives Chrome over the DevTools protocol. It does not
// expose embedded frames, so iframe-hosted forms are only found with the
// playwright driver.
type ChromedpLauncher struct {
	cfg Config
}

// NewChromedpLauncher creates a launcher with the given settings
func NewChromedpLauncher(cfg Config) *ChromedpLauncher {
	return &ChromedpLauncher{cfg: withDefaults(cfg)}
}

func (l *ChromedpLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", l.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(l.cfg.UserAgent),
			chromedp.WindowSize(l.cfg.ViewportWidth, l.cfg.ViewportHeight),
		)...,
	)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launching chrome: %w", err)
	}

	return &cdpSession{
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		cfg: l.cfg,
	}, nil
}

type cdpSession struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	cfg        Config
}

func (s *cdpSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight))); err != nil {
		cancel()
		return nil, fmt.Errorf("creating tab: %w", err)
	}
	return &cdpPage{tabCtx: tabCtx, cancel: cancel, cfg: s.cfg}, nil
}

func (s *cdpSession) Close() error {
	s.cancel()
	return nil
}

type cdpPage struct {
	tabCtx context.Context
	cancel context.CancelFunc
	cfg    Config
	url    string
}

func (p *cdpPage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *cdpPage) FrameContext() FrameContext { return FrameMain }

func (p *cdpPage) URL() string {
	var u string
	if err := p.run(context.Background(), p.cfg.ActionTimeout, chromedp.Location(&u)); err != nil {
		return p.url
	}
	return u
}

func (p *cdpPage) Evaluate(ctx context.Context, script Script, arg any) (any, error) {
	expr, err := invocation(script.Source, arg)
	if err != nil {
		return nil, err
	}
	var res any
	if err := p.run(ctx, p.cfg.ActionTimeout*2, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *cdpPage) Element(selector string) Element {
	return &cdpElement{page: p, selector: selector}
}

func (p *cdpPage) Navigate(ctx context.Context, url string, opts NavigateOptions) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrNavigationTimeout, err)
		}
		return nil, err
	}
	p.url = url
	if resp == nil {
		return &Response{Status: 200, URL: url}, nil
	}
	return &Response{Status: int(resp.Status), URL: resp.URL}, nil
}

func (p *cdpPage) Frames() []Scope { return nil }

func (p *cdpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, p.cfg.ActionTimeout*2, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, p.cfg.ActionTimeout*4, chromedp.FullScreenshot(&buf, 70))
	return buf, err
}

func (p *cdpPage) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (p *cdpPage) Close() error {
	p.cancel()
	return nil
}

type cdpElement struct {
	page     *cdpPage
	selector string
}

func (e *cdpElement) Selector() string { return e.selector }

// eval runs an element function `(el, arg) => ...` against the first match.
func (e *cdpElement) eval(ctx context.Context, fn string, arg any, out any) error {
	sel, err := json.Marshal(e.selector)
	if err != nil {
		return err
	}
	a, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(() => { const el = document.querySelector(%s); if (!el) throw new Error('element not found: ' + %s); return (%s)(el, %s); })()`, sel, sel, fn, a)
	var res any
	if err := e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Evaluate(expr, &res)); err != nil {
		return err
	}
	if out != nil {
		return Decode(res, out)
	}
	return nil
}

func (e *cdpElement) Exists(ctx context.Context) (bool, error) {
	sel, _ := json.Marshal(e.selector)
	var ok bool
	err := e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Evaluate(fmt.Sprintf(`!!document.querySelector(%s)`, sel), &ok))
	return ok, err
}

func (e *cdpElement) IsVisible(ctx context.Context) (bool, error) {
	exists, err := e.Exists(ctx)
	if err != nil || !exists {
		return false, err
	}
	var ok bool
	err = e.eval(ctx, `(el) => { const s = getComputedStyle(el); const r = el.getBoundingClientRect();
  return s.display !== 'none' && s.visibility !== 'hidden' && r.width > 0 && r.height > 0; }`, nil, &ok)
	return ok, err
}

func (e *cdpElement) IsDisabled(ctx context.Context) (bool, error) {
	var ok bool
	err := e.eval(ctx, `(el) => !!el.disabled || el.getAttribute('aria-disabled') === 'true'`, nil, &ok)
	return ok, err
}

func (e *cdpElement) IsChecked(ctx context.Context) (bool, error) {
	var ok bool
	err := e.eval(ctx, `(el) => !!el.checked || el.getAttribute('aria-checked') === 'true'`, nil, &ok)
	return ok, err
}

func (e *cdpElement) Value(ctx context.Context) (string, error) {
	var v string
	err := e.eval(ctx, `(el) => (el.value !== undefined ? String(el.value) : (el.textContent || ''))`, nil, &v)
	return v, err
}

func (e *cdpElement) Text(ctx context.Context) (string, error) {
	var v string
	err := e.eval(ctx, `(el) => el.textContent || ''`, nil, &v)
	return v, err
}

func (e *cdpElement) BoundingBox(ctx context.Context) (*Box, error) {
	var b Box
	err := e.eval(ctx, `(el) => { const r = el.getBoundingClientRect(); return {X: r.x, Y: r.y, Width: r.width, Height: r.height}; }`, nil, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (e *cdpElement) Click(ctx context.Context) error {
	return e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Click(e.selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (e *cdpElement) Focus(ctx context.Context) error {
	return e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Focus(e.selector, chromedp.ByQuery))
}

func (e *cdpElement) Clear(ctx context.Context) error {
	return e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.Clear(e.selector, chromedp.ByQuery))
}

func (e *cdpElement) Fill(ctx context.Context, value string) error {
	return e.page.run(ctx, e.page.cfg.ActionTimeout,
		chromedp.Clear(e.selector, chromedp.ByQuery),
		chromedp.SendKeys(e.selector, value, chromedp.ByQuery),
	)
}

func (e *cdpElement) Type(ctx context.Context, value string) error {
	timeout := e.page.cfg.ActionTimeout + time.Duration(len(value))*20*time.Millisecond
	return e.page.run(ctx, timeout, chromedp.SendKeys(e.selector, value, chromedp.ByQuery))
}

func (e *cdpElement) SelectOption(ctx context.Context, value string) error {
	var ok bool
	err := e.eval(ctx, `(el, v) => {
  const opt = Array.from(el.options || []).find(o => o.value === v || o.text.trim() === v);
  if (!opt) return false;
  el.value = opt.value;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`, value, &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not found in %s", value, e.selector)
	}
	return nil
}

func (e *cdpElement) SetChecked(ctx context.Context, checked bool) error {
	return e.eval(ctx, `(el, c) => {
  el.checked = c;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
}`, checked, nil)
}

func (e *cdpElement) ScrollIntoView(ctx context.Context) error {
	return e.page.run(ctx, e.page.cfg.ActionTimeout, chromedp.ScrollIntoView(e.selector, chromedp.ByQuery))
}

func (e *cdpElement) Dispatch(ctx context.Context, event string) error {
	return e.eval(ctx, `(el, t) => { el.dispatchEvent(new Event(t, { bubbles: true })); }`, event, nil)
}

func (e *cdpElement) SetValue(ctx context.Context, value string) error {
	return e.eval(ctx, setValueSource, value, nil)
}

// invocation renders `(source)(arg)` for Runtime.evaluate.
func invocation(source string, arg any) (string, error) {
	a, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encoding script argument: %w", err)
	}
	return fmt.Sprintf("(%s)(%s)", source, a), nil
}
