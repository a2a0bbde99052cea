// Package submission runs one target URL through the pipeline: navigate,
// clear popups, detect, check for a captcha, fill, submit and verify.
package submission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/captcha"
	"github.com/contactpilot/contactpilot/internal/domain"
	"github.com/contactpilot/contactpilot/internal/filler"
	"github.com/contactpilot/contactpilot/internal/form"
	"github.com/contactpilot/contactpilot/internal/mapper"
	"github.com/contactpilot/contactpilot/internal/popup"
)

// State is a step of the per-submission state machine.
type State string

const (
	StateNavigating      State = "navigating"
	StatePopupClearing   State = "popup_clearing"
	StateDetecting       State = "detecting"
	StateCaptchaChecking State = "captcha_checking"
	StateFilling         State = "filling"
	StateSubmitting      State = "submitting"
	StateVerifying       State = "verifying"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Transition records entry into a state.
type Transition struct {
	State State
	At    time.Time
}

// Target is one URL to contact.
type Target struct {
	SubmissionID uuid.UUID
	URL          string
	Profile      map[string]string
	Credentials  captcha.Credentials
}

// Outcome is everything learned while running a target.
type Outcome struct {
	State       State
	Transitions []Transition
	Err         *domain.PipelineError
	FormFound   bool
	HasCaptcha  bool
	Form        *form.Analysis
	Popups      popup.Report
	Fill        *filler.Result
	SubmitVia   string
	Signals     []string
	SubmittedAt *time.Time
}

// Succeeded reports whether the target reached Done.
func (o *Outcome) Succeeded() bool {
	return o.State == StateDone
}

// Result converts the outcome into the persisted submission result.
func (o *Outcome) Result(processedAt time.Time) domain.SubmissionResult {
	if o.Succeeded() {
		res := domain.CompletedResult(o.HasCaptcha, processedAt)
		if o.SubmittedAt != nil {
			res.SubmittedAt = o.SubmittedAt
		}
		return res
	}
	var err error
	if o.Err != nil {
		err = o.Err
	}
	return domain.FailedResult(err, o.FormFound, o.HasCaptcha, processedAt)
}

// PopupClearer clears overlays.
type PopupClearer interface {
	Clear(ctx context.Context, page browser.Page) popup.Report
}

// FormDetector ranks candidate forms.
type FormDetector interface {
	Detect(ctx context.Context, page browser.Page) ([]form.Analysis, error)
}

// CaptchaResolver checks a form for challenges.
type CaptchaResolver interface {
	Resolve(ctx context.Context, scope browser.Scope, formSelector string, creds captcha.Credentials) (captcha.Result, error)
}

// FormFiller fills a form.
type FormFiller interface {
	Fill(ctx context.Context, req filler.Request) (*filler.Result, error)
}

// Options bound the waits of a run.
type Options struct {
	NavigationTimeout time.Duration
	// Settle is waited after navigation so late scripts render popups.
	Settle time.Duration
	// VerifyWait is waited before each verification poll.
	VerifyWait  time.Duration
	VerifyPolls int
}

// DefaultOptions returns the standard waits.
func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 30 * time.Second,
		Settle:            time.Second,
		VerifyWait:        2 * time.Second,
		VerifyPolls:       2,
	}
}

// Runner executes the state machine for one target at a time.
type Runner struct {
	popups   PopupClearer
	detector FormDetector
	captcha  CaptchaResolver
	filler   FormFiller
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner wires a runner
func NewRunner(popups PopupClearer, detector FormDetector, resolver CaptchaResolver, f FormFiller, opts Options, logger *zap.Logger) *Runner {
	def := DefaultOptions()
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = def.NavigationTimeout
	}
	if opts.VerifyPolls <= 0 {
		opts.VerifyPolls = def.VerifyPolls
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		popups:   popups,
		detector: detector,
		captcha:  resolver,
		filler:   f,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// run carries the state of one Run call.
type run struct {
	*Runner
	page   browser.Page
	target Target
	out    *Outcome
	log    *zap.Logger
}

func (r *run) enter(s State) {
	r.out.State = s
	r.out.Transitions = append(r.out.Transitions, Transition{State: s, At: r.now()})
	r.log.Debug("submission state", zap.String("state", string(s)))
}

func (r *run) fail(err error) {
	r.out.Err = domain.AsPipelineError(err)
	r.enter(StateFailed)
}

// Run drives target through the state machine on page. It never returns an
// error: failures end in StateFailed with a classified Err.
func (r *Runner) Run(ctx context.Context, page browser.Page, target Target) (out Outcome) {
	rn := &run{
		Runner: r,
		page:   page,
		target: target,
		out:    &out,
		log: r.logger.With(
			zap.String("submission_id", target.SubmissionID.String()),
			zap.String("url", target.URL),
		),
	}
	defer func() {
		if p := recover(); p != nil {
			rn.fail(domain.UnexpectedError(fmt.Errorf("panic: %v", p)))
		}
	}()

	if err := rn.execute(ctx); err != nil {
		rn.fail(err)
		rn.log.Info("submission failed",
			zap.String("code", out.Err.Code),
			zap.Bool("permanent", out.Err.Permanent),
			zap.String("error", out.Err.Error()),
		)
		return out
	}
	rn.enter(StateDone)
	rn.log.Info("submission completed",
		zap.String("submit_via", out.SubmitVia),
		zap.Strings("signals", out.Signals),
	)
	return out
}

func (r *run) execute(ctx context.Context) error {
	r.enter(StateNavigating)
	target, err := NormalizeURL(r.target.URL)
	if err != nil {
		return err
	}
	if err := r.navigate(ctx, target); err != nil {
		return err
	}
	if r.opts.Settle > 0 {
		_ = r.page.Wait(ctx, r.opts.Settle)
	}

	r.enter(StatePopupClearing)
	r.out.Popups = r.popups.Clear(ctx, r.page)

	r.enter(StateDetecting)
	analyses, err := r.detector.Detect(ctx, r.page)
	if err != nil {
		return domain.UnexpectedError(fmt.Errorf("detecting forms: %w", err))
	}
	best, ok := form.Best(analyses)
	if !ok {
		return domain.NoFormFoundError()
	}
	r.out.FormFound = true
	r.out.Form = best
	r.log.Debug("form selected",
		zap.Int("score", best.Score),
		zap.String("frame", string(best.FrameContext)),
		zap.String("selector", best.Selector),
	)

	r.enter(StateCaptchaChecking)
	cres, err := r.captcha.Resolve(ctx, best.Scope, best.Selector, r.target.Credentials)
	r.out.HasCaptcha = cres.Present
	if err != nil {
		return err
	}

	r.enter(StateFilling)
	fres, err := r.filler.Fill(ctx, filler.Request{
		Page:    r.page,
		Form:    best,
		Profile: r.target.Profile,
		Domain:  mapper.Domain(target),
	})
	if err != nil {
		return err
	}
	r.out.Fill = fres
	if !fres.Success {
		return domain.FieldFillError(fmt.Sprintf("fill not viable: %d filled, %d failed, %d skipped",
			fres.Filled, len(fres.Errors), len(fres.Skipped)))
	}

	r.enter(StateSubmitting)
	before := r.text(ctx, best.Scope)
	via, err := r.submit(ctx, best)
	if err != nil {
		return err
	}
	at := r.now()
	r.out.SubmitVia = via
	r.out.SubmittedAt = &at

	r.enter(StateVerifying)
	return r.verify(ctx, best, before)
}

// navigate waits for network idle and falls back to DOM readiness when that
// times out.
func (r *run) navigate(ctx context.Context, target string) error {
	resp, err := r.page.Navigate(ctx, target, browser.NavigateOptions{Timeout: r.opts.NavigationTimeout, WaitUntil: browser.WaitNetworkIdle})
	if errors.Is(err, browser.ErrNavigationTimeout) {
		r.log.Debug("network idle timed out, retrying with domcontentloaded")
		resp, err = r.page.Navigate(ctx, target, browser.NavigateOptions{Timeout: r.opts.NavigationTimeout, WaitUntil: browser.WaitDOMContentLoaded})
	}
	if err != nil {
		return domain.NavigationError(fmt.Sprintf("navigating to %s", target), err)
	}
	if resp != nil && resp.Status >= 400 {
		return domain.NavigationError(fmt.Sprintf("HTTP %d %s", resp.Status, statusText(resp.Status)), nil)
	}
	return nil
}

func statusText(code int) string {
	switch code {
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 410:
		return "Gone"
	case 429:
		return "Too Many Requests"
	}
	if code >= 500 {
		return "Server Error"
	}
	return ""
}

// submit activates the form's submit affordance, falling back to a
// programmatic submit.
func (r *run) submit(ctx context.Context, a *form.Analysis) (string, error) {
	var found struct {
		Selector string `json:"selector"`
		Method   string `json:"method"`
	}
	if err := browser.EvaluateInto(ctx, a.Scope, findSubmitScript, a.Selector, &found); err != nil {
		r.log.Debug("submit lookup failed", zap.Error(err))
	}
	if found.Selector != "" {
		el := a.Scope.Element(found.Selector)
		_ = el.ScrollIntoView(ctx)
		err := el.Click(ctx)
		if err == nil {
			return found.Method, nil
		}
		r.log.Debug("submit click failed", zap.String("selector", found.Selector), zap.Error(err))
	}

	var ok bool
	if err := browser.EvaluateInto(ctx, a.Scope, requestSubmitScript, a.Selector, &ok); err != nil || !ok {
		if err == nil {
			err = errors.New("form not found")
		}
		return "", domain.UnverifiedError(fmt.Sprintf("no submit affordance: %v", err))
	}
	return "request-submit", nil
}

// verify polls for a success signal: a success keyword that appeared after
// submit, or the form leaving the page.
func (r *run) verify(ctx context.Context, a *form.Analysis, before string) error {
	for poll := 0; poll < r.opts.VerifyPolls; poll++ {
		if r.opts.VerifyWait > 0 {
			if err := r.page.Wait(ctx, r.opts.VerifyWait); err != nil {
				return domain.UnexpectedError(err)
			}
		}
		after := r.text(ctx, a.Scope)
		if a.Scope != browser.Scope(r.page) {
			after += " " + r.text(ctx, r.page)
		}
		if kws := NewSuccessKeywords(before, after); len(kws) > 0 {
			r.out.Signals = kws
			return nil
		}
		if gone(ctx, a) {
			r.out.Signals = []string{"form removed"}
			return nil
		}
	}
	return domain.UnverifiedError("no success signal after submit")
}

func gone(ctx context.Context, a *form.Analysis) bool {
	el := a.Element()
	exists, err := el.Exists(ctx)
	if err != nil {
		return false
	}
	if !exists {
		return true
	}
	visible, err := el.IsVisible(ctx)
	return err == nil && !visible
}

// text returns the scope's visible text, or "" when the scope is gone.
func (r *run) text(ctx context.Context, scope browser.Scope) string {
	var html string
	if err := browser.EvaluateInto(ctx, scope, htmlScript, nil, &html); err != nil {
		return ""
	}
	return PageText(html)
}

// NormalizeURL adds a missing scheme and rejects URLs that cannot be
// navigated to.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", domain.InvalidInputError("invalid url: empty", nil)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", domain.InvalidInputError(fmt.Sprintf("invalid url: %s", raw), err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", domain.InvalidInputError(fmt.Sprintf("invalid url: unsupported scheme %q", u.Scheme), nil)
	}
	host := u.Hostname()
	if host == "" || (!strings.Contains(host, ".") && host != "localhost") {
		return "", domain.InvalidInputError(fmt.Sprintf("invalid url: %s", raw), nil)
	}
	return u.String(), nil
}
