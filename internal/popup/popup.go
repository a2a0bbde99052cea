// Package popup clears cookie banners, promotional modals, chat widgets and
// other overlays that keep a page from being interacted with.
package popup

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/form"
)

// Control is a clickable element inside a candidate.
type Control struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Label    string `json:"label"`
}

func (c Control) haystack() string {
	return strings.ToLower(strings.TrimSpace(c.Text + " " + c.Label))
}

// Viewport is the layout viewport size in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Candidate is one overlay-like element reported by the scan.
type Candidate struct {
	Selector    string      `json:"selector"`
	Tag         string      `json:"tag"`
	ID          string      `json:"id"`
	Class       string      `json:"class"`
	Role        string      `json:"role"`
	Modal       bool        `json:"modal"`
	ContactForm bool        `json:"contactForm"`
	FormFields  int         `json:"formFields"`
	Text        string      `json:"text"`
	TextLength  int         `json:"textLength"`
	ParentTag   string      `json:"parentTag"`
	Position    string      `json:"position"`
	ZIndex      int         `json:"zIndex"`
	Box         browser.Box `json:"box"`
	Viewport    Viewport    `json:"viewport"`
	Controls    []Control   `json:"controls"`
}

// Fingerprint identifies a candidate across rounds even when its tagged
// selector changes after a re-render.
func (c Candidate) Fingerprint() string {
	text := []rune(strings.TrimSpace(c.Text))
	if len(text) > fingerprintTextLn {
		text = text[:fingerprintTextLn]
	}
	return strings.ToLower(strings.Join([]string{c.Tag, c.ID, c.Class, string(text), c.ParentTag}, "|"))
}

func (c Candidate) attrs() string {
	return strings.ToLower(c.ID + " " + c.Class)
}

func (c Candidate) haystack() string {
	return strings.ToLower(c.ID + " " + c.Class + " " + c.Text)
}

func (c Candidate) overlaid() bool {
	return c.Modal || c.Position == "fixed" || c.Position == "sticky"
}

// floating reports whether c sits above the page: an overlay, or an
// absolutely positioned element stacked high.
func (c Candidate) floating() bool {
	return c.overlaid() || (c.Position == "absolute" && c.ZIndex >= blockerMinZIndex)
}

// holdsForm reports whether c wraps part of the page's own form.
func (c Candidate) holdsForm() bool {
	return c.ContactForm || (c.FormFields > 0 && !c.overlaid())
}

// errHoldsForm is returned instead of hiding an element that wraps form fields.
var errHoldsForm = errors.New("candidate wraps form fields")

// ActionKind is what was done to a candidate.
type ActionKind string

const (
	ActionClick  ActionKind = "click"
	ActionHide   ActionKind = "hide"
	ActionRemove ActionKind = "remove"
)

// Action records one handled candidate.
type Action struct {
	Pass     Pass
	Kind     ActionKind
	Selector string
	Control  string
}

// Report summarizes one Clear invocation.
type Report struct {
	Rounds       int
	Actions      []Action
	Errors       int
	Interactable bool
}

// Handled is the number of candidates acted on.
func (r Report) Handled() int {
	return len(r.Actions)
}

// Options tune a Handler.
type Options struct {
	MaxAttempts int
	// Settle is waited after a click so animations and re-renders finish.
	Settle time.Duration
}

// DefaultOptions returns the standard settings.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, Settle: 500 * time.Millisecond}
}

// Handler clears overlays from a page. It keeps no state between calls.
type Handler struct {
	opts   Options
	logger *zap.Logger
}

// New creates a handler
func New(opts Options, logger *zap.Logger) *Handler {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{opts: opts, logger: logger}
}

// Clear runs every pass for up to MaxAttempts rounds. It stops early once the
// page is interactable or a round handles nothing. Failures on individual
// candidates are counted and skipped.
func (h *Handler) Clear(ctx context.Context, page browser.Page) Report {
	var report Report
	handled := make(map[string]bool)

	for round := 1; round <= h.opts.MaxAttempts; round++ {
		if ctx.Err() != nil {
			break
		}
		report.Rounds = round
		n := h.round(ctx, page, handled, &report)

		report.Interactable = h.Interactable(ctx, page)
		if report.Interactable || n == 0 {
			break
		}
	}

	h.logger.Debug("popup clearing finished",
		zap.Int("rounds", report.Rounds),
		zap.Int("handled", report.Handled()),
		zap.Int("errors", report.Errors),
		zap.Bool("interactable", report.Interactable),
	)
	return report
}

// Sweep runs a single round without the interactable check. It is used
// between field fill retries to catch popups triggered by focus.
func (h *Handler) Sweep(ctx context.Context, page browser.Page) int {
	var report Report
	return h.round(ctx, page, make(map[string]bool), &report)
}

// Interactable reports whether a visible populated form exists, or whether no
// modal remains and enough ordinary controls receive hit tests.
func (h *Handler) Interactable(ctx context.Context, page browser.Page) bool {
	var state struct {
		ModalOpen     bool `json:"modalOpen"`
		HitTestable   int  `json:"hitTestable"`
		PopulatedForm bool `json:"populatedForm"`
	}
	if err := browser.EvaluateInto(ctx, page, interactableScript, nil, &state); err != nil {
		h.logger.Debug("interactable check failed", zap.Error(err))
		return false
	}
	return state.PopulatedForm || (!state.ModalOpen && state.HitTestable >= minHitTestable)
}

// round scans once and applies the passes in priority order. It returns the
// number of candidates acted on.
func (h *Handler) round(ctx context.Context, page browser.Page, handled map[string]bool, report *Report) int {
	var candidates []Candidate
	if err := browser.EvaluateInto(ctx, page, scanScript, map[string]any{"selectors": scanSelectors}, &candidates); err != nil {
		h.logger.Debug("popup scan failed", zap.Error(err))
		report.Errors++
		return 0
	}

	acted := 0
	clicked := false
	for _, pass := range passOrder {
		for _, c := range candidates {
			fp := c.Fingerprint()
			if handled[fp] || !Matches(pass, c) {
				continue
			}
			handled[fp] = true
			action, err := h.handle(ctx, page, pass, c)
			if err != nil {
				report.Errors++
				h.logger.Debug("popup candidate not handled",
					zap.String("pass", string(pass)),
					zap.String("selector", c.Selector),
					zap.Error(err),
				)
				continue
			}
			acted++
			clicked = clicked || action.Kind == ActionClick
			report.Actions = append(report.Actions, action)
		}
	}

	if clicked && h.opts.Settle > 0 {
		_ = page.Wait(ctx, h.opts.Settle)
	}
	return acted
}

func (h *Handler) handle(ctx context.Context, page browser.Page, pass Pass, c Candidate) (Action, error) {
	if pass == PassChat {
		return h.hide(ctx, page, pass, c)
	}
	if pass == PassBlocker {
		return h.remove(ctx, page, c)
	}

	ctl, ok := Affordance(pass, c)
	if !ok {
		return h.hide(ctx, page, pass, c)
	}
	if err := page.Element(ctl.Selector).Click(ctx); err != nil {
		h.logger.Debug("popup click failed, hiding instead",
			zap.String("pass", string(pass)),
			zap.String("control", ctl.Selector),
			zap.Error(err),
		)
		return h.hide(ctx, page, pass, c)
	}
	return Action{Pass: pass, Kind: ActionClick, Selector: c.Selector, Control: strings.TrimSpace(ctl.Text + " " + ctl.Label)}, nil
}

func (h *Handler) hide(ctx context.Context, page browser.Page, pass Pass, c Candidate) (Action, error) {
	if c.holdsForm() {
		return Action{}, errHoldsForm
	}
	if _, err := page.Evaluate(ctx, hideScript, c.Selector); err != nil {
		return Action{}, err
	}
	return Action{Pass: pass, Kind: ActionHide, Selector: c.Selector}, nil
}

func (h *Handler) remove(ctx context.Context, page browser.Page, c Candidate) (Action, error) {
	if _, err := page.Evaluate(ctx, removeScript, []string{c.Selector}); err != nil {
		return Action{}, err
	}
	return Action{Pass: PassBlocker, Kind: ActionRemove, Selector: c.Selector}, nil
}

// Matches reports whether pass applies to candidate c.
func Matches(pass Pass, c Candidate) bool {
	switch pass {
	case PassCookie:
		if c.ContactForm || len(form.MatchKeywords(c.haystack(), cookieKeywords)) == 0 {
			return false
		}
		// Class or text alone also hits consent checkboxes and GDPR notes
		// inside forms; those are never positioned over the page.
		return c.floating() || consentHosts[strings.ToLower(c.ID)]
	case PassPromo:
		return c.overlaid() && !c.ContactForm && len(form.MatchKeywords(strings.ToLower(c.Text), promoKeywords)) > 0
	case PassChat:
		return len(form.MatchKeywords(c.attrs(), chatKeywords)) > 0
	case PassSpecial:
		_, ok := gateFor(c)
		return ok && c.overlaid() && !c.ContactForm
	case PassBlocker:
		return IsBlocker(c)
	}
	return false
}

// IsBlocker reports whether c is a positioned, stacked element covering a
// large part of the viewport with little text of its own.
func IsBlocker(c Candidate) bool {
	if c.Position != "fixed" && c.Position != "absolute" {
		return false
	}
	if c.ZIndex <= blockerMinZIndex || c.TextLength >= blockerMaxText || c.ContactForm {
		return false
	}
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return false
	}
	return c.Box.Width >= blockerMinCover*c.Viewport.Width && c.Box.Height >= blockerMinCover*c.Viewport.Height
}

// Affordance picks the control to click for a candidate handled by pass.
func Affordance(pass Pass, c Candidate) (Control, bool) {
	switch pass {
	case PassCookie:
		if ctl, ok := acceptControl(c.Controls); ok {
			return ctl, true
		}
		return closeControl(c.Controls)
	case PassSpecial:
		if gate, ok := gateFor(c); ok {
			if ctl, ok := firstMatching(c.Controls, gate.confirm, nil); ok {
				return ctl, true
			}
		}
		return closeControl(c.Controls)
	}
	return closeControl(c.Controls)
}

// acceptControl prefers the strongest accept wording and never returns a
// reject or settings control.
func acceptControl(controls []Control) (Control, bool) {
	return firstMatching(controls, acceptKeywords, rejectKeywords)
}

func closeControl(controls []Control) (Control, bool) {
	for _, c := range controls {
		if t := strings.TrimSpace(c.Text); strings.EqualFold(t, "x") {
			return c, true
		}
	}
	return firstMatching(controls, closeKeywords, nil)
}

// firstMatching walks keywords in priority order and returns the first
// control whose wording contains one at a word start.
func firstMatching(controls []Control, keywords, exclude []string) (Control, bool) {
	for _, kw := range keywords {
		for _, c := range controls {
			hay := c.haystack()
			if hay == "" || !containsKeyword(hay, kw) {
				continue
			}
			if excluded(hay, exclude) {
				continue
			}
			return c, true
		}
	}
	return Control{}, false
}

func excluded(hay string, exclude []string) bool {
	for _, kw := range exclude {
		if containsKeyword(hay, kw) {
			return true
		}
	}
	return false
}

// containsKeyword matches symbols anywhere and words at a word start.
func containsKeyword(hay, kw string) bool {
	if kw == "" {
		return false
	}
	if r := kw[0]; r >= 'a' && r <= 'z' {
		return form.ContainsWord(hay, kw)
	}
	return strings.Contains(hay, kw)
}

func gateFor(c Candidate) (specialGate, bool) {
	text := strings.ToLower(c.Text)
	for _, g := range specialGates {
		if len(form.MatchKeywords(text, g.keywords)) > 0 {
			return g, true
		}
	}
	return specialGate{}, false
}
