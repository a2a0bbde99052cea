// Package filler writes mapped values into a detected form, verifies every
// write and judges whether the result is worth submitting.
package filler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/domain"
	"github.com/contactpilot/contactpilot/internal/form"
	"github.com/contactpilot/contactpilot/internal/mapper"
)

const minMessageLength = 10

var plausibleEmail = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Sweeper clears transient popups between retries.
type Sweeper interface {
	Sweep(ctx context.Context, page browser.Page) int
}

// Request is one fill invocation.
type Request struct {
	Page    browser.Page
	Form    *form.Analysis
	Profile map[string]string
	Domain  string
}

// Skipped is a field left untouched.
type Skipped struct {
	Field  string
	Reason string
}

// Result is the aggregate outcome of a fill.
type Result struct {
	Filled     int
	Fields     map[string]mapper.Suggestion
	Skipped    []Skipped
	Errors     []string
	Confidence float64
	Success    bool
	// Viable reports the minimum-viable-submission check.
	Viable bool
}

// Options tune a Filler.
type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
}

// Filler fills forms
type Filler struct {
	mapper  *mapper.Mapper
	sweeper Sweeper
	opts    Options
	logger  *zap.Logger
}

// New creates a filler. sweeper may be nil.
func New(m *mapper.Mapper, sweeper Sweeper, opts Options, logger *zap.Logger) *Filler {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{mapper: m, sweeper: sweeper, opts: opts, logger: logger}
}

// previousAttempts holds rejected values per field key for one invocation.
type previousAttempts map[string][]string

// Fill fills every fillable field of req.Form. Per-field failures are
// collected in the result; an error is returned only when the form itself
// cannot be used.
func (f *Filler) Fill(ctx context.Context, req Request) (*Result, error) {
	if req.Form == nil {
		return nil, domain.FieldFillError("no form selected")
	}
	if err := req.Form.Validate(); err != nil {
		return nil, domain.FieldFillError(err.Error())
	}
	if err := f.preconditions(ctx, req.Form); err != nil {
		return nil, err
	}

	res := &Result{Fields: make(map[string]mapper.Suggestion)}
	previous := make(previousAttempts)
	current := make(map[string]string)

	for _, field := range req.Form.Fields {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		key := field.Key()
		if !field.Fillable() {
			continue
		}
		if field.Class() != form.ClassCheckbox && field.HasValue() && !field.IsCritical() {
			res.Skipped = append(res.Skipped, Skipped{Field: key, Reason: "prefilled"})
			current[key] = field.CurrentValue
			continue
		}

		s, err := f.fillField(ctx, req, field, previous)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", key, err))
		case !s.Found:
			res.Skipped = append(res.Skipped, Skipped{Field: key, Reason: "no value"})
		default:
			res.Filled++
			res.Fields[key] = s
			current[key] = s.Value
		}
	}

	if res.Filled > 0 {
		total := 0.0
		for _, s := range res.Fields {
			total += s.Confidence
		}
		res.Confidence = total / float64(res.Filled)
	}
	res.Viable = Viable(req.Form.Fields, current)
	res.Success = res.Filled > 0 && res.Viable

	if res.Success {
		used := make(map[string]string, len(res.Fields))
		for k, s := range res.Fields {
			used[k] = s.Value
		}
		f.mapper.Learn(req.Domain, used)
	}

	f.logger.Debug("form filled",
		zap.Int("filled", res.Filled),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("errors", len(res.Errors)),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("viable", res.Viable),
	)
	return res, nil
}

// preconditions re-checks that the form is attached, visible and enabled and
// clears overlays sitting on top of it.
func (f *Filler) preconditions(ctx context.Context, a *form.Analysis) error {
	el := a.Element()
	exists, err := el.Exists(ctx)
	if err != nil {
		return domain.FieldFillError(fmt.Sprintf("checking form: %v", err))
	}
	if !exists {
		return domain.FieldFillError("form is no longer attached")
	}
	if visible, err := el.IsVisible(ctx); err != nil || !visible {
		return domain.FieldFillError("form is not visible")
	}
	if disabled, err := el.IsDisabled(ctx); err == nil && disabled {
		return domain.FieldFillError("form is disabled")
	}

	var hit struct {
		Found    bool `json:"found"`
		Obscured bool `json:"obscured"`
	}
	if err := browser.EvaluateInto(ctx, a.Scope, obscuredScript, a.Selector, &hit); err != nil {
		f.logger.Debug("hit test failed", zap.Error(err))
		return nil
	}
	if hit.Obscured {
		var removed int
		if err := browser.EvaluateInto(ctx, a.Scope, clearObstructionScript, a.Selector, &removed); err != nil {
			f.logger.Debug("clearing obstruction failed", zap.Error(err))
			return nil
		}
		f.logger.Debug("removed elements covering the form", zap.Int("removed", removed))
	}
	return nil
}

// fillField runs the attempt loop for one field. A Suggestion with Found
// false and a nil error means there was nothing to write.
func (f *Filler) fillField(ctx context.Context, req Request, field form.FieldDescriptor, previous previousAttempts) (mapper.Suggestion, error) {
	key := field.Key()
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 && f.sweeper != nil && req.Page != nil {
			f.sweeper.Sweep(ctx, req.Page)
		}

		mreq := mapper.Request{Profile: req.Profile, Domain: req.Domain, Previous: previous[key]}
		s := f.mapper.Suggest(field, mreq)
		if !s.Found && field.Required {
			s = f.mapper.Fallback(field, mreq)
		}
		if !s.Found {
			if lastErr != nil {
				return s, lastErr
			}
			return s, nil
		}

		err := apply(ctx, req.Form.Scope, field, s.Value)
		if err == nil {
			f.logger.Debug("field filled",
				zap.String("field", key),
				zap.String("source", string(s.Source)),
				zap.Float64("confidence", s.Confidence),
				zap.Int("attempt", attempt+1),
			)
			return s, nil
		}
		lastErr = err
		previous[key] = append(previous[key], s.Value)
		f.logger.Debug("field fill failed",
			zap.String("field", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return mapper.Suggestion{}, lastErr
}

var errNotApplied = errors.New("value did not stick")

// apply writes value with the mechanics of the field's class and verifies
// the resulting state.
func apply(ctx context.Context, scope browser.Scope, field form.FieldDescriptor, value string) error {
	switch field.Class() {
	case form.ClassCheckbox:
		return applyCheckbox(ctx, scope.Element(field.Selector), value == "true")
	case form.ClassRadio:
		return applyRadio(ctx, scope, field, value)
	case form.ClassSelect:
		return applySelect(ctx, scope, field, value)
	}
	return applyText(ctx, scope.Element(field.Selector), value)
}

func applyCheckbox(ctx context.Context, el browser.Element, target bool) error {
	checked, err := el.IsChecked(ctx)
	if err != nil {
		return err
	}
	if checked == target {
		return nil
	}
	if err := el.Click(ctx); err == nil {
		if checked, err = el.IsChecked(ctx); err == nil && checked == target {
			return nil
		}
	}
	if err := el.SetChecked(ctx, target); err != nil {
		return err
	}
	if checked, err = el.IsChecked(ctx); err != nil {
		return err
	}
	if checked != target {
		return fmt.Errorf("checkbox: %w", errNotApplied)
	}
	return nil
}

func applyRadio(ctx context.Context, scope browser.Scope, field form.FieldDescriptor, value string) error {
	opt, ok := field.FindOption(value)
	if !ok || opt.Selector == "" {
		return fmt.Errorf("radio option %q not found", value)
	}
	el := scope.Element(opt.Selector)
	if err := el.Click(ctx); err != nil {
		if err := el.SetChecked(ctx, true); err != nil {
			return err
		}
	}
	checked, err := el.IsChecked(ctx)
	if err != nil {
		return err
	}
	if !checked {
		return fmt.Errorf("radio: %w", errNotApplied)
	}
	return nil
}

func applySelect(ctx context.Context, scope browser.Scope, field form.FieldDescriptor, value string) error {
	opt, ok := field.FindOption(value)
	if !ok {
		return fmt.Errorf("select option %q not found", value)
	}
	want := opt.Choice()
	el := scope.Element(field.Selector)

	if err := el.SelectOption(ctx, want); err == nil && selected(ctx, el, opt) {
		return nil
	}

	// Custom dropdowns: open the control and click the option element.
	if opt.Selector != "" {
		if err := el.Click(ctx); err == nil {
			if err := scope.Element(opt.Selector).Click(ctx); err == nil && selected(ctx, el, opt) {
				return nil
			}
		}
	}
	if err := el.SetValue(ctx, want); err != nil {
		return err
	}
	if !selected(ctx, el, opt) {
		return fmt.Errorf("select: %w", errNotApplied)
	}
	return nil
}

func selected(ctx context.Context, el browser.Element, opt form.Option) bool {
	got, err := el.Value(ctx)
	if err != nil {
		return false
	}
	return got == opt.Choice() || (got != "" && strings.EqualFold(got, opt.Label()))
}

func applyText(ctx context.Context, el browser.Element, value string) error {
	if err := el.ScrollIntoView(ctx); err != nil {
		return err
	}
	_ = el.Focus(ctx)
	if err := el.Clear(ctx); err == nil {
		if err := el.Type(ctx, value); err == nil {
			for _, ev := range []string{"input", "change", "blur"} {
				_ = el.Dispatch(ctx, ev)
			}
			if holds(ctx, el, value) {
				return nil
			}
		}
	}

	if err := el.SetValue(ctx, value); err != nil {
		return err
	}
	if !holds(ctx, el, value) {
		return fmt.Errorf("text: %w", errNotApplied)
	}
	return nil
}

// holds accepts exact and substring matches, and digit-only matches for
// inputs that reformat phone numbers.
func holds(ctx context.Context, el browser.Element, value string) bool {
	got, err := el.Value(ctx)
	if err != nil {
		return false
	}
	got, want := strings.TrimSpace(got), strings.TrimSpace(value)
	if got == "" {
		return want == ""
	}
	if got == want || strings.Contains(got, want) || strings.Contains(want, got) && len(got) >= len(want)/2 {
		return true
	}
	gd, wd := digits(got), digits(want)
	return wd != "" && len(wd) >= 7 && strings.HasSuffix(gd, wd[len(wd)-7:])
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Viable is the minimum-viable-submission check over the values the form
// now holds: a plausible email, or a non-trivial message together with a
// name.
func Viable(fields []form.FieldDescriptor, values map[string]string) bool {
	var message, name bool
	for _, f := range fields {
		if !f.Visible {
			continue
		}
		v := strings.TrimSpace(values[f.Key()])
		if v == "" {
			continue
		}
		switch {
		case f.Class() == form.ClassEmail || form.HasRole(f, form.RoleEmail):
			if plausibleEmail.MatchString(v) {
				return true
			}
		case f.Class() == form.ClassTextarea || form.HasRole(f, form.RoleMessage):
			if len([]rune(v)) >= minMessageLength {
				message = true
			}
		case form.HasRole(f, form.RoleName):
			name = true
		}
	}
	return message && name
}
