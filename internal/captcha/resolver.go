package captcha

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/domain"
)

// Result is the outcome of Resolve.
type Result struct {
	Detection
	Solved bool
}

// injectScript writes a solved token into the response fields widgets read
// on submit and fires the widget callback when one is declared.
var injectScript = browser.Script{
	Name: "captcha.inject",
	Source: `(arg) => {
  const names = ['g-recaptcha-response', 'h-captcha-response', 'cf-turnstile-response'];
  const root = (arg.form && document.querySelector(arg.form)) || document;
  let n = 0;
  for (const name of names) {
    let fields = root.querySelectorAll('textarea[name="' + name + '"], input[name="' + name + '"]');
    if (!fields.length && root.tagName === 'FORM' && arg.prefix && name.startsWith(arg.prefix)) {
      const ta = document.createElement('textarea');
      ta.name = name; ta.style.display = 'none';
      root.appendChild(ta);
      fields = [ta];
    }
    fields.forEach((f) => { f.value = arg.token; f.innerHTML = arg.token; n++; });
  }
  const widget = root.querySelector('[data-callback]');
  const cb = widget && window[widget.getAttribute('data-callback')];
  if (typeof cb === 'function') { try { cb(arg.token); } catch (e) {} }
  return n;
}`,
}

var responsePrefix = map[Kind]string{
	KindRecaptcha: "g-recaptcha",
	KindHCaptcha:  "h-captcha",
	KindTurnstile: "cf-turnstile",
}

// Resolver detects a challenge on a form and, when a solver is configured,
// solves it and injects the token.
type Resolver struct {
	detector *Detector
	solver   Solver
	logger   *zap.Logger
}

// NewResolver creates a resolver. solver may be nil, in which case every
// detected challenge blocks the submission.
func NewResolver(detector *Detector, solver Solver, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if detector == nil {
		detector = NewDetector(logger)
	}
	return &Resolver{detector: detector, solver: solver, logger: logger}
}

// Resolve checks the form for a challenge. A detection failure is logged and
// treated as no challenge. An unresolved challenge returns a captcha-blocked
// pipeline error.
func (r *Resolver) Resolve(ctx context.Context, scope browser.Scope, formSelector string, creds Credentials) (Result, error) {
	det, err := r.detector.Detect(ctx, scope, formSelector)
	if err != nil {
		r.logger.Debug("captcha detection failed", zap.Error(err))
		return Result{}, nil
	}
	res := Result{Detection: det}
	if !det.Present {
		return res, nil
	}
	if r.solver == nil {
		return res, domain.CaptchaBlockedError(string(det.Kind))
	}

	token, err := r.solver.Solve(ctx, Challenge{
		Kind:        det.Kind,
		SiteKey:     det.SiteKey,
		PageURL:     scope.URL(),
		Credentials: creds,
	})
	if err != nil || token == "" {
		if err == nil {
			err = ErrUnsolved
		}
		blocked := domain.CaptchaBlockedError(string(det.Kind))
		blocked.Cause = err
		return res, blocked
	}

	var injected int
	if err := browser.EvaluateInto(ctx, scope, injectScript, map[string]any{
		"token":  token,
		"form":   formSelector,
		"prefix": responsePrefix[det.Kind],
	}, &injected); err != nil {
		blocked := domain.CaptchaBlockedError(string(det.Kind))
		blocked.Cause = fmt.Errorf("injecting token: %w", err)
		return res, blocked
	}

	r.logger.Info("captcha solved",
		zap.String("kind", string(det.Kind)),
		zap.Int("fields", injected),
	)
	res.Solved = true
	return res, nil
}
