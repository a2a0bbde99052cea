// Package captcha detects challenge widgets on a form and hands them to a
// pluggable solver.
package captcha

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/browser"
)

// Kind names a challenge vendor.
type Kind string

const (
	KindRecaptcha  Kind = "recaptcha"
	KindHCaptcha   Kind = "hcaptcha"
	KindTurnstile  Kind = "turnstile"
	KindFunCaptcha Kind = "funcaptcha"
	KindImage      Kind = "image"
)

// Detection is the outcome of a scan. Invisible score-based widgets are
// reported but are not Present, since they never block a submit.
type Detection struct {
	Present   bool
	Kind      Kind
	SiteKey   string
	Invisible bool
}

type marker struct {
	kind     Kind
	selector string
}

// markers are checked in order; the first hit decides the kind.
var markers = []marker{
	{KindHCaptcha, ".h-captcha"},
	{KindHCaptcha, "iframe[src*='hcaptcha.com']"},
	{KindTurnstile, ".cf-turnstile"},
	{KindTurnstile, "iframe[src*='challenges.cloudflare.com']"},
	{KindRecaptcha, ".g-recaptcha:not([data-size='invisible'])"},
	{KindRecaptcha, "iframe[src*='google.com/recaptcha/api2/anchor']"},
	{KindRecaptcha, "iframe[src*='recaptcha.net/recaptcha']"},
	{KindFunCaptcha, "#FunCaptcha"},
	{KindFunCaptcha, "iframe[src*='arkoselabs']"},
	{KindFunCaptcha, "[data-pkey]"},
	{KindImage, "img[src*='captcha']"},
	{KindImage, "img[id*='captcha']"},
	{KindImage, "input[name*='captcha']"},
}

var invisibleMarkers = []string{".grecaptcha-badge", ".g-recaptcha[data-size='invisible']"}

// DetectHTML scans markup for challenge widgets. When formSelector matches,
// only the form is scanned; otherwise the whole document is.
func DetectHTML(html, formSelector string) (Detection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Detection{}, fmt.Errorf("parsing html: %w", err)
	}

	root := doc.Selection
	if formSelector != "" {
		if sel := doc.Find(formSelector); sel.Length() > 0 {
			root = sel.First()
		}
	}

	for _, m := range markers {
		sel := root.Find(m.selector)
		if sel.Length() == 0 {
			continue
		}
		return Detection{Present: true, Kind: m.kind, SiteKey: siteKey(root, sel)}, nil
	}

	for _, s := range invisibleMarkers {
		if doc.Find(s).Length() > 0 {
			return Detection{Kind: KindRecaptcha, Invisible: true}, nil
		}
	}
	return Detection{}, nil
}

func siteKey(root, hit *goquery.Selection) string {
	for _, attr := range []string{"data-sitekey", "data-pkey"} {
		if v, ok := hit.Attr(attr); ok && v != "" {
			return v
		}
		if v, ok := root.Find("[" + attr + "]").Attr(attr); ok && v != "" {
			return v
		}
	}
	return ""
}

// htmlScript returns the markup of the scope's document.
var htmlScript = browser.Script{
	Name:   "captcha.html",
	Source: `() => document.documentElement ? document.documentElement.outerHTML : ''`,
}

// Detector scans a document or frame for challenges.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a detector
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Detect reads the scope's markup and scans the form matched by
// formSelector.
func (d *Detector) Detect(ctx context.Context, scope browser.Scope, formSelector string) (Detection, error) {
	var html string
	if err := browser.EvaluateInto(ctx, scope, htmlScript, nil, &html); err != nil {
		return Detection{}, err
	}
	det, err := DetectHTML(html, formSelector)
	if err != nil {
		return Detection{}, err
	}
	if det.Present || det.Invisible {
		d.logger.Debug("captcha detected",
			zap.String("kind", string(det.Kind)),
			zap.Bool("invisible", det.Invisible),
			zap.String("frame", string(scope.FrameContext())),
		)
	}
	return det, nil
}
