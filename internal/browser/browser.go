// Package browser defines the driver capability the pipeline automates pages
// through, plus the playwright and chromedp implementations of it.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FrameContext tells whether a scope is the top-level document or an
// embedded frame. Element selectors are only valid inside their own scope.
type FrameContext string

const (
	FrameMain   FrameContext = "main"
	FrameIframe FrameContext = "iframe"
)

// WaitUntil selects the readiness signal navigation waits for.
type WaitUntil string

const (
	WaitNetworkIdle      WaitUntil = "networkidle"
	WaitDOMContentLoaded WaitUntil = "domcontentloaded"
	WaitLoad             WaitUntil = "load"
)

// ErrNavigationTimeout is returned by Navigate when the readiness signal was
// not reached in time.
var ErrNavigationTimeout = errors.New("navigation timeout")

// Script is a JavaScript function source evaluated in a scope as
// `(arg) => {...}`. Name identifies it for logging and test doubles.
type Script struct {
	Name   string
	Source string
}

// NavigateOptions bound a navigation.
type NavigateOptions struct {
	Timeout   time.Duration
	WaitUntil WaitUntil
}

// Response is the main-document response of a navigation.
type Response struct {
	Status int
	URL    string
}

// Box is an element's bounding box in CSS pixels.
type Box struct {
	X, Y, Width, Height float64
}

// Center returns the center point of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Scope is a document or a single embedded frame.
type Scope interface {
	FrameContext() FrameContext
	URL() string
	// Evaluate runs script with arg and returns its JSON-compatible result.
	Evaluate(ctx context.Context, script Script, arg any) (any, error)
	// Element returns a lazy handle to the first element matching selector.
	Element(selector string) Element
}

// Element is a lazily resolved element handle.
type Element interface {
	Selector() string
	Exists(ctx context.Context) (bool, error)
	IsVisible(ctx context.Context) (bool, error)
	IsDisabled(ctx context.Context) (bool, error)
	IsChecked(ctx context.Context) (bool, error)
	Value(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	BoundingBox(ctx context.Context) (*Box, error)

	Click(ctx context.Context) error
	Focus(ctx context.Context) error
	Clear(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Type(ctx context.Context, value string) error
	SelectOption(ctx context.Context, value string) error
	SetChecked(ctx context.Context, checked bool) error
	ScrollIntoView(ctx context.Context) error
	// Dispatch fires a DOM event (input, change, blur) on the element.
	Dispatch(ctx context.Context, event string) error
	// SetValue assigns the value property directly and fires input/change.
	SetValue(ctx context.Context, value string) error
}

// Page is the top-level document of a tab.
type Page interface {
	Scope
	Navigate(ctx context.Context, url string, opts NavigateOptions) (*Response, error)
	// Frames returns the embedded frames, excluding the main frame.
	Frames() []Scope
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

// Session owns one isolated browser context.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Config holds driver-independent launch settings.
type Config struct {
	Headless       bool
	ActionTimeout  time.Duration
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
}

// Decode converts an Evaluate result into out by round-tripping through JSON.
func Decode(result any, out any) error {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding script result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding script result: %w", err)
	}
	return nil
}

// EvaluateInto evaluates script and decodes the result into out.
func EvaluateInto(ctx context.Context, scope Scope, script Script, arg any, out any) error {
	res, err := scope.Evaluate(ctx, script, arg)
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", script.Name, err)
	}
	return Decode(res, out)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
