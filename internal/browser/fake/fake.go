// Package fake is an in-memory browser driver for tests. Scripts are answered
// by handlers registered per script name and elements are plain structs keyed
// by selector.
package fake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/contactpilot/contactpilot/internal/browser"
)

// ErrNoElement is returned by interactions with a selector nothing matches.
var ErrNoElement = errors.New("fake: no element matches selector")

// Handler answers one Evaluate call.
type Handler func(arg any) (any, error)

// Element is a fake DOM element.
type Element struct {
	Kind     string // checkbox, radio, select, text
	Visible  bool
	Disabled bool
	Checked  bool
	Val      string
	TextVal  string
	Options  []string
	Box      *browser.Box

	// RejectTyping makes Fill and Type leave the value untouched.
	RejectTyping bool
	// Reject lists values the element refuses to hold.
	Reject []string
	// LockChecked ignores Click and SetChecked.
	LockChecked bool
	ClickErr    error
	OnClick     func()

	Clicks int
	Events []string
}

// Scope is a fake document or frame.
type Scope struct {
	mu        sync.Mutex
	frame     browser.FrameContext
	url       string
	scripts   map[string]Handler
	elements  map[string]*Element
	evaluated []string
}

// NewScope creates an empty scope.
func NewScope(frame browser.FrameContext, url string) *Scope {
	return &Scope{
		frame:    frame,
		url:      url,
		scripts:  make(map[string]Handler),
		elements: make(map[string]*Element),
	}
}

// Handle registers the answer for a script name.
func (s *Scope) Handle(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = h
}

// Add registers an element under selector and returns it.
func (s *Scope) Add(selector string, el *Element) *Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[selector] = el
	return el
}

// Remove detaches the element under selector.
func (s *Scope) Remove(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, selector)
}

// Lookup returns the element under selector, if any.
func (s *Scope) Lookup(selector string) (*Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.elements[selector]
	return el, ok
}

// Evaluated lists the script names evaluated so far.
func (s *Scope) Evaluated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.evaluated)
}

// Count returns how many times a script ran.
func (s *Scope) Count(name string) int {
	n := 0
	for _, e := range s.Evaluated() {
		if e == name {
			n++
		}
	}
	return n
}

func (s *Scope) FrameContext() browser.FrameContext { return s.frame }

func (s *Scope) URL() string { return s.url }

// Evaluate dispatches to the handler for script.Name. Unregistered scripts
// return nil.
func (s *Scope) Evaluate(ctx context.Context, script browser.Script, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.evaluated = append(s.evaluated, script.Name)
	h, ok := s.scripts[script.Name]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return h(arg)
}

func (s *Scope) Element(selector string) browser.Element {
	return &handle{scope: s, selector: selector}
}

// Page is a fake top-level document.
type Page struct {
	*Scope
	FrameList  []*Scope
	NavigateFn func(url string, opts browser.NavigateOptions) (*browser.Response, error)
	ContentFn  func() string
	Shot       []byte
	Closed     bool

	Navigations []browser.NavigateOptions
	Waited      time.Duration
}

// NewPage creates a page at url.
func NewPage(url string) *Page {
	return &Page{Scope: NewScope(browser.FrameMain, url)}
}

// AddFrame attaches an embedded frame.
func (p *Page) AddFrame(url string) *Scope {
	f := NewScope(browser.FrameIframe, url)
	p.FrameList = append(p.FrameList, f)
	return f
}

func (p *Page) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) (*browser.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.Navigations = append(p.Navigations, opts)
	p.url = url
	p.mu.Unlock()
	if p.NavigateFn != nil {
		return p.NavigateFn(url, opts)
	}
	return &browser.Response{Status: 200, URL: url}, nil
}

func (p *Page) Frames() []browser.Scope {
	out := make([]browser.Scope, 0, len(p.FrameList))
	for _, f := range p.FrameList {
		out = append(out, f)
	}
	return out
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.ContentFn != nil {
		return p.ContentFn(), nil
	}
	return "<html><body></body></html>", nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if p.Shot == nil {
		return nil, errors.New("fake: no screenshot")
	}
	return p.Shot, nil
}

func (p *Page) Wait(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.Waited += d
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Page) Close() error {
	p.Closed = true
	return nil
}

// Session hands out a single page.
type Session struct {
	Page   *Page
	Err    error
	Closed bool
}

func (s *Session) NewPage(ctx context.Context) (browser.Page, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Page, nil
}

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

// Launcher returns a prepared session.
type Launcher struct {
	Session  *Session
	Err      error
	Launches int
}

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	l.Launches++
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Session, nil
}

type handle struct {
	scope    *Scope
	selector string
}

func (h *handle) el() (*Element, error) {
	el, ok := h.scope.Lookup(h.selector)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, h.selector)
	}
	return el, nil
}

func (h *handle) Selector() string { return h.selector }

func (h *handle) Exists(ctx context.Context) (bool, error) {
	_, ok := h.scope.Lookup(h.selector)
	return ok, ctx.Err()
}

func (h *handle) IsVisible(ctx context.Context) (bool, error) {
	el, ok := h.scope.Lookup(h.selector)
	if !ok {
		return false, ctx.Err()
	}
	return el.Visible, ctx.Err()
}

func (h *handle) IsDisabled(ctx context.Context) (bool, error) {
	el, err := h.el()
	if err != nil {
		return false, err
	}
	return el.Disabled, nil
}

func (h *handle) IsChecked(ctx context.Context) (bool, error) {
	el, err := h.el()
	if err != nil {
		return false, err
	}
	return el.Checked, nil
}

func (h *handle) Value(ctx context.Context) (string, error) {
	el, err := h.el()
	if err != nil {
		return "", err
	}
	return el.Val, nil
}

func (h *handle) Text(ctx context.Context) (string, error) {
	el, err := h.el()
	if err != nil {
		return "", err
	}
	return el.TextVal, nil
}

func (h *handle) BoundingBox(ctx context.Context) (*browser.Box, error) {
	el, err := h.el()
	if err != nil {
		return nil, err
	}
	return el.Box, nil
}

func (h *handle) Click(ctx context.Context) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if el.ClickErr != nil {
		return el.ClickErr
	}
	el.Clicks++
	if !el.LockChecked {
		switch el.Kind {
		case "checkbox":
			el.Checked = !el.Checked
		case "radio":
			el.Checked = true
		}
	}
	if el.OnClick != nil {
		el.OnClick()
	}
	return nil
}

func (h *handle) Focus(ctx context.Context) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	el.Events = append(el.Events, "focus")
	return nil
}

func (h *handle) Clear(ctx context.Context) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if !el.RejectTyping {
		el.Val = ""
	}
	return nil
}

func (h *handle) Fill(ctx context.Context, value string) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if !el.RejectTyping && !slices.Contains(el.Reject, value) {
		el.Val = value
	}
	return nil
}

func (h *handle) Type(ctx context.Context, value string) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if !el.RejectTyping && !slices.Contains(el.Reject, el.Val+value) {
		el.Val += value
	}
	return nil
}

func (h *handle) SelectOption(ctx context.Context, value string) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if !slices.Contains(el.Options, value) {
		return fmt.Errorf("fake: option %q not available", value)
	}
	if !slices.Contains(el.Reject, value) {
		el.Val = value
	}
	return nil
}

func (h *handle) SetChecked(ctx context.Context, checked bool) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if !el.LockChecked {
		el.Checked = checked
	}
	return nil
}

func (h *handle) ScrollIntoView(ctx context.Context) error {
	_, err := h.el()
	return err
}

func (h *handle) Dispatch(ctx context.Context, event string) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	el.Events = append(el.Events, event)
	return nil
}

func (h *handle) SetValue(ctx context.Context, value string) error {
	el, err := h.el()
	if err != nil {
		return err
	}
	if !slices.Contains(el.Reject, value) {
		el.Val = value
	}
	return nil
}
