package form

import (
	"errors"

	"github.com/contactpilot/contactpilot/internal/browser"
)

// ContactThreshold is the minimum score of a contact form.
const ContactThreshold = 4

// Metadata describes the container a form analysis was built from.
type Metadata struct {
	ID               string   `json:"id"`
	Class            string   `json:"class"`
	Action           string   `json:"action"`
	Method           string   `json:"method"`
	PositiveKeywords []string `json:"positive_keywords,omitempty"`
	NegativeKeywords []string `json:"negative_keywords,omitempty"`
	ContactAction    bool     `json:"contact_action"`
}

// Analysis is the scored result for one form-like container. It is valid
// only for the page visit that produced it.
type Analysis struct {
	Scope        browser.Scope
	Selector     string
	Index        int
	Score        int
	FieldCounts  map[FieldClass]int
	RoleCounts   map[Role]int
	Metadata     Metadata
	FrameContext browser.FrameContext
	Fields       []FieldDescriptor
}

// IsContactForm reports whether the analysis qualifies as a contact form.
func (a *Analysis) IsContactForm() bool {
	return a.Score >= ContactThreshold
}

// Element returns the form container handle within its own scope.
func (a *Analysis) Element() browser.Element {
	return a.Scope.Element(a.Selector)
}

// Validate checks that the analysis can be consumed by a filler.
func (a *Analysis) Validate() error {
	switch {
	case a == nil:
		return errors.New("nil form analysis")
	case a.Scope == nil:
		return errors.New("form analysis has no scope")
	case a.FrameContext == "":
		return errors.New("form analysis has no frame context")
	case a.FrameContext != a.Scope.FrameContext():
		return errors.New("form analysis frame context does not match its scope")
	case a.Selector == "":
		return errors.New("form analysis has no selector")
	}
	return nil
}

// Best returns the highest-scoring qualifying analysis. Input is expected to
// be sorted by score already.
func Best(analyses []Analysis) (*Analysis, bool) {
	for i := range analyses {
		if analyses[i].IsContactForm() {
			return &analyses[i], true
		}
	}
	return nil, false
}
