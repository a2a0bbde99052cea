// Package form holds the value objects shared by detection, mapping and
// filling: field descriptors, form analyses and the keyword tables they are
// classified with.
package form

import (
	"regexp"
	"strings"
)

// FieldClass is the fill mechanics bucket of a field.
type FieldClass string

const (
	ClassEmail    FieldClass = "email"
	ClassText     FieldClass = "text"
	ClassTextarea FieldClass = "textarea"
	ClassTel      FieldClass = "tel"
	ClassSelect   FieldClass = "select"
	ClassCheckbox FieldClass = "checkbox"
	ClassRadio    FieldClass = "radio"
	ClassSubmit   FieldClass = "submit"
	ClassHidden   FieldClass = "hidden"
	ClassOther    FieldClass = "other"
)

// Option is one choice of a select or one member of a radio group.
type Option struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selector string `json:"selector,omitempty"`
	Checked  bool   `json:"checked,omitempty"`
}

// Label returns the visible text, falling back to the value.
func (o Option) Label() string {
	if strings.TrimSpace(o.Text) != "" {
		return strings.TrimSpace(o.Text)
	}
	return o.Value
}

// Choice is the value submitted for the option.
func (o Option) Choice() string {
	if o.Value != "" {
		return o.Value
	}
	return strings.TrimSpace(o.Text)
}

var placeholderOption = regexp.MustCompile(`(?i)^\W*(select|choose|please|pick|--|—)`)

// IsPlaceholder reports whether the option is a prompt rather than a choice.
func (o Option) IsPlaceholder() bool {
	label := strings.TrimSpace(o.Text)
	if o.Value == "" && label == "" {
		return true
	}
	if !placeholderOption.MatchString(label) {
		return false
	}
	// Options without a value attribute report their text as the value.
	v := strings.TrimSpace(o.Value)
	return v == "" || v == "0" || v == "-1" || strings.EqualFold(v, label)
}

// FieldDescriptor is an immutable snapshot of one form field taken by the
// extraction script. Radio inputs sharing a name are grouped into a single
// descriptor whose Options carry each input's selector.
type FieldDescriptor struct {
	Selector     string   `json:"selector"`
	Tag          string   `json:"tag"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	ID           string   `json:"id"`
	Placeholder  string   `json:"placeholder"`
	Label        string   `json:"label"`
	Required     bool     `json:"required"`
	Visible      bool     `json:"visible"`
	Disabled     bool     `json:"disabled"`
	Options      []Option `json:"options,omitempty"`
	CurrentValue string   `json:"value"`
	Checked      bool     `json:"checked"`
}

// Class maps tag and type onto fill mechanics.
func (f FieldDescriptor) Class() FieldClass {
	tag := strings.ToLower(f.Tag)
	typ := strings.ToLower(f.Type)
	switch tag {
	case "textarea":
		return ClassTextarea
	case "select":
		return ClassSelect
	case "button":
		if typ == "" || typ == "submit" {
			return ClassSubmit
		}
		return ClassOther
	}
	switch typ {
	case "email":
		return ClassEmail
	case "tel":
		return ClassTel
	case "checkbox":
		return ClassCheckbox
	case "radio":
		return ClassRadio
	case "submit", "image":
		return ClassSubmit
	case "hidden":
		return ClassHidden
	case "password", "file", "button", "reset", "range", "color":
		return ClassOther
	}
	return ClassText
}

// Key identifies the field within one form.
func (f FieldDescriptor) Key() string {
	switch {
	case f.Name != "":
		return f.Name
	case f.ID != "":
		return f.ID
	}
	return f.Selector
}

// Fillable reports whether the pipeline should try to write this field.
func (f FieldDescriptor) Fillable() bool {
	switch f.Class() {
	case ClassSubmit, ClassHidden, ClassOther:
		return false
	}
	return f.Visible && !f.Disabled
}

// Haystack is the lowercased text the keyword tables are matched against.
func (f FieldDescriptor) Haystack() string {
	return strings.ToLower(strings.Join([]string{f.Name, f.ID, f.Placeholder, f.Label}, " "))
}

// IdentHaystack is name, id and placeholder only.
func (f FieldDescriptor) IdentHaystack() string {
	return strings.ToLower(strings.Join([]string{f.Name, f.ID, f.Placeholder}, " "))
}

// HasValue reports whether the field already carries user-visible input.
func (f FieldDescriptor) HasValue() bool {
	switch f.Class() {
	case ClassCheckbox:
		return f.Checked
	case ClassRadio:
		for _, o := range f.Options {
			if o.Checked {
				return true
			}
		}
		return false
	case ClassSelect:
		for _, o := range f.RealOptions() {
			if o.Choice() == f.CurrentValue {
				return true
			}
		}
		return false
	}
	return strings.TrimSpace(f.CurrentValue) != ""
}

// IsCritical fields are always rewritten even when prefilled.
func (f FieldDescriptor) IsCritical() bool {
	if f.Class() == ClassEmail {
		return true
	}
	switch f.Class() {
	case ClassCheckbox, ClassRadio, ClassSelect:
		return false
	}
	ident := f.IdentHaystack()
	return strings.Contains(ident, "email") || strings.Contains(ident, "message")
}

// RealOptions drops placeholder prompts.
func (f FieldDescriptor) RealOptions() []Option {
	out := make([]Option, 0, len(f.Options))
	for _, o := range f.Options {
		if !o.IsPlaceholder() {
			out = append(out, o)
		}
	}
	return out
}

// FindOption locates an option by value or label, case-insensitively.
func (f FieldDescriptor) FindOption(v string) (Option, bool) {
	want := strings.ToLower(strings.TrimSpace(v))
	for _, o := range f.Options {
		if strings.ToLower(o.Value) == want || strings.ToLower(o.Label()) == want {
			return o, true
		}
	}
	return Option{}, false
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases s and strips punctuation and whitespace.
func Normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}
