package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/browser/fake"
)

func TestFieldDescriptor_Class(t *testing.T) {
	tests := []struct {
		tag, typ string
		want     FieldClass
	}{
		{"textarea", "", ClassTextarea},
		{"select", "", ClassSelect},
		{"button", "", ClassSubmit},
		{"button", "button", ClassOther},
		{"input", "email", ClassEmail},
		{"input", "TEL", ClassTel},
		{"input", "checkbox", ClassCheckbox},
		{"input", "radio", ClassRadio},
		{"input", "submit", ClassSubmit},
		{"input", "hidden", ClassHidden},
		{"input", "password", ClassOther},
		{"input", "", ClassText},
		{"input", "url", ClassText},
	}

	for _, tt := range tests {
		t.Run(tt.tag+"/"+tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.want, FieldDescriptor{Tag: tt.tag, Type: tt.typ}.Class())
		})
	}
}

func TestFieldDescriptor_KeyAndFillable(t *testing.T) {
	assert.Equal(t, "email", FieldDescriptor{Name: "email", ID: "e1"}.Key())
	assert.Equal(t, "e1", FieldDescriptor{ID: "e1", Selector: "[x]"}.Key())
	assert.Equal(t, "[x]", FieldDescriptor{Selector: "[x]"}.Key())

	assert.True(t, FieldDescriptor{Tag: "input", Type: "text", Visible: true}.Fillable())
	assert.False(t, FieldDescriptor{Tag: "input", Type: "text", Visible: false}.Fillable())
	assert.False(t, FieldDescriptor{Tag: "input", Type: "text", Visible: true, Disabled: true}.Fillable())
	assert.False(t, FieldDescriptor{Tag: "input", Type: "hidden", Visible: true}.Fillable())
	assert.False(t, FieldDescriptor{Tag: "input", Type: "submit", Visible: true}.Fillable())
}

func TestFieldDescriptor_IsCritical(t *testing.T) {
	assert.True(t, FieldDescriptor{Tag: "input", Type: "email"}.IsCritical())
	assert.True(t, FieldDescriptor{Tag: "input", Type: "text", Name: "your-email"}.IsCritical())
	assert.True(t, FieldDescriptor{Tag: "textarea", Name: "message"}.IsCritical())
	assert.True(t, FieldDescriptor{Tag: "input", Placeholder: "Your message"}.IsCritical())
	assert.False(t, FieldDescriptor{Tag: "input", Name: "company"}.IsCritical())
	assert.False(t, FieldDescriptor{Tag: "input", Type: "checkbox", Name: "email_optin"}.IsCritical())
}

func TestFieldDescriptor_HasValue(t *testing.T) {
	assert.True(t, FieldDescriptor{Tag: "input", CurrentValue: "x"}.HasValue())
	assert.False(t, FieldDescriptor{Tag: "input", CurrentValue: "  "}.HasValue())
	assert.True(t, FieldDescriptor{Tag: "input", Type: "checkbox", Checked: true}.HasValue())

	sel := FieldDescriptor{Tag: "select", CurrentValue: "", Options: []Option{{Value: "", Text: "Select..."}, {Value: "a", Text: "A"}}}
	assert.False(t, sel.HasValue())
	sel.CurrentValue = "a"
	assert.True(t, sel.HasValue())

	radio := FieldDescriptor{Tag: "input", Type: "radio", Options: []Option{{Value: "x"}, {Value: "y", Checked: true}}}
	assert.True(t, radio.HasValue())
}

func TestOption_IsPlaceholder(t *testing.T) {
	tests := []struct {
		opt  Option
		want bool
	}{
		{Option{Value: "", Text: ""}, true},
		{Option{Value: "", Text: "Select..."}, true},
		{Option{Value: "", Text: "-- Please choose --"}, true},
		{Option{Value: "0", Text: "Choose one"}, true},
		{Option{Value: "", Text: "Other"}, false},
		{Option{Value: "<$10k", Text: "<$10k"}, false},
		{Option{Value: "a", Text: "Select plan A"}, false},
		{Option{Value: "Select...", Text: "Select..."}, true},
	}
	for _, tt := range tests {
		t.Run(tt.opt.Text, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.opt.IsPlaceholder())
		})
	}
}

func TestFindOption(t *testing.T) {
	f := FieldDescriptor{Options: []Option{{Value: "ns", Text: "Not sure"}, {Value: "big", Text: "$50k+"}}}

	o, ok := f.FindOption("not sure")
	require.True(t, ok)
	assert.Equal(t, "ns", o.Value)

	o, ok = f.FindOption("BIG")
	require.True(t, ok)
	assert.Equal(t, "$50k+", o.Label())

	_, ok = f.FindOption("missing")
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "firstname", Normalize("First_Name"))
	assert.Equal(t, "youremail", Normalize("your-email "))
	assert.Equal(t, "phonenumber", Normalize("Phone Number"))
}

func TestMatchRoles(t *testing.T) {
	tests := []struct {
		name  string
		field FieldDescriptor
		want  []Role
	}{
		{"typed email", FieldDescriptor{Tag: "input", Type: "email", Name: "contact"}, []Role{RoleEmail}},
		{"named email", FieldDescriptor{Tag: "input", Type: "text", Name: "user_email"}, []Role{RoleEmail}},
		{"textarea", FieldDescriptor{Tag: "textarea", Name: "body"}, []Role{RoleMessage}},
		{"placeholder name", FieldDescriptor{Tag: "input", Placeholder: "Your name"}, []Role{RoleName}},
		{"company name excluded", FieldDescriptor{Tag: "input", Name: "company_name"}, nil},
		{"username excluded", FieldDescriptor{Tag: "input", Name: "username"}, nil},
		{"tel", FieldDescriptor{Tag: "input", Type: "tel"}, []Role{RolePhone}},
		{"subject", FieldDescriptor{Tag: "input", Name: "subject"}, []Role{RoleSubject}},
		{"checkbox ignored", FieldDescriptor{Tag: "input", Type: "checkbox", Name: "email_updates"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchRoles(tt.field))
		})
	}
}

func TestSumWeights(t *testing.T) {
	table := []WeightedKeyword{{"contact", 1}, {"inquir", 1}, {"quote", 2}}
	total, hits := SumWeights("contact us for inquiries, contact again", table)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"contact", "inquir"}, hits)
}

func TestAnalysis_Validate(t *testing.T) {
	page := fake.NewPage("https://acme.test")
	frame := page.AddFrame("https://forms.test/embed")

	ok := &Analysis{Scope: frame, Selector: "[data-cp-form=\"0\"]", FrameContext: browser.FrameIframe}
	assert.NoError(t, ok.Validate())

	mismatch := &Analysis{Scope: frame, Selector: "form", FrameContext: browser.FrameMain}
	assert.Error(t, mismatch.Validate())

	assert.Error(t, (&Analysis{Scope: page, Selector: "form"}).Validate())
	assert.Error(t, (&Analysis{Selector: "form", FrameContext: browser.FrameMain}).Validate())
	var nilAnalysis *Analysis
	assert.Error(t, nilAnalysis.Validate())
}

func TestBest(t *testing.T) {
	_, ok := Best([]Analysis{{Score: 3}, {Score: 1}})
	assert.False(t, ok)

	best, ok := Best([]Analysis{{Score: 12, Index: 1}, {Score: 5, Index: 0}})
	require.True(t, ok)
	assert.Equal(t, 1, best.Index)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, ContainsWord("search the site", "search"))
	assert.False(t, ContainsWord("our research team", "search"))
	assert.True(t, ContainsWord("research and search", "search"))
	assert.True(t, ContainsWord("send an inquiry", "inquir"))
	assert.True(t, ContainsWord("sign-up today", "up"))
	assert.False(t, ContainsWord("anything", ""))
}
