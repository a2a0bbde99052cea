package filler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactpilot/contactpilot/internal/browser"
	"github.com/contactpilot/contactpilot/internal/browser/fake"
	"github.com/contactpilot/contactpilot/internal/domain"
	"github.com/contactpilot/contactpilot/internal/form"
	"github.com/contactpilot/contactpilot/internal/mapper"
)

const formSelector = `[data-cp-form="0"]`

type countingSweeper struct{ n int }

func (s *countingSweeper) Sweep(context.Context, browser.Page) int {
	s.n++
	return 0
}

func profile() map[string]string {
	return map[string]string{
		"firstName":   "Jane",
		"lastName":    "Doe",
		"email":       "jane@example.org",
		"phoneNumber": "+1 555 0100",
		"companyName": "Doe Consulting",
		"subject":     "Partnership",
		"message":     "Hello, I would like to talk about a partnership.",
	}
}

type fixture struct {
	page    *fake.Page
	fields  []form.FieldDescriptor
	store   *mapper.LearnedStore
	sweeper *countingSweeper
	filler  *Filler
}

func newFixture() *fixture {
	page := fake.NewPage("https://example.com/contact")
	page.Add(formSelector, &fake.Element{Visible: true})
	store := mapper.NewLearnedStore()
	sweeper := &countingSweeper{}
	return &fixture{
		page:    page,
		store:   store,
		sweeper: sweeper,
		filler:  New(mapper.New(store, nil), sweeper, Options{}, nil),
	}
}

// add registers a field descriptor and its fake element.
func (fx *fixture) add(f form.FieldDescriptor, el *fake.Element) *fake.Element {
	f.Selector = fmt.Sprintf(`[data-cp-field="%d"]`, len(fx.fields))
	f.Visible = true
	fx.fields = append(fx.fields, f)
	if el == nil {
		el = &fake.Element{Kind: "text", Visible: true}
	}
	return fx.page.Add(f.Selector, el)
}

func (fx *fixture) fill(t *testing.T) *Result {
	t.Helper()
	res, err := fx.filler.Fill(context.Background(), fx.request())
	require.NoError(t, err)
	return res
}

func (fx *fixture) request() Request {
	return Request{
		Page: fx.page,
		Form: &form.Analysis{
			Scope:        fx.page,
			Selector:     formSelector,
			Score:        11,
			FrameContext: browser.FrameMain,
			Fields:       fx.fields,
		},
		Profile: profile(),
		Domain:  "example.com",
	}
}

func TestFill_ContactForm(t *testing.T) {
	fx := newFixture()
	name := fx.add(form.FieldDescriptor{Tag: "input", Type: "text", Name: "name"}, nil)
	email := fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, nil)
	message := fx.add(form.FieldDescriptor{Tag: "textarea", Name: "message"}, nil)
	fx.fields = append(fx.fields, form.FieldDescriptor{Selector: "button", Tag: "button", Type: "submit", Visible: true})

	res := fx.fill(t)

	assert.True(t, res.Success)
	assert.True(t, res.Viable)
	assert.Equal(t, 3, res.Filled)
	assert.Empty(t, res.Errors)
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
	assert.Equal(t, "Jane Doe", name.Val)
	assert.Equal(t, "jane@example.org", email.Val)
	assert.Equal(t, profile()["message"], message.Val)
	assert.Subset(t, email.Events, []string{"focus", "input", "change", "blur"})

	learned := fx.store.Fields("example.com")
	assert.Equal(t, "jane@example.org", learned["email"])
	assert.Len(t, learned, 3)
}

func TestFill_SkipsPrefilledUnlessCritical(t *testing.T) {
	fx := newFixture()
	company := fx.add(form.FieldDescriptor{Tag: "input", Type: "text", Name: "company", CurrentValue: "Acme"}, &fake.Element{Kind: "text", Visible: true, Val: "Acme"})
	email := fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email", CurrentValue: "old@example.com"}, &fake.Element{Kind: "text", Visible: true, Val: "old@example.com"})

	res := fx.fill(t)

	assert.Equal(t, "Acme", company.Val)
	assert.Equal(t, "jane@example.org", email.Val)
	assert.Equal(t, []Skipped{{Field: "company", Reason: "prefilled"}}, res.Skipped)
	assert.True(t, res.Success)
}

func TestFill_RetriesWithAlternativeValue(t *testing.T) {
	fx := newFixture()
	fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, nil)
	subject := fx.add(form.FieldDescriptor{Tag: "input", Type: "text", Name: "subject"}, &fake.Element{Kind: "text", Visible: true, Reject: []string{"Partnership"}})

	res := fx.fill(t)

	require.Contains(t, res.Fields, "subject")
	s := res.Fields["subject"]
	assert.True(t, s.Forced)
	assert.NotEqual(t, "Partnership", s.Value)
	assert.Equal(t, s.Value, subject.Val)
	assert.Equal(t, 1, fx.sweeper.n, "a sweep runs before each retry")
	assert.True(t, res.Success)
}

func TestFill_FieldFailuresAreAbsorbed(t *testing.T) {
	fx := newFixture()
	fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, nil)
	// Radio options without selectors cannot be clicked.
	fx.add(form.FieldDescriptor{Tag: "input", Type: "radio", Name: "plan", Options: []form.Option{{Value: "a"}, {Value: "b"}, {Value: "c"}}}, nil)

	res := fx.fill(t)

	assert.Equal(t, 1, res.Filled)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "plan")
	assert.Equal(t, 2, fx.sweeper.n)
	assert.True(t, res.Success)
}

func TestFill_ChoiceControls(t *testing.T) {
	fx := newFixture()
	fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, nil)
	terms := fx.add(form.FieldDescriptor{Tag: "input", Type: "checkbox", Name: "terms", Label: "I accept the terms"}, &fake.Element{Kind: "checkbox", Visible: true})
	news := fx.add(form.FieldDescriptor{Tag: "input", Type: "checkbox", Name: "newsletter", Label: "Send me the newsletter", Checked: true}, &fake.Element{Kind: "checkbox", Visible: true, Checked: true})
	budget := fx.add(form.FieldDescriptor{
		Tag:  "select",
		Name: "budget",
		Options: []form.Option{
			{Value: "", Text: "Select budget"},
			{Value: "<$10k", Text: "<$10k"},
			{Value: "$10k-$50k", Text: "$10k-$50k"},
			{Value: "Not sure", Text: "Not sure"},
		},
	}, &fake.Element{Kind: "select", Visible: true, Options: []string{"", "<$10k", "$10k-$50k", "Not sure"}})
	google := &fake.Element{Kind: "radio", Visible: true}
	fx.page.Add(`#src-google`, google)
	fx.page.Add(`#src-friend`, &fake.Element{Kind: "radio", Visible: true})
	fx.add(form.FieldDescriptor{
		Tag:   "input",
		Type:  "radio",
		Name:  "source",
		Label: "How did you hear about us?",
		Options: []form.Option{
			{Value: "friend", Text: "A friend", Selector: `#src-friend`},
			{Value: "google", Text: "Google", Selector: `#src-google`},
		},
	}, nil)

	res := fx.fill(t)

	assert.Empty(t, res.Errors)
	assert.True(t, terms.Checked)
	assert.False(t, news.Checked, "marketing opt-ins are unchecked")
	assert.Equal(t, "Not sure", budget.Val)
	assert.True(t, google.Checked)
	assert.Equal(t, 5, res.Filled)
}

func TestFill_RequiredFieldUsesFallback(t *testing.T) {
	fx := newFixture()
	fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, nil)
	riddle := fx.add(form.FieldDescriptor{Tag: "input", Type: "text", Name: "q7", Required: true}, nil)
	fx.add(form.FieldDescriptor{Tag: "input", Type: "text", Name: "q8"}, nil)

	res := fx.fill(t)

	assert.Equal(t, "N/A", riddle.Val)
	assert.Equal(t, mapper.SourceGeneric, res.Fields["q7"].Source)
	assert.Equal(t, []Skipped{{Field: "q8", Reason: "no value"}}, res.Skipped)
}

func TestFill_FallsBackToDirectAssignment(t *testing.T) {
	fx := newFixture()
	email := fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, &fake.Element{Kind: "text", Visible: true, RejectTyping: true})

	res := fx.fill(t)

	assert.Equal(t, "jane@example.org", email.Val)
	assert.True(t, res.Success)
}

func TestFill_NotViableWithoutContactChannel(t *testing.T) {
	fx := newFixture()
	fx.add(form.FieldDescriptor{Tag: "input", Type: "text", Name: "company"}, nil)

	res := fx.fill(t)

	assert.Equal(t, 1, res.Filled)
	assert.False(t, res.Viable)
	assert.False(t, res.Success)
	assert.Zero(t, fx.store.Domains(), "nothing is learned from an unsuccessful fill")
}

func TestFill_Preconditions(t *testing.T) {
	t.Run("detached form", func(t *testing.T) {
		fx := newFixture()
		fx.page.Remove(formSelector)
		_, err := fx.filler.Fill(context.Background(), fx.request())
		assert.ErrorIs(t, err, domain.ErrFieldFill)
	})

	t.Run("hidden form", func(t *testing.T) {
		fx := newFixture()
		fx.page.Add(formSelector, &fake.Element{Visible: false})
		_, err := fx.filler.Fill(context.Background(), fx.request())
		assert.ErrorIs(t, err, domain.ErrFieldFill)
	})

	t.Run("frame mismatch", func(t *testing.T) {
		fx := newFixture()
		req := fx.request()
		req.Form.FrameContext = browser.FrameIframe
		_, err := fx.filler.Fill(context.Background(), req)
		assert.ErrorIs(t, err, domain.ErrFieldFill)
	})

	t.Run("obscured form is cleared", func(t *testing.T) {
		fx := newFixture()
		fx.add(form.FieldDescriptor{Tag: "input", Type: "email", Name: "email"}, nil)
		fx.page.Handle(obscuredScript.Name, func(any) (any, error) {
			return map[string]any{"found": true, "obscured": true}, nil
		})
		fx.page.Handle(clearObstructionScript.Name, func(any) (any, error) { return 2, nil })

		res := fx.fill(t)

		assert.Equal(t, 1, fx.page.Count(clearObstructionScript.Name))
		assert.True(t, res.Success)
	})
}

func TestViable(t *testing.T) {
	email := form.FieldDescriptor{Tag: "input", Type: "email", Name: "email", Visible: true}
	name := form.FieldDescriptor{Tag: "input", Type: "text", Name: "full_name", Visible: true}
	msg := form.FieldDescriptor{Tag: "textarea", Name: "body", Visible: true}
	fields := []form.FieldDescriptor{email, name, msg}

	tests := []struct {
		name   string
		values map[string]string
		want   bool
	}{
		{"plausible email", map[string]string{"email": "a@b.co"}, true},
		{"implausible email", map[string]string{"email": "not-an-email"}, false},
		{"message and name", map[string]string{"full_name": "Jane", "body": "I have a question for you"}, true},
		{"short message", map[string]string{"full_name": "Jane", "body": "hi"}, false},
		{"message without name", map[string]string{"body": "I have a question for you"}, false},
		{"nothing", map[string]string{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Viable(fields, tt.values))
		})
	}
}

func TestHolds(t *testing.T) {
	ctx := context.Background()
	page := fake.NewPage("https://example.com")
	el := page.Add("#phone", &fake.Element{Val: "(555) 010-0123"})

	assert.True(t, holds(ctx, page.Element("#phone"), "+1 555 010 0123"))
	el.Val = "something else"
	assert.False(t, holds(ctx, page.Element("#phone"), "+1 555 010 0123"))
}
