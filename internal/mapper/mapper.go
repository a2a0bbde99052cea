// Package mapper proposes values for form fields from a user profile,
// previously learned mappings and a library of field patterns.
package mapper

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/contactpilot/contactpilot/internal/form"
)

// Source names the resolution path a suggestion came from.
type Source string

const (
	SourceProfile  Source = "profile"
	SourceLearned  Source = "learned"
	SourcePattern  Source = "pattern"
	SourceFallback Source = "fallback"
	SourceGeneric  Source = "generic"
)

// Suggestion is a proposed value. Found is false when no candidate remains.
// Checkbox values are "true" or "false"; select and radio values are option
// values.
type Suggestion struct {
	Value      string
	Confidence float64
	Source     Source
	Found      bool
	Forced     bool
}

// Request carries the per-submission inputs of a suggestion.
type Request struct {
	Profile map[string]string
	Domain  string
	// Previous lists values already rejected for this field in the current
	// submission. They are never proposed again.
	Previous []string
}

// Mapper resolves field values.
type Mapper struct {
	learned *LearnedStore
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a mapper backed by store.
func New(store *LearnedStore, logger *zap.Logger) *Mapper {
	if store == nil {
		store = NewLearnedStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{learned: store, logger: logger, now: time.Now}
}

// Store exposes the learned mapping store.
func (m *Mapper) Store() *LearnedStore {
	return m.learned
}

// Suggest returns the best value for f that has not been tried yet. When the
// preferred candidates were all tried, the next one is returned with its
// confidence halved.
func (m *Mapper) Suggest(f form.FieldDescriptor, req Request) Suggestion {
	return pick(m.candidates(f, req), req.Previous)
}

// Fallback returns a generic value for a required field nothing else could
// fill.
func (m *Mapper) Fallback(f form.FieldDescriptor, req Request) Suggestion {
	return pick(m.generic(f, req.Profile), req.Previous)
}

// Learn records the values of a successful fill for domain.
func (m *Mapper) Learn(domain string, used map[string]string) {
	if len(used) == 0 {
		return
	}
	m.learned.Put(domain, used)
	m.logger.Debug("learned field mappings",
		zap.String("domain", normalizeDomain(domain)),
		zap.Int("fields", len(used)),
	)
}

func pick(candidates []Suggestion, previous []string) Suggestion {
	tried := make(map[string]bool, len(previous))
	for _, p := range previous {
		tried[strings.ToLower(strings.TrimSpace(p))] = true
	}
	seen := make(map[string]bool, len(candidates))
	forced := false
	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Value))
		if c.Value == "" || seen[key] {
			continue
		}
		seen[key] = true
		if tried[key] {
			forced = true
			continue
		}
		c.Found = true
		if forced {
			c.Confidence /= 2
			c.Forced = true
		}
		return c
	}
	return Suggestion{}
}

// candidates lists every value worth trying for f, best first.
func (m *Mapper) candidates(f form.FieldDescriptor, req Request) []Suggestion {
	var out []Suggestion
	add := func(v string, conf float64, src Source) {
		if v != "" {
			out = append(out, Suggestion{Value: v, Confidence: conf, Source: src})
		}
	}

	switch f.Class() {
	case form.ClassCheckbox:
		if v, ok := m.learned.Get(req.Domain, f.Key()); ok && (v == "true" || v == "false") {
			add(v, confLearned, SourceLearned)
		}
		target, conf, src := checkboxDefault(f)
		add(target, conf, src)
		// Opt-ins are never ticked by retry; a required one reaches Fallback.
		if !marketing(f) {
			add(opposite(target), confCheckbox, SourceFallback)
		}
		return out

	case form.ClassSelect, form.ClassRadio:
		options := f.RealOptions()
		if key, ok := profileKey(f); ok {
			if o, ok := findOption(options, profileValue(req.Profile, key)); ok {
				add(o.Choice(), confProfile, SourceProfile)
			}
		}
		if v, ok := m.learned.Get(req.Domain, f.Key()); ok {
			if o, ok := findOption(options, v); ok {
				add(o.Choice(), confLearned, SourceLearned)
			}
		}
		if o, conf, ok := patternOption(f, options); ok {
			add(o.Choice(), conf, SourcePattern)
		}
		if o, ok := neutralOption(options); ok {
			add(o.Choice(), confNeutral, SourceFallback)
		}
		for _, o := range options {
			add(o.Choice(), confAnyOption, SourceFallback)
		}
		return out
	}

	// Free text.
	if key, ok := profileKey(f); ok {
		add(profileValue(req.Profile, key), confProfile, SourceProfile)
	}
	if v, ok := m.learned.Get(req.Domain, f.Key()); ok {
		add(v, confLearned, SourceLearned)
	}
	role := inferRole(f)
	switch role {
	case keyMessage:
		add(profileValue(req.Profile, keyMessage), confRole, SourcePattern)
		for _, c := range cannedMessages {
			add(c, confCanned, SourceFallback)
		}
	case keySubject:
		add(profileValue(req.Profile, keySubject), confRole, SourcePattern)
		for _, c := range cannedSubjects {
			add(c, confCanned, SourceFallback)
		}
	case roleAdditional:
		for _, c := range cannedAdditional {
			add(c, confAdditional, SourceFallback)
		}
	case "":
		if key, ok := placeholderGuess(f.Placeholder); ok {
			add(profileValue(req.Profile, key), confPlaceholder, SourcePattern)
		}
	default:
		add(profileValue(req.Profile, role), confRole, SourcePattern)
	}
	return out
}

// generic lists type-driven last-resort values for required fields.
func (m *Mapper) generic(f form.FieldDescriptor, profile map[string]string) []Suggestion {
	var out []Suggestion
	add := func(v string) {
		if v != "" {
			out = append(out, Suggestion{Value: v, Confidence: confGeneric, Source: SourceGeneric})
		}
	}

	switch f.Class() {
	case form.ClassCheckbox:
		add("true")
		return out
	case form.ClassSelect, form.ClassRadio:
		for _, o := range f.RealOptions() {
			add(o.Choice())
		}
		return out
	case form.ClassEmail:
		add(profile[keyEmail])
		return out
	case form.ClassTel:
		add(profile[keyPhone])
		add("0000000000")
		return out
	case form.ClassTextarea:
		add(profile[keyMessage])
		for _, c := range cannedMessages {
			add(c)
		}
		return out
	}

	switch strings.ToLower(f.Type) {
	case "number":
		add("1")
		add("0")
	case "url":
		add(profile[keyWebsite])
		add("https://example.com")
	case "date":
		add(m.now().Format("2006-01-02"))
	default:
		for _, c := range genericText {
			add(c)
		}
	}
	return out
}

// profileKey resolves f's name, id or label against the profile aliases.
func profileKey(f form.FieldDescriptor) (string, bool) {
	for _, raw := range []string{f.Name, f.ID, strings.TrimRight(f.Label, " *:")} {
		n := form.Normalize(raw)
		if n == "" {
			continue
		}
		if key, ok := profileAliases[n]; ok {
			return key, true
		}
		for _, key := range []string{keyFirstName, keyLastName, keyEmail, keyPhone, keyCompany, keySubject, keyMessage, keyWebsite} {
			if n == form.Normalize(key) {
				return key, true
			}
		}
	}
	return "", false
}

// profileValue reads key from the profile, composing the full name.
func profileValue(profile map[string]string, key string) string {
	if key == keyFullName {
		return strings.TrimSpace(profile[keyFirstName] + " " + profile[keyLastName])
	}
	return profile[key]
}

// inferRole matches the free-text role table against name, id, placeholder
// and label. Textareas default to message.
func inferRole(f form.FieldDescriptor) string {
	switch f.Class() {
	case form.ClassEmail:
		return keyEmail
	case form.ClassTel:
		return keyPhone
	}
	hay := f.Haystack()
	for _, r := range textRoles {
		if len(form.MatchKeywords(hay, r.keywords)) > 0 && len(form.MatchKeywords(hay, r.exclude)) == 0 {
			return r.key
		}
	}
	if f.Class() == form.ClassTextarea {
		return keyMessage
	}
	return ""
}

var (
	emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)
	phoneShape = regexp.MustCompile(`^[\d\s()+\-.xX]{7,}$`)
)

// placeholderGuess infers a role from the shape of an example placeholder.
func placeholderGuess(placeholder string) (string, bool) {
	p := strings.TrimSpace(placeholder)
	switch {
	case p == "":
		return "", false
	case emailShape.MatchString(p):
		return keyEmail, true
	case phoneShape.MatchString(p):
		return keyPhone, true
	case strings.HasPrefix(strings.ToLower(p), "http://"), strings.HasPrefix(strings.ToLower(p), "https://"), strings.HasPrefix(strings.ToLower(p), "www."):
		return keyWebsite, true
	}
	return "", false
}

func marketing(f form.FieldDescriptor) bool {
	return len(form.MatchKeywords(f.Haystack(), marketingKeywords)) > 0
}

func checkboxDefault(f form.FieldDescriptor) (string, float64, Source) {
	switch {
	case marketing(f):
		return "false", confMarketing, SourcePattern
	case len(form.MatchKeywords(f.Haystack(), consentKeywords)) > 0:
		return "true", confConsent, SourcePattern
	case f.Required:
		return "true", confRequiredBox, SourceFallback
	}
	return "false", confCheckbox, SourceFallback
}

func opposite(v string) string {
	if v == "true" {
		return "false"
	}
	return "true"
}

// patternOption answers known qualifying questions with the first option
// whose text is on the category's neutral list.
func patternOption(f form.FieldDescriptor, options []form.Option) (form.Option, float64, bool) {
	if len(options) == 0 {
		return form.Option{}, 0, false
	}
	hay := f.Haystack()
	for _, cat := range selectCategories {
		if len(form.MatchKeywords(hay, cat.keywords)) == 0 {
			continue
		}
		for _, o := range options {
			if len(form.MatchKeywords(strings.ToLower(o.Label()), cat.safe)) > 0 {
				return o, confSafeOption, true
			}
		}
		return options[0], confFirstOption, true
	}
	return form.Option{}, 0, false
}

func neutralOption(options []form.Option) (form.Option, bool) {
	for _, o := range options {
		if len(form.MatchKeywords(strings.ToLower(o.Label()), neutralOptions)) > 0 {
			return o, true
		}
	}
	return form.Option{}, false
}

func findOption(options []form.Option, v string) (form.Option, bool) {
	want := strings.ToLower(strings.TrimSpace(v))
	if want == "" {
		return form.Option{}, false
	}
	for _, o := range options {
		if strings.ToLower(o.Value) == want || strings.ToLower(o.Label()) == want {
			return o, true
		}
	}
	return form.Option{}, false
}
