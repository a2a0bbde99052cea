package form

import (
	"strings"
)

// Role is a semantic bucket the detector scores on.
type Role string

const (
	RoleEmail   Role = "email"
	RoleName    Role = "name"
	RoleMessage Role = "message"
	RolePhone   Role = "phone"
	RoleSubject Role = "subject"
)

// RolePattern assigns Role to fields whose type or tag is in Types, or whose
// name, id or placeholder contains one of Keywords and none of Exclude.
type RolePattern struct {
	Role     Role
	Types    []string
	Keywords []string
	Exclude  []string
}

// RolePatterns is evaluated by MatchRoles.
var RolePatterns = []RolePattern{
	{
		Role:     RoleEmail,
		Types:    []string{"email"},
		Keywords: []string{"email", "e-mail", "e_mail"},
	},
	{
		Role:     RoleName,
		Keywords: []string{"name", "fname", "lname", "first", "last", "surname", "fullname"},
		Exclude:  []string{"user", "company", "business", "organi", "firm", "domain", "host", "file"},
	},
	{
		Role:     RoleMessage,
		Types:    []string{"textarea"},
		Keywords: []string{"message", "comment", "inquiry", "enquiry", "question", "msg", "how can we help", "your request"},
	},
	{
		Role:     RolePhone,
		Types:    []string{"tel"},
		Keywords: []string{"phone", "telephone", "mobile", "cell", "tel"},
		Exclude:  []string{"hotel", "intel"},
	},
	{
		Role:     RoleSubject,
		Keywords: []string{"subject", "topic", "regarding", "reason for"},
	},
}

// MatchRoles returns the roles a field belongs to. Choice controls, hidden
// inputs and buttons carry no role.
func MatchRoles(f FieldDescriptor) []Role {
	switch f.Class() {
	case ClassCheckbox, ClassRadio, ClassSubmit, ClassHidden, ClassOther:
		return nil
	}
	typ := strings.ToLower(f.Type)
	tag := strings.ToLower(f.Tag)
	ident := f.IdentHaystack()

	var roles []Role
	for _, p := range RolePatterns {
		if matchesType(p.Types, typ, tag) || (len(MatchKeywords(ident, p.Keywords)) > 0 && len(MatchKeywords(ident, p.Exclude)) == 0) {
			roles = append(roles, p.Role)
		}
	}
	return roles
}

// HasRole reports whether f matches role.
func HasRole(f FieldDescriptor, role Role) bool {
	for _, r := range MatchRoles(f) {
		if r == role {
			return true
		}
	}
	return false
}

func matchesType(types []string, typ, tag string) bool {
	for _, t := range types {
		if t == typ || t == tag {
			return true
		}
	}
	return false
}

// MatchKeywords returns the distinct keywords found in haystack. haystack is
// expected to be lowercased already.
func MatchKeywords(haystack string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// WeightedKeyword pairs a keyword with its contribution to a score.
type WeightedKeyword struct {
	Keyword string
	Weight  int
}

// SumWeights adds the weights of every keyword that starts a word in
// haystack, each keyword counted once.
func SumWeights(haystack string, table []WeightedKeyword) (int, []string) {
	total := 0
	var hits []string
	for _, w := range table {
		if ContainsWord(haystack, w.Keyword) {
			total += w.Weight
			hits = append(hits, w.Keyword)
		}
	}
	return total, hits
}

// ContainsWord reports whether kw occurs in haystack at the start of a word,
// so "search" does not match "research".
func ContainsWord(haystack, kw string) bool {
	if kw == "" {
		return false
	}
	for offset := 0; offset < len(haystack); {
		i := strings.Index(haystack[offset:], kw)
		if i < 0 {
			return false
		}
		at := offset + i
		if at == 0 || !isWordByte(haystack[at-1]) {
			return true
		}
		offset = at + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
