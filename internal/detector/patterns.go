package detector

import "github.com/contactpilot/contactpilot/internal/form"

// Score weights.
const (
	weightEmail   = 4
	weightMessage = 4
	weightName    = 2
	weightPhone   = 1
	weightSubject = 1
	weightSubmit  = 1
	weightAction  = 2

	maxPositive   = 3
	maxPenalty    = 5
	negativeUnit  = 2
	minFields     = 2
	maxFields     = 15
	crowdedFields = 2
)

// roleWeights maps each detected role onto its score contribution.
var roleWeights = map[form.Role]int{
	form.RoleEmail:   weightEmail,
	form.RoleMessage: weightMessage,
	form.RoleName:    weightName,
	form.RolePhone:   weightPhone,
	form.RoleSubject: weightSubject,
}

// positiveKeywords suggest the container is for inquiries. Each counts once
// and the total is capped at maxPositive.
var positiveKeywords = []form.WeightedKeyword{
	{Keyword: "contact", Weight: 1},
	{Keyword: "inquir", Weight: 1},
	{Keyword: "enquir", Weight: 1},
	{Keyword: "get in touch", Weight: 1},
	{Keyword: "reach out", Weight: 1},
	{Keyword: "support", Weight: 1},
	{Keyword: "feedback", Weight: 1},
	{Keyword: "consultation", Weight: 1},
	{Keyword: "quote", Weight: 1},
	{Keyword: "have a question", Weight: 1},
	{Keyword: "send us", Weight: 1},
	{Keyword: "write to us", Weight: 1},
	{Keyword: "talk to", Weight: 1},
	{Keyword: "request a demo", Weight: 1},
}

// negativeKeywords suggest another purpose. Each counts negativeUnit and the
// penalty is capped at maxPenalty.
var negativeKeywords = []form.WeightedKeyword{
	{Keyword: "newsletter", Weight: negativeUnit},
	{Keyword: "subscribe", Weight: negativeUnit},
	{Keyword: "login", Weight: negativeUnit},
	{Keyword: "log in", Weight: negativeUnit},
	{Keyword: "sign in", Weight: negativeUnit},
	{Keyword: "signup", Weight: negativeUnit},
	{Keyword: "sign up", Weight: negativeUnit},
	{Keyword: "register", Weight: negativeUnit},
	{Keyword: "password", Weight: negativeUnit},
	{Keyword: "search", Weight: negativeUnit},
	{Keyword: "cart", Weight: negativeUnit},
	{Keyword: "checkout", Weight: negativeUnit},
	{Keyword: "donate", Weight: negativeUnit},
	{Keyword: "stay updated", Weight: negativeUnit},
	{Keyword: "coupon", Weight: negativeUnit},
	{Keyword: "track order", Weight: negativeUnit},
}

// contactActions mark action URLs that post to a contact handler.
var contactActions = []string{
	"contact", "inquir", "enquir", "feedback", "support", "message",
	"formspree", "hsforms", "getform", "formsubmit", "basin", "wpcf7", "sendmail",
}

// contactBuilders are container classes or ids of common contact form
// plugins.
var contactBuilders = []string{
	"wpcf7", "contact-form", "contactform", "gform_wrapper", "wpforms", "hs-form", "ninja-forms",
}
