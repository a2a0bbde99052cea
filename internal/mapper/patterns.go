package mapper

// Profile keys consumed by the mapper.
const (
	keyFirstName = "firstName"
	keyLastName  = "lastName"
	keyFullName  = "fullName"
	keyEmail     = "email"
	keyPhone     = "phoneNumber"
	keyCompany   = "companyName"
	keySubject   = "subject"
	keyMessage   = "message"
	keyWebsite   = "websiteUrl"
)

// Confidence levels per resolution path.
const (
	confProfile     = 0.95
	confLearned     = 0.9
	confConsent     = 0.9
	confMarketing   = 0.85
	confRole        = 0.85
	confPlaceholder = 0.7
	confSafeOption  = 0.75
	confNeutral     = 0.6
	confCanned      = 0.6
	confAdditional  = 0.5
	confCheckbox    = 0.5
	confRequiredBox = 0.7
	confFirstOption = 0.4
	confAnyOption   = 0.3
	confGeneric     = 0.2
)

// profileAliases maps normalized field names onto profile keys.
var profileAliases = map[string]string{
	"firstname": keyFirstName, "fname": keyFirstName, "givenname": keyFirstName, "first": keyFirstName, "yourfirstname": keyFirstName,
	"lastname": keyLastName, "lname": keyLastName, "surname": keyLastName, "familyname": keyLastName, "last": keyLastName, "yourlastname": keyLastName,
	"name": keyFullName, "fullname": keyFullName, "yourname": keyFullName, "contactname": keyFullName,
	"email": keyEmail, "emailaddress": keyEmail, "youremail": keyEmail, "mail": keyEmail, "contactemail": keyEmail, "yourmail": keyEmail,
	"phone": keyPhone, "phonenumber": keyPhone, "tel": keyPhone, "telephone": keyPhone, "mobile": keyPhone, "yourphone": keyPhone, "cell": keyPhone,
	"company": keyCompany, "companyname": keyCompany, "organization": keyCompany, "organisation": keyCompany, "yourcompany": keyCompany, "business": keyCompany,
	"subject": keySubject, "yoursubject": keySubject, "topic": keySubject,
	"message": keyMessage, "yourmessage": keyMessage, "comments": keyMessage, "comment": keyMessage, "inquiry": keyMessage, "enquiry": keyMessage, "body": keyMessage,
	"website": keyWebsite, "websiteurl": keyWebsite, "url": keyWebsite, "site": keyWebsite, "yourwebsite": keyWebsite, "web": keyWebsite,
}

// textRole is one row of the role inference table for free-text fields.
type textRole struct {
	key      string
	keywords []string
	exclude  []string
}

// textRoles is evaluated in order; the first match wins.
var textRoles = []textRole{
	{key: keyEmail, keywords: []string{"email", "e-mail"}},
	{key: keyPhone, keywords: []string{"phone", "mobile", "telephone", "cell"}},
	{key: keyCompany, keywords: []string{"company", "organization", "organisation", "business", "firm"}},
	{key: keyWebsite, keywords: []string{"website", "url", "web site", "homepage", "domain"}},
	{key: keyFirstName, keywords: []string{"first", "fname", "given"}},
	{key: keyLastName, keywords: []string{"last", "lname", "surname", "family"}},
	{key: keySubject, keywords: []string{"subject", "topic", "regarding", "reason"}},
	{key: keyMessage, keywords: []string{"message", "comment", "inquiry", "enquiry", "question", "how can we help", "tell us", "describe", "project"}},
	{key: roleAdditional, keywords: []string{"additional", "anything else", "notes", "other info", "details"}},
	{key: keyFullName, keywords: []string{"name"}, exclude: []string{"user"}},
}

const roleAdditional = "additional"

var (
	cannedMessages = []string{
		"Hello, I would like to get in touch about working together. Please reach me using the contact details provided.",
		"Hi there, I have a question about your services and would appreciate a reply when convenient.",
		"Hello, please get back to me regarding a potential collaboration. Thank you.",
	}
	cannedSubjects = []string{
		"General inquiry",
		"Partnership inquiry",
		"Question about your services",
	}
	cannedAdditional = []string{
		"No additional information at this time.",
		"Nothing further, thank you.",
		"N/A",
	}
	genericText = []string{"N/A", "Not applicable", "-"}
)

// Checkbox keyword sets. Marketing is checked first so an opt-in that also
// says "agree" stays unchecked.
var (
	marketingKeywords = []string{
		"newsletter", "subscribe", "marketing", "promotional", "promotions", "special offers",
		"offers", "updates", "mailing list", "news and", "email me", "receive emails", "stay informed",
	}
	consentKeywords = []string{
		"terms", "privacy", "consent", "agree", "gdpr", "accept", "policy", "acknowledge",
		"data processing", "i have read", "confirm",
	}
)

// selectCategory picks a neutral answer for a common qualifying question.
type selectCategory struct {
	name     string
	keywords []string
	safe     []string
}

var selectCategories = []selectCategory{
	{
		name:     "referral",
		keywords: []string{"hear about", "hear of", "how did you find", "how did you learn", "referral", "referred", "found us", "source"},
		safe:     []string{"search engine", "google", "internet", "online", "web search", "other"},
	},
	{
		name:     "budget",
		keywords: []string{"budget", "price range", "spend", "investment"},
		safe:     []string{"not sure", "undecided", "prefer not", "tbd", "to be determined", "flexible", "other"},
	},
	{
		name:     "timeline",
		keywords: []string{"timeline", "timeframe", "time frame", "start date", "urgency", "deadline", "when"},
		safe:     []string{"not sure", "flexible", "no rush", "just exploring", "exploring", "other"},
	},
	{
		name:     "company_size",
		keywords: []string{"company size", "employees", "team size", "organization size", "headcount", "staff", "size"},
		safe:     []string{"1-10", "1 - 10", "1-5", "2-10", "small", "just me"},
	},
}

// neutralOptions are preferred by the select fallback.
var neutralOptions = []string{"other", "none", "n/a", "general"}
