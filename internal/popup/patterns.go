package popup

// Pass is one category of interstitial, handled in priority order.
type Pass string

const (
	PassCookie  Pass = "cookie"
	PassPromo   Pass = "promo"
	PassChat    Pass = "chat"
	PassSpecial Pass = "special"
	PassBlocker Pass = "blocker"
)

// passOrder is the priority order of a round.
var passOrder = []Pass{PassCookie, PassPromo, PassChat, PassSpecial, PassBlocker}

// Blocker thresholds.
const (
	blockerMinZIndex  = 1000
	blockerMinCover   = 0.3
	blockerMaxText    = 100
	minHitTestable    = 3
	fingerprintTextLn = 40
)

// scanSelectors are the containers the scan script reports in addition to
// every high z-index positioned element.
var scanSelectors = []string{
	"[id*=cookie i]", "[class*=cookie i]", "[id*=consent i]", "[class*=consent i]", "[id*=gdpr i]", "[class*=gdpr i]",
	"#onetrust-banner-sdk", "#CybotCookiebotDialog", "#didomi-host", "#usercentrics-root",
	"[role=dialog]", "[role=alertdialog]", "[aria-modal=true]",
	"[class*=modal i]", "[class*=popup i]", "[class*=lightbox i]", "[class*=overlay i]",
	"[id*=intercom i]", "[class*=intercom i]", "#drift-widget", "#drift-frame-controller", "[class*=crisp-client]",
	"[id*=tawk i]", "#hubspot-messages-iframe-container", "[id*=livechat i]", "[class*=livechat i]", "#launcher",
	"[id*=tidio i]", "[class*=chat-widget i]", "[class*=chatwidget i]", "[id*=freshchat i]",
}

// consentHosts are the root ids of consent platforms whose banner may sit in
// a static wrapper.
var consentHosts = map[string]bool{
	"onetrust-banner-sdk":  true,
	"onetrust-consent-sdk": true,
	"cybotcookiebotdialog": true,
	"didomi-host":          true,
	"usercentrics-root":    true,
}

var (
	cookieKeywords = []string{
		"cookie", "consent", "gdpr", "onetrust", "cookiebot", "didomi", "usercentrics", "truste", "quantcast",
		"privacy preferences", "privacy settings",
	}
	acceptKeywords = []string{
		"accept all", "allow all", "accept cookies", "accept", "agree", "allow", "got it", "ok", "okay",
		"i understand", "understood", "continue", "yes",
	}
	rejectKeywords = []string{
		"reject", "decline", "deny", "refuse", "only necessary", "necessary only", "essential only",
		"manage", "settings", "preferences", "customi", "more info", "learn more", "options",
	}
	promoKeywords = []string{
		"newsletter", "subscribe", "discount", "% off", "coupon", "promo", "special offer", "sale", "deal",
		"sign up", "signup", "join our", "exclusive", "free shipping", "don't miss", "limited time",
	}
	closeKeywords = []string{
		"close", "dismiss", "no thanks", "no, thanks", "no thank you", "maybe later", "not now", "skip",
		"continue without", "×", "✕", "✖",
	}
	chatKeywords = []string{
		"intercom", "drift", "crisp", "tawk", "livechat", "live-chat", "zendesk", "zopim", "hubspot-messages",
		"tidio", "olark", "freshchat", "chat-widget", "chatwidget", "messenger",
	}
)

// specialGate is a blocking prompt answered with a confirm affordance.
type specialGate struct {
	name     string
	keywords []string
	confirm  []string
}

var specialGates = []specialGate{
	{
		name:     "age",
		keywords: []string{"are you 18", "are you 21", "age verification", "verify your age", "of legal age", "legal drinking age", "enter your birth", "over 18", "over 21"},
		confirm:  []string{"yes", "i am", "i'm over", "enter", "confirm", "continue"},
	},
	{
		name:     "location",
		keywords: []string{"select your country", "choose your country", "select your region", "choose your region", "confirm your location", "country/region", "you appear to be", "shipping to"},
		confirm:  []string{"continue", "stay", "confirm", "ok", "yes", "go", "save"},
	},
	{
		name:     "notification",
		keywords: []string{"notification", "push messages", "allow notifications", "send you notifications"},
		confirm:  []string{"no thanks", "not now", "later", "block", "don't allow", "deny", "close"},
	},
}
