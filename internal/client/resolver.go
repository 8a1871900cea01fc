package client

import "strings"

// uaRule matches a user agent when all of its tokens appear (case
// insensitive). Rules are evaluated in order and the first match wins, so
// platform-specific tokens must precede generic browser tokens: "Safari"
// appears inside almost every WebKit-derived agent string.
type uaRule struct {
	name    string
	tokens  []string
	profile func() *Capabilities
}

var uaRules = []uaRule{
	// Platforms first.
	{name: "iphone", tokens: []string{"iphone"}, profile: appleMobileProfile},
	{name: "ipad", tokens: []string{"ipad"}, profile: appleMobileProfile},
	{name: "apple-tv", tokens: []string{"apple tv"}, profile: appleTVProfile},
	{name: "apple-tv-alt", tokens: []string{"appletv"}, profile: appleTVProfile},
	// Android sub-brands before plain Android.
	{name: "fire-tv", tokens: []string{"aftt"}, profile: fireTVProfile},
	{name: "fire-tv-alt", tokens: []string{"fire tv"}, profile: fireTVProfile},
	{name: "chromecast", tokens: []string{"crkey"}, profile: chromecastProfile},
	{name: "chromecast-alt", tokens: []string{"chromecast"}, profile: chromecastProfile},
	{name: "android-tv", tokens: []string{"android", "tv"}, profile: androidTVProfile},
	{name: "android", tokens: []string{"android"}, profile: androidMobileProfile},
	// Smart TV and console platforms.
	{name: "roku", tokens: []string{"roku"}, profile: rokuProfile},
	{name: "tizen", tokens: []string{"tizen"}, profile: tizenProfile},
	{name: "webos", tokens: []string{"web0s"}, profile: webOSProfile},
	{name: "webos-alt", tokens: []string{"webos"}, profile: webOSProfile},
	{name: "playstation", tokens: []string{"playstation"}, profile: consoleProfile},
	{name: "xbox", tokens: []string{"xbox"}, profile: consoleProfile},
	// Generic desktop browsers last. Edge before Chrome (Edge UAs contain
	// "Chrome"), Chrome before Safari (Chrome UAs contain "Safari").
	{name: "edge", tokens: []string{"edg"}, profile: edgeProfile},
	{name: "chrome", tokens: []string{"chrome"}, profile: chromeProfile},
	{name: "safari", tokens: []string{"safari"}, profile: safariProfile},
	{name: "firefox", tokens: []string{"firefox"}, profile: firefoxProfile},
}

// Resolve maps a user-agent string to device capabilities. It always
// succeeds: unrecognized agents get the minimal unknown profile.
func Resolve(userAgent string) *Capabilities {
	ua := strings.ToLower(userAgent)
	for _, rule := range uaRules {
		if matchesAll(ua, rule.tokens) {
			return rule.profile()
		}
	}
	return unknownProfile()
}

func matchesAll(ua string, tokens []string) bool {
	for _, tok := range tokens {
		if !strings.Contains(ua, tok) {
			return false
		}
	}
	return true
}
