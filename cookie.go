package talkgrab

import (
	"strings"
	"time"
)

// A Cookie is a single browser cookie as found in a Netscape-format
// cookie file.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
}

// A CookieSet is the authentication state for one domain, resolved by the
// cookie provider and consumed read-only by strategies. It lives only for
// the duration of an orchestrator run.
type CookieSet struct {
	Domain  string
	Cookies []Cookie
}

func (cs CookieSet) IsEmpty() bool { return len(cs.Cookies) == 0 }

// MatchesDomain reports whether a cookie scoped to cookieDomain applies to
// domain, following the usual leading-dot wildcard convention.
func MatchesDomain(cookieDomain, domain string) bool {
	cookieDomain = strings.ToLower(strings.TrimSpace(cookieDomain))
	domain = strings.ToLower(strings.TrimSpace(domain))
	if cookieDomain == "" || domain == "" {
		return false
	}
	trimmed := strings.TrimPrefix(cookieDomain, ".")
	if trimmed == domain {
		return true
	}
	return strings.HasSuffix(domain, "."+trimmed)
}
