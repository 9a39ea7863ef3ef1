// Package cookies resolves a usable authentication cookie set for a
// target domain, either from an explicit Netscape-format cookie file or
// from a named browser profile. Profile cookie databases are never
// decrypted here; profile resolution only locates the profile so the
// external fetch tool can extract from it itself.
package cookies

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"talkgrab"
)

// A Selector names where cookies come from. CookiesFile, when set,
// overrides profile lookup entirely.
type Selector struct {
	Browser     string
	Profile     string
	CookiesFile string
}

type Provider struct {
	selector Selector
	store    profileStore
	log      *zap.SugaredLogger
}

func NewProvider(selector Selector) *Provider {
	return &Provider{
		selector: selector,
		store:    newProfileStore(selector.Browser),
		log:      zap.S().Named("cookies"),
	}
}

// Resolve returns the cookie set applicable to domain. When no explicit
// cookie file is configured the browser's cookie store cannot be read
// directly, so the set is empty and talkgrab.ErrCookieUnavailable is
// returned; callers degrade to anonymous fetching (the fetch tool still
// gets the profile reference via Profile).
func (p *Provider) Resolve(domain string) (talkgrab.CookieSet, error) {
	set := talkgrab.CookieSet{Domain: domain}
	if p.selector.CookiesFile == "" {
		if _, err := p.Profile(); err != nil {
			return set, fmt.Errorf("%w: %v", talkgrab.ErrCookieUnavailable, err)
		}
		// A profile exists but its cookie database is opaque to us.
		return set, fmt.Errorf("%w: profile cookies are only readable by the fetch tool", talkgrab.ErrCookieUnavailable)
	}

	f, err := os.Open(p.selector.CookiesFile)
	if err != nil {
		return set, fmt.Errorf("%w: %v", talkgrab.ErrCookieUnavailable, err)
	}
	defer f.Close()

	all, err := ParseNetscape(f)
	if err != nil {
		return set, fmt.Errorf("%w: %v", talkgrab.ErrCookieUnavailable, err)
	}
	for _, c := range all {
		if talkgrab.MatchesDomain(c.Domain, domain) {
			set.Cookies = append(set.Cookies, c)
		}
	}
	if set.IsEmpty() {
		return set, fmt.Errorf("%w: %s has no cookies for %s", talkgrab.ErrCookieUnavailable, p.selector.CookiesFile, domain)
	}
	p.log.Debugw("resolved cookies", "domain", domain, "count", len(set.Cookies))
	return set, nil
}

// Profile resolves the browser profile directory name to hand to the
// external fetch tool for its own cookie extraction.
func (p *Provider) Profile() (string, error) {
	return p.store.findProfile(p.selector.Profile)
}

// Browser returns the configured browser name.
func (p *Provider) Browser() string { return p.selector.Browser }

// FromFile reports whether cookies come from an explicit file rather than
// a browser profile.
func (p *Provider) FromFile() bool { return p.selector.CookiesFile != "" }
