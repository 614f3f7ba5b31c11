package browser

import (
	"strings"

	"github.com/chromedp/cdproto/network"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
)

// jarFilter decides which browser cookies belong in the artifact.
type jarFilter struct {
	excluded map[string]struct{}
	domains  map[string]struct{}
}

func newJarFilter(excluded, domains []string) jarFilter {
	f := jarFilter{
		excluded: make(map[string]struct{}, len(excluded)),
		domains:  make(map[string]struct{}, len(domains)),
	}
	for _, name := range excluded {
		f.excluded[name] = struct{}{}
	}
	for _, d := range domains {
		f.domains[strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))] = struct{}{}
	}
	return f
}

// keep reports whether a cookie with this name and domain is retained. The
// domain is compared by registrable domain, so "accounts.google.com" and
// ".google.com" both match "google.com".
func (f jarFilter) keep(name, domain string) bool {
	if _, skip := f.excluded[name]; skip {
		return false
	}
	if len(f.domains) == 0 {
		return true
	}
	host := strings.ToLower(strings.TrimPrefix(domain, "."))
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	_, ok := f.domains[etld1]
	return ok
}

// apply converts the CDP jar into sorted artifact cookies.
func (f jarFilter) apply(raw []*network.Cookie) []cookies.Cookie {
	out := make([]cookies.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil || !f.keep(c.Name, c.Domain) {
			continue
		}
		out = append(out, convertCookie(c))
	}
	cookies.Sort(out)
	return out
}

// convertCookie maps a CDP cookie onto the Netscape model. CDP reports session
// cookies with Session set and an expiry of -1.
func convertCookie(c *network.Cookie) cookies.Cookie {
	var expires int64
	if !c.Session && c.Expires > 0 {
		expires = int64(c.Expires)
	}
	path := c.Path
	if path == "" {
		path = "/"
	}
	return cookies.Cookie{
		Domain:   c.Domain,
		Path:     path,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		Expires:  expires,
		Name:     c.Name,
		Value:    c.Value,
	}
}
