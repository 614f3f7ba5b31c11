package cookies

import (
	"fmt"
	"sort"
	"strings"
)

// Cookie is a single record of a browser cookie jar, reduced to the fields the
// Netscape cookie file format can carry.
type Cookie struct {
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"http_only"`
	// Expires is the expiry in epoch seconds. Zero marks a session cookie.
	Expires int64  `json:"expires"`
	Name    string `json:"name"`
	Value   string `json:"value"`
}

// IncludeSubdomains reports whether the cookie is a domain cookie (leading dot),
// which is what the second Netscape column encodes.
func (c Cookie) IncludeSubdomains() bool {
	return strings.HasPrefix(c.Domain, ".")
}

// IsSession reports whether the cookie has no expiry.
func (c Cookie) IsSession() bool {
	return c.Expires == 0
}

// Validate checks that the cookie can be written to a line-oriented,
// tab-separated file and read back unchanged.
func (c Cookie) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cookie has an empty name")
	}
	if c.Domain == "" {
		return fmt.Errorf("cookie %q has an empty domain", c.Name)
	}
	if strings.HasPrefix(c.Domain, "#") {
		return fmt.Errorf("cookie %q domain would be read back as a comment", c.Name)
	}
	if c.Expires < 0 {
		return fmt.Errorf("cookie %q has a negative expiry", c.Name)
	}
	for field, v := range map[string]string{"domain": c.Domain, "path": c.Path, "name": c.Name, "value": c.Value} {
		if strings.ContainsAny(v, "\t\r\n") {
			return fmt.Errorf("cookie %q: %s contains a tab or line break", c.Name, field)
		}
	}
	return nil
}

// Sort orders cookies by domain, path and name. Extraction uses it so that the
// encoded form of an unchanged jar is byte-identical between runs.
func Sort(cs []Cookie) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Domain != cs[j].Domain {
			return cs[i].Domain < cs[j].Domain
		}
		if cs[i].Path != cs[j].Path {
			return cs[i].Path < cs[j].Path
		}
		return cs[i].Name < cs[j].Name
	})
}

// DefaultRequired lists the session cookies the bot needs for authenticated
// playback requests.
var DefaultRequired = []string{"LOGIN_INFO", "SID", "HSID", "SSID", "VISITOR_INFO1_LIVE"}

// MissingRequired returns the names from required that do not appear in cs,
// preserving the order of required.
func MissingRequired(cs []Cookie, required []string) []string {
	present := make(map[string]struct{}, len(cs))
	for _, c := range cs {
		present[c.Name] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
