package browser

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/xkilldash9x/cookiekeeper/internal/config"
)

// loginStatus is what one look at the page says about a login in progress.
type loginStatus int

const (
	loginPending loginStatus = iota
	loginSucceeded
	loginChallenged
)

// loginMatcher classifies pages by URL patterns. Patterns are matched as
// substrings of host+path only, so a success host that appears in a query
// parameter (continue=https://www.youtube.com/...) never counts.
type loginMatcher struct {
	success   []string
	challenge []string
}

func newLoginMatcher(cfg config.BrowserConfig) loginMatcher {
	return loginMatcher{success: cfg.SuccessURLPatterns, challenge: cfg.ChallengeURLPatterns}
}

// classify checks the current location and whether a challenge element is on
// the page. Challenges win over success.
func (m loginMatcher) classify(location string, challengeVisible bool) loginStatus {
	if challengeVisible {
		return loginChallenged
	}
	target := location
	if u, err := url.Parse(location); err == nil && u.Host != "" {
		target = strings.ToLower(u.Host) + u.Path
	}
	for _, p := range m.challenge {
		if p != "" && strings.Contains(target, p) {
			return loginChallenged
		}
	}
	for _, p := range m.success {
		if p != "" && strings.Contains(target, p) {
			return loginSucceeded
		}
	}
	return loginPending
}

// challengeCheck returns a script that evaluates to true when any of the
// selectors matches an element on the page.
func challengeCheck(selectors []string) string {
	if len(selectors) == 0 {
		return "false"
	}
	data, _ := json.Marshal(selectors)
	return "(" + string(data) + ").some(function (s) { try { return !!document.querySelector(s); } catch (e) { return false; } })"
}

// redactQuery strips the query and fragment from a URL before it is logged;
// login URLs carry session tokens there.
func redactQuery(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
