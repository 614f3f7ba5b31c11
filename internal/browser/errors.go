package browser

import "errors"

var (
	// ErrNavigation reports a page that did not load in time, or a login page
	// that never presented its credential fields.
	ErrNavigation = errors.New("navigation failed")
	// ErrChallengeRequired reports a login the automated flow cannot complete:
	// a captcha, a second factor, or any interstitial that never resolves.
	ErrChallengeRequired = errors.New("login challenge required")
	// ErrExtraction reports a cookie read that failed or came back empty.
	ErrExtraction = errors.New("cookie extraction failed")
	// ErrSessionState reports an operation called out of order.
	ErrSessionState = errors.New("invalid session state")
)
