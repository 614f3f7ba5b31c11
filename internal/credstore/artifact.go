package credstore

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/xkilldash9x/cookiekeeper/internal/cookies"
)

// Artifact is one published version of the credential. Artifacts are never
// mutated once committed; a refresh supersedes the record with Version+1.
type Artifact struct {
	Version       uint64    `json:"version"`
	FetchedAt     time.Time `json:"fetched_at"`
	SourceAccount string    `json:"source_account"`
	CookieCount   int       `json:"cookie_count"`
	Digest        string    `json:"digest"`
	Encoded       string    `json:"encoded_form"`

	// Cookies is derived from Encoded on read and is not stored separately.
	Cookies []cookies.Cookie `json:"-"`
}

// digest returns the hex BLAKE3 sum of the encoded form.
func digest(encoded string) string {
	sum := blake3.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:])
}

// MaskAccount reduces an account identifier to something safe for records and
// logs: the first character of the local part and the full mail domain.
func MaskAccount(account string) string {
	account = strings.TrimSpace(account)
	if account == "" {
		return ""
	}
	local, domain, isEmail := strings.Cut(account, "@")
	first := []rune(local)
	if len(first) == 0 {
		return "***@" + domain
	}
	if isEmail {
		return string(first[0]) + "***@" + domain
	}
	return string(first[0]) + "***"
}
