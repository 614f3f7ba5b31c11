package policy

import "time"

// Due reports whether a credential fetched at fetchedAt must be refreshed at now.
// A zero fetchedAt means no artifact exists, which is always due. Clock skew that
// puts fetchedAt in the future yields an age of zero, so it never forces a refresh
// for a positive maxAge.
func Due(now, fetchedAt time.Time, maxAge time.Duration) bool {
	if fetchedAt.IsZero() {
		return true
	}
	return Age(now, fetchedAt) >= maxAge
}

// Age is now-fetchedAt, floored at zero.
func Age(now, fetchedAt time.Time) time.Duration {
	age := now.Sub(fetchedAt)
	if age < 0 {
		return 0
	}
	return age
}

// Policy binds a maximum artifact age so it can be injected into the orchestrator.
type Policy struct {
	MaxAge time.Duration
}

// New returns a Policy with the given maximum age.
func New(maxAge time.Duration) Policy {
	return Policy{MaxAge: maxAge}
}

// Due applies the package-level Due with the policy's maximum age.
func (p Policy) Due(now, fetchedAt time.Time) bool {
	return Due(now, fetchedAt, p.MaxAge)
}

// NextDue returns the earliest time at which an artifact fetched at fetchedAt
// becomes due. It returns the zero time when no artifact exists.
func (p Policy) NextDue(fetchedAt time.Time) time.Time {
	if fetchedAt.IsZero() {
		return time.Time{}
	}
	return fetchedAt.Add(p.MaxAge)
}
