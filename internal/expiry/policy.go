// Package expiry holds the time-boxed hold policy and the periodic sweep that
// enforces it.
package expiry

import "time"

// Policy decides when a hold lapses. Holds are checked lazily on read and by
// the sweep, so both paths use the same rule.
type Policy struct {
	TTL time.Duration
}

func NewPolicy(ttl time.Duration) Policy {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return Policy{TTL: ttl}
}

func (p Policy) ExpiresAt(from time.Time) time.Time {
	return from.Add(p.TTL)
}

// IsExpired reports whether a hold expiring at expiresAt has lapsed at now.
// A zero expiry never lapses.
func (p Policy) IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && expiresAt.Before(now)
}
