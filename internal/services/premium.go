package services

import (
	"time"
)

// ExtendExpiration computes the new premium expiration for an extension of
// the given number of days. A still-active subscription stacks on top of its
// current expiration; an expired or absent one restarts from now. Callers
// validate days > 0 before calling.
func ExtendExpiration(current *time.Time, now time.Time, days int) time.Time {
	base := now
	if current != nil && current.After(now) {
		base = *current
	}
	return base.AddDate(0, 0, days)
}
