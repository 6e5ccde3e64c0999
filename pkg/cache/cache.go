// Package cache provides expiring key-value stores used as the in-process
// mirror of data whose source of truth lives elsewhere.
package cache

import (
	"context"
	"time"
)

// Policy controls how long an entry stays live and what it costs.
// A zero duration disables that deadline.
type Policy struct {
	// AbsoluteExpiration is measured from the moment the entry is written with Set.
	AbsoluteExpiration time.Duration `yaml:"absolute_expiration"`
	// SlidingExpiration is measured from the most recent access.
	SlidingExpiration time.Duration `yaml:"sliding_expiration"`
	// Size is the cost weight counted against a store's size limit.
	Size int64 `yaml:"entry_size"`
}

// Store is a generic expiring container.
//
// Replace is the only way to update an entry in place: it keeps the policy the
// entry was written with, so an update can never turn an expiring entry into a
// permanent one.
type Store[V any] interface {
	// TryGet returns the value and true when key is live. A successful lookup
	// resets the sliding deadline.
	TryGet(ctx context.Context, key string) (V, bool, error)
	// Set stores value under key with an explicit policy, overwriting any previous entry.
	Set(ctx context.Context, key string, value V, policy Policy) error
	// Replace swaps the value of a live entry and reports whether one existed.
	// The absolute deadline is unchanged and the sliding deadline is reset.
	Replace(ctx context.Context, key string, value V) (bool, error)
	// Remove invalidates key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// deadlines captures the timing state shared by the store implementations.
type deadlines struct {
	absolute   time.Time
	sliding    time.Duration
	lastAccess time.Time
}

func newDeadlines(policy Policy, now time.Time) deadlines {
	d := deadlines{lastAccess: now}
	if policy.AbsoluteExpiration > 0 {
		d.absolute = now.Add(policy.AbsoluteExpiration)
	}
	if policy.SlidingExpiration > 0 {
		d.sliding = policy.SlidingExpiration
	}
	return d
}

// next returns the earliest moment the entry stops being live, or the zero
// time when it never expires.
func (d deadlines) next() time.Time {
	var at time.Time
	if d.sliding > 0 {
		at = d.lastAccess.Add(d.sliding)
	}
	if !d.absolute.IsZero() && (at.IsZero() || d.absolute.Before(at)) {
		at = d.absolute
	}
	return at
}

func (d deadlines) expired(now time.Time) bool {
	at := d.next()
	return !at.IsZero() && !now.Before(at)
}

// touch records an access at now.
func (d deadlines) touch(now time.Time) deadlines {
	d.lastAccess = now
	return d
}

// ttl is the remaining lifetime at now; 0 means no expiry.
func (d deadlines) ttl(now time.Time) time.Duration {
	at := d.next()
	if at.IsZero() {
		return 0
	}
	return at.Sub(now)
}
