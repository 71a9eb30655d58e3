package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// STALENESS POLICY - How long a cached entry stays valid
// =============================================================================

// Staleness is a closed variant: NoTTL or TTL(d).
//
//	NoTTL   entries live until the next explicit refresh; a miss recomputes
//	TTL(d)  entries older than d are pruned on every access; a miss is
//	        reported as ErrNotGenerated
type Staleness struct {
	ttl time.Duration
}

// NoTTL keeps entries valid indefinitely.
func NoTTL() Staleness { return Staleness{} }

// TTL expires entries whose age exceeds d. A non-positive d panics.
func TTL(d time.Duration) Staleness {
	if d <= 0 {
		panic(fmt.Sprintf("generic: TTL must be positive, got %s", d))
	}
	return Staleness{ttl: d}
}

// Expires reports whether the policy ever prunes.
func (s Staleness) Expires() bool { return s.ttl > 0 }

// Duration is the TTL window, zero for NoTTL.
func (s Staleness) Duration() time.Duration { return s.ttl }

// Expired reports whether an entry written at lastUpdated is stale at now.
func (s Staleness) Expired(lastUpdated, now time.Time) bool {
	return s.Expires() && now.Sub(lastUpdated) > s.ttl
}

func (s Staleness) String() string {
	if !s.Expires() {
		return "no-ttl"
	}
	return "ttl(" + s.ttl.String() + ")"
}

// =============================================================================
// GRANULARITY - What a single refresh replaces
// =============================================================================

type Granularity int

const (
	// WholeCollection caches hold one value; every refresh replaces it.
	WholeCollection Granularity = iota
	// PerKey caches hold one value per sub-key; a refresh replaces only
	// that sub-key and leaves the others untouched.
	PerKey
)

// WholeKey is the sub-key used by WholeCollection caches.
const WholeKey = "_"

func (g Granularity) String() string {
	switch g {
	case WholeCollection:
		return "whole-collection"
	case PerKey:
		return "per-key"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}
