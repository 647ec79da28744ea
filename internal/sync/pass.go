// Package sync reconciles group membership between the directory and
// the local identity store, provisions directory objects from local
// records and applies configured attribute mappings.
package sync

import (
	"time"

	"github.com/dirstack/adsync/internal/query"
)

// Pass scopes the caches of one synchronization run. Nested-group
// closures are reused heavily while a pass iterates identities but
// must never survive into the next pass, so each run creates a fresh
// Pass.
type Pass struct {
	Memo *query.Memo

	startedAt time.Time
}

func NewPass() *Pass {
	return &Pass{
		Memo:      query.NewMemo(),
		startedAt: time.Now(),
	}
}

// StartedAt is the wall-clock start of the pass, recorded on
// identities as their last-synchronized timestamp.
func (p *Pass) StartedAt() time.Time {
	return p.startedAt
}
