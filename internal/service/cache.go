package service

import (
	"github.com/google/uuid"
)

// Invalidator receives cache-invalidation hooks after a trade or settlement
// commits. The exchange itself keeps no caches; deployments plug in their
// CDN / Redis invalidation here.
type Invalidator interface {
	InvalidateMarket(marketID uuid.UUID)
	InvalidateEvent(eventID uuid.UUID)
	InvalidateUser(userID int64)
	InvalidateLeaderboard()
}

// NoopInvalidator is the default Invalidator; it does nothing.
type NoopInvalidator struct{}

func (NoopInvalidator) InvalidateMarket(uuid.UUID) {}
func (NoopInvalidator) InvalidateEvent(uuid.UUID)  {}
func (NoopInvalidator) InvalidateUser(int64)       {}
func (NoopInvalidator) InvalidateLeaderboard()     {}
