package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/forecastpool/exchange/internal/repository"
	"github.com/forecastpool/exchange/internal/ws"
)

// Broadcaster pushes market snapshots to connected WebSocket clients.
// *ws.Hub satisfies it.
type Broadcaster interface {
	BroadcastMarketUpdate(msg ws.MarketUpdateMessage)
	BroadcastMarketResolved(msg ws.MarketResolvedMessage)
}

// PriceFeed is the Invalidator wired in production: after a trade or
// settlement commits it re-reads the affected markets' stats and broadcasts
// them over the hub. All pushes run on background goroutines so the trading
// path never waits on slow WebSocket clients.
type PriceFeed struct {
	db         *sqlx.DB
	marketRepo *repository.MarketRepository
	hub        Broadcaster
}

// NewPriceFeed creates a PriceFeed.
func NewPriceFeed(db *sqlx.DB, marketRepo *repository.MarketRepository, hub Broadcaster) *PriceFeed {
	return &PriceFeed{db: db, marketRepo: marketRepo, hub: hub}
}

// InvalidateMarket pushes a fresh probability snapshot for one market.
func (f *PriceFeed) InvalidateMarket(marketID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.pushMarket(ctx, marketID)
	}()
}

// InvalidateEvent pushes snapshots for every market in the event. A trade on
// an event pool moves the probabilities of all sibling markets, so each one
// needs a fresh push.
func (f *PriceFeed) InvalidateEvent(eventID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		markets, err := f.marketRepo.ListMarketsByEvent(ctx, f.db, eventID)
		if err != nil {
			log.Printf("price feed: list markets for event %s: %v", eventID, err)
			return
		}
		for _, m := range markets {
			f.pushMarket(ctx, m.ID)
		}
	}()
}

// InvalidateUser is a no-op: portfolio data is read per-request, not cached.
func (f *PriceFeed) InvalidateUser(int64) {}

// InvalidateLeaderboard is a no-op until a leaderboard cache exists.
func (f *PriceFeed) InvalidateLeaderboard() {}

// pushMarket reads the market row plus its per-option stats and broadcasts a
// MarketUpdateMessage. Terminal markets additionally get a resolved message.
func (f *PriceFeed) pushMarket(ctx context.Context, marketID uuid.UUID) {
	market, err := f.marketRepo.GetMarket(ctx, marketID)
	if err != nil {
		log.Printf("price feed: load market %s: %v", marketID, err)
		return
	}
	stats, err := f.marketRepo.ListStatsByMarket(ctx, marketID)
	if err != nil {
		log.Printf("price feed: load stats %s: %v", marketID, err)
		return
	}

	msg := ws.MarketUpdateMessage{
		Type:      ws.MsgTypeMarketUpdate,
		MarketID:  market.ID,
		EventID:   market.EventID,
		Status:    string(market.Status),
		Options:   make([]ws.OptionProb, 0, len(stats)),
		Timestamp: time.Now().UTC(),
	}
	for _, s := range stats {
		msg.Options = append(msg.Options, ws.OptionProb{
			OptionID:    s.OptionID,
			ProbBps:     s.ProbBps,
			VolumeTotal: s.VolumeTotal,
		})
	}
	f.hub.BroadcastMarketUpdate(msg)

	if market.Status.IsTerminal() && market.ResolvedOptionIndex != nil {
		f.hub.BroadcastMarketResolved(ws.MarketResolvedMessage{
			Type:               ws.MsgTypeMarketResolved,
			MarketID:           market.ID,
			WinningOptionIndex: *market.ResolvedOptionIndex,
			Timestamp:          time.Now().UTC(),
		})
	}
}
