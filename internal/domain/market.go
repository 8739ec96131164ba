// Package domain defines the core business entities of the prediction-market
// exchange: events, markets, options, AMM pools, positions, balances and the
// audit rows written on every execution.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	StatusDraft    MarketStatus = "draft"    // created, not yet published
	StatusPending  MarketStatus = "pending"  // published, trading not yet open
	StatusActive   MarketStatus = "active"   // accepting trades
	StatusClosed   MarketStatus = "closed"   // deadline passed, awaiting resolution
	StatusResolved MarketStatus = "resolved" // winner determined and settled
	StatusCanceled MarketStatus = "canceled" // voided; terminal
)

// IsTerminal returns true for states that permanently end trading.
func (s MarketStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusCanceled
}

// GroupRule describes how an event's constituent markets relate.
type GroupRule string

const (
	GroupStandalone  GroupRule = "standalone"  // single market, market-scoped pool
	GroupExclusive   GroupRule = "exclusive"   // exactly one market resolves YES; event-scoped pool
	GroupIndependent GroupRule = "independent" // markets resolve independently; per-market pools
)

// OptionSide distinguishes YES/NO outcomes within binary markets.
type OptionSide string

const (
	SideYes OptionSide = "yes"
	SideNo  OptionSide = "no"
)

// ──────────────────────────────────────────────────────────────────────────────
// Event
// ──────────────────────────────────────────────────────────────────────────────

// Event groups related markets under a single group rule. Exclusive events own
// one shared AMM pool spanning a canonical option per child market.
type Event struct {
	ID               uuid.UUID    `json:"id"                 db:"id"`
	Title            string       `json:"title"              db:"title"`
	Status           MarketStatus `json:"status"             db:"status"`
	GroupRule        GroupRule    `json:"group_rule"         db:"group_rule"`
	Hidden           bool         `json:"hidden"             db:"hidden"`
	TradingDeadline  *time.Time   `json:"trading_deadline"   db:"trading_deadline"`
	ResolvedMarketID *uuid.UUID   `json:"resolved_market_id" db:"resolved_market_id"`
	CreatedAt        time.Time    `json:"created_at"         db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"         db:"updated_at"`
}

// IsExclusive returns true when the event shares one pool across its markets.
func (e *Event) IsExclusive() bool {
	return e.GroupRule == GroupExclusive
}

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is a single outcome space with a trading deadline. A market may
// belong to an event; standalone markets have a nil EventID.
type Market struct {
	ID                  uuid.UUID    `json:"id"                    db:"id"`
	EventID             *uuid.UUID   `json:"event_id"              db:"event_id"`
	Title               string       `json:"title"                 db:"title"`
	Status              MarketStatus `json:"status"                db:"status"`
	Hidden              bool         `json:"hidden"                db:"hidden"`
	TradingDeadline     *time.Time   `json:"trading_deadline"      db:"trading_deadline"`
	ResolvedOptionIndex *int         `json:"resolved_option_index" db:"resolved_option_index"`
	ResolvedAt          *time.Time   `json:"resolved_at"           db:"resolved_at"`
	CreatedAt           time.Time    `json:"created_at"            db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"            db:"updated_at"`
}

// EffectiveDeadline returns the market's own deadline when set, else the
// event's. Nil means no deadline applies.
func (m *Market) EffectiveDeadline(ev *Event) *time.Time {
	if m.TradingDeadline != nil {
		return m.TradingDeadline
	}
	if ev != nil {
		return ev.TradingDeadline
	}
	return nil
}

// CheckTradable validates every trading precondition against the market and
// its event (nil for standalone markets) at the given instant.
func (m *Market) CheckTradable(ev *Event, now time.Time) error {
	if m.Hidden {
		return ErrMarketNotActive.WithMessagef("market %s is hidden", m.ID)
	}
	if m.Status != StatusActive {
		return ErrMarketNotActive.WithMessagef("market %s has status %s", m.ID, m.Status)
	}
	if ev != nil {
		if ev.Hidden || ev.Status != StatusActive {
			return ErrEventNotActive.WithMessagef("event %s has status %s", ev.ID, ev.Status)
		}
	}
	if deadline := m.EffectiveDeadline(ev); deadline != nil && !now.Before(*deadline) {
		return ErrMarketClosed.WithMessagef("trading deadline %s has passed", deadline.Format(time.RFC3339))
	}
	return nil
}

// IsResolved returns true after the market has been settled.
func (m *Market) IsResolved() bool {
	return m.Status == StatusResolved
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketOption
// ──────────────────────────────────────────────────────────────────────────────

// MarketOption is a numbered outcome within a market. OptionIndex is unique
// per market; Side is set only in binary YES/NO markets.
type MarketOption struct {
	ID          int64       `json:"id"           db:"id"`
	MarketID    uuid.UUID   `json:"market_id"    db:"market_id"`
	OptionIndex int         `json:"option_index" db:"option_index"`
	Label       string      `json:"label"        db:"label"`
	Side        *OptionSide `json:"side"         db:"side"`
	IsActive    bool        `json:"is_active"    db:"is_active"`
	CreatedAt   time.Time   `json:"created_at"   db:"created_at"`
}

// IsYes returns true for explicitly YES-sided options.
func (o *MarketOption) IsYes() bool {
	return o.Side != nil && *o.Side == SideYes
}

// IsNo returns true for explicitly NO-sided options.
func (o *MarketOption) IsNo() bool {
	return o.Side != nil && *o.Side == SideNo
}

// ──────────────────────────────────────────────────────────────────────────────
// Per-option statistics & series
// ──────────────────────────────────────────────────────────────────────────────

// MarketOptionStats carries the latest derived probability and traded-volume
// counters for one option. Refreshed inside every execution transaction; the
// 24h counter is bumped inline and rolled off by the background sweep.
type MarketOptionStats struct {
	OptionID    int64           `json:"option_id"     db:"option_id"`
	MarketID    uuid.UUID       `json:"market_id"     db:"market_id"`
	ProbBps     int             `json:"prob_bps"      db:"prob_bps"`
	VolumeTotal decimal.Decimal `json:"volume_total"  db:"volume_total"`
	Volume24h   decimal.Decimal `json:"volume_24h"    db:"volume_24h"`
	LastTradeAt *time.Time      `json:"last_trade_at" db:"last_trade_at"`
	UpdatedAt   time.Time       `json:"updated_at"    db:"updated_at"`
}

// MarketOptionSeries is one time-bucketed probability point for charting.
// Unique per (option, interval, bucket_start).
type MarketOptionSeries struct {
	OptionID    int64     `json:"option_id"    db:"option_id"`
	Interval    string    `json:"interval"     db:"interval"`
	BucketStart time.Time `json:"bucket_start" db:"bucket_start"`
	ProbBps     int       `json:"prob_bps"     db:"prob_bps"`
}
