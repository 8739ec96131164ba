// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeMarketUpdate   MsgType = "market_update"
	MsgTypeMarketResolved MsgType = "market_resolved"
	MsgTypeError          MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketUpdateMessage — broadcast after every trade that moves a market.
// ──────────────────────────────────────────────────────────────────────────────

// OptionProb is one option's live probability and lifetime traded volume.
type OptionProb struct {
	OptionID    int64           `json:"option_id"`
	ProbBps     int             `json:"prob_bps"`
	VolumeTotal decimal.Decimal `json:"volume_total"`
}

// MarketUpdateMessage carries the full per-option probability snapshot of a
// market so clients can repaint odds without a REST round-trip.
type MarketUpdateMessage struct {
	Type      MsgType      `json:"type"`
	MarketID  uuid.UUID    `json:"market_id"`
	EventID   *uuid.UUID   `json:"event_id,omitempty"`
	Status    string       `json:"status"`
	Options   []OptionProb `json:"options"`
	Timestamp time.Time    `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketResolvedMessage — broadcast when a market reaches a terminal status.
// ──────────────────────────────────────────────────────────────────────────────

// MarketResolvedMessage tells clients which option won.
type MarketResolvedMessage struct {
	Type               MsgType   `json:"type"`
	MarketID           uuid.UUID `json:"market_id"`
	WinningOptionIndex int       `json:"winning_option_index"`
	Timestamp          time.Time `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
