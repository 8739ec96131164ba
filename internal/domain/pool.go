package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// PoolStatus is the lifecycle state of an AMM pool.
type PoolStatus string

const (
	PoolActive PoolStatus = "active"
	PoolClosed PoolStatus = "closed"
)

// AmmModel identifies the pricing model of a pool.
const (
	ModelLMSR = "lmsr"
	ModelCPMM = "cpmm"
)

// ──────────────────────────────────────────────────────────────────────────────
// AmmPool
// ──────────────────────────────────────────────────────────────────────────────

// AmmPool is an LMSR pool bound to either a single market or, for exclusive
// events, to the event as a whole. Exactly one of MarketID/EventID is set.
//
// PoolCash is the net trader cash held (buys add, sells remove);
// CollateralAmount is the operator-funded reserve backing worst-case payouts.
type AmmPool struct {
	ID               uuid.UUID       `json:"id"                db:"id"`
	MarketID         *uuid.UUID      `json:"market_id"         db:"market_id"`
	EventID          *uuid.UUID      `json:"event_id"          db:"event_id"`
	Model            string          `json:"model"             db:"model"`
	B                decimal.Decimal `json:"b"                 db:"b"`
	FeeBps           int             `json:"fee_bps"           db:"fee_bps"`
	CollateralToken  string          `json:"collateral_token"  db:"collateral_token"`
	PoolCash         decimal.Decimal `json:"pool_cash"         db:"pool_cash"`
	CollateralAmount decimal.Decimal `json:"collateral_amount" db:"collateral_amount"`
	Status           PoolStatus      `json:"status"            db:"status"`
	CreatedAt        time.Time       `json:"created_at"        db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"        db:"updated_at"`
}

// IsActive returns true while the pool accepts trades.
func (p *AmmPool) IsActive() bool {
	return p.Status == PoolActive
}

// Waterfall splits a settlement payout between pool cash and collateral.
// Pool cash is always consumed first; collateral covers the remainder.
// Fails with the exact shortfall when both sources together cannot cover
// the payout, so an operator knows how much to top up.
func (p *AmmPool) Waterfall(totalPayout decimal.Decimal) (poolCashUsed, collateralUsed decimal.Decimal, err error) {
	if totalPayout.IsNegative() {
		return decimal.Zero, decimal.Zero, ErrInvalidParam.WithMessagef("total payout must not be negative, got %s", totalPayout)
	}
	poolCashUsed = decimal.Min(p.PoolCash, totalPayout)
	remaining := totalPayout.Sub(poolCashUsed)
	if remaining.GreaterThan(p.CollateralAmount) {
		shortfall := remaining.Sub(p.CollateralAmount)
		return decimal.Zero, decimal.Zero, ErrInsufficientFunds.WithMessagef(
			"payout %s exceeds pool cash %s plus collateral %s by %s",
			totalPayout, p.PoolCash, p.CollateralAmount, shortfall)
	}
	return poolCashUsed, remaining, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AmmPoolOptionState
// ──────────────────────────────────────────────────────────────────────────────

// AmmPoolOptionState is one outcome row of a pool, carrying the net shares
// outstanding q. The set of rows for a pool is its outcome vector, ordered by
// (option_index, option_id).
type AmmPoolOptionState struct {
	ID          int64           `json:"id"           db:"id"`
	PoolID      uuid.UUID       `json:"pool_id"      db:"pool_id"`
	OptionID    int64           `json:"option_id"    db:"option_id"`
	OptionIndex int             `json:"option_index" db:"option_index"`
	Q           decimal.Decimal `json:"q"            db:"q"`
	UpdatedAt   time.Time       `json:"updated_at"   db:"updated_at"`
}
