package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// BalanceSnapshot
// ──────────────────────────────────────────────────────────────────────────────

// BalanceSnapshot is a user's spendable balance in one token. Unique per
// (user, token). LockedAmount is reserved for future order types and is never
// touched by the current execution paths.
type BalanceSnapshot struct {
	ID              int64           `json:"id"               db:"id"`
	UserID          int64           `json:"user_id"          db:"user_id"`
	Token           string          `json:"token"            db:"token"`
	AvailableAmount decimal.Decimal `json:"available_amount" db:"available_amount"`
	LockedAmount    decimal.Decimal `json:"locked_amount"    db:"locked_amount"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

// CanSpend returns true when the available balance covers the amount.
func (b *BalanceSnapshot) CanSpend(amount decimal.Decimal) bool {
	return b.AvailableAmount.GreaterThanOrEqual(amount)
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// SellShareTolerance lets a sell of "all shares" succeed when the requested
// size exceeds the stored position by a rounding hair.
var SellShareTolerance = decimal.NewFromFloat(0.01)

// Position is a user's holding of one market option. Unique per
// (user, market, option).
type Position struct {
	ID        int64           `json:"id"         db:"id"`
	UserID    int64           `json:"user_id"    db:"user_id"`
	MarketID  uuid.UUID       `json:"market_id"  db:"market_id"`
	OptionID  int64           `json:"option_id"  db:"option_id"`
	Shares    decimal.Decimal `json:"shares"     db:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CanSell reports whether the position covers a sale of the given size,
// within SellShareTolerance.
func (p *Position) CanSell(shares decimal.Decimal) bool {
	if p.Shares.IsZero() && shares.IsPositive() {
		return false
	}
	return shares.Sub(p.Shares).LessThan(SellShareTolerance)
}

// IsDust returns true when the position is at or below the dust threshold
// and eligible for zero-proceeds cleanup on a sell-all request.
func (p *Position) IsDust(threshold decimal.Decimal) bool {
	return p.Shares.LessThanOrEqual(threshold)
}

// ReduceForSale removes sold shares and reduces the cost basis
// proportionally:
//
//	cost_basis -= cost_basis · shares_sold / shares_prior
//
// Both shares and cost basis are clamped at zero so float-edge sales of an
// entire position never leave negative remnants.
func (p *Position) ReduceForSale(sharesSold decimal.Decimal) {
	if p.Shares.IsPositive() {
		reduction := p.CostBasis.Mul(sharesSold).Div(p.Shares)
		p.CostBasis = p.CostBasis.Sub(reduction)
		if p.CostBasis.IsNegative() {
			p.CostBasis = decimal.Zero
		}
	}
	p.Shares = p.Shares.Sub(sharesSold)
	if p.Shares.IsNegative() {
		p.Shares = decimal.Zero
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Wallet
// ──────────────────────────────────────────────────────────────────────────────

// Wallet is an address record for a user. Off-chain accounts get a synthetic
// placeholder address created on first trade.
type Wallet struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	UserID    int64     `json:"user_id"    db:"user_id"`
	Address   string    `json:"address"    db:"address"`
	ChainType string    `json:"chain_type" db:"chain_type"`
	IsPrimary bool      `json:"is_primary" db:"is_primary"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Audit rows
// ──────────────────────────────────────────────────────────────────────────────

// OrderIntentStatus / TradeStatus track the audit rows' lifecycle. Executions
// write both rows as confirmed inside the trade transaction.
const (
	IntentConfirmed = "confirmed"
	TradeConfirmed  = "confirmed"
)

// OrderIntent is the append-only record of what the user asked for.
type OrderIntent struct {
	ID          uuid.UUID        `json:"id"           db:"id"`
	UserID      int64            `json:"user_id"      db:"user_id"`
	MarketID    uuid.UUID        `json:"market_id"    db:"market_id"`
	OptionID    int64            `json:"option_id"    db:"option_id"`
	WalletID    *uuid.UUID       `json:"wallet_id"    db:"wallet_id"`
	Side        string           `json:"side"         db:"side"`
	Token       string           `json:"token"        db:"token"`
	Amount      *decimal.Decimal `json:"amount"       db:"amount"`
	Shares      *decimal.Decimal `json:"shares"       db:"shares"`
	ClientNonce *string          `json:"client_nonce" db:"client_nonce"`
	Status      string           `json:"status"       db:"status"`
	CreatedAt   time.Time        `json:"created_at"   db:"created_at"`
}

// Trade is the append-only record of what actually executed.
type Trade struct {
	ID            uuid.UUID       `json:"id"              db:"id"`
	OrderIntentID uuid.UUID       `json:"order_intent_id" db:"order_intent_id"`
	UserID        int64           `json:"user_id"         db:"user_id"`
	MarketID      uuid.UUID       `json:"market_id"       db:"market_id"`
	OptionID      int64           `json:"option_id"       db:"option_id"`
	Side          string          `json:"side"            db:"side"`
	Token         string          `json:"token"           db:"token"`
	AmountIn      decimal.Decimal `json:"amount_in"       db:"amount_in"`
	AmountOut     decimal.Decimal `json:"amount_out"      db:"amount_out"`
	Shares        decimal.Decimal `json:"shares"          db:"shares"`
	FeeAmount     decimal.Decimal `json:"fee_amount"      db:"fee_amount"`
	AvgPriceBps   int             `json:"avg_price_bps"   db:"avg_price_bps"`
	TxHash        string          `json:"tx_hash"         db:"tx_hash"`
	Status        string          `json:"status"          db:"status"`
	CreatedAt     time.Time       `json:"created_at"      db:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketSettlement
// ──────────────────────────────────────────────────────────────────────────────

// MarketSettlement records one settled market. The unique settlement_tx_id
// per market makes settlement idempotent under concurrent requests.
type MarketSettlement struct {
	ID              uuid.UUID       `json:"id"                db:"id"`
	MarketID        uuid.UUID       `json:"market_id"         db:"market_id"`
	SettlementTxID  string          `json:"settlement_tx_id"  db:"settlement_tx_id"`
	WinningOptionID int64           `json:"winning_option_id" db:"winning_option_id"`
	TotalPayout     decimal.Decimal `json:"total_payout"      db:"total_payout"`
	PoolCashUsed    decimal.Decimal `json:"pool_cash_used"    db:"pool_cash_used"`
	CollateralUsed  decimal.Decimal `json:"collateral_used"   db:"collateral_used"`
	WinnersCount    int             `json:"winners_count"     db:"winners_count"`
	CreatedAt       time.Time       `json:"created_at"        db:"created_at"`
}
