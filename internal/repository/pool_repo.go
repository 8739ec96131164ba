package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/domain"
)

// PoolRepository handles all database operations for AMM pools and their
// per-option state rows.
type PoolRepository struct {
	db *sqlx.DB
}

// NewPoolRepository creates a new PoolRepository.
func NewPoolRepository(db *sqlx.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool lookup
// ──────────────────────────────────────────────────────────────────────────────

// GetByMarket fetches the pool bound directly to a market.
func (r *PoolRepository) GetByMarket(ctx context.Context, marketID uuid.UUID) (*domain.AmmPool, error) {
	var p domain.AmmPool
	err := r.db.GetContext(ctx, &p, `SELECT * FROM amm_pools WHERE market_id = $1`, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool_repo.GetByMarket: %w", err)
	}
	return &p, nil
}

// GetByEvent fetches the event-scoped pool of an exclusive event.
func (r *PoolRepository) GetByEvent(ctx context.Context, eventID uuid.UUID) (*domain.AmmPool, error) {
	var p domain.AmmPool
	err := r.db.GetContext(ctx, &p, `SELECT * FROM amm_pools WHERE event_id = $1`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool_repo.GetByEvent: %w", err)
	}
	return &p, nil
}

// GetForUpdate locks and fetches a pool row by id. In settlement this lock is
// taken right after the market lock.
func (r *PoolRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID) (*domain.AmmPool, error) {
	var p domain.AmmPool
	err := tx.GetContext(ctx, &p, `SELECT * FROM amm_pools WHERE id = $1 FOR UPDATE`, poolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool_repo.GetForUpdate: %w", err)
	}
	return &p, nil
}

// FindForMarket resolves the pool serving a market: the market's own pool
// when present, else the event-scoped pool for exclusive events. Runs inside
// the caller's transaction so the result is consistent with held locks.
func (r *PoolRepository) FindForMarket(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, eventID *uuid.UUID) (*domain.AmmPool, error) {
	var p domain.AmmPool
	err := tx.GetContext(ctx, &p, `SELECT * FROM amm_pools WHERE market_id = $1`, marketID)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pool_repo.FindForMarket: %w", err)
	}
	if eventID == nil {
		return nil, domain.ErrPoolNotFound
	}
	err = tx.GetContext(ctx, &p, `SELECT * FROM amm_pools WHERE event_id = $1`, *eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("pool_repo.FindForMarket event: %w", err)
	}
	return &p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool creation (idempotent)
// ──────────────────────────────────────────────────────────────────────────────

// CreatePool inserts a pool, treating the unique constraint on market_id /
// event_id as the source of truth: on conflict the existing row is fetched
// and returned unchanged.
func (r *PoolRepository) CreatePool(ctx context.Context, p *domain.AmmPool) (*domain.AmmPool, error) {
	query := `
		INSERT INTO amm_pools
			(id, market_id, event_id, model, b, fee_bps, collateral_token,
			 pool_cash, collateral_amount, status, created_at, updated_at)
		VALUES
			(:id, :market_id, :event_id, :model, :b, :fee_bps, :collateral_token,
			 :pool_cash, :collateral_amount, :status, :created_at, :updated_at)
		ON CONFLICT DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return nil, fmt.Errorf("pool_repo.CreatePool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return p, nil
	}
	// Lost the race; another request created the pool first.
	if p.MarketID != nil {
		return r.GetByMarket(ctx, *p.MarketID)
	}
	return r.GetByEvent(ctx, *p.EventID)
}

// EnsureOptionState inserts one option-state row with insert-if-absent
// semantics on (pool, option).
func (r *PoolRepository) EnsureOptionState(ctx context.Context, s *domain.AmmPoolOptionState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO amm_pool_option_state (pool_id, option_id, option_index, q, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (pool_id, option_id) DO NOTHING`,
		s.PoolID, s.OptionID, s.OptionIndex, s.Q)
	if err != nil {
		return fmt.Errorf("pool_repo.EnsureOptionState: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Option state
// ──────────────────────────────────────────────────────────────────────────────

// LockOptionStates locks and returns all option-state rows of a pool ordered
// by (option_index, option_id). Every execution path takes these locks in
// this exact order to avoid deadlocks.
func (r *PoolRepository) LockOptionStates(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID) ([]*domain.AmmPoolOptionState, error) {
	var states []*domain.AmmPoolOptionState
	err := tx.SelectContext(ctx, &states, `
		SELECT * FROM amm_pool_option_state
		WHERE pool_id = $1
		ORDER BY option_index ASC, option_id ASC
		FOR UPDATE`,
		poolID)
	if err != nil {
		return nil, fmt.Errorf("pool_repo.LockOptionStates: %w", err)
	}
	if len(states) == 0 {
		return nil, domain.ErrPoolStateNotFound
	}
	return states, nil
}

// ListOptionStates reads the option-state rows without locking (quote path).
func (r *PoolRepository) ListOptionStates(ctx context.Context, poolID uuid.UUID) ([]*domain.AmmPoolOptionState, error) {
	var states []*domain.AmmPoolOptionState
	err := r.db.SelectContext(ctx, &states, `
		SELECT * FROM amm_pool_option_state
		WHERE pool_id = $1
		ORDER BY option_index ASC, option_id ASC`,
		poolID)
	if err != nil {
		return nil, fmt.Errorf("pool_repo.ListOptionStates: %w", err)
	}
	if len(states) == 0 {
		return nil, domain.ErrPoolStateNotFound
	}
	return states, nil
}

// ApplyQDeltas adds signed share deltas to option-state rows. Deltas map
// option_id → delta. Caller must hold the row locks.
func (r *PoolRepository) ApplyQDeltas(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, deltas map[int64]decimal.Decimal) error {
	for optionID, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE amm_pool_option_state
			SET q = q + $1, updated_at = now()
			WHERE pool_id = $2 AND option_id = $3`,
			delta, poolID, optionID)
		if err != nil {
			return fmt.Errorf("pool_repo.ApplyQDeltas: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrPoolStateNotFound.WithMessagef("no state row for option %d in pool %s", optionID, poolID)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool cash & lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// AddPoolCash applies a signed cash delta with an atomic expression. Negative
// deltas are used on sells and settlement drawdowns.
func (r *PoolRepository) AddPoolCash(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, delta decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE amm_pools SET pool_cash = pool_cash + $1, updated_at = now() WHERE id = $2`,
		delta, poolID)
	if err != nil {
		return fmt.Errorf("pool_repo.AddPoolCash: %w", err)
	}
	return nil
}

// DrawDown consumes settlement funds: pool cash and collateral decrease by
// the waterfall amounts in one statement.
func (r *PoolRepository) DrawDown(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, poolCashUsed, collateralUsed decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE amm_pools
		SET pool_cash = pool_cash - $1,
		    collateral_amount = collateral_amount - $2,
		    updated_at = now()
		WHERE id = $3`,
		poolCashUsed, collateralUsed, poolID)
	if err != nil {
		return fmt.Errorf("pool_repo.DrawDown: %w", err)
	}
	return nil
}

// RemoveOptionState deletes an eliminated outcome's state row. In an LMSR
// pool the remaining outcomes renormalize automatically once the row is gone.
func (r *PoolRepository) RemoveOptionState(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID, optionID int64) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM amm_pool_option_state WHERE pool_id = $1 AND option_id = $2`,
		poolID, optionID)
	if err != nil {
		return fmt.Errorf("pool_repo.RemoveOptionState: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPoolStateNotFound.WithMessagef("no state row for option %d in pool %s", optionID, poolID)
	}
	return nil
}

// ClosePool flips the pool status to closed.
func (r *PoolRepository) ClosePool(ctx context.Context, tx *sqlx.Tx, poolID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE amm_pools SET status = 'closed', updated_at = now() WHERE id = $1`,
		poolID)
	if err != nil {
		return fmt.Errorf("pool_repo.ClosePool: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Exposure
// ──────────────────────────────────────────────────────────────────────────────

// PoolExposure is one active pool's worst-case settlement liability next to
// the funds backing it. MaxLiability is the largest outstanding share count
// across the pool's outcomes: each winning share pays one collateral unit, so
// the pool can never owe more than MAX(q) at settlement.
type PoolExposure struct {
	PoolID           uuid.UUID       `db:"pool_id"           json:"pool_id"`
	MarketID         *uuid.UUID      `db:"market_id"         json:"market_id"`
	EventID          *uuid.UUID      `db:"event_id"          json:"event_id"`
	CollateralToken  string          `db:"collateral_token"  json:"collateral_token"`
	PoolCash         decimal.Decimal `db:"pool_cash"         json:"pool_cash"`
	CollateralAmount decimal.Decimal `db:"collateral_amount" json:"collateral_amount"`
	MaxLiability     decimal.Decimal `db:"max_liability"     json:"max_liability"`
}

// ListExposure returns the exposure rows for all active pools, largest
// liability first.
func (r *PoolRepository) ListExposure(ctx context.Context) ([]PoolExposure, error) {
	var rows []PoolExposure
	err := r.db.SelectContext(ctx, &rows, `
		SELECT p.id AS pool_id, p.market_id, p.event_id, p.collateral_token,
		       p.pool_cash, p.collateral_amount,
		       COALESCE(MAX(s.q), 0) AS max_liability
		FROM amm_pools p
		LEFT JOIN amm_pool_option_state s ON s.pool_id = p.id
		WHERE p.status = 'active'
		GROUP BY p.id
		ORDER BY max_liability DESC`)
	if err != nil {
		return nil, fmt.Errorf("pool_repo.ListExposure: %w", err)
	}
	return rows, nil
}
