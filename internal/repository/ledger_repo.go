package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique-constraint failures.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

// LedgerRepository handles balances, positions, wallets and the append-only
// audit rows (order intents, trades, settlements).
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ──────────────────────────────────────────────────────────────────────────────
// Balances
// ──────────────────────────────────────────────────────────────────────────────

// GetBalanceForUpdate locks and returns the (user, token) balance row,
// creating it with zero amounts when absent. The insert runs under a
// savepoint so a concurrent creator's unique violation does not poison the
// surrounding transaction; after a rollback-to-savepoint the existing row is
// locked instead.
func (r *LedgerRepository) GetBalanceForUpdate(ctx context.Context, tx *sqlx.Tx, userID int64, token string) (*domain.BalanceSnapshot, error) {
	var b domain.BalanceSnapshot
	err := tx.GetContext(ctx, &b,
		`SELECT * FROM balance_snapshot WHERE user_id = $1 AND token = $2 FOR UPDATE`,
		userID, token)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger_repo.GetBalanceForUpdate lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT create_balance`); err != nil {
		return nil, fmt.Errorf("ledger_repo.GetBalanceForUpdate savepoint: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO balance_snapshot (user_id, token, available_amount, locked_amount, updated_at)
		 VALUES ($1, $2, 0, 0, now())`,
		userID, token)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT create_balance`); err != nil {
			return nil, fmt.Errorf("ledger_repo.GetBalanceForUpdate release: %w", err)
		}
	case isUniqueViolation(err):
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT create_balance`); err != nil {
			return nil, fmt.Errorf("ledger_repo.GetBalanceForUpdate rollback: %w", err)
		}
	default:
		return nil, fmt.Errorf("ledger_repo.GetBalanceForUpdate insert: %w", err)
	}

	err = tx.GetContext(ctx, &b,
		`SELECT * FROM balance_snapshot WHERE user_id = $1 AND token = $2 FOR UPDATE`,
		userID, token)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.GetBalanceForUpdate reselect: %w", err)
	}
	return &b, nil
}

// DebitBalance subtracts amount with an atomic expression. The caller must
// already hold the row lock and have verified sufficiency.
func (r *LedgerRepository) DebitBalance(ctx context.Context, tx *sqlx.Tx, userID int64, token string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE balance_snapshot
		SET available_amount = available_amount - $1, updated_at = now()
		WHERE user_id = $2 AND token = $3`,
		amount, userID, token)
	if err != nil {
		return fmt.Errorf("ledger_repo.DebitBalance: %w", err)
	}
	return nil
}

// CreditBalance adds amount with an atomic expression.
func (r *LedgerRepository) CreditBalance(ctx context.Context, tx *sqlx.Tx, userID int64, token string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE balance_snapshot
		SET available_amount = available_amount + $1, updated_at = now()
		WHERE user_id = $2 AND token = $3`,
		amount, userID, token)
	if err != nil {
		return fmt.Errorf("ledger_repo.CreditBalance: %w", err)
	}
	return nil
}

// GetBalance reads a balance without locking. Returns a zero-amount snapshot
// when the row does not exist yet.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID int64, token string) (*domain.BalanceSnapshot, error) {
	var b domain.BalanceSnapshot
	err := r.db.GetContext(ctx, &b,
		`SELECT * FROM balance_snapshot WHERE user_id = $1 AND token = $2`,
		userID, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.BalanceSnapshot{
				UserID:          userID,
				Token:           token,
				AvailableAmount: decimal.Zero,
				LockedAmount:    decimal.Zero,
			}, nil
		}
		return nil, fmt.Errorf("ledger_repo.GetBalance: %w", err)
	}
	return &b, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Positions
// ──────────────────────────────────────────────────────────────────────────────

// GetPositionForUpdate locks and returns the (user, market, option) position
// row, creating an empty one when absent. Same savepoint pattern as
// GetBalanceForUpdate; positions are always locked after balances.
func (r *LedgerRepository) GetPositionForUpdate(ctx context.Context, tx *sqlx.Tx, userID int64, marketID uuid.UUID, optionID int64) (*domain.Position, error) {
	var p domain.Position
	err := tx.GetContext(ctx, &p, `
		SELECT * FROM positions
		WHERE user_id = $1 AND market_id = $2 AND option_id = $3
		FOR UPDATE`,
		userID, marketID, optionID)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger_repo.GetPositionForUpdate lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SAVEPOINT create_position`); err != nil {
		return nil, fmt.Errorf("ledger_repo.GetPositionForUpdate savepoint: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO positions (user_id, market_id, option_id, shares, cost_basis, updated_at)
		VALUES ($1, $2, $3, 0, 0, now())`,
		userID, marketID, optionID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT create_position`); err != nil {
			return nil, fmt.Errorf("ledger_repo.GetPositionForUpdate release: %w", err)
		}
	case isUniqueViolation(err):
		if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT create_position`); err != nil {
			return nil, fmt.Errorf("ledger_repo.GetPositionForUpdate rollback: %w", err)
		}
	default:
		return nil, fmt.Errorf("ledger_repo.GetPositionForUpdate insert: %w", err)
	}

	err = tx.GetContext(ctx, &p, `
		SELECT * FROM positions
		WHERE user_id = $1 AND market_id = $2 AND option_id = $3
		FOR UPDATE`,
		userID, marketID, optionID)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.GetPositionForUpdate reselect: %w", err)
	}
	return &p, nil
}

// UpdatePosition writes shares and cost basis back to a locked position row.
func (r *LedgerRepository) UpdatePosition(ctx context.Context, tx *sqlx.Tx, p *domain.Position) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET shares = $1, cost_basis = $2, updated_at = now()
		WHERE id = $3`,
		p.Shares, p.CostBasis, p.ID)
	if err != nil {
		return fmt.Errorf("ledger_repo.UpdatePosition: %w", err)
	}
	return nil
}

// IncrementPosition adds bought shares and cost basis with atomic
// expressions. The caller must hold the row lock.
func (r *LedgerRepository) IncrementPosition(ctx context.Context, tx *sqlx.Tx, positionID int64, shares, costBasis decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE positions
		SET shares = shares + $1, cost_basis = cost_basis + $2, updated_at = now()
		WHERE id = $3`,
		shares, costBasis, positionID)
	if err != nil {
		return fmt.Errorf("ledger_repo.IncrementPosition: %w", err)
	}
	return nil
}

// ListWinningPositions returns all positions with shares > 0 on the winning
// option, ordered by user id. Settlement locks balances in this order before
// touching the position rows.
func (r *LedgerRepository) ListWinningPositions(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, optionID int64) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := tx.SelectContext(ctx, &positions, `
		SELECT * FROM positions
		WHERE market_id = $1 AND option_id = $2 AND shares > 0
		ORDER BY user_id ASC`,
		marketID, optionID)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListWinningPositions: %w", err)
	}
	return positions, nil
}

// LockPositions locks a set of position rows by id, ordered by user id.
func (r *LedgerRepository) LockPositions(ctx context.Context, tx *sqlx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		SELECT id FROM positions WHERE id IN (?) ORDER BY user_id ASC FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("ledger_repo.LockPositions: %w", err)
	}
	var locked []int64
	if err := tx.SelectContext(ctx, &locked, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("ledger_repo.LockPositions: %w", err)
	}
	return nil
}

// ZeroPosition clears shares after a settlement payout or dust cleanup.
func (r *LedgerRepository) ZeroPosition(ctx context.Context, tx *sqlx.Tx, positionID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE positions SET shares = 0, cost_basis = 0, updated_at = now() WHERE id = $1`,
		positionID)
	if err != nil {
		return fmt.Errorf("ledger_repo.ZeroPosition: %w", err)
	}
	return nil
}

// ListPositionsByUser returns a user's open positions for portfolio views.
func (r *LedgerRepository) ListPositionsByUser(ctx context.Context, userID int64) ([]*domain.Position, error) {
	var positions []*domain.Position
	err := r.db.SelectContext(ctx, &positions, `
		SELECT * FROM positions
		WHERE user_id = $1 AND shares > 0
		ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListPositionsByUser: %w", err)
	}
	return positions, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Wallets
// ──────────────────────────────────────────────────────────────────────────────

// GetWalletByID fetches a wallet and verifies ownership.
func (r *LedgerRepository) GetWalletByID(ctx context.Context, tx *sqlx.Tx, walletID uuid.UUID, userID int64) (*domain.Wallet, error) {
	var w domain.Wallet
	err := tx.GetContext(ctx, &w,
		`SELECT * FROM wallets WHERE id = $1 AND user_id = $2`, walletID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("ledger_repo.GetWalletByID: %w", err)
	}
	return &w, nil
}

// ResolveWallet picks a user's primary wallet, then any wallet, else creates
// an off-chain placeholder.
func (r *LedgerRepository) ResolveWallet(ctx context.Context, tx *sqlx.Tx, userID int64, chainType string) (*domain.Wallet, error) {
	var w domain.Wallet
	err := tx.GetContext(ctx, &w, `
		SELECT * FROM wallets
		WHERE user_id = $1
		ORDER BY is_primary DESC, created_at ASC
		LIMIT 1`,
		userID)
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger_repo.ResolveWallet: %w", err)
	}

	w = domain.Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Address:   fmt.Sprintf("web2-%d", userID),
		ChainType: chainType,
		IsPrimary: true,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, address, chain_type, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		w.ID, w.UserID, w.Address, w.ChainType, w.IsPrimary)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ResolveWallet create: %w", err)
	}
	return &w, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Audit rows
// ──────────────────────────────────────────────────────────────────────────────

// CreateOrderIntent inserts the append-only record of the user's request.
func (r *LedgerRepository) CreateOrderIntent(ctx context.Context, tx *sqlx.Tx, oi *domain.OrderIntent) error {
	query := `
		INSERT INTO order_intents
			(id, user_id, market_id, option_id, wallet_id, side, token,
			 amount, shares, client_nonce, status, created_at)
		VALUES
			(:id, :user_id, :market_id, :option_id, :wallet_id, :side, :token,
			 :amount, :shares, :client_nonce, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, oi); err != nil {
		return fmt.Errorf("ledger_repo.CreateOrderIntent: %w", err)
	}
	return nil
}

// CreateTrade inserts the append-only record of what executed.
func (r *LedgerRepository) CreateTrade(ctx context.Context, tx *sqlx.Tx, t *domain.Trade) error {
	query := `
		INSERT INTO trades
			(id, order_intent_id, user_id, market_id, option_id, side, token,
			 amount_in, amount_out, shares, fee_amount, avg_price_bps, tx_hash, status, created_at)
		VALUES
			(:id, :order_intent_id, :user_id, :market_id, :option_id, :side, :token,
			 :amount_in, :amount_out, :shares, :fee_amount, :avg_price_bps, :tx_hash, :status, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, t); err != nil {
		return fmt.Errorf("ledger_repo.CreateTrade: %w", err)
	}
	return nil
}

// ListTradesByUser returns a user's trade history, newest first.
func (r *LedgerRepository) ListTradesByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	err := r.db.SelectContext(ctx, &trades, `
		SELECT * FROM trades
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListTradesByUser: %w", err)
	}
	return trades, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Settlements
// ──────────────────────────────────────────────────────────────────────────────

// GetSettlementByMarket returns the settlement row for a market, or nil when
// the market has not been settled. Accepts either the pool connection or an
// open transaction.
func (r *LedgerRepository) GetSettlementByMarket(ctx context.Context, q sqlx.ExtContext, marketID uuid.UUID) (*domain.MarketSettlement, error) {
	var s domain.MarketSettlement
	err := sqlx.GetContext(ctx, q, &s,
		`SELECT * FROM market_settlements WHERE market_id = $1`, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger_repo.GetSettlementByMarket: %w", err)
	}
	return &s, nil
}

// CreateSettlement inserts the settlement audit row. When the per-market
// unique constraint fires (a concurrent settlement won), the existing row is
// returned instead so callers stay idempotent.
func (r *LedgerRepository) CreateSettlement(ctx context.Context, tx *sqlx.Tx, s *domain.MarketSettlement) (*domain.MarketSettlement, error) {
	query := `
		INSERT INTO market_settlements
			(id, market_id, settlement_tx_id, winning_option_id,
			 total_payout, pool_cash_used, collateral_used, winners_count, created_at)
		VALUES
			(:id, :market_id, :settlement_tx_id, :winning_option_id,
			 :total_payout, :pool_cash_used, :collateral_used, :winners_count, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
		if isUniqueViolation(err) {
			existing, gerr := r.GetSettlementByMarket(ctx, tx, s.MarketID)
			if gerr != nil {
				return nil, gerr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("ledger_repo.CreateSettlement: %w", err)
	}
	return s, nil
}

// ListSettlements returns settlement audit rows, newest first, with the total
// row count for pagination.
func (r *LedgerRepository) ListSettlements(ctx context.Context, limit, offset int) ([]*domain.MarketSettlement, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM market_settlements`); err != nil {
		return nil, 0, fmt.Errorf("ledger_repo.ListSettlements: count: %w", err)
	}

	var settlements []*domain.MarketSettlement
	err := r.db.SelectContext(ctx, &settlements, `
		SELECT * FROM market_settlements
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger_repo.ListSettlements: %w", err)
	}
	return settlements, total, nil
}

// TokenTotal is one row of the outstanding-liability sum per token.
type TokenTotal struct {
	Token string          `db:"token" json:"token"`
	Total decimal.Decimal `db:"total" json:"total"`
}

// SumBalancesByToken sums available user balances per token. The result is
// the exchange's cash liability to its users.
func (r *LedgerRepository) SumBalancesByToken(ctx context.Context) ([]TokenTotal, error) {
	var totals []TokenTotal
	err := r.db.SelectContext(ctx, &totals, `
		SELECT token, COALESCE(SUM(available_amount), 0) AS total
		FROM balance_snapshot
		GROUP BY token
		ORDER BY token`)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.SumBalancesByToken: %w", err)
	}
	return totals, nil
}
