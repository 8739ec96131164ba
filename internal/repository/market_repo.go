package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/domain"
)

// MarketRepository handles all database operations for events, markets,
// options and their derived statistics.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// ──────────────────────────────────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────────────────────────────────

// CreateEvent inserts a new event row.
func (r *MarketRepository) CreateEvent(ctx context.Context, e *domain.Event) error {
	query := `
		INSERT INTO events
			(id, title, status, group_rule, hidden, trading_deadline, created_at, updated_at)
		VALUES
			(:id, :title, :status, :group_rule, :hidden, :trading_deadline, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, e); err != nil {
		return fmt.Errorf("market_repo.CreateEvent: %w", err)
	}
	return nil
}

// GetEvent fetches an event by its primary key.
func (r *MarketRepository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	var e domain.Event
	err := r.db.GetContext(ctx, &e, `SELECT * FROM events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("market_repo.GetEvent: %w", err)
	}
	return &e, nil
}

// GetEventForUpdate locks and fetches an event row inside a transaction.
func (r *MarketRepository) GetEventForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Event, error) {
	var e domain.Event
	err := tx.GetContext(ctx, &e, `SELECT * FROM events WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("market_repo.GetEventForUpdate: %w", err)
	}
	return &e, nil
}

// UpdateEventStatus writes a new status and optional resolved market pointer.
func (r *MarketRepository) UpdateEventStatus(ctx context.Context, tx *sqlx.Tx, eventID uuid.UUID, status domain.MarketStatus, resolvedMarketID *uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE events
		SET status = $1, resolved_market_id = $2, updated_at = now()
		WHERE id = $3`,
		string(status), resolvedMarketID, eventID)
	if err != nil {
		return fmt.Errorf("market_repo.UpdateEventStatus: %w", err)
	}
	return nil
}

// ListMarketsByEvent returns all constituent markets of an event.
// Accepts either the pool connection or an open transaction.
func (r *MarketRepository) ListMarketsByEvent(ctx context.Context, q sqlx.ExtContext, eventID uuid.UUID) ([]*domain.Market, error) {
	var markets []*domain.Market
	err := sqlx.SelectContext(ctx, q, &markets,
		`SELECT * FROM markets WHERE event_id = $1 ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListMarketsByEvent: %w", err)
	}
	return markets, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Markets
// ──────────────────────────────────────────────────────────────────────────────

// CreateMarket inserts a new market row.
func (r *MarketRepository) CreateMarket(ctx context.Context, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(id, event_id, title, status, hidden, trading_deadline, created_at, updated_at)
		VALUES
			(:id, :event_id, :title, :status, :hidden, :trading_deadline, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("market_repo.CreateMarket: %w", err)
	}
	return nil
}

// GetMarket fetches a market by its primary key.
func (r *MarketRepository) GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetMarket: %w", err)
	}
	return &m, nil
}

// GetMarketForUpdate locks and fetches a market row. This is always the first
// lock taken by execution and settlement.
func (r *MarketRepository) GetMarketForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	var m domain.Market
	err := tx.GetContext(ctx, &m, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetMarketForUpdate: %w", err)
	}
	return &m, nil
}

// ListMarkets returns a paginated slice of markets filtered by optional
// status. status="" returns all statuses.
func (r *MarketRepository) ListMarkets(ctx context.Context, limit, offset int, status string) ([]*domain.Market, int, error) {
	var markets []*domain.Market
	var total int

	if status != "" {
		if err := r.db.GetContext(ctx, &total,
			`SELECT COUNT(*) FROM markets WHERE status = $1`, status); err != nil {
			return nil, 0, fmt.Errorf("market_repo.ListMarkets count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.ListMarkets select: %w", err)
		}
	} else {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM markets`); err != nil {
			return nil, 0, fmt.Errorf("market_repo.ListMarkets count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &markets,
			`SELECT * FROM markets ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.ListMarkets select: %w", err)
		}
	}
	return markets, total, nil
}

// GetExpiredActive returns active markets whose effective trading deadline has
// passed (the market's own deadline, else the event's). Used by the scheduler
// to flip them to closed.
func (r *MarketRepository) GetExpiredActive(ctx context.Context, now time.Time) ([]*domain.Market, error) {
	var markets []*domain.Market
	err := r.db.SelectContext(ctx, &markets, `
		SELECT m.*
		FROM markets m
		LEFT JOIN events e ON e.id = m.event_id
		WHERE m.status = 'active'
		  AND COALESCE(m.trading_deadline, e.trading_deadline) <= $1
		ORDER BY COALESCE(m.trading_deadline, e.trading_deadline) ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("market_repo.GetExpiredActive: %w", err)
	}
	return markets, nil
}

// CloseMarket flips an active market to closed. Returns ErrMarketNotFound
// when the market is no longer active (already closed or resolved by a
// concurrent path).
func (r *MarketRepository) CloseMarket(ctx context.Context, marketID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE markets
		SET status = 'closed', updated_at = now()
		WHERE id = $1 AND status = 'active'`,
		marketID)
	if err != nil {
		return fmt.Errorf("market_repo.CloseMarket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// SetResolvedOption writes the winning option index and resolved_at. The
// status is written separately so resolve_and_settle can defer the flip until
// the payout lands.
func (r *MarketRepository) SetResolvedOption(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, optionIndex int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE markets
		SET resolved_option_index = $1, resolved_at = now(), updated_at = now()
		WHERE id = $2`,
		optionIndex, marketID)
	if err != nil {
		return fmt.Errorf("market_repo.SetResolvedOption: %w", err)
	}
	return nil
}

// SetMarketStatus writes a new market status inside a transaction.
func (r *MarketRepository) SetMarketStatus(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, status domain.MarketStatus) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE markets SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), marketID)
	if err != nil {
		return fmt.Errorf("market_repo.SetMarketStatus: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Options
// ──────────────────────────────────────────────────────────────────────────────

// CreateOption inserts a market option and returns its generated id.
func (r *MarketRepository) CreateOption(ctx context.Context, o *domain.MarketOption) error {
	query := `
		INSERT INTO market_options (market_id, option_index, label, side, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.db.GetContext(ctx, &o.ID, query,
		o.MarketID, o.OptionIndex, o.Label, o.Side, o.IsActive, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("market_repo.CreateOption: %w", err)
	}
	return nil
}

// GetOption fetches an option by id.
func (r *MarketRepository) GetOption(ctx context.Context, id int64) (*domain.MarketOption, error) {
	var o domain.MarketOption
	err := r.db.GetContext(ctx, &o, `SELECT * FROM market_options WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOptionNotFound
		}
		return nil, fmt.Errorf("market_repo.GetOption: %w", err)
	}
	return &o, nil
}

// GetOptionForUpdate locks and fetches one option row by id or, when id is
// nil, by (market, option_index).
func (r *MarketRepository) GetOptionForUpdate(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, optionID *int64, optionIndex *int) (*domain.MarketOption, error) {
	var o domain.MarketOption
	var err error
	switch {
	case optionID != nil:
		err = tx.GetContext(ctx, &o,
			`SELECT * FROM market_options WHERE id = $1 FOR UPDATE`, *optionID)
	case optionIndex != nil:
		err = tx.GetContext(ctx, &o,
			`SELECT * FROM market_options WHERE market_id = $1 AND option_index = $2 FOR UPDATE`,
			marketID, *optionIndex)
	default:
		return nil, domain.ErrInvalidParam.WithMessagef("option_id or option_index is required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOptionNotFound
		}
		return nil, fmt.Errorf("market_repo.GetOptionForUpdate: %w", err)
	}
	return &o, nil
}

// DeactivateOptionsByMarket flips every option of a market inactive. Used
// when a market is eliminated from an exclusive event.
func (r *MarketRepository) DeactivateOptionsByMarket(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE market_options SET is_active = FALSE WHERE market_id = $1`,
		marketID)
	if err != nil {
		return fmt.Errorf("market_repo.DeactivateOptionsByMarket: %w", err)
	}
	return nil
}

// ListActiveOptions returns a market's active options ordered by option_index.
func (r *MarketRepository) ListActiveOptions(ctx context.Context, marketID uuid.UUID) ([]*domain.MarketOption, error) {
	var opts []*domain.MarketOption
	err := r.db.SelectContext(ctx, &opts, `
		SELECT * FROM market_options
		WHERE market_id = $1 AND is_active = TRUE
		ORDER BY option_index ASC, id ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListActiveOptions: %w", err)
	}
	return opts, nil
}

// ListOptionsByIDs returns options for a set of ids, in no particular order.
// Accepts either the pool connection or an open transaction so the quote and
// execution paths share one query.
func (r *MarketRepository) ListOptionsByIDs(ctx context.Context, q sqlx.ExtContext, ids []int64) ([]*domain.MarketOption, error) {
	query, args, err := sqlx.In(`SELECT * FROM market_options WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListOptionsByIDs: %w", err)
	}
	var opts []*domain.MarketOption
	if err := sqlx.SelectContext(ctx, q, &opts, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("market_repo.ListOptionsByIDs: %w", err)
	}
	return opts, nil
}

// ListNoOptionsByMarkets returns the active NO-side options of a set of
// markets. Used to build the NO→YES mapping for exclusive-event pools.
func (r *MarketRepository) ListNoOptionsByMarkets(ctx context.Context, q sqlx.ExtContext, marketIDs []uuid.UUID) ([]*domain.MarketOption, error) {
	query, args, err := sqlx.In(`
		SELECT * FROM market_options
		WHERE market_id IN (?) AND side = 'no' AND is_active = TRUE`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListNoOptionsByMarkets: %w", err)
	}
	var opts []*domain.MarketOption
	if err := sqlx.SelectContext(ctx, q, &opts, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("market_repo.ListNoOptionsByMarkets: %w", err)
	}
	return opts, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Statistics & series
// ──────────────────────────────────────────────────────────────────────────────

// StatsProbUpdate is one derived-probability write. Event-scoped pools span
// multiple markets, so each update carries its own market id.
type StatsProbUpdate struct {
	OptionID int64
	MarketID uuid.UUID
	ProbBps  int
}

// UpsertStatsProb writes derived probabilities for a set of options.
func (r *MarketRepository) UpsertStatsProb(ctx context.Context, tx *sqlx.Tx, updates []StatsProbUpdate) error {
	for _, u := range updates {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO market_option_stats (option_id, market_id, prob_bps, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (option_id)
			DO UPDATE SET prob_bps = EXCLUDED.prob_bps, updated_at = now()`,
			u.OptionID, u.MarketID, u.ProbBps)
		if err != nil {
			return fmt.Errorf("market_repo.UpsertStatsProb: %w", err)
		}
	}
	return nil
}

// BumpVolume adds traded gross volume to one option's statistics row: the
// lifetime total, the rolling 24h counter, and the last-trade timestamp.
func (r *MarketRepository) BumpVolume(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, optionID int64, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO market_option_stats (option_id, market_id, volume_total, volume_24h, last_trade_at, updated_at)
		VALUES ($1, $2, $3, $3, now(), now())
		ON CONFLICT (option_id)
		DO UPDATE SET
			volume_total  = market_option_stats.volume_total + EXCLUDED.volume_total,
			volume_24h    = market_option_stats.volume_24h + EXCLUDED.volume_24h,
			last_trade_at = now(),
			updated_at    = now()`,
		optionID, marketID, amount)
	if err != nil {
		return fmt.Errorf("market_repo.BumpVolume: %w", err)
	}
	return nil
}

// RollOffVolume24h recomputes the rolling 24h counters from the trades table
// for every row whose counter is non-zero. Trades bump the counter inline;
// this sweep rolls aged volume back off.
func (r *MarketRepository) RollOffVolume24h(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE market_option_stats s
		SET volume_24h = COALESCE((
				SELECT SUM(t.amount_in + t.amount_out)
				FROM trades t
				WHERE t.option_id = s.option_id AND t.created_at >= $1), 0),
			updated_at = now()
		WHERE s.volume_24h <> 0`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("market_repo.RollOffVolume24h: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// SetResolvedStats pins a resolved market's probabilities: the winning option
// reads 10000 bps and every other option 0.
func (r *MarketRepository) SetResolvedStats(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID, winningOptionID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE market_option_stats
		SET prob_bps = CASE WHEN option_id = $2 THEN 10000 ELSE 0 END, updated_at = now()
		WHERE market_id = $1`,
		marketID, winningOptionID)
	if err != nil {
		return fmt.Errorf("market_repo.SetResolvedStats: %w", err)
	}
	return nil
}

// UpsertSeriesPoint writes one time-bucketed probability point, overwriting
// the bucket's value on conflict.
func (r *MarketRepository) UpsertSeriesPoint(ctx context.Context, tx *sqlx.Tx, p *domain.MarketOptionSeries) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO market_option_series (option_id, interval, bucket_start, prob_bps)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (option_id, interval, bucket_start)
		DO UPDATE SET prob_bps = EXCLUDED.prob_bps`,
		p.OptionID, p.Interval, p.BucketStart, p.ProbBps)
	if err != nil {
		return fmt.Errorf("market_repo.UpsertSeriesPoint: %w", err)
	}
	return nil
}

// UpsertSeriesPoints writes a batch of probability points best-effort: each
// insert runs under a savepoint so a series-table failure never aborts the
// surrounding trade transaction. Failures are logged and swallowed.
func (r *MarketRepository) UpsertSeriesPoints(ctx context.Context, tx *sqlx.Tx, points []*domain.MarketOptionSeries) {
	for _, p := range points {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT series_point`); err != nil {
			log.Printf("market_repo.UpsertSeriesPoints: savepoint: %v", err)
			return
		}
		if err := r.UpsertSeriesPoint(ctx, tx, p); err != nil {
			log.Printf("market_repo.UpsertSeriesPoints: option %d: %v", p.OptionID, err)
			if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT series_point`); err != nil {
				log.Printf("market_repo.UpsertSeriesPoints: rollback: %v", err)
				return
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT series_point`); err != nil {
			log.Printf("market_repo.UpsertSeriesPoints: release: %v", err)
			return
		}
	}
}

// ListSeries returns chart points for one option and interval, oldest first.
func (r *MarketRepository) ListSeries(ctx context.Context, optionID int64, interval string, limit int) ([]*domain.MarketOptionSeries, error) {
	var points []*domain.MarketOptionSeries
	err := r.db.SelectContext(ctx, &points, `
		SELECT option_id, interval, bucket_start, prob_bps
		FROM market_option_series
		WHERE option_id = $1 AND interval = $2
		ORDER BY bucket_start DESC
		LIMIT $3`,
		optionID, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListSeries: %w", err)
	}
	// Reverse to oldest-first for charting.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// StatusCount is one row of the per-status market tally on the operator
// dashboard.
type StatusCount struct {
	Status string `db:"status" json:"status"`
	Count  int    `db:"count"  json:"count"`
}

// CountMarketsByStatus tallies markets per status for the operator dashboard.
func (r *MarketRepository) CountMarketsByStatus(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT status, COUNT(*) AS count FROM markets GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("market_repo.CountMarketsByStatus: %w", err)
	}
	return counts, nil
}

// ListStatsByMarket returns the statistics rows for a market's options.
func (r *MarketRepository) ListStatsByMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.MarketOptionStats, error) {
	var stats []*domain.MarketOptionStats
	err := r.db.SelectContext(ctx, &stats, `
		SELECT * FROM market_option_stats WHERE market_id = $1 ORDER BY option_id ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListStatsByMarket: %w", err)
	}
	return stats, nil
}
