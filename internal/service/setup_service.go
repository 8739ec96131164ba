package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/amm"
	"github.com/forecastpool/exchange/internal/config"
	"github.com/forecastpool/exchange/internal/domain"
	"github.com/forecastpool/exchange/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// SetupService
// ──────────────────────────────────────────────────────────────────────────────

// SetupService provisions events, markets, options and their AMM pools. All
// pool provisioning is idempotent: re-running EnsureMarketPool/EnsureEventPool
// converges on the same rows.
type SetupService struct {
	db         *sqlx.DB
	marketRepo *repository.MarketRepository
	poolRepo   *repository.PoolRepository
	cfg        *config.Config
}

// NewSetupService creates a SetupService.
func NewSetupService(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	poolRepo *repository.PoolRepository,
	cfg *config.Config,
) *SetupService {
	return &SetupService{db: db, marketRepo: marketRepo, poolRepo: poolRepo, cfg: cfg}
}

// CreateEventParams carries the inputs for a new event.
type CreateEventParams struct {
	Title           string
	GroupRule       domain.GroupRule
	TradingDeadline *time.Time
	Hidden          bool
}

// OptionInput describes one outcome of a new market.
type OptionInput struct {
	Label string
	Side  *domain.OptionSide
}

// CreateMarketParams carries the inputs for a new market. Empty Options
// defaults to a binary YES/NO pair. Pool is ignored for markets inside an
// exclusive event; those trade through the event pool.
type CreateMarketParams struct {
	EventID         *uuid.UUID
	Title           string
	TradingDeadline *time.Time
	Hidden          bool
	Options         []OptionInput
	Pool            amm.ParamsInput
}

// ──────────────────────────────────────────────────────────────────────────────
// Events and markets
// ──────────────────────────────────────────────────────────────────────────────

// CreateEvent inserts a new event in pending status.
func (s *SetupService) CreateEvent(ctx context.Context, p CreateEventParams) (*domain.Event, error) {
	if p.Title == "" {
		return nil, domain.ErrInvalidParam.WithMessagef("title is required")
	}
	rule := p.GroupRule
	if rule == "" {
		rule = domain.GroupIndependent
	}
	switch rule {
	case domain.GroupStandalone, domain.GroupExclusive, domain.GroupIndependent:
	default:
		return nil, domain.ErrInvalidGroupRule.WithMessagef("unknown group rule %q", rule)
	}

	now := time.Now().UTC()
	event := &domain.Event{
		ID:              uuid.New(),
		Title:           p.Title,
		Status:          domain.StatusPending,
		GroupRule:       rule,
		Hidden:          p.Hidden,
		TradingDeadline: p.TradingDeadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.marketRepo.CreateEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// CreateMarket inserts a market with its options and, for markets outside
// exclusive events, provisions the market-scoped pool.
func (s *SetupService) CreateMarket(ctx context.Context, p CreateMarketParams) (*domain.Market, error) {
	if p.Title == "" {
		return nil, domain.ErrInvalidParam.WithMessagef("title is required")
	}

	var event *domain.Event
	if p.EventID != nil {
		var err error
		event, err = s.marketRepo.GetEvent(ctx, *p.EventID)
		if err != nil {
			return nil, err
		}
	}

	options := p.Options
	if len(options) == 0 {
		yes, no := domain.SideYes, domain.SideNo
		options = []OptionInput{
			{Label: "Yes", Side: &yes},
			{Label: "No", Side: &no},
		}
	}

	now := time.Now().UTC()
	market := &domain.Market{
		ID:              uuid.New(),
		EventID:         p.EventID,
		Title:           p.Title,
		Status:          domain.StatusPending,
		Hidden:          p.Hidden,
		TradingDeadline: p.TradingDeadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.marketRepo.CreateMarket(ctx, market); err != nil {
		return nil, err
	}
	for i, in := range options {
		opt := &domain.MarketOption{
			MarketID:    market.ID,
			OptionIndex: i,
			Label:       in.Label,
			Side:        in.Side,
			IsActive:    true,
			CreatedAt:   now,
		}
		if err := s.marketRepo.CreateOption(ctx, opt); err != nil {
			return nil, err
		}
	}

	// Markets inside an exclusive event trade through the shared event pool.
	if event != nil && event.IsExclusive() {
		return market, nil
	}
	if _, err := s.EnsureMarketPool(ctx, market.ID, p.Pool); err != nil {
		return nil, err
	}
	return market, nil
}

// UpdateMarketStatus moves a market through its lifecycle. Terminal states are
// reached through settlement, not here.
func (s *SetupService) UpdateMarketStatus(ctx context.Context, marketID uuid.UUID, status domain.MarketStatus) (err error) {
	switch status {
	case domain.StatusPending, domain.StatusActive, domain.StatusClosed, domain.StatusCanceled:
	default:
		return domain.ErrInvalidStatus.WithMessagef("cannot set status %q directly", status)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("setup_service.UpdateMarketStatus: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	market, err := s.marketRepo.GetMarketForUpdate(ctx, tx, marketID)
	if err != nil {
		return err
	}
	if market.Status.IsTerminal() {
		return domain.ErrAlreadyResolved.WithMessagef("market %s has status %s", market.ID, market.Status)
	}
	if err = s.marketRepo.SetMarketStatus(ctx, tx, marketID, status); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("setup_service.UpdateMarketStatus: commit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Pool provisioning
// ──────────────────────────────────────────────────────────────────────────────

// EnsureMarketPool provisions the market-scoped pool and one zero-quantity
// state row per active option.
func (s *SetupService) EnsureMarketPool(ctx context.Context, marketID uuid.UUID, in amm.ParamsInput) (*domain.AmmPool, error) {
	market, err := s.marketRepo.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	options, err := s.marketRepo.ListActiveOptions(ctx, market.ID)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return nil, domain.ErrPoolInvalid.WithMessagef("market %s has no active options", market.ID)
	}

	params, err := amm.NormalizeParams(in, len(options))
	if err != nil {
		return nil, toExecError(err)
	}

	pool, err := s.createPool(ctx, &market.ID, nil, params)
	if err != nil {
		return nil, err
	}
	for _, opt := range options {
		state := &domain.AmmPoolOptionState{
			PoolID:      pool.ID,
			OptionID:    opt.ID,
			OptionIndex: opt.OptionIndex,
			Q:           decimal.Zero,
		}
		if err := s.poolRepo.EnsureOptionState(ctx, state); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// EnsureEventPool provisions the shared pool of an exclusive event: one
// outcome per child market, backed by the market's canonical YES option.
// Pool-local indexes are assigned sequentially since option indexes repeat
// across markets.
func (s *SetupService) EnsureEventPool(ctx context.Context, eventID uuid.UUID, in amm.ParamsInput) (*domain.AmmPool, error) {
	event, err := s.marketRepo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.IsExclusive() {
		return nil, domain.ErrInvalidGroupRule.WithMessagef("event %s is not exclusive", event.ID)
	}

	canonical, err := s.canonicalOptions(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	if len(canonical) < 2 {
		return nil, domain.ErrPoolInvalid.WithMessagef("event %s needs at least 2 markets with options", event.ID)
	}

	params, err := amm.NormalizeParams(in, len(canonical))
	if err != nil {
		return nil, toExecError(err)
	}

	pool, err := s.createPool(ctx, nil, &event.ID, params)
	if err != nil {
		return nil, err
	}
	for i, opt := range canonical {
		state := &domain.AmmPoolOptionState{
			PoolID:      pool.ID,
			OptionID:    opt.ID,
			OptionIndex: i,
			Q:           decimal.Zero,
		}
		if err := s.poolRepo.EnsureOptionState(ctx, state); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// canonicalOptions picks one option per child market for the event pool: the
// YES-side option when marked, else the lowest option index.
func (s *SetupService) canonicalOptions(ctx context.Context, eventID uuid.UUID) ([]*domain.MarketOption, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("setup_service.canonicalOptions: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	markets, err := s.marketRepo.ListMarketsByEvent(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	var canonical []*domain.MarketOption
	for _, m := range markets {
		if m.Status.IsTerminal() {
			continue
		}
		options, err := s.marketRepo.ListActiveOptions(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if len(options) == 0 {
			continue
		}
		pick := options[0]
		found := false
		for _, o := range options {
			if o.IsYes() {
				pick = o
				found = true
				break
			}
		}
		if !found {
			log.Printf("event %s market %s has no yes-side option, using option_index %d",
				eventID, m.ID, pick.OptionIndex)
		}
		canonical = append(canonical, pick)
	}
	return canonical, nil
}

// createPool builds the pool row from normalized params and inserts it
// idempotently. Funded pools start with collateral_amount = initial funding
// and zero pool cash.
func (s *SetupService) createPool(ctx context.Context, marketID, eventID *uuid.UUID, params amm.Params) (*domain.AmmPool, error) {
	now := time.Now().UTC()
	pool := &domain.AmmPool{
		ID:               uuid.New(),
		MarketID:         marketID,
		EventID:          eventID,
		Model:            params.Model,
		B:                params.B,
		FeeBps:           params.FeeBps,
		CollateralToken:  params.CollateralToken,
		PoolCash:         decimal.Zero,
		CollateralAmount: params.CollateralAmount,
		Status:           domain.PoolActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return s.poolRepo.CreatePool(ctx, pool)
}
