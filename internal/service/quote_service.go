package service

import (
	"context"
	"errors"
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
// QuoteService
// ──────────────────────────────────────────────────────────────────────────────

// QuoteService prices trades without touching any balances. Quotes read the
// pool state with plain (unlocked) selects; the authoritative re-quote happens
// under row locks inside the execution transaction.
type QuoteService struct {
	db         *sqlx.DB
	marketRepo *repository.MarketRepository
	poolRepo   *repository.PoolRepository
	cfg        *config.Config
}

// NewQuoteService creates a QuoteService.
func NewQuoteService(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	poolRepo *repository.PoolRepository,
	cfg *config.Config,
) *QuoteService {
	return &QuoteService{
		db:         db,
		marketRepo: marketRepo,
		poolRepo:   poolRepo,
		cfg:        cfg,
	}
}

// QuoteParams carries the validated inputs for a price quote.
// Exactly one of OptionID/OptionIndex and exactly one of Amount/Shares must
// be set.
type QuoteParams struct {
	MarketID    uuid.UUID
	OptionID    *int64
	OptionIndex *int
	Side        amm.Side
	Amount      *decimal.Decimal
	Shares      *decimal.Decimal
}

// GetQuote validates that the market is tradable and prices the requested
// trade against the current pool state.
func (s *QuoteService) GetQuote(ctx context.Context, p QuoteParams) (*amm.Quote, error) {
	market, event, err := s.loadTradableMarket(ctx, p.MarketID)
	if err != nil {
		return nil, err
	}

	pool, err := s.findPool(ctx, market)
	if err != nil {
		return nil, err
	}
	if !pool.IsActive() {
		return nil, domain.ErrPoolInvalid.WithMessagef("pool %s is closed", pool.ID)
	}

	states, err := s.poolRepo.ListOptionStates(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	state, err := buildPoolState(ctx, s.db, s.marketRepo, market, event, pool, states)
	if err != nil {
		return nil, err
	}

	selector, isNoSide, err := s.resolveSelector(ctx, market, state, p.OptionID, p.OptionIndex)
	if err != nil {
		return nil, err
	}

	quote, err := amm.QuoteFromState(state, amm.QuoteRequest{
		Selector:   selector,
		Side:       p.Side,
		Amount:     p.Amount,
		Shares:     p.Shares,
		MoneyQuant: decimal.NewFromFloat(s.cfg.AMM.MoneyQuant),
		IsNoSide:   isNoSide,
	})
	if err != nil {
		return nil, toExecError(err)
	}
	return quote, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Shared lookups
// ──────────────────────────────────────────────────────────────────────────────

// loadTradableMarket fetches the market (and its event, when any) and runs
// every trading precondition.
func (s *QuoteService) loadTradableMarket(ctx context.Context, marketID uuid.UUID) (*domain.Market, *domain.Event, error) {
	market, err := s.marketRepo.GetMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}
	var event *domain.Event
	if market.EventID != nil {
		event, err = s.marketRepo.GetEvent(ctx, *market.EventID)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := market.CheckTradable(event, time.Now().UTC()); err != nil {
		return nil, nil, err
	}
	return market, event, nil
}

// findPool resolves the market's own pool, falling back to the event-scoped
// pool for exclusive events.
func (s *QuoteService) findPool(ctx context.Context, market *domain.Market) (*domain.AmmPool, error) {
	pool, err := s.poolRepo.GetByMarket(ctx, market.ID)
	if err == nil {
		return pool, nil
	}
	if !errors.Is(err, domain.ErrPoolNotFound) || market.EventID == nil {
		return nil, err
	}
	return s.poolRepo.GetByEvent(ctx, *market.EventID)
}

// resolveSelector maps the request's option identifier to a quote selector
// and detects NO-side targets. A NO-side option id is validated against the
// pool's mapping before any quote runs.
func (s *QuoteService) resolveSelector(
	ctx context.Context,
	market *domain.Market,
	state *amm.PoolState,
	optionID *int64,
	optionIndex *int,
) (amm.Selector, bool, error) {
	if (optionID == nil) == (optionIndex == nil) {
		return amm.Selector{}, false, domain.ErrInvalidParam.WithMessagef("provide exactly one of option_id or option_index")
	}

	if optionIndex != nil {
		sel := amm.SelectByIndex(*optionIndex)
		if _, err := state.ResolveTarget(sel); err != nil {
			return amm.Selector{}, false, domain.ErrOptionNotFound.WithMessagef("option_index %d not in pool", *optionIndex)
		}
		return sel, false, nil
	}

	opt, err := s.marketRepo.GetOption(ctx, *optionID)
	if err != nil {
		return amm.Selector{}, false, err
	}
	if opt.MarketID != market.ID {
		return amm.Selector{}, false, domain.ErrPoolMismatch.WithMessagef("option %d belongs to another market", opt.ID)
	}
	if !opt.IsActive {
		return amm.Selector{}, false, domain.ErrOptionNotActive.WithMessagef("option %d is not active", opt.ID)
	}

	sel := amm.SelectByID(opt.ID)
	_, isNoSide, err := state.ResolveWithSide(sel)
	if err != nil {
		return amm.Selector{}, false, domain.ErrOptionNotFound.WithMessagef("option %d not in pool", opt.ID)
	}
	if isNoSide {
		if err := state.ValidateNoMapping(opt.ID); err != nil {
			return amm.Selector{}, false, domain.ErrPoolMappingError.WithMessagef("%s", err.Error())
		}
	}
	return sel, isNoSide, nil
}
