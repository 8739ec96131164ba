package service

import (
	"context"
	"errors"
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
// SettlementService
// ──────────────────────────────────────────────────────────────────────────────

// SettlementService resolves markets and pays winners. Settlement uses the
// same lock order as trading (market and event → pool → balances → positions)
// with balances taken in ascending user id, so concurrent trades and
// settlements serialize instead of deadlocking.
type SettlementService struct {
	db          *sqlx.DB
	marketRepo  *repository.MarketRepository
	poolRepo    *repository.PoolRepository
	ledgerRepo  *repository.LedgerRepository
	cfg         *config.Config
	invalidator Invalidator
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	poolRepo *repository.PoolRepository,
	ledgerRepo *repository.LedgerRepository,
	cfg *config.Config,
	invalidator Invalidator,
) *SettlementService {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	return &SettlementService{
		db:          db,
		marketRepo:  marketRepo,
		poolRepo:    poolRepo,
		ledgerRepo:  ledgerRepo,
		cfg:         cfg,
		invalidator: invalidator,
	}
}

// SettlementResult pairs the settlement audit row with a replay marker, so a
// caller re-submitting an already-settled market can tell that no money moved
// on this call.
type SettlementResult struct {
	*domain.MarketSettlement
	AlreadySettled bool `json:"already_settled"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolveMarket
// ──────────────────────────────────────────────────────────────────────────────

// ResolveMarket records the winning option of a market and flips it to
// resolved without moving any money. Payout happens in SettleMarket.
// Idempotent: resolving an already-settled market with the same outcome
// returns the recorded resolution.
func (s *SettlementService) ResolveMarket(ctx context.Context, marketID uuid.UUID, optionIndex int) (m *domain.Market, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ResolveMarket: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock market and event, gate on source state ───────────────────────
	market, event, err := s.lockMarketChain(ctx, tx, marketID)
	if err != nil {
		return nil, err
	}
	existing, err := s.ledgerRepo.GetSettlementByMarket(ctx, tx, market.ID)
	if err != nil {
		return nil, err
	}
	replay, err := resolveGate(market, existing != nil, optionIndex)
	if err != nil {
		return nil, err
	}
	if replay {
		_ = tx.Rollback()
		return market, nil
	}

	// ── 2. Validate the winning option ───────────────────────────────────────
	winOpt, err := s.marketRepo.GetOptionForUpdate(ctx, tx, market.ID, nil, &optionIndex)
	if err != nil {
		return nil, err
	}
	if !winOpt.IsActive {
		return nil, domain.ErrOptionNotActive.WithMessagef("winning option %d is not active", winOpt.ID)
	}

	// ── 3. Record the outcome ────────────────────────────────────────────────
	if err = s.marketRepo.SetResolvedOption(ctx, tx, market.ID, optionIndex); err != nil {
		return nil, err
	}
	if err = s.marketRepo.SetMarketStatus(ctx, tx, market.ID, domain.StatusResolved); err != nil {
		return nil, err
	}
	if err = s.marketRepo.SetResolvedStats(ctx, tx, market.ID, winOpt.ID); err != nil {
		return nil, err
	}

	// ── 4. Standalone resolve cascades the event ─────────────────────────────
	if event != nil {
		id := market.ID
		if err = s.marketRepo.UpdateEventStatus(ctx, tx, event.ID, domain.StatusResolved, &id); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("settlement_service.ResolveMarket: commit: %w", err)
	}

	s.invalidateAfter(market, event)
	market.Status = domain.StatusResolved
	market.ResolvedOptionIndex = &optionIndex
	return market, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// SettleMarket
// ──────────────────────────────────────────────────────────────────────────────

// SettleMarket pays 1 unit of the pool's collateral token per winning share to
// every holder of the resolved option. The market must already be resolved.
// Idempotent via the settlement tx id (autogenerated when nil): a second call
// returns the recorded settlement marked already_settled without moving money.
func (s *SettlementService) SettleMarket(ctx context.Context, marketID uuid.UUID, txID *string) (st *SettlementResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.SettleMarket: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock market and event, gate on status ─────────────────────────────
	market, event, err := s.lockMarketChain(ctx, tx, marketID)
	if err != nil {
		return nil, err
	}
	if err = settleGate(market); err != nil {
		return nil, err
	}

	// ── 2. Idempotency ───────────────────────────────────────────────────────
	existing, err := s.ledgerRepo.GetSettlementByMarket(ctx, tx, market.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_ = tx.Rollback()
		return &SettlementResult{MarketSettlement: existing, AlreadySettled: true}, nil
	}

	// ── 3. Pay out ───────────────────────────────────────────────────────────
	winOpt, err := s.marketRepo.GetOptionForUpdate(ctx, tx, market.ID, nil, market.ResolvedOptionIndex)
	if err != nil {
		return nil, err
	}
	settlement, err := s.settleLocked(ctx, tx, market, winOpt, settlementTxID(txID))
	if err != nil {
		return nil, err
	}

	// ── 4. Pin stats and sync the event ──────────────────────────────────────
	if err = s.marketRepo.SetResolvedStats(ctx, tx, market.ID, winOpt.ID); err != nil {
		return nil, err
	}
	if err = s.syncEventAfterSettle(ctx, tx, market, event, winOpt); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("settlement_service.SettleMarket: commit: %w", err)
	}

	s.invalidateAfter(market, event)
	return &SettlementResult{MarketSettlement: settlement}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolveAndSettle
// ──────────────────────────────────────────────────────────────────────────────

// ResolveAndSettle records the outcome and pays winners in one transaction.
// The status flips to resolved only after the payout lands, so a crash or a
// funding shortfall leaves the market unresolved rather than
// resolved-but-unpaid. This is the canonical settlement path.
func (s *SettlementService) ResolveAndSettle(ctx context.Context, marketID uuid.UUID, optionIndex int) (st *SettlementResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ResolveAndSettle: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock market and event, gate on source state ───────────────────────
	market, event, err := s.lockMarketChain(ctx, tx, marketID)
	if err != nil {
		return nil, err
	}
	existing, err := s.ledgerRepo.GetSettlementByMarket(ctx, tx, market.ID)
	if err != nil {
		return nil, err
	}
	replay, err := resolveGate(market, existing != nil, optionIndex)
	if err != nil {
		return nil, err
	}
	if replay {
		_ = tx.Rollback()
		return &SettlementResult{MarketSettlement: existing, AlreadySettled: true}, nil
	}

	// ── 2. Validate and record the outcome, status untouched ─────────────────
	winOpt, err := s.marketRepo.GetOptionForUpdate(ctx, tx, market.ID, nil, &optionIndex)
	if err != nil {
		return nil, err
	}
	if !winOpt.IsActive {
		return nil, domain.ErrOptionNotActive.WithMessagef("winning option %d is not active", winOpt.ID)
	}
	if err = s.marketRepo.SetResolvedOption(ctx, tx, market.ID, optionIndex); err != nil {
		return nil, err
	}

	// ── 3. Pay out ───────────────────────────────────────────────────────────
	settlement, err := s.settleLocked(ctx, tx, market, winOpt, settlementTxID(nil))
	if err != nil {
		return nil, err
	}

	// ── 4. Flip status after the payout, pin stats, cascade the event ────────
	if err = s.marketRepo.SetMarketStatus(ctx, tx, market.ID, domain.StatusResolved); err != nil {
		return nil, err
	}
	if err = s.marketRepo.SetResolvedStats(ctx, tx, market.ID, winOpt.ID); err != nil {
		return nil, err
	}
	if event != nil {
		id := market.ID
		if err = s.marketRepo.UpdateEventStatus(ctx, tx, event.ID, domain.StatusResolved, &id); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("settlement_service.ResolveAndSettle: commit: %w", err)
	}

	s.invalidateAfter(market, event)
	return &SettlementResult{MarketSettlement: settlement}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolveAndSettlePartial
// ──────────────────────────────────────────────────────────────────────────────

// ResolveAndSettlePartial settles one constituent market of an exclusive or
// independent event without resolving the event itself.
//
// Exclusive events settle through the shared pool: only a NO outcome may win
// (a YES resolution closes the whole event through ResolveAndSettle), the
// eliminated outcome leaves the pool, the pool stays open, and the surviving
// outcomes' probabilities are recomputed before commit. When optionIndex is
// nil the market's NO option wins.
//
// Independent events settle the market's own pool and close it; optionIndex
// is required because either side may win.
func (s *SettlementService) ResolveAndSettlePartial(ctx context.Context, marketID uuid.UUID, optionIndex *int) (st *SettlementResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ResolveAndSettlePartial: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 1. Lock market and event, verify the group rule ──────────────────────
	market, event, err := s.lockMarketChain(ctx, tx, marketID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound.WithMessagef("partial settlement requires an event")
	}
	if event.GroupRule != domain.GroupExclusive && event.GroupRule != domain.GroupIndependent {
		return nil, domain.ErrInvalidGroupRule.WithMessagef("partial settlement supports exclusive and independent events, got %s", event.GroupRule)
	}

	// ── 2. Pick the winning option ───────────────────────────────────────────
	winOpt, err := s.partialWinningOption(ctx, tx, market, event, optionIndex)
	if err != nil {
		return nil, err
	}

	// ── 3. Gate on source state ──────────────────────────────────────────────
	existing, err := s.ledgerRepo.GetSettlementByMarket(ctx, tx, market.ID)
	if err != nil {
		return nil, err
	}
	replay, err := resolveGate(market, existing != nil, winOpt.OptionIndex)
	if err != nil {
		return nil, err
	}
	if replay {
		_ = tx.Rollback()
		return &SettlementResult{MarketSettlement: existing, AlreadySettled: true}, nil
	}

	// ── 4. Pay out and retire the market ─────────────────────────────────────
	var settlement *domain.MarketSettlement
	if event.IsExclusive() {
		settlement, err = s.settlePartialExclusive(ctx, tx, market, event, winOpt)
	} else {
		settlement, err = s.settleLocked(ctx, tx, market, winOpt, settlementTxID(nil))
	}
	if err != nil {
		return nil, err
	}
	if err = s.marketRepo.SetResolvedOption(ctx, tx, market.ID, winOpt.OptionIndex); err != nil {
		return nil, err
	}
	if err = s.marketRepo.SetMarketStatus(ctx, tx, market.ID, domain.StatusResolved); err != nil {
		return nil, err
	}
	if err = s.marketRepo.SetResolvedStats(ctx, tx, market.ID, winOpt.ID); err != nil {
		return nil, err
	}

	// ── 5. Event flips only when every child is terminal ─────────────────────
	if err = s.syncEventAfterSettle(ctx, tx, market, event, winOpt); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("settlement_service.ResolveAndSettlePartial: commit: %w", err)
	}

	s.invalidateAfter(market, event)
	return &SettlementResult{MarketSettlement: settlement}, nil
}

// partialWinningOption picks and validates the winner of a partial
// settlement. Exclusive events may only eliminate through the NO side and
// default to it when no index is given; independent events must name a side.
func (s *SettlementService) partialWinningOption(
	ctx context.Context,
	tx *sqlx.Tx,
	market *domain.Market,
	event *domain.Event,
	optionIndex *int,
) (*domain.MarketOption, error) {
	if optionIndex == nil {
		if !event.IsExclusive() {
			return nil, domain.ErrInvalidParam.WithMessagef("option_index is required for independent events")
		}
		noOpts, err := s.marketRepo.ListNoOptionsByMarkets(ctx, tx, []uuid.UUID{market.ID})
		if err != nil {
			return nil, err
		}
		if len(noOpts) == 0 {
			return nil, domain.ErrInvalidPartialOption.WithMessagef("market %s has no NO-side option to settle", market.ID)
		}
		return noOpts[0], nil
	}

	winOpt, err := s.marketRepo.GetOptionForUpdate(ctx, tx, market.ID, nil, optionIndex)
	if err != nil {
		return nil, err
	}
	if !winOpt.IsActive {
		return nil, domain.ErrOptionNotActive.WithMessagef("winning option %d is not active", winOpt.ID)
	}
	if event.IsExclusive() && !winOpt.IsNo() {
		return nil, domain.ErrInvalidPartialOption.WithMessagef("option %d is not a NO outcome", winOpt.ID)
	}
	return winOpt, nil
}

// settlePartialExclusive pays NO holders from the shared event pool, removes
// the eliminated outcome, and renormalizes the surviving outcomes' stats. The
// pool stays open for the event's remaining markets.
func (s *SettlementService) settlePartialExclusive(
	ctx context.Context,
	tx *sqlx.Tx,
	market *domain.Market,
	event *domain.Event,
	winOpt *domain.MarketOption,
) (*domain.MarketSettlement, error) {
	pool, err := s.poolRepo.GetByEvent(ctx, *market.EventID)
	if err != nil {
		return nil, err
	}
	pool, err = s.poolRepo.GetForUpdate(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	states, err := s.poolRepo.LockOptionStates(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	eliminated, err := s.findPoolOutcomeOfMarket(ctx, tx, states, market.ID)
	if err != nil {
		return nil, err
	}

	settlement, err := s.payWinners(ctx, tx, market, pool, winOpt, settlementTxID(nil))
	if err != nil {
		return nil, err
	}

	if err = s.poolRepo.RemoveOptionState(ctx, tx, pool.ID, eliminated.OptionID); err != nil {
		return nil, err
	}
	if err = s.marketRepo.DeactivateOptionsByMarket(ctx, tx, market.ID); err != nil {
		return nil, err
	}

	// Renormalize the surviving outcomes in the same transaction: with one
	// outcome gone the LMSR prices of the rest shift immediately, and readers
	// must not see the pre-elimination probabilities.
	survivors, err := s.poolRepo.LockOptionStates(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	if err = s.refreshSurvivorStats(ctx, tx, pool, survivors); err != nil {
		return nil, err
	}
	return settlement, nil
}

// refreshSurvivorStats recomputes and writes probabilities for the pool's
// remaining outcomes, including the complementary NO-side rows.
func (s *SettlementService) refreshSurvivorStats(
	ctx context.Context,
	tx *sqlx.Tx,
	pool *domain.AmmPool,
	states []*domain.AmmPoolOptionState,
) error {
	if len(states) == 0 {
		return nil
	}
	ids := make([]int64, len(states))
	for i, st := range states {
		ids[i] = st.OptionID
	}
	opts, err := s.marketRepo.ListOptionsByIDs(ctx, tx, ids)
	if err != nil {
		return err
	}
	optByID := make(map[int64]*domain.MarketOption, len(opts))
	marketIDs := make([]uuid.UUID, 0, len(opts))
	seen := make(map[uuid.UUID]bool, len(opts))
	for _, o := range opts {
		optByID[o.ID] = o
		if !seen[o.MarketID] {
			seen[o.MarketID] = true
			marketIDs = append(marketIDs, o.MarketID)
		}
	}
	noOpts, err := s.marketRepo.ListNoOptionsByMarkets(ctx, tx, marketIDs)
	if err != nil {
		return err
	}

	b, _ := pool.B.Float64()
	updates, err := survivorProbUpdates(states, optByID, noOpts, b)
	if err != nil {
		return toExecError(err)
	}
	return s.marketRepo.UpsertStatsProb(ctx, tx, updates)
}

// survivorProbUpdates prices the surviving outcome vector and maps it onto
// stats writes: one row per outcome plus the complementary NO rows.
func survivorProbUpdates(
	states []*domain.AmmPoolOptionState,
	optByID map[int64]*domain.MarketOption,
	noOpts []*domain.MarketOption,
	b float64,
) ([]repository.StatsProbUpdate, error) {
	q := make([]float64, len(states))
	for i, st := range states {
		q[i], _ = st.Q.Float64()
	}
	probs, err := amm.Prices(q, b)
	if err != nil {
		return nil, err
	}
	bps := amm.BpsFromProbabilities(probs)

	updates := make([]repository.StatsProbUpdate, 0, len(states)+len(noOpts))
	bpsByMarket := make(map[uuid.UUID]int, len(states))
	for i, st := range states {
		opt, ok := optByID[st.OptionID]
		if !ok {
			return nil, fmt.Errorf("%w: pool outcome %d has no option row", amm.ErrInput, st.OptionID)
		}
		updates = append(updates, repository.StatsProbUpdate{
			OptionID: st.OptionID,
			MarketID: opt.MarketID,
			ProbBps:  bps[i],
		})
		bpsByMarket[opt.MarketID] = bps[i]
	}
	for _, no := range noOpts {
		yesBps, ok := bpsByMarket[no.MarketID]
		if !ok {
			continue
		}
		updates = append(updates, repository.StatsProbUpdate{
			OptionID: no.ID,
			MarketID: no.MarketID,
			ProbBps:  10000 - yesBps,
		})
	}
	return updates, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Gates & identifiers
// ──────────────────────────────────────────────────────────────────────────────

// resolveGate validates a resolution request against the market's current
// state. Valid source states are active, closed, and resolved; the last
// allows re-settlement attempts after a crash mid-pipeline. A market that is
// resolved AND settled replays idempotently when the requested outcome
// matches the recorded one, and conflicts otherwise.
func resolveGate(market *domain.Market, settled bool, optionIndex int) (replay bool, err error) {
	switch market.Status {
	case domain.StatusActive, domain.StatusClosed:
		return false, nil
	case domain.StatusResolved:
		if !settled {
			return false, nil
		}
		if market.ResolvedOptionIndex != nil && *market.ResolvedOptionIndex == optionIndex {
			return true, nil
		}
		return false, domain.ErrAlreadyResolved.WithMessagef(
			"market %s is already settled with a different outcome", market.ID)
	default:
		return false, domain.ErrInvalidStatus.WithMessagef(
			"market %s cannot be resolved from status %s", market.ID, market.Status)
	}
}

// settleGate admits a market to standalone settlement. Resolution must have
// flipped the status first; a recorded option index alone is not enough, since
// an interrupted pipeline can leave the index without the status.
func settleGate(market *domain.Market) error {
	if market.Status != domain.StatusResolved {
		return domain.ErrNotResolved.WithMessagef(
			"market %s must be resolved before settlement, status is %s", market.ID, market.Status)
	}
	if market.ResolvedOptionIndex == nil {
		return domain.ErrNoResolvedOption.WithMessagef("market %s has no resolved option", market.ID)
	}
	return nil
}

// settlementTxID returns the caller-supplied idempotency id, or autogenerates
// one in the settle:<uuid> form.
func settlementTxID(provided *string) string {
	if provided != nil && *provided != "" {
		return *provided
	}
	return fmt.Sprintf("settle:%s", uuid.New())
}

// ──────────────────────────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────────────────────────

// lockMarketChain locks the market row and, when the market belongs to an
// event, the event row. Event may be nil.
func (s *SettlementService) lockMarketChain(ctx context.Context, tx *sqlx.Tx, marketID uuid.UUID) (*domain.Market, *domain.Event, error) {
	market, err := s.marketRepo.GetMarketForUpdate(ctx, tx, marketID)
	if err != nil {
		return nil, nil, err
	}
	var event *domain.Event
	if market.EventID != nil {
		event, err = s.marketRepo.GetEventForUpdate(ctx, tx, *market.EventID)
		if err != nil {
			return nil, nil, err
		}
	}
	return market, event, nil
}

// settleLocked locks the pool serving the market, pays the winners, and
// closes the pool.
func (s *SettlementService) settleLocked(
	ctx context.Context,
	tx *sqlx.Tx,
	market *domain.Market,
	winOpt *domain.MarketOption,
	txID string,
) (*domain.MarketSettlement, error) {
	pool, err := s.poolRepo.FindForMarket(ctx, tx, market.ID, market.EventID)
	if err != nil {
		return nil, err
	}
	pool, err = s.poolRepo.GetForUpdate(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}
	if _, err = s.poolRepo.LockOptionStates(ctx, tx, pool.ID); err != nil {
		return nil, err
	}

	settlement, err := s.payWinners(ctx, tx, market, pool, winOpt, txID)
	if err != nil {
		return nil, err
	}

	if err := s.poolRepo.ClosePool(ctx, tx, pool.ID); err != nil {
		return nil, err
	}
	return settlement, nil
}

// payoutPlan is the precomputed money movement of one settlement: who gets
// credited and how the waterfall splits the funding.
type payoutPlan struct {
	Winners        []*domain.Position
	TotalPayout    decimal.Decimal
	PoolCashUsed   decimal.Decimal
	CollateralUsed decimal.Decimal
}

// buildPayoutPlan totals the winning shares and runs the funding waterfall.
// Fails with INSUFFICIENT_FUNDS before any balance is touched, so a shortfall
// rolls the whole settlement back.
func buildPayoutPlan(pool *domain.AmmPool, winners []*domain.Position) (*payoutPlan, error) {
	totalPayout := decimal.Zero
	for _, p := range winners {
		totalPayout = totalPayout.Add(p.Shares)
	}
	poolCashUsed, collateralUsed, err := pool.Waterfall(totalPayout)
	if err != nil {
		return nil, err
	}
	return &payoutPlan{
		Winners:        winners,
		TotalPayout:    totalPayout,
		PoolCashUsed:   poolCashUsed,
		CollateralUsed: collateralUsed,
	}, nil
}

// payWinners credits 1 collateral unit per share to every holder of the
// winning option, funded by the pool waterfall (pool cash first, then
// collateral), and records the settlement row. Lock order matches trading:
// all balances in ascending user id first, then the position rows.
func (s *SettlementService) payWinners(
	ctx context.Context,
	tx *sqlx.Tx,
	market *domain.Market,
	pool *domain.AmmPool,
	winOpt *domain.MarketOption,
	txID string,
) (*domain.MarketSettlement, error) {
	winners, err := s.ledgerRepo.ListWinningPositions(ctx, tx, market.ID, winOpt.ID)
	if err != nil {
		return nil, err
	}
	plan, err := buildPayoutPlan(pool, winners)
	if err != nil {
		return nil, err
	}

	for _, p := range plan.Winners {
		if _, err := s.ledgerRepo.GetBalanceForUpdate(ctx, tx, p.UserID, pool.CollateralToken); err != nil {
			return nil, err
		}
		if err := s.ledgerRepo.CreditBalance(ctx, tx, p.UserID, pool.CollateralToken, p.Shares); err != nil {
			return nil, err
		}
	}

	positionIDs := make([]int64, len(plan.Winners))
	for i, p := range plan.Winners {
		positionIDs[i] = p.ID
	}
	if err := s.ledgerRepo.LockPositions(ctx, tx, positionIDs); err != nil {
		return nil, err
	}
	for _, p := range plan.Winners {
		if err := s.ledgerRepo.ZeroPosition(ctx, tx, p.ID); err != nil {
			return nil, err
		}
	}

	if err := s.poolRepo.DrawDown(ctx, tx, pool.ID, plan.PoolCashUsed, plan.CollateralUsed); err != nil {
		return nil, err
	}

	settlement := &domain.MarketSettlement{
		ID:              uuid.New(),
		MarketID:        market.ID,
		SettlementTxID:  txID,
		WinningOptionID: winOpt.ID,
		TotalPayout:     plan.TotalPayout,
		PoolCashUsed:    plan.PoolCashUsed,
		CollateralUsed:  plan.CollateralUsed,
		WinnersCount:    len(plan.Winners),
		CreatedAt:       time.Now().UTC(),
	}
	return s.ledgerRepo.CreateSettlement(ctx, tx, settlement)
}

// findPoolOutcomeOfMarket locates the pool state row whose option belongs to
// the given market.
func (s *SettlementService) findPoolOutcomeOfMarket(
	ctx context.Context,
	tx *sqlx.Tx,
	states []*domain.AmmPoolOptionState,
	marketID uuid.UUID,
) (*domain.AmmPoolOptionState, error) {
	ids := make([]int64, len(states))
	for i, st := range states {
		ids[i] = st.OptionID
	}
	opts, err := s.marketRepo.ListOptionsByIDs(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	marketByOption := make(map[int64]uuid.UUID, len(opts))
	for _, o := range opts {
		marketByOption[o.ID] = o.MarketID
	}
	for _, st := range states {
		if marketByOption[st.OptionID] == marketID {
			return st, nil
		}
	}
	return nil, domain.ErrPoolMappingError.WithMessagef("market %s has no outcome in the event pool", marketID)
}

// syncEventAfterSettle flips the event to resolved once every child market is
// terminal, recording the YES winner and closing a still-open shared pool.
func (s *SettlementService) syncEventAfterSettle(
	ctx context.Context,
	tx *sqlx.Tx,
	market *domain.Market,
	event *domain.Event,
	winOpt *domain.MarketOption,
) error {
	if event == nil {
		return nil
	}

	markets, err := s.marketRepo.ListMarketsByEvent(ctx, tx, event.ID)
	if err != nil {
		return err
	}
	for _, m := range markets {
		status := m.Status
		if m.ID == market.ID {
			status = domain.StatusResolved
		}
		if !status.IsTerminal() {
			return nil
		}
	}

	var resolvedMarketID *uuid.UUID
	if winOpt.IsYes() {
		id := market.ID
		resolvedMarketID = &id
	} else {
		resolvedMarketID = event.ResolvedMarketID
	}
	if err := s.marketRepo.UpdateEventStatus(ctx, tx, event.ID, domain.StatusResolved, resolvedMarketID); err != nil {
		return err
	}

	pool, err := s.poolRepo.GetByEvent(ctx, event.ID)
	switch {
	case err == nil:
		if pool.IsActive() {
			if err := s.poolRepo.ClosePool(ctx, tx, pool.ID); err != nil {
				return err
			}
		}
	case errors.Is(err, domain.ErrPoolNotFound):
		// Standalone and independent events have no event-scoped pool.
	default:
		return err
	}
	return nil
}

func (s *SettlementService) invalidateAfter(market *domain.Market, event *domain.Event) {
	s.invalidator.InvalidateMarket(market.ID)
	if event != nil {
		s.invalidator.InvalidateEvent(event.ID)
	}
	s.invalidator.InvalidateLeaderboard()
	log.Printf("settlement committed: market=%s", market.ID)
}
