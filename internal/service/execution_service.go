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
// ExecutionService
// ──────────────────────────────────────────────────────────────────────────────

// ExecutionService runs buys and sells against the AMM. All money movement
// happens inside a single PostgreSQL transaction with a fixed lock order:
// market (and event) → pool option states → option → balance → position.
// Settlement takes its locks in the same order, so trades and settlement
// never deadlock against each other.
type ExecutionService struct {
	db          *sqlx.DB
	marketRepo  *repository.MarketRepository
	poolRepo    *repository.PoolRepository
	ledgerRepo  *repository.LedgerRepository
	cfg         *config.Config
	invalidator Invalidator
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(
	db *sqlx.DB,
	marketRepo *repository.MarketRepository,
	poolRepo *repository.PoolRepository,
	ledgerRepo *repository.LedgerRepository,
	cfg *config.Config,
	invalidator Invalidator,
) *ExecutionService {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	return &ExecutionService{
		db:          db,
		marketRepo:  marketRepo,
		poolRepo:    poolRepo,
		ledgerRepo:  ledgerRepo,
		cfg:         cfg,
		invalidator: invalidator,
	}
}

// BuyRequest carries the validated inputs for a buy execution. Exactly one of
// OptionID/OptionIndex and exactly one of Amount/Shares must be set.
type BuyRequest struct {
	UserID      int64
	MarketID    uuid.UUID
	OptionID    *int64
	OptionIndex *int
	Token       string
	WalletID    *uuid.UUID
	ClientNonce *string

	// Amount is the gross spend; Shares asks for an exact share count.
	Amount *decimal.Decimal
	Shares *decimal.Decimal

	// Slippage knobs.
	MinSharesOut   *decimal.Decimal
	MaxSlippageBps *int
}

// SellRequest carries the validated inputs for a sell execution.
type SellRequest struct {
	UserID      int64
	MarketID    uuid.UUID
	OptionID    *int64
	OptionIndex *int
	Token       string
	WalletID    *uuid.UUID
	ClientNonce *string

	// Shares sells an exact count; Amount asks for a desired net payout;
	// SellAll sells the whole position (and sweeps dust for free).
	Shares  *decimal.Decimal
	Amount  *decimal.Decimal
	SellAll bool

	MinAmountOut *decimal.Decimal
}

// PositionSnapshot is the post-trade position carried on a receipt.
type PositionSnapshot struct {
	Shares    decimal.Decimal `json:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis"`
}

// TradeReceipt is returned to the API after a successful execution. The
// balance and position reflect the state after the trade's mutations, taken
// from the values held under the transaction's locks.
type TradeReceipt struct {
	TradeID          uuid.UUID        `json:"trade_id"`
	OrderIntentID    uuid.UUID        `json:"order_intent_id"`
	TxHash           string           `json:"tx_hash"`
	DustCleanup      bool             `json:"dust_cleanup,omitempty"`
	BalanceAvailable decimal.Decimal  `json:"balance_available"`
	Position         PositionSnapshot `json:"position"`
	Quote            *amm.Quote       `json:"quote"`
}

// lockedTrade bundles everything assembled under the transaction's locks.
type lockedTrade struct {
	tx     *sqlx.Tx
	market *domain.Market
	event  *domain.Event
	pool   *domain.AmmPool
	states []*domain.AmmPoolOptionState
	option *domain.MarketOption
	state  *amm.PoolState
	isNo   bool
}

// ──────────────────────────────────────────────────────────────────────────────
// ExecuteBuy
// ──────────────────────────────────────────────────────────────────────────────

// ExecuteBuy spends the user's balance on outcome shares. The request is
// re-quoted under row locks, so the receipt may differ from a prior unlocked
// quote; slippage knobs bound that difference.
func (s *ExecutionService) ExecuteBuy(ctx context.Context, req BuyRequest) (receipt *TradeReceipt, err error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if (req.Amount == nil) == (req.Shares == nil) {
		return nil, domain.ErrInvalidParam.WithMessagef("provide exactly one of amount or shares")
	}
	token := req.Token
	if token == "" {
		token = s.cfg.AMM.DefaultToken
	}

	// ── 2. Begin transaction ─────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("execution_service.ExecuteBuy: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 3–5. Lock market chain, build pool snapshot ──────────────────────────
	lt, err := s.lockForTrade(ctx, tx, req.MarketID, req.OptionID, req.OptionIndex)
	if err != nil {
		return nil, err
	}

	// ── 6. Quote under locks ─────────────────────────────────────────────────
	quote, err := amm.QuoteFromState(lt.state, amm.QuoteRequest{
		Selector:   amm.SelectByID(lt.option.ID),
		Side:       amm.SideBuy,
		Amount:     req.Amount,
		Shares:     req.Shares,
		MoneyQuant: decimal.NewFromFloat(s.cfg.AMM.MoneyQuant),
		IsNoSide:   lt.isNo,
	})
	if err != nil {
		return nil, toExecError(err)
	}

	// ── 7. Slippage protection ───────────────────────────────────────────────
	if err = checkBuySlippage(quote, req.MinSharesOut, req.MaxSlippageBps); err != nil {
		return nil, err
	}

	// ── 8. Lock balance, verify funds ────────────────────────────────────────
	balance, err := s.ledgerRepo.GetBalanceForUpdate(ctx, tx, req.UserID, token)
	if err != nil {
		return nil, err
	}
	if !balance.CanSpend(quote.AmountIn) {
		return nil, domain.ErrInsufficientBalance.WithMessagef(
			"need %s %s, available %s", quote.AmountIn, token, balance.AvailableAmount)
	}

	// ── 9. Lock position ─────────────────────────────────────────────────────
	position, err := s.ledgerRepo.GetPositionForUpdate(ctx, tx, req.UserID, lt.market.ID, lt.option.ID)
	if err != nil {
		return nil, err
	}

	// ── 10. Apply mutations ──────────────────────────────────────────────────
	if err = s.ledgerRepo.DebitBalance(ctx, tx, req.UserID, token, quote.AmountIn); err != nil {
		return nil, err
	}
	if err = s.ledgerRepo.IncrementPosition(ctx, tx, position.ID, quote.SharesOut, quote.AmountIn); err != nil {
		return nil, err
	}
	if err = s.poolRepo.ApplyQDeltas(ctx, tx, lt.pool.ID, buyQDeltas(quote)); err != nil {
		return nil, err
	}
	if err = s.poolRepo.AddPoolCash(ctx, tx, lt.pool.ID, quote.AmountIn); err != nil {
		return nil, err
	}

	// ── 11. Refresh statistics and price series ──────────────────────────────
	if err = s.refreshStats(ctx, tx, lt, quote); err != nil {
		return nil, err
	}
	if err = s.marketRepo.BumpVolume(ctx, tx, lt.option.MarketID, lt.option.ID, quote.AmountIn); err != nil {
		return nil, err
	}
	s.emitSeries(ctx, tx, lt, quote)

	// ── 12. Audit rows ───────────────────────────────────────────────────────
	receipt, err = s.writeAudit(ctx, tx, req.UserID, lt, req.WalletID, amm.SideBuy, token,
		req.Amount, req.Shares, req.ClientNonce, quote)
	if err != nil {
		return nil, err
	}
	receipt.BalanceAvailable = balance.AvailableAmount.Sub(quote.AmountIn)
	receipt.Position = PositionSnapshot{
		Shares:    position.Shares.Add(quote.SharesOut),
		CostBasis: position.CostBasis.Add(quote.AmountIn),
	}

	// ── 13. Commit ───────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("execution_service.ExecuteBuy: commit: %w", err)
	}

	s.postCommit(req.UserID, lt)
	return receipt, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ExecuteSell
// ──────────────────────────────────────────────────────────────────────────────

// ExecuteSell converts outcome shares back into balance. sell_all with a dust
// position skips the AMM entirely and sweeps the position for free.
func (s *ExecutionService) ExecuteSell(ctx context.Context, req SellRequest) (receipt *TradeReceipt, err error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	sized := 0
	if req.Shares != nil {
		sized++
	}
	if req.Amount != nil {
		sized++
	}
	if req.SellAll {
		sized++
	}
	if sized != 1 {
		return nil, domain.ErrInvalidParam.WithMessagef("provide exactly one of shares, amount or sell_all")
	}
	token := req.Token
	if token == "" {
		token = s.cfg.AMM.DefaultToken
	}

	// ── 2. Begin transaction ─────────────────────────────────────────────────
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("execution_service.ExecuteSell: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// ── 3–5. Lock market chain, build pool snapshot ──────────────────────────
	lt, err := s.lockForTrade(ctx, tx, req.MarketID, req.OptionID, req.OptionIndex)
	if err != nil {
		return nil, err
	}

	// ── 6. Lock balance then position (same order as buys) ───────────────────
	balance, err := s.ledgerRepo.GetBalanceForUpdate(ctx, tx, req.UserID, token)
	if err != nil {
		return nil, err
	}
	position, err := s.ledgerRepo.GetPositionForUpdate(ctx, tx, req.UserID, lt.market.ID, lt.option.ID)
	if err != nil {
		return nil, err
	}
	if position.Shares.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrNoPosition.WithMessagef("no shares of option %d", lt.option.ID)
	}

	// ── 7. Dust cleanup ──────────────────────────────────────────────────────
	// A sell-all of a microscopic position skips the AMM: zero the position
	// and hand back a zero-proceeds receipt instead of trading at an
	// unfavorable price.
	if req.SellAll && position.IsDust(decimal.NewFromFloat(s.cfg.AMM.DustThreshold)) {
		if err = s.ledgerRepo.ZeroPosition(ctx, tx, position.ID); err != nil {
			return nil, err
		}
		receipt, err = s.writeAudit(ctx, tx, req.UserID, lt, req.WalletID, amm.SideSell, token,
			nil, &position.Shares, req.ClientNonce, &amm.Quote{
				MarketID:  lt.market.ID,
				PoolID:    lt.pool.ID,
				OptionID:  lt.option.ID,
				Side:      amm.SideSell,
				SharesIn:  position.Shares,
				AmountOut: decimal.Zero,
				FeeAmount: decimal.Zero,
			})
		if err != nil {
			return nil, err
		}
		receipt.DustCleanup = true
		receipt.BalanceAvailable = balance.AvailableAmount
		receipt.Position = PositionSnapshot{Shares: decimal.Zero, CostBasis: decimal.Zero}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("execution_service.ExecuteSell: commit: %w", err)
		}
		s.postCommit(req.UserID, lt)
		return receipt, nil
	}

	// ── 8. Quote under locks ─────────────────────────────────────────────────
	// NO-side positions sell by share count only; the desired-net solver works
	// on a single outcome.
	if lt.isNo && req.Amount != nil {
		return nil, domain.ErrInvalidParam.WithMessagef("amount-based sells are not supported for no-side options; use shares or sell_all")
	}
	quoteReq := amm.QuoteRequest{
		Selector:   amm.SelectByID(lt.option.ID),
		Side:       amm.SideSell,
		MoneyQuant: decimal.NewFromFloat(s.cfg.AMM.MoneyQuant),
		IsNoSide:   lt.isNo,
	}
	switch {
	case req.SellAll:
		shares := position.Shares
		quoteReq.Shares = &shares
	case req.Shares != nil:
		quoteReq.Shares = req.Shares
	default:
		quoteReq.Amount = req.Amount
	}
	quote, err := amm.QuoteFromState(lt.state, quoteReq)
	if err != nil {
		return nil, toExecError(err)
	}

	// ── 9. Verify the position covers the sale ───────────────────────────────
	if !position.CanSell(quote.SharesIn) {
		return nil, domain.ErrInsufficientShares.WithMessagef(
			"position has %s shares, sale needs %s", position.Shares, quote.SharesIn)
	}

	// ── 10. Slippage protection ──────────────────────────────────────────────
	if req.MinAmountOut != nil && quote.AmountOut.LessThan(*req.MinAmountOut) {
		return nil, domain.ErrSlippageProtection.WithMessagef(
			"amount_out %s below min_amount_out %s", quote.AmountOut, req.MinAmountOut)
	}

	// ── 11. Apply mutations ──────────────────────────────────────────────────
	position.ReduceForSale(quote.SharesIn)
	if err = s.ledgerRepo.UpdatePosition(ctx, tx, position); err != nil {
		return nil, err
	}
	if err = s.poolRepo.ApplyQDeltas(ctx, tx, lt.pool.ID, sellQDeltas(quote)); err != nil {
		return nil, err
	}
	if err = s.ledgerRepo.CreditBalance(ctx, tx, req.UserID, token, quote.AmountOut); err != nil {
		return nil, err
	}
	if err = s.poolRepo.AddPoolCash(ctx, tx, lt.pool.ID, quote.AmountOut.Neg()); err != nil {
		return nil, err
	}

	// ── 12. Refresh statistics and price series ──────────────────────────────
	if err = s.refreshStats(ctx, tx, lt, quote); err != nil {
		return nil, err
	}
	if err = s.marketRepo.BumpVolume(ctx, tx, lt.option.MarketID, lt.option.ID, quote.AmountOut); err != nil {
		return nil, err
	}
	s.emitSeries(ctx, tx, lt, quote)

	// ── 13. Audit rows ───────────────────────────────────────────────────────
	receipt, err = s.writeAudit(ctx, tx, req.UserID, lt, req.WalletID, amm.SideSell, token,
		req.Amount, quoteReq.Shares, req.ClientNonce, quote)
	if err != nil {
		return nil, err
	}
	receipt.BalanceAvailable = balance.AvailableAmount.Add(quote.AmountOut)
	receipt.Position = PositionSnapshot{Shares: position.Shares, CostBasis: position.CostBasis}

	// ── 14. Commit ───────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("execution_service.ExecuteSell: commit: %w", err)
	}

	s.postCommit(req.UserID, lt)
	return receipt, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Lock acquisition
// ──────────────────────────────────────────────────────────────────────────────

// lockForTrade takes the first three locks of the trade lock order and builds
// the pool snapshot from the locked rows:
//
//  1. market row (and its event, when any)
//  2. all pool option-state rows, ordered by (option_index, option_id)
//  3. the target option row
func (s *ExecutionService) lockForTrade(
	ctx context.Context,
	tx *sqlx.Tx,
	marketID uuid.UUID,
	optionID *int64,
	optionIndex *int,
) (*lockedTrade, error) {
	if (optionID == nil) == (optionIndex == nil) {
		return nil, domain.ErrInvalidParam.WithMessagef("provide exactly one of option_id or option_index")
	}

	market, err := s.marketRepo.GetMarketForUpdate(ctx, tx, marketID)
	if err != nil {
		return nil, err
	}
	var event *domain.Event
	if market.EventID != nil {
		event, err = s.marketRepo.GetEventForUpdate(ctx, tx, *market.EventID)
		if err != nil {
			return nil, err
		}
	}
	if err := market.CheckTradable(event, time.Now().UTC()); err != nil {
		return nil, err
	}

	pool, err := s.poolRepo.FindForMarket(ctx, tx, market.ID, market.EventID)
	if err != nil {
		return nil, err
	}
	if !pool.IsActive() {
		return nil, domain.ErrPoolInvalid.WithMessagef("pool %s is closed", pool.ID)
	}

	states, err := s.poolRepo.LockOptionStates(ctx, tx, pool.ID)
	if err != nil {
		return nil, err
	}

	option, err := s.marketRepo.GetOptionForUpdate(ctx, tx, market.ID, optionID, optionIndex)
	if err != nil {
		return nil, err
	}
	if option.MarketID != market.ID {
		return nil, domain.ErrPoolMismatch.WithMessagef("option %d belongs to another market", option.ID)
	}
	if !option.IsActive {
		return nil, domain.ErrOptionNotActive.WithMessagef("option %d is not active", option.ID)
	}

	state, err := buildPoolState(ctx, tx, s.marketRepo, market, event, pool, states)
	if err != nil {
		return nil, err
	}
	_, isNo, err := state.ResolveWithSide(amm.SelectByID(option.ID))
	if err != nil {
		return nil, domain.ErrOptionNotFound.WithMessagef("option %d not in pool %s", option.ID, pool.ID)
	}
	if isNo {
		if err := state.ValidateNoMapping(option.ID); err != nil {
			return nil, domain.ErrPoolMappingError.WithMessagef("%s", err.Error())
		}
	}

	return &lockedTrade{
		tx:     tx,
		market: market,
		event:  event,
		pool:   pool,
		states: states,
		option: option,
		state:  state,
		isNo:   isNo,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Mutation helpers
// ──────────────────────────────────────────────────────────────────────────────

// buyQDeltas maps the quote onto per-option q increments: the single target
// outcome for standard buys, the full delta vector for NO-side buys.
func buyQDeltas(quote *amm.Quote) map[int64]decimal.Decimal {
	deltas := make(map[int64]decimal.Decimal)
	if quote.NoBuyDeltas != nil {
		for i, d := range quote.NoBuyDeltas {
			if d != 0 {
				deltas[quote.OptionIDs[i]] = decimal.NewFromFloat(d)
			}
		}
		return deltas
	}
	deltas[quote.OptionID] = quote.SharesOut
	return deltas
}

// sellQDeltas is the sell counterpart: negative deltas.
func sellQDeltas(quote *amm.Quote) map[int64]decimal.Decimal {
	deltas := make(map[int64]decimal.Decimal)
	if quote.NoSellDeltas != nil {
		for i, d := range quote.NoSellDeltas {
			if d != 0 {
				deltas[quote.OptionIDs[i]] = decimal.NewFromFloat(d)
			}
		}
		return deltas
	}
	deltas[quote.OptionID] = quote.SharesIn.Neg()
	return deltas
}

// refreshStats writes the post-trade probabilities for every pool outcome
// and, for exclusive events, the complementary NO-side probabilities.
func (s *ExecutionService) refreshStats(ctx context.Context, tx *sqlx.Tx, lt *lockedTrade, quote *amm.Quote) error {
	marketByOption := make(map[int64]uuid.UUID, len(lt.states))
	if lt.pool.EventID != nil {
		opts, err := s.marketRepo.ListOptionsByIDs(ctx, tx, quote.OptionIDs)
		if err != nil {
			return err
		}
		for _, o := range opts {
			marketByOption[o.ID] = o.MarketID
		}
	} else {
		for _, id := range quote.OptionIDs {
			marketByOption[id] = lt.market.ID
		}
	}

	updates := make([]repository.StatsProbUpdate, 0, len(quote.OptionIDs)+len(lt.state.NoToYes))
	for i, id := range quote.OptionIDs {
		updates = append(updates, repository.StatsProbUpdate{
			OptionID: id,
			MarketID: marketByOption[id],
			ProbBps:  quote.PostProbBps[i],
		})
	}
	// NO-side statistics mirror the YES probability.
	idxByOption := make(map[int64]int, len(quote.OptionIDs))
	for i, id := range quote.OptionIDs {
		idxByOption[id] = i
	}
	for noID, m := range lt.state.NoToYes {
		yesIdx, ok := idxByOption[m.YesOptionID]
		if !ok {
			continue
		}
		updates = append(updates, repository.StatsProbUpdate{
			OptionID: noID,
			MarketID: marketByOption[m.YesOptionID],
			ProbBps:  10000 - quote.PostProbBps[yesIdx],
		})
	}
	return s.marketRepo.UpsertStatsProb(ctx, tx, updates)
}

// emitSeries upserts one probability point per pool outcome into the current
// time bucket. Best-effort: failures are logged inside the repository and do
// not abort the trade.
func (s *ExecutionService) emitSeries(ctx context.Context, tx *sqlx.Tx, lt *lockedTrade, quote *amm.Quote) {
	bucket := time.Now().UTC().Truncate(time.Duration(s.cfg.AMM.PriceBucketSeconds) * time.Second)
	points := make([]*domain.MarketOptionSeries, 0, len(quote.OptionIDs))
	for i, id := range quote.OptionIDs {
		points = append(points, &domain.MarketOptionSeries{
			OptionID:    id,
			Interval:    s.cfg.AMM.SeriesInterval,
			BucketStart: bucket,
			ProbBps:     quote.PostProbBps[i],
		})
	}
	s.marketRepo.UpsertSeriesPoints(ctx, tx, points)
}

// writeAudit resolves the wallet and records the order intent plus the trade
// row. The tx_hash is a deterministic synthetic identifier; the system is
// off-chain.
func (s *ExecutionService) writeAudit(
	ctx context.Context,
	tx *sqlx.Tx,
	userID int64,
	lt *lockedTrade,
	walletID *uuid.UUID,
	side amm.Side,
	token string,
	reqAmount, reqShares *decimal.Decimal,
	clientNonce *string,
	quote *amm.Quote,
) (*TradeReceipt, error) {
	var wallet *domain.Wallet
	var err error
	if walletID != nil {
		wallet, err = s.ledgerRepo.GetWalletByID(ctx, tx, *walletID, userID)
	} else {
		wallet, err = s.ledgerRepo.ResolveWallet(ctx, tx, userID, s.cfg.AMM.DefaultChain)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	walletIDCopy := wallet.ID
	intent := &domain.OrderIntent{
		ID:          uuid.New(),
		UserID:      userID,
		MarketID:    lt.market.ID,
		OptionID:    lt.option.ID,
		WalletID:    &walletIDCopy,
		Side:        string(side),
		Token:       token,
		Amount:      reqAmount,
		Shares:      reqShares,
		ClientNonce: clientNonce,
		Status:      domain.IntentConfirmed,
		CreatedAt:   now,
	}
	if err := s.ledgerRepo.CreateOrderIntent(ctx, tx, intent); err != nil {
		return nil, err
	}

	trade := &domain.Trade{
		ID:            uuid.New(),
		OrderIntentID: intent.ID,
		UserID:        userID,
		MarketID:      lt.market.ID,
		OptionID:      lt.option.ID,
		Side:          string(side),
		Token:         token,
		AmountIn:      quote.AmountIn,
		AmountOut:     quote.AmountOut,
		FeeAmount:     quote.FeeAmount,
		AvgPriceBps:   quote.AvgPriceBps,
		TxHash:        fmt.Sprintf("offchain:%s", intent.ID),
		Status:        domain.TradeConfirmed,
		CreatedAt:     now,
	}
	if side == amm.SideBuy {
		trade.Shares = quote.SharesOut
	} else {
		trade.Shares = quote.SharesIn
	}
	if err := s.ledgerRepo.CreateTrade(ctx, tx, trade); err != nil {
		return nil, err
	}

	return &TradeReceipt{
		TradeID:       trade.ID,
		OrderIntentID: intent.ID,
		TxHash:        trade.TxHash,
		Quote:         quote,
	}, nil
}

// postCommit fires cache-invalidation hooks. Errors cannot occur; the hooks
// are fire-and-forget by contract.
func (s *ExecutionService) postCommit(userID int64, lt *lockedTrade) {
	s.invalidator.InvalidateMarket(lt.market.ID)
	if lt.event != nil {
		s.invalidator.InvalidateEvent(lt.event.ID)
	}
	s.invalidator.InvalidateUser(userID)
	s.invalidator.InvalidateLeaderboard()
	log.Printf("trade committed: market=%s option=%d user=%d", lt.market.ID, lt.option.ID, userID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Slippage checks
// ──────────────────────────────────────────────────────────────────────────────

// checkBuySlippage enforces the buy-side protection knobs against a quote.
// The expected price reference is the pre-trade probability of the target
// outcome in bps (complemented for NO-side buys).
func checkBuySlippage(quote *amm.Quote, minSharesOut *decimal.Decimal, maxSlippageBps *int) error {
	if minSharesOut != nil && quote.SharesOut.LessThan(*minSharesOut) {
		return domain.ErrSlippageProtection.WithMessagef(
			"shares_out %s below min_shares_out %s", quote.SharesOut, minSharesOut)
	}
	if maxSlippageBps == nil {
		return nil
	}

	targetIdx := -1
	for i, id := range quote.OptionIDs {
		if id == quote.OptionID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 || targetIdx >= len(quote.PreProbBps) {
		return domain.ErrQuoteMath.WithMessagef("target option missing from quote probabilities")
	}
	expected := quote.PreProbBps[targetIdx]
	if quote.IsNoSide {
		expected = 10000 - expected
	}
	if expected <= 0 {
		return nil
	}
	limit := float64(expected) * (1 + float64(*maxSlippageBps)/10000.0)
	if float64(quote.AvgPriceBps) > limit {
		return domain.ErrSlippageProtection.WithMessagef(
			"avg_price_bps %d exceeds expected %d with max_slippage_bps %d",
			quote.AvgPriceBps, expected, *maxSlippageBps)
	}
	return nil
}
