package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/forecastpool/exchange/internal/amm"
	"github.com/forecastpool/exchange/internal/domain"
	"github.com/forecastpool/exchange/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Pool state construction
// ──────────────────────────────────────────────────────────────────────────────

// buildPoolState assembles the immutable quote-engine snapshot from loaded
// rows. For exclusive-event pools it also builds the NO→YES option mapping by
// joining each constituent market's NO options to that market's canonical
// outcome in the pool. The querier is either the pool connection (quoting) or
// the open transaction (execution), so the snapshot always reflects the locks
// the caller holds.
func buildPoolState(
	ctx context.Context,
	q sqlx.ExtContext,
	marketRepo *repository.MarketRepository,
	market *domain.Market,
	event *domain.Event,
	pool *domain.AmmPool,
	states []*domain.AmmPoolOptionState,
) (*amm.PoolState, error) {
	optionIDs := make([]int64, len(states))
	optionIndexes := make([]int, len(states))
	qVec := make([]float64, len(states))
	for i, s := range states {
		optionIDs[i] = s.OptionID
		optionIndexes[i] = s.OptionIndex
		qVec[i], _ = s.Q.Float64()
	}

	var noToYes map[int64]amm.NoMapping
	isExclusive := pool.EventID != nil && event != nil && event.IsExclusive()
	if isExclusive {
		var err error
		noToYes, err = buildNoToYesMapping(ctx, q, marketRepo, optionIDs)
		if err != nil {
			return nil, err
		}
	}

	bFloat, _ := pool.B.Float64()
	state, err := amm.NewPoolState(
		market.ID, pool.ID, bFloat, pool.FeeBps,
		optionIDs, optionIndexes, qVec, noToYes, isExclusive)
	if err != nil {
		return nil, domain.ErrPoolInvalid.WithMessagef("pool %s: %s", pool.ID, err.Error())
	}
	return state, nil
}

// buildNoToYesMapping links each NO option of the pool's constituent markets
// to that market's outcome index in the pool.
func buildNoToYesMapping(
	ctx context.Context,
	q sqlx.ExtContext,
	marketRepo *repository.MarketRepository,
	poolOptionIDs []int64,
) (map[int64]amm.NoMapping, error) {
	poolOpts, err := marketRepo.ListOptionsByIDs(ctx, q, poolOptionIDs)
	if err != nil {
		return nil, err
	}

	type canonical struct {
		optionID int64
		poolIdx  int
	}
	idxByOptionID := make(map[int64]int, len(poolOptionIDs))
	for i, id := range poolOptionIDs {
		idxByOptionID[id] = i
	}
	canonicalByMarket := make(map[uuid.UUID]canonical, len(poolOpts))
	marketIDs := make([]uuid.UUID, 0, len(poolOpts))
	for _, o := range poolOpts {
		if _, seen := canonicalByMarket[o.MarketID]; !seen {
			marketIDs = append(marketIDs, o.MarketID)
		}
		canonicalByMarket[o.MarketID] = canonical{optionID: o.ID, poolIdx: idxByOptionID[o.ID]}
	}
	if len(marketIDs) == 0 {
		return nil, nil
	}

	noOpts, err := marketRepo.ListNoOptionsByMarkets(ctx, q, marketIDs)
	if err != nil {
		return nil, err
	}
	mapping := make(map[int64]amm.NoMapping, len(noOpts))
	for _, no := range noOpts {
		c, ok := canonicalByMarket[no.MarketID]
		if !ok {
			continue
		}
		mapping[no.ID] = amm.NoMapping{YesOptionID: c.optionID, PoolIdx: c.poolIdx}
	}
	return mapping, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Error translation
// ──────────────────────────────────────────────────────────────────────────────

// toExecError maps quote-engine sentinels onto the API error taxonomy.
// Errors that already carry a code pass through unchanged.
func toExecError(err error) error {
	if err == nil {
		return nil
	}
	var execErr *domain.ExecError
	if errors.As(err, &execErr) {
		return err
	}
	switch {
	case errors.Is(err, amm.ErrInput):
		return domain.ErrInvalidParam.WithMessagef("%s", err.Error())
	case errors.Is(err, amm.ErrMath):
		return domain.ErrQuoteMath.WithMessagef("%s", err.Error())
	case errors.Is(err, amm.ErrNotFound):
		return domain.ErrPoolStateNotFound.WithMessagef("%s", err.Error())
	default:
		return err
	}
}
