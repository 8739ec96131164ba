package amm

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / result types
// ──────────────────────────────────────────────────────────────────────────────

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// QuoteRequest describes one pricing question against a PoolState.
// Exactly one of Amount or Shares must be set.
//
// Semantics:
//
//	BUY  + Amount: fee taken from the amount, net goes to the AMM → shares out
//	BUY  + Shares: compute net cost, gross-up with fee → amount in
//	SELL + Shares: gross proceeds minus fee → amount out (net)
//	SELL + Amount: desired NET amount out, gross-up → solve shares in
type QuoteRequest struct {
	Selector   Selector
	Side       Side
	Amount     *decimal.Decimal
	Shares     *decimal.Decimal
	MoneyQuant decimal.Decimal
	// IsNoSide marks a NO-side trade in an exclusive event: the trade is
	// distributed across all outcomes other than the target.
	IsNoSide bool
}

// Quote is the deterministic pricing answer. Buy quotes fill AmountIn and
// SharesOut; sell quotes fill AmountOut and SharesIn. NoBuyDeltas/NoSellDeltas
// carry the per-outcome q adjustments for exclusive-event NO trades so the
// execution layer can apply them verbatim.
type Quote struct {
	MarketID      uuid.UUID       `json:"market_id"`
	PoolID        uuid.UUID       `json:"pool_id"`
	OptionID      int64           `json:"option_id"`
	Side          Side            `json:"side"`
	IsNoSide      bool            `json:"is_no_side,omitempty"`
	AmountIn      decimal.Decimal `json:"amount_in,omitempty"`
	AmountOut     decimal.Decimal `json:"amount_out,omitempty"`
	SharesOut     decimal.Decimal `json:"shares_out,omitempty"`
	SharesIn      decimal.Decimal `json:"shares_in,omitempty"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	AvgPriceBps   int             `json:"avg_price_bps"`
	PreProbBps    []int           `json:"pre_prob_bps"`
	PostProbBps   []int           `json:"post_prob_bps"`
	OptionIDs     []int64         `json:"option_ids"`
	OptionIndexes []int           `json:"option_indexes"`
	NoBuyDeltas   []float64       `json:"no_buy_deltas,omitempty"`
	NoSellDeltas  []float64       `json:"no_sell_deltas,omitempty"`

	// Set only for sell-by-desired-net quotes.
	RequestedAmountOut decimal.Decimal `json:"requested_amount_out,omitempty"`
	GrossNeeded        decimal.Decimal `json:"gross_needed,omitempty"`
}

// ──────────────────────────────────────────────────────────────────────────────
// QuoteFromState
// ──────────────────────────────────────────────────────────────────────────────

// QuoteFromState prices a trade against an immutable pool snapshot.
// No database access; deterministic rounding:
//
//	buy money:  round UP   (user pays)
//	sell money: round DOWN (user receives)
//	shares:     8 decimal places, round DOWN
func QuoteFromState(state *PoolState, req QuoteRequest) (*Quote, error) {
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, fmt.Errorf("%w: side must be 'buy' or 'sell'", ErrInput)
	}
	if (req.Amount == nil) == (req.Shares == nil) {
		return nil, fmt.Errorf("%w: provide exactly one of amount or shares", ErrInput)
	}

	quant := req.MoneyQuant
	if quant.IsZero() {
		quant = DefaultMoneyQuant
	}

	feeRate, err := FeeRateFromBps(state.FeeBps)
	if err != nil {
		return nil, err
	}
	oneMinusFee := decimal.New(1, 0).Sub(feeRate)

	targetIdx, err := state.ResolveTarget(req.Selector)
	if err != nil {
		return nil, err
	}

	preProbs, err := Prices(state.Q, state.B)
	if err != nil {
		return nil, err
	}
	preProbBps := BpsFromProbabilities(preProbs)
	pk := preProbs[targetIdx]

	if req.Side == SideBuy {
		if req.Amount != nil {
			return quoteBuyAmount(state, req, targetIdx, *req.Amount, feeRate, quant, preProbs, preProbBps)
		}
		return quoteBuyShares(state, req, targetIdx, *req.Shares, oneMinusFee, quant, preProbBps)
	}
	if req.Shares != nil {
		return quoteSellShares(state, req, targetIdx, *req.Shares, feeRate, quant, preProbs, preProbBps)
	}
	return quoteSellDesiredNet(state, req, targetIdx, *req.Amount, pk, feeRate, oneMinusFee, quant, preProbBps)
}

// ──────────────────────────────────────────────────────────────────────────────
// Buy paths
// ──────────────────────────────────────────────────────────────────────────────

func quoteBuyAmount(
	state *PoolState,
	req QuoteRequest,
	targetIdx int,
	grossIn decimal.Decimal,
	feeRate, quant decimal.Decimal,
	preProbs []float64,
	preProbBps []int,
) (*Quote, error) {
	if grossIn.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount_in must be > 0", ErrInput)
	}

	// Fee and net with system-favorable rounding.
	fee := quantizeMoneyUp(grossIn.Mul(feeRate), quant)
	net := grossIn.Sub(fee)
	if net.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: amount too low to cover fees", ErrMath)
	}
	netFloat, err := decimalToFiniteFloat(net, "amount_net")
	if err != nil {
		return nil, err
	}

	if req.IsNoSide && state.IsExclusive {
		deltas, totalShares, err := noBuyDeltas(state, targetIdx, netFloat)
		if err != nil {
			return nil, err
		}
		if totalShares <= 0 {
			return nil, fmt.Errorf("%w: amount too low to produce any shares (after fees / rounding)", ErrMath)
		}

		qPost := applyDeltas(state.Q, deltas)
		postProbBps, err := probBpsFor(qPost, state.B)
		if err != nil {
			return nil, err
		}

		sharesOut := quantizeShares(totalShares)
		avgPriceBps, err := avgPriceBpsOf(grossIn, sharesOut)
		if err != nil {
			return nil, err
		}

		return &Quote{
			MarketID:      state.MarketID,
			PoolID:        state.PoolID,
			OptionID:      state.OptionIDs[targetIdx], // the YES option this NO bets against
			Side:          SideBuy,
			IsNoSide:      true,
			AmountIn:      quantizeMoneyUp(grossIn, quant),
			SharesOut:     sharesOut,
			FeeAmount:     fee,
			AvgPriceBps:   avgPriceBps,
			PreProbBps:    preProbBps,
			PostProbBps:   postProbBps,
			OptionIDs:     state.OptionIDs,
			OptionIndexes: state.OptionIndexes,
			NoBuyDeltas:   deltas,
		}, nil
	}

	// Standard buy of the target outcome.
	delta, err := BuyAmountToDeltaQ(state.Q, state.B, targetIdx, netFloat)
	if err != nil {
		return nil, err
	}
	if !(delta > 0) || math.IsInf(delta, 0) || math.IsNaN(delta) {
		return nil, fmt.Errorf("%w: amount too low to produce any shares (after fees / rounding)", ErrMath)
	}

	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] += delta
	postProbBps, err := probBpsFor(qPost, state.B)
	if err != nil {
		return nil, err
	}

	sharesOut := quantizeShares(delta)
	avgPriceBps, err := avgPriceBpsOf(grossIn, sharesOut)
	if err != nil {
		return nil, err
	}

	return &Quote{
		MarketID:      state.MarketID,
		PoolID:        state.PoolID,
		OptionID:      state.OptionIDs[targetIdx],
		Side:          SideBuy,
		AmountIn:      quantizeMoneyUp(grossIn, quant),
		SharesOut:     sharesOut,
		FeeAmount:     fee,
		AvgPriceBps:   avgPriceBps,
		PreProbBps:    preProbBps,
		PostProbBps:   postProbBps,
		OptionIDs:     state.OptionIDs,
		OptionIndexes: state.OptionIndexes,
	}, nil
}

func quoteBuyShares(
	state *PoolState,
	req QuoteRequest,
	targetIdx int,
	shares decimal.Decimal,
	oneMinusFee, quant decimal.Decimal,
	preProbBps []int,
) (*Quote, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: shares must be > 0", ErrInput)
	}
	sharesFloat, err := decimalToFiniteFloat(shares, "shares")
	if err != nil {
		return nil, err
	}

	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] += sharesFloat

	netCost, err := costDiff(qPost, state.Q, state.B)
	if err != nil {
		return nil, err
	}
	if !(netCost > 0) || math.IsInf(netCost, 0) || math.IsNaN(netCost) {
		return nil, fmt.Errorf("%w: invalid net cost for buy(shares)", ErrMath)
	}

	netCostDec := quantizeMoneyUp(decimal.NewFromFloat(netCost), quant)
	if oneMinusFee.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: fee too high", ErrInput)
	}
	grossIn := quantizeMoneyUp(netCostDec.Div(oneMinusFee), quant)
	fee := grossIn.Sub(netCostDec)

	postProbBps, err := probBpsFor(qPost, state.B)
	if err != nil {
		return nil, err
	}
	grossFloat, _ := grossIn.Float64()
	avgPriceBps := int(math.Round(grossFloat / sharesFloat * 10000.0))

	return &Quote{
		MarketID:      state.MarketID,
		PoolID:        state.PoolID,
		OptionID:      state.OptionIDs[targetIdx],
		Side:          SideBuy,
		AmountIn:      grossIn,
		SharesOut:     shares,
		FeeAmount:     fee,
		AvgPriceBps:   avgPriceBps,
		PreProbBps:    preProbBps,
		PostProbBps:   postProbBps,
		OptionIDs:     state.OptionIDs,
		OptionIndexes: state.OptionIndexes,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Sell paths
// ──────────────────────────────────────────────────────────────────────────────

func quoteSellShares(
	state *PoolState,
	req QuoteRequest,
	targetIdx int,
	shares decimal.Decimal,
	feeRate, quant decimal.Decimal,
	preProbs []float64,
	preProbBps []int,
) (*Quote, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: shares must be > 0", ErrInput)
	}
	sharesFloat, err := decimalToFiniteFloat(shares, "shares")
	if err != nil {
		return nil, err
	}

	var (
		qPost  []float64
		deltas []float64
	)
	if req.IsNoSide && state.IsExclusive {
		// Reverse of the NO buy: reduce q on every other outcome
		// proportionally to its probability mass.
		deltas, err = noSellDeltas(state, targetIdx, sharesFloat, preProbs)
		if err != nil {
			return nil, err
		}
		qPost = applyDeltas(state.Q, deltas)
	} else {
		qPost = append([]float64(nil), state.Q...)
		qPost[targetIdx] -= sharesFloat
	}

	gross, err := costDiff(state.Q, qPost, state.B)
	if err != nil {
		return nil, err
	}
	if !(gross > 0) || math.IsInf(gross, 0) || math.IsNaN(gross) {
		return nil, fmt.Errorf("%w: invalid gross proceeds for sell(shares)", ErrMath)
	}

	grossDec := quantizeMoneyDown(decimal.NewFromFloat(gross), quant)
	fee := quantizeMoneyUp(grossDec.Mul(feeRate), quant)
	netOut := quantizeMoneyDown(grossDec.Sub(fee), quant)
	if netOut.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: proceeds too low after fees / rounding", ErrMath)
	}

	postProbBps, err := probBpsFor(qPost, state.B)
	if err != nil {
		return nil, err
	}
	netFloat, _ := netOut.Float64()
	avgPriceBps := int(math.Round(netFloat / sharesFloat * 10000.0))

	q := &Quote{
		MarketID:      state.MarketID,
		PoolID:        state.PoolID,
		OptionID:      state.OptionIDs[targetIdx],
		Side:          SideSell,
		IsNoSide:      req.IsNoSide && state.IsExclusive,
		AmountOut:     netOut,
		SharesIn:      shares,
		FeeAmount:     fee,
		AvgPriceBps:   avgPriceBps,
		PreProbBps:    preProbBps,
		PostProbBps:   postProbBps,
		OptionIDs:     state.OptionIDs,
		OptionIndexes: state.OptionIndexes,
	}
	if deltas != nil {
		q.NoSellDeltas = deltas
	}
	return q, nil
}

func quoteSellDesiredNet(
	state *PoolState,
	req QuoteRequest,
	targetIdx int,
	desiredNet decimal.Decimal,
	pk float64,
	feeRate, oneMinusFee, quant decimal.Decimal,
	preProbBps []int,
) (*Quote, error) {
	if desiredNet.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: desired amount_out must be > 0", ErrInput)
	}
	desiredNet = quantizeMoneyDown(desiredNet, quant)

	if oneMinusFee.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: fee too high", ErrInput)
	}
	grossNeeded := quantizeMoneyUp(desiredNet.Div(oneMinusFee), quant)
	grossFloat, err := decimalToFiniteFloat(grossNeeded, "gross_needed")
	if err != nil {
		return nil, err
	}

	maxGross := maxGrossPayout(pk, state.B)
	if grossFloat >= maxGross {
		maxNet := quantizeMoneyDown(decimal.NewFromFloat(maxGross).Mul(oneMinusFee), quant)
		return nil, fmt.Errorf("%w: desired amount_out too large (max net≈%s)", ErrMath, maxNet)
	}

	sharesNeeded := solveSellSharesForGrossPayout(pk, state.B, grossFloat)
	if !(sharesNeeded > 0) || math.IsInf(sharesNeeded, 0) || math.IsNaN(sharesNeeded) {
		return nil, fmt.Errorf("%w: invalid shares_in solved for sell(amount_out)", ErrMath)
	}

	sharesNeededDec := quantizeShares(sharesNeeded)
	sharesFloat, _ := sharesNeededDec.Float64()
	qPost := append([]float64(nil), state.Q...)
	qPost[targetIdx] -= sharesFloat

	gross, err := costDiff(state.Q, qPost, state.B)
	if err != nil {
		return nil, err
	}
	grossDec := quantizeMoneyDown(decimal.NewFromFloat(gross), quant)
	fee := quantizeMoneyUp(grossDec.Mul(feeRate), quant)
	netOut := quantizeMoneyDown(grossDec.Sub(fee), quant)

	postProbBps, err := probBpsFor(qPost, state.B)
	if err != nil {
		return nil, err
	}
	netFloat, _ := netOut.Float64()
	avgPriceBps := int(math.Round(netFloat / sharesFloat * 10000.0))

	return &Quote{
		MarketID:           state.MarketID,
		PoolID:             state.PoolID,
		OptionID:           state.OptionIDs[targetIdx],
		Side:               SideSell,
		AmountOut:          netOut,
		SharesIn:           sharesNeededDec,
		FeeAmount:          fee,
		AvgPriceBps:        avgPriceBps,
		PreProbBps:         preProbBps,
		PostProbBps:        postProbBps,
		OptionIDs:          state.OptionIDs,
		OptionIndexes:      state.OptionIndexes,
		RequestedAmountOut: desiredNet,
		GrossNeeded:        grossNeeded,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// NO-side distribution (exclusive events)
// ──────────────────────────────────────────────────────────────────────────────

// noBuyDeltas distributes a NO buy across all outcomes other than the target,
// proportionally to their current probabilities: outcome j receives
// net · p_j / (1 − p_k). Returns the per-outcome q increases and their sum
// (the NO shares bought).
func noBuyDeltas(state *PoolState, targetIdx int, netFloat float64) ([]float64, float64, error) {
	n := len(state.Q)
	if n < 2 {
		return nil, 0, fmt.Errorf("%w: cannot buy NO in a single-outcome pool", ErrMath)
	}

	probs, err := Prices(state.Q, state.B)
	if err != nil {
		return nil, 0, err
	}
	otherProbSum := 0.0
	for j := range probs {
		if j != targetIdx {
			otherProbSum += probs[j]
		}
	}
	if otherProbSum <= 0 {
		return nil, 0, fmt.Errorf("%w: no other outcomes available to distribute buy", ErrMath)
	}

	deltas := make([]float64, n)
	total := 0.0
	for j := range probs {
		if j == targetIdx {
			continue
		}
		amountJ := netFloat * (probs[j] / otherProbSum)
		if amountJ <= 0 {
			continue
		}
		deltaJ, err := BuyAmountToDeltaQ(state.Q, state.B, j, amountJ)
		if err != nil {
			return nil, 0, err
		}
		deltas[j] = deltaJ
		total += deltaJ
	}
	return deltas, total, nil
}

// noSellDeltas distributes a NO sell (share reduction) across all outcomes
// other than the target, proportionally to their current probabilities.
func noSellDeltas(state *PoolState, targetIdx int, sharesFloat float64, probs []float64) ([]float64, error) {
	n := len(state.Q)
	otherProbSum := 0.0
	for j := range probs {
		if j != targetIdx {
			otherProbSum += probs[j]
		}
	}
	if otherProbSum <= 0 {
		return nil, fmt.Errorf("%w: no other outcomes available for NO sell", ErrMath)
	}

	deltas := make([]float64, n)
	for j := range probs {
		if j == targetIdx {
			continue
		}
		deltas[j] = -sharesFloat * (probs[j] / otherProbSum)
	}
	return deltas, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Small helpers
// ──────────────────────────────────────────────────────────────────────────────

func applyDeltas(q, deltas []float64) []float64 {
	out := append([]float64(nil), q...)
	for j, d := range deltas {
		out[j] += d
	}
	return out
}

func costDiff(qHigh, qLow []float64, b float64) (float64, error) {
	ch, err := Cost(qHigh, b)
	if err != nil {
		return 0, err
	}
	cl, err := Cost(qLow, b)
	if err != nil {
		return 0, err
	}
	return ch - cl, nil
}

func probBpsFor(q []float64, b float64) ([]int, error) {
	probs, err := Prices(q, b)
	if err != nil {
		return nil, err
	}
	return BpsFromProbabilities(probs), nil
}

func avgPriceBpsOf(gross, shares decimal.Decimal) (int, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: shares_out rounded to zero", ErrMath)
	}
	g, _ := gross.Float64()
	s, _ := shares.Float64()
	return int(math.Round(g / s * 10000.0)), nil
}
