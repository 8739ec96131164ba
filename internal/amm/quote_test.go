package amm

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestState(t *testing.T, b float64, feeBps int, q []float64) *PoolState {
	t.Helper()
	ids := make([]int64, len(q))
	idxs := make([]int, len(q))
	for i := range q {
		ids[i] = int64(i + 1)
		idxs[i] = i
	}
	s, err := NewPoolState(uuid.New(), uuid.New(), b, feeBps, ids, idxs, q, nil, false)
	if err != nil {
		t.Fatalf("NewPoolState: %v", err)
	}
	return s
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// TestQuoteBuyBinary: fresh binary pool (b=10000, q=[0,0], no fee), buy YES
// for 1000. The full net amount reaches the AMM, so
//
//	Δ = 10000 · ln(1 + (e^{0.1} − 1)·2) ≈ 1909.35
//
// and the post-trade YES probability exceeds 50% while NO stays its
// complement within rounding.
func TestQuoteBuyBinary(t *testing.T) {
	state := newTestState(t, 10000, 0, []float64{0, 0})
	amount := dec("1000")

	q, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByIndex(0),
		Side:     SideBuy,
		Amount:   &amount,
	})
	if err != nil {
		t.Fatalf("QuoteFromState: %v", err)
	}

	wantDelta := 10000 * math.Log(1+math.Expm1(1000.0/10000)*2)
	gotShares, _ := q.SharesOut.Float64()
	if absDiff(gotShares, wantDelta) > 1e-7 {
		t.Errorf("shares_out = %v, want %v", gotShares, wantDelta)
	}

	// The net spend equals the cost-function difference.
	qPost := []float64{wantDelta, 0}
	c0, _ := Cost(state.Q, state.B)
	c1, _ := Cost(qPost, state.B)
	if absDiff(c1-c0, 1000) > 1e-9*1000 {
		t.Errorf("cost diff = %v, want 1000", c1-c0)
	}

	if q.FeeAmount.Sign() != 0 {
		t.Errorf("fee = %s, want 0", q.FeeAmount)
	}
	if len(q.PostProbBps) != 2 {
		t.Fatalf("post_prob_bps length = %d", len(q.PostProbBps))
	}
	yes, no := q.PostProbBps[0], q.PostProbBps[1]
	if yes <= 5000 {
		t.Errorf("post YES bps = %d, want > 5000", yes)
	}
	if yes < 0 || yes > 10000 || no < 0 || no > 10000 {
		t.Errorf("probabilities out of range: yes=%d no=%d", yes, no)
	}
	if d := yes + no - 10000; d < -1 || d > 1 {
		t.Errorf("yes+no = %d, want 10000±1", yes+no)
	}
}

// TestQuoteBuyFeeFloor: the charged fee never undercuts the nominal rate by
// more than one money quant.
func TestQuoteBuyFeeFloor(t *testing.T) {
	state := newTestState(t, 10000, 250, []float64{0, 0})
	amount := dec("333.33")

	q, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByIndex(0),
		Side:     SideBuy,
		Amount:   &amount,
	})
	if err != nil {
		t.Fatalf("QuoteFromState: %v", err)
	}

	nominal := amount.Mul(dec("0.025"))
	floor := nominal.Sub(dec("0.01"))
	if q.FeeAmount.LessThan(floor) {
		t.Errorf("fee %s below floor %s", q.FeeAmount, floor)
	}
	// Buy fees round up, so the fee is also >= nominal.
	if q.FeeAmount.LessThan(nominal) {
		t.Errorf("fee %s below nominal %s despite round-up", q.FeeAmount, nominal)
	}
}

// TestQuoteSellRoundTrip: buy 500 with a 2% fee, immediately sell every share
// back. The proceeds fall short of 500 by exactly the two fees plus bounded
// quantization slack.
func TestQuoteSellRoundTrip(t *testing.T) {
	state := newTestState(t, 10000, 200, []float64{0, 0})
	amount := dec("500")

	buy, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByIndex(0),
		Side:     SideBuy,
		Amount:   &amount,
	})
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}

	// Execution writes the quantized shares into q.
	sharesFloat, _ := buy.SharesOut.Float64()
	post := newTestState(t, 10000, 200, []float64{sharesFloat, 0})

	shares := buy.SharesOut
	sell, err := QuoteFromState(post, QuoteRequest{
		Selector: SelectByIndex(0),
		Side:     SideSell,
		Shares:   &shares,
	})
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}

	if !sell.AmountOut.LessThan(amount) {
		t.Fatalf("round trip returned %s, want < 500", sell.AmountOut)
	}
	shortfall := amount.Sub(sell.AmountOut)
	fees := buy.FeeAmount.Add(sell.FeeAmount)
	slack := shortfall.Sub(fees)
	if slack.IsNegative() || slack.GreaterThan(dec("0.03")) {
		t.Errorf("shortfall %s − fees %s = %s, want within [0, 0.03]", shortfall, fees, slack)
	}
}

// TestQuoteBuyShares: asking for an exact share count grosses the cost up by
// the fee and the fee equals gross − net cost.
func TestQuoteBuyShares(t *testing.T) {
	state := newTestState(t, 10000, 100, []float64{0, 0})
	shares := dec("1000")

	q, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByIndex(1),
		Side:     SideBuy,
		Shares:   &shares,
	})
	if err != nil {
		t.Fatalf("QuoteFromState: %v", err)
	}
	if !q.SharesOut.Equal(shares) {
		t.Errorf("shares_out = %s, want %s", q.SharesOut, shares)
	}
	netCost := q.AmountIn.Sub(q.FeeAmount)
	// gross = net / (1 − 0.01), so gross > net.
	if !q.AmountIn.GreaterThan(netCost) {
		t.Errorf("amount_in %s not grossed up over net %s", q.AmountIn, netCost)
	}

	c0, _ := Cost(state.Q, state.B)
	qPost := []float64{0, 1000}
	c1, _ := Cost(qPost, state.B)
	wantNet := c1 - c0
	gotNet, _ := netCost.Float64()
	if absDiff(gotNet, wantNet) > 0.02 {
		t.Errorf("net cost = %v, want ≈%v", gotNet, wantNet)
	}
}

// TestQuoteSellDesiredNet: solving for a desired net payout yields shares
// whose sale nets at least that amount less one quant of rounding.
func TestQuoteSellDesiredNet(t *testing.T) {
	state := newTestState(t, 10000, 0, []float64{2000, 0})
	desired := dec("100")

	q, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByIndex(0),
		Side:     SideSell,
		Amount:   &desired,
	})
	if err != nil {
		t.Fatalf("QuoteFromState: %v", err)
	}
	if q.SharesIn.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("shares_in = %s, want > 0", q.SharesIn)
	}
	diff := q.AmountOut.Sub(desired).Abs()
	if diff.GreaterThan(dec("0.02")) {
		t.Errorf("amount_out = %s, want ≈%s", q.AmountOut, desired)
	}
	if !q.RequestedAmountOut.Equal(desired) {
		t.Errorf("requested_amount_out = %s, want %s", q.RequestedAmountOut, desired)
	}
}

// TestQuoteSellDesiredNetExceedsMax: a desired payout above the theoretical
// maximum −b·ln(1−p)·(1−fee) must be rejected as a math error.
func TestQuoteSellDesiredNetExceedsMax(t *testing.T) {
	state := newTestState(t, 1000, 0, []float64{0, 0})
	// max gross at p=0.5 is 1000·ln2 ≈ 693.15
	desired := dec("700")

	_, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByIndex(0),
		Side:     SideSell,
		Amount:   &desired,
	})
	if !errors.Is(err, ErrMath) {
		t.Errorf("got %v, want ErrMath", err)
	}
}

// TestQuoteExclusiveNoBuy: in a two-market exclusive event at [0.5, 0.5],
// buying NO on market 1 routes the entire net amount into market 2's YES
// outcome (the only other probability mass).
func TestQuoteExclusiveNoBuy(t *testing.T) {
	yesIDs := []int64{101, 201}
	idxs := []int{1, 1}
	noToYes := map[int64]NoMapping{102: {YesOptionID: 101, PoolIdx: 0}}
	state, err := NewPoolState(uuid.New(), uuid.New(), 10000, 0, yesIDs, idxs, []float64{0, 0}, noToYes, true)
	if err != nil {
		t.Fatalf("NewPoolState: %v", err)
	}

	idx, isNo, err := state.ResolveWithSide(SelectByID(102))
	if err != nil {
		t.Fatalf("ResolveWithSide: %v", err)
	}
	if idx != 0 || !isNo {
		t.Fatalf("ResolveWithSide = (%d, %v), want (0, true)", idx, isNo)
	}
	if err := state.ValidateNoMapping(102); err != nil {
		t.Fatalf("ValidateNoMapping: %v", err)
	}

	amount := dec("100")
	q, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByID(101),
		Side:     SideBuy,
		Amount:   &amount,
		IsNoSide: true,
	})
	if err != nil {
		t.Fatalf("QuoteFromState: %v", err)
	}

	if len(q.NoBuyDeltas) != 2 {
		t.Fatalf("no_buy_deltas length = %d", len(q.NoBuyDeltas))
	}
	if q.NoBuyDeltas[0] != 0 {
		t.Errorf("target outcome delta = %v, want 0", q.NoBuyDeltas[0])
	}
	wantDelta := 10000 * math.Log(1+math.Expm1(100.0/10000)*2)
	if absDiff(q.NoBuyDeltas[1], wantDelta) > 1e-9*wantDelta {
		t.Errorf("other outcome delta = %v, want %v", q.NoBuyDeltas[1], wantDelta)
	}
	gotShares, _ := q.SharesOut.Float64()
	if absDiff(gotShares, wantDelta) > 1e-7 {
		t.Errorf("shares_out = %v, want %v", gotShares, wantDelta)
	}

	// Market-1 YES falls, market-2 YES rises, closure holds.
	if q.PostProbBps[0] >= 5000 {
		t.Errorf("target YES bps = %d, want < 5000", q.PostProbBps[0])
	}
	if q.PostProbBps[1] <= 5000 {
		t.Errorf("other YES bps = %d, want > 5000", q.PostProbBps[1])
	}
	if d := q.PostProbBps[0] + q.PostProbBps[1] - 10000; d < -1 || d > 1 {
		t.Errorf("probability sum = %d, want 10000±1", q.PostProbBps[0]+q.PostProbBps[1])
	}
}

// TestQuoteExclusiveNoSell: selling NO shares reduces every other outcome's q
// proportionally and returns positive proceeds.
func TestQuoteExclusiveNoSell(t *testing.T) {
	yesIDs := []int64{101, 201}
	idxs := []int{1, 1}
	noToYes := map[int64]NoMapping{102: {YesOptionID: 101, PoolIdx: 0}}
	state, err := NewPoolState(uuid.New(), uuid.New(), 10000, 0, yesIDs, idxs, []float64{0, 500}, noToYes, true)
	if err != nil {
		t.Fatalf("NewPoolState: %v", err)
	}

	shares := dec("100")
	q, err := QuoteFromState(state, QuoteRequest{
		Selector: SelectByID(101),
		Side:     SideSell,
		Shares:   &shares,
		IsNoSide: true,
	})
	if err != nil {
		t.Fatalf("QuoteFromState: %v", err)
	}
	if len(q.NoSellDeltas) != 2 {
		t.Fatalf("no_sell_deltas length = %d", len(q.NoSellDeltas))
	}
	if q.NoSellDeltas[0] != 0 {
		t.Errorf("target delta = %v, want 0", q.NoSellDeltas[0])
	}
	if q.NoSellDeltas[1] >= 0 {
		t.Errorf("other delta = %v, want < 0", q.NoSellDeltas[1])
	}
	if q.AmountOut.LessThanOrEqual(decimal.Zero) {
		t.Errorf("amount_out = %s, want > 0", q.AmountOut)
	}
}

func TestQuoteInputValidation(t *testing.T) {
	state := newTestState(t, 10000, 0, []float64{0, 0})
	amount := dec("100")
	shares := dec("10")

	cases := []struct {
		name string
		req  QuoteRequest
	}{
		{"bad side", QuoteRequest{Selector: SelectByIndex(0), Side: "short", Amount: &amount}},
		{"both sizes", QuoteRequest{Selector: SelectByIndex(0), Side: SideBuy, Amount: &amount, Shares: &shares}},
		{"no size", QuoteRequest{Selector: SelectByIndex(0), Side: SideBuy}},
		{"no selector", QuoteRequest{Side: SideBuy, Amount: &amount}},
		{"unknown index", QuoteRequest{Selector: SelectByIndex(7), Side: SideBuy, Amount: &amount}},
	}
	for _, tc := range cases {
		if _, err := QuoteFromState(state, tc.req); !errors.Is(err, ErrInput) {
			t.Errorf("%s: got %v, want ErrInput", tc.name, err)
		}
	}

	zero := dec("0")
	if _, err := QuoteFromState(state, QuoteRequest{Selector: SelectByIndex(0), Side: SideBuy, Amount: &zero}); !errors.Is(err, ErrInput) {
		t.Errorf("zero amount: got %v, want ErrInput", err)
	}
}

// TestFullFeeRejected: fee_bps = 10000 makes the gross-up divide by zero, so
// the state constructor refuses it outright.
func TestFullFeeRejected(t *testing.T) {
	_, err := NewPoolState(uuid.New(), uuid.New(), 10000, 10000, []int64{1, 2}, []int{0, 1}, []float64{0, 0}, nil, false)
	if !errors.Is(err, ErrInput) {
		t.Errorf("got %v, want ErrInput", err)
	}
}
