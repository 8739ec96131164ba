package service

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/amm"
	"github.com/forecastpool/exchange/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(v int) *int { return &v }

// Scenario: a buy filling fewer shares than the caller's floor must be
// rejected before any balance moves.
func TestCheckBuySlippageMinShares(t *testing.T) {
	quote := &amm.Quote{
		OptionID:   101,
		OptionIDs:  []int64{101, 102},
		PreProbBps: []int{5000, 5000},
		SharesOut:  dec("18.5"),
	}

	min := dec("18.5")
	if err := checkBuySlippage(quote, &min, nil); err != nil {
		t.Fatalf("shares_out equal to floor should pass, got %v", err)
	}

	min = dec("19")
	err := checkBuySlippage(quote, &min, nil)
	if !errors.Is(err, domain.ErrSlippageProtection) {
		t.Fatalf("expected SLIPPAGE_PROTECTION, got %v", err)
	}
}

// Scenario: max_slippage_bps bounds the average fill price relative to the
// pre-trade probability of the target outcome.
func TestCheckBuySlippageMaxBps(t *testing.T) {
	quote := &amm.Quote{
		OptionID:    101,
		OptionIDs:   []int64{101, 102},
		PreProbBps:  []int{5000, 5000},
		SharesOut:   dec("10"),
		AvgPriceBps: 5400,
	}

	// 5400 vs expected 5000 is an 8% premium.
	if err := checkBuySlippage(quote, nil, intPtr(1000)); err != nil {
		t.Fatalf("8%% premium within 10%% tolerance should pass, got %v", err)
	}
	err := checkBuySlippage(quote, nil, intPtr(500))
	if !errors.Is(err, domain.ErrSlippageProtection) {
		t.Fatalf("8%% premium above 5%% tolerance should fail, got %v", err)
	}
}

// Scenario: a NO-side buy prices against the complement of the YES
// probability. YES at 80% means NO trades near 20%.
func TestCheckBuySlippageNoSideReference(t *testing.T) {
	quote := &amm.Quote{
		OptionID:    101,
		IsNoSide:    true,
		OptionIDs:   []int64{101, 102},
		PreProbBps:  []int{8000, 2000},
		SharesOut:   dec("10"),
		AvgPriceBps: 2100,
	}

	// Against the NO reference of 2000 bps, 2100 is a 5% premium.
	if err := checkBuySlippage(quote, nil, intPtr(600)); err != nil {
		t.Fatalf("5%% premium within 6%% tolerance should pass, got %v", err)
	}
	err := checkBuySlippage(quote, nil, intPtr(400))
	if !errors.Is(err, domain.ErrSlippageProtection) {
		t.Fatalf("5%% premium above 4%% tolerance should fail, got %v", err)
	}
}

// Scenario: a standard buy moves only the target outcome's q; a NO-side buy
// applies the full delta vector to the other outcomes.
func TestBuyQDeltas(t *testing.T) {
	standard := &amm.Quote{
		OptionID:  101,
		OptionIDs: []int64{101, 201, 301},
		SharesOut: dec("12.5"),
	}
	deltas := buyQDeltas(standard)
	if len(deltas) != 1 || !deltas[101].Equal(dec("12.5")) {
		t.Fatalf("standard buy deltas = %v, want only option 101 = 12.5", deltas)
	}

	noSide := &amm.Quote{
		OptionID:    101,
		OptionIDs:   []int64{101, 201, 301},
		NoBuyDeltas: []float64{0, 7.5, 2.5},
	}
	deltas = buyQDeltas(noSide)
	if len(deltas) != 2 {
		t.Fatalf("no-side buy deltas = %v, want two entries", deltas)
	}
	if deltas[201].InexactFloat64() != 7.5 || deltas[301].InexactFloat64() != 2.5 {
		t.Fatalf("no-side buy deltas = %v, want 201=7.5 301=2.5", deltas)
	}
	if _, ok := deltas[101]; ok {
		t.Fatal("target outcome must not move on a no-side buy")
	}
}

// Scenario: sells reverse the buy deltas with opposite sign.
func TestSellQDeltas(t *testing.T) {
	standard := &amm.Quote{
		OptionID:  101,
		OptionIDs: []int64{101, 201},
		SharesIn:  dec("4"),
	}
	deltas := sellQDeltas(standard)
	if len(deltas) != 1 || !deltas[101].Equal(dec("-4")) {
		t.Fatalf("standard sell deltas = %v, want only option 101 = -4", deltas)
	}

	noSide := &amm.Quote{
		OptionID:     101,
		OptionIDs:    []int64{101, 201, 301},
		NoSellDeltas: []float64{0, -3, -1},
	}
	deltas = sellQDeltas(noSide)
	if deltas[201].InexactFloat64() != -3 || deltas[301].InexactFloat64() != -1 {
		t.Fatalf("no-side sell deltas = %v, want 201=-3 301=-1", deltas)
	}
}

// Scenario: quote-engine sentinels translate to coded API errors; errors that
// already carry a code pass through unchanged.
func TestToExecError(t *testing.T) {
	if got := toExecError(nil); got != nil {
		t.Fatalf("nil must stay nil, got %v", got)
	}

	wrapped := domain.ErrMarketClosed.WithMessagef("deadline passed")
	if got := toExecError(wrapped); !errors.Is(got, domain.ErrMarketClosed) {
		t.Fatalf("coded error must pass through, got %v", got)
	}

	cases := []struct {
		in   error
		want *domain.ExecError
	}{
		{amm.ErrInput, domain.ErrInvalidParam},
		{amm.ErrMath, domain.ErrQuoteMath},
		{amm.ErrNotFound, domain.ErrPoolStateNotFound},
	}
	for _, c := range cases {
		if got := toExecError(c.in); !errors.Is(got, c.want) {
			t.Fatalf("toExecError(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

// Scenario: the receipt carries the post-trade balance and position so clients
// can repaint the portfolio without a second round-trip.
func TestTradeReceiptExposesLedgerOutcome(t *testing.T) {
	receipt := TradeReceipt{
		TradeID:          uuid.New(),
		OrderIntentID:    uuid.New(),
		TxHash:           "amm:test",
		BalanceAvailable: dec("857.50"),
		Position: PositionSnapshot{
			Shares:    dec("125"),
			CostBasis: dec("142.50"),
		},
	}

	raw, err := json.Marshal(receipt)
	if err != nil {
		t.Fatalf("marshal receipt: %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if _, ok := got["balance_available"]; !ok {
		t.Error("receipt JSON is missing balance_available")
	}
	posRaw, ok := got["position"]
	if !ok {
		t.Fatal("receipt JSON is missing position")
	}
	var pos map[string]json.RawMessage
	if err := json.Unmarshal(posRaw, &pos); err != nil {
		t.Fatalf("unmarshal position: %v", err)
	}
	for _, key := range []string{"shares", "cost_basis"} {
		if _, ok := pos[key]; !ok {
			t.Errorf("position JSON is missing %s", key)
		}
	}
	if !receipt.Position.Shares.Equal(dec("125")) || !receipt.Position.CostBasis.Equal(dec("142.50")) {
		t.Errorf("position snapshot = %+v, want shares 125 cost basis 142.50", receipt.Position)
	}
}
