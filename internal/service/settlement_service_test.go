package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/forecastpool/exchange/internal/domain"
)

// ── resolveGate ───────────────────────────────────────────────────────────────

func TestResolveGateSourceStates(t *testing.T) {
	tests := []struct {
		status  domain.MarketStatus
		wantErr error
	}{
		{domain.StatusActive, nil},
		{domain.StatusClosed, nil},
		{domain.StatusDraft, domain.ErrInvalidStatus},
		{domain.StatusPending, domain.ErrInvalidStatus},
		{domain.StatusCanceled, domain.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			market := &domain.Market{ID: uuid.New(), Status: tt.status}
			replay, err := resolveGate(market, false, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("resolveGate(%s) err = %v, want %v", tt.status, err, tt.wantErr)
			}
			if replay {
				t.Errorf("resolveGate(%s) replay = true, want false", tt.status)
			}
		})
	}
}

// A market left resolved by a crash between resolution and payout may be
// resolved again so the settlement pipeline can be re-run.
func TestResolveGateResolvedUnsettled(t *testing.T) {
	market := &domain.Market{ID: uuid.New(), Status: domain.StatusResolved, ResolvedOptionIndex: intPtr(1)}

	replay, err := resolveGate(market, false, 0)
	if err != nil {
		t.Fatalf("resolveGate: %v", err)
	}
	if replay {
		t.Error("unsettled resolved market must proceed, not replay")
	}
}

// Re-submitting a settled market with the outcome already recorded is a replay:
// the caller gets the prior result and no money moves.
func TestResolveGateReplaySameOutcome(t *testing.T) {
	market := &domain.Market{ID: uuid.New(), Status: domain.StatusResolved, ResolvedOptionIndex: intPtr(1)}

	replay, err := resolveGate(market, true, 1)
	if err != nil {
		t.Fatalf("resolveGate: %v", err)
	}
	if !replay {
		t.Error("same outcome on a settled market must replay")
	}
}

// Re-submitting a settled market with a different outcome is a conflict.
func TestResolveGateConflictingOutcome(t *testing.T) {
	market := &domain.Market{ID: uuid.New(), Status: domain.StatusResolved, ResolvedOptionIndex: intPtr(1)}

	replay, err := resolveGate(market, true, 0)
	if !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Fatalf("got %v, want ErrAlreadyResolved", err)
	}
	if replay {
		t.Error("conflicting outcome must not replay")
	}
}

// ── settleGate ────────────────────────────────────────────────────────────────

// Standalone settlement requires the resolved status itself. A market holding
// only a recorded option index (interrupted pipeline) is not admitted.
func TestSettleGateRequiresResolvedStatus(t *testing.T) {
	for _, status := range []domain.MarketStatus{
		domain.StatusActive, domain.StatusClosed, domain.StatusDraft, domain.StatusCanceled,
	} {
		market := &domain.Market{ID: uuid.New(), Status: status, ResolvedOptionIndex: intPtr(0)}
		if err := settleGate(market); !errors.Is(err, domain.ErrNotResolved) {
			t.Errorf("settleGate(%s) = %v, want ErrNotResolved", status, err)
		}
	}

	resolved := &domain.Market{ID: uuid.New(), Status: domain.StatusResolved, ResolvedOptionIndex: intPtr(0)}
	if err := settleGate(resolved); err != nil {
		t.Errorf("settleGate(resolved) = %v, want nil", err)
	}
}

func TestSettleGateRequiresResolvedOption(t *testing.T) {
	market := &domain.Market{ID: uuid.New(), Status: domain.StatusResolved}
	if err := settleGate(market); !errors.Is(err, domain.ErrNoResolvedOption) {
		t.Errorf("settleGate = %v, want ErrNoResolvedOption", err)
	}
}

// ── settlementTxID ────────────────────────────────────────────────────────────

func TestSettlementTxID(t *testing.T) {
	provided := "settle:op-batch-42"
	if got := settlementTxID(&provided); got != provided {
		t.Errorf("settlementTxID(provided) = %q, want %q", got, provided)
	}

	empty := ""
	for _, in := range []*string{nil, &empty} {
		got := settlementTxID(in)
		if !strings.HasPrefix(got, "settle:") {
			t.Errorf("settlementTxID(%v) = %q, want settle:<uuid>", in, got)
		}
		if got == "settle:" {
			t.Errorf("settlementTxID(%v) generated an empty id", in)
		}
	}
}

// ── buildPayoutPlan ───────────────────────────────────────────────────────────

// Payout 100 against pool cash 60 draws the remaining 40 from collateral.
func TestBuildPayoutPlanWaterfall(t *testing.T) {
	pool := &domain.AmmPool{PoolCash: dec("60"), CollateralAmount: dec("100")}
	winners := []*domain.Position{
		{ID: 1, UserID: 10, Shares: dec("70")},
		{ID: 2, UserID: 11, Shares: dec("30")},
	}

	plan, err := buildPayoutPlan(pool, winners)
	if err != nil {
		t.Fatalf("buildPayoutPlan: %v", err)
	}
	if !plan.TotalPayout.Equal(dec("100")) {
		t.Errorf("total payout = %s, want 100", plan.TotalPayout)
	}
	if !plan.PoolCashUsed.Equal(dec("60")) {
		t.Errorf("pool cash used = %s, want 60", plan.PoolCashUsed)
	}
	if !plan.CollateralUsed.Equal(dec("40")) {
		t.Errorf("collateral used = %s, want 40", plan.CollateralUsed)
	}
	if len(plan.Winners) != 2 {
		t.Errorf("winners = %d, want 2", len(plan.Winners))
	}
}

// A funding shortfall fails before any balance is credited: no plan comes back,
// so the caller rolls the transaction back with the market status untouched.
func TestBuildPayoutPlanShortfall(t *testing.T) {
	pool := &domain.AmmPool{PoolCash: dec("60"), CollateralAmount: dec("30")}
	winners := []*domain.Position{{ID: 1, UserID: 10, Shares: dec("100")}}

	plan, err := buildPayoutPlan(pool, winners)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if plan != nil {
		t.Error("shortfall must not produce a plan")
	}
}

func TestBuildPayoutPlanNoWinners(t *testing.T) {
	pool := &domain.AmmPool{PoolCash: dec("0"), CollateralAmount: dec("0")}

	plan, err := buildPayoutPlan(pool, nil)
	if err != nil {
		t.Fatalf("buildPayoutPlan: %v", err)
	}
	if !plan.TotalPayout.IsZero() || !plan.PoolCashUsed.IsZero() || !plan.CollateralUsed.IsZero() {
		t.Errorf("empty settlement moved money: payout=%s cash=%s collateral=%s",
			plan.TotalPayout, plan.PoolCashUsed, plan.CollateralUsed)
	}
}

// ── survivorProbUpdates ───────────────────────────────────────────────────────

// After one outcome leaves an exclusive pool, the two survivors at equal q
// split the probability mass 5000/5000, and each market's NO row carries the
// complement.
func TestSurvivorProbUpdatesRenormalize(t *testing.T) {
	mkt1, mkt2 := uuid.New(), uuid.New()
	states := []*domain.AmmPoolOptionState{
		{OptionID: 101, Q: decimal.Zero},
		{OptionID: 201, Q: decimal.Zero},
	}
	optByID := map[int64]*domain.MarketOption{
		101: {ID: 101, MarketID: mkt1, OptionIndex: 0},
		201: {ID: 201, MarketID: mkt2, OptionIndex: 0},
	}
	noOpts := []*domain.MarketOption{
		{ID: 102, MarketID: mkt1, OptionIndex: 1},
		{ID: 202, MarketID: mkt2, OptionIndex: 1},
	}

	updates, err := survivorProbUpdates(states, optByID, noOpts, 100)
	if err != nil {
		t.Fatalf("survivorProbUpdates: %v", err)
	}
	if len(updates) != 4 {
		t.Fatalf("got %d updates, want 4", len(updates))
	}

	byOption := make(map[int64]int, len(updates))
	for _, u := range updates {
		byOption[u.OptionID] = u.ProbBps
	}
	for _, optionID := range []int64{101, 201, 102, 202} {
		if got := byOption[optionID]; got != 5000 {
			t.Errorf("option %d prob = %d bps, want 5000", optionID, got)
		}
	}
}

// A pool outcome with no backing option row is a data fault, not a payout.
func TestSurvivorProbUpdatesUnknownOutcome(t *testing.T) {
	states := []*domain.AmmPoolOptionState{{OptionID: 999, Q: decimal.Zero}}

	if _, err := survivorProbUpdates(states, map[int64]*domain.MarketOption{}, nil, 100); err == nil {
		t.Fatal("expected an error for an unmapped pool outcome")
	}
}
