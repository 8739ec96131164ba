package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// TestWaterfallPoolCashCovers: when pool cash alone covers the payout, no
// collateral is touched.
func TestWaterfallPoolCashCovers(t *testing.T) {
	pool := &AmmPool{PoolCash: d("1500"), CollateralAmount: d("1000")}

	cashUsed, collUsed, err := pool.Waterfall(d("1200"))
	if err != nil {
		t.Fatalf("Waterfall: %v", err)
	}
	if !cashUsed.Equal(d("1200")) {
		t.Errorf("pool_cash_used = %s, want 1200", cashUsed)
	}
	if !collUsed.IsZero() {
		t.Errorf("collateral_used = %s, want 0", collUsed)
	}
}

// TestWaterfallDrawsCollateral: payout 1000 against pool cash 600 draws the
// remaining 400 from collateral.
func TestWaterfallDrawsCollateral(t *testing.T) {
	pool := &AmmPool{PoolCash: d("600"), CollateralAmount: d("1000")}

	cashUsed, collUsed, err := pool.Waterfall(d("1000"))
	if err != nil {
		t.Fatalf("Waterfall: %v", err)
	}
	if !cashUsed.Equal(d("600")) {
		t.Errorf("pool_cash_used = %s, want 600", cashUsed)
	}
	if !collUsed.Equal(d("400")) {
		t.Errorf("collateral_used = %s, want 400", collUsed)
	}
	if !cashUsed.Add(collUsed).Equal(d("1000")) {
		t.Errorf("cash + collateral = %s, want 1000", cashUsed.Add(collUsed))
	}
}

// TestWaterfallShortfall: when both sources together fall short, the error
// reports the exact missing amount.
func TestWaterfallShortfall(t *testing.T) {
	pool := &AmmPool{PoolCash: d("600"), CollateralAmount: d("300")}

	_, _, err := pool.Waterfall(d("1000"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	var e *ExecError
	if !errors.As(err, &e) {
		t.Fatalf("error is not an ExecError: %v", err)
	}
	if want := "by 100"; !contains(e.Message, want) {
		t.Errorf("message %q does not state the shortfall %q", e.Message, want)
	}
}

func TestWaterfallZeroPayout(t *testing.T) {
	pool := &AmmPool{PoolCash: d("0"), CollateralAmount: d("0")}
	cashUsed, collUsed, err := pool.Waterfall(decimal.Zero)
	if err != nil {
		t.Fatalf("Waterfall: %v", err)
	}
	if !cashUsed.IsZero() || !collUsed.IsZero() {
		t.Errorf("zero payout used (%s, %s), want (0, 0)", cashUsed, collUsed)
	}
}

func TestWaterfallRejectsNegativePayout(t *testing.T) {
	pool := &AmmPool{PoolCash: d("100"), CollateralAmount: d("100")}
	if _, _, err := pool.Waterfall(d("-1")); !errors.Is(err, ErrInvalidParam) {
		t.Errorf("got %v, want ErrInvalidParam", err)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
