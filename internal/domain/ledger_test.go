package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

// TestReduceForSaleProportional: selling 40% of a position removes 40% of the
// cost basis.
func TestReduceForSaleProportional(t *testing.T) {
	p := &Position{Shares: d("100"), CostBasis: d("50")}
	p.ReduceForSale(d("40"))

	if !p.Shares.Equal(d("60")) {
		t.Errorf("shares = %s, want 60", p.Shares)
	}
	if !p.CostBasis.Equal(d("30")) {
		t.Errorf("cost_basis = %s, want 30", p.CostBasis)
	}
}

// TestReduceForSaleFullExit: selling everything zeroes both fields even when
// the sale size slightly exceeds the stored shares.
func TestReduceForSaleFullExit(t *testing.T) {
	p := &Position{Shares: d("10.00000001"), CostBasis: d("5")}
	p.ReduceForSale(d("10.005"))

	if !p.Shares.IsZero() {
		t.Errorf("shares = %s, want 0", p.Shares)
	}
	if p.CostBasis.IsNegative() {
		t.Errorf("cost_basis = %s, want >= 0", p.CostBasis)
	}
}

func TestCanSellTolerance(t *testing.T) {
	p := &Position{Shares: d("10")}

	if !p.CanSell(d("10")) {
		t.Error("exact size should be sellable")
	}
	if !p.CanSell(d("10.009")) {
		t.Error("size within tolerance should be sellable")
	}
	if p.CanSell(d("10.01")) {
		t.Error("size at tolerance boundary should be rejected")
	}
	if p.CanSell(d("11")) {
		t.Error("oversized sale should be rejected")
	}

	empty := &Position{Shares: decimal.Zero}
	if empty.CanSell(d("0.001")) {
		t.Error("empty position should not be sellable")
	}
}

func TestIsDust(t *testing.T) {
	threshold := d("0.1")
	if !(&Position{Shares: d("0.1")}).IsDust(threshold) {
		t.Error("0.1 shares should be dust")
	}
	if !(&Position{Shares: d("0.05")}).IsDust(threshold) {
		t.Error("0.05 shares should be dust")
	}
	if (&Position{Shares: d("0.11")}).IsDust(threshold) {
		t.Error("0.11 shares should not be dust")
	}
}
