package amm

import (
	"errors"
	"math"
	"testing"
)

// TestComputeBFromFunding: b = F/ln(N) caps the operator's worst-case loss at
// exactly the funding amount.
func TestComputeBFromFunding(t *testing.T) {
	cases := []struct {
		funding  string
		outcomes int
	}{
		{"1000", 2},
		{"1000", 3},
		{"50000", 8},
		{"0.01", 2},
	}
	for _, tc := range cases {
		b, err := ComputeBFromFunding(dec(tc.funding), tc.outcomes)
		if err != nil {
			t.Fatalf("ComputeBFromFunding(%s, %d): %v", tc.funding, tc.outcomes, err)
		}
		got, _ := b.Float64()
		f, _ := dec(tc.funding).Float64()
		want := f / math.Log(float64(tc.outcomes))
		if absDiff(got, want) > 1e-9*want {
			t.Errorf("b(%s, %d) = %v, want %v", tc.funding, tc.outcomes, got, want)
		}
		if b.Exponent() < -18 {
			t.Errorf("b exponent = %d, want >= -18", b.Exponent())
		}
	}
}

func TestComputeBFromFundingRejectsBadInput(t *testing.T) {
	if _, err := ComputeBFromFunding(dec("0"), 2); !errors.Is(err, ErrInput) {
		t.Errorf("zero funding: got %v, want ErrInput", err)
	}
	if _, err := ComputeBFromFunding(dec("-5"), 2); !errors.Is(err, ErrInput) {
		t.Errorf("negative funding: got %v, want ErrInput", err)
	}
	if _, err := ComputeBFromFunding(dec("100"), 1); !errors.Is(err, ErrInput) {
		t.Errorf("one outcome: got %v, want ErrInput", err)
	}
}

func TestNormalizeParamsDefaults(t *testing.T) {
	p, err := NormalizeParams(ParamsInput{}, 2)
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if p.Model != "lmsr" {
		t.Errorf("model = %q, want lmsr", p.Model)
	}
	if !p.B.Equal(DefaultB) {
		t.Errorf("b = %s, want %s", p.B, DefaultB)
	}
	if p.FeeBps != 0 {
		t.Errorf("fee_bps = %d, want 0", p.FeeBps)
	}
	if p.CollateralToken != "USDC" {
		t.Errorf("collateral_token = %q, want USDC", p.CollateralToken)
	}
	if !p.CollateralAmount.IsZero() {
		t.Errorf("collateral_amount = %s, want 0", p.CollateralAmount)
	}
}

// TestNormalizeParamsFunding: initial funding overrides any explicit b and
// becomes the pool's collateral.
func TestNormalizeParamsFunding(t *testing.T) {
	funding := dec("1000")
	explicitB := dec("77")
	p, err := NormalizeParams(ParamsInput{B: &explicitB, InitialFunding: &funding}, 2)
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	wantB, _ := ComputeBFromFunding(funding, 2)
	if !p.B.Equal(wantB) {
		t.Errorf("b = %s, want %s (funding-derived)", p.B, wantB)
	}
	if !p.CollateralAmount.Equal(funding) {
		t.Errorf("collateral_amount = %s, want %s", p.CollateralAmount, funding)
	}
}

func TestNormalizeParamsRejectsBadInput(t *testing.T) {
	negB := dec("-1")
	badFee := 10001
	negFunding := dec("-100")

	if _, err := NormalizeParams(ParamsInput{Model: "cfmm"}, 2); !errors.Is(err, ErrInput) {
		t.Errorf("bad model: got %v, want ErrInput", err)
	}
	if _, err := NormalizeParams(ParamsInput{B: &negB}, 2); !errors.Is(err, ErrInput) {
		t.Errorf("negative b: got %v, want ErrInput", err)
	}
	if _, err := NormalizeParams(ParamsInput{FeeBps: &badFee}, 2); !errors.Is(err, ErrInput) {
		t.Errorf("fee_bps > 10000: got %v, want ErrInput", err)
	}
	if _, err := NormalizeParams(ParamsInput{InitialFunding: &negFunding}, 2); !errors.Is(err, ErrInput) {
		t.Errorf("negative funding: got %v, want ErrInput", err)
	}
}

// Storage accepts fee_bps = 10000; only the quote path refuses it.
func TestNormalizeParamsAllowsFullFee(t *testing.T) {
	fullFee := 10000
	p, err := NormalizeParams(ParamsInput{FeeBps: &fullFee}, 2)
	if err != nil {
		t.Fatalf("NormalizeParams: %v", err)
	}
	if p.FeeBps != 10000 {
		t.Errorf("fee_bps = %d, want 10000", p.FeeBps)
	}
}
