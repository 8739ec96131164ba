package amm

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Pool parameter defaults
// ──────────────────────────────────────────────────────────────────────────────

const (
	DefaultModel           = "lmsr"
	DefaultFeeBps          = 0
	DefaultCollateralToken = "USDC"
)

// DefaultB is the fallback liquidity parameter when no funding amount is given.
var DefaultB = decimal.NewFromInt(10000)

// bPlaces is the storage precision of the liquidity parameter b.
const bPlaces = 18

// ComputeBFromFunding derives the LMSR liquidity parameter from an initial
// funding amount F and outcome count N:
//
//	b = F / ln(N)
//
// Under LMSR the maximum operator loss is b·ln(N), so this caps operator
// exposure at exactly F. The result is quantized to 18 decimal places.
func ComputeBFromFunding(funding decimal.Decimal, numOutcomes int) (decimal.Decimal, error) {
	if funding.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: funding_amount must be positive", ErrInput)
	}
	if numOutcomes < 2 {
		return decimal.Zero, fmt.Errorf("%w: num_outcomes must be at least 2", ErrInput)
	}
	lnN := decimal.NewFromFloat(math.Log(float64(numOutcomes)))
	return funding.DivRound(lnN, bPlaces+2).RoundDown(bPlaces), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Parameter normalization
// ──────────────────────────────────────────────────────────────────────────────

// Params is a validated AMM pool configuration.
type Params struct {
	Model            string
	B                decimal.Decimal
	FeeBps           int
	CollateralToken  string
	CollateralAmount decimal.Decimal
}

// ParamsInput is the raw, partially-filled configuration from an API payload.
// Zero values fall back to defaults.
type ParamsInput struct {
	Model           string
	B               *decimal.Decimal
	FeeBps          *int
	CollateralToken string
	// InitialFunding, when set, overrides B via ComputeBFromFunding and is
	// stored as the pool's collateral_amount.
	InitialFunding *decimal.Decimal
}

// NormalizeParams merges raw input with defaults and validates against the
// pool constraints: model in {lmsr, cpmm}, b > 0, fee_bps in [0, 10000],
// non-empty collateral token.
func NormalizeParams(in ParamsInput, numOutcomes int) (Params, error) {
	model := strings.ToLower(strings.TrimSpace(in.Model))
	if model == "" {
		model = DefaultModel
	}
	if model != "lmsr" && model != "cpmm" {
		return Params{}, fmt.Errorf("%w: model must be one of [lmsr cpmm]", ErrInput)
	}

	collateralAmount := decimal.Zero
	var b decimal.Decimal
	if in.InitialFunding != nil {
		funding := *in.InitialFunding
		if funding.LessThanOrEqual(decimal.Zero) {
			return Params{}, fmt.Errorf("%w: initial_funding_amount must be positive", ErrInput)
		}
		collateralAmount = funding

		if numOutcomes >= 2 {
			var err error
			b, err = ComputeBFromFunding(funding, numOutcomes)
			if err != nil {
				return Params{}, err
			}
		} else if in.B != nil {
			b = *in.B
		} else {
			b = DefaultB
		}
	} else if in.B != nil {
		b = *in.B
	} else {
		b = DefaultB
	}
	if b.LessThanOrEqual(decimal.Zero) {
		return Params{}, fmt.Errorf("%w: b must be positive", ErrInput)
	}

	feeBps := DefaultFeeBps
	if in.FeeBps != nil {
		feeBps = *in.FeeBps
	}
	// Storage allows 0..10000 inclusive; the quote layer rejects 10000 at
	// trade time.
	if feeBps < 0 || feeBps > 10000 {
		return Params{}, fmt.Errorf("%w: fee_bps must be between 0 and 10000", ErrInput)
	}

	token := strings.TrimSpace(in.CollateralToken)
	if token == "" {
		token = DefaultCollateralToken
	}

	return Params{
		Model:            model,
		B:                b,
		FeeBps:           feeBps,
		CollateralToken:  token,
		CollateralAmount: collateralAmount,
	}, nil
}
