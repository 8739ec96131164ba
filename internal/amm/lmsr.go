// Package amm implements the LMSR (Logarithmic Market Scoring Rule) pricing
// core: pure float64 math, an immutable PoolState snapshot, and a deterministic
// quote engine with fixed-point money at the boundary.
package amm

import (
	"fmt"
	"math"
)

// ──────────────────────────────────────────────────────────────────────────────
// Numerically stable helpers
// ──────────────────────────────────────────────────────────────────────────────

// logSumExp computes log(Σ exp(xs)) without overflow by factoring out the max.
func logSumExp(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	if math.IsInf(m, 0) {
		return m
	}
	s := 0.0
	for _, x := range xs {
		s += math.Exp(x - m)
	}
	return m + math.Log(s)
}

// log1pExp computes log(1 + exp(x)) with branch cuts for large |x|.
func log1pExp(x float64) float64 {
	if x > 50.0 {
		return x // log(1+e^x) ~ x
	}
	if x < -50.0 {
		return math.Exp(x) // log(1+e^x) ~ e^x
	}
	return math.Log1p(math.Exp(x))
}

// ──────────────────────────────────────────────────────────────────────────────
// LMSR primitives
// ──────────────────────────────────────────────────────────────────────────────

// Prices returns the instantaneous LMSR probabilities
//
//	p_i = exp(q_i/b) / Σ_j exp(q_j/b)
//
// computed as a stable softmax of q/b. The result sums to 1.
func Prices(q []float64, b float64) ([]float64, error) {
	if b <= 0 {
		return nil, fmt.Errorf("%w: b must be > 0", ErrInput)
	}
	if len(q) == 0 {
		return nil, fmt.Errorf("%w: q must be non-empty", ErrInput)
	}

	scaled := make([]float64, len(q))
	m := q[0] / b
	for i, qi := range q {
		scaled[i] = qi / b
		if scaled[i] > m {
			m = scaled[i]
		}
	}

	out := make([]float64, len(q))
	s := 0.0
	for i, x := range scaled {
		e := math.Exp(x - m)
		out[i] = e
		s += e
	}
	for i := range out {
		out[i] /= s
	}
	return out, nil
}

// Cost returns the LMSR cost function C(q) = b · log(Σ exp(q_i/b)).
func Cost(q []float64, b float64) (float64, error) {
	if b <= 0 {
		return 0, fmt.Errorf("%w: b must be > 0", ErrInput)
	}
	if len(q) == 0 {
		return 0, fmt.Errorf("%w: q must be non-empty", ErrInput)
	}
	scaled := make([]float64, len(q))
	for i, qi := range q {
		scaled[i] = qi / b
	}
	return b * logSumExp(scaled), nil
}

// BuyAmountToDeltaQ solves for the share delta Δ such that buying Δ shares of
// outcome k costs exactly amountNet:
//
//	cost(q + Δ·e_k, b) − cost(q, b) = amountNet
//
// Closed form with S = Σ exp(q_j/b) and a = exp(q_k/b):
//
//	Δ = b · log(1 + (exp(amountNet/b) − 1) · S/a)
//
// evaluated in the log domain so extreme q never overflow.
func BuyAmountToDeltaQ(q []float64, b float64, k int, amountNet float64) (float64, error) {
	if b <= 0 {
		return 0, fmt.Errorf("%w: b must be > 0", ErrInput)
	}
	if amountNet <= 0 {
		return 0, fmt.Errorf("%w: amount_net must be > 0", ErrInput)
	}
	if k < 0 || k >= len(q) {
		return 0, fmt.Errorf("%w: option index out of range", ErrInput)
	}

	scaled := make([]float64, len(q))
	for i, qi := range q {
		scaled[i] = qi / b
	}
	logS := logSumExp(scaled)
	logA := scaled[k]
	logRatio := logS - logA // log(S/a) >= 0

	// t = exp(amountNet/b) - 1, stable via Expm1.
	t := math.Expm1(amountNet / b)

	// b * log(1 + t*exp(logRatio)) = b * log(1 + exp(log(t) + logRatio))
	x := math.Log(t) + logRatio
	return b * log1pExp(x), nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Sell inverse
// ──────────────────────────────────────────────────────────────────────────────

// maxGrossPayout is the supremum of gross proceeds obtainable by selling
// outcome k down from probability pk: lim s→∞ of cost(q) − cost(q − s·e_k),
// which is −b·ln(1 − pk).
func maxGrossPayout(pk, b float64) float64 {
	if pk >= 1.0 {
		return math.Inf(1)
	}
	return -b * math.Log1p(-pk)
}

// solveSellSharesForGrossPayout inverts the sell proceeds function: the number
// of shares s of an outcome at probability pk that must be sold so that
// cost(q) − cost(q − s·e_k) = gross. From
//
//	exp(−gross/b) = 1 − pk + pk·exp(−s/b)
//
// it follows that s = −b·ln((exp(−gross/b) − 1 + pk) / pk).
func solveSellSharesForGrossPayout(pk, b, gross float64) float64 {
	// Expm1 keeps precision when gross/b is tiny.
	num := math.Expm1(-gross/b) + pk
	return -b * math.Log(num/pk)
}
