package amm

import (
	"errors"
	"math"
	"testing"
)

func absDiff(a, b float64) float64 {
	return math.Abs(a - b)
}

// TestPricesUniform: a fresh pool with q=[0,0] must price both outcomes at
// exactly 50%.
func TestPricesUniform(t *testing.T) {
	p, err := Prices([]float64{0, 0}, 10000)
	if err != nil {
		t.Fatalf("Prices: %v", err)
	}
	if absDiff(p[0], 0.5) > 1e-12 || absDiff(p[1], 0.5) > 1e-12 {
		t.Errorf("expected [0.5 0.5], got %v", p)
	}
}

// TestPricesClosure: for a spread of pool states, probabilities stay in [0,1]
// and sum to 1 within float epsilon.
func TestPricesClosure(t *testing.T) {
	cases := [][]float64{
		{0, 0},
		{100, -100},
		{5000, 2000, -3000},
		{1e6, 0, -1e6},
		{0.001, 0.002, 0.003, 0.004},
	}
	for _, q := range cases {
		p, err := Prices(q, 10000)
		if err != nil {
			t.Fatalf("Prices(%v): %v", q, err)
		}
		sum := 0.0
		for _, pi := range p {
			if pi < 0 || pi > 1 {
				t.Errorf("Prices(%v): component %v out of [0,1]", q, pi)
			}
			sum += pi
		}
		if absDiff(sum, 1.0) > 1e-12 {
			t.Errorf("Prices(%v): sum = %v, want 1", q, sum)
		}
	}
}

func TestPricesRejectsBadB(t *testing.T) {
	if _, err := Prices([]float64{0, 0}, 0); !errors.Is(err, ErrInput) {
		t.Errorf("b=0: got %v, want ErrInput", err)
	}
	if _, err := Prices([]float64{0, 0}, -1); !errors.Is(err, ErrInput) {
		t.Errorf("b=-1: got %v, want ErrInput", err)
	}
}

// TestBuyAmountToDeltaQInverse: the closed-form buy inverse must satisfy
// cost(q + Δ·e_k) − cost(q) = A to high precision across sizes and skews.
func TestBuyAmountToDeltaQInverse(t *testing.T) {
	cases := []struct {
		q      []float64
		b      float64
		k      int
		amount float64
	}{
		{[]float64{0, 0}, 10000, 0, 1000},
		{[]float64{0, 0}, 10000, 1, 0.01},
		{[]float64{500, -200}, 1000, 0, 42.5},
		{[]float64{1e5, 0, -1e5}, 25000, 2, 12345},
		{[]float64{0, 0, 0, 0}, 100, 3, 7},
	}
	for _, tc := range cases {
		delta, err := BuyAmountToDeltaQ(tc.q, tc.b, tc.k, tc.amount)
		if err != nil {
			t.Fatalf("BuyAmountToDeltaQ(%v): %v", tc, err)
		}
		if delta <= 0 {
			t.Fatalf("delta = %v, want > 0", delta)
		}
		qPost := append([]float64(nil), tc.q...)
		qPost[tc.k] += delta
		c0, _ := Cost(tc.q, tc.b)
		c1, _ := Cost(qPost, tc.b)
		got := c1 - c0
		tol := 1e-9 * math.Max(1, tc.amount)
		if absDiff(got, tc.amount) > tol {
			t.Errorf("cost diff = %v, want %v (±%v)", got, tc.amount, tol)
		}
	}
}

// TestBuyBinaryClosedForm: in a symmetric binary pool, the inverse matches
// Δ = b·log(1 + (e^{A/b} − 1)·2) directly.
func TestBuyBinaryClosedForm(t *testing.T) {
	const b, amount = 10000.0, 1000.0
	delta, err := BuyAmountToDeltaQ([]float64{0, 0}, b, 0, amount)
	if err != nil {
		t.Fatalf("BuyAmountToDeltaQ: %v", err)
	}
	want := b * math.Log(1+math.Expm1(amount/b)*2)
	if absDiff(delta, want) > 1e-9*want {
		t.Errorf("delta = %v, want %v", delta, want)
	}
}

func TestBuyAmountToDeltaQRejectsBadInput(t *testing.T) {
	q := []float64{0, 0}
	if _, err := BuyAmountToDeltaQ(q, 0, 0, 100); !errors.Is(err, ErrInput) {
		t.Errorf("b=0: got %v, want ErrInput", err)
	}
	if _, err := BuyAmountToDeltaQ(q, 100, 0, 0); !errors.Is(err, ErrInput) {
		t.Errorf("amount=0: got %v, want ErrInput", err)
	}
	if _, err := BuyAmountToDeltaQ(q, 100, 2, 10); !errors.Is(err, ErrInput) {
		t.Errorf("k out of range: got %v, want ErrInput", err)
	}
}

// TestSellInverse: solving shares for a gross payout and then recomputing the
// cost difference must reproduce the target gross.
func TestSellInverse(t *testing.T) {
	const b = 10000.0
	q := []float64{300, -100}
	probs, _ := Prices(q, b)
	pk := probs[0]

	gross := 0.5 * maxGrossPayout(pk, b)
	shares := solveSellSharesForGrossPayout(pk, b, gross)
	if !(shares > 0) {
		t.Fatalf("shares = %v, want > 0", shares)
	}

	qPost := append([]float64(nil), q...)
	qPost[0] -= shares
	c0, _ := Cost(q, b)
	c1, _ := Cost(qPost, b)
	if absDiff(c0-c1, gross) > 1e-9*gross {
		t.Errorf("gross from solved shares = %v, want %v", c0-c1, gross)
	}
}

// TestMaxGrossPayout: selling toward infinity approaches −b·ln(1−p) but never
// reaches it.
func TestMaxGrossPayout(t *testing.T) {
	const b = 10000.0
	pk := 0.5
	max := maxGrossPayout(pk, b)
	want := -b * math.Log(0.5)
	if absDiff(max, want) > 1e-12*want {
		t.Errorf("maxGrossPayout = %v, want %v", max, want)
	}

	// A gross just below the cap still has a finite solution.
	shares := solveSellSharesForGrossPayout(pk, b, max*0.999999)
	if math.IsInf(shares, 0) || math.IsNaN(shares) {
		t.Errorf("shares near cap = %v, want finite", shares)
	}
}

// TestLog1pExpBranches: the branch cuts must agree with the exact expression
// near their boundaries.
func TestLog1pExpBranches(t *testing.T) {
	for _, x := range []float64{-60, -50.5, -49.5, 0, 49.5, 50.5, 60} {
		got := log1pExp(x)
		var want float64
		if x > 700 {
			want = x
		} else {
			want = math.Log1p(math.Exp(x))
		}
		if math.IsInf(want, 0) {
			want = x
		}
		if absDiff(got, want) > 1e-12*math.Max(1, math.Abs(want)) {
			t.Errorf("log1pExp(%v) = %v, want %v", x, got, want)
		}
	}
}
