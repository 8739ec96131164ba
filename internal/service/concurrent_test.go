package service_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

// TestConcurrentBalanceDebit simulates 50 goroutines simultaneously debiting
// a fixed amount from a shared balance — protected by a mutex.
// This test verifies our concurrency guard pattern compiles and passes -race.
//
// In the real ExecutionService, the DB row-level FOR UPDATE lock on the
// balance snapshot provides this guarantee.  Here we replicate the same guard
// with sync primitives so the race detector can confirm the pattern is sound.
func TestConcurrentBalanceDebit(t *testing.T) {
	const workers = 50
	const amountEach = 10 // collateral units per trade

	balance := decimal.NewFromInt(int64(workers * amountEach)) // exact total
	var mu sync.Mutex
	var rejected int64 // trades short on funds (zero is expected here)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			amount := decimal.NewFromInt(amountEach)

			mu.Lock()
			defer mu.Unlock()

			if balance.LessThan(amount) {
				atomic.AddInt64(&rejected, 1)
				return
			}
			balance = balance.Sub(amount)
		}()
	}
	wg.Wait()

	// All trades should clear: no rejections expected.
	if rejected > 0 {
		t.Errorf("expected 0 rejected trades, got %d", rejected)
	}
	// Balance should be exactly 0 after exactly 50 × 10 debits.
	if !balance.IsZero() {
		t.Errorf("final balance should be 0, got %s", balance)
	}
}

// TestConcurrentSettlementGuard verifies the settle-once guarantee under
// concurrent access: only one of N goroutines settles a market, the rest see
// the existing settlement.
func TestConcurrentSettlementGuard(t *testing.T) {
	const workers = 20
	type marketState struct {
		mu      sync.Mutex
		settled bool
	}

	var (
		m      marketState
		wins   int64
		losses int64
		wg     sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			m.mu.Lock()
			defer m.mu.Unlock()

			if m.settled {
				// Second+ call: returns the existing settlement row
				atomic.AddInt64(&losses, 1)
				return
			}
			m.settled = true
			atomic.AddInt64(&wins, 1)
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("exactly 1 goroutine should have settled the market, got %d", wins)
	}
	if losses != workers-1 {
		t.Errorf("expected %d idempotent replays, got %d", workers-1, losses)
	}
}
