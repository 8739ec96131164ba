package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func activeMarket(deadline *time.Time) *Market {
	return &Market{
		ID:              uuid.New(),
		Status:          StatusActive,
		TradingDeadline: deadline,
	}
}

func TestCheckTradableHappyPath(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	m := activeMarket(&deadline)
	if err := m.CheckTradable(nil, time.Now()); err != nil {
		t.Errorf("CheckTradable: %v", err)
	}
}

func TestCheckTradableRejections(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	hidden := activeMarket(&future)
	hidden.Hidden = true
	if err := hidden.CheckTradable(nil, now); !errors.Is(err, ErrMarketNotActive) {
		t.Errorf("hidden market: got %v, want ErrMarketNotActive", err)
	}

	closed := activeMarket(&future)
	closed.Status = StatusClosed
	if err := closed.CheckTradable(nil, now); !errors.Is(err, ErrMarketNotActive) {
		t.Errorf("closed market: got %v, want ErrMarketNotActive", err)
	}

	expired := activeMarket(&past)
	if err := expired.CheckTradable(nil, now); !errors.Is(err, ErrMarketClosed) {
		t.Errorf("past deadline: got %v, want ErrMarketClosed", err)
	}

	inactiveEvent := &Event{ID: uuid.New(), Status: StatusClosed}
	m := activeMarket(&future)
	if err := m.CheckTradable(inactiveEvent, now); !errors.Is(err, ErrEventNotActive) {
		t.Errorf("inactive event: got %v, want ErrEventNotActive", err)
	}
}

// TestEffectiveDeadline: the market's own deadline wins; the event's applies
// only when the market has none.
func TestEffectiveDeadline(t *testing.T) {
	marketDL := time.Now().Add(time.Hour)
	eventDL := time.Now().Add(2 * time.Hour)
	ev := &Event{TradingDeadline: &eventDL}

	m := activeMarket(&marketDL)
	if got := m.EffectiveDeadline(ev); got == nil || !got.Equal(marketDL) {
		t.Errorf("EffectiveDeadline = %v, want market deadline", got)
	}

	m.TradingDeadline = nil
	if got := m.EffectiveDeadline(ev); got == nil || !got.Equal(eventDL) {
		t.Errorf("EffectiveDeadline = %v, want event deadline", got)
	}

	if got := m.EffectiveDeadline(nil); got != nil {
		t.Errorf("EffectiveDeadline = %v, want nil", got)
	}
}

func TestExecErrorMatching(t *testing.T) {
	detailed := ErrInsufficientFunds.WithMessagef("short by %s", "42")
	if !errors.Is(detailed, ErrInsufficientFunds) {
		t.Error("detailed copy should match its sentinel")
	}
	if errors.Is(detailed, ErrInsufficientBalance) {
		t.Error("different codes must not match")
	}
	if HTTPStatusOf(detailed) != ErrInsufficientFunds.HTTPStatus {
		t.Errorf("HTTPStatusOf = %d, want %d", HTTPStatusOf(detailed), ErrInsufficientFunds.HTTPStatus)
	}
	if CodeOf(errors.New("plain")) != "INTERNAL_ERROR" {
		t.Errorf("CodeOf(plain) = %q, want INTERNAL_ERROR", CodeOf(errors.New("plain")))
	}
}
