package amm

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// PoolState
// ──────────────────────────────────────────────────────────────────────────────

// NoMapping links a NO-side option to the YES-side pool outcome it bets
// against. Only populated for exclusive-event pools.
type NoMapping struct {
	YesOptionID int64
	PoolIdx     int
}

// PoolState is an immutable snapshot of one AMM pool, taken either under row
// locks (execution) or from a plain read (quoting). All quote math consumes
// this value and never touches the database.
type PoolState struct {
	MarketID      uuid.UUID
	PoolID        uuid.UUID
	B             float64
	FeeBps        int
	OptionIDs     []int64
	OptionIndexes []int
	Q             []float64
	NoToYes       map[int64]NoMapping
	IsExclusive   bool

	idxByOptionID    map[int64]int
	idxByOptionIndex map[int]int
}

// NewPoolState validates the snapshot inputs and builds the lookup indexes.
// optionIDs, optionIndexes and q must be parallel slices ordered by
// (option_index, option_id).
func NewPoolState(
	marketID, poolID uuid.UUID,
	b float64,
	feeBps int,
	optionIDs []int64,
	optionIndexes []int,
	q []float64,
	noToYes map[int64]NoMapping,
	isExclusive bool,
) (*PoolState, error) {
	if !(b > 0) || math.IsInf(b, 0) || math.IsNaN(b) {
		return nil, fmt.Errorf("%w: pool b must be positive finite", ErrInput)
	}
	if _, err := FeeRateFromBps(feeBps); err != nil {
		return nil, err
	}
	if len(optionIDs) == 0 || len(optionIDs) != len(optionIndexes) || len(optionIDs) != len(q) {
		return nil, fmt.Errorf("%w: option state vectors must be non-empty and parallel", ErrInput)
	}

	s := &PoolState{
		MarketID:         marketID,
		PoolID:           poolID,
		B:                b,
		FeeBps:           feeBps,
		OptionIDs:        optionIDs,
		OptionIndexes:    optionIndexes,
		Q:                q,
		NoToYes:          noToYes,
		IsExclusive:      isExclusive,
		idxByOptionID:    make(map[int64]int, len(optionIDs)),
		idxByOptionIndex: make(map[int]int, len(optionIndexes)),
	}
	for i, oid := range optionIDs {
		s.idxByOptionID[oid] = i
	}
	for i, oi := range optionIndexes {
		s.idxByOptionIndex[oi] = i
	}
	return s, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Option selection
// ──────────────────────────────────────────────────────────────────────────────

// Selector identifies a target outcome by exactly one of option id or
// option index.
type Selector struct {
	OptionID    *int64
	OptionIndex *int
}

// SelectByID builds a Selector targeting an option id.
func SelectByID(id int64) Selector { return Selector{OptionID: &id} }

// SelectByIndex builds a Selector targeting an option index.
func SelectByIndex(idx int) Selector { return Selector{OptionIndex: &idx} }

// ResolveTarget maps the selector to a pool index. A NO-side option id in an
// exclusive event resolves to its YES counterpart's index.
func (s *PoolState) ResolveTarget(sel Selector) (int, error) {
	idx, _, err := s.ResolveWithSide(sel)
	return idx, err
}

// ResolveWithSide maps the selector to (pool index, is_no_side). Only option
// ids can resolve to the NO side; option indexes address the pool directly.
func (s *PoolState) ResolveWithSide(sel Selector) (int, bool, error) {
	if sel.OptionID != nil {
		if idx, ok := s.idxByOptionID[*sel.OptionID]; ok {
			return idx, false, nil
		}
		if m, ok := s.NoToYes[*sel.OptionID]; ok {
			return m.PoolIdx, true, nil
		}
		return 0, false, fmt.Errorf("%w: target option_id not found in this pool", ErrInput)
	}
	if sel.OptionIndex != nil {
		if idx, ok := s.idxByOptionIndex[*sel.OptionIndex]; ok {
			return idx, false, nil
		}
		return 0, false, fmt.Errorf("%w: target option_index not found in this pool", ErrInput)
	}
	return 0, false, fmt.Errorf("%w: must provide option_id or option_index", ErrInput)
}

// ValidateNoMapping checks that a NO→YES mapping entry still points at an
// outcome present in the pool with a matching index. Detects corrupted
// exclusive-event wiring before any money moves.
func (s *PoolState) ValidateNoMapping(noOptionID int64) error {
	m, ok := s.NoToYes[noOptionID]
	if !ok {
		return fmt.Errorf("%w: option %d has no NO→YES mapping", ErrInput, noOptionID)
	}
	idx, ok := s.idxByOptionID[m.YesOptionID]
	if !ok {
		return fmt.Errorf("%w: mapped YES option not in pool", ErrMath)
	}
	if idx != m.PoolIdx {
		return fmt.Errorf("%w: NO→YES mapping index mismatch", ErrMath)
	}
	return nil
}
