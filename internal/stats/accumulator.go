// Package stats provides single-pass accumulators for cross-replicate
// progress statistics.
package stats

import "math"

// Accumulator holds the running state for a single grid position.
type Accumulator struct {
	Count int
	Mean  float64
	M2    float64
	Min   float64
	Max   float64
}

// Add folds v into the accumulator using Welford's update.
func (a *Accumulator) Add(v float64) {
	if a.Count == 0 {
		a.Min = v
		a.Max = v
	}
	a.Count++

	delta := v - a.Mean
	a.Mean += delta / float64(a.Count)
	delta2 := v - a.Mean
	a.M2 += delta * delta2

	if v < a.Min {
		a.Min = v
	}
	if v > a.Max {
		a.Max = v
	}
}

// Variance returns the population variance M2/Count.
func (a *Accumulator) Variance() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.M2 / float64(a.Count)
}

// Stdev returns the population standard deviation.
func (a *Accumulator) Stdev() float64 {
	return math.Sqrt(a.Variance())
}

// Slot pairs an accumulator with the grid position it was labelled with.
type Slot struct {
	Position int64
	Acc      Accumulator
}

// Series is a growable ordered sequence of accumulators indexed by ordinal
// position within a replicate.
type Series struct {
	slots []Slot
}

// NewSeries creates an empty series with room for n positions.
func NewSeries(n int) *Series {
	return &Series{slots: make([]Slot, 0, n)}
}

// Add contributes v at index n. The position label is fixed by the first
// contribution to that index; later labels are ignored.
func (s *Series) Add(n int, position int64, v float64) {
	for len(s.slots) <= n {
		s.slots = append(s.slots, Slot{Position: -1})
	}
	slot := &s.slots[n]
	if slot.Acc.Count == 0 && slot.Position < 0 {
		slot.Position = position
	}
	slot.Acc.Add(v)
}

// Len returns the number of populated indexes.
func (s *Series) Len() int {
	return len(s.slots)
}

// At returns the slot at index n.
func (s *Series) At(n int) Slot {
	return s.slots[n]
}

// Slots returns the slots in index order.
func (s *Series) Slots() []Slot {
	return s.slots
}
