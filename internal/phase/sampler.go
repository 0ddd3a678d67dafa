package phase

import (
	"rfidphase/internal/metrics"
	"rfidphase/internal/tag"
)

const (
	// DefaultAntennaA is the reference antenna port.
	DefaultAntennaA = 1
	// DefaultAntennaB is the antenna port subtracted from the reference.
	DefaultAntennaB = 2
)

// Sampler extracts one target tag's phases per antenna and pairs them by arrival index.
//
// Pairing is positional within each antenna's own series. When the antennas
// are not read in lockstep samples get mispaired; re-pairing by timestamp
// would change observable output and is deliberately not done.
type Sampler struct {
	target   string
	antennaA int
	antennaB int
}

// Cycle is the outcome of one polling round.
type Cycle struct {
	Deltas []int
	CountA int
	CountB int
}

// Paired returns how many samples were paired across the two antennas.
func (c Cycle) Paired() int { return len(c.Deltas) }

// Mean returns the average corrected delta, or false when nothing was paired.
func (c Cycle) Mean() (float64, bool) {
	if len(c.Deltas) == 0 {
		return 0, false
	}
	var sum int
	for _, d := range c.Deltas {
		sum += d
	}
	return float64(sum) / float64(len(c.Deltas)), true
}

type series struct {
	phases []int
}

func (s *series) append(phase int) {
	s.phases = append(s.phases, phase)
}

func (s *series) len() int { return len(s.phases) }

// NewSampler builds a sampler for the target hex identifier over the given antenna pair.
// Non-positive antenna ports fall back to 1 and 2.
func NewSampler(targetHex string, antennaA, antennaB int) *Sampler {
	if antennaA <= 0 {
		antennaA = DefaultAntennaA
	}
	if antennaB <= 0 {
		antennaB = DefaultAntennaB
	}
	return &Sampler{target: targetHex, antennaA: antennaA, antennaB: antennaB}
}

// Target returns the hex identifier this sampler matches.
func (s *Sampler) Target() string { return s.target }

// Antennas returns the configured antenna pair.
func (s *Sampler) Antennas() (int, int) { return s.antennaA, s.antennaB }

// Sample runs one cycle over a materialized batch. It never fails; an empty
// result only means there were no paired samples this cycle.
func (s *Sampler) Sample(batch []tag.Read) Cycle {
	var a, b series
	for _, rd := range batch {
		if rd.EPC.Hex() != s.target {
			continue
		}
		switch rd.Antenna {
		case s.antennaA:
			a.append(rd.Phase)
		case s.antennaB:
			b.append(rd.Phase)
		}
	}

	n := a.len()
	if b.len() < n {
		n = b.len()
	}
	deltas := make([]int, n)
	for i := 0; i < n; i++ {
		deltas[i] = Correct(a.phases[i] - b.phases[i])
	}

	metrics.PhaseCyclesTotal.Inc()
	metrics.PhaseDeltasTotal.Add(float64(n))
	return Cycle{Deltas: deltas, CountA: a.len(), CountB: b.len()}
}
