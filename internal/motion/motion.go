// Package motion turns a raw inertial sample sequence into a motion-energy
// signal, detected swing segments, and zero-velocity (ZUPT) stillness
// periods usable as drift anchors.
package motion

import (
	"time"

	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"gonum.org/v1/gonum/stat"
)

// Config holds the detection tuning. Zero value is not usable; start from
// DefaultConfig.
type Config struct {
	AccelWeight float64
	GyroWeight  float64

	// Swing hysteresis: enter above Start, leave below End. The gap keeps
	// the state machine from chattering at a single crossing point.
	SwingStartThreshold float64
	SwingEndThreshold   float64
	MinSwingDuration    time.Duration

	// Post-swing stillness classification.
	StillnessLookahead int
	StillnessFraction  float64

	ZUPTThreshold     float64
	MinZUPTDuration   time.Duration
	VarianceCheck     bool
	VarianceWindow    int
	VarianceThreshold float64
}

func DefaultConfig() Config {
	return Config{
		AccelWeight:         1.0,
		GyroWeight:          0.8,
		SwingStartThreshold: 8.0,
		SwingEndThreshold:   3.0,
		MinSwingDuration:    150 * time.Millisecond,
		StillnessLookahead:  20,
		StillnessFraction:   0.7,
		ZUPTThreshold:       1.5,
		MinZUPTDuration:     100 * time.Millisecond,
		VarianceCheck:       true,
		VarianceWindow:      10,
		VarianceThreshold:   0.5,
	}
}

// Segment is a detected high-energy swing interval. Indices are inclusive.
type Segment struct {
	StartIndex       int           `json:"start_index"`
	EndIndex         int           `json:"end_index"`
	PeakEnergy       float64       `json:"peak_energy"`
	Duration         time.Duration `json:"duration_ns"`
	EndedInStillness bool          `json:"ended_in_stillness"`
}

// ZUPTPeriod is a detected stillness interval. Indices are inclusive and
// periods never overlap.
type ZUPTPeriod struct {
	StartIndex int           `json:"start_index"`
	EndIndex   int           `json:"end_index"`
	AvgEnergy  float64       `json:"avg_energy"`
	Duration   time.Duration `json:"duration_ns"`
}

// minSamples is the degenerate-input floor: below it detection returns
// empty results rather than erroring.
const minSamples = 10

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Energy is the scalar detection signal: a weighted sum of acceleration
// and rotation-rate magnitudes.
func (e *Engine) Energy(s imu.Sample) float64 {
	return e.cfg.AccelWeight*s.Accel.Norm() + e.cfg.GyroWeight*s.Gyro.Norm()
}

func (e *Engine) energies(samples []imu.Sample) []float64 {
	out := make([]float64, len(samples))
	for i := range samples {
		out[i] = e.Energy(samples[i])
	}
	return out
}

func duration(samples []imu.Sample, start, end int) time.Duration {
	return time.Duration(samples[end].TimestampNs - samples[start].TimestampNs)
}

// DetectSwings runs the two-state hysteresis machine over the full sequence.
// Candidates shorter than MinSwingDuration are dropped silently.
func (e *Engine) DetectSwings(samples []imu.Sample) []Segment {
	if len(samples) < minSamples {
		return nil
	}

	energies := e.energies(samples)
	var segments []Segment

	swinging := false
	start := 0
	peak := 0.0

	emit := func(end int) {
		seg := Segment{
			StartIndex: start,
			EndIndex:   end,
			PeakEnergy: peak,
			Duration:   duration(samples, start, end),
		}
		if seg.Duration < e.cfg.MinSwingDuration {
			return
		}
		seg.EndedInStillness = e.endedInStillness(energies, end+1)
		segments = append(segments, seg)
	}

	for i, energy := range energies {
		if !swinging {
			if energy > e.cfg.SwingStartThreshold {
				swinging = true
				start = i
				peak = energy
			}
			continue
		}
		if energy > peak {
			peak = energy
		}
		if energy < e.cfg.SwingEndThreshold {
			emit(i - 1)
			swinging = false
		}
	}
	if swinging {
		emit(len(samples) - 1)
	}
	return segments
}

// endedInStillness peeks ahead without moving the main scan position.
func (e *Engine) endedInStillness(energies []float64, from int) bool {
	end := from + e.cfg.StillnessLookahead
	if end > len(energies) {
		end = len(energies)
	}
	if from >= end {
		return false
	}
	below := 0
	for _, energy := range energies[from:end] {
		if energy < e.cfg.ZUPTThreshold {
			below++
		}
	}
	return float64(below)/float64(end-from) > e.cfg.StillnessFraction
}

// DetectZUPT finds stillness periods: energy below the ZUPT threshold and,
// when variance checking is on, trailing-window population variance below
// the variance threshold. A period that reaches the end of the sequence is
// still emitted.
func (e *Engine) DetectZUPT(samples []imu.Sample) []ZUPTPeriod {
	if len(samples) < minSamples {
		return nil
	}

	energies := e.energies(samples)
	var periods []ZUPTPeriod

	inPeriod := false
	start := 0

	emit := func(end int) {
		p := ZUPTPeriod{
			StartIndex: start,
			EndIndex:   end,
			AvgEnergy:  stat.Mean(energies[start:end+1], nil),
			Duration:   duration(samples, start, end),
		}
		if p.Duration >= e.cfg.MinZUPTDuration {
			periods = append(periods, p)
		}
	}

	for i, energy := range energies {
		still := energy < e.cfg.ZUPTThreshold
		if still && e.cfg.VarianceCheck {
			still = e.trailingVariance(energies, i) < e.cfg.VarianceThreshold
		}

		switch {
		case still && !inPeriod:
			inPeriod = true
			start = i
		case !still && inPeriod:
			emit(i - 1)
			inPeriod = false
		}
	}
	if inPeriod {
		emit(len(energies) - 1)
	}
	return periods
}

// trailingVariance is the population variance over the window ending at i.
func (e *Engine) trailingVariance(energies []float64, i int) float64 {
	lo := i - e.cfg.VarianceWindow + 1
	if lo < 0 {
		lo = 0
	}
	window := energies[lo : i+1]
	if len(window) < 2 {
		return 0
	}
	return stat.PopVariance(window, nil)
}
