// Package kinematics integrates acceleration into velocity and position,
// using ZUPT stillness periods from the motion package to bound drift.
package kinematics

import (
	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/KLayOnStudio/dojogo-sub000/internal/motion"
)

// Method selects the integration rule.
type Method int

const (
	// Trapezoidal averages consecutive sample values over each interval.
	Trapezoidal Method = iota
	// Rectangular is the first-order fallback using the previous value.
	Rectangular
)

type Config struct {
	Method Method
	// ResetPosition also zeroes position at each ZUPT reset. Off by
	// default: zeroing position discards legitimate net displacement.
	ResetPosition bool
}

// Point is one integrated state. T is seconds since the first sample.
type Point struct {
	T        float64    `json:"t"`
	Position [3]float64 `json:"position"`
	Velocity [3]float64 `json:"velocity"`
	Accel    [3]float64 `json:"accel"`
}

// Result carries the trajectory plus quality diagnostics: which sample
// indices triggered a ZUPT reset and the velocity that was discarded at
// the last one (the accumulated drift).
type Result struct {
	Points           []Point    `json:"points"`
	ZUPTResets       []int      `json:"zupt_resets"`
	DriftAtLastReset [3]float64 `json:"drift_at_last_reset"`
}

type Integrator struct {
	cfg Config
}

func NewIntegrator(cfg Config) *Integrator {
	return &Integrator{cfg: cfg}
}

func accelOf(s imu.Sample) [3]float64 {
	return [3]float64{float64(s.Accel.X), float64(s.Accel.Y), float64(s.Accel.Z)}
}

// Integrate runs over a whole session. Only the first sample index of each
// ZUPT period triggers a reset; samples inside the same period do not
// repeatedly zero state. All arithmetic is double precision regardless of
// the float32 storage.
func (g *Integrator) Integrate(samples []imu.Sample, zupts []motion.ZUPTPeriod) Result {
	resetAt := make(map[int]bool, len(zupts))
	for _, z := range zupts {
		resetAt[z.StartIndex] = true
	}
	return g.run(samples, resetAt)
}

// IntegrateSwing integrates one swing's index range in isolation, as a
// fresh zero-initial-condition problem. Short strikes come out materially
// more accurate this way because drift from unrelated parts of the session
// never compounds into them.
func (g *Integrator) IntegrateSwing(samples []imu.Sample, seg motion.Segment) Result {
	if seg.StartIndex < 0 || seg.EndIndex >= len(samples) || seg.StartIndex > seg.EndIndex {
		return Result{}
	}
	return g.run(samples[seg.StartIndex:seg.EndIndex+1], nil)
}

func (g *Integrator) run(samples []imu.Sample, resetAt map[int]bool) Result {
	if len(samples) == 0 {
		return Result{}
	}

	res := Result{Points: make([]Point, 0, len(samples))}

	var vel, pos [3]float64
	t0 := samples[0].TimestampNs
	prevAccel := accelOf(samples[0])

	reset := func(i int) {
		res.DriftAtLastReset = vel
		res.ZUPTResets = append(res.ZUPTResets, i)
		vel = [3]float64{}
		if g.cfg.ResetPosition {
			pos = [3]float64{}
		}
	}

	if resetAt[0] {
		reset(0)
	}
	res.Points = append(res.Points, Point{T: 0, Velocity: vel, Position: pos, Accel: prevAccel})

	for i := 1; i < len(samples); i++ {
		accel := accelOf(samples[i])
		dt := float64(samples[i].TimestampNs-samples[i-1].TimestampNs) / 1e9

		prevVel := vel
		for axis := 0; axis < 3; axis++ {
			switch g.cfg.Method {
			case Rectangular:
				vel[axis] += prevAccel[axis] * dt
				pos[axis] += prevVel[axis] * dt
			default:
				vel[axis] += (prevAccel[axis] + accel[axis]) / 2 * dt
				pos[axis] += (prevVel[axis] + vel[axis]) / 2 * dt
			}
		}

		if resetAt[i] {
			reset(i)
		}

		res.Points = append(res.Points, Point{
			T:        float64(samples[i].TimestampNs-t0) / 1e9,
			Position: pos,
			Velocity: vel,
			Accel:    accel,
		})
		prevAccel = accel
	}
	return res
}
