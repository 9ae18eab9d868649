package kinematics

import (
	"testing"

	"github.com/KLayOnStudio/dojogo-sub000/internal/imu"
	"github.com/KLayOnStudio/dojogo-sub000/internal/motion"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// samplesAt100Hz builds n samples at exact 10ms spacing with the given
// accel X values.
func samplesAt100Hz(accelX ...float64) []imu.Sample {
	samples := make([]imu.Sample, len(accelX))
	for i, a := range accelX {
		samples[i] = imu.Sample{
			TimestampNs: int64(i) * 10_000_000,
			Sequence:    int64(i),
			Accel:       imu.Vec3{X: float32(a)},
		}
	}
	return samples
}

func TestIntegrateZeroInputStaysZero(t *testing.T) {
	samples := samplesAt100Hz(make([]float64, 500)...)
	res := NewIntegrator(Config{}).Integrate(samples, nil)

	require.Len(t, res.Points, 500)
	for _, p := range res.Points {
		assert.Equal(t, [3]float64{}, p.Velocity)
		assert.Equal(t, [3]float64{}, p.Position)
	}
	assert.Empty(t, res.ZUPTResets)
}

func TestIntegrateConstantAccelTrapezoidal(t *testing.T) {
	// 2 m/s² for 1s at 100 Hz: v ≈ 2*t, x ≈ t².
	accel := make([]float64, 101)
	for i := range accel {
		accel[i] = 2.0
	}
	res := NewIntegrator(Config{Method: Trapezoidal}).Integrate(samplesAt100Hz(accel...), nil)

	last := res.Points[len(res.Points)-1]
	assert.InDelta(t, 1.0, last.T, 1e-9)
	assert.InDelta(t, 2.0, last.Velocity[0], 1e-9)
	assert.InDelta(t, 1.0, last.Position[0], 1e-3)
}

func TestIntegrateRectangularFallback(t *testing.T) {
	accel := make([]float64, 101)
	for i := range accel {
		accel[i] = 2.0
	}
	res := NewIntegrator(Config{Method: Rectangular}).Integrate(samplesAt100Hz(accel...), nil)

	last := res.Points[len(res.Points)-1]
	// Forward Euler on constant accel hits the same velocity.
	assert.InDelta(t, 2.0, last.Velocity[0], 1e-9)
	// Position lags by the half-step error; still close to t².
	assert.InDelta(t, 1.0, last.Position[0], 2e-2)
}

func TestIntegrateNonUniformSpacing(t *testing.T) {
	// Per-sample Δt must be honored: 10ms, then 30ms under 1 m/s².
	samples := []imu.Sample{
		{TimestampNs: 0, Accel: imu.Vec3{X: 1}},
		{TimestampNs: 10_000_000, Accel: imu.Vec3{X: 1}},
		{TimestampNs: 40_000_000, Accel: imu.Vec3{X: 1}},
	}
	res := NewIntegrator(Config{}).Integrate(samples, nil)
	require.Len(t, res.Points, 3)
	assert.InDelta(t, 0.04, res.Points[2].Velocity[0], 1e-9)
}

func TestZUPTResetZeroesVelocityKeepsPosition(t *testing.T) {
	accel := make([]float64, 100)
	for i := 0; i < 50; i++ {
		accel[i] = 5.0
	}
	samples := samplesAt100Hz(accel...)
	zupts := []motion.ZUPTPeriod{{StartIndex: 60, EndIndex: 90}}

	res := NewIntegrator(Config{}).Integrate(samples, zupts)

	require.Equal(t, []int{60}, res.ZUPTResets)
	assert.Equal(t, [3]float64{}, res.Points[60].Velocity)
	assert.NotEqual(t, [3]float64{}, res.Points[60].Position)
	// Drift diagnostic records the velocity discarded at the reset.
	assert.Greater(t, res.DriftAtLastReset[0], 0.0)
	// Inside the same period no further resets fire.
	assert.Len(t, res.ZUPTResets, 1)
	// Velocity stays zero afterwards: acceleration is zero past index 50.
	assert.Equal(t, [3]float64{}, res.Points[85].Velocity)
}

func TestZUPTResetPositionFlag(t *testing.T) {
	accel := make([]float64, 100)
	for i := 0; i < 50; i++ {
		accel[i] = 5.0
	}
	samples := samplesAt100Hz(accel...)
	zupts := []motion.ZUPTPeriod{{StartIndex: 60, EndIndex: 90}}

	res := NewIntegrator(Config{ResetPosition: true}).Integrate(samples, zupts)
	assert.Equal(t, [3]float64{}, res.Points[60].Position)
}

func TestIntegrateSwingIsolated(t *testing.T) {
	// A session with drift before the swing: isolated integration must not
	// inherit it.
	accel := make([]float64, 120)
	for i := 0; i < 60; i++ {
		accel[i] = 3.0 // pre-swing drift source
	}
	for i := 60; i < 90; i++ {
		accel[i] = 10.0
	}
	samples := samplesAt100Hz(accel...)
	seg := motion.Segment{StartIndex: 60, EndIndex: 89}

	g := NewIntegrator(Config{})
	iso := g.IntegrateSwing(samples, seg)
	require.Len(t, iso.Points, 30)
	assert.Equal(t, [3]float64{}, iso.Points[0].Velocity)
	assert.InDelta(t, 0.0, iso.Points[0].T, 1e-12)

	full := g.Integrate(samples, nil)
	assert.Greater(t, full.Points[60].Velocity[0], iso.Points[0].Velocity[0])
}

func TestIntegrateSwingBadRange(t *testing.T) {
	samples := samplesAt100Hz(1, 2, 3)
	g := NewIntegrator(Config{})
	if diff := cmp.Diff(Result{}, g.IntegrateSwing(samples, motion.Segment{StartIndex: 2, EndIndex: 10})); diff != "" {
		t.Fatalf("expected empty result (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Result{}, g.IntegrateSwing(samples, motion.Segment{StartIndex: -1, EndIndex: 1})); diff != "" {
		t.Fatalf("expected empty result (-want +got):\n%s", diff)
	}
}

func TestIntegrateEmptyInput(t *testing.T) {
	res := NewIntegrator(Config{}).Integrate(nil, nil)
	assert.Empty(t, res.Points)
}
