package imu

import "math"

// Vec3 is a sensor axis triple. Units depend on the field: m/s² for
// acceleration, rad/s for rotation rate, µT for magnetic field.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Norm returns the Euclidean magnitude in double precision.
func (v Vec3) Norm() float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

// Quat is a normalized orientation quaternion.
type Quat struct {
	W float32 `json:"w"`
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Sample is one inertial sensor reading. TimestampNs strictly increases
// within a session; Sequence increases by exactly 1 per emitted sample, so
// a gap marks dropped samples. Mag and Orientation are absent on devices
// without the sensor: absent, not zero.
type Sample struct {
	TimestampNs int64 `json:"t_ns"`
	Sequence    int64 `json:"seq"`
	Accel       Vec3  `json:"accel"`
	Gyro        Vec3  `json:"gyro"`
	RawAccel    Vec3  `json:"raw_accel"`
	Mag         *Vec3 `json:"mag,omitempty"`
	Orientation *Quat `json:"orientation,omitempty"`
}

// File purposes registered during finalize. Adding a value requires a
// schema version bump.
const (
	PurposeRaw      = "raw"
	PurposeManifest = "manifest"
	PurposeDevice   = "device"
	PurposeCalib    = "calib"
	PurposeEvents   = "events"
)

func ValidPurpose(p string) bool {
	switch p {
	case PurposeRaw, PurposeManifest, PurposeDevice, PurposeCalib, PurposeEvents:
		return true
	}
	return false
}
