// Package odometry dead-reckons the base pose from the wheel step counters.
package odometry

import (
	"math"

	"github.com/relabs-tech/epuck_driver/internal/kinematics"
)

// Pose is the planar pose relative to where tracking started.
type Pose struct {
	X     float64 `json:"x"`     // m, forward at start
	Y     float64 `json:"y"`     // m, left at start
	Theta float64 `json:"theta"` // rad, (-pi, pi]
}

// Tracker integrates step counter deltas. The counters are 16-bit and wrap;
// deltas are taken modulo 2^16, so a tick must cover less than 32768 steps.
type Tracker struct {
	have         bool
	lastL, lastR int16
	pose         Pose
	distance     float64
}

// Update feeds one pair of counter readings and returns the new pose. The
// first call only records the counters.
func (t *Tracker) Update(left, right int16) Pose {
	if !t.have {
		t.have = true
		t.lastL, t.lastR = left, right
		return t.pose
	}

	dl := float64(left-t.lastL) * kinematics.StepDistance
	dr := float64(right-t.lastR) * kinematics.StepDistance
	t.lastL, t.lastR = left, right

	dc := (dl + dr) / 2
	dth := (dr - dl) / kinematics.WheelDistance

	// Midpoint heading for the translation.
	mid := t.pose.Theta + dth/2
	t.pose.X += dc * math.Cos(mid)
	t.pose.Y += dc * math.Sin(mid)
	t.pose.Theta = wrap(t.pose.Theta + dth)
	t.distance += math.Abs(dc)
	return t.pose
}

// Pose returns the current estimate.
func (t *Tracker) Pose() Pose { return t.pose }

// Distance is the total path length travelled by the centre of the base.
func (t *Tracker) Distance() float64 { return t.distance }

// Reset zeroes the pose; the next Update re-anchors the counters.
func (t *Tracker) Reset() { *t = Tracker{} }

func wrap(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
