package odometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/epuck_driver/internal/kinematics"
)

func TestTrackerFirstUpdateAnchors(t *testing.T) {
	var tr Tracker
	p := tr.Update(500, -300)
	assert.Equal(t, Pose{}, p)
}

func TestTrackerStraight(t *testing.T) {
	var tr Tracker
	tr.Update(0, 0)
	p := tr.Update(1000, 1000)

	circumference := 2 * math.Pi * kinematics.WheelRadius
	assert.InDelta(t, circumference, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-12)
	assert.InDelta(t, 0, p.Theta, 1e-12)
	assert.InDelta(t, circumference, tr.Distance(), 1e-9)
}

func TestTrackerSpinInPlace(t *testing.T) {
	var tr Tracker
	tr.Update(0, 0)

	// Quarter turn left: the wheels travel equal arcs in opposite directions.
	arc := math.Pi / 2 * kinematics.WheelDistance / 2
	steps := int16(math.Round(arc / kinematics.StepDistance))
	p := tr.Update(-steps, steps)

	assert.InDelta(t, 0, p.X, 1e-9)
	assert.InDelta(t, 0, p.Y, 1e-9)
	assert.InDelta(t, math.Pi/2, p.Theta, 0.01)
	assert.InDelta(t, 0, tr.Distance(), 1e-12)
}

func TestTrackerCounterWrap(t *testing.T) {
	var tr Tracker
	tr.Update(32760, 32760)
	p := tr.Update(-32766, -32766) // +10 steps across the wrap

	assert.InDelta(t, 10*kinematics.StepDistance, p.X, 1e-12)
}

func TestTrackerReset(t *testing.T) {
	var tr Tracker
	tr.Update(0, 0)
	tr.Update(100, 100)
	tr.Reset()
	assert.Equal(t, Pose{}, tr.Pose())
	assert.Equal(t, Pose{}, tr.Update(7, 7))
}

func TestWrap(t *testing.T) {
	assert.InDelta(t, -math.Pi/2, wrap(3*math.Pi/2), 1e-12)
	assert.InDelta(t, math.Pi, wrap(math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, wrap(-math.Pi), 1e-12)
	assert.InDelta(t, 0.5, wrap(0.5+4*math.Pi), 1e-12)
}
