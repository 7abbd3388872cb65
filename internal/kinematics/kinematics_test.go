package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCmdToRegistersZero(t *testing.T) {
	l, r := CmdToRegisters(0, 0)
	assert.Equal(t, int16(0), l)
	assert.Equal(t, int16(0), r)
}

func TestCmdToRegistersStraight(t *testing.T) {
	l, r := CmdToRegisters(0.1, 0)
	assert.Equal(t, l, r)
	assert.Positive(t, l)
	// 0.1 m/s / 0.02 m = 5 rad/s; 5 / 0.0068 = 735.29
	assert.Equal(t, int16(735), l)
}

func TestCmdToRegistersTurnInPlace(t *testing.T) {
	l, r := CmdToRegisters(0, 1.0)
	assert.Equal(t, -l, r)
	assert.Negative(t, l)
	// 0.05685 / 0.04 / 0.0068 = 209.0
	assert.InDelta(t, 209, float64(r), 1)
}

func TestCmdToRegistersSaturates(t *testing.T) {
	inputs := [][2]float64{
		{10, 0},
		{-10, 0},
		{0, 500},
		{0, -500},
		{1e300, -1e300},
		{math.Inf(1), 0},
		{math.Inf(-1), math.Inf(1)},
		{0.15, 3},
		{math.NaN(), 0},
	}
	for _, in := range inputs {
		l, r := CmdToRegisters(in[0], in[1])
		assert.LessOrEqual(t, int(l), MaxRegister, "left for %v", in)
		assert.GreaterOrEqual(t, int(l), -MaxRegister, "left for %v", in)
		assert.LessOrEqual(t, int(r), MaxRegister, "right for %v", in)
		assert.GreaterOrEqual(t, int(r), -MaxRegister, "right for %v", in)
	}

	l, r := CmdToRegisters(10, 0)
	assert.Equal(t, int16(MaxRegister), l)
	assert.Equal(t, int16(MaxRegister), r)

	l, r = CmdToRegisters(-10, 0)
	assert.Equal(t, int16(-MaxRegister), l)
	assert.Equal(t, int16(-MaxRegister), r)
}

func TestWheelSpeeds(t *testing.T) {
	l, r := WheelSpeeds(0.05, 0.5)
	assert.InDelta(t, (0.1-0.5*WheelDistance)/0.04, l, 1e-12)
	assert.InDelta(t, (0.1+0.5*WheelDistance)/0.04, r, 1e-12)
}
