// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package kinematics converts body velocity commands into wheel speed
// registers for the differential-drive base.
package kinematics

import "math"

// Platform constants for the e-puck2 base.
const (
	WheelDistance = 0.05685 // m, between wheel contact points
	WheelRadius   = 0.02    // m

	// SpeedStep is the wheel speed represented by one register count.
	SpeedStep = 0.0068

	// MaxRegister is the largest magnitude the motor controller accepts.
	MaxRegister = 1108

	// StepsPerRevolution is the stepper motor resolution reported by the
	// wheel step counters.
	StepsPerRevolution = 1000
)

// StepDistance is the wheel travel of one motor step, in metres.
const StepDistance = 2 * math.Pi * WheelRadius / StepsPerRevolution

// WheelSpeeds returns the left and right wheel angular velocities (rad/s)
// for a forward velocity (m/s) and yaw rate (rad/s).
func WheelSpeeds(linearX, angularZ float64) (left, right float64) {
	left = (2*linearX - angularZ*WheelDistance) / (2 * WheelRadius)
	right = (2*linearX + angularZ*WheelDistance) / (2 * WheelRadius)
	return left, right
}

// CmdToRegisters converts a twist into saturated left/right speed registers.
// Out-of-range commands are clipped, never rejected. NaN maps to 0.
func CmdToRegisters(linearX, angularZ float64) (left, right int16) {
	l, r := WheelSpeeds(linearX, angularZ)
	return toRegister(l), toRegister(r)
}

func toRegister(wheel float64) int16 {
	v := wheel / SpeedStep
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-MaxRegister, math.Min(MaxRegister, v))
	// Truncate toward zero like the firmware-side integer conversion.
	return int16(v)
}
