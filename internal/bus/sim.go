// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package bus

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/epuck_driver/internal/frame"
)

// simBearings are the proximity sensor directions, radians counter-clockwise
// from forward.
var simBearings = [frame.ProximityCount]float64{
	15 * math.Pi / 180, 45 * math.Pi / 180, 90 * math.Pi / 180, 150 * math.Pi / 180,
	-150 * math.Pi / 180, -90 * math.Pi / 180, -45 * math.Pi / 180, -15 * math.Pi / 180,
}

const (
	simOrbitRate = 0.5    // rad/s of the simulated obstacle around the robot
	simPeak      = 1500.0 // intensity straight at the obstacle
	simAmbient   = 3000
)

// Sim is a Transport that stands in for the robot's MCU: an obstacle circles
// the robot, and the step counters follow the last wheel speeds written
// (one register count is one step per second).
type Sim struct {
	mu sync.Mutex

	now   func() time.Time
	start time.Time
	last  time.Time

	left, right  int16
	stepL, stepR float64
	closed       bool
}

func NewSim() *Sim {
	return newSimAt(time.Now)
}

func newSimAt(now func() time.Time) *Sim {
	t := now()
	return &Sim{now: now, start: t, last: t}
}

var errSimClosed = errors.New("bus: sim closed")

func (s *Sim) SelectTarget(addr uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSimClosed
	}
	return nil
}

func (s *Sim) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSimClosed
	}
	if len(b) < 4 {
		return 0, ErrShortWrite
	}
	s.advance()
	s.left = int16(binary.LittleEndian.Uint16(b[0:2]))
	s.right = int16(binary.LittleEndian.Uint16(b[2:4]))
	return len(b), nil
}

func (s *Sim) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSimClosed
	}
	s.advance()

	out := make([]byte, frame.SensorSize)
	obstacle := math.Mod(s.last.Sub(s.start).Seconds()*simOrbitRate, 2*math.Pi)
	for i, bearing := range simBearings {
		d := math.Remainder(bearing-obstacle, 2*math.Pi)
		v := simPeak * math.Cos(1.5*d)
		if v < 0 {
			v = 0
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
		binary.LittleEndian.PutUint16(out[16+2*i:], simAmbient)
	}
	binary.LittleEndian.PutUint16(out[41:], uint16(int64(math.Round(s.stepL))))
	binary.LittleEndian.PutUint16(out[43:], uint16(int64(math.Round(s.stepR))))
	out[frame.SensorSize-1] = frame.Checksum(out[:frame.SensorSize-1])

	return copy(b, out), nil
}

// advance integrates the step counters up to now.
func (s *Sim) advance() {
	t := s.now()
	dt := t.Sub(s.last).Seconds()
	s.last = t
	s.stepL += float64(s.left) * dt
	s.stepR += float64(s.right) * dt
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sim) String() string { return "sim" }
