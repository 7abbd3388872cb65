// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package driver runs the periodic exchange with the robot's main
// microcontroller: it packs the latest velocity command into the actuator
// frame, performs one I2C transaction per tick and turns the returned
// proximity readings into a scan.
package driver

import (
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/epuck_driver/internal/bus"
	"github.com/relabs-tech/epuck_driver/internal/frame"
	"github.com/relabs-tech/epuck_driver/internal/kinematics"
	"github.com/relabs-tech/epuck_driver/internal/proximity"
	"github.com/relabs-tech/epuck_driver/internal/scan"
	"github.com/relabs-tech/epuck_driver/internal/twist"
)

// StalePolicy decides what a failed tick publishes.
type StalePolicy string

const (
	// StaleSkip publishes nothing for a failed tick.
	StaleSkip StalePolicy = "skip"
	// StaleRepublish re-emits the last good scan marked Stale, stamped with
	// the failed tick's time. Nothing is published before the first good tick.
	StaleRepublish StalePolicy = "republish"
)

// ParseStalePolicy accepts "skip" or "republish".
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch StalePolicy(s) {
	case StaleSkip, StaleRepublish:
		return StalePolicy(s), nil
	case "":
		return StaleSkip, nil
	}
	return "", fmt.Errorf("invalid stale scan policy %q (want skip or republish)", s)
}

// DefaultAddr is the main MCU's I2C address.
const DefaultAddr = 0x1F

// DefaultPeriod is the exchange interval.
const DefaultPeriod = 64 * time.Millisecond

// Options configures a State.
type Options struct {
	Addr        uint16
	FrameID     string
	Period      time.Duration
	Model       *proximity.Model
	Checksum    bool
	StalePolicy StalePolicy
}

// Clock supplies tick timestamps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Stats counts tick outcomes since start.
type Stats struct {
	Ticks          uint64 `json:"ticks"`
	Good           uint64 `json:"good"`
	Stale          uint64 `json:"stale"`
	SetupErrors    uint64 `json:"setup_errors"`
	ShortReads     uint64 `json:"short_reads"`
	ReadErrors     uint64 `json:"read_errors"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Overruns       uint64 `json:"overruns"`
	Commands       uint64 `json:"commands"`
}

// TickResult is the outcome of one exchange.
type TickResult struct {
	// Publish is set when Scan should be handed to the publisher.
	Publish bool
	Scan    scan.Scan
	// Sensor is only valid when the tick succeeded (Scan.Stale is false).
	Sensor frame.Sensor
}

// State holds everything one driver instance owns between ticks. It is not
// safe for concurrent use; Runner confines it to a single goroutine.
type State struct {
	opts      Options
	assembler scan.Assembler

	actuator frame.Actuator
	rx       [frame.SensorSize]byte

	sensor   frame.Sensor
	last     scan.Scan
	haveLast bool
	seq      uint64

	stats Stats
}

// NewState fills unset options with their defaults.
func NewState(opts Options) *State {
	if opts.Addr == 0 {
		opts.Addr = DefaultAddr
	}
	if opts.Period <= 0 {
		opts.Period = DefaultPeriod
	}
	if opts.FrameID == "" {
		opts.FrameID = "laser_scanner"
	}
	if opts.Model == nil {
		opts.Model = proximity.Default()
	}
	if opts.StalePolicy == "" {
		opts.StalePolicy = StaleSkip
	}
	return &State{
		opts: opts,
		assembler: scan.Assembler{
			FrameID: opts.FrameID,
			Period:  opts.Period,
			Model:   opts.Model,
		},
	}
}

// OnCommand converts a velocity command into wheel registers and stores them
// in the actuator frame for the next tick.
func (s *State) OnCommand(cmd twist.Twist) (left, right int16) {
	left, right = kinematics.CmdToRegisters(cmd.LinearX, cmd.AngularZ)
	s.actuator.SetWheels(left, right)
	s.stats.Commands++
	return left, right
}

// Actuator returns a copy of the current actuator frame.
func (s *State) Actuator() frame.Actuator {
	return s.actuator
}

// Stats returns a copy of the counters.
func (s *State) Stats() Stats {
	return s.stats
}

// Sensor returns the last successfully decoded sensor frame.
func (s *State) Sensor() frame.Sensor {
	return s.sensor
}

// OnTick runs one exchange on t. The sensor state only changes when a full,
// valid frame arrived; a failed exchange returns its error and, depending on
// the stale policy, a stale copy of the previous scan.
func (s *State) OnTick(t bus.Transport, clk Clock) (TickResult, error) {
	s.stats.Ticks++

	tx := s.actuator
	if s.opts.Checksum {
		tx.Seal()
	}

	// Receive into a zeroed scratch buffer so bytes from an earlier frame
	// can never leak into a short one.
	rx := s.rx[:]
	clear(rx)

	_, err := bus.Exchange(t, s.opts.Addr, tx[:], rx)
	stamp := clk.Now()
	if err != nil {
		s.countFailure(err)
		return s.stale(stamp), err
	}

	sensor, err := frame.DecodeSensor(rx, s.opts.Checksum)
	if err != nil {
		s.countFailure(err)
		return s.stale(stamp), err
	}

	s.seq++
	s.sensor = sensor
	s.last = s.assembler.Assemble(sensor.Proximity, stamp, s.seq)
	s.haveLast = true
	s.stats.Good++

	return TickResult{Publish: true, Scan: s.last, Sensor: sensor}, nil
}

func (s *State) countFailure(err error) {
	s.stats.Stale++
	var te *bus.TransactionError
	switch {
	case errors.Is(err, bus.ErrShortRead):
		s.stats.ShortReads++
	case errors.Is(err, frame.ErrChecksum):
		s.stats.ChecksumErrors++
	case errors.As(err, &te) && te.Stage == bus.StageRead:
		s.stats.ReadErrors++
	case errors.As(err, &te):
		s.stats.SetupErrors++
	}
}

func (s *State) stale(stamp time.Time) TickResult {
	if s.opts.StalePolicy != StaleRepublish || !s.haveLast {
		return TickResult{}
	}
	sc := s.last
	sc.Ranges = append([]float64(nil), s.last.Ranges...)
	sc.Stamp = stamp
	sc.Stale = true
	return TickResult{Publish: true, Scan: sc}
}
