// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package driver

import (
	"context"
	"log"
	"time"

	"github.com/relabs-tech/epuck_driver/internal/bus"
	"github.com/relabs-tech/epuck_driver/internal/frame"
	"github.com/relabs-tech/epuck_driver/internal/odometry"
	"github.com/relabs-tech/epuck_driver/internal/scan"
	"github.com/relabs-tech/epuck_driver/internal/twist"
)

// Publisher receives the driver's outbound messages.
type Publisher interface {
	PublishScan(s scan.Scan) error
	PublishTelemetry(t Telemetry) error
}

// Telemetry is the full decoded sensor frame of a good tick.
type Telemetry struct {
	Stamp  time.Time     `json:"stamp"`
	Seq    uint64        `json:"seq"`
	Sensor frame.Sensor  `json:"sensor"`
	Left   int16         `json:"left"`
	Right  int16         `json:"right"`
	Pose   odometry.Pose `json:"pose"`
	Stats  Stats         `json:"stats"`
}

// Runner owns a State and drives it from a single goroutine: commands are
// posted to a one-slot mailbox (latest wins) and applied between ticks, so
// the frames are never touched concurrently.
type Runner struct {
	state *State
	tr    bus.Transport
	pub   Publisher
	clock Clock

	// Telemetry enables PublishTelemetry after each good tick.
	Telemetry bool

	cmds chan twist.Twist
	odom odometry.Tracker

	failStreak uint64
}

// NewRunner wires a state to its transport and publisher.
func NewRunner(state *State, tr bus.Transport, pub Publisher) *Runner {
	return &Runner{
		state: state,
		tr:    tr,
		pub:   pub,
		clock: SystemClock,
		cmds:  make(chan twist.Twist, 1),
	}
}

// Submit posts a command without blocking. If a previous command has not
// been applied yet it is replaced.
func (r *Runner) Submit(cmd twist.Twist) {
	for {
		select {
		case r.cmds <- cmd:
			return
		default:
		}
		select {
		case <-r.cmds:
		default:
		}
	}
}

// Run ticks every period until ctx is cancelled. A tick that overruns the
// period causes the following ticks to be dropped, not queued. On exit the
// wheels are commanded to stop.
func (r *Runner) Run(ctx context.Context) error {
	period := r.state.opts.Period
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Printf("driver: exchanging with 0x%02X every %s", r.state.opts.Addr, period)

	for {
		select {
		case <-ctx.Done():
			r.stop()
			return ctx.Err()

		case cmd := <-r.cmds:
			left, right := r.state.OnCommand(cmd)
			log.Printf("driver: new velocity linear=%.3f angular=%.3f -> left %d right %d",
				cmd.LinearX, cmd.AngularZ, left, right)

		case <-ticker.C:
			start := time.Now()
			r.tick()
			if time.Since(start) > period {
				r.state.stats.Overruns++
			}
		}
	}
}

func (r *Runner) tick() {
	// Apply a command that raced the tick so it goes out in this frame.
	select {
	case cmd := <-r.cmds:
		r.state.OnCommand(cmd)
	default:
	}

	res, err := r.state.OnTick(r.tr, r.clock)
	if err != nil {
		r.failStreak++
		if r.failStreak <= 5 || r.failStreak%100 == 0 {
			log.Printf("driver: tick failed (%d in a row): %v", r.failStreak, err)
		}
	} else {
		if r.failStreak > 5 {
			log.Printf("driver: exchange recovered after %d failed ticks", r.failStreak)
		}
		r.failStreak = 0
		r.odom.Update(res.Sensor.LeftSteps, res.Sensor.RightSteps)
	}

	if res.Publish {
		if perr := r.pub.PublishScan(res.Scan); perr != nil {
			log.Printf("driver: scan publish error: %v", perr)
		}
	}

	if err == nil && r.Telemetry {
		left, right := r.state.actuator.Wheels()
		t := Telemetry{
			Stamp:  res.Scan.Stamp,
			Seq:    res.Scan.Seq,
			Sensor: res.Sensor,
			Left:   left,
			Right:  right,
			Pose:   r.odom.Pose(),
			Stats:  r.state.Stats(),
		}
		if perr := r.pub.PublishTelemetry(t); perr != nil {
			log.Printf("driver: telemetry publish error: %v", perr)
		}
	}
}

func (r *Runner) stop() {
	r.state.OnCommand(twist.Twist{})
	tx := r.state.Actuator()
	if r.state.opts.Checksum {
		tx.Seal()
	}
	if err := r.tr.SelectTarget(r.state.opts.Addr); err != nil {
		log.Printf("driver: stop: %v", err)
		return
	}
	if _, err := r.tr.Write(tx[:]); err != nil {
		log.Printf("driver: stop: %v", err)
		return
	}
	log.Println("driver: wheels stopped")
}

// Stats returns the state's counters. Only call after Run has returned.
func (r *Runner) Stats() Stats {
	return r.state.Stats()
}
