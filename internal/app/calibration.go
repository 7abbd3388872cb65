// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/epuck_driver/internal/bus"
	"github.com/relabs-tech/epuck_driver/internal/config"
	"github.com/relabs-tech/epuck_driver/internal/driver"
	"github.com/relabs-tech/epuck_driver/internal/frame"
	"github.com/relabs-tech/epuck_driver/internal/proximity"
)

const (
	// Readings closer than this are treated as noise-free enough for a
	// "good" point; above stdBad confidence drops to the floor.
	stdGood   = 5.0
	stdBad    = 40.0
	confFloor = 0.05
)

// CalibrationPoint is the capture at one obstacle distance.
type CalibrationPoint struct {
	Distance   float64 `json:"distance"`
	Samples    int     `json:"samples"`
	Failed     int     `json:"failed_ticks"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stddev"`
	Confidence float64 `json:"confidence"`
}

// CalibrationSession runs the MCU exchange with the wheels stopped and
// collects raw proximity intensities from the chosen sensors.
type CalibrationSession struct {
	state   *driver.State
	tr      bus.Transport
	sensors []int
	clock   driver.Clock

	// wait blocks for one tick period; replaced in tests.
	wait func(ctx context.Context) error
}

// NewCalibrationSession averages over sensors (indices into the proximity
// array, typically the two front-facing ones).
func NewCalibrationSession(tr bus.Transport, opts driver.Options, sensors []int) (*CalibrationSession, error) {
	if len(sensors) == 0 {
		return nil, errors.New("calibration: no sensors selected")
	}
	for _, s := range sensors {
		if s < 0 || s >= frame.ProximityCount {
			return nil, fmt.Errorf("calibration: sensor index %d out of range 0-%d", s, frame.ProximityCount-1)
		}
	}
	state := driver.NewState(opts)
	period := opts.Period
	if period <= 0 {
		period = driver.DefaultPeriod
	}
	return &CalibrationSession{
		state:   state,
		tr:      tr,
		sensors: sensors,
		clock:   driver.SystemClock,
		wait: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(period):
				return nil
			}
		},
	}, nil
}

// Capture collects n good ticks. It gives up after 3n failed exchanges.
func (s *CalibrationSession) Capture(ctx context.Context, distance float64, n int) (CalibrationPoint, error) {
	values := make([]float64, 0, n*len(s.sensors))
	pt := CalibrationPoint{Distance: distance}

	for pt.Samples < n {
		if err := s.wait(ctx); err != nil {
			return pt, err
		}
		if _, err := s.state.OnTick(s.tr, s.clock); err != nil {
			pt.Failed++
			if pt.Failed > 3*n {
				return pt, fmt.Errorf("calibration: too many failed exchanges: %w", err)
			}
			continue
		}
		prox := s.state.Sensor().Proximity
		for _, i := range s.sensors {
			values = append(values, float64(prox[i]))
		}
		pt.Samples++
	}

	pt.Mean, pt.StdDev = stat.MeanStdDev(values, nil)
	if math.IsNaN(pt.StdDev) {
		pt.StdDev = 0
	}
	pt.Confidence = noiseConfidence(pt.StdDev)
	return pt, nil
}

// noiseConfidence maps spread to [confFloor, 1], linear between stdGood and stdBad.
func noiseConfidence(std float64) float64 {
	switch {
	case std <= stdGood:
		return 1
	case std >= stdBad:
		return confFloor
	}
	c := 1 - (std-stdGood)/(stdBad-stdGood)
	return math.Max(c, confFloor)
}

// BuildTable turns captured points, nearest first, into a breakpoint table.
// The contact row of the factory table is kept, and the far row too when
// its distance lies beyond the last capture.
func BuildTable(points []CalibrationPoint) ([]proximity.Breakpoint, error) {
	factory := proximity.DefaultTable
	contact, far := factory[0], factory[len(factory)-1]

	table := []proximity.Breakpoint{contact}
	for _, p := range points {
		table = append(table, proximity.Breakpoint{Distance: p.Distance, Intensity: p.Mean})
	}
	if len(points) == 0 || points[len(points)-1].Distance < far.Distance {
		table = append(table, far)
	}
	if _, err := proximity.NewModel(table); err != nil {
		return nil, err
	}
	return table, nil
}

// CalibrationOptions configures RunCalibration.
type CalibrationOptions struct {
	Distances []float64 // obstacle distances to capture, nearest first
	Sensors   []int
	Samples   int
	Output    string
}

// DefaultCalibrationDistances are the interior rows of the factory table.
func DefaultCalibrationDistances() []float64 {
	t := proximity.DefaultTable
	d := make([]float64, 0, len(t)-2)
	for _, bp := range t[1 : len(t)-1] {
		d = append(d, bp.Distance)
	}
	return d
}

// RunCalibration guides the operator through one capture per distance on in
// and out, then writes the table to opts.Output.
func RunCalibration(ctx context.Context, in io.Reader, out io.Writer, opts CalibrationOptions) error {
	cfg := config.Get()

	dopts, err := driverOptions(cfg)
	if err != nil {
		return err
	}

	tr, err := bus.Open(cfg.I2CTransport, cfg.I2CBus)
	if err != nil {
		return err
	}
	defer tr.Close()

	sess, err := NewCalibrationSession(tr, dopts, opts.Sensors)
	if err != nil {
		return err
	}
	return sess.guide(ctx, bufio.NewReader(in), out, opts)
}

func (s *CalibrationSession) guide(ctx context.Context, in *bufio.Reader, out io.Writer, opts CalibrationOptions) error {
	fmt.Fprintf(out, "Sensors %v, %d samples per distance.\n", opts.Sensors, opts.Samples)
	fmt.Fprintln(out, "Place a flat, light-coloured obstacle square to the sensors at each prompted distance.")

	points := make([]CalibrationPoint, 0, len(opts.Distances))
	for i := 0; i < len(opts.Distances); {
		d := opts.Distances[i]
		fmt.Fprintf(out, "\nStep %d/%d: obstacle at %.1f mm. Press ENTER to capture...", i+1, len(opts.Distances), d*1000)
		if _, err := in.ReadString('\n'); err != nil {
			return fmt.Errorf("calibration: reading input: %w", err)
		}

		pt, err := s.Capture(ctx, d, opts.Samples)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "mean=%.1f stddev=%.1f confidence=%.2f (%d failed ticks)\n",
			pt.Mean, pt.StdDev, pt.Confidence, pt.Failed)

		if reason := misfit(pt, points); reason != "" {
			fmt.Fprintf(out, "%s. Retaking.\n", reason)
			continue
		}
		if pt.Confidence < 0.5 && !confirm(in, out, "Noisy capture, keep it? [y/N] ") {
			continue
		}
		points = append(points, pt)
		i++
	}

	table, err := BuildTable(points)
	if err != nil {
		return err
	}
	tf := proximity.TableFile{
		SchemaVersion: 1,
		CalibratedAt:  time.Now().Format(time.RFC3339),
		Breakpoints:   table,
	}
	if err := proximity.SaveTable(opts.Output, tf); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSaved %d breakpoints to %s. Set DISTANCE_TABLE_FILE=%s to use it.\n",
		len(table), opts.Output, opts.Output)
	return nil
}

// misfit explains why pt cannot follow points in a table BuildTable would
// accept, or returns "" when it fits.
func misfit(pt CalibrationPoint, points []CalibrationPoint) string {
	factory := proximity.DefaultTable
	contact, far := factory[0], factory[len(factory)-1]

	if pt.Mean >= contact.Intensity {
		return fmt.Sprintf("Sensor saturated at %.1f mm (%.1f)", pt.Distance*1000, pt.Mean)
	}
	if n := len(points); n > 0 && pt.Mean >= points[n-1].Mean {
		return fmt.Sprintf("Intensity did not drop from %.1f mm (%.1f)",
			points[n-1].Distance*1000, points[n-1].Mean)
	}
	if pt.Distance < far.Distance && pt.Mean <= far.Intensity {
		return fmt.Sprintf("No reflection at %.1f mm (%.1f)", pt.Distance*1000, pt.Mean)
	}
	return ""
}

func confirm(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := in.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}
