// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package scan turns the eight proximity sensors on the robot's ring into a
// laser-scan shaped distance profile.
package scan

import (
	"math"
	"time"

	"github.com/relabs-tech/epuck_driver/internal/frame"
	"github.com/relabs-tech/epuck_driver/internal/proximity"
)

const (
	// Points is the number of bearings in a scan, -150° to +150° in 15° steps.
	Points = 21

	// SensorOffset is the distance from the robot centre to a sensor face.
	SensorOffset = 0.035

	sensorMinRange = 0.005
	sensorMaxRange = 0.05
)

var (
	AngleMin       = -150 * math.Pi / 180
	AngleMax       = 150 * math.Pi / 180
	AngleIncrement = 15 * math.Pi / 180
	RangeMin       = sensorMinRange + SensorOffset
	RangeMax       = sensorMaxRange + SensorOffset
)

// Scan is the published distance profile. Ranges[0] is at AngleMin.
type Scan struct {
	FrameID        string    `json:"frame_id"`
	Stamp          time.Time `json:"stamp"`
	Seq            uint64    `json:"seq"`
	AngleMin       float64   `json:"angle_min"`
	AngleMax       float64   `json:"angle_max"`
	AngleIncrement float64   `json:"angle_increment"`
	ScanTime       float64   `json:"scan_time"`
	RangeMin       float64   `json:"range_min"`
	RangeMax       float64   `json:"range_max"`
	Ranges         []float64 `json:"ranges"`
	Stale          bool      `json:"stale,omitempty"`
}

// tap blends two sensors: w*d[a] + (1-w)*d[b]. Exact bearings use w = 1.
type tap struct {
	a, b int
	w    float64
}

// Sensor bearings on the ring: 0:+15° 1:+45° 2:+90° 3:+150°
// 4:-150° 5:-90° 6:-45° 7:-15°. There is no sensor straight ahead.
var taps = [Points]tap{
	{4, 4, 1},       // -150
	{4, 5, 3.0 / 4}, // -135
	{4, 5, 2.0 / 4}, // -120
	{4, 5, 1.0 / 4}, // -105
	{5, 5, 1},       // -90
	{5, 6, 2.0 / 3}, // -75
	{5, 6, 1.0 / 3}, // -60
	{6, 6, 1},       // -45
	{6, 7, 1.0 / 2}, // -30
	{7, 7, 1},       // -15
	{7, 0, 1.0 / 2}, // 0
	{0, 0, 1},       // 15
	{0, 1, 1.0 / 2}, // 30
	{1, 1, 1},       // 45
	{1, 2, 2.0 / 3}, // 60
	{1, 2, 1.0 / 3}, // 75
	{2, 2, 1},       // 90
	{2, 3, 3.0 / 4}, // 105
	{2, 3, 2.0 / 4}, // 120
	{2, 3, 1.0 / 4}, // 135
	{3, 3, 1},       // 150
}

// Build maps eight sensor distances onto the 21 uniform bearings.
func Build(d [frame.ProximityCount]float64) [Points]float64 {
	var out [Points]float64
	for i, t := range taps {
		if t.w == 1 {
			out[i] = d[t.a]
			continue
		}
		out[i] = t.w*d[t.a] + (1-t.w)*d[t.b]
	}
	return out
}

// Distances converts raw intensities into centre-relative distances.
func Distances(m *proximity.Model, raw [frame.ProximityCount]uint16) [frame.ProximityCount]float64 {
	var d [frame.ProximityCount]float64
	for i, v := range raw {
		d[i] = m.Distance(float64(v)) + SensorOffset
	}
	return d
}

// Assembler builds complete scan messages with a fixed metadata envelope.
type Assembler struct {
	FrameID string
	Period  time.Duration
	Model   *proximity.Model
}

// Assemble converts one proximity sample set into a scan stamped at stamp.
func (a Assembler) Assemble(raw [frame.ProximityCount]uint16, stamp time.Time, seq uint64) Scan {
	m := a.Model
	if m == nil {
		m = proximity.Default()
	}
	ranges := Build(Distances(m, raw))
	return Scan{
		FrameID:        a.FrameID,
		Stamp:          stamp,
		Seq:            seq,
		AngleMin:       AngleMin,
		AngleMax:       AngleMax,
		AngleIncrement: AngleIncrement,
		ScanTime:       a.Period.Seconds(),
		RangeMin:       RangeMin,
		RangeMax:       RangeMax,
		Ranges:         ranges[:],
	}
}

// Bearing returns the angle in radians of range index i.
func Bearing(i int) float64 {
	return AngleMin + float64(i)*AngleIncrement
}

// Nearest returns the index and value of the shortest range in s.
// ok is false when every bearing is beyond RangeMax.
func Nearest(s Scan) (idx int, dist float64, ok bool) {
	idx, dist = -1, math.Inf(1)
	for i, r := range s.Ranges {
		if r < dist {
			idx, dist = i, r
		}
	}
	return idx, dist, idx >= 0 && dist <= s.RangeMax
}
