// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package proximity converts raw IR proximity intensities into distances
// using a calibrated breakpoint table.
package proximity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gonum.org/v1/gonum/interp"
)

// OutOfRange is returned for intensities the table cannot bracket
// (no obstacle detected).
const OutOfRange = 100.0

// Breakpoint is one calibration row: the intensity measured with an obstacle
// at Distance metres from the sensor.
type Breakpoint struct {
	Distance  float64 `json:"distance"`
	Intensity float64 `json:"intensity"`
}

// DefaultTable is the factory calibration, nearest obstacle first.
// The first segment (0 m at 4095 to 5 mm at 2133) has not been validated on
// hardware; readings above ~2100 are treated as contact.
var DefaultTable = []Breakpoint{
	{0, 4095},
	{0.005, 2133.33},
	{0.01, 1465.73},
	{0.015, 601.46},
	{0.02, 383.84},
	{0.03, 234.93},
	{0.04, 158.03},
	{0.05, 120},
	{0.06, 104.09},
	{0.07, 67.19},
	{0.1, 0.0},
}

var ErrTable = errors.New("proximity: invalid breakpoint table")

// Model interpolates distance linearly in intensity space between the two
// breakpoints that bracket a reading. It is immutable after construction and
// safe for concurrent use.
type Model struct {
	table []Breakpoint
	pl    interp.PiecewiseLinear
}

// NewModel validates the table (at least two rows, intensity strictly
// decreasing as distance grows) and fits the interpolator.
func NewModel(table []Breakpoint) (*Model, error) {
	if len(table) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 rows, got %d", ErrTable, len(table))
	}
	for i := 1; i < len(table); i++ {
		if !(table[i].Intensity < table[i-1].Intensity) {
			return nil, fmt.Errorf("%w: row %d intensity %.2f is not below row %d intensity %.2f",
				ErrTable, i, table[i].Intensity, i-1, table[i-1].Intensity)
		}
	}

	// interp wants increasing abscissae, so feed the table far-to-near.
	n := len(table)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, bp := range table {
		xs[n-1-i] = bp.Intensity
		ys[n-1-i] = bp.Distance
	}

	m := &Model{table: append([]Breakpoint(nil), table...)}
	if err := m.pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTable, err)
	}
	return m, nil
}

// MustModel is NewModel for tables known to be valid at compile time.
func MustModel(table []Breakpoint) *Model {
	m, err := NewModel(table)
	if err != nil {
		panic(err)
	}
	return m
}

// Distance returns the distance in metres for a raw intensity. A reading is
// bracketed when nearest.Intensity >= raw > farthest.Intensity; anything else
// (including NaN) yields OutOfRange.
func (m *Model) Distance(raw float64) float64 {
	near := m.table[0].Intensity
	far := m.table[len(m.table)-1].Intensity
	if !(raw <= near && raw > far) {
		return OutOfRange
	}
	return m.pl.Predict(raw)
}

// Table returns a copy of the breakpoints.
func (m *Model) Table() []Breakpoint {
	return append([]Breakpoint(nil), m.table...)
}

var defaultModel = MustModel(DefaultTable)

// IntensityToDistance converts with the factory table.
func IntensityToDistance(raw float64) float64 {
	return defaultModel.Distance(raw)
}

// Default returns the model built from DefaultTable.
func Default() *Model {
	return defaultModel
}

// TableFile is the on-disk form written by the calibration tool.
type TableFile struct {
	SchemaVersion int          `json:"schema_version"`
	CalibratedAt  string       `json:"calibrated_at"`
	Breakpoints   []Breakpoint `json:"breakpoints"`
}

// LoadModel reads a calibration file and builds a model from it.
func LoadModel(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read distance table: %w", err)
	}
	var tf TableFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse distance table %s: %w", path, err)
	}
	m, err := NewModel(tf.Breakpoints)
	if err != nil {
		return nil, fmt.Errorf("distance table %s: %w", path, err)
	}
	return m, nil
}

// SaveTable writes breakpoints in the format LoadModel expects.
func SaveTable(path string, tf TableFile) error {
	if _, err := NewModel(tf.Breakpoints); err != nil {
		return err
	}
	b, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal distance table: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write distance table: %w", err)
	}
	return nil
}
