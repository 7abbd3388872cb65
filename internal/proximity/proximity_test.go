package proximity

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntensityToDistanceBreakpoints(t *testing.T) {
	// Every row except the farthest (its intensity is the open lower bound)
	// maps back to its own distance.
	for _, bp := range DefaultTable[:len(DefaultTable)-1] {
		assert.InDelta(t, bp.Distance, IntensityToDistance(bp.Intensity), 1e-9, "intensity %.2f", bp.Intensity)
	}
}

func TestIntensityToDistanceContact(t *testing.T) {
	assert.Equal(t, 0.0, IntensityToDistance(4095))
}

func TestIntensityToDistanceOutOfRange(t *testing.T) {
	for _, raw := range []float64{0, -1, 4096, 65535, math.NaN(), math.Inf(1)} {
		assert.Equal(t, OutOfRange, IntensityToDistance(raw), "raw %v", raw)
	}
}

func TestIntensityToDistanceInterpolates(t *testing.T) {
	// Midway between (0.05, 120) and (0.06, 104.09).
	mid := (120 + 104.09) / 2
	assert.InDelta(t, 0.055, IntensityToDistance(mid), 1e-9)

	// Just above the far end of the table.
	assert.InDelta(t, 0.1, IntensityToDistance(1e-9), 1e-9)
}

func TestIntensityToDistanceMonotone(t *testing.T) {
	prev := IntensityToDistance(1)
	for x := 2; x <= 4095; x++ {
		d := IntensityToDistance(float64(x))
		require.LessOrEqual(t, d, prev, "distance rose between %d and %d", x-1, x)
		require.GreaterOrEqual(t, d, 0.0)
		require.LessOrEqual(t, d, 0.1)
		prev = d
	}
}

func TestNewModelRejectsBadTables(t *testing.T) {
	tests := []struct {
		name  string
		table []Breakpoint
	}{
		{"empty", nil},
		{"single row", []Breakpoint{{0, 4095}}},
		{"flat", []Breakpoint{{0, 100}, {0.01, 100}}},
		{"rising", []Breakpoint{{0, 100}, {0.01, 200}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.table)
			assert.True(t, errors.Is(err, ErrTable), "got %v", err)
		})
	}
}

func TestModelTableIsCopy(t *testing.T) {
	m := MustModel(DefaultTable)
	tbl := m.Table()
	tbl[0].Intensity = 1
	assert.Equal(t, 4095.0, m.Table()[0].Intensity)
}

func TestSaveLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.json")
	tf := TableFile{
		SchemaVersion: 1,
		CalibratedAt:  "2026-01-02T03:04:05Z",
		Breakpoints:   []Breakpoint{{0.01, 2000}, {0.02, 1000}, {0.05, 100}},
	}
	require.NoError(t, SaveTable(path, tf))

	m, err := LoadModel(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.015, m.Distance(1500), 1e-9)
	assert.Equal(t, OutOfRange, m.Distance(2001))
	assert.Equal(t, OutOfRange, m.Distance(100))
}

func TestSaveTableRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	err := SaveTable(path, TableFile{Breakpoints: []Breakpoint{{0.01, 10}, {0.02, 20}}})
	assert.True(t, errors.Is(err, ErrTable))
	assert.NoFileExists(t, path)
}

func TestLoadModelMissingFile(t *testing.T) {
	_, err := LoadModel(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
