package bus

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/epuck_driver/internal/frame"
)

func TestSimObstacleAndSteps(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newSimAt(func() time.Time { return now })

	// Drive left at 100 steps/s and right backwards at 50 steps/s for 2 s.
	var tx frame.Actuator
	tx.SetWheels(100, -50)
	rx := make([]byte, frame.SensorSize)
	_, err := Exchange(s, 0x1F, tx[:], rx)
	require.NoError(t, err)

	// At t=0 the obstacle is straight ahead: the two front sensors see it
	// equally and the rear ones not at all.
	sensor, err := frame.DecodeSensor(rx, true)
	require.NoError(t, err)
	assert.Equal(t, sensor.Proximity[0], sensor.Proximity[7])
	assert.Greater(t, sensor.Proximity[0], uint16(1000))
	assert.Zero(t, sensor.Proximity[3])
	assert.Zero(t, sensor.Proximity[4])
	assert.Equal(t, uint16(simAmbient), sensor.Ambient[2])

	now = now.Add(2 * time.Second)
	_, err = Exchange(s, 0x1F, tx[:], rx)
	require.NoError(t, err)
	assert.Equal(t, int16(200), int16(binary.LittleEndian.Uint16(rx[41:])))
	assert.Equal(t, int16(-100), int16(binary.LittleEndian.Uint16(rx[43:])))

	require.NoError(t, s.Close())
	_, err = Exchange(s, 0x1F, tx[:], rx)
	assert.Error(t, err)
}

func TestOpenSim(t *testing.T) {
	tr, err := Open(KindSim, "")
	require.NoError(t, err)
	defer tr.Close()
	_, ok := tr.(*Sim)
	assert.True(t, ok)
}
