package driver

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/epuck_driver/internal/bus"
	"github.com/relabs-tech/epuck_driver/internal/frame"
	"github.com/relabs-tech/epuck_driver/internal/proximity"
	"github.com/relabs-tech/epuck_driver/internal/scan"
	"github.com/relabs-tech/epuck_driver/internal/twist"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// sensorFrame builds a valid 47-byte frame with the given proximity values.
func sensorFrame(prox [frame.ProximityCount]uint16) []byte {
	b := make([]byte, frame.SensorSize)
	for i, v := range prox {
		binary.LittleEndian.PutUint16(b[i*2:], v)
	}
	b[frame.SensorSize-1] = frame.Checksum(b[:frame.SensorSize-1])
	return b
}

func uniform(v uint16) [frame.ProximityCount]uint16 {
	var p [frame.ProximityCount]uint16
	for i := range p {
		p[i] = v
	}
	return p
}

func TestOnCommandStraight(t *testing.T) {
	s := NewState(Options{})
	left, right := s.OnCommand(twist.Twist{LinearX: 0.1})

	assert.Equal(t, left, right)
	assert.Positive(t, left)

	a := s.Actuator()
	assert.Equal(t, a[0:2], a[2:4], "left and right registers must encode identically")
	assert.Equal(t, uint16(left), binary.LittleEndian.Uint16(a[0:2]))
}

func TestOnCommandZero(t *testing.T) {
	s := NewState(Options{})
	s.OnCommand(twist.Twist{LinearX: 0.1})
	s.OnCommand(twist.Twist{})
	a := s.Actuator()
	assert.Equal(t, []byte{0, 0, 0, 0}, a[0:4])
	assert.Equal(t, uint64(2), s.Stats().Commands)
}

func TestOnTickGood(t *testing.T) {
	s := NewState(Options{})
	s.OnCommand(twist.Twist{LinearX: 0.1})

	f := &bus.Fake{Reads: []bus.FakeRead{{Data: sensorFrame(uniform(4095))}}}
	res, err := s.OnTick(f, &fixedClock{t0})
	require.NoError(t, err)

	require.True(t, res.Publish)
	assert.False(t, res.Scan.Stale)
	assert.Equal(t, t0, res.Scan.Stamp)
	assert.Equal(t, uint64(1), res.Scan.Seq)
	assert.Equal(t, "laser_scanner", res.Scan.FrameID)
	assert.InDelta(t, 0.064, res.Scan.ScanTime, 1e-12)
	require.Len(t, res.Scan.Ranges, scan.Points)
	for _, r := range res.Scan.Ranges {
		assert.InDelta(t, scan.SensorOffset, r, 1e-12)
	}

	assert.Equal(t, []uint16{DefaultAddr}, f.Selects())
	writes := f.Writes()
	require.Len(t, writes, 1)
	require.Len(t, writes[0], frame.ActuatorSize)
	a := s.Actuator()
	assert.Equal(t, a[:], writes[0])

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Equal(t, uint64(1), st.Good)
}

func TestOnTickShortReadPublishesNothing(t *testing.T) {
	s := NewState(Options{})
	f := &bus.Fake{Reads: []bus.FakeRead{
		{Data: sensorFrame(uniform(4095))},
		{Data: sensorFrame(uniform(500))[:10]},
	}}
	clk := &fixedClock{t0}

	_, err := s.OnTick(f, clk)
	require.NoError(t, err)
	before := s.Sensor()

	clk.t = t0.Add(64 * time.Millisecond)
	res, err := s.OnTick(f, clk)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bus.ErrShortRead))
	assert.False(t, res.Publish)
	assert.Empty(t, res.Scan.Ranges)

	// The partial frame never reaches the decoded sensor state.
	assert.Equal(t, before, s.Sensor())
	assert.Equal(t, uint16(4095), s.Sensor().Proximity[0])

	st := s.Stats()
	assert.Equal(t, uint64(1), st.ShortReads)
	assert.Equal(t, uint64(1), st.Stale)
}

func TestOnTickRepublishStale(t *testing.T) {
	s := NewState(Options{StalePolicy: StaleRepublish})
	f := &bus.Fake{Reads: []bus.FakeRead{{Data: make([]byte, 10)}}}

	// No good tick yet: nothing to republish.
	res, err := s.OnTick(f, &fixedClock{t0})
	require.Error(t, err)
	assert.False(t, res.Publish)

	f = &bus.Fake{Reads: []bus.FakeRead{
		{Data: sensorFrame(uniform(120))},
		{Data: make([]byte, 10)},
	}}
	good, err := s.OnTick(f, &fixedClock{t0})
	require.NoError(t, err)

	later := t0.Add(time.Second)
	res, err = s.OnTick(f, &fixedClock{later})
	require.Error(t, err)
	require.True(t, res.Publish)
	assert.True(t, res.Scan.Stale)
	assert.Equal(t, later, res.Scan.Stamp)
	assert.Equal(t, good.Scan.Seq, res.Scan.Seq)
	assert.Equal(t, good.Scan.Ranges, res.Scan.Ranges)
	assert.InDelta(t, 0.05+scan.SensorOffset, res.Scan.Ranges[0], 1e-9)
}

func TestOnTickSelectFailure(t *testing.T) {
	s := NewState(Options{})
	f := &bus.Fake{SelectErr: errors.New("no such device")}

	res, err := s.OnTick(f, &fixedClock{t0})
	require.Error(t, err)
	assert.False(t, res.Publish)
	assert.Empty(t, f.Writes())
	assert.Equal(t, uint64(1), s.Stats().SetupErrors)

	// Next tick retries without any extra state.
	f.SelectErr = nil
	f.Reads = []bus.FakeRead{{Data: sensorFrame(uniform(0))}}
	res, err = s.OnTick(f, &fixedClock{t0})
	require.NoError(t, err)
	assert.True(t, res.Publish)
	assert.InDelta(t, proximity.OutOfRange+scan.SensorOffset, res.Scan.Ranges[0], 1e-9)
}

func TestOnTickReadError(t *testing.T) {
	s := NewState(Options{})
	f := &bus.Fake{Reads: []bus.FakeRead{{Err: errors.New("input/output error")}}}

	res, err := s.OnTick(f, &fixedClock{t0})
	require.Error(t, err)
	assert.False(t, res.Publish)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Stale)
	assert.Equal(t, uint64(1), st.ReadErrors)
	assert.Zero(t, st.ShortReads)
	assert.Zero(t, st.SetupErrors)
}

func TestOnTickChecksum(t *testing.T) {
	s := NewState(Options{Checksum: true, Addr: 0x20})
	s.OnCommand(twist.Twist{LinearX: 0.05, AngularZ: 1})

	bad := sensorFrame(uniform(300))
	bad[46] ^= 0xFF
	f := &bus.Fake{Reads: []bus.FakeRead{{Data: bad}}}

	res, err := s.OnTick(f, &fixedClock{t0})
	assert.True(t, errors.Is(err, frame.ErrChecksum))
	assert.False(t, res.Publish)
	assert.Equal(t, uint64(1), s.Stats().ChecksumErrors)
	assert.Equal(t, []uint16{0x20}, f.Selects())

	// The transmitted frame carries its XOR checksum; the stored one does not.
	w := f.Writes()[0]
	assert.Equal(t, byte(0), frame.Checksum(w))
	a := s.Actuator()
	assert.Equal(t, byte(0), a[frame.ActuatorSize-1])
}

func TestParseStalePolicy(t *testing.T) {
	p, err := ParseStalePolicy("")
	require.NoError(t, err)
	assert.Equal(t, StaleSkip, p)

	p, err = ParseStalePolicy("republish")
	require.NoError(t, err)
	assert.Equal(t, StaleRepublish, p)

	_, err = ParseStalePolicy("zero")
	assert.Error(t, err)
}
