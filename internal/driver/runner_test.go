package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/epuck_driver/internal/bus"
	"github.com/relabs-tech/epuck_driver/internal/frame"
	"github.com/relabs-tech/epuck_driver/internal/kinematics"
	"github.com/relabs-tech/epuck_driver/internal/scan"
	"github.com/relabs-tech/epuck_driver/internal/twist"
)

type recordingPublisher struct {
	mu        sync.Mutex
	scans     []scan.Scan
	telemetry []Telemetry
}

func (p *recordingPublisher) PublishScan(s scan.Scan) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scans = append(p.scans, s)
	return nil
}

func (p *recordingPublisher) PublishTelemetry(t Telemetry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.telemetry = append(p.telemetry, t)
	return nil
}

func (p *recordingPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scans), len(p.telemetry)
}

func TestRunnerPublishesAndStops(t *testing.T) {
	s := NewState(Options{Period: 2 * time.Millisecond})
	f := &bus.Fake{Reads: []bus.FakeRead{{Data: sensorFrame(uniform(4095))}}}
	pub := &recordingPublisher{}
	r := NewRunner(s, f, pub)
	r.Telemetry = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Submit(twist.Twist{LinearX: 0.1})

	require.Eventually(t, func() bool {
		n, m := pub.counts()
		return n >= 3 && m >= 3
	}, 2*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		for _, w := range f.Writes() {
			if w[0] != 0 || w[1] != 0 {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "command never reached the bus")

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	writes := f.Writes()
	last := writes[len(writes)-1]
	require.Len(t, last, frame.ActuatorSize)
	assert.Equal(t, []byte{0, 0, 0, 0}, last[0:4], "wheels must be stopped on exit")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for i := 1; i < len(pub.scans); i++ {
		assert.Greater(t, pub.scans[i].Seq, pub.scans[i-1].Seq)
	}
	assert.Equal(t, uint16(4095), pub.telemetry[0].Sensor.Proximity[0])
	assert.Positive(t, r.Stats().Good)
}

func TestRunnerSurvivesDeadBus(t *testing.T) {
	s := NewState(Options{Period: time.Millisecond})
	f := &bus.Fake{Reads: []bus.FakeRead{{Data: make([]byte, 10)}}}
	pub := &recordingPublisher{}
	r := NewRunner(s, f, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	n, _ := pub.counts()
	assert.Zero(t, n, "no scan may be built from short frames")
	st := r.Stats()
	assert.Positive(t, st.ShortReads)
	assert.Zero(t, st.Good)
}

// slowBus answers like a Fake but takes delay to complete each read, and
// records how many exchanges were ever in progress at once.
type slowBus struct {
	*bus.Fake
	delay time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (b *slowBus) SelectTarget(addr uint16) error {
	n := b.inflight.Add(1)
	for {
		m := b.maxInflight.Load()
		if n <= m || b.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	return b.Fake.SelectTarget(addr)
}

func (b *slowBus) Read(p []byte) (int, error) {
	defer b.inflight.Add(-1)
	time.Sleep(b.delay)
	return b.Fake.Read(p)
}

func TestRunnerDropsOverrunTicks(t *testing.T) {
	const (
		period = 10 * time.Millisecond
		delay  = 25 * time.Millisecond
		window = 200 * time.Millisecond
	)
	b := &slowBus{
		Fake:  &bus.Fake{Reads: []bus.FakeRead{{Data: sensorFrame(uniform(300))}}},
		delay: delay,
	}
	r := NewRunner(NewState(Options{Period: period}), b, &recordingPublisher{})

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	err := r.Run(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	st := r.Stats()
	assert.Equal(t, int32(1), b.maxInflight.Load(), "exchanges must never overlap")
	assert.Positive(t, st.Good)
	assert.Positive(t, st.Overruns)
	assert.Equal(t, st.Ticks, st.Overruns, "every exchange outlasted the period")
	// Late ticks are dropped, not queued: far fewer exchanges than periods.
	assert.Less(t, st.Ticks, uint64(window/period))
}

func TestSubmitLatestWins(t *testing.T) {
	r := NewRunner(NewState(Options{}), &bus.Fake{}, &recordingPublisher{})
	r.Submit(twist.Twist{LinearX: 0.1})
	r.Submit(twist.Twist{LinearX: 0.2})
	r.Submit(twist.Twist{AngularZ: 1})

	require.Len(t, r.cmds, 1)
	assert.Equal(t, twist.Twist{AngularZ: 1}, <-r.cmds)
}

func framesWithSteps(steps ...int16) []bus.FakeRead {
	reads := make([]bus.FakeRead, len(steps))
	for i, st := range steps {
		b := sensorFrame(uniform(0))
		binary.LittleEndian.PutUint16(b[41:], uint16(st))
		binary.LittleEndian.PutUint16(b[43:], uint16(st))
		reads[i] = bus.FakeRead{Data: b}
	}
	return reads
}

func TestRunnerTelemetryCarriesOdometry(t *testing.T) {
	f := &bus.Fake{Reads: framesWithSteps(100, 600, 1100)}
	pub := &recordingPublisher{}
	r := NewRunner(NewState(Options{}), f, pub)
	r.Telemetry = true

	r.tick()
	r.tick()
	r.tick()

	require.Len(t, pub.telemetry, 3)
	assert.Zero(t, pub.telemetry[0].Pose.X, "first frame only anchors the counters")
	assert.InDelta(t, 500*kinematics.StepDistance, pub.telemetry[1].Pose.X, 1e-12)
	assert.InDelta(t, 1000*kinematics.StepDistance, pub.telemetry[2].Pose.X, 1e-12)
	assert.InDelta(t, 0, pub.telemetry[2].Pose.Theta, 1e-12)
}
