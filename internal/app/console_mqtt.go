package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/epuck_driver/internal/config"
	"github.com/relabs-tech/epuck_driver/internal/driver"
	"github.com/relabs-tech/epuck_driver/internal/mqttio"
	"github.com/relabs-tech/epuck_driver/internal/scan"
)

// formatScan renders one scan as a single console line, ranges in mm with
// out-of-range bearings shown as "--".
func formatScan(s scan.Scan) string {
	var b strings.Builder
	tag := "SCAN"
	if s.Stale {
		tag = "STALE"
	}
	fmt.Fprintf(&b, "[%-5s] seq=%-6d", tag, s.Seq)
	for _, r := range s.Ranges {
		if r > s.RangeMax {
			b.WriteString("   --")
			continue
		}
		fmt.Fprintf(&b, " %4.0f", r*1000)
	}
	if idx, dist, ok := scan.Nearest(s); ok {
		fmt.Fprintf(&b, "  nearest %.0fmm @ %+.0f°", dist*1000, scan.Bearing(idx)*180/math.Pi)
	}
	return b.String()
}

func formatTelemetry(t driver.Telemetry) string {
	s := t.Sensor
	return fmt.Sprintf(
		"[TELEM] seq=%-6d wheels=%5d %5d  steps=%6d %6d  prox=%v  amb=%v  sel=%d btn=%d  good=%d stale=%d",
		t.Seq, t.Left, t.Right, s.LeftSteps, s.RightSteps, s.Proximity, s.Ambient,
		s.Selector, s.Button, t.Stats.Good, t.Stats.Stale,
	)
}

// throttledPrinter prints at most one line per interval per tag.
type throttledPrinter struct {
	out      io.Writer
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func (p *throttledPrinter) print(tag, line string) {
	t := p.now()
	if prev, ok := p.last[tag]; ok && t.Sub(prev) < p.interval {
		return
	}
	p.last[tag] = t
	fmt.Fprintln(p.out, line)
}

func RunConsoleMQTT() error {
	cfg := config.Get()

	// Paho delivers messages on one goroutine per client, so the printer
	// is never used concurrently.
	printer := &throttledPrinter{
		out:      os.Stdout,
		interval: time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}

	onScan := func(_ mqtt.Client, msg mqtt.Message) {
		var s scan.Scan
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("console: scan unmarshal error: %v", err)
			return
		}
		printer.print("scan", formatScan(s))
	}
	onTelemetry := func(_ mqtt.Client, msg mqtt.Message) {
		var t driver.Telemetry
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			log.Printf("console: telemetry unmarshal error: %v", err)
			return
		}
		printer.print("telemetry", formatTelemetry(t))
	}

	onConnect := func(c mqtt.Client) {
		if err := mqttio.Subscribe(c, cfg.TopicScan, onScan); err != nil {
			log.Printf("console: %v", err)
		}
		if cfg.TopicTelemetry == "" {
			return
		}
		if err := mqttio.Subscribe(c, cfg.TopicTelemetry, onTelemetry); err != nil {
			log.Printf("console: %v", err)
		}
	}

	client, err := mqttio.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole, onConnect)
	if err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
