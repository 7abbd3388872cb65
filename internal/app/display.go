package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/epuck_driver/internal/config"
	"github.com/relabs-tech/epuck_driver/internal/driver"
	"github.com/relabs-tech/epuck_driver/internal/mqttio"
	"github.com/relabs-tech/epuck_driver/internal/scan"
)

const (
	screenW = 128
	screenH = 64

	// Proximity bars occupy the bottom rows, one column group per bearing.
	barTop   = 42
	barWidth = screenW / scan.Points
)

// DisplayData holds the latest data for display
type DisplayData struct {
	mu sync.RWMutex

	scan     scan.Scan
	haveScan bool

	telemetry     driver.Telemetry
	haveTelemetry bool
}

func (d *DisplayData) snapshot() displaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return displaySnapshot{
		scan:          d.scan,
		haveScan:      d.haveScan,
		telemetry:     d.telemetry,
		haveTelemetry: d.haveTelemetry,
	}
}

type displaySnapshot struct {
	scan          scan.Scan
	haveScan      bool
	telemetry     driver.Telemetry
	haveTelemetry bool
}

func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", cfg.DisplayI2CBus, err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderSplash(), image.Point{}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	onScan := func(_ mqtt.Client, msg mqtt.Message) {
		var s scan.Scan
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("display: scan unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.scan = s
		data.haveScan = true
		data.mu.Unlock()
	}
	onTelemetry := func(_ mqtt.Client, msg mqtt.Message) {
		var t driver.Telemetry
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			log.Printf("display: telemetry unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.telemetry = t
		data.haveTelemetry = true
		data.mu.Unlock()
	}
	onConnect := func(c mqtt.Client) {
		if err := mqttio.Subscribe(c, cfg.TopicScan, onScan); err != nil {
			log.Printf("display: %v", err)
		}
		if cfg.TopicTelemetry == "" {
			return
		}
		if err := mqttio.Subscribe(c, cfg.TopicTelemetry, onTelemetry); err != nil {
			log.Printf("display: %v", err)
		}
	}

	client, err := mqttio.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay, onConnect)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// Display update loop
	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		img := renderStatus(data.snapshot())
		if err := dev.Draw(dev.Bounds(), img, image.Point{}); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func newScreen() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, screenW, screenH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func renderSplash() *image1bit.VerticalLSB {
	img, drawer := newScreen()

	drawer.Dot = fixed.P(30, 26)
	drawer.DrawBytes([]byte("e-puck2"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Waiting for"))

	drawer.Dot = fixed.P(25, 56)
	drawer.DrawBytes([]byte("driver"))

	return img
}

// renderStatus draws wheel registers and the nearest obstacle as text and
// the scan as a bar per bearing, taller for closer obstacles.
func renderStatus(d displaySnapshot) *image1bit.VerticalLSB {
	img, drawer := newScreen()

	if !d.haveScan {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Scan"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	drawer.Dot = fixed.P(0, 13)
	if d.haveTelemetry {
		drawer.DrawBytes([]byte(fmt.Sprintf("L%5d R%5d", d.telemetry.Left, d.telemetry.Right)))
	} else {
		drawer.DrawBytes([]byte(fmt.Sprintf("seq %d", d.scan.Seq)))
	}

	drawer.Dot = fixed.P(0, 26)
	if idx, dist, ok := scan.Nearest(d.scan); ok {
		deg := scan.Bearing(idx) * 180 / math.Pi
		drawer.DrawBytes([]byte(fmt.Sprintf("%3.0fmm %+4.0f deg", dist*1000, deg)))
	} else {
		drawer.DrawBytes([]byte("clear"))
	}

	drawer.Dot = fixed.P(0, 39)
	if d.scan.Stale {
		drawer.DrawBytes([]byte("STALE"))
	}

	drawScanBars(img, d.scan)
	return img
}

func drawScanBars(img *image1bit.VerticalLSB, s scan.Scan) {
	span := s.RangeMax - s.RangeMin
	if span <= 0 {
		return
	}
	maxH := screenH - barTop
	for i, r := range s.Ranges {
		if i >= scan.Points || r > s.RangeMax {
			continue
		}
		closeness := (s.RangeMax - r) / span
		if closeness > 1 {
			closeness = 1
		}
		h := 1 + int(closeness*float64(maxH-1))
		// Index 0 is the rightmost bearing; draw it on the right.
		x0 := (scan.Points - 1 - i) * barWidth
		for x := x0; x < x0+barWidth-1; x++ {
			for y := screenH - h; y < screenH; y++ {
				img.SetBit(x, y, image1bit.On)
			}
		}
	}
}
